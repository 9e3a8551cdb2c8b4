package postgres_test

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/alanyoungcy/cryptowallet/internal/domain"
	"github.com/alanyoungcy/cryptowallet/internal/store/postgres"
)

// newClient connects to WALLETD_TEST_POSTGRES_DSN or skips the test.
func newClient(t *testing.T) *postgres.Client {
	t.Helper()
	dsn := os.Getenv("WALLETD_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("WALLETD_TEST_POSTGRES_DSN not set")
	}
	ctx := context.Background()
	c, err := postgres.New(ctx, postgres.ClientConfig{DSN: dsn})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(c.Close)
	if err := c.RunMigrations(ctx); err != nil {
		t.Fatalf("RunMigrations() error = %v", err)
	}
	if _, err := c.Pool().Exec(ctx, "TRUNCATE audit_log, snapshot_log"); err != nil {
		t.Fatalf("truncate: %v", err)
	}
	return c
}

func TestAuditStore(t *testing.T) {
	c := newClient(t)
	store := postgres.NewAuditStore(c.Pool())
	ctx := context.Background()

	if err := c.RunMigrations(ctx); err != nil {
		t.Fatalf("second RunMigrations() error = %v", err)
	}

	if err := store.Log(ctx, "registered", map[string]any{"username": "alice"}); err != nil {
		t.Fatalf("Log() error = %v", err)
	}
	if err := store.Log(ctx, "deposited", map[string]any{"username": "bob", "amount": "5"}); err != nil {
		t.Fatalf("Log() error = %v", err)
	}
	if err := store.Log(ctx, "users_saved", nil); err != nil {
		t.Fatalf("Log() error = %v", err)
	}

	all, err := store.List(ctx, domain.ListOpts{})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(all) != 3 || all[0].Event != "users_saved" {
		t.Fatalf("List() = %+v", all)
	}

	bob, err := store.List(ctx, domain.ListOpts{Username: "bob"})
	if err != nil {
		t.Fatalf("List(bob) error = %v", err)
	}
	if len(bob) != 1 || bob[0].Detail["amount"] != "5" {
		t.Errorf("List(bob) = %+v", bob)
	}
}

func TestSnapshotLog(t *testing.T) {
	c := newClient(t)
	store := postgres.NewAuditStore(c.Pool())
	ctx := context.Background()

	if _, err := store.LatestSnapshot(ctx); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("LatestSnapshot() on empty log error = %v, want %v", err, domain.ErrNotFound)
	}
	for _, key := range []string{"a.json", "b.json.sealed"} {
		if err := store.RecordSnapshot(ctx, domain.SnapshotRecord{ObjectKey: key, Accounts: 2}); err != nil {
			t.Fatalf("RecordSnapshot() error = %v", err)
		}
	}
	rec, err := store.LatestSnapshot(ctx)
	if err != nil {
		t.Fatalf("LatestSnapshot() error = %v", err)
	}
	if rec.ObjectKey != "b.json.sealed" {
		t.Errorf("LatestSnapshot().ObjectKey = %q", rec.ObjectKey)
	}
}
