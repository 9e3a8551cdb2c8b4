package app

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/alanyoungcy/cryptowallet/internal/config"
	"github.com/alanyoungcy/cryptowallet/internal/platform/coinapi"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestWireWithoutBackends(t *testing.T) {
	cfg := config.Defaults()
	cfg.Persistence.UsersFile = filepath.Join(t.TempDir(), "users.json")

	deps, cleanup, err := Wire(context.Background(), &cfg, quietLogger())
	if err != nil {
		t.Fatalf("Wire() error = %v", err)
	}
	defer cleanup()

	if deps.Accounts == nil {
		t.Error("Accounts = nil")
	}
	if _, ok := deps.QuoteSource.(*coinapi.Client); !ok {
		t.Errorf("QuoteSource = %T, want bare *coinapi.Client", deps.QuoteSource)
	}
	if deps.AuditStore != nil || deps.QuoteStore != nil || deps.BlobWriter != nil || deps.Sealer != nil {
		t.Errorf("disabled backends were wired: %+v", deps)
	}
	if deps.Notifier.Enabled() {
		t.Error("Notifier enabled without senders")
	}
}

func TestWireSealer(t *testing.T) {
	cfg := config.Defaults()
	cfg.Persistence.UsersFile = filepath.Join(t.TempDir(), "users.json")
	cfg.Backup.Passphrase = "pw"

	deps, cleanup, err := Wire(context.Background(), &cfg, quietLogger())
	if err != nil {
		t.Fatalf("Wire() error = %v", err)
	}
	defer cleanup()
	if deps.Sealer == nil {
		t.Error("Sealer = nil with a passphrase configured")
	}
}

func TestRestoreModeNeedsS3(t *testing.T) {
	cfg := config.Defaults()
	a := New(&cfg, quietLogger())
	if err := a.RestoreMode(context.Background(), &Dependencies{}); err == nil {
		t.Error("RestoreMode() error = nil")
	}
}
