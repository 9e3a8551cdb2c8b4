package service

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/cryptowallet/internal/crypto"
	"github.com/alanyoungcy/cryptowallet/internal/domain"
	"github.com/alanyoungcy/cryptowallet/internal/server"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type memBlobs struct {
	mu      sync.Mutex
	objects map[string][]byte
	times   map[string]time.Time
	putErr  error
}

func newMemBlobs() *memBlobs {
	return &memBlobs{objects: map[string][]byte{}, times: map[string]time.Time{}}
}

func (m *memBlobs) Put(_ context.Context, path string, data io.Reader, _ string) error {
	if m.putErr != nil {
		return m.putErr
	}
	b, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[path] = b
	m.times[path] = time.Now()
	return nil
}

func (m *memBlobs) Get(_ context.Context, path string) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.objects[path]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(b)), nil
}

func (m *memBlobs) List(_ context.Context, prefix string) ([]domain.BlobInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.BlobInfo
	for k, b := range m.objects {
		if strings.HasPrefix(k, prefix) {
			out = append(out, domain.BlobInfo{Path: k, Size: int64(len(b)), LastModified: m.times[k]})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

func (m *memBlobs) keys() []string {
	infos, _ := m.List(context.Background(), "")
	keys := make([]string, 0, len(infos))
	for _, i := range infos {
		keys = append(keys, i.Path)
	}
	return keys
}

type memAccounts struct {
	mu       sync.Mutex
	accounts []domain.Account
	saves    int
	err      error
}

func (m *memAccounts) Load(context.Context) ([]domain.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.accounts, nil
}

func (m *memAccounts) Save(_ context.Context, accounts []domain.Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.accounts = accounts
	m.saves++
	return nil
}

func (m *memAccounts) saveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves
}

type memSnapshotLog struct {
	mu   sync.Mutex
	recs []domain.SnapshotRecord
}

func (m *memSnapshotLog) RecordSnapshot(_ context.Context, rec domain.SnapshotRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recs = append(m.recs, rec)
	return nil
}

func (m *memSnapshotLog) LatestSnapshot(context.Context) (domain.SnapshotRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.recs) == 0 {
		return domain.SnapshotRecord{}, domain.ErrNotFound
	}
	return m.recs[len(m.recs)-1], nil
}

func sampleAccounts() []domain.Account {
	alice := domain.Account{Username: "alice", PasswordDigest: "x", Balance: decimal.RequireFromString("70")}
	alice.Holdings.Add("BTC", decimal.RequireFromString("0.5"), decimal.RequireFromString("30"))
	bob := domain.Account{Username: "bob", PasswordDigest: "y", Balance: decimal.RequireFromString("5")}
	return []domain.Account{alice, bob}
}

func TestBackupUploadAndRestoreSealed(t *testing.T) {
	blobs := newMemBlobs()
	log := &memSnapshotLog{}
	sealer, err := crypto.NewSealer("pw", 1000)
	if err != nil {
		t.Fatalf("NewSealer() error = %v", err)
	}

	b := NewBackup(blobs, sealer, log, nil, quietLogger())
	rec, err := b.Upload(context.Background(), sampleAccounts())
	if err != nil {
		t.Fatalf("Upload() error = %v", err)
	}
	if !rec.Sealed || rec.Accounts != 2 || !strings.HasSuffix(rec.ObjectKey, sealedSuffix) {
		t.Errorf("record = %+v", rec)
	}
	if bytes.Contains(blobs.objects[rec.ObjectKey], []byte("alice")) {
		t.Error("sealed object contains plaintext")
	}

	dst := &memAccounts{}
	r := NewRestorer(blobs, sealer, log, quietLogger())
	key, n, err := r.Restore(context.Background(), "", dst)
	if err != nil {
		t.Fatalf("Restore() error = %v", err)
	}
	if key != rec.ObjectKey || n != 2 {
		t.Errorf("Restore() = %q, %d", key, n)
	}
	got, _ := dst.Load(context.Background())
	pos, ok := got[0].Holdings.Get("BTC")
	if got[0].Username != "alice" || !ok || !pos.Quantity.Equal(decimal.RequireFromString("0.5")) {
		t.Errorf("restored accounts = %+v", got)
	}
}

func TestRestoreSealedWithoutPassphrase(t *testing.T) {
	blobs := newMemBlobs()
	sealer, _ := crypto.NewSealer("pw", 1000)
	rec, err := NewBackup(blobs, sealer, nil, nil, quietLogger()).Upload(context.Background(), sampleAccounts())
	if err != nil {
		t.Fatalf("Upload() error = %v", err)
	}

	r := NewRestorer(blobs, nil, nil, quietLogger())
	if _, err := r.Fetch(context.Background(), rec.ObjectKey); err == nil {
		t.Error("Fetch() error = nil, want passphrase error")
	}
}

func TestRestorerLatestByListing(t *testing.T) {
	blobs := newMemBlobs()
	b := NewBackup(blobs, nil, nil, nil, quietLogger())
	base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	b.now = func() time.Time { return base }
	first, _ := b.Upload(context.Background(), sampleAccounts())
	b.now = func() time.Time { return base.Add(time.Hour) }
	second, _ := b.Upload(context.Background(), sampleAccounts()[:1])

	blobs.times[first.ObjectKey] = base
	blobs.times[second.ObjectKey] = base.Add(time.Hour)

	r := NewRestorer(blobs, nil, nil, quietLogger())
	key, err := r.Latest(context.Background())
	if err != nil {
		t.Fatalf("Latest() error = %v", err)
	}
	if key != second.ObjectKey {
		t.Errorf("Latest() = %q, want %q", key, second.ObjectKey)
	}
	if !strings.HasPrefix(key, "users-20260102T040405Z-") || !strings.HasSuffix(key, plainSuffix) {
		t.Errorf("object key = %q", key)
	}
}

func TestRestorerNoSnapshots(t *testing.T) {
	r := NewRestorer(newMemBlobs(), nil, &memSnapshotLog{}, quietLogger())
	if _, _, err := r.Restore(context.Background(), "", &memAccounts{}); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("Restore() error = %v, want ErrNotFound", err)
	}
}

func TestBackupEnqueueKeepsNewest(t *testing.T) {
	b := NewBackup(newMemBlobs(), nil, nil, nil, quietLogger())
	all := sampleAccounts()

	if !b.Enqueue(all) {
		t.Error("first Enqueue() = false")
	}
	if b.Enqueue(all[:1]) {
		t.Error("second Enqueue() = true, want superseded")
	}
	if got := <-b.pending; len(got) != 1 {
		t.Errorf("pending snapshot has %d accounts, want 1", len(got))
	}
}

func TestBackupRunUploadsQueued(t *testing.T) {
	blobs := newMemBlobs()
	b := NewBackup(blobs, nil, nil, nil, quietLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- b.Run(ctx) }()

	b.Enqueue(sampleAccounts())
	deadline := time.Now().Add(2 * time.Second)
	for len(blobs.keys()) == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(blobs.keys()) != 1 {
		t.Errorf("uploaded %d objects, want 1", len(blobs.keys()))
	}
}

func TestSnapshotServiceSaveUsers(t *testing.T) {
	store := &memAccounts{}
	blobs := newMemBlobs()
	backups := NewBackup(blobs, nil, nil, nil, quietLogger())
	svc := NewSnapshotService(store, backups, nil, quietLogger())

	if err := svc.SaveUsers(context.Background(), sampleAccounts()); err != nil {
		t.Fatalf("SaveUsers() error = %v", err)
	}
	if store.saveCount() != 1 {
		t.Errorf("store saves = %d, want 1", store.saveCount())
	}
	select {
	case got := <-backups.pending:
		if len(got) != 2 {
			t.Errorf("queued %d accounts, want 2", len(got))
		}
	default:
		t.Error("no backup queued")
	}

	store.err = errors.New("disk full")
	if err := svc.SaveUsers(context.Background(), sampleAccounts()); err == nil {
		t.Error("SaveUsers() error = nil, want disk full")
	}
	select {
	case <-backups.pending:
		t.Error("backup queued after failed save")
	default:
	}
}

// inlineLoop runs submitted tasks immediately.
type inlineLoop struct {
	err error
}

func (l inlineLoop) Submit(ctx context.Context, task server.Task) error {
	if l.err != nil {
		return l.err
	}
	task(ctx)
	return nil
}

func TestAutosave(t *testing.T) {
	store := &memAccounts{}
	svc := NewSnapshotService(store, nil, nil, quietLogger())

	a, err := NewAutosave("@every 1h", inlineLoop{}, sampleAccounts, svc, quietLogger())
	if err != nil {
		t.Fatalf("NewAutosave() error = %v", err)
	}
	a.tick(context.Background())
	if store.saveCount() != 1 {
		t.Errorf("saves = %d, want 1", store.saveCount())
	}

	stopped, _ := NewAutosave("@every 1h", inlineLoop{err: server.ErrServerClosed}, sampleAccounts, svc, quietLogger())
	stopped.tick(context.Background())
	if store.saveCount() != 1 {
		t.Errorf("saves after closed loop = %d, want 1", store.saveCount())
	}
}

func TestAutosaveBadSchedule(t *testing.T) {
	svc := NewSnapshotService(&memAccounts{}, nil, nil, quietLogger())
	if _, err := NewAutosave("every tuesday", inlineLoop{}, sampleAccounts, svc, quietLogger()); err == nil {
		t.Error("NewAutosave() error = nil")
	}
}

func TestAutosaveRunStops(t *testing.T) {
	svc := NewSnapshotService(&memAccounts{}, nil, nil, quietLogger())
	a, err := NewAutosave("@every 1h", inlineLoop{}, sampleAccounts, svc, quietLogger())
	if err != nil {
		t.Fatalf("NewAutosave() error = %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run() error = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run() did not return after cancel")
	}
}
