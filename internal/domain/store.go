package domain

import (
	"context"
	"time"
)

// AccountStore persists the full user table as one snapshot.
type AccountStore interface {
	Load(ctx context.Context) ([]Account, error)
	Save(ctx context.Context, accounts []Account) error
}

// AuditEntry is a row of the append-only audit log.
type AuditEntry struct {
	ID        int64
	Event     string
	Username  string
	Detail    map[string]any
	CreatedAt time.Time
}

// ListOpts bounds a listing query. Zero fields do not filter.
type ListOpts struct {
	Limit    int
	Offset   int
	Since    *time.Time
	Until    *time.Time
	Event    string
	Username string
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}

// SnapshotRecord describes one off-site copy of the user table.
type SnapshotRecord struct {
	ObjectKey string
	Accounts  int
	Sealed    bool
	CreatedAt time.Time
}

// SnapshotLog remembers where user table backups were written.
type SnapshotLog interface {
	RecordSnapshot(ctx context.Context, rec SnapshotRecord) error
	// LatestSnapshot returns ErrNotFound when no backup was recorded.
	LatestSnapshot(ctx context.Context) (SnapshotRecord, error)
}
