package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/cryptowallet/internal/domain"
)

// AuditStore implements domain.AuditStore and domain.SnapshotLog.
type AuditStore struct {
	pool *pgxpool.Pool
}

// NewAuditStore creates an AuditStore backed by the given pool.
func NewAuditStore(pool *pgxpool.Pool) *AuditStore {
	return &AuditStore{pool: pool}
}

// Log appends an entry. A "username" string in detail is also stored in its
// own column so entries can be listed per account.
func (s *AuditStore) Log(ctx context.Context, event string, detail map[string]any) error {
	if detail == nil {
		detail = map[string]any{}
	}
	detailJSON, err := json.Marshal(detail)
	if err != nil {
		return fmt.Errorf("postgres: marshal audit detail: %w", err)
	}

	var username *string
	if u, ok := detail["username"].(string); ok && u != "" {
		username = &u
	}

	const query = `INSERT INTO audit_log (event, username, detail) VALUES ($1, $2, $3)`
	if _, err := s.pool.Exec(ctx, query, event, username, detailJSON); err != nil {
		return fmt.Errorf("postgres: log audit event %s: %w", event, err)
	}
	return nil
}

// List returns entries newest first.
func (s *AuditStore) List(ctx context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	query, args := buildListQuery(opts)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list audit entries: %w", err)
	}
	defer rows.Close()

	var entries []domain.AuditEntry
	for rows.Next() {
		var (
			e          domain.AuditEntry
			username   *string
			detailJSON []byte
		)
		if err := rows.Scan(&e.ID, &e.Event, &username, &detailJSON, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan audit entry: %w", err)
		}
		if username != nil {
			e.Username = *username
		}
		if detailJSON != nil {
			if err := json.Unmarshal(detailJSON, &e.Detail); err != nil {
				return nil, fmt.Errorf("postgres: unmarshal audit detail: %w", err)
			}
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list audit entries rows: %w", err)
	}
	return entries, nil
}

func buildListQuery(opts domain.ListOpts) (string, []any) {
	var (
		where []string
		args  []any
	)
	add := func(clause string, arg any) {
		args = append(args, arg)
		where = append(where, fmt.Sprintf(clause, len(args)))
	}

	if opts.Since != nil {
		add("created_at >= $%d", *opts.Since)
	}
	if opts.Until != nil {
		add("created_at <= $%d", *opts.Until)
	}
	if opts.Event != "" {
		add("event = $%d", opts.Event)
	}
	if opts.Username != "" {
		add("username = $%d", opts.Username)
	}

	var b strings.Builder
	b.WriteString("SELECT id, event, username, detail, created_at FROM audit_log")
	if len(where) > 0 {
		b.WriteString(" WHERE ")
		b.WriteString(strings.Join(where, " AND "))
	}
	b.WriteString(" ORDER BY created_at DESC, id DESC")
	if opts.Limit > 0 {
		args = append(args, opts.Limit)
		fmt.Fprintf(&b, " LIMIT $%d", len(args))
	}
	if opts.Offset > 0 {
		args = append(args, opts.Offset)
		fmt.Fprintf(&b, " OFFSET $%d", len(args))
	}
	return b.String(), args
}

// RecordSnapshot remembers a completed backup.
func (s *AuditStore) RecordSnapshot(ctx context.Context, rec domain.SnapshotRecord) error {
	const query = `INSERT INTO snapshot_log (object_key, accounts, sealed) VALUES ($1, $2, $3)`
	if _, err := s.pool.Exec(ctx, query, rec.ObjectKey, rec.Accounts, rec.Sealed); err != nil {
		return fmt.Errorf("postgres: record snapshot %s: %w", rec.ObjectKey, err)
	}
	return nil
}

// LatestSnapshot returns the most recent backup.
func (s *AuditStore) LatestSnapshot(ctx context.Context) (domain.SnapshotRecord, error) {
	const query = `SELECT object_key, accounts, sealed, created_at FROM snapshot_log ORDER BY created_at DESC, id DESC LIMIT 1`
	var rec domain.SnapshotRecord
	err := s.pool.QueryRow(ctx, query).Scan(&rec.ObjectKey, &rec.Accounts, &rec.Sealed, &rec.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.SnapshotRecord{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.SnapshotRecord{}, fmt.Errorf("postgres: latest snapshot: %w", err)
	}
	return rec, nil
}

// Compile-time interface checks.
var (
	_ domain.AuditStore  = (*AuditStore)(nil)
	_ domain.SnapshotLog = (*AuditStore)(nil)
)
