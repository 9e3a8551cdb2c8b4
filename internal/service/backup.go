package service

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/cryptowallet/internal/crypto"
	"github.com/alanyoungcy/cryptowallet/internal/domain"
	"github.com/alanyoungcy/cryptowallet/internal/notify"
	"github.com/alanyoungcy/cryptowallet/internal/store/userfile"
)

const (
	backupPrefix = "users-"
	plainSuffix  = ".json"
	sealedSuffix = ".json.sealed"
)

// Backup uploads user-table snapshots to object storage from its own
// goroutine. Only the newest pending snapshot is kept: a snapshot queued
// while another waits replaces it.
type Backup struct {
	writer   domain.BlobWriter
	sealer   *crypto.Sealer
	log      domain.SnapshotLog
	notifier *notify.Notifier
	pending  chan []domain.Account
	now      func() time.Time
	logger   *slog.Logger
}

// NewBackup creates a Backup. sealer, log and notifier may be nil; without a
// sealer snapshots are uploaded in the clear.
func NewBackup(
	writer domain.BlobWriter,
	sealer *crypto.Sealer,
	log domain.SnapshotLog,
	notifier *notify.Notifier,
	logger *slog.Logger,
) *Backup {
	return &Backup{
		writer:   writer,
		sealer:   sealer,
		log:      log,
		notifier: notifier,
		pending:  make(chan []domain.Account, 1),
		now:      time.Now,
		logger:   logger.With(slog.String("component", "backup")),
	}
}

// Enqueue schedules accounts for upload. It returns false when an older
// pending snapshot was replaced. Enqueue never blocks and expects a single
// producer.
func (b *Backup) Enqueue(accounts []domain.Account) bool {
	select {
	case b.pending <- accounts:
		return true
	default:
	}
	select {
	case <-b.pending:
	default:
	}
	select {
	case b.pending <- accounts:
	default:
	}
	return false
}

// Run uploads queued snapshots until ctx is cancelled.
func (b *Backup) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case accounts := <-b.pending:
			rec, err := b.Upload(ctx, accounts)
			if err != nil {
				b.logger.ErrorContext(ctx, "backup failed", slog.String("error", err.Error()))
				b.alert(ctx, notify.EventBackupFailed, "Backup failed", err.Error())
				continue
			}
			b.logger.InfoContext(ctx, "backup uploaded",
				slog.String("object_key", rec.ObjectKey),
				slog.Int("accounts", rec.Accounts),
				slog.Bool("sealed", rec.Sealed),
			)
			b.alert(ctx, notify.EventBackupUploaded, "Backup uploaded",
				fmt.Sprintf("%d accounts to %s", rec.Accounts, rec.ObjectKey))
		}
	}
}

// Upload encodes, optionally seals, and writes one snapshot, then records it
// in the snapshot log.
func (b *Backup) Upload(ctx context.Context, accounts []domain.Account) (domain.SnapshotRecord, error) {
	payload, err := userfile.Encode(accounts)
	if err != nil {
		return domain.SnapshotRecord{}, fmt.Errorf("backup: %w", err)
	}

	rec := domain.SnapshotRecord{
		Accounts:  len(accounts),
		Sealed:    b.sealer != nil,
		CreatedAt: b.now().UTC(),
	}
	suffix := plainSuffix
	if rec.Sealed {
		if payload, err = b.sealer.Seal(payload); err != nil {
			return domain.SnapshotRecord{}, fmt.Errorf("backup: seal: %w", err)
		}
		suffix = sealedSuffix
	}
	rec.ObjectKey = objectKey(rec.CreatedAt, suffix)

	if err := b.writer.Put(ctx, rec.ObjectKey, bytes.NewReader(payload), "application/json"); err != nil {
		return domain.SnapshotRecord{}, fmt.Errorf("backup: put %s: %w", rec.ObjectKey, err)
	}

	if b.log != nil {
		if err := b.log.RecordSnapshot(ctx, rec); err != nil {
			// The object is already stored; restore can still find it by listing.
			b.logger.WarnContext(ctx, "backup: record snapshot failed",
				slog.String("object_key", rec.ObjectKey),
				slog.String("error", err.Error()),
			)
		}
	}
	return rec, nil
}

func (b *Backup) alert(ctx context.Context, event, title, message string) {
	if !b.notifier.Enabled() {
		return
	}
	nctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 15*time.Second)
	defer cancel()
	_ = b.notifier.Notify(nctx, event, title, message)
}

// objectKey names a snapshot so that keys sort by creation time.
func objectKey(at time.Time, suffix string) string {
	id := strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
	return backupPrefix + at.Format("20060102T150405Z") + "-" + id + suffix
}

func isSealedKey(key string) bool {
	return strings.HasSuffix(key, sealedSuffix)
}
