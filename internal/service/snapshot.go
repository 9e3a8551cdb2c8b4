// Package service holds the user-table snapshot workflow: saving to disk,
// off-site backup, scheduled autosave and restore.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/cryptowallet/internal/domain"
	"github.com/alanyoungcy/cryptowallet/internal/notify"
)

// SnapshotService writes the user table to its AccountStore and hands a copy
// to the backup queue. It implements dispatch.Saver.
type SnapshotService struct {
	store    domain.AccountStore
	backups  *Backup
	notifier *notify.Notifier
	logger   *slog.Logger
}

// NewSnapshotService creates a SnapshotService. backups and notifier may be
// nil.
func NewSnapshotService(
	store domain.AccountStore,
	backups *Backup,
	notifier *notify.Notifier,
	logger *slog.Logger,
) *SnapshotService {
	return &SnapshotService{
		store:    store,
		backups:  backups,
		notifier: notifier,
		logger:   logger.With(slog.String("component", "snapshot_service")),
	}
}

// SaveUsers persists accounts. The local write is synchronous; the backup
// and the alert happen in the background.
func (s *SnapshotService) SaveUsers(ctx context.Context, accounts []domain.Account) error {
	if err := s.store.Save(ctx, accounts); err != nil {
		return fmt.Errorf("snapshot_service: save users: %w", err)
	}

	if s.backups != nil && !s.backups.Enqueue(accounts) {
		s.logger.WarnContext(ctx, "snapshot_service: backup superseded by newer snapshot")
	}

	if s.notifier.Enabled() {
		go func() {
			nctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 15*time.Second)
			defer cancel()
			_ = s.notifier.Notify(nctx, notify.EventUsersSaved, "Users saved",
				fmt.Sprintf("%d accounts written", len(accounts)))
		}()
	}
	return nil
}
