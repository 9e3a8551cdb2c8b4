package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/robfig/cron/v3"

	"github.com/alanyoungcy/cryptowallet/internal/domain"
	"github.com/alanyoungcy/cryptowallet/internal/server"
)

// Submitter runs a task on the server's control loop.
type Submitter interface {
	Submit(ctx context.Context, task server.Task) error
}

// Autosave saves the user table on a cron schedule. The snapshot is taken on
// the control loop so it sees a consistent table.
type Autosave struct {
	cron     *cron.Cron
	loop     Submitter
	snapshot func() []domain.Account
	saver    *SnapshotService
	logger   *slog.Logger
}

// NewAutosave parses spec (standard five-field cron or a descriptor such as
// "@every 10m") and returns an Autosave that is not yet running.
func NewAutosave(spec string, loop Submitter, snapshot func() []domain.Account, saver *SnapshotService, logger *slog.Logger) (*Autosave, error) {
	a := &Autosave{
		cron:     cron.New(),
		loop:     loop,
		snapshot: snapshot,
		saver:    saver,
		logger:   logger.With(slog.String("component", "autosave")),
	}
	if _, err := a.cron.AddFunc(spec, func() { a.tick(context.Background()) }); err != nil {
		return nil, fmt.Errorf("autosave: schedule %q: %w", spec, err)
	}
	return a, nil
}

// Run starts the schedule and blocks until ctx is cancelled. A save already
// in progress is allowed to finish.
func (a *Autosave) Run(ctx context.Context) error {
	a.cron.Start()
	a.logger.InfoContext(ctx, "autosave started", slog.Int("entries", len(a.cron.Entries())))
	<-ctx.Done()
	<-a.cron.Stop().Done()
	return nil
}

func (a *Autosave) tick(ctx context.Context) {
	err := a.loop.Submit(ctx, func(ctx context.Context) {
		accounts := a.snapshot()
		if err := a.saver.SaveUsers(ctx, accounts); err != nil {
			a.logger.ErrorContext(ctx, "autosave failed", slog.String("error", err.Error()))
			return
		}
		a.logger.DebugContext(ctx, "autosave complete", slog.Int("accounts", len(accounts)))
	})
	if err != nil {
		a.logger.WarnContext(ctx, "autosave skipped", slog.String("error", err.Error()))
	}
}
