package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/cryptowallet/internal/audit"
	"github.com/alanyoungcy/cryptowallet/internal/dispatch"
	"github.com/alanyoungcy/cryptowallet/internal/identity"
	"github.com/alanyoungcy/cryptowallet/internal/notify"
	"github.com/alanyoungcy/cryptowallet/internal/protocol"
	"github.com/alanyoungcy/cryptowallet/internal/quote"
	"github.com/alanyoungcy/cryptowallet/internal/server"
	"github.com/alanyoungcy/cryptowallet/internal/service"
)

// ServeMode loads the user table, starts the TCP server and its background
// workers, and blocks until ctx is cancelled or the server fails.
func (a *App) ServeMode(ctx context.Context, deps *Dependencies) error {
	accounts := identity.NewStore()
	loaded, err := deps.Accounts.Load(ctx)
	if err != nil {
		// A damaged users file must not keep the server down.
		a.logger.ErrorContext(ctx, "loading users failed, starting with an empty table",
			slog.String("error", err.Error()),
		)
	} else {
		accounts.Restore(loaded)
		a.logger.InfoContext(ctx, "users loaded", slog.Int("accounts", accounts.Len()))
	}

	g, ctx := errgroup.WithContext(ctx)

	// Audit log.
	var auditor dispatch.Auditor = audit.Discard{}
	if deps.AuditStore != nil {
		recorder := audit.NewRecorder(deps.AuditStore, a.cfg.Postgres.AuditBuffer, a.logger)
		auditor = recorder
		g.Go(func() error { return recorder.Run(ctx) })
	}

	// Snapshots and backups.
	var backups *service.Backup
	if deps.BlobWriter != nil {
		backups = service.NewBackup(deps.BlobWriter, deps.Sealer, deps.SnapshotLog, deps.Notifier, a.logger)
		g.Go(func() error { return backups.Run(ctx) })
	}
	snapshots := service.NewSnapshotService(deps.Accounts, backups, deps.Notifier, a.logger)

	// Price cache, warmed from the shared mirror when there is one.
	cache := quote.NewCache(
		quote.NewFetcher(deps.QuoteSource, a.cfg.Quotes.RequestTimeout.Duration),
		quote.Config{
			TTL:              a.cfg.Quotes.TTL.Duration,
			RefreshThreshold: a.cfg.Quotes.RefreshThreshold,
			ListingLimit:     a.cfg.Quotes.ListingLimit,
		},
		a.logger,
	)
	if deps.QuoteStore != nil {
		quotes, err := deps.QuoteStore.LoadQuotes(ctx)
		if err != nil {
			a.logger.WarnContext(ctx, "quote mirror unavailable, starting cold",
				slog.String("error", err.Error()),
			)
		} else {
			a.logger.InfoContext(ctx, "price cache warmed", slog.Int("quotes", cache.Warm(quotes)))
		}
	}

	dispatcher := dispatch.New(accounts, snapshots, auditor,
		dispatch.Options{Operators: a.cfg.Persistence.Operators}, a.logger)

	framing, err := protocol.ParseFraming(a.cfg.Server.Framing)
	if err != nil {
		return fmt.Errorf("app: %w", err)
	}
	srv := server.New(server.Config{
		Addr:          a.cfg.Server.Addr,
		Framing:       framing,
		MaxFrameBytes: a.cfg.Server.MaxFrameBytes,
		WriteTimeout:  a.cfg.Server.WriteTimeout.Duration,
		SendBuffer:    a.cfg.Server.SendBuffer,
		AsyncQuotes:   a.cfg.Server.AsyncQuotes,
		QuoteWorkers:  a.cfg.Server.QuoteWorkers,
		QuoteQueue:    a.cfg.Server.QuoteQueue,
	}, dispatcher, cache, a.logger)
	if err := srv.Listen(); err != nil {
		return err
	}
	a.logger.InfoContext(ctx, "wallet server listening",
		slog.String("addr", srv.Addr().String()),
		slog.String("framing", a.cfg.Server.Framing),
		slog.Bool("async_quotes", a.cfg.Server.AsyncQuotes),
	)

	if spec := strings.TrimSpace(a.cfg.Persistence.AutosaveCron); spec != "" {
		autosave, err := service.NewAutosave(spec, srv, accounts.Snapshot, snapshots, a.logger)
		if err != nil {
			srv.Stop()
			return fmt.Errorf("app: %w", err)
		}
		g.Go(func() error { return autosave.Run(ctx) })
	}

	g.Go(func() error {
		err := srv.Serve(ctx)
		if errors.Is(err, server.ErrServerClosed) {
			return nil
		}
		return err
	})

	return g.Wait()
}

// RestoreMode downloads a backup into the users file and exits. Run it while
// the server is stopped; a running server overwrites the file on its next
// save.
func (a *App) RestoreMode(ctx context.Context, deps *Dependencies) error {
	if deps.BlobReader == nil {
		return errors.New("app: restore mode needs s3 enabled")
	}

	restorer := service.NewRestorer(deps.BlobReader, deps.Sealer, deps.SnapshotLog, a.logger)
	key, n, err := restorer.Restore(ctx, a.cfg.Backup.RestoreKey, deps.Accounts)
	if err != nil {
		return fmt.Errorf("app: restore: %w", err)
	}

	a.logger.InfoContext(ctx, "users file restored",
		slog.String("object_key", key),
		slog.Int("accounts", n),
		slog.String("users_file", a.cfg.Persistence.UsersFile),
	)
	if err := deps.Notifier.Notify(ctx, notify.EventRestored, "Users restored",
		fmt.Sprintf("%d accounts from %s", n, key)); err != nil {
		a.logger.WarnContext(ctx, "restore alert failed", slog.String("error", err.Error()))
	}
	return nil
}
