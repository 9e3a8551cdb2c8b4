package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/alanyoungcy/cryptowallet/internal/crypto"
	"github.com/alanyoungcy/cryptowallet/internal/domain"
	"github.com/alanyoungcy/cryptowallet/internal/store/userfile"
)

// maxSnapshotBytes bounds how much of a backup object is read.
const maxSnapshotBytes = 64 << 20

// Restorer brings a backed-up user table back into an AccountStore.
type Restorer struct {
	reader domain.BlobReader
	sealer *crypto.Sealer
	log    domain.SnapshotLog
	logger *slog.Logger
}

// NewRestorer creates a Restorer. sealer is required only for sealed
// snapshots; log may be nil, in which case the newest object is found by
// listing the bucket.
func NewRestorer(reader domain.BlobReader, sealer *crypto.Sealer, log domain.SnapshotLog, logger *slog.Logger) *Restorer {
	return &Restorer{
		reader: reader,
		sealer: sealer,
		log:    log,
		logger: logger.With(slog.String("component", "restorer")),
	}
}

// Latest returns the object key of the newest snapshot.
func (r *Restorer) Latest(ctx context.Context) (string, error) {
	if r.log != nil {
		rec, err := r.log.LatestSnapshot(ctx)
		switch {
		case err == nil:
			return rec.ObjectKey, nil
		case !errors.Is(err, domain.ErrNotFound):
			return "", fmt.Errorf("restorer: latest snapshot: %w", err)
		}
	}

	infos, err := r.reader.List(ctx, backupPrefix)
	if err != nil {
		return "", fmt.Errorf("restorer: list snapshots: %w", err)
	}
	var newest *domain.BlobInfo
	for i := range infos {
		info := &infos[i]
		if newest == nil ||
			info.LastModified.After(newest.LastModified) ||
			(info.LastModified.Equal(newest.LastModified) && info.Path > newest.Path) {
			newest = info
		}
	}
	if newest == nil {
		return "", fmt.Errorf("restorer: no snapshots: %w", domain.ErrNotFound)
	}
	return newest.Path, nil
}

// Fetch downloads and decodes the snapshot at key.
func (r *Restorer) Fetch(ctx context.Context, key string) ([]domain.Account, error) {
	body, err := r.reader.Get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("restorer: %w", err)
	}
	defer body.Close()

	data, err := io.ReadAll(io.LimitReader(body, maxSnapshotBytes))
	if err != nil {
		return nil, fmt.Errorf("restorer: read %s: %w", key, err)
	}

	if isSealedKey(key) {
		if r.sealer == nil {
			return nil, fmt.Errorf("restorer: %s is sealed and no passphrase is configured", key)
		}
		if data, err = r.sealer.Open(data); err != nil {
			return nil, fmt.Errorf("restorer: open %s: %w", key, err)
		}
	}

	accounts, err := userfile.Decode(data)
	if err != nil {
		return nil, fmt.Errorf("restorer: %s: %w", key, err)
	}
	return accounts, nil
}

// Restore writes the snapshot at key into dst. An empty key selects the
// newest snapshot. It returns the key used and the number of accounts.
func (r *Restorer) Restore(ctx context.Context, key string, dst domain.AccountStore) (string, int, error) {
	if key == "" {
		latest, err := r.Latest(ctx)
		if err != nil {
			return "", 0, err
		}
		key = latest
	}

	accounts, err := r.Fetch(ctx, key)
	if err != nil {
		return key, 0, err
	}
	if err := dst.Save(ctx, accounts); err != nil {
		return key, 0, fmt.Errorf("restorer: save: %w", err)
	}

	r.logger.InfoContext(ctx, "snapshot restored",
		slog.String("object_key", key),
		slog.Int("accounts", len(accounts)),
	)
	return key, len(accounts), nil
}
