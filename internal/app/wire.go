package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	s3blob "github.com/alanyoungcy/cryptowallet/internal/blob/s3"
	"github.com/alanyoungcy/cryptowallet/internal/cache/redis"
	"github.com/alanyoungcy/cryptowallet/internal/config"
	"github.com/alanyoungcy/cryptowallet/internal/crypto"
	"github.com/alanyoungcy/cryptowallet/internal/domain"
	"github.com/alanyoungcy/cryptowallet/internal/notify"
	"github.com/alanyoungcy/cryptowallet/internal/platform/coinapi"
	"github.com/alanyoungcy/cryptowallet/internal/quote"
	"github.com/alanyoungcy/cryptowallet/internal/store/postgres"
	"github.com/alanyoungcy/cryptowallet/internal/store/userfile"
)

// quotaKey names the shared upstream quota in redis.
const quotaKey = "coinapi"

// Dependencies bundles the concrete implementations the modes run on. Every
// optional backend is nil when disabled in the configuration.
type Dependencies struct {
	// Persistence
	Accounts    domain.AccountStore
	AuditStore  domain.AuditStore
	SnapshotLog domain.SnapshotLog

	// Quotes
	QuoteSource quote.Source
	QuoteStore  domain.QuoteStore
	RateLimiter domain.RateLimiter

	// Blob storage
	BlobWriter domain.BlobWriter
	BlobReader domain.BlobReader
	Sealer     *crypto.Sealer

	// Notifications
	Notifier *notify.Notifier
}

// Wire constructs all concrete dependency implementations from cfg and
// returns them together with a cleanup function that releases them in
// reverse order.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(what string, err error) (*Dependencies, func(), error) {
		cleanup()
		return nil, nil, fmt.Errorf("wire: %s: %w", what, err)
	}

	deps := &Dependencies{
		Accounts: userfile.New(cfg.Persistence.UsersFile),
	}

	// --- PostgreSQL (audit log and snapshot log) ---
	if cfg.Postgres.Enabled {
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Postgres.DSN,
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			Database: cfg.Postgres.Database,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			SSLMode:  cfg.Postgres.SSLMode,
			MaxConns: cfg.Postgres.PoolMaxConns,
			MinConns: cfg.Postgres.PoolMinConns,
		})
		if err != nil {
			return fail("postgres", err)
		}
		closers = append(closers, pgClient.Close)

		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				return fail("postgres migrations", err)
			}
		}

		auditStore := postgres.NewAuditStore(pgClient.Pool())
		deps.AuditStore = auditStore
		deps.SnapshotLog = auditStore
		logger.InfoContext(ctx, "postgres connected")
	}

	// --- Redis (quote mirror and upstream quota) ---
	if cfg.Redis.Enabled {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
			KeyPrefix:  cfg.Redis.KeyPrefix,
		})
		if err != nil {
			return fail("redis", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		deps.QuoteStore = redis.NewQuoteStore(redisClient, cfg.Redis.QuoteRetention.Duration)
		deps.RateLimiter = redis.NewRateLimiter(redisClient)
		logger.InfoContext(ctx, "redis connected", slog.String("addr", cfg.Redis.Addr))
	}

	// --- Quote source: coinapi, then quota, then mirror ---
	var source quote.Source = coinapi.NewClient(cfg.Quotes.BaseURL, cfg.Quotes.APIKey, cfg.Quotes.RequestTimeout.Duration)
	if deps.RateLimiter != nil && cfg.Quotes.QuotaLimit > 0 {
		source = quote.NewLimitedSource(source, deps.RateLimiter, quotaKey,
			cfg.Quotes.QuotaLimit, cfg.Quotes.QuotaWindow.Duration, logger)
	}
	if deps.QuoteStore != nil {
		source = quote.NewMirroredSource(source, deps.QuoteStore, cfg.Quotes.ListingLimit, logger)
	}
	deps.QuoteSource = source

	// --- S3 (snapshot backups) ---
	if cfg.S3.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			Prefix:         cfg.S3.Prefix,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			return fail("s3", err)
		}
		if err := s3Client.Health(ctx); err != nil {
			logger.WarnContext(ctx, "s3 health check failed, backups may fail",
				slog.String("error", err.Error()),
			)
		}
		deps.BlobWriter = s3blob.NewWriter(s3Client, 0)
		deps.BlobReader = s3blob.NewReader(s3Client)
		logger.InfoContext(ctx, "s3 configured", slog.String("bucket", s3Client.Bucket()))
	}

	if cfg.Backup.Passphrase != "" {
		sealer, err := crypto.NewSealer(cfg.Backup.Passphrase, cfg.Backup.Iterations)
		if err != nil {
			return fail("backup sealer", err)
		}
		deps.Sealer = sealer
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(cfg.Notify.TelegramAPI, cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID))
	}
	if strings.TrimSpace(cfg.Notify.DiscordWebhookURL) != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	return deps, cleanup, nil
}
