package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads the TOML file at path over the defaults, loads .env if present,
// and applies WALLETD_* overrides. A missing file is not an error. The result
// is not validated.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("config: decode %s: %w", path, err)
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides overwrites fields whose WALLETD_* variable is set and
// non-empty, so secrets can be injected at deploy time.
func applyEnvOverrides(cfg *Config) {
	// ── Server ──
	setStr(&cfg.Server.Addr, "WALLETD_SERVER_ADDR")
	setStr(&cfg.Server.Framing, "WALLETD_SERVER_FRAMING")
	setInt(&cfg.Server.MaxFrameBytes, "WALLETD_SERVER_MAX_FRAME_BYTES")
	setDuration(&cfg.Server.WriteTimeout, "WALLETD_SERVER_WRITE_TIMEOUT")
	setInt(&cfg.Server.SendBuffer, "WALLETD_SERVER_SEND_BUFFER")
	setBool(&cfg.Server.AsyncQuotes, "WALLETD_SERVER_ASYNC_QUOTES")
	setInt(&cfg.Server.QuoteWorkers, "WALLETD_SERVER_QUOTE_WORKERS")
	setInt(&cfg.Server.QuoteQueue, "WALLETD_SERVER_QUOTE_QUEUE")

	// ── Quotes ──
	setStr(&cfg.Quotes.BaseURL, "WALLETD_QUOTES_BASE_URL")
	setStr(&cfg.Quotes.APIKey, "WALLETD_QUOTES_API_KEY")
	setStr(&cfg.Quotes.APIKey, "COINAPI_KEY") // compatibility alias
	setDuration(&cfg.Quotes.RequestTimeout, "WALLETD_QUOTES_REQUEST_TIMEOUT")
	setDuration(&cfg.Quotes.TTL, "WALLETD_QUOTES_TTL")
	setInt(&cfg.Quotes.RefreshThreshold, "WALLETD_QUOTES_REFRESH_THRESHOLD")
	setInt(&cfg.Quotes.ListingLimit, "WALLETD_QUOTES_LISTING_LIMIT")
	setInt(&cfg.Quotes.QuotaLimit, "WALLETD_QUOTES_QUOTA_LIMIT")
	setDuration(&cfg.Quotes.QuotaWindow, "WALLETD_QUOTES_QUOTA_WINDOW")

	// ── Persistence ──
	setStr(&cfg.Persistence.UsersFile, "WALLETD_PERSISTENCE_USERS_FILE")
	setStr(&cfg.Persistence.AutosaveCron, "WALLETD_PERSISTENCE_AUTOSAVE_CRON")
	setStringSlice(&cfg.Persistence.Operators, "WALLETD_PERSISTENCE_OPERATORS")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "WALLETD_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "WALLETD_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "WALLETD_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "WALLETD_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "WALLETD_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "WALLETD_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "WALLETD_REDIS_TLS_ENABLED")
	setStr(&cfg.Redis.KeyPrefix, "WALLETD_REDIS_KEY_PREFIX")
	setDuration(&cfg.Redis.QuoteRetention, "WALLETD_REDIS_QUOTE_RETENTION")

	// ── Postgres ──
	setBool(&cfg.Postgres.Enabled, "WALLETD_POSTGRES_ENABLED")
	setStr(&cfg.Postgres.DSN, "WALLETD_POSTGRES_DSN")
	setStr(&cfg.Postgres.DSN, "DATABASE_URL") // compatibility alias
	setStr(&cfg.Postgres.Host, "WALLETD_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "WALLETD_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "WALLETD_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "WALLETD_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "WALLETD_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "WALLETD_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "WALLETD_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "WALLETD_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "WALLETD_POSTGRES_RUN_MIGRATIONS")
	setInt(&cfg.Postgres.AuditBuffer, "WALLETD_POSTGRES_AUDIT_BUFFER")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "WALLETD_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "WALLETD_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "WALLETD_S3_REGION")
	setStr(&cfg.S3.Bucket, "WALLETD_S3_BUCKET")
	setStr(&cfg.S3.Prefix, "WALLETD_S3_PREFIX")
	setStr(&cfg.S3.AccessKey, "WALLETD_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "WALLETD_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "WALLETD_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "WALLETD_S3_FORCE_PATH_STYLE")

	// ── Backup ──
	setStr(&cfg.Backup.Passphrase, "WALLETD_BACKUP_PASSPHRASE")
	setInt(&cfg.Backup.Iterations, "WALLETD_BACKUP_ITERATIONS")
	setStr(&cfg.Backup.RestoreKey, "WALLETD_BACKUP_RESTORE_KEY")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "WALLETD_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "WALLETD_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.TelegramAPI, "WALLETD_NOTIFY_TELEGRAM_API")
	setStr(&cfg.Notify.DiscordWebhookURL, "WALLETD_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "WALLETD_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "WALLETD_MODE")
	setStr(&cfg.LogLevel, "WALLETD_LOG_LEVEL")
}

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
