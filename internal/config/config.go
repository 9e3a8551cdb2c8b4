// Package config defines the wallet server configuration and its validation.
package config

import (
	"fmt"
	"net"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by WALLETD_* environment variables.
type Config struct {
	Server      ServerConfig      `toml:"server"`
	Quotes      QuotesConfig      `toml:"quotes"`
	Persistence PersistenceConfig `toml:"persistence"`
	Redis       RedisConfig       `toml:"redis"`
	Postgres    PostgresConfig    `toml:"postgres"`
	S3          S3Config          `toml:"s3"`
	Backup      BackupConfig      `toml:"backup"`
	Notify      NotifyConfig      `toml:"notify"`
	// Mode is "serve" or "restore".
	Mode     string `toml:"mode"`
	LogLevel string `toml:"log_level"`
}

// ServerConfig holds the listener and control loop settings.
type ServerConfig struct {
	Addr string `toml:"addr"`
	// Framing is "length" (4-byte big-endian prefix) or "legacy" (one read
	// per request).
	Framing       string   `toml:"framing"`
	MaxFrameBytes int      `toml:"max_frame_bytes"`
	WriteTimeout  duration `toml:"write_timeout"`
	SendBuffer    int      `toml:"send_buffer"`
	// AsyncQuotes moves quote fetches off the control loop.
	AsyncQuotes  bool `toml:"async_quotes"`
	QuoteWorkers int  `toml:"quote_workers"`
	QuoteQueue   int  `toml:"quote_queue"`
}

// QuotesConfig holds the quote source and price cache settings.
type QuotesConfig struct {
	BaseURL          string   `toml:"base_url"`
	APIKey           string   `toml:"api_key"`
	RequestTimeout   duration `toml:"request_timeout"`
	TTL              duration `toml:"ttl"`
	RefreshThreshold int      `toml:"refresh_threshold"`
	ListingLimit     int      `toml:"listing_limit"`
	// QuotaLimit caps upstream calls per QuotaWindow across every server
	// sharing the redis instance. Zero disables the quota.
	QuotaLimit  int      `toml:"quota_limit"`
	QuotaWindow duration `toml:"quota_window"`
}

// PersistenceConfig holds the users file settings.
type PersistenceConfig struct {
	UsersFile string `toml:"users_file"`
	// AutosaveCron is a cron spec such as "*/10 * * * *" or "@every 10m".
	// Empty disables autosave.
	AutosaveCron string `toml:"autosave_cron"`
	// Operators may run save-users. Empty lets every logged in account.
	Operators []string `toml:"operators"`
}

// RedisConfig holds Redis connection parameters. Redis backs the shared
// quote mirror and the upstream quota.
type RedisConfig struct {
	Enabled        bool     `toml:"enabled"`
	Addr           string   `toml:"addr"`
	Password       string   `toml:"password"`
	DB             int      `toml:"db"`
	PoolSize       int      `toml:"pool_size"`
	MaxRetries     int      `toml:"max_retries"`
	TLSEnabled     bool     `toml:"tls_enabled"`
	KeyPrefix      string   `toml:"key_prefix"`
	QuoteRetention duration `toml:"quote_retention"`
}

// PostgresConfig holds PostgreSQL connection parameters for the audit log.
type PostgresConfig struct {
	Enabled       bool   `toml:"enabled"`
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
	AuditBuffer   int    `toml:"audit_buffer"`
}

// S3Config holds S3-compatible object storage parameters for backups.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	Prefix         string `toml:"prefix"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// BackupConfig holds backup sealing and restore settings.
type BackupConfig struct {
	// Passphrase seals backups. Empty uploads them in the clear.
	Passphrase string `toml:"passphrase"`
	Iterations int    `toml:"iterations"`
	// RestoreKey selects the object restored in restore mode. Empty picks
	// the newest.
	RestoreKey string `toml:"restore_key"`
}

// duration wraps time.Duration so the TOML decoder accepts strings like
// "30m".
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// NotifyConfig holds operator alert channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	TelegramAPI       string   `toml:"telegram_api"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// Defaults returns a Config populated with the values in config.example.toml.
func Defaults() Config {
	return Config{
		Server: ServerConfig{
			Addr:          "localhost:7676",
			Framing:       "length",
			MaxFrameBytes: 64 << 10,
			WriteTimeout:  duration{10 * time.Second},
			SendBuffer:    16,
			AsyncQuotes:   true,
			QuoteWorkers:  4,
			QuoteQueue:    64,
		},
		Quotes: QuotesConfig{
			BaseURL:          "https://rest.coinapi.io/v1",
			RequestTimeout:   duration{10 * time.Second},
			TTL:              duration{30 * time.Minute},
			RefreshThreshold: 5,
			ListingLimit:     50,
			QuotaLimit:       100,
			QuotaWindow:      duration{24 * time.Hour},
		},
		Persistence: PersistenceConfig{
			UsersFile: "resources/users.json",
		},
		Redis: RedisConfig{
			Addr:           "localhost:6379",
			PoolSize:       10,
			MaxRetries:     3,
			KeyPrefix:      "walletd:",
			QuoteRetention: duration{24 * time.Hour},
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "walletd",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  5,
			PoolMinConns:  1,
			RunMigrations: true,
			AuditBuffer:   256,
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "walletd-backups",
			Prefix:         "users",
			ForcePathStyle: true,
		},
		Notify: NotifyConfig{
			Events: []string{"backup_failed", "restored"},
		},
		Mode:     "serve",
		LogLevel: "info",
	}
}

var validModes = map[string]bool{
	"serve":   true,
	"restore": true,
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

var validFramings = map[string]bool{
	"length": true,
	"legacy": true,
}

// Validate checks Config for invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	mode := strings.ToLower(c.Mode)
	if !validModes[mode] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: serve, restore)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Server
	if _, _, err := net.SplitHostPort(c.Server.Addr); err != nil {
		errs = append(errs, fmt.Sprintf("server: addr %q must be host:port", c.Server.Addr))
	}
	if !validFramings[strings.ToLower(c.Server.Framing)] {
		errs = append(errs, fmt.Sprintf("server: unknown framing %q (valid: length, legacy)", c.Server.Framing))
	}
	if c.Server.MaxFrameBytes < 1024 {
		errs = append(errs, "server: max_frame_bytes must be >= 1024")
	}
	if c.Server.WriteTimeout.Duration <= 0 {
		errs = append(errs, "server: write_timeout must be > 0")
	}
	if c.Server.SendBuffer < 1 {
		errs = append(errs, "server: send_buffer must be >= 1")
	}
	if c.Server.AsyncQuotes {
		if c.Server.QuoteWorkers < 1 {
			errs = append(errs, "server: quote_workers must be >= 1 when async_quotes is on")
		}
		if c.Server.QuoteQueue < 1 {
			errs = append(errs, "server: quote_queue must be >= 1 when async_quotes is on")
		}
	}

	// Quotes
	if c.Quotes.BaseURL == "" {
		errs = append(errs, "quotes: base_url must not be empty")
	}
	if c.Quotes.RequestTimeout.Duration <= 0 {
		errs = append(errs, "quotes: request_timeout must be > 0")
	}
	if c.Quotes.TTL.Duration <= 0 {
		errs = append(errs, "quotes: ttl must be > 0")
	}
	if c.Quotes.RefreshThreshold < 1 {
		errs = append(errs, "quotes: refresh_threshold must be >= 1")
	}
	if c.Quotes.ListingLimit < 1 {
		errs = append(errs, "quotes: listing_limit must be >= 1")
	}
	if c.Quotes.QuotaLimit < 0 {
		errs = append(errs, "quotes: quota_limit must be >= 0")
	}
	if c.Quotes.QuotaLimit > 0 && c.Quotes.QuotaWindow.Duration <= 0 {
		errs = append(errs, "quotes: quota_window must be > 0 when quota_limit is set")
	}

	// Persistence
	if strings.TrimSpace(c.Persistence.UsersFile) == "" {
		errs = append(errs, "persistence: users_file must not be empty")
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
	}

	// Postgres
	if c.Postgres.Enabled {
		if strings.TrimSpace(c.Postgres.DSN) == "" {
			if c.Postgres.Host == "" {
				errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
			}
			if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
				errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
			}
			if c.Postgres.Database == "" {
				errs = append(errs, "postgres: database must not be empty")
			}
		}
		if c.Postgres.PoolMaxConns < 1 {
			errs = append(errs, "postgres: pool_max_conns must be >= 1")
		}
		if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
		}
	}

	// S3
	if c.S3.Enabled {
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty")
		}
		if c.S3.Region == "" {
			errs = append(errs, "s3: region must not be empty")
		}
	}
	if mode == "restore" && !c.S3.Enabled {
		errs = append(errs, "s3: must be enabled for restore mode")
	}

	// Backup
	if c.Backup.Iterations < 0 {
		errs = append(errs, "backup: iterations must be >= 0")
	}

	// Notify
	if (c.Notify.TelegramToken == "") != (c.Notify.TelegramChatID == "") {
		errs = append(errs, "notify: telegram_token and telegram_chat_id must be set together")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
