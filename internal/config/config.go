// Package config defines the top-level configuration for bondvault and
// provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/alanyoungcy/bondvault/internal/archive"
	"github.com/alanyoungcy/bondvault/internal/domain"
	"github.com/alanyoungcy/bondvault/internal/server/middleware"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by BONDVAULT_* environment variables.
type Config struct {
	Storage  StorageConfig  `toml:"storage"`
	Postgres PostgresConfig `toml:"postgres"`
	Redis    RedisConfig    `toml:"redis"`
	Lock     LockConfig     `toml:"lock"`
	S3       S3Config       `toml:"s3"`
	Archive  ArchiveConfig  `toml:"archive"`
	Relay    RelayConfig    `toml:"relay"`
	Server   ServerConfig   `toml:"server"`
	Notify   NotifyConfig   `toml:"notify"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
}

// Storage backends.
const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
)

// Run modes.
const (
	ModeServer  = "server"
	ModeRelay   = "relay"
	ModeArchive = "archive"
	ModeFull    = "full"
)

// StorageConfig selects where projects, claims and events live.
type StorageConfig struct {
	Backend string `toml:"backend"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
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
}

// RedisConfig holds Redis connection parameters. When Enabled is false the
// in-process lock manager, signal bus and rate limiter are used instead.
type RedisConfig struct {
	Enabled    bool   `toml:"enabled"`
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
	KeyPrefix  string `toml:"key_prefix"`
	// StreamMaxLen caps the bond event stream (approximate trim).
	StreamMaxLen int64 `toml:"stream_max_len"`
}

// LockConfig tunes the per-project writer lock.
type LockConfig struct {
	TTL   duration `toml:"ttl"`
	Wait  duration `toml:"wait"`
	Retry duration `toml:"retry"`
}

// S3Config holds object storage settings for the event archive.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// ArchiveConfig controls the monthly event-log export.
type ArchiveConfig struct {
	Enabled       bool   `toml:"enabled"`
	Cron          string `toml:"cron"`
	RetentionDays int    `toml:"retention_days"`
	Prefix        string `toml:"prefix"`
}

// RelayConfig controls redelivery of events the writer failed to publish.
type RelayConfig struct {
	Interval  duration `toml:"interval"`
	BatchSize int      `toml:"batch_size"`
	MinAge    duration `toml:"min_age"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5s", "2m").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so that BurntSushi/toml can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// ServerConfig holds HTTP API server settings.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	APIKey      string   `toml:"api_key"`
	// RateLimit is requests per RateWindow per client IP and per signer;
	// 0 disables it.
	RateLimit  int      `toml:"rate_limit"`
	RateWindow duration `toml:"rate_window"`
	// TrustedProxies are CIDRs or IPs allowed to set X-Forwarded-For.
	TrustedProxies []string `toml:"trusted_proxies"`
	MaxClockSkew   duration `toml:"max_clock_skew"`
}

// NotifyConfig holds operator alert channels. Events lists the event types
// to forward; empty forwards all.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	WebhookURL        string   `toml:"webhook_url"`
	Events            []string `toml:"events"`
}

// Defaults returns a Config populated with sensible default values.
func Defaults() Config {
	return Config{
		Storage: StorageConfig{
			Backend: BackendPostgres,
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "bondvault",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Enabled:      true,
			Addr:         "localhost:6379",
			PoolSize:     10,
			MaxRetries:   3,
			KeyPrefix:    "bondvault:",
			StreamMaxLen: 100000,
		},
		Lock: LockConfig{
			TTL:   duration{10 * time.Second},
			Wait:  duration{2 * time.Second},
			Retry: duration{25 * time.Millisecond},
		},
		S3: S3Config{
			Region:         "us-east-1",
			Bucket:         "bondvault-archive",
			UseSSL:         true,
			ForcePathStyle: true,
		},
		Archive: ArchiveConfig{
			Enabled:       false,
			Cron:          "0 3 1 * *",
			RetentionDays: 90,
			Prefix:        "archive",
		},
		Relay: RelayConfig{
			Interval:  duration{5 * time.Second},
			BatchSize: 100,
			MinAge:    duration{2 * time.Second},
		},
		Server: ServerConfig{
			Enabled:      true,
			Port:         8080,
			CORSOrigins:  []string{"*"},
			RateLimit:    120,
			RateWindow:   duration{time.Minute},
			MaxClockSkew: duration{5 * time.Minute},
		},
		Notify: NotifyConfig{
			Events: []string{"ProjectCreated", "ClaimRedeemed", "FundsWithdrawn", "SalePaused"},
		},
		Mode:     ModeFull,
		LogLevel: "info",
	}
}

var validModes = map[string]bool{
	ModeServer:  true,
	ModeRelay:   true,
	ModeArchive: true,
	ModeFull:    true,
}

var validEventTypes = map[string]bool{
	string(domain.EventProjectCreated):           true,
	string(domain.EventTokensPurchased):          true,
	string(domain.EventRedemptionFundsDeposited): true,
	string(domain.EventClaimRedeemed):            true,
	string(domain.EventFundsWithdrawn):           true,
	string(domain.EventSalePaused):               true,
	string(domain.EventSaleResumed):              true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	mode := strings.ToLower(c.Mode)
	if !validModes[mode] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: server, relay, archive, full)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Storage
	switch c.Storage.Backend {
	case BackendPostgres:
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
		if c.Postgres.PoolMinConns < 0 {
			errs = append(errs, "postgres: pool_min_conns must be >= 0")
		}
		if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
		}
	case BackendMemory:
		// Relay and archive run as separate processes and need shared storage.
		if mode == ModeRelay || mode == ModeArchive {
			errs = append(errs, fmt.Sprintf("storage: backend %q cannot be used with mode %s", BackendMemory, mode))
		}
	default:
		errs = append(errs, fmt.Sprintf("storage: unknown backend %q (valid: memory, postgres)", c.Storage.Backend))
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
		if c.Redis.StreamMaxLen < 0 {
			errs = append(errs, "redis: stream_max_len must be >= 0")
		}
	}

	// Lock
	if c.Lock.TTL.Duration <= 0 {
		errs = append(errs, "lock: ttl must be > 0")
	}
	if c.Lock.Wait.Duration < 0 {
		errs = append(errs, "lock: wait must be >= 0")
	}
	if c.Lock.Retry.Duration <= 0 {
		errs = append(errs, "lock: retry must be > 0")
	}

	// Archive
	if c.Archive.Enabled || mode == ModeArchive {
		if !c.Archive.Enabled {
			errs = append(errs, "archive: enabled must be true for mode archive")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty when archive is enabled")
		}
		if c.S3.Region == "" {
			errs = append(errs, "s3: region must not be empty when archive is enabled")
		}
		if _, err := archive.ParseSchedule(c.Archive.Cron); err != nil {
			errs = append(errs, fmt.Sprintf("archive: cron: %v", err))
		}
		if c.Archive.RetentionDays < 1 {
			errs = append(errs, "archive: retention_days must be >= 1")
		}
		if strings.Trim(c.Archive.Prefix, "/") == "" {
			errs = append(errs, "archive: prefix must not be empty")
		}
	}

	// Relay
	if c.Relay.Interval.Duration <= 0 {
		errs = append(errs, "relay: interval must be > 0")
	}
	if c.Relay.BatchSize < 1 {
		errs = append(errs, "relay: batch_size must be >= 1")
	}
	if c.Relay.MinAge.Duration < 0 {
		errs = append(errs, "relay: min_age must be >= 0")
	}

	// Server
	if c.Server.Enabled || mode == ModeServer {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
		if c.Server.RateLimit < 0 {
			errs = append(errs, "server: rate_limit must be >= 0")
		}
		if c.Server.RateLimit > 0 && c.Server.RateWindow.Duration <= 0 {
			errs = append(errs, "server: rate_window must be > 0 when rate_limit is set")
		}
		if c.Server.MaxClockSkew.Duration <= 0 {
			errs = append(errs, "server: max_clock_skew must be > 0")
		}
		if _, err := middleware.ParseTrustedProxies(c.Server.TrustedProxies); err != nil {
			errs = append(errs, "server: "+err.Error())
		}
	}

	// Notify
	if (c.Notify.TelegramToken == "") != (c.Notify.TelegramChatID == "") {
		errs = append(errs, "notify: telegram_token and telegram_chat_id must be set together")
	}
	for _, e := range c.Notify.Events {
		if !validEventTypes[strings.TrimSpace(e)] {
			errs = append(errs, fmt.Sprintf("notify: unknown event type %q", e))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
