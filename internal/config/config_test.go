package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTOML(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "bondvault.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestDefaultsValidate(t *testing.T) {
	cfg := Defaults()
	require.NoError(t, cfg.Validate())
}

func TestLoadMergesFileOverDefaults(t *testing.T) {
	path := writeTOML(t, `
mode = "server"

[storage]
backend = "memory"

[lock]
ttl = "30s"

[relay]
batch_size = 7

[server]
port = 9090
cors_origins = ["https://app.example"]
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ModeServer, cfg.Mode)
	assert.Equal(t, BackendMemory, cfg.Storage.Backend)
	assert.Equal(t, 30*time.Second, cfg.Lock.TTL.Duration)
	assert.Equal(t, 2*time.Second, cfg.Lock.Wait.Duration, "unset keys keep defaults")
	assert.Equal(t, 7, cfg.Relay.BatchSize)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, []string{"https://app.example"}, cfg.Server.CORSOrigins)
	assert.Equal(t, "0 3 1 * *", cfg.Archive.Cron)
	require.NoError(t, cfg.Validate())
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("BONDVAULT_MODE", "relay")
	t.Setenv("BONDVAULT_POSTGRES_DSN", "postgres://u:p@db:5432/bonds")
	t.Setenv("BONDVAULT_REDIS_ENABLED", "false")
	t.Setenv("BONDVAULT_RELAY_INTERVAL", "250ms")
	t.Setenv("BONDVAULT_SERVER_CORS_ORIGINS", " a.example , ,b.example")
	t.Setenv("BONDVAULT_SERVER_PORT", "not-a-number")
	t.Setenv("BONDVAULT_SERVER_TRUSTED_PROXIES", "10.0.0.0/8,192.0.2.1")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ModeRelay, cfg.Mode)
	assert.Equal(t, "postgres://u:p@db:5432/bonds", cfg.Postgres.DSN)
	assert.False(t, cfg.Redis.Enabled)
	assert.Equal(t, 250*time.Millisecond, cfg.Relay.Interval.Duration)
	assert.Equal(t, []string{"a.example", "b.example"}, cfg.Server.CORSOrigins)
	assert.Equal(t, 8080, cfg.Server.Port, "unparseable values are ignored")
	assert.Equal(t, []string{"10.0.0.0/8", "192.0.2.1"}, cfg.Server.TrustedProxies)
}

func TestLoadRejectsBadFile(t *testing.T) {
	_, err := Load(writeTOML(t, `[lock]
ttl = "soon"`))
	require.Error(t, err)

	_, err = Load(filepath.Join(t.TempDir(), "missing.toml"))
	require.Error(t, err)
}

func TestValidateCollectsProblems(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   []string
	}{
		{
			name:   "unknown mode and level",
			mutate: func(c *Config) { c.Mode = "trade"; c.LogLevel = "loud" },
			want:   []string{`unknown mode "trade"`, `unknown log_level "loud"`},
		},
		{
			name:   "unknown backend",
			mutate: func(c *Config) { c.Storage.Backend = "sqlite" },
			want:   []string{`storage: unknown backend "sqlite"`},
		},
		{
			name: "memory backend in relay mode",
			mutate: func(c *Config) {
				c.Storage.Backend = BackendMemory
				c.Mode = ModeRelay
			},
			want: []string{"cannot be used with mode relay"},
		},
		{
			name: "postgres without host",
			mutate: func(c *Config) {
				c.Postgres.Host = ""
				c.Postgres.PoolMinConns = 20
			},
			want: []string{"postgres: host must not be empty", "pool_min_conns must not exceed"},
		},
		{
			name: "archive needs bucket and valid cron",
			mutate: func(c *Config) {
				c.Archive.Enabled = true
				c.Archive.Cron = "every month"
				c.S3.Bucket = ""
			},
			want: []string{"s3: bucket must not be empty", "archive: cron:"},
		},
		{
			name:   "bad trusted proxy",
			mutate: func(c *Config) { c.Server.TrustedProxies = []string{"lb.internal"} },
			want:   []string{`server: middleware: trusted proxy "lb.internal"`},
		},
		{
			name:   "archive mode without archive enabled",
			mutate: func(c *Config) { c.Mode = ModeArchive },
			want:   []string{"archive: enabled must be true for mode archive"},
		},
		{
			name: "server limits",
			mutate: func(c *Config) {
				c.Server.Port = 0
				c.Server.RateWindow.Duration = 0
				c.Server.MaxClockSkew.Duration = 0
			},
			want: []string{"server: port must be 1-65535", "rate_window must be > 0", "max_clock_skew must be > 0"},
		},
		{
			name: "notify",
			mutate: func(c *Config) {
				c.Notify.TelegramToken = "tok"
				c.Notify.Events = []string{"ClaimRedeemed", "MarketResolved"}
			},
			want: []string{"telegram_token and telegram_chat_id", `unknown event type "MarketResolved"`},
		},
		{
			name: "lock and relay",
			mutate: func(c *Config) {
				c.Lock.TTL.Duration = 0
				c.Relay.BatchSize = 0
			},
			want: []string{"lock: ttl must be > 0", "relay: batch_size must be >= 1"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			for _, w := range tt.want {
				assert.Contains(t, err.Error(), w)
			}
		})
	}
}

func TestRedactedConfig(t *testing.T) {
	cfg := Defaults()
	cfg.Postgres.Password = "pg-secret"
	cfg.Redis.Password = "redis-secret"
	cfg.S3.SecretKey = "s3-secret"
	cfg.Server.APIKey = "api-secret"
	cfg.Notify.DiscordWebhookURL = "https://discord.example/hook/secret"

	out := RedactedConfig(&cfg)
	assert.Equal(t, redacted, out.Postgres.Password)
	assert.Equal(t, redacted, out.Redis.Password)
	assert.Equal(t, redacted, out.S3.SecretKey)
	assert.Equal(t, redacted, out.Server.APIKey)
	assert.Equal(t, redacted, out.Notify.DiscordWebhookURL)
	assert.Empty(t, out.S3.AccessKey, "empty secrets stay empty")
	assert.Equal(t, "pg-secret", cfg.Postgres.Password, "original is untouched")

	out.Server.CORSOrigins[0] = "mutated"
	assert.Equal(t, "*", cfg.Server.CORSOrigins[0])
}

func TestRedactDSN(t *testing.T) {
	assert.Equal(t, "", redactDSN(""))
	masked := redactDSN("postgres://bond:hunter2@db:5432/bonds?sslmode=disable")
	assert.NotContains(t, masked, "hunter2")
	assert.Contains(t, masked, "postgres://bond:")
	assert.Contains(t, masked, "@db:5432/bonds?sslmode=disable")
	assert.Equal(t, "postgres://db/bonds", redactDSN("postgres://db/bonds"))
	assert.Equal(t, redacted, redactDSN("host=db password=hunter2"))
}
