package app

import (
	"context"
	"fmt"
	"log/slog"

	s3blob "github.com/alanyoungcy/bondvault/internal/blob/s3"
	memcache "github.com/alanyoungcy/bondvault/internal/cache/memory"
	"github.com/alanyoungcy/bondvault/internal/cache/redis"
	"github.com/alanyoungcy/bondvault/internal/config"
	"github.com/alanyoungcy/bondvault/internal/domain"
	"github.com/alanyoungcy/bondvault/internal/metrics"
	"github.com/alanyoungcy/bondvault/internal/notify"
	"github.com/alanyoungcy/bondvault/internal/server/handler"
	memstore "github.com/alanyoungcy/bondvault/internal/store/memory"
	"github.com/alanyoungcy/bondvault/internal/store/postgres"
)

// Dependencies bundles every domain-level dependency that the application modes
// need to operate. It is constructed by Wire and torn down by the returned
// cleanup function.
type Dependencies struct {
	// Stores
	Projects domain.ProjectStore
	Claims   domain.ClaimStore
	Events   domain.EventStore
	Ledger   domain.Ledger

	// Caches
	Locks       domain.LockManager
	SignalBus   domain.SignalBus
	RateLimiter domain.RateLimiter
	Replays     domain.ReplayGuard

	// Archiver is nil unless archive.enabled is set.
	Archiver *s3blob.EventArchiver

	// Notifier forwards events to operator channels; it may have no senders.
	Notifier *notify.Notifier

	Metrics *metrics.Metrics
	// Health holds one probe per external dependency.
	Health map[string]handler.HealthCheck

	StorageName string
	BusName     string
}

// needsArchive returns true for modes that run the archive scheduler.
func needsArchive(cfg *config.Config) bool {
	switch cfg.Mode {
	case config.ModeArchive, config.ModeFull:
		return cfg.Archive.Enabled
	default:
		return cfg.Archive.Enabled && cfg.Server.Enabled
	}
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{
		Metrics: metrics.New(),
		Health:  make(map[string]handler.HealthCheck),
	}

	// --- Storage ---
	switch cfg.Storage.Backend {
	case config.BackendPostgres:
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
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres: %w", err)
		}
		closers = append(closers, pgClient.Close)

		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
			}
		}

		pool := pgClient.Pool()
		deps.Projects = postgres.NewProjectStore(pool)
		deps.Claims = postgres.NewClaimStore(pool)
		deps.Events = postgres.NewEventStore(pool)
		deps.Ledger = postgres.NewLedger(pool)
		deps.Health["postgres"] = pgClient.Ping
		deps.StorageName = config.BackendPostgres
	default:
		store := memstore.New()
		deps.Projects = store.Projects()
		deps.Claims = store.Claims()
		deps.Events = store.Events()
		deps.Ledger = store
		deps.StorageName = config.BackendMemory
		logger.Warn("wire: using in-memory storage; state is lost on restart")
	}

	// --- Redis ---
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
			cleanup()
			return nil, nil, fmt.Errorf("wire: redis: %w", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		deps.Locks = redis.NewLockManager(redisClient)
		deps.SignalBus = redis.NewSignalBus(redisClient, cfg.Redis.StreamMaxLen)
		deps.RateLimiter = redis.NewRateLimiter(redisClient)
		deps.Replays = redis.NewReplayGuard(redisClient)
		deps.Health["redis"] = redisClient.Ping
		deps.BusName = "redis"
	} else {
		deps.Locks = memcache.NewLockManager()
		deps.SignalBus = memcache.NewSignalBus(int(cfg.Redis.StreamMaxLen))
		deps.RateLimiter = memcache.NewRateLimiter()
		deps.Replays = memcache.NewReplayGuard()
		deps.BusName = "memory"
	}

	// --- S3 event archive ---
	if needsArchive(cfg) {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}

		deps.Archiver = s3blob.NewEventArchiver(
			s3blob.NewWriter(s3Client),
			s3blob.NewReader(s3Client),
			deps.Events,
			cfg.Archive.Prefix,
			logger,
		)
		deps.Health["s3"] = s3Client.Health
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender("", cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	if cfg.Notify.WebhookURL != "" {
		senders = append(senders, notify.NewWebhookSender(cfg.Notify.WebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	return deps, cleanup, nil
}
