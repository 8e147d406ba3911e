package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/bondvault/internal/archive"
	"github.com/alanyoungcy/bondvault/internal/server"
	"github.com/alanyoungcy/bondvault/internal/server/handler"
	"github.com/alanyoungcy/bondvault/internal/server/middleware"
	"github.com/alanyoungcy/bondvault/internal/server/ws"
	"github.com/alanyoungcy/bondvault/internal/service"
)

// shutdownTimeout bounds how long in-flight HTTP requests may take to drain.
const shutdownTimeout = 5 * time.Second

// ServerMode serves the HTTP API and the WebSocket event stream. Undelivered
// events are left for a relay process.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting server mode")

	g, ctx := errgroup.WithContext(ctx)
	a.startHTTPServer(ctx, g, deps, a.newBondService(deps))
	return g.Wait()
}

// RelayMode runs the event relay and the operator notifier. Both are
// meant to run as a single instance.
func (a *App) RelayMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting relay mode")

	g, ctx := errgroup.WithContext(ctx)
	a.startRelay(ctx, g, deps)
	a.startNotifier(ctx, g, deps)
	return g.Wait()
}

// ArchiveMode runs only the event-log archive scheduler.
func (a *App) ArchiveMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting archive mode")

	g, ctx := errgroup.WithContext(ctx)
	if err := a.startArchive(ctx, g, deps); err != nil {
		return err
	}
	return g.Wait()
}

// FullMode runs the API, the relay and, when enabled, the archive scheduler
// in one process.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")

	g, ctx := errgroup.WithContext(ctx)
	if a.cfg.Server.Enabled {
		a.startHTTPServer(ctx, g, deps, a.newBondService(deps))
	}
	a.startRelay(ctx, g, deps)
	a.startNotifier(ctx, g, deps)
	if deps.Archiver != nil {
		if err := a.startArchive(ctx, g, deps); err != nil {
			return err
		}
	}
	return g.Wait()
}

func (a *App) newPublisher(deps *Dependencies) *service.Publisher {
	return service.NewPublisher(deps.SignalBus, deps.Events, deps.Metrics, a.logger)
}

func (a *App) newBondService(deps *Dependencies) *service.BondService {
	return service.NewBondService(service.BondServiceDeps{
		Projects:  deps.Projects,
		Claims:    deps.Claims,
		Events:    deps.Events,
		Ledger:    deps.Ledger,
		Locks:     deps.Locks,
		Publisher: a.newPublisher(deps),
		Metrics:   deps.Metrics,
		Logger:    a.logger,
		Config: service.BondConfig{
			LockTTL:   a.cfg.Lock.TTL.Duration,
			LockWait:  a.cfg.Lock.Wait.Duration,
			LockRetry: a.cfg.Lock.Retry.Duration,
		},
	})
}

func (a *App) startRelay(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	relay := service.NewEventRelay(deps.Events, a.newPublisher(deps), service.RelayConfig{
		Interval:  a.cfg.Relay.Interval.Duration,
		BatchSize: a.cfg.Relay.BatchSize,
		MinAge:    a.cfg.Relay.MinAge.Duration,
	}, deps.Metrics, a.logger)
	g.Go(func() error {
		return relay.Run(ctx)
	})
}

func (a *App) startNotifier(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	if deps.Notifier == nil || !deps.Notifier.Enabled() {
		return
	}
	g.Go(func() error {
		return deps.Notifier.Run(ctx, deps.SignalBus)
	})
}

func (a *App) startArchive(ctx context.Context, g *errgroup.Group, deps *Dependencies) error {
	if deps.Archiver == nil {
		return fmt.Errorf("app: archive mode requires archive.enabled")
	}
	sched, err := archive.NewScheduler(deps.Archiver, a.cfg.Archive.Cron, a.cfg.Archive.RetentionDays, deps.Metrics, a.logger)
	if err != nil {
		return fmt.Errorf("app: archive scheduler: %w", err)
	}
	g.Go(func() error {
		return sched.Run(ctx)
	})
	return nil
}

func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies, bonds *service.BondService) {
	startedAt := time.Now().UTC()

	hub := ws.NewHub(deps.SignalBus, deps.Metrics, a.logger, ws.Config{
		Mode:      a.cfg.Mode,
		StartedAt: startedAt,
	})
	g.Go(func() error {
		return hub.Run(ctx)
	})

	handlers := server.Handlers{
		Health:   handler.NewHealthHandler(deps.Health, a.logger),
		Status:   handler.NewStatusHandler(a.cfg.Mode, deps.StorageName, deps.BusName, startedAt),
		Projects: handler.NewProjectHandler(bonds, a.logger),
		Claims:   handler.NewClaimHandler(bonds, a.logger),
		Hub:      hub,
	}
	if deps.Archiver != nil {
		handlers.Archives = handler.NewArchiveHandler(deps.Archiver, a.logger)
	}

	proxies, err := middleware.ParseTrustedProxies(a.cfg.Server.TrustedProxies)
	if err != nil {
		g.Go(func() error { return fmt.Errorf("app: %w", err) })
		return
	}
	srv := server.NewServer(server.Config{
		Port:           a.cfg.Server.Port,
		CORSOrigins:    a.cfg.Server.CORSOrigins,
		APIKey:         a.cfg.Server.APIKey,
		RateLimit:      a.cfg.Server.RateLimit,
		RateWindow:     a.cfg.Server.RateWindow.Duration,
		TrustedProxies: proxies,
		MaxClockSkew:   a.cfg.Server.MaxClockSkew.Duration,
	}, handlers, server.Guards{Limiter: deps.RateLimiter, Replays: deps.Replays}, deps.Metrics, a.logger)

	g.Go(func() error {
		a.logger.InfoContext(ctx, "HTTP server listening",
			slog.String("addr", srv.Addr()),
			slog.String("url", fmt.Sprintf("http://localhost:%d", a.cfg.Server.Port)))
		return srv.Start()
	})

	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}
