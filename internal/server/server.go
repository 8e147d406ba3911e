// Package server assembles the HTTP API: routes, middleware, and the
// WebSocket event endpoint.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/netip"
	"time"

	"github.com/alanyoungcy/bondvault/internal/domain"
	"github.com/alanyoungcy/bondvault/internal/metrics"
	"github.com/alanyoungcy/bondvault/internal/server/handler"
	"github.com/alanyoungcy/bondvault/internal/server/middleware"
	"github.com/alanyoungcy/bondvault/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	APIKey      string // if empty, authentication is disabled
	// RateLimit is the number of requests per RateWindow allowed from one
	// client IP, and again from one verified caller. Zero disables rate
	// limiting.
	RateLimit  int
	RateWindow time.Duration
	// TrustedProxies lists the peers whose X-Forwarded-For and X-Real-IP
	// headers are believed.
	TrustedProxies []netip.Prefix
	// MaxClockSkew bounds the age of a signed request.
	MaxClockSkew time.Duration
}

// Guards are the shared stores backing request admission. Either may be
// nil: a nil Limiter disables rate limiting and a nil Replays accepts
// repeated signatures.
type Guards struct {
	Limiter domain.RateLimiter
	Replays domain.ReplayGuard
}

// Handlers aggregates the HTTP handlers the server registers. Archives and
// Hub are optional.
type Handlers struct {
	Health   *handler.HealthHandler
	Status   *handler.StatusHandler
	Projects *handler.ProjectHandler
	Claims   *handler.ClaimHandler
	Archives *handler.ArchiveHandler
	Hub      *ws.Hub
}

// Server is the HTTP + WebSocket API server.
type Server struct {
	httpServer *http.Server
	handler    http.Handler
	logger     *slog.Logger
}

// NewServer creates a Server with all routes registered.
func NewServer(cfg Config, handlers Handlers, guards Guards, m *metrics.Metrics, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)
	mux.HandleFunc("GET /api/status", handlers.Status.GetStatus)
	mux.Handle("GET /metrics", m.Handler())

	p := handlers.Projects
	mux.HandleFunc("POST /api/projects", p.CreateProject)
	mux.HandleFunc("GET /api/projects", p.ListProjects)
	mux.HandleFunc("GET /api/projects/{id}", p.GetProject)
	mux.HandleFunc("GET /api/projects/{id}/summary", p.Summary)
	mux.HandleFunc("GET /api/projects/{id}/claims", p.ListClaims)
	mux.HandleFunc("GET /api/projects/{id}/events", p.ListEvents)
	mux.HandleFunc("POST /api/projects/{id}/purchase", p.Purchase)
	mux.HandleFunc("POST /api/projects/{id}/deposit", p.Deposit)
	mux.HandleFunc("POST /api/projects/{id}/withdraw", p.Withdraw)
	mux.HandleFunc("POST /api/projects/{id}/pause", p.Pause)
	mux.HandleFunc("POST /api/projects/{id}/resume", p.Resume)

	c := handlers.Claims
	mux.HandleFunc("GET /api/claims/{id}", c.GetClaim)
	mux.HandleFunc("GET /api/claims/{id}/preview", c.Preview)
	mux.HandleFunc("POST /api/claims/{id}/redeem", c.Redeem)
	mux.HandleFunc("GET /api/owners/{address}/claims", c.ListByOwner)

	if handlers.Archives != nil {
		mux.HandleFunc("GET /api/archives", handlers.Archives.ListArchives)
	}
	if handlers.Hub != nil {
		mux.HandleFunc("GET /ws", handlers.Hub.HandleWS)
	}

	// Innermost first: caller limit, identity, auth, IP limit, CORS, logging.
	// The IP limit sits outside identity so rejected signatures still count.
	limited := guards.Limiter != nil && cfg.RateLimit > 0
	var h http.Handler = mux
	if limited {
		h = middleware.RateLimit(guards.Limiter, cfg.RateLimit, cfg.RateWindow, middleware.ByCaller, logger)(h)
	}
	h = middleware.Identity(cfg.MaxClockSkew, guards.Replays, nil)(h)
	h = middleware.Auth(cfg.APIKey, "/api/health", "/metrics")(h)
	if limited {
		h = middleware.RateLimit(guards.Limiter, cfg.RateLimit, cfg.RateWindow, middleware.ByClientIP(cfg.TrustedProxies), logger)(h)
	}
	h = middleware.CORS(cfg.CORSOrigins)(h)
	h = middleware.Logging(logger, m)(h)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	return &Server{
		httpServer: srv,
		handler:    h,
		logger:     logger,
	}
}

// Handler returns the fully wrapped handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Addr returns the listen address.
func (s *Server) Addr() string {
	return s.httpServer.Addr
}

// Start begins listening for HTTP requests. It blocks until the server
// encounters an error or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server: starting",
		slog.String("addr", s.httpServer.Addr),
	)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server, waiting for in-flight requests
// to complete within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server: shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
