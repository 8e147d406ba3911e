package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/bondvault/internal/domain"
	"github.com/alanyoungcy/bondvault/internal/metrics"
)

// RelayConfig controls the outbox relay.
type RelayConfig struct {
	Interval  time.Duration
	BatchSize int
	// MinAge skips events younger than this so the relay does not race the
	// service's own publish right after commit.
	MinAge time.Duration
}

// EventRelay republishes committed events that were never delivered, for
// example because the bus was down when the operation committed.
type EventRelay struct {
	events    domain.EventStore
	publisher *Publisher
	cfg       RelayConfig
	metrics   *metrics.Metrics
	logger    *slog.Logger
	now       func() time.Time
}

// NewEventRelay creates an EventRelay.
func NewEventRelay(events domain.EventStore, publisher *Publisher, cfg RelayConfig, m *metrics.Metrics, logger *slog.Logger) *EventRelay {
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	return &EventRelay{
		events:    events,
		publisher: publisher,
		cfg:       cfg,
		metrics:   m,
		logger:    logger.With(slog.String("component", "event_relay")),
		now:       time.Now,
	}
}

// RunOnce delivers one batch of pending events and returns how many were
// delivered.
func (r *EventRelay) RunOnce(ctx context.Context) (int, error) {
	pending, err := r.events.ListUnpublished(ctx, r.cfg.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("event_relay: list unpublished: %w", err)
	}
	r.metrics.SetRelayBacklog(len(pending))

	cutoff := r.now().UTC().Add(-r.cfg.MinAge)
	due := pending[:0]
	for _, e := range pending {
		if !e.OccurredAt.After(cutoff) {
			due = append(due, e)
		}
	}
	if len(due) == 0 {
		return 0, nil
	}

	n, err := r.publisher.Publish(ctx, due, "relay")
	if n > 0 {
		r.logger.InfoContext(ctx, "relayed pending events",
			slog.Int("delivered", n),
			slog.Int("pending", len(pending)),
		)
	}
	if err != nil {
		return n, fmt.Errorf("event_relay: publish: %w", err)
	}
	return n, nil
}

// Run calls RunOnce every interval until ctx is cancelled.
func (r *EventRelay) Run(ctx context.Context) error {
	r.logger.InfoContext(ctx, "event relay started",
		slog.Duration("interval", r.cfg.Interval),
		slog.Int("batch_size", r.cfg.BatchSize),
	)
	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.InfoContext(ctx, "event relay stopped")
			return ctx.Err()
		case <-ticker.C:
			if _, err := r.RunOnce(ctx); err != nil {
				r.logger.WarnContext(ctx, "relay run failed", slog.String("error", err.Error()))
			}
		}
	}
}
