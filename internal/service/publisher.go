package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/bondvault/internal/domain"
	"github.com/alanyoungcy/bondvault/internal/metrics"
)

// Publisher delivers committed events to the signal bus and records the
// delivery in the event store. Delivery is at-least-once: an event whose
// MarkPublished write fails will be sent again by the relay, so consumers
// deduplicate by event id.
type Publisher struct {
	bus     domain.SignalBus
	events  domain.EventStore
	metrics *metrics.Metrics
	logger  *slog.Logger
	now     func() time.Time
}

// NewPublisher creates a Publisher.
func NewPublisher(bus domain.SignalBus, events domain.EventStore, m *metrics.Metrics, logger *slog.Logger) *Publisher {
	return &Publisher{
		bus:     bus,
		events:  events,
		metrics: m,
		logger:  logger.With(slog.String("component", "event_publisher")),
		now:     time.Now,
	}
}

// Publish sends each event on its project channel and appends it to the
// global stream, then marks the delivered ones published. It returns how
// many were delivered; failures are joined into the error.
func (p *Publisher) Publish(ctx context.Context, evts []domain.Event, source string) (int, error) {
	var (
		delivered []string
		errs      []error
	)
	for _, e := range evts {
		if err := p.deliver(ctx, e); err != nil {
			p.metrics.IncrementPublished(source, false)
			p.logger.WarnContext(ctx, "event delivery failed",
				slog.String("event_id", e.ID),
				slog.String("type", string(e.Type)),
				slog.String("source", source),
				slog.String("error", err.Error()),
			)
			errs = append(errs, err)
			continue
		}
		p.metrics.IncrementPublished(source, true)
		delivered = append(delivered, e.ID)
	}

	if len(delivered) > 0 {
		if err := p.events.MarkPublished(ctx, delivered, p.now().UTC()); err != nil {
			errs = append(errs, fmt.Errorf("publisher: mark published: %w", err))
		}
	}
	return len(delivered), errors.Join(errs...)
}

func (p *Publisher) deliver(ctx context.Context, e domain.Event) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("publisher: marshal event %s: %w", e.ID, err)
	}
	if err := p.bus.Publish(ctx, domain.EventChannel(e.ProjectID), payload); err != nil {
		return fmt.Errorf("publisher: publish event %s: %w", e.ID, err)
	}
	if err := p.bus.StreamAppend(ctx, domain.EventStream, payload); err != nil {
		return fmt.Errorf("publisher: stream event %s: %w", e.ID, err)
	}
	return nil
}
