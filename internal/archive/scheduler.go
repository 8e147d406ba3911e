// Package archive runs the event-log archiver on a cron schedule.
package archive

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/bondvault/internal/domain"
	"github.com/alanyoungcy/bondvault/internal/metrics"
)

// Scheduler triggers archive runs. Each run archives events older than the
// retention window.
type Scheduler struct {
	archiver      domain.Archiver
	schedule      Schedule
	retentionDays int
	metrics       *metrics.Metrics
	logger        *slog.Logger
	now           func() time.Time
}

// NewScheduler creates a Scheduler for the given cron expression.
func NewScheduler(archiver domain.Archiver, cronExpr string, retentionDays int, m *metrics.Metrics, logger *slog.Logger) (*Scheduler, error) {
	sched, err := ParseSchedule(cronExpr)
	if err != nil {
		return nil, err
	}
	return &Scheduler{
		archiver:      archiver,
		schedule:      sched,
		retentionDays: retentionDays,
		metrics:       m,
		logger:        logger.With(slog.String("component", "archive_scheduler")),
		now:           time.Now,
	}, nil
}

// RunOnce performs a single archive run and returns the number of events
// archived.
func (s *Scheduler) RunOnce(ctx context.Context) (int64, error) {
	cutoff := s.now().UTC().AddDate(0, 0, -s.retentionDays)
	s.logger.InfoContext(ctx, "starting archive run",
		slog.Time("cutoff", cutoff),
		slog.Int("retention_days", s.retentionDays),
	)

	n, err := s.archiver.ArchiveEvents(ctx, cutoff)
	s.metrics.ObserveArchiveRun(n, err)
	if err != nil {
		return n, fmt.Errorf("archive: events before %s: %w", cutoff.Format(time.RFC3339), err)
	}
	s.logger.InfoContext(ctx, "archive run complete", slog.Int64("events_archived", n))
	return n, nil
}

// Run executes RunOnce on every schedule tick until ctx is cancelled. A
// failed run is logged and does not stop the loop.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.Info("archive cron started", slog.String("cron", s.schedule.String()))

	for {
		next, err := s.schedule.Next(s.now())
		if err != nil {
			return err
		}
		wait := time.Until(next)
		s.logger.Debug("waiting for next archive run",
			slog.Time("next_run", next),
			slog.Duration("wait", wait),
		)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			s.logger.Info("archive cron stopped")
			return ctx.Err()
		case <-timer.C:
			if _, err := s.RunOnce(ctx); err != nil {
				s.logger.Error("archive run failed", slog.String("error", err.Error()))
			}
		}
	}
}
