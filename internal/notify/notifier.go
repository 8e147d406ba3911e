// Package notify forwards committed bond events to operator channels
// (Discord, Telegram, generic webhooks). Events arrive from the signal bus
// with at-least-once delivery, so the notifier drops ids it has already sent.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/alanyoungcy/bondvault/internal/domain"
)

// Sender is the interface that each notification channel must implement.
type Sender interface {
	// Send delivers one event. title and message are a human-readable
	// rendering; evt is the source record.
	Send(ctx context.Context, title, message string, evt domain.Event) error
	// Name returns a human-readable identifier for the sender (e.g. "telegram").
	Name() string
}

// defaultSeenSize bounds the dedup window.
const defaultSeenSize = 4096

// Notifier dispatches bond events to one or more Senders. Only event types
// in the allowed set are forwarded; an empty set allows every type.
type Notifier struct {
	senders []Sender
	events  map[domain.EventType]bool
	logger  *slog.Logger

	mu   sync.Mutex
	seen map[string]struct{}
	ring []string
	next int
}

// NewNotifier creates a Notifier that will deliver to the given senders.
func NewNotifier(senders []Sender, events []string, logger *slog.Logger) *Notifier {
	allowed := make(map[domain.EventType]bool, len(events))
	for _, e := range events {
		if e = strings.TrimSpace(e); e != "" {
			allowed[domain.EventType(e)] = true
		}
	}
	return &Notifier{
		senders: senders,
		events:  allowed,
		logger:  logger.With(slog.String("component", "notifier")),
		seen:    make(map[string]struct{}, defaultSeenSize),
		ring:    make([]string, defaultSeenSize),
	}
}

// Enabled reports whether any sender is configured.
func (n *Notifier) Enabled() bool {
	return len(n.senders) > 0
}

// Notify delivers evt to every sender unless its type is filtered out or the
// same event id was already delivered. An id is remembered only once some
// sender accepted it, so a redelivery after a total failure is sent again.
func (n *Notifier) Notify(ctx context.Context, evt domain.Event) error {
	if len(n.events) > 0 && !n.events[evt.Type] {
		n.logger.DebugContext(ctx, "event filtered out", slog.String("type", string(evt.Type)))
		return nil
	}
	if n.isSeen(evt.ID) {
		n.logger.DebugContext(ctx, "duplicate event skipped", slog.String("event_id", evt.ID))
		return nil
	}
	title, message := Format(evt)
	delivered, err := n.dispatch(ctx, title, message, evt)
	if delivered > 0 {
		n.markSeen(evt.ID)
	}
	return err
}

// Run subscribes to every project's event channel and notifies until ctx is
// cancelled.
func (n *Notifier) Run(ctx context.Context, bus domain.SignalBus) error {
	channel := domain.EventChannel("*")
	ch, err := bus.Subscribe(ctx, channel)
	if err != nil {
		return fmt.Errorf("notify: subscribe %s: %w", channel, err)
	}
	n.logger.InfoContext(ctx, "notifier started", slog.Int("senders", len(n.senders)))

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case data, ok := <-ch:
			if !ok {
				return fmt.Errorf("notify: subscription %s closed", channel)
			}
			var evt domain.Event
			if err := json.Unmarshal(data, &evt); err != nil {
				n.logger.WarnContext(ctx, "undecodable event", slog.String("error", err.Error()))
				continue
			}
			// Failures are logged by dispatch; the event is not retried.
			_ = n.Notify(ctx, evt)
		}
	}
}

func (n *Notifier) isSeen(id string) bool {
	if id == "" {
		return false
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	_, ok := n.seen[id]
	return ok
}

// markSeen records id, evicting the oldest id once the window is full.
func (n *Notifier) markSeen(id string) {
	if id == "" {
		return
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	if _, ok := n.seen[id]; ok {
		return
	}
	if old := n.ring[n.next]; old != "" {
		delete(n.seen, old)
	}
	n.ring[n.next] = id
	n.next = (n.next + 1) % len(n.ring)
	n.seen[id] = struct{}{}
}

// dispatch sends to every sender and returns how many accepted the event. A
// single sender failure does not prevent delivery to the remaining senders.
func (n *Notifier) dispatch(ctx context.Context, title, message string, evt domain.Event) (int, error) {
	var (
		errs      []error
		delivered int
	)
	for _, s := range n.senders {
		if err := s.Send(ctx, title, message, evt); err != nil {
			n.logger.ErrorContext(ctx, "sender failed",
				slog.String("sender", s.Name()),
				slog.String("event_id", evt.ID),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
			continue
		}
		delivered++
		n.logger.DebugContext(ctx, "notification sent",
			slog.String("sender", s.Name()),
			slog.String("title", title),
		)
	}
	if len(errs) > 0 {
		return delivered, fmt.Errorf("notify: %d sender(s) failed: %w", len(errs), errors.Join(errs...))
	}
	return delivered, nil
}

// Format renders an event as a notification title and body.
func Format(evt domain.Event) (title, message string) {
	actor := evt.Actor.Hex()
	switch evt.Type {
	case domain.EventProjectCreated:
		title = "New bond offering"
		message = fmt.Sprintf("%s issued %q: %d units at %d bps", actor, evt.Name, evt.Cap, evt.RateBps)
		if evt.Maturity != nil {
			message += ", maturing " + evt.Maturity.UTC().Format("2006-01-02")
		}
	case domain.EventTokensPurchased:
		title = "Bond purchase"
		message = fmt.Sprintf("%s bought %d units (claim %s)", actor, evt.Amount, evt.ClaimID)
	case domain.EventRedemptionFundsDeposited:
		title = "Redemption funds deposited"
		message = fmt.Sprintf("%s deposited %d", actor, evt.Amount)
	case domain.EventClaimRedeemed:
		title = "Claim redeemed"
		message = fmt.Sprintf("%s redeemed claim %s for %d", actor, evt.ClaimID, evt.Amount)
	case domain.EventFundsWithdrawn:
		title = "Raised funds withdrawn"
		message = fmt.Sprintf("%s withdrew %d", actor, evt.Amount)
	case domain.EventSalePaused:
		title = "Sale paused"
		message = "paused by " + actor
	case domain.EventSaleResumed:
		title = "Sale resumed"
		message = "resumed by " + actor
	default:
		title = string(evt.Type)
		message = "actor " + actor
	}
	return title, message + "\nproject " + evt.ProjectID
}
