package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/bondvault/internal/domain"
)

// EventStore implements domain.EventStore using PostgreSQL. Rows are
// append-only apart from published_at.
type EventStore struct {
	pool *pgxpool.Pool
}

// NewEventStore creates a new EventStore.
func NewEventStore(pool *pgxpool.Pool) *EventStore {
	return &EventStore{pool: pool}
}

// eventDetail holds the type-specific fields stored in the JSONB detail
// column.
type eventDetail struct {
	Name     string     `json:"name,omitempty"`
	Cap      string     `json:"cap,omitempty"`
	RateBps  uint32     `json:"rate_bps,omitempty"`
	Maturity *time.Time `json:"maturity,omitempty"`
}

func marshalDetail(e domain.Event) ([]byte, error) {
	if e.Type != domain.EventProjectCreated {
		return nil, nil
	}
	d := eventDetail{Name: e.Name, RateBps: e.RateBps, Maturity: e.Maturity}
	if e.Cap > 0 {
		d.Cap = strconv.FormatUint(e.Cap, 10)
	}
	data, err := json.Marshal(d)
	if err != nil {
		return nil, fmt.Errorf("postgres: marshal event %s detail: %w", e.ID, err)
	}
	return data, nil
}

const eventCols = `id, project_id, type, claim_id, actor, amount::text, detail, occurred_at, published_at`

func scanEvent(row rowScanner) (domain.Event, error) {
	var (
		e                  domain.Event
		typ, actor, amount string
		detailJSON         []byte
	)
	if err := row.Scan(&e.ID, &e.ProjectID, &typ, &e.ClaimID, &actor, &amount, &detailJSON, &e.OccurredAt, &e.PublishedAt); err != nil {
		return domain.Event{}, err
	}

	var err error
	if e.Amount, err = parseAmount("amount", amount); err != nil {
		return domain.Event{}, err
	}
	e.Type = domain.EventType(typ)
	e.Actor = common.HexToAddress(actor)
	e.OccurredAt = utc(e.OccurredAt)

	if detailJSON != nil {
		var d eventDetail
		if err := json.Unmarshal(detailJSON, &d); err != nil {
			return domain.Event{}, fmt.Errorf("postgres: unmarshal event %s detail: %w", e.ID, err)
		}
		e.Name = d.Name
		e.RateBps = d.RateBps
		if d.Maturity != nil {
			m := utc(*d.Maturity)
			e.Maturity = &m
		}
		if d.Cap != "" {
			if e.Cap, err = parseAmount("detail.cap", d.Cap); err != nil {
				return domain.Event{}, err
			}
		}
	}
	return e, nil
}

func insertEvent(ctx context.Context, tx pgx.Tx, e domain.Event) error {
	detail, err := marshalDetail(e)
	if err != nil {
		return err
	}
	const query = `
		INSERT INTO bond_events (id, project_id, type, claim_id, actor, amount, detail, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6::numeric, $7, $8)`
	if _, err := tx.Exec(ctx, query,
		e.ID, e.ProjectID, string(e.Type), e.ClaimID, e.Actor.Hex(), amountArg(e.Amount), detail, e.OccurredAt,
	); err != nil {
		return fmt.Errorf("postgres: append event %s: %w", e.ID, err)
	}
	return nil
}

// ListByProject returns a project's events in commit order.
func (s *EventStore) ListByProject(ctx context.Context, projectID string, opts domain.ListOpts) ([]domain.Event, error) {
	query, args := appendListOpts(`SELECT `+eventCols+` FROM bond_events WHERE project_id = $1`,
		[]any{projectID}, "occurred_at", "seq", opts)
	return s.queryEvents(ctx, "list events by project", query, args...)
}

// ListUnpublished returns the oldest events not yet delivered to the bus.
func (s *EventStore) ListUnpublished(ctx context.Context, limit int) ([]domain.Event, error) {
	query := `SELECT ` + eventCols + ` FROM bond_events WHERE published_at IS NULL ORDER BY seq`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT $1`
		args = append(args, limit)
	}
	return s.queryEvents(ctx, "list unpublished events", query, args...)
}

// MarkPublished records delivery of the given events. Events already marked
// keep their original timestamp.
func (s *EventStore) MarkPublished(ctx context.Context, ids []string, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	const query = `UPDATE bond_events SET published_at = $2 WHERE id = ANY($1) AND published_at IS NULL`
	if _, err := s.pool.Exec(ctx, query, ids, at); err != nil {
		return fmt.Errorf("postgres: mark %d events published: %w", len(ids), err)
	}
	return nil
}

// ListBefore returns every event that occurred before the cutoff.
func (s *EventStore) ListBefore(ctx context.Context, before time.Time) ([]domain.Event, error) {
	query := `SELECT ` + eventCols + ` FROM bond_events WHERE occurred_at < $1 ORDER BY seq`
	return s.queryEvents(ctx, "list events before", query, before)
}

func (s *EventStore) queryEvents(ctx context.Context, op, query string, args ...any) ([]domain.Event, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: %s: %w", op, err)
	}
	defer rows.Close()

	list := make([]domain.Event, 0)
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: %s: scan: %w", op, err)
		}
		list = append(list, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: %s rows: %w", op, err)
	}
	return list, nil
}
