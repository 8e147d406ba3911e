// Package memory is the in-process storage backend. It satisfies the same
// store and ledger interfaces as the Postgres backend and is used for the
// "memory" storage setting and in tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/alanyoungcy/bondvault/internal/domain"
)

// Store holds projects, claims, and events in maps guarded by one lock.
// Values are copied on the way in and out so callers never share memory
// with the store.
type Store struct {
	mu       sync.RWMutex
	projects map[string]domain.BondProject
	claims   map[string]domain.Claim
	events   []domain.Event
	eventIdx map[string]int
}

// New creates an empty Store.
func New() *Store {
	return &Store{
		projects: make(map[string]domain.BondProject),
		claims:   make(map[string]domain.Claim),
		eventIdx: make(map[string]int),
	}
}

// Projects returns the store as a ProjectStore.
func (s *Store) Projects() domain.ProjectStore { return projectView{s} }

// Claims returns the store as a ClaimStore.
func (s *Store) Claims() domain.ClaimStore { return claimView{s} }

// Events returns the store as an EventStore.
func (s *Store) Events() domain.EventStore { return eventView{s} }

// Commit applies m atomically.
func (s *Store) Commit(_ context.Context, m domain.Mutation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, exists := s.projects[m.Project.ID]
	switch {
	case m.Create && exists:
		return fmt.Errorf("memory: commit project %s: %w", m.Project.ID, domain.ErrAlreadyExists)
	case !m.Create && !exists:
		return fmt.Errorf("memory: commit project %s: %w", m.Project.ID, domain.ErrNotFound)
	case !m.Create && current.Version != m.ExpectedVersion:
		return fmt.Errorf("memory: commit project %s at version %d, stored %d: %w",
			m.Project.ID, m.ExpectedVersion, current.Version, domain.ErrConflict)
	}

	if m.MintedClaim != nil {
		if _, dup := s.claims[m.MintedClaim.ID]; dup {
			return fmt.Errorf("memory: mint claim %s: %w", m.MintedClaim.ID, domain.ErrAlreadyExists)
		}
	}
	if m.RetiredClaim != nil {
		stored, ok := s.claims[m.RetiredClaim.ID]
		if !ok {
			return fmt.Errorf("memory: retire claim %s: %w", m.RetiredClaim.ID, domain.ErrNotFound)
		}
		if stored.Redeemed() {
			return fmt.Errorf("memory: retire claim %s: %w", m.RetiredClaim.ID, domain.ErrConflict)
		}
	}
	for _, e := range m.Events {
		if _, dup := s.eventIdx[e.ID]; dup {
			return fmt.Errorf("memory: append event %s: %w", e.ID, domain.ErrAlreadyExists)
		}
	}

	p := m.Project
	if m.Create {
		p.Version = 1
	} else {
		p.Version = current.Version + 1
	}
	s.projects[p.ID] = p
	if m.MintedClaim != nil {
		s.claims[m.MintedClaim.ID] = copyClaim(*m.MintedClaim)
	}
	if m.RetiredClaim != nil {
		s.claims[m.RetiredClaim.ID] = copyClaim(*m.RetiredClaim)
	}
	for _, e := range m.Events {
		s.eventIdx[e.ID] = len(s.events)
		s.events = append(s.events, copyEvent(e))
	}
	return nil
}

type projectView struct{ s *Store }

func (v projectView) GetByID(_ context.Context, id string) (domain.BondProject, error) {
	v.s.mu.RLock()
	defer v.s.mu.RUnlock()
	p, ok := v.s.projects[id]
	if !ok {
		return domain.BondProject{}, fmt.Errorf("memory: get project %s: %w", id, domain.ErrNotFound)
	}
	return p, nil
}

func (v projectView) List(_ context.Context, opts domain.ListOpts) ([]domain.BondProject, error) {
	v.s.mu.RLock()
	out := make([]domain.BondProject, 0, len(v.s.projects))
	for _, p := range v.s.projects {
		if inWindow(p.IssueDate, opts) {
			out = append(out, p)
		}
	}
	v.s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].IssueDate.Equal(out[j].IssueDate) {
			return out[i].IssueDate.After(out[j].IssueDate)
		}
		return out[i].ID < out[j].ID
	})
	return paginate(out, opts), nil
}

type claimView struct{ s *Store }

func (v claimView) GetByID(_ context.Context, id string) (domain.Claim, error) {
	v.s.mu.RLock()
	defer v.s.mu.RUnlock()
	c, ok := v.s.claims[id]
	if !ok {
		return domain.Claim{}, fmt.Errorf("memory: get claim %s: %w", id, domain.ErrNotFound)
	}
	return copyClaim(c), nil
}

func (v claimView) ListByOwner(_ context.Context, owner domain.Address, opts domain.ListOpts) ([]domain.Claim, error) {
	return v.filter(opts, func(c domain.Claim) bool { return c.Owner == owner }), nil
}

func (v claimView) ListByProject(_ context.Context, projectID string, opts domain.ListOpts) ([]domain.Claim, error) {
	return v.filter(opts, func(c domain.Claim) bool { return c.ProjectID == projectID }), nil
}

func (v claimView) filter(opts domain.ListOpts, keep func(domain.Claim) bool) []domain.Claim {
	v.s.mu.RLock()
	out := make([]domain.Claim, 0)
	for _, c := range v.s.claims {
		if keep(c) && inWindow(c.PurchaseDate, opts) {
			out = append(out, copyClaim(c))
		}
	}
	v.s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].ProjectID != out[j].ProjectID {
			return out[i].ProjectID < out[j].ProjectID
		}
		return out[i].Sequence < out[j].Sequence
	})
	return paginate(out, opts)
}

type eventView struct{ s *Store }

func (v eventView) ListByProject(_ context.Context, projectID string, opts domain.ListOpts) ([]domain.Event, error) {
	v.s.mu.RLock()
	defer v.s.mu.RUnlock()
	out := make([]domain.Event, 0)
	for _, e := range v.s.events {
		if e.ProjectID == projectID && inWindow(e.OccurredAt, opts) {
			out = append(out, copyEvent(e))
		}
	}
	return paginate(out, opts), nil
}

func (v eventView) ListUnpublished(_ context.Context, limit int) ([]domain.Event, error) {
	v.s.mu.RLock()
	defer v.s.mu.RUnlock()
	out := make([]domain.Event, 0)
	for _, e := range v.s.events {
		if e.PublishedAt != nil {
			continue
		}
		out = append(out, copyEvent(e))
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (v eventView) MarkPublished(_ context.Context, ids []string, at time.Time) error {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	for _, id := range ids {
		i, ok := v.s.eventIdx[id]
		if !ok {
			return fmt.Errorf("memory: mark event %s published: %w", id, domain.ErrNotFound)
		}
		if v.s.events[i].PublishedAt == nil {
			ts := at
			v.s.events[i].PublishedAt = &ts
		}
	}
	return nil
}

func (v eventView) ListBefore(_ context.Context, before time.Time) ([]domain.Event, error) {
	v.s.mu.RLock()
	defer v.s.mu.RUnlock()
	out := make([]domain.Event, 0)
	for _, e := range v.s.events {
		if e.OccurredAt.Before(before) {
			out = append(out, copyEvent(e))
		}
	}
	return out, nil
}

func inWindow(t time.Time, opts domain.ListOpts) bool {
	if opts.Since != nil && t.Before(*opts.Since) {
		return false
	}
	if opts.Until != nil && !t.Before(*opts.Until) {
		return false
	}
	return true
}

func paginate[T any](items []T, opts domain.ListOpts) []T {
	if opts.Offset > 0 {
		if opts.Offset >= len(items) {
			return items[:0]
		}
		items = items[opts.Offset:]
	}
	if opts.Limit > 0 && len(items) > opts.Limit {
		items = items[:opts.Limit]
	}
	return items
}

func copyClaim(c domain.Claim) domain.Claim {
	if c.RedeemedAt != nil {
		ts := *c.RedeemedAt
		c.RedeemedAt = &ts
	}
	return c
}

func copyEvent(e domain.Event) domain.Event {
	if e.Maturity != nil {
		ts := *e.Maturity
		e.Maturity = &ts
	}
	if e.PublishedAt != nil {
		ts := *e.PublishedAt
		e.PublishedAt = &ts
	}
	return e
}

var (
	_ domain.Ledger       = (*Store)(nil)
	_ domain.ProjectStore = projectView{}
	_ domain.ClaimStore   = claimView{}
	_ domain.EventStore   = eventView{}
)
