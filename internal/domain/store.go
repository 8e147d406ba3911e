package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// ProjectStore reads bond projects.
type ProjectStore interface {
	GetByID(ctx context.Context, id string) (BondProject, error)
	List(ctx context.Context, opts ListOpts) ([]BondProject, error)
}

// ClaimStore reads claims.
type ClaimStore interface {
	GetByID(ctx context.Context, id string) (Claim, error)
	ListByOwner(ctx context.Context, owner Address, opts ListOpts) ([]Claim, error)
	ListByProject(ctx context.Context, projectID string, opts ListOpts) ([]Claim, error)
}

// EventStore reads the append-only event log and tracks outbound delivery.
type EventStore interface {
	ListByProject(ctx context.Context, projectID string, opts ListOpts) ([]Event, error)
	ListUnpublished(ctx context.Context, limit int) ([]Event, error)
	MarkPublished(ctx context.Context, ids []string, at time.Time) error
	ListBefore(ctx context.Context, before time.Time) ([]Event, error)
}

// Mutation is the complete effect of one lifecycle operation. A Ledger
// applies it entirely or not at all.
type Mutation struct {
	// Project is the post-operation aggregate.
	Project BondProject
	// Create inserts Project instead of updating it.
	Create bool
	// ExpectedVersion is the version the operation was computed against.
	// Ignored when Create is set.
	ExpectedVersion uint64
	// MintedClaim is inserted when non-nil.
	MintedClaim *Claim
	// RetiredClaim is marked redeemed when non-nil.
	RetiredClaim *Claim
	Events       []Event
}

// Ledger commits mutations atomically. It returns ErrConflict when the
// stored project version no longer matches ExpectedVersion, or when a
// retired claim was already redeemed.
type Ledger interface {
	Commit(ctx context.Context, m Mutation) error
}
