package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/bondvault/internal/domain"
)

// ClaimStore implements domain.ClaimStore using PostgreSQL.
type ClaimStore struct {
	pool *pgxpool.Pool
}

// NewClaimStore creates a new ClaimStore.
func NewClaimStore(pool *pgxpool.Pool) *ClaimStore {
	return &ClaimStore{pool: pool}
}

const claimCols = `id, project_id, sequence_number, owner, principal::text,
	purchase_date, rate_bps, maturity_date, state, redeemed_at, payout::text`

func scanClaim(row rowScanner) (domain.Claim, error) {
	var (
		c                 domain.Claim
		owner, state      string
		principal, payout string
		seq, rate         int64
	)
	if err := row.Scan(
		&c.ID, &c.ProjectID, &seq, &owner, &principal,
		&c.PurchaseDate, &rate, &c.MaturityDate, &state, &c.RedeemedAt, &payout,
	); err != nil {
		return domain.Claim{}, err
	}

	var err error
	if c.Principal, err = parseAmount("principal", principal); err != nil {
		return domain.Claim{}, err
	}
	if c.Payout, err = parseAmount("payout", payout); err != nil {
		return domain.Claim{}, err
	}
	c.Owner = common.HexToAddress(owner)
	c.State = domain.ClaimState(state)
	c.Sequence = uint64(seq)
	c.RateBps = uint32(rate)
	c.PurchaseDate = utc(c.PurchaseDate)
	c.MaturityDate = utc(c.MaturityDate)
	if c.RedeemedAt != nil {
		ts := utc(*c.RedeemedAt)
		c.RedeemedAt = &ts
	}
	return c, nil
}

// GetByID returns a claim by id.
func (s *ClaimStore) GetByID(ctx context.Context, id string) (domain.Claim, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+claimCols+` FROM bond_claims WHERE id = $1`, id)
	c, err := scanClaim(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Claim{}, fmt.Errorf("postgres: get claim %s: %w", id, domain.ErrNotFound)
		}
		return domain.Claim{}, fmt.Errorf("postgres: get claim %s: %w", id, err)
	}
	return c, nil
}

// ListByOwner returns every claim held by owner.
func (s *ClaimStore) ListByOwner(ctx context.Context, owner domain.Address, opts domain.ListOpts) ([]domain.Claim, error) {
	query, args := appendListOpts(`SELECT `+claimCols+` FROM bond_claims WHERE owner = $1`,
		[]any{owner.Hex()}, "purchase_date", "project_id, sequence_number", opts)
	return s.queryClaims(ctx, "list claims by owner", query, args...)
}

// ListByProject returns the claims minted by a project in mint order.
func (s *ClaimStore) ListByProject(ctx context.Context, projectID string, opts domain.ListOpts) ([]domain.Claim, error) {
	query, args := appendListOpts(`SELECT `+claimCols+` FROM bond_claims WHERE project_id = $1`,
		[]any{projectID}, "purchase_date", "sequence_number", opts)
	return s.queryClaims(ctx, "list claims by project", query, args...)
}

func (s *ClaimStore) queryClaims(ctx context.Context, op, query string, args ...any) ([]domain.Claim, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: %s: %w", op, err)
	}
	defer rows.Close()

	list := make([]domain.Claim, 0)
	for rows.Next() {
		c, err := scanClaim(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: %s: scan: %w", op, err)
		}
		list = append(list, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: %s rows: %w", op, err)
	}
	return list, nil
}
