package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/bondvault/internal/domain"
)

const (
	pgUniqueViolation      = "23505"
	pgSerializationFailure = "40001"
)

// Ledger implements domain.Ledger. Each mutation runs in one serializable
// transaction and the project row is guarded by its version column.
type Ledger struct {
	pool *pgxpool.Pool
}

// NewLedger creates a new Ledger.
func NewLedger(pool *pgxpool.Pool) *Ledger {
	return &Ledger{pool: pool}
}

// Commit applies m atomically.
func (l *Ledger) Commit(ctx context.Context, m domain.Mutation) error {
	tx, err := l.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return fmt.Errorf("postgres: begin commit for project %s: %w", m.Project.ID, err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if m.Create {
		err = insertProject(ctx, tx, m.Project)
	} else {
		err = updateProject(ctx, tx, m.Project, m.ExpectedVersion)
	}
	if err != nil {
		return err
	}

	if m.MintedClaim != nil {
		if err := insertClaim(ctx, tx, *m.MintedClaim); err != nil {
			return err
		}
	}
	if m.RetiredClaim != nil {
		if err := retireClaim(ctx, tx, *m.RetiredClaim); err != nil {
			return err
		}
	}
	for _, e := range m.Events {
		if err := insertEvent(ctx, tx, e); err != nil {
			return mapWriteErr(err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit project %s: %w", m.Project.ID, mapWriteErr(err))
	}
	return nil
}

func insertProject(ctx context.Context, tx pgx.Tx, p domain.BondProject) error {
	const query = `
		INSERT INTO bond_projects (
			id, issuer, name, description, metadata_uri,
			total_amount, amount_raised, amount_redeemed, amount_withdrawn,
			tokens_issued, tokens_redeemed, annual_rate_bps, issue_date, maturity_date,
			sale_state, redeemable, raised_funds, redemption_pool, version)
		VALUES ($1, $2, $3, $4, $5,
			$6::numeric, $7::numeric, $8::numeric, $9::numeric,
			$10, $11, $12, $13, $14,
			$15, $16, $17::numeric, $18::numeric, 1)`
	_, err := tx.Exec(ctx, query,
		p.ID, p.Issuer.Hex(), p.Name, p.Description, p.MetadataURI,
		amountArg(p.TotalAmount), amountArg(p.AmountRaised), amountArg(p.AmountRedeemed), amountArg(p.AmountWithdrawn),
		int64(p.TokensIssued), int64(p.TokensRedeemed), int64(p.AnnualRateBps), p.IssueDate, p.MaturityDate,
		string(p.Sale), p.Redeemable, amountArg(p.RaisedFunds.Balance), amountArg(p.RedemptionPool.Balance),
	)
	if err != nil {
		return fmt.Errorf("postgres: create project %s: %w", p.ID, mapWriteErr(err))
	}
	return nil
}

func updateProject(ctx context.Context, tx pgx.Tx, p domain.BondProject, expected uint64) error {
	const query = `
		UPDATE bond_projects SET
			amount_raised = $3::numeric, amount_redeemed = $4::numeric, amount_withdrawn = $5::numeric,
			tokens_issued = $6, tokens_redeemed = $7,
			sale_state = $8, redeemable = $9,
			raised_funds = $10::numeric, redemption_pool = $11::numeric,
			version = version + 1, updated_at = NOW()
		WHERE id = $1 AND version = $2`
	tag, err := tx.Exec(ctx, query,
		p.ID, int64(expected),
		amountArg(p.AmountRaised), amountArg(p.AmountRedeemed), amountArg(p.AmountWithdrawn),
		int64(p.TokensIssued), int64(p.TokensRedeemed),
		string(p.Sale), p.Redeemable,
		amountArg(p.RaisedFunds.Balance), amountArg(p.RedemptionPool.Balance),
	)
	if err != nil {
		return fmt.Errorf("postgres: update project %s: %w", p.ID, mapWriteErr(err))
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: update project %s at version %d: %w", p.ID, expected, domain.ErrConflict)
	}
	return nil
}

func insertClaim(ctx context.Context, tx pgx.Tx, c domain.Claim) error {
	const query = `
		INSERT INTO bond_claims (id, project_id, sequence_number, owner, principal,
			purchase_date, rate_bps, maturity_date, state, redeemed_at, payout)
		VALUES ($1, $2, $3, $4, $5::numeric, $6, $7, $8, $9, $10, $11::numeric)`
	_, err := tx.Exec(ctx, query,
		c.ID, c.ProjectID, int64(c.Sequence), c.Owner.Hex(), amountArg(c.Principal),
		c.PurchaseDate, int64(c.RateBps), c.MaturityDate, string(c.State), c.RedeemedAt, amountArg(c.Payout),
	)
	if err != nil {
		return fmt.Errorf("postgres: mint claim %s: %w", c.ID, mapWriteErr(err))
	}
	return nil
}

func retireClaim(ctx context.Context, tx pgx.Tx, c domain.Claim) error {
	const query = `
		UPDATE bond_claims SET state = $2, redeemed_at = $3, payout = $4::numeric
		WHERE id = $1 AND state = 'live'`
	tag, err := tx.Exec(ctx, query, c.ID, string(c.State), c.RedeemedAt, amountArg(c.Payout))
	if err != nil {
		return fmt.Errorf("postgres: retire claim %s: %w", c.ID, mapWriteErr(err))
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: retire claim %s: %w", c.ID, domain.ErrConflict)
	}
	return nil
}

// mapWriteErr translates constraint and serialization failures into domain
// sentinels.
func mapWriteErr(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgUniqueViolation:
			return fmt.Errorf("%w: %s", domain.ErrAlreadyExists, pgErr.ConstraintName)
		case pgSerializationFailure:
			return fmt.Errorf("%w: serialization failure", domain.ErrConflict)
		}
	}
	return err
}
