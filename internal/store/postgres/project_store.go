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

// ProjectStore implements domain.ProjectStore using PostgreSQL.
type ProjectStore struct {
	pool *pgxpool.Pool
}

// NewProjectStore creates a new ProjectStore.
func NewProjectStore(pool *pgxpool.Pool) *ProjectStore {
	return &ProjectStore{pool: pool}
}

const projectCols = `id, issuer, name, description, metadata_uri,
	total_amount::text, amount_raised::text, amount_redeemed::text, amount_withdrawn::text,
	tokens_issued, tokens_redeemed, annual_rate_bps, issue_date, maturity_date,
	sale_state, redeemable, raised_funds::text, redemption_pool::text, version`

func scanProject(row rowScanner) (domain.BondProject, error) {
	var (
		p                                        domain.BondProject
		issuer, sale                             string
		total, raised, redeemed, withdrawn       string
		raisedFunds, redemptionPool              string
		tokensIssued, tokensRedeemed, rate, vers int64
	)
	if err := row.Scan(
		&p.ID, &issuer, &p.Name, &p.Description, &p.MetadataURI,
		&total, &raised, &redeemed, &withdrawn,
		&tokensIssued, &tokensRedeemed, &rate, &p.IssueDate, &p.MaturityDate,
		&sale, &p.Redeemable, &raisedFunds, &redemptionPool, &vers,
	); err != nil {
		return domain.BondProject{}, err
	}

	amounts := []struct {
		col string
		src string
		dst *uint64
	}{
		{"total_amount", total, &p.TotalAmount},
		{"amount_raised", raised, &p.AmountRaised},
		{"amount_redeemed", redeemed, &p.AmountRedeemed},
		{"amount_withdrawn", withdrawn, &p.AmountWithdrawn},
		{"raised_funds", raisedFunds, &p.RaisedFunds.Balance},
		{"redemption_pool", redemptionPool, &p.RedemptionPool.Balance},
	}
	for _, a := range amounts {
		v, err := parseAmount(a.col, a.src)
		if err != nil {
			return domain.BondProject{}, err
		}
		*a.dst = v
	}

	p.Issuer = common.HexToAddress(issuer)
	p.Sale = domain.SaleState(sale)
	p.TokensIssued = uint64(tokensIssued)
	p.TokensRedeemed = uint64(tokensRedeemed)
	p.AnnualRateBps = uint32(rate)
	p.Version = uint64(vers)
	p.IssueDate = utc(p.IssueDate)
	p.MaturityDate = utc(p.MaturityDate)
	return p, nil
}

// GetByID returns a project by id.
func (s *ProjectStore) GetByID(ctx context.Context, id string) (domain.BondProject, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+projectCols+` FROM bond_projects WHERE id = $1`, id)
	p, err := scanProject(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.BondProject{}, fmt.Errorf("postgres: get project %s: %w", id, domain.ErrNotFound)
		}
		return domain.BondProject{}, fmt.Errorf("postgres: get project %s: %w", id, err)
	}
	return p, nil
}

// List returns projects, newest issue first.
func (s *ProjectStore) List(ctx context.Context, opts domain.ListOpts) ([]domain.BondProject, error) {
	query, args := appendListOpts(`SELECT `+projectCols+` FROM bond_projects WHERE 1=1`, nil,
		"issue_date", "issue_date DESC, id", opts)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list projects: %w", err)
	}
	defer rows.Close()

	list := make([]domain.BondProject, 0)
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan project: %w", err)
		}
		list = append(list, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list projects rows: %w", err)
	}
	return list, nil
}
