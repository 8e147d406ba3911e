package domain

import (
	"fmt"
	"time"
)

// SaleState is the purchase-acceptance state of a bond project.
type SaleState string

const (
	// SaleOpen accepts purchases.
	SaleOpen SaleState = "open"
	// SalePaused rejects purchases until the issuer resumes the sale.
	SalePaused SaleState = "paused"
	// SaleSoldOut is terminal: the funding cap has been reached.
	SaleSoldOut SaleState = "sold_out"
)

// Active reports whether purchases are accepted in this state.
func (s SaleState) Active() bool { return s == SaleOpen }

// Valid reports whether s is a known state.
func (s SaleState) Valid() bool {
	switch s {
	case SaleOpen, SalePaused, SaleSoldOut:
		return true
	}
	return false
}

// Pool is a custody balance held on behalf of a project. The engine only
// computes balances; moving the underlying funds is the job of an external
// transfer mechanism.
type Pool struct {
	Balance uint64 `json:"balance,string"`
}

// Credit returns the pool after adding amount.
func (p Pool) Credit(amount uint64) (Pool, error) {
	sum := p.Balance + amount
	if sum < p.Balance {
		return p, ErrOverflow
	}
	return Pool{Balance: sum}, nil
}

// Debit returns the pool after removing amount. The second result is false
// when the balance cannot cover amount.
func (p Pool) Debit(amount uint64) (Pool, bool) {
	if amount > p.Balance {
		return p, false
	}
	return Pool{Balance: p.Balance - amount}, true
}

// BondProject is the aggregate for one bond offering. All mutation goes
// through the lifecycle controller in package bond.
type BondProject struct {
	ID          string  `json:"id"`
	Issuer      Address `json:"issuer"`
	Name        string  `json:"name"`
	Description string  `json:"description,omitempty"`
	MetadataURI string  `json:"metadata_uri,omitempty"`

	TotalAmount     uint64 `json:"total_amount,string"`
	AmountRaised    uint64 `json:"amount_raised,string"`
	AmountRedeemed  uint64 `json:"amount_redeemed,string"`
	AmountWithdrawn uint64 `json:"amount_withdrawn,string"`
	TokensIssued    uint64 `json:"tokens_issued"`
	TokensRedeemed  uint64 `json:"tokens_redeemed"`

	AnnualRateBps uint32    `json:"annual_rate_bps"`
	IssueDate     time.Time `json:"issue_date"`
	MaturityDate  time.Time `json:"maturity_date"`

	Sale       SaleState `json:"sale_state"`
	Redeemable bool      `json:"redeemable"`

	RaisedFunds    Pool `json:"raised_funds"`
	RedemptionPool Pool `json:"redemption_pool"`

	// Version is bumped on every committed mutation and guards against
	// lost updates in the persistence layer.
	Version uint64 `json:"version"`
}

// Active reports whether new purchases are accepted.
func (p BondProject) Active() bool { return p.Sale.Active() }

// CheckInvariants verifies the money-conservation rules that every committed
// state must satisfy.
func (p BondProject) CheckInvariants() error {
	switch {
	case p.TotalAmount == 0:
		return fmt.Errorf("%w: total_amount is zero", ErrInvariant)
	case p.AmountRaised > p.TotalAmount:
		return fmt.Errorf("%w: amount_raised %d exceeds total_amount %d", ErrInvariant, p.AmountRaised, p.TotalAmount)
	case p.AmountRedeemed > p.AmountRaised:
		return fmt.Errorf("%w: amount_redeemed %d exceeds amount_raised %d", ErrInvariant, p.AmountRedeemed, p.AmountRaised)
	case p.TokensRedeemed > p.TokensIssued:
		return fmt.Errorf("%w: tokens_redeemed %d exceeds tokens_issued %d", ErrInvariant, p.TokensRedeemed, p.TokensIssued)
	case p.RaisedFunds.Balance+p.AmountWithdrawn != p.AmountRaised:
		return fmt.Errorf("%w: raised_funds %d + withdrawn %d != amount_raised %d",
			ErrInvariant, p.RaisedFunds.Balance, p.AmountWithdrawn, p.AmountRaised)
	case !p.Sale.Valid():
		return fmt.Errorf("%w: unknown sale state %q", ErrInvariant, p.Sale)
	case p.AmountRaised >= p.TotalAmount && p.Sale != SaleSoldOut:
		return fmt.Errorf("%w: fully funded project in state %q", ErrInvariant, p.Sale)
	}
	return nil
}
