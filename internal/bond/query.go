package bond

import (
	"fmt"
	"time"

	"github.com/holiman/uint256"

	"github.com/alanyoungcy/bondvault/internal/domain"
)

// Progress is the funding progress of a sale.
type Progress struct {
	Raised  uint64 `json:"raised,string"`
	Total   uint64 `json:"total,string"`
	Percent uint64 `json:"percent"`
}

// Preview is a projected redemption for a claim.
type Preview struct {
	ClaimID     string `json:"claim_id"`
	Principal   uint64 `json:"principal,string"`
	Interest    uint64 `json:"interest,string"`
	Total       uint64 `json:"total,string"`
	HoldingDays uint64 `json:"holding_days"`
	Matured     bool   `json:"matured"`
}

// Summary bundles the read-only projections of a project at one instant.
type Summary struct {
	ProjectID          string           `json:"project_id"`
	Sale               domain.SaleState `json:"sale_state"`
	AvailableCapacity  uint64           `json:"available_capacity,string"`
	Progress           Progress         `json:"progress"`
	Redeemable         bool             `json:"redeemable"`
	PendingRedemptions uint64           `json:"pending_redemptions"`
	RaisedFunds        uint64           `json:"raised_funds,string"`
	RedemptionPool     uint64           `json:"redemption_pool,string"`
}

// AvailableCapacity returns how much can still be purchased.
func AvailableCapacity(p domain.BondProject) uint64 {
	if p.AmountRaised >= p.TotalAmount {
		return 0
	}
	return p.TotalAmount - p.AmountRaised
}

// SaleProgress returns raised, total, and floor(raised*100/total).
func SaleProgress(p domain.BondProject) (Progress, error) {
	if p.TotalAmount == 0 {
		return Progress{}, fmt.Errorf("%w: project %s has no total amount", domain.ErrInvalidParameter, p.ID)
	}
	pct := new(uint256.Int).SetUint64(p.AmountRaised)
	pct.Mul(pct, uint256.NewInt(100))
	pct.Div(pct, uint256.NewInt(p.TotalAmount))
	return Progress{Raised: p.AmountRaised, Total: p.TotalAmount, Percent: pct.Uint64()}, nil
}

// IsRedeemable reports whether the project is past maturity and has been
// marked redeemable by a deposit.
func IsRedeemable(p domain.BondProject, now time.Time) bool {
	return !now.Before(p.MaturityDate) && p.Redeemable
}

// PendingRedemptions returns the number of claims not yet redeemed.
func PendingRedemptions(p domain.BondProject) uint64 {
	return p.TokensIssued - p.TokensRedeemed
}

// PreviewRedemption projects the payout of c as of now. Before maturity the
// holding period is capped at now instead of failing.
func PreviewRedemption(c domain.Claim, now time.Time) (Preview, error) {
	end := now
	if end.After(c.MaturityDate) {
		end = c.MaturityDate
	}
	days, interest, total, err := accrue(c, end)
	if err != nil {
		return Preview{}, err
	}
	return Preview{
		ClaimID:     c.ID,
		Principal:   c.Principal,
		Interest:    interest,
		Total:       total,
		HoldingDays: days,
		Matured:     !now.Before(c.MaturityDate),
	}, nil
}

// Summarize computes every project projection at now.
func Summarize(p domain.BondProject, now time.Time) (Summary, error) {
	progress, err := SaleProgress(p)
	if err != nil {
		return Summary{}, err
	}
	return Summary{
		ProjectID:          p.ID,
		Sale:               p.Sale,
		AvailableCapacity:  AvailableCapacity(p),
		Progress:           progress,
		Redeemable:         IsRedeemable(p, now),
		PendingRedemptions: PendingRedemptions(p),
		RaisedFunds:        p.RaisedFunds.Balance,
		RedemptionPool:     p.RedemptionPool.Balance,
	}, nil
}
