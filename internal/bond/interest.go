// Package bond implements the bond lifecycle: the simple-interest
// calculator, the lifecycle controller that validates and applies the seven
// state-changing operations, and read-only projections over projects and
// claims. Everything here is pure and synchronous; persistence, locking, and
// event delivery live in package service.
package bond

import (
	"fmt"
	"time"

	"github.com/holiman/uint256"

	"github.com/alanyoungcy/bondvault/internal/domain"
)

const (
	// BasisPoints is 100% expressed in basis points.
	BasisPoints = 10_000
	// DaysPerYear is fixed regardless of leap years.
	DaysPerYear = 365
	// Day is the unit of interest accrual. Partial days do not accrue.
	Day = 24 * time.Hour
)

var interestDenominator = uint256.NewInt(DaysPerYear * BasisPoints)

// HoldingDays returns the whole days between from and to, or zero when to
// is not after from.
func HoldingDays(from, to time.Time) uint64 {
	if !to.After(from) {
		return 0
	}
	return uint64(to.Sub(from) / Day)
}

// SimpleInterest returns floor(principal * rateBps * days / (365 * 10000)).
// The intermediate product is computed in 256 bits, so only a result that
// does not fit in 64 bits is an error.
func SimpleInterest(principal uint64, rateBps uint32, days uint64) (uint64, error) {
	n := new(uint256.Int).SetUint64(principal)
	n.Mul(n, uint256.NewInt(uint64(rateBps)))
	n.Mul(n, uint256.NewInt(days))
	n.Div(n, interestDenominator)
	if !n.IsUint64() {
		return 0, fmt.Errorf("%w: interest on %d at %d bps for %d days", domain.ErrOverflow, principal, rateBps, days)
	}
	return n.Uint64(), nil
}

// accrue returns principal plus interest for a claim held until end.
// Accrual never runs past the claim's maturity.
func accrue(c domain.Claim, end time.Time) (days, interest, total uint64, err error) {
	if end.After(c.MaturityDate) {
		end = c.MaturityDate
	}
	days = HoldingDays(c.PurchaseDate, end)
	interest, err = SimpleInterest(c.Principal, c.RateBps, days)
	if err != nil {
		return 0, 0, 0, err
	}
	total = c.Principal + interest
	if total < c.Principal {
		return 0, 0, 0, fmt.Errorf("%w: principal %d plus interest %d", domain.ErrOverflow, c.Principal, interest)
	}
	return days, interest, total, nil
}

// RedemptionAmount returns the payout owed for c at maturity.
func RedemptionAmount(c domain.Claim) (uint64, error) {
	_, _, total, err := accrue(c, c.MaturityDate)
	return total, err
}
