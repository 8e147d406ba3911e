package bond

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/bondvault/internal/domain"
)

func TestSaleProgress(t *testing.T) {
	p := domain.BondProject{ID: "p1", TotalAmount: 300, AmountRaised: 199}
	got, err := SaleProgress(p)
	require.NoError(t, err)
	assert.Equal(t, Progress{Raised: 199, Total: 300, Percent: 66}, got)

	big := domain.BondProject{ID: "p2", TotalAmount: math.MaxUint64, AmountRaised: math.MaxUint64 - 1}
	got, err = SaleProgress(big)
	require.NoError(t, err)
	assert.Equal(t, uint64(99), got.Percent)

	_, err = SaleProgress(domain.BondProject{ID: "p3"})
	assert.ErrorIs(t, err, domain.ErrInvalidParameter)
}

func TestAvailableCapacity(t *testing.T) {
	assert.Equal(t, uint64(35), AvailableCapacity(domain.BondProject{TotalAmount: 100, AmountRaised: 65}))
	assert.Equal(t, uint64(0), AvailableCapacity(domain.BondProject{TotalAmount: 100, AmountRaised: 100}))
}

func TestIsRedeemable(t *testing.T) {
	mat := time.Date(2026, 6, 30, 0, 0, 0, 0, time.UTC)
	p := domain.BondProject{MaturityDate: mat}

	assert.False(t, IsRedeemable(p, mat.Add(time.Hour)), "no deposit at maturity yet")

	p.Redeemable = true
	assert.False(t, IsRedeemable(p, mat.Add(-time.Second)))
	assert.True(t, IsRedeemable(p, mat))
}

func TestPreviewRedemption(t *testing.T) {
	purchase := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	c := domain.Claim{
		ID:           "c1",
		Principal:    1_000_000,
		RateBps:      1_000,
		PurchaseDate: purchase,
		MaturityDate: purchase.AddDate(1, 0, 0),
	}

	t.Run("before maturity accrues to now", func(t *testing.T) {
		got, err := PreviewRedemption(c, purchase.Add(182*Day+time.Hour))
		require.NoError(t, err)
		assert.Equal(t, uint64(182), got.HoldingDays)
		assert.Equal(t, uint64(49_863), got.Interest)
		assert.Equal(t, uint64(1_049_863), got.Total)
		assert.False(t, got.Matured)
	})

	t.Run("after maturity is capped", func(t *testing.T) {
		got, err := PreviewRedemption(c, purchase.AddDate(3, 0, 0))
		require.NoError(t, err)
		owed, err := RedemptionAmount(c)
		require.NoError(t, err)
		assert.Equal(t, uint64(365), got.HoldingDays)
		assert.Equal(t, owed, got.Total)
		assert.True(t, got.Matured)
	})

	t.Run("clock before purchase", func(t *testing.T) {
		got, err := PreviewRedemption(c, purchase.Add(-Day))
		require.NoError(t, err)
		assert.Zero(t, got.HoldingDays)
		assert.Equal(t, c.Principal, got.Total)
	})
}

func TestSummarize(t *testing.T) {
	mat := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	p := domain.BondProject{
		ID:             "p1",
		TotalAmount:    100,
		AmountRaised:   65,
		TokensIssued:   3,
		TokensRedeemed: 1,
		MaturityDate:   mat,
		Sale:           domain.SaleOpen,
		Redeemable:     true,
		RaisedFunds:    domain.Pool{Balance: 65},
		RedemptionPool: domain.Pool{Balance: 12},
	}

	got, err := Summarize(p, mat)
	require.NoError(t, err)
	assert.Equal(t, Summary{
		ProjectID:          "p1",
		Sale:               domain.SaleOpen,
		AvailableCapacity:  35,
		Progress:           Progress{Raised: 65, Total: 100, Percent: 65},
		Redeemable:         true,
		PendingRedemptions: 2,
		RaisedFunds:        65,
		RedemptionPool:     12,
	}, got)
}
