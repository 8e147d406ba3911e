package bond

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/bondvault/internal/domain"
)

// CreateParams are the issuer-supplied terms of a new offering.
type CreateParams struct {
	Name          string
	Description   string
	MetadataURI   string
	TotalAmount   uint64
	AnnualRateBps uint32
	MaturityDate  time.Time
}

// Controller validates and applies lifecycle operations to a project held
// by the caller. Every precondition is checked before any field is written,
// so a rejected call leaves the project and claim exactly as they were.
//
// Controller is stateless apart from its id source and is safe for
// concurrent use; serializing operations on one project is the caller's job.
type Controller struct {
	newID func() string
}

// Option configures a Controller.
type Option func(*Controller)

// WithIDGenerator overrides the id source used for projects, claims, and
// events.
func WithIDGenerator(fn func() string) Option {
	return func(c *Controller) { c.newID = fn }
}

// NewController creates a Controller that assigns random UUIDs.
func NewController(opts ...Option) *Controller {
	c := &Controller{newID: uuid.NewString}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Controller) event(typ domain.EventType, p *domain.BondProject, actor domain.Address, amount uint64, now time.Time) domain.Event {
	return domain.Event{
		ID:         c.newID(),
		Type:       typ,
		ProjectID:  p.ID,
		Actor:      actor,
		Amount:     amount,
		OccurredAt: now,
	}
}

// Create registers a new offering owned by issuer.
func (c *Controller) Create(issuer domain.Address, params CreateParams, now time.Time) (domain.BondProject, domain.Event, error) {
	if params.TotalAmount == 0 {
		return domain.BondProject{}, domain.Event{}, fmt.Errorf("%w: total_amount must be greater than zero", domain.ErrInvalidParameter)
	}
	if domain.IsZeroAddress(issuer) {
		return domain.BondProject{}, domain.Event{}, fmt.Errorf("%w: issuer must not be the zero address", domain.ErrInvalidParameter)
	}

	p := domain.BondProject{
		ID:            c.newID(),
		Issuer:        issuer,
		Name:          params.Name,
		Description:   params.Description,
		MetadataURI:   params.MetadataURI,
		TotalAmount:   params.TotalAmount,
		AnnualRateBps: params.AnnualRateBps,
		IssueDate:     now,
		MaturityDate:  params.MaturityDate,
		Sale:          domain.SaleOpen,
	}

	evt := c.event(domain.EventProjectCreated, &p, issuer, 0, now)
	maturity := p.MaturityDate
	evt.Name = p.Name
	evt.Cap = p.TotalAmount
	evt.RateBps = p.AnnualRateBps
	evt.Maturity = &maturity
	return p, evt, nil
}

// Purchase mints one claim of amount for buyer against p's remaining
// capacity. Reaching the cap closes the sale in the same step.
func (c *Controller) Purchase(p *domain.BondProject, buyer domain.Address, amount uint64, now time.Time) (domain.Claim, domain.Event, error) {
	if amount == 0 {
		return domain.Claim{}, domain.Event{}, domain.ErrZeroAmount
	}
	if !p.Active() {
		return domain.Claim{}, domain.Event{}, fmt.Errorf("%w: sale is %s", domain.ErrSaleInactive, p.Sale)
	}
	if remaining := p.TotalAmount - p.AmountRaised; amount > remaining {
		return domain.Claim{}, domain.Event{}, fmt.Errorf("%w: requested %d, remaining %d", domain.ErrCapacityExceeded, amount, remaining)
	}
	raised, err := p.RaisedFunds.Credit(amount)
	if err != nil {
		return domain.Claim{}, domain.Event{}, err
	}

	claim := domain.Claim{
		ID:           c.newID(),
		ProjectID:    p.ID,
		Sequence:     p.TokensIssued + 1,
		Owner:        buyer,
		Principal:    amount,
		PurchaseDate: now,
		RateBps:      p.AnnualRateBps,
		MaturityDate: p.MaturityDate,
		State:        domain.ClaimLive,
	}

	p.RaisedFunds = raised
	p.TokensIssued++
	p.AmountRaised += amount
	if p.AmountRaised >= p.TotalAmount {
		p.Sale = domain.SaleSoldOut
	}

	evt := c.event(domain.EventTokensPurchased, p, buyer, amount, now)
	evt.ClaimID = claim.ID
	return claim, evt, nil
}

// Deposit credits the redemption pool. A deposit observed at or after
// maturity marks the project redeemable; the flag is never cleared.
func (c *Controller) Deposit(p *domain.BondProject, caller domain.Address, amount uint64, now time.Time) (domain.Event, error) {
	if caller != p.Issuer {
		return domain.Event{}, domain.ErrNotIssuer
	}
	if amount == 0 {
		return domain.Event{}, fmt.Errorf("%w: deposit must be greater than zero", domain.ErrInvalidAmount)
	}
	pool, err := p.RedemptionPool.Credit(amount)
	if err != nil {
		return domain.Event{}, err
	}

	p.RedemptionPool = pool
	if !now.Before(p.MaturityDate) {
		p.Redeemable = true
	}
	return c.event(domain.EventRedemptionFundsDeposited, p, caller, amount, now), nil
}

// Redeem pays out a matured claim from the redemption pool. The returned
// claim is the retired record; the caller's copy must not be reused.
func (c *Controller) Redeem(p *domain.BondProject, claim domain.Claim, caller domain.Address, now time.Time) (domain.Claim, domain.Event, error) {
	if claim.ProjectID != p.ID {
		return claim, domain.Event{}, fmt.Errorf("%w: claim %s belongs to project %s", domain.ErrInvalidParameter, claim.ID, claim.ProjectID)
	}
	if caller != claim.Owner {
		return claim, domain.Event{}, domain.ErrNotOwner
	}
	if claim.Redeemed() {
		return claim, domain.Event{}, domain.ErrAlreadyRedeemed
	}
	if now.Before(claim.MaturityDate) {
		return claim, domain.Event{}, fmt.Errorf("%w: matures at %s", domain.ErrNotMatured, claim.MaturityDate.UTC().Format(time.RFC3339))
	}
	payout, err := RedemptionAmount(claim)
	if err != nil {
		return claim, domain.Event{}, err
	}
	pool, ok := p.RedemptionPool.Debit(payout)
	if !ok {
		return claim, domain.Event{}, fmt.Errorf("%w: owed %d, pool holds %d",
			domain.ErrInsufficientRedemptionFunds, payout, p.RedemptionPool.Balance)
	}

	p.RedemptionPool = pool
	p.TokensRedeemed++
	p.AmountRedeemed += claim.Principal
	if p.AmountRedeemed >= p.AmountRaised && p.Sale == domain.SaleOpen {
		p.Sale = domain.SalePaused
	}

	redeemedAt := now
	claim.State = domain.ClaimRedeemed
	claim.RedeemedAt = &redeemedAt
	claim.Payout = payout

	evt := c.event(domain.EventClaimRedeemed, p, caller, payout, now)
	evt.ClaimID = claim.ID
	return claim, evt, nil
}

// Withdraw releases raised funds to the issuer. It is allowed in any sale
// state.
func (c *Controller) Withdraw(p *domain.BondProject, caller domain.Address, amount uint64, now time.Time) (domain.Event, error) {
	if caller != p.Issuer {
		return domain.Event{}, domain.ErrNotIssuer
	}
	if amount == 0 {
		return domain.Event{}, domain.ErrZeroAmount
	}
	pool, ok := p.RaisedFunds.Debit(amount)
	if !ok {
		return domain.Event{}, fmt.Errorf("%w: requested %d, pool holds %d",
			domain.ErrInsufficientFunds, amount, p.RaisedFunds.Balance)
	}

	p.RaisedFunds = pool
	p.AmountWithdrawn += amount
	return c.event(domain.EventFundsWithdrawn, p, caller, amount, now), nil
}

// Pause stops purchases on an open sale.
func (c *Controller) Pause(p *domain.BondProject, caller domain.Address, now time.Time) (domain.Event, error) {
	if caller != p.Issuer {
		return domain.Event{}, domain.ErrNotIssuer
	}
	if p.Sale != domain.SaleOpen {
		return domain.Event{}, fmt.Errorf("%w: sale is already %s", domain.ErrInvalidState, p.Sale)
	}
	p.Sale = domain.SalePaused
	return c.event(domain.EventSalePaused, p, caller, 0, now), nil
}

// Resume reopens a paused sale. A sold-out sale cannot be resumed.
func (c *Controller) Resume(p *domain.BondProject, caller domain.Address, now time.Time) (domain.Event, error) {
	if caller != p.Issuer {
		return domain.Event{}, domain.ErrNotIssuer
	}
	if p.Sale != domain.SalePaused {
		return domain.Event{}, fmt.Errorf("%w: sale is %s", domain.ErrInvalidState, p.Sale)
	}
	p.Sale = domain.SaleOpen
	return c.event(domain.EventSaleResumed, p, caller, 0, now), nil
}
