package domain

import "time"

// EventType names a domain event emitted after a successful operation.
type EventType string

const (
	EventProjectCreated           EventType = "ProjectCreated"
	EventTokensPurchased          EventType = "TokensPurchased"
	EventRedemptionFundsDeposited EventType = "RedemptionFundsDeposited"
	EventClaimRedeemed            EventType = "ClaimRedeemed"
	EventFundsWithdrawn           EventType = "FundsWithdrawn"
	EventSalePaused               EventType = "SalePaused"
	EventSaleResumed              EventType = "SaleResumed"
)

// Event is an immutable, append-only record of one committed operation.
// Actor is the issuer, buyer, redeemer, or withdrawer depending on Type.
// Amount is the purchase amount, deposit, payout, or withdrawal; zero for
// pause and resume.
type Event struct {
	ID        string    `json:"id"`
	Type      EventType `json:"type"`
	ProjectID string    `json:"project_id"`
	ClaimID   string    `json:"claim_id,omitempty"`
	Actor     Address   `json:"actor"`
	Amount    uint64    `json:"amount,string"`

	// ProjectCreated only.
	Name     string     `json:"name,omitempty"`
	Cap      uint64     `json:"cap,omitempty,string"`
	RateBps  uint32     `json:"rate_bps,omitempty"`
	Maturity *time.Time `json:"maturity,omitempty"`

	OccurredAt  time.Time  `json:"occurred_at"`
	PublishedAt *time.Time `json:"-"`
}

// EventChannel is the pub/sub channel carrying events for one project.
func EventChannel(projectID string) string {
	return "bond:events:" + projectID
}

// EventStream is the durable stream carrying every event.
const EventStream = "bond:events"
