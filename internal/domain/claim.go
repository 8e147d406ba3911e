package domain

import "time"

// ClaimState is the redemption state of a claim.
type ClaimState string

const (
	ClaimLive     ClaimState = "live"
	ClaimRedeemed ClaimState = "redeemed"
)

// Claim represents one purchase's right to principal plus interest. The
// rate and maturity are snapshots of the project terms at mint time so a
// claim's economics can be evaluated without the project.
type Claim struct {
	ID           string     `json:"id"`
	ProjectID    string     `json:"project_id"`
	Sequence     uint64     `json:"sequence_number"`
	Owner        Address    `json:"owner"`
	Principal    uint64     `json:"principal,string"`
	PurchaseDate time.Time  `json:"purchase_date"`
	RateBps      uint32     `json:"rate_bps"`
	MaturityDate time.Time  `json:"maturity_date"`
	State        ClaimState `json:"state"`
	RedeemedAt   *time.Time `json:"redeemed_at,omitempty"`
	Payout       uint64     `json:"payout,string"`
}

// Redeemed reports whether the claim has already been paid out.
func (c Claim) Redeemed() bool { return c.State == ClaimRedeemed }
