package model

import "time"

// Charge statuses reported by the payment processor.
const (
	ChargeStatusSucceeded = "succeeded"
	ChargeStatusPending   = "pending"
	ChargeStatusFailed    = "failed"
)

// Charge is the processor's record of the advertiser payment that escrowed a
// booking's funds. Transfers draw against it, so it must be captured before
// any payout leaves.
type Charge struct {
	ChargeID    string    `json:"id"`
	Status      string    `json:"status"`
	Captured    bool      `json:"captured"`
	AmountMinor int64     `json:"amount"`
	Currency    string    `json:"currency"`
	CreatedAt   time.Time `json:"created_at"`
}

// Settled reports whether the escrowed funds are actually available to pay
// out from.
func (c Charge) Settled() bool {
	return c.Captured && c.Status == ChargeStatusSucceeded
}
