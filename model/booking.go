package model

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// Booking lifecycle statuses. COMPLETED and CANCELLED are terminal; the
// settlement engine never deletes a booking row.
const (
	BookingStatusConfirmed = "CONFIRMED"
	BookingStatusActive    = "ACTIVE"
	BookingStatusCompleted = "COMPLETED"
	BookingStatusCancelled = "CANCELLED"
	BookingStatusDisputed  = "DISPUTED"
	BookingStatusRejected  = "REJECTED"
)

// Payout health statuses. Orthogonal to the booking lifecycle: they gate
// automatic retry, they are not lifecycle transitions.
const (
	PayoutStatusPending       = "PENDING"
	PayoutStatusPartiallyPaid = "PARTIALLY_PAID"
	PayoutStatusCompleted     = "COMPLETED"
	PayoutStatusFailed        = "FAILED"
)

const (
	ProofStatusPending  = "PENDING"
	ProofStatusApproved = "APPROVED"
)

// HoldReasonAccountDisconnected is the pending-payout reason code written by
// the payout hold manager. Bookings carrying it are excluded from automatic
// settlement until an operator clears the hold.
const HoldReasonAccountDisconnected = "PAYOUT_ACCOUNT_DISCONNECTED"

// VerificationCheckpoint is one scheduled proof-of-installation requirement.
// All checkpoints must be complete before the final tranche is released.
type VerificationCheckpoint struct {
	DueAt       time.Time  `json:"due_at"`
	Completed   bool       `json:"completed"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Booking is the central ledger entity. It is owned by the relational store;
// the settlement engine only reads it and advances its payout fields.
type Booking struct {
	ID           int64  `json:"-"`
	BookingID    string `json:"booking_id"`
	CampaignID   string `json:"campaign_id"`
	SpaceOwnerID string `json:"space_owner_id"`
	AdvertiserID string `json:"advertiser_id"`

	// Commercial terms.
	PricePerDay      decimal.Decimal `json:"price_per_day"`
	TotalDays        int             `json:"total_days"`
	InstallationFee  decimal.Decimal `json:"installation_fee"`
	SpaceOwnerAmount decimal.Decimal `json:"space_owner_amount"`

	// Payment capture.
	PaidAt          *time.Time `json:"paid_at,omitempty"`
	ChargeReference string     `json:"charge_reference,omitempty"`

	// Destination for payouts. Empty when the owner has not connected a
	// payout account.
	PayoutAccountID string `json:"payout_account_id,omitempty"`

	// Proof gate.
	ProofStatus     string     `json:"proof_status"`
	ProofUploadedAt *time.Time `json:"proof_uploaded_at,omitempty"`

	// Verification gate.
	VerificationSchedule []VerificationCheckpoint `json:"verification_schedule,omitempty"`
	NextVerificationDue  *time.Time               `json:"next_verification_due,omitempty"`

	// Payout progress.
	FirstPayoutProcessed bool            `json:"first_payout_processed"`
	FirstPayoutAmount    decimal.Decimal `json:"first_payout_amount"`
	FirstPayoutDate      *time.Time      `json:"first_payout_date,omitempty"`
	FirstTransferID      string          `json:"first_transfer_id,omitempty"`
	FinalPayoutProcessed bool            `json:"final_payout_processed"`
	FinalPayoutAmount    decimal.Decimal `json:"final_payout_amount"`
	FinalPayoutDate      *time.Time      `json:"final_payout_date,omitempty"`
	FinalTransferID      string          `json:"final_transfer_id,omitempty"`

	// Payout health.
	PayoutStatus        string     `json:"payout_status"`
	PayoutAttempts      int        `json:"payout_attempts"`
	LastPayoutAttempt   *time.Time `json:"last_payout_attempt,omitempty"`
	PayoutError         string     `json:"payout_error,omitempty"`
	PendingPayoutReason string     `json:"pending_payout_reason,omitempty"`
	AdminNotes          string     `json:"admin_notes,omitempty"`

	// Lifecycle.
	Status    string    `json:"status"`
	StartDate time.Time `json:"start_date"`
	EndDate   time.Time `json:"end_date"`
	CreatedAt time.Time `json:"created_at"`
}

func (b *Booking) ToJSON() ([]byte, error) {
	return json.Marshal(b)
}

// VerificationComplete reports whether every checkpoint in the schedule has
// been completed. An empty schedule counts as complete.
func (b *Booking) VerificationComplete() bool {
	for _, cp := range b.VerificationSchedule {
		if !cp.Completed {
			return false
		}
	}
	return true
}

// DaysSincePaid returns whole elapsed days since the advertiser's payment was
// captured, or 0 when the booking is unpaid.
func (b *Booking) DaysSincePaid(now time.Time) int {
	if b.PaidAt == nil {
		return 0
	}
	return int(now.Sub(*b.PaidAt).Hours() / 24)
}
