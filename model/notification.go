package model

import "time"

// Payout notification types consumed by the marketplace UI. The settlement
// engine only ever inserts these rows.
const (
	NotificationPayoutSent       = "PAYOUT_SENT"
	NotificationPayoutProcessing = "PAYOUT_PROCESSING"
	NotificationPayoutHeld       = "PAYOUT_HELD"
	NotificationBookingCompleted = "BOOKING_COMPLETED"
	NotificationBookingCancelled = "BOOKING_CANCELLED"
	NotificationVerificationDue  = "VERIFICATION_DUE"
)

// PayoutNotification is a fire-and-forget record addressed to one user.
type PayoutNotification struct {
	ID             int64     `json:"-"`
	NotificationID string    `json:"notification_id"`
	UserID         string    `json:"user_id"`
	Type           string    `json:"type"`
	Title          string    `json:"title"`
	Content        string    `json:"content"`
	BookingID      string    `json:"booking_id"`
	CreatedAt      time.Time `json:"created_at"`
}
