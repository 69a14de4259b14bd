package model

import (
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// Tranche kinds carried in transfer metadata.
const (
	TrancheFirst = "first"
	TrancheFinal = "final"
)

// TransferMetadata is the typed set of fields attached to every transfer sent
// to the payment processor. Keeping this a struct rather than a free-form map
// gives compile-time safety over what the processor dashboard will show.
type TransferMetadata struct {
	BookingID  string `json:"booking_id"`
	CampaignID string `json:"campaign_id"`
	OwnerID    string `json:"owner_id"`
	Tranche    string `json:"tranche"`
}

// TransferRequest describes a single source-linked transfer: funds are drawn
// from the exact captured charge that escrowed the advertiser's payment, so
// per-booking accounting stays auditable and bookings never commingle.
type TransferRequest struct {
	AmountMinor        int64            `json:"amount"`
	Currency           string           `json:"currency"`
	DestinationAccount string           `json:"destination"`
	SourceChargeID     string           `json:"source_charge"`
	Description        string           `json:"description"`
	Metadata           TransferMetadata `json:"metadata"`
}

func (r TransferRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.AmountMinor, validation.Required, validation.Min(1)),
		validation.Field(&r.DestinationAccount, validation.Required),
		validation.Field(&r.SourceChargeID, validation.Required),
		validation.Field(&r.Metadata, validation.By(func(interface{}) error {
			return validation.ValidateStruct(&r.Metadata,
				validation.Field(&r.Metadata.BookingID, validation.Required),
				validation.Field(&r.Metadata.Tranche, validation.Required, validation.In(TrancheFirst, TrancheFinal)),
			)
		})),
	)
}

// Transfer is the processor's record of a completed payout transfer.
type Transfer struct {
	TransferID         string    `json:"id"`
	AmountMinor        int64     `json:"amount"`
	Currency           string    `json:"currency"`
	DestinationAccount string    `json:"destination"`
	SourceChargeID     string    `json:"source_charge"`
	CreatedAt          time.Time `json:"created_at"`
}
