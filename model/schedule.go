package model

import "github.com/shopspring/decimal"

// DefaultFirstTranchePercent is the share of the rental total released with
// the first tranche once installation proof is approved.
var DefaultFirstTranchePercent = decimal.NewFromInt(30)

// PayoutSchedule holds the two tranche amounts owed to a space owner for one
// booking. The installation fee is paid entirely with the first tranche and is
// therefore not part of the rental split.
type PayoutSchedule struct {
	RentalTotal       decimal.Decimal `json:"rental_total"`
	FirstRentalPayout decimal.Decimal `json:"first_rental_payout"`
	FinalRentalPayout decimal.Decimal `json:"final_rental_payout"`
	InstallationFee   decimal.Decimal `json:"installation_fee"`
}

// ComputePayoutSchedule derives the tranche amounts from the booking terms.
// The first rental payout is the rounded percentage of the rental total; the
// final payout is the exact complement so the two always sum to the rental
// total with no cent drift.
func ComputePayoutSchedule(totalDays int, pricePerDay, installationFee decimal.Decimal, firstTranchePercent decimal.Decimal) PayoutSchedule {
	rentalTotal := pricePerDay.Mul(decimal.NewFromInt(int64(totalDays)))
	first := rentalTotal.Mul(firstTranchePercent).Div(decimal.NewFromInt(100)).Round(2)
	final := rentalTotal.Sub(first)

	return PayoutSchedule{
		RentalTotal:       rentalTotal,
		FirstRentalPayout: first,
		FinalRentalPayout: final,
		InstallationFee:   installationFee,
	}
}

// FirstTransferAmount is the full first-tranche amount: installation fee plus
// the first rental payout.
func (s PayoutSchedule) FirstTransferAmount() decimal.Decimal {
	return s.InstallationFee.Add(s.FirstRentalPayout)
}

// FinalTransferAmount is the full final-tranche amount.
func (s PayoutSchedule) FinalTransferAmount() decimal.Decimal {
	return s.FinalRentalPayout
}
