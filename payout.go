/*
Copyright 2024 Adspace Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package adspace

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/trace"

	"github.com/adspacehq/adspace/config"
	"github.com/adspacehq/adspace/internal/notification"
	"github.com/adspacehq/adspace/model"
)

// settleBooking pays one tranche for one booking and returns the outcome as
// a single-booking tally. Every visit bumps the attempt counter first, so the
// counter reflects work done, not just work that succeeded.
func (a *Adspace) settleBooking(ctx context.Context, cfg *config.Configuration, booking *model.Booking, tranche string) model.PassStats {
	stats := model.PassStats{Scanned: 1}
	trace.SpanFromContext(ctx).AddEvent(fmt.Sprintf("settling %s tranche for booking %s", tranche, booking.BookingID))

	// The final tranche waits for every verification checkpoint. A deferred
	// booking is not a payout attempt, so the counter stays untouched.
	if tranche == model.TrancheFinal && !booking.VerificationComplete() {
		logrus.Infof("booking %s: verification checkpoints outstanding, deferring final payout", booking.BookingID)
		stats.Skipped++
		return stats
	}

	if err := a.datasource.RecordPayoutAttempt(ctx, booking.BookingID, time.Now()); err != nil {
		notification.NotifyError(err)
	}

	if booking.PayoutAccountID == "" {
		a.holdPayout(ctx, cfg, booking, "no payout account connected")
		stats.Held++
		return stats
	}

	if err := a.validateEscrowCharge(ctx, booking); err != nil {
		a.recordTransferFailure(ctx, cfg, booking, err, &stats)
		return stats
	}

	amount := trancheAmount(cfg, booking, tranche)
	if !amount.IsPositive() {
		// Nothing owed for this tranche. Record it as settled without a
		// processor round trip so the booking still progresses.
		updated, err := a.markTranchePaid(ctx, booking, tranche, amount, "")
		if err != nil {
			notification.NotifyError(errors.Wrapf(err, "booking %s: zero-amount %s tranche not recorded",
				booking.BookingID, tranche))
			stats.PendingRetry++
			return stats
		}
		if updated && tranche == model.TrancheFinal {
			a.notifyBookingCompleted(ctx, booking)
		}
		stats.Skipped++
		return stats
	}

	transferReq := &model.TransferRequest{
		AmountMinor:        model.ToMinorUnits(amount),
		Currency:           cfg.Settlement.Currency,
		DestinationAccount: booking.PayoutAccountID,
		SourceChargeID:     booking.ChargeReference,
		Description:        fmt.Sprintf("Booking %s %s payout", booking.BookingID, tranche),
		Metadata: model.TransferMetadata{
			BookingID:  booking.BookingID,
			CampaignID: booking.CampaignID,
			OwnerID:    booking.SpaceOwnerID,
			Tranche:    tranche,
		},
	}

	// bookingID:tranche is stable across runs, so a re-visit after a crash
	// or a lost database race replays as the same processor transfer.
	idempotencyKey := fmt.Sprintf("%s:%s", booking.BookingID, tranche)
	transfer, err := a.processor.CreateTransfer(ctx, transferReq, idempotencyKey)
	if err != nil {
		a.recordTransferFailure(ctx, cfg, booking, err, &stats)
		return stats
	}

	updated, err := a.markTranchePaid(ctx, booking, tranche, amount, transfer.TransferID)
	if err != nil {
		// The money moved but the ledger write failed. The next run
		// replays the transfer through the idempotency key and gets
		// another chance at the update.
		notification.NotifyError(errors.Wrapf(err, "booking %s: %s transfer %s sent but not recorded",
			booking.BookingID, tranche, transfer.TransferID))
		stats.PendingRetry++
		return stats
	}
	if !updated {
		// Another worker or an overlapping run recorded this tranche
		// already.
		logrus.Infof("booking %s: %s tranche already recorded, skipping", booking.BookingID, tranche)
		stats.Skipped++
		return stats
	}

	stats.Transferred++
	stats.AmountTransferred = amount
	a.notifyPayoutSent(ctx, booking, tranche, amount)
	if tranche == model.TrancheFinal {
		a.notifyBookingCompleted(ctx, booking)
	}
	return stats
}

// trancheAmount recomputes the schedule from the booking terms rather than
// trusting any stored amount, so the final tranche is always the exact
// complement of the first.
func trancheAmount(cfg *config.Configuration, booking *model.Booking, tranche string) decimal.Decimal {
	schedule := model.ComputePayoutSchedule(
		booking.TotalDays,
		booking.PricePerDay,
		booking.InstallationFee,
		decimal.NewFromInt(int64(cfg.Settlement.FirstTranchePercent)),
	)
	if tranche == model.TrancheFirst {
		return schedule.FirstTransferAmount()
	}
	return schedule.FinalTransferAmount()
}

func (a *Adspace) markTranchePaid(ctx context.Context, booking *model.Booking, tranche string, amount decimal.Decimal, transferID string) (bool, error) {
	if tranche == model.TrancheFirst {
		return a.datasource.MarkFirstPayoutProcessed(ctx, booking.BookingID, amount, transferID, time.Now())
	}
	return a.datasource.MarkFinalPayoutProcessed(ctx, booking.BookingID, amount, transferID, time.Now())
}

// validateEscrowCharge confirms the advertiser's payment actually holds the
// funds this payout will draw from.
func (a *Adspace) validateEscrowCharge(ctx context.Context, booking *model.Booking) error {
	if booking.PaidAt == nil || booking.ChargeReference == "" {
		return &TransferError{Kind: TransferErrorPermanent, Code: "no_payment_intent",
			Message: "no captured payment recorded on booking"}
	}

	charge, err := a.processor.GetCharge(ctx, booking.ChargeReference)
	if err != nil {
		return err
	}
	if !charge.Settled() {
		return &TransferError{Kind: TransferErrorPermanent, Code: "charge_not_captured",
			Message: fmt.Sprintf("charge %s is not captured", booking.ChargeReference)}
	}
	return nil
}

// recordTransferFailure routes a failed payout by its classification:
// transient failures wait for the next run until the attempt limit is
// reached, account failures park the booking, permanent failures stop it for
// an operator.
func (a *Adspace) recordTransferFailure(ctx context.Context, cfg *config.Configuration, booking *model.Booking, err error, stats *model.PassStats) {
	var transferErr *TransferError
	if !errors.As(err, &transferErr) {
		transferErr = &TransferError{Kind: TransferErrorTransient, Message: err.Error()}
	}

	switch transferErr.Kind {
	case TransferErrorAccountHeld:
		a.holdPayout(ctx, cfg, booking, transferErr.Message)
		stats.Held++

	case TransferErrorTransient:
		// The attempt recorded at the top of settleBooking counts.
		if booking.PayoutAttempts+1 >= cfg.Settlement.MaxTransientAttempts {
			note := fmt.Sprintf("Giving up after %d attempts", booking.PayoutAttempts+1)
			if dbErr := a.datasource.MarkPayoutFailed(ctx, booking.BookingID, transferErr.Error(), note); dbErr != nil {
				notification.NotifyError(dbErr)
			}
			notification.SendAlert(fmt.Sprintf("Payout for booking %s failed permanently: %s (%s)",
				booking.BookingID, transferErr.Message, note))
			stats.Failed++
			return
		}
		if dbErr := a.datasource.MarkPayoutPending(ctx, booking.BookingID, transferErr.Message); dbErr != nil {
			notification.NotifyError(dbErr)
		}
		a.notifyPayoutProcessing(ctx, booking)
		stats.PendingRetry++

	default:
		if dbErr := a.datasource.MarkPayoutFailed(ctx, booking.BookingID, transferErr.Error(),
			fmt.Sprintf("Settlement halted: %s", transferErr.Message)); dbErr != nil {
			notification.NotifyError(dbErr)
		}
		notification.NotifyError(errors.Wrapf(transferErr, "booking %s payout failed", booking.BookingID))
		stats.Failed++
	}
}
