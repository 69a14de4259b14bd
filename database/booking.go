package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"

	"github.com/adspacehq/adspace/internal/apierror"
	"github.com/adspacehq/adspace/model"
)

// bookingColumns is the column list shared by every booking read. Keep it in
// sync with scanBooking.
const bookingColumns = `
	booking_id, campaign_id, space_owner_id, advertiser_id,
	price_per_day, total_days, installation_fee, space_owner_amount,
	paid_at, charge_reference, payout_account_id,
	proof_status, proof_uploaded_at,
	verification_schedule, next_verification_due,
	first_payout_processed, first_payout_amount, first_payout_date, first_transfer_id,
	final_payout_processed, final_payout_amount, final_payout_date, final_transfer_id,
	payout_status, payout_attempts, last_payout_attempt,
	payout_error, pending_payout_reason, admin_notes,
	status, start_date, end_date, created_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanBooking(row rowScanner) (*model.Booking, error) {
	booking := &model.Booking{}
	var paidAt, proofUploadedAt, nextVerificationDue sql.NullTime
	var firstPayoutDate, finalPayoutDate, lastPayoutAttempt sql.NullTime
	var scheduleJSON []byte

	err := row.Scan(
		&booking.BookingID, &booking.CampaignID, &booking.SpaceOwnerID, &booking.AdvertiserID,
		&booking.PricePerDay, &booking.TotalDays, &booking.InstallationFee, &booking.SpaceOwnerAmount,
		&paidAt, &booking.ChargeReference, &booking.PayoutAccountID,
		&booking.ProofStatus, &proofUploadedAt,
		&scheduleJSON, &nextVerificationDue,
		&booking.FirstPayoutProcessed, &booking.FirstPayoutAmount, &firstPayoutDate, &booking.FirstTransferID,
		&booking.FinalPayoutProcessed, &booking.FinalPayoutAmount, &finalPayoutDate, &booking.FinalTransferID,
		&booking.PayoutStatus, &booking.PayoutAttempts, &lastPayoutAttempt,
		&booking.PayoutError, &booking.PendingPayoutReason, &booking.AdminNotes,
		&booking.Status, &booking.StartDate, &booking.EndDate, &booking.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	if len(scheduleJSON) > 0 {
		if err := json.Unmarshal(scheduleJSON, &booking.VerificationSchedule); err != nil {
			return nil, err
		}
	}
	if paidAt.Valid {
		booking.PaidAt = &paidAt.Time
	}
	if proofUploadedAt.Valid {
		booking.ProofUploadedAt = &proofUploadedAt.Time
	}
	if nextVerificationDue.Valid {
		booking.NextVerificationDue = &nextVerificationDue.Time
	}
	if firstPayoutDate.Valid {
		booking.FirstPayoutDate = &firstPayoutDate.Time
	}
	if finalPayoutDate.Valid {
		booking.FinalPayoutDate = &finalPayoutDate.Time
	}
	if lastPayoutAttempt.Valid {
		booking.LastPayoutAttempt = &lastPayoutAttempt.Time
	}
	return booking, nil
}

func (d Datasource) queryBookings(ctx context.Context, query string, args ...interface{}) ([]*model.Booking, error) {
	rows, err := d.Conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve bookings", err)
	}
	defer rows.Close()

	var bookings []*model.Booking
	for rows.Next() {
		booking, err := scanBooking(rows)
		if err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan booking data", err)
		}
		bookings = append(bookings, booking)
	}
	if err = rows.Err(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Error occurred while iterating over bookings", err)
	}
	return bookings, nil
}

// GetBooking fetches one booking by its public id.
func (d Datasource) GetBooking(ctx context.Context, id string) (*model.Booking, error) {
	row := d.Conn.QueryRowContext(ctx, `
		SELECT `+bookingColumns+`
		FROM bookings
		WHERE booking_id = $1
	`, id)

	booking, err := scanBooking(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Booking with ID '%s' not found", id), err)
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve booking", err)
	}
	return booking, nil
}

// GetFirstPayoutCandidates selects bookings eligible for the first tranche:
// proof approved, first payout not yet processed, paid, and not failed or
// held.
func (d Datasource) GetFirstPayoutCandidates(ctx context.Context) ([]*model.Booking, error) {
	ctx, span := otel.Tracer("settlement.database").Start(ctx, "Fetching first payout candidates")
	defer span.End()

	return d.queryBookings(ctx, `
		SELECT `+bookingColumns+`
		FROM bookings
		WHERE proof_status = $1
		AND first_payout_processed = FALSE
		AND status IN ($2, $3)
		AND paid_at IS NOT NULL
		AND payout_status != $4
		AND pending_payout_reason != $5
		ORDER BY paid_at ASC
	`, model.ProofStatusApproved, model.BookingStatusActive, model.BookingStatusConfirmed,
		model.PayoutStatusFailed, model.HoldReasonAccountDisconnected)
}

// GetFinalPayoutCandidates selects bookings whose campaign has ended and
// whose first tranche has already gone out.
func (d Datasource) GetFinalPayoutCandidates(ctx context.Context, now time.Time) ([]*model.Booking, error) {
	ctx, span := otel.Tracer("settlement.database").Start(ctx, "Fetching final payout candidates")
	defer span.End()

	return d.queryBookings(ctx, `
		SELECT `+bookingColumns+`
		FROM bookings
		WHERE status IN ($1, $2)
		AND end_date <= $3
		AND first_payout_processed = TRUE
		AND final_payout_processed = FALSE
		AND payout_status != $4
		AND pending_payout_reason != $5
		ORDER BY end_date ASC
	`, model.BookingStatusActive, model.BookingStatusCompleted, now,
		model.PayoutStatusFailed, model.HoldReasonAccountDisconnected)
}

// GetStaleProofBookings selects confirmed, paid bookings with no uploaded
// installation proof. The grace-window check happens in the orchestrator.
func (d Datasource) GetStaleProofBookings(ctx context.Context) ([]*model.Booking, error) {
	ctx, span := otel.Tracer("settlement.database").Start(ctx, "Fetching stale proof bookings")
	defer span.End()

	return d.queryBookings(ctx, `
		SELECT `+bookingColumns+`
		FROM bookings
		WHERE status = $1
		AND paid_at IS NOT NULL
		AND proof_uploaded_at IS NULL
		ORDER BY paid_at ASC
	`, model.BookingStatusConfirmed)
}

// GetVerificationDueBookings selects active bookings whose next verification
// checkpoint falls inside the reminder lookahead window.
func (d Datasource) GetVerificationDueBookings(ctx context.Context, from, until time.Time) ([]*model.Booking, error) {
	ctx, span := otel.Tracer("settlement.database").Start(ctx, "Fetching verification reminder candidates")
	defer span.End()

	return d.queryBookings(ctx, `
		SELECT `+bookingColumns+`
		FROM bookings
		WHERE status = $1
		AND next_verification_due IS NOT NULL
		AND next_verification_due >= $2
		AND next_verification_due <= $3
		ORDER BY next_verification_due ASC
	`, model.BookingStatusActive, from, until)
}

// RecordPayoutAttempt bumps the attempt counter and timestamp. Called once
// per visited booking regardless of outcome, for observability.
func (d Datasource) RecordPayoutAttempt(ctx context.Context, bookingID string, at time.Time) error {
	_, err := d.Conn.ExecContext(ctx, `
		UPDATE bookings
		SET payout_attempts = payout_attempts + 1, last_payout_attempt = $2
		WHERE booking_id = $1
	`, bookingID, at)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to record payout attempt", err)
	}
	return nil
}

// MarkFirstPayoutProcessed flips the first-tranche idempotency flag together
// with the transfer details in one conditional write. The WHERE clause is the
// compare-and-set: a second worker or an overlapping run sees zero rows
// affected and must not treat the booking as paid by itself. The amount guard
// keeps the cumulative payout inside the owed total.
func (d Datasource) MarkFirstPayoutProcessed(ctx context.Context, bookingID string, amount decimal.Decimal, transferID string, at time.Time) (bool, error) {
	ctx, span := otel.Tracer("settlement.database").Start(ctx, "Marking first payout processed")
	defer span.End()

	result, err := d.Conn.ExecContext(ctx, `
		UPDATE bookings
		SET first_payout_processed = TRUE,
			payout_status = $3,
			first_payout_amount = $2,
			first_payout_date = $4,
			first_transfer_id = $5,
			payout_error = '',
			pending_payout_reason = ''
		WHERE booking_id = $1
		AND first_payout_processed = FALSE
		AND $2 <= space_owner_amount
	`, bookingID, amount, model.PayoutStatusPartiallyPaid, at, transferID)
	if err != nil {
		return false, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to mark first payout processed", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to get rows affected", err)
	}
	return rowsAffected > 0, nil
}

// MarkFinalPayoutProcessed completes the payout lifecycle: final tranche
// details, booking COMPLETED, payout COMPLETED, all in one conditional write
// gated on the final flag being unset and the first tranche having gone out.
func (d Datasource) MarkFinalPayoutProcessed(ctx context.Context, bookingID string, amount decimal.Decimal, transferID string, at time.Time) (bool, error) {
	ctx, span := otel.Tracer("settlement.database").Start(ctx, "Marking final payout processed")
	defer span.End()

	result, err := d.Conn.ExecContext(ctx, `
		UPDATE bookings
		SET final_payout_processed = TRUE,
			status = $3,
			payout_status = $4,
			final_payout_amount = $2,
			final_payout_date = $5,
			final_transfer_id = $6,
			payout_error = '',
			pending_payout_reason = ''
		WHERE booking_id = $1
		AND final_payout_processed = FALSE
		AND first_payout_processed = TRUE
		AND first_payout_amount + $2 <= space_owner_amount
	`, bookingID, amount, model.BookingStatusCompleted, model.PayoutStatusCompleted, at, transferID)
	if err != nil {
		return false, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to mark final payout processed", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to get rows affected", err)
	}
	return rowsAffected > 0, nil
}

// MarkPayoutPending records a transient processor failure. The idempotency
// flag stays false so the booking is retried on the next scheduled run.
func (d Datasource) MarkPayoutPending(ctx context.Context, bookingID string, reason string) error {
	_, err := d.Conn.ExecContext(ctx, `
		UPDATE bookings
		SET payout_status = $2, pending_payout_reason = $3
		WHERE booking_id = $1
	`, bookingID, model.PayoutStatusPending, reason)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to mark payout pending", err)
	}
	return nil
}

// MarkPayoutFailed records a permanent failure. The booking is excluded from
// automatic settlement until an operator intervenes.
func (d Datasource) MarkPayoutFailed(ctx context.Context, bookingID string, payoutError, note string) error {
	_, err := d.Conn.ExecContext(ctx, `
		UPDATE bookings
		SET payout_status = $2, payout_error = $3, admin_notes = $4
		WHERE booking_id = $1
	`, bookingID, model.PayoutStatusFailed, payoutError, note)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to mark payout failed", err)
	}
	return nil
}

// HoldPayout parks a booking under a hold reason code, e.g. when the owner's
// payout account is disconnected.
func (d Datasource) HoldPayout(ctx context.Context, bookingID string, reason string) error {
	_, err := d.Conn.ExecContext(ctx, `
		UPDATE bookings
		SET payout_status = $2, pending_payout_reason = $3
		WHERE booking_id = $1
	`, bookingID, model.PayoutStatusPending, reason)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to hold payout", err)
	}
	return nil
}

// CancelBooking flips a confirmed booking to CANCELLED with a recorded
// reason. Conditional on CONFIRMED so a proof upload racing the cancellation
// pass cannot be clobbered.
func (d Datasource) CancelBooking(ctx context.Context, bookingID string, reason string) (bool, error) {
	result, err := d.Conn.ExecContext(ctx, `
		UPDATE bookings
		SET status = $2, admin_notes = $3
		WHERE booking_id = $1
		AND status = $4
	`, bookingID, model.BookingStatusCancelled, reason, model.BookingStatusConfirmed)
	if err != nil {
		return false, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to cancel booking", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to get rows affected", err)
	}
	return rowsAffected > 0, nil
}
