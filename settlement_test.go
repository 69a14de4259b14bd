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
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/brianvoe/gofakeit/v6"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/adspacehq/adspace/config"
	"github.com/adspacehq/adspace/database/mocks"
	"github.com/adspacehq/adspace/internal/apierror"
	"github.com/adspacehq/adspace/internal/cache"
	redis_db "github.com/adspacehq/adspace/internal/redis-db"
	"github.com/adspacehq/adspace/model"
)

func newTestEngine(t *testing.T) (*Adspace, *mocks.MockDataSource, *MockProcessor) {
	t.Helper()
	mr := miniredis.RunT(t)
	config.MockConfig(&config.Configuration{
		Redis: config.RedisConfig{Dns: mr.Addr()},
		Settlement: config.SettlementConfig{
			Currency:              "USD",
			FirstTranchePercent:   30,
			ProofGraceDays:        5,
			ReminderLookaheadDays: 3,
			MaxTransientAttempts:  7,
			Workers:               2,
			NotifyOwnerOnHold:     true,
		},
	})

	redisClient, err := redis_db.NewRedisClient([]string{"redis://" + mr.Addr()})
	require.NoError(t, err)
	notificationCache, err := cache.NewCache()
	require.NoError(t, err)

	datasource := new(mocks.MockDataSource)
	processor := &MockProcessor{}
	engine := &Adspace{
		datasource: datasource,
		processor:  processor,
		cache:      notificationCache,
		redis:      redisClient.Client(),
	}
	return engine, datasource, processor
}

// testBooking is a paid, proof-approved booking: 10 days at 50/day plus a 20
// installation fee, so the first transfer is 170 and the final is 350.
func testBooking() *model.Booking {
	paidAt := time.Now().Add(-48 * time.Hour)
	return &model.Booking{
		BookingID:        model.GenerateUUIDWithSuffix("bkg"),
		CampaignID:       model.GenerateUUIDWithSuffix("cmp"),
		SpaceOwnerID:     gofakeit.UUID(),
		AdvertiserID:     gofakeit.UUID(),
		PricePerDay:      decimal.NewFromInt(50),
		TotalDays:        10,
		InstallationFee:  decimal.NewFromInt(20),
		SpaceOwnerAmount: decimal.NewFromInt(520),
		PaidAt:           &paidAt,
		ChargeReference:  "ch_" + gofakeit.UUID(),
		PayoutAccountID:  "acct_" + gofakeit.UUID(),
		ProofStatus:      model.ProofStatusApproved,
		Status:           model.BookingStatusActive,
		PayoutStatus:     model.PayoutStatusPending,
	}
}

func amountEq(expected int64) interface{} {
	return mock.MatchedBy(func(d decimal.Decimal) bool {
		return d.Equal(decimal.NewFromInt(expected))
	})
}

func TestSettleBookingFirstTranche(t *testing.T) {
	engine, datasource, processor := newTestEngine(t)
	cfg, _ := config.Fetch()
	booking := testBooking()

	datasource.On("RecordPayoutAttempt", mock.Anything, booking.BookingID, mock.Anything).Return(nil)
	datasource.On("MarkFirstPayoutProcessed", mock.Anything, booking.BookingID, amountEq(170), "trf_mock", mock.Anything).Return(true, nil)
	datasource.On("CreateNotification", mock.Anything, mock.Anything).Return(&model.PayoutNotification{}, nil)

	stats := engine.settleBooking(context.Background(), cfg, booking, model.TrancheFirst)

	assert.Equal(t, 1, stats.Scanned)
	assert.Equal(t, 1, stats.Transferred)
	assert.True(t, stats.AmountTransferred.Equal(decimal.NewFromInt(170)))
	assert.Equal(t, []string{booking.BookingID + ":first"}, processor.TransferKeys)
	datasource.AssertExpectations(t)
}

func TestSettleBookingFinalTranche(t *testing.T) {
	engine, datasource, _ := newTestEngine(t)
	cfg, _ := config.Fetch()
	booking := testBooking()
	booking.FirstPayoutProcessed = true
	booking.FirstPayoutAmount = decimal.NewFromInt(170)

	datasource.On("RecordPayoutAttempt", mock.Anything, booking.BookingID, mock.Anything).Return(nil)
	datasource.On("MarkFinalPayoutProcessed", mock.Anything, booking.BookingID, amountEq(350), "trf_mock", mock.Anything).Return(true, nil)
	datasource.On("CreateNotification", mock.Anything, mock.Anything).Return(&model.PayoutNotification{}, nil)

	stats := engine.settleBooking(context.Background(), cfg, booking, model.TrancheFinal)

	assert.Equal(t, 1, stats.Transferred)
	assert.True(t, stats.AmountTransferred.Equal(decimal.NewFromInt(350)))
	// Owner payout notice plus advertiser completion notice.
	datasource.AssertNumberOfCalls(t, "CreateNotification", 2)
	datasource.AssertExpectations(t)
}

func TestSettleBookingNoPaymentIntent(t *testing.T) {
	engine, datasource, processor := newTestEngine(t)
	cfg, _ := config.Fetch()
	booking := testBooking()
	booking.PaidAt = nil
	booking.ChargeReference = ""

	datasource.On("RecordPayoutAttempt", mock.Anything, booking.BookingID, mock.Anything).Return(nil)
	datasource.On("MarkPayoutFailed", mock.Anything, booking.BookingID, mock.Anything, mock.Anything).Return(nil)

	stats := engine.settleBooking(context.Background(), cfg, booking, model.TrancheFirst)

	assert.Equal(t, 1, stats.Failed)
	assert.Zero(t, stats.Transferred)
	assert.Empty(t, processor.TransferKeys)
	datasource.AssertExpectations(t)
}

func TestSettleBookingChargeNotCaptured(t *testing.T) {
	engine, datasource, processor := newTestEngine(t)
	cfg, _ := config.Fetch()
	booking := testBooking()
	processor.mockGetCharge = func(_ context.Context, chargeID string) (*model.Charge, error) {
		return &model.Charge{ChargeID: chargeID, Status: model.ChargeStatusPending, Captured: false}, nil
	}

	datasource.On("RecordPayoutAttempt", mock.Anything, booking.BookingID, mock.Anything).Return(nil)
	datasource.On("MarkPayoutFailed", mock.Anything, booking.BookingID, mock.Anything, mock.Anything).Return(nil)

	stats := engine.settleBooking(context.Background(), cfg, booking, model.TrancheFirst)

	assert.Equal(t, 1, stats.Failed)
	assert.Empty(t, processor.TransferKeys)
	// The visit still counts as an attempt.
	datasource.AssertCalled(t, "RecordPayoutAttempt", mock.Anything, booking.BookingID, mock.Anything)
	datasource.AssertExpectations(t)
}

func TestSettleBookingTransientFailure(t *testing.T) {
	engine, datasource, processor := newTestEngine(t)
	cfg, _ := config.Fetch()
	booking := testBooking()
	processor.mockCreateTransfer = func(context.Context, *model.TransferRequest, string) (*model.Transfer, error) {
		return nil, &TransferError{Kind: TransferErrorTransient, Message: "processor unavailable"}
	}

	datasource.On("RecordPayoutAttempt", mock.Anything, booking.BookingID, mock.Anything).Return(nil)
	datasource.On("MarkPayoutPending", mock.Anything, booking.BookingID, "processor unavailable").Return(nil)
	datasource.On("CreateNotification", mock.Anything, mock.MatchedBy(func(n *model.PayoutNotification) bool {
		return n.Type == model.NotificationPayoutProcessing && n.UserID == booking.SpaceOwnerID
	})).Return(&model.PayoutNotification{}, nil)

	stats := engine.settleBooking(context.Background(), cfg, booking, model.TrancheFirst)

	assert.Equal(t, 1, stats.PendingRetry)
	assert.Zero(t, stats.Failed)
	// The owner sees a neutral processing notice, not an error.
	datasource.AssertNumberOfCalls(t, "CreateNotification", 1)
	datasource.AssertExpectations(t)
}

func TestSettleBookingFinalTrancheWaitsForVerification(t *testing.T) {
	engine, datasource, processor := newTestEngine(t)
	cfg, _ := config.Fetch()
	booking := testBooking()
	booking.FirstPayoutProcessed = true
	booking.FirstPayoutAmount = decimal.NewFromInt(170)
	booking.VerificationSchedule = []model.VerificationCheckpoint{
		{DueAt: time.Now().Add(-72 * time.Hour), Completed: true},
		{DueAt: time.Now().Add(-24 * time.Hour), Completed: false},
	}

	stats := engine.settleBooking(context.Background(), cfg, booking, model.TrancheFinal)

	assert.Equal(t, 1, stats.Skipped)
	assert.Zero(t, stats.Transferred)
	assert.Empty(t, processor.TransferKeys)
	// A deferred booking is not a payout attempt.
	datasource.AssertNotCalled(t, "RecordPayoutAttempt", mock.Anything, booking.BookingID, mock.Anything)
	datasource.AssertNotCalled(t, "MarkFinalPayoutProcessed", mock.Anything, booking.BookingID, mock.Anything, mock.Anything, mock.Anything)
}

func TestSettleBookingZeroAmountTranche(t *testing.T) {
	engine, datasource, processor := newTestEngine(t)
	cfg, _ := config.Fetch()
	booking := testBooking()
	booking.TotalDays = 0
	booking.InstallationFee = decimal.Zero
	booking.SpaceOwnerAmount = decimal.Zero

	datasource.On("RecordPayoutAttempt", mock.Anything, booking.BookingID, mock.Anything).Return(nil)
	datasource.On("MarkFirstPayoutProcessed", mock.Anything, booking.BookingID, amountEq(0), "", mock.Anything).Return(true, nil)

	stats := engine.settleBooking(context.Background(), cfg, booking, model.TrancheFirst)

	assert.Equal(t, 1, stats.Skipped)
	assert.Zero(t, stats.Failed)
	assert.Empty(t, processor.TransferKeys)
	datasource.AssertNotCalled(t, "MarkPayoutFailed", mock.Anything, booking.BookingID, mock.Anything, mock.Anything)
	datasource.AssertExpectations(t)
}

func TestSettleBookingTransientFailureEscalates(t *testing.T) {
	engine, datasource, processor := newTestEngine(t)
	cfg, _ := config.Fetch()
	booking := testBooking()
	booking.PayoutAttempts = cfg.Settlement.MaxTransientAttempts - 1
	processor.mockCreateTransfer = func(context.Context, *model.TransferRequest, string) (*model.Transfer, error) {
		return nil, &TransferError{Kind: TransferErrorTransient, Message: "processor unavailable"}
	}

	datasource.On("RecordPayoutAttempt", mock.Anything, booking.BookingID, mock.Anything).Return(nil)
	datasource.On("MarkPayoutFailed", mock.Anything, booking.BookingID, mock.Anything, mock.Anything).Return(nil)

	stats := engine.settleBooking(context.Background(), cfg, booking, model.TrancheFirst)

	assert.Equal(t, 1, stats.Failed)
	assert.Zero(t, stats.PendingRetry)
	datasource.AssertExpectations(t)
}

func TestSettleBookingAccountDisconnected(t *testing.T) {
	engine, datasource, processor := newTestEngine(t)
	cfg, _ := config.Fetch()
	booking := testBooking()
	processor.mockCreateTransfer = func(context.Context, *model.TransferRequest, string) (*model.Transfer, error) {
		return nil, &TransferError{Kind: TransferErrorAccountHeld, Code: "account_disconnected", Message: "payout account disconnected"}
	}

	datasource.On("RecordPayoutAttempt", mock.Anything, booking.BookingID, mock.Anything).Return(nil)
	datasource.On("HoldPayout", mock.Anything, booking.BookingID, model.HoldReasonAccountDisconnected).Return(nil)
	datasource.On("CreateNotification", mock.Anything, mock.Anything).Return(&model.PayoutNotification{}, nil)

	stats := engine.settleBooking(context.Background(), cfg, booking, model.TrancheFirst)
	assert.Equal(t, 1, stats.Held)

	// A second run re-applies the hold but must not notify the owner again.
	stats = engine.settleBooking(context.Background(), cfg, booking, model.TrancheFirst)
	assert.Equal(t, 1, stats.Held)

	datasource.AssertNumberOfCalls(t, "HoldPayout", 2)
	datasource.AssertNumberOfCalls(t, "CreateNotification", 1)
}

func TestSettleBookingMissingPayoutAccount(t *testing.T) {
	engine, datasource, processor := newTestEngine(t)
	cfg, _ := config.Fetch()
	booking := testBooking()
	booking.PayoutAccountID = ""

	datasource.On("RecordPayoutAttempt", mock.Anything, booking.BookingID, mock.Anything).Return(nil)
	datasource.On("HoldPayout", mock.Anything, booking.BookingID, model.HoldReasonAccountDisconnected).Return(nil)
	datasource.On("CreateNotification", mock.Anything, mock.Anything).Return(&model.PayoutNotification{}, nil)

	stats := engine.settleBooking(context.Background(), cfg, booking, model.TrancheFirst)

	assert.Equal(t, 1, stats.Held)
	assert.Empty(t, processor.TransferKeys)
	datasource.AssertExpectations(t)
}

// A worker that loses the conditional update has not paid anything new: the
// transfer replayed idempotently and the row was already marked.
func TestSettleBookingLostUpdateRace(t *testing.T) {
	engine, datasource, _ := newTestEngine(t)
	cfg, _ := config.Fetch()
	booking := testBooking()

	datasource.On("RecordPayoutAttempt", mock.Anything, booking.BookingID, mock.Anything).Return(nil)
	datasource.On("MarkFirstPayoutProcessed", mock.Anything, booking.BookingID, mock.Anything, mock.Anything, mock.Anything).Return(false, nil)

	stats := engine.settleBooking(context.Background(), cfg, booking, model.TrancheFirst)

	assert.Equal(t, 1, stats.Skipped)
	assert.Zero(t, stats.Transferred)
	assert.True(t, stats.AmountTransferred.IsZero())
	datasource.AssertNotCalled(t, "CreateNotification", mock.Anything, mock.Anything)
}

func TestCancelExpiredBookings(t *testing.T) {
	engine, datasource, _ := newTestEngine(t)
	cfg, _ := config.Fetch()

	stale := testBooking()
	stalePaid := time.Now().Add(-10 * 24 * time.Hour)
	stale.PaidAt = &stalePaid
	stale.Status = model.BookingStatusConfirmed

	fresh := testBooking()
	fresh.Status = model.BookingStatusConfirmed

	datasource.On("GetStaleProofBookings", mock.Anything).Return([]*model.Booking{stale, fresh}, nil)
	datasource.On("CancelBooking", mock.Anything, stale.BookingID, mock.Anything).Return(true, nil)
	datasource.On("CreateNotification", mock.Anything, mock.Anything).Return(&model.PayoutNotification{}, nil)

	cancelled := engine.cancelExpiredBookings(context.Background(), cfg)

	assert.Equal(t, 1, cancelled)
	datasource.AssertNotCalled(t, "CancelBooking", mock.Anything, fresh.BookingID, mock.Anything)
	// Advertiser and owner each get a cancellation notice.
	datasource.AssertNumberOfCalls(t, "CreateNotification", 2)
}

func TestSendVerificationRemindersDeduplicates(t *testing.T) {
	engine, datasource, _ := newTestEngine(t)
	cfg, _ := config.Fetch()

	booking := testBooking()
	due := time.Now().Add(48 * time.Hour)
	booking.NextVerificationDue = &due

	datasource.On("GetVerificationDueBookings", mock.Anything, mock.Anything, mock.Anything).Return([]*model.Booking{booking}, nil)
	datasource.On("CreateNotification", mock.Anything, mock.Anything).Return(&model.PayoutNotification{}, nil)

	sent := engine.sendVerificationReminders(context.Background(), cfg)
	assert.Equal(t, 1, sent)

	// The daily run fires again inside the lookahead window.
	sent = engine.sendVerificationReminders(context.Background(), cfg)
	assert.Equal(t, 0, sent)

	datasource.AssertNumberOfCalls(t, "CreateNotification", 1)
}

func TestRunSettlement(t *testing.T) {
	engine, datasource, processor := newTestEngine(t)
	booking := testBooking()

	datasource.On("GetFirstPayoutCandidates", mock.Anything).Return([]*model.Booking{booking}, nil)
	datasource.On("GetFinalPayoutCandidates", mock.Anything, mock.Anything).Return([]*model.Booking{}, nil)
	datasource.On("GetStaleProofBookings", mock.Anything).Return([]*model.Booking{}, nil)
	datasource.On("GetVerificationDueBookings", mock.Anything, mock.Anything, mock.Anything).Return([]*model.Booking{}, nil)
	datasource.On("RecordPayoutAttempt", mock.Anything, booking.BookingID, mock.Anything).Return(nil)
	datasource.On("MarkFirstPayoutProcessed", mock.Anything, booking.BookingID, amountEq(170), "trf_mock", mock.Anything).Return(true, nil)
	datasource.On("CreateNotification", mock.Anything, mock.Anything).Return(&model.PayoutNotification{}, nil)
	datasource.On("RecordSettlementRun", mock.Anything, mock.Anything).Return(&model.SettlementRun{}, nil)

	run, err := engine.RunSettlement(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, run.Stats.FirstPayouts.Transferred)
	assert.Zero(t, run.Stats.FinalPayouts.Scanned)
	assert.True(t, run.Stats.TotalTransferred().Equal(decimal.NewFromInt(170)))
	assert.Equal(t, []string{booking.BookingID + ":first"}, processor.TransferKeys)
	datasource.AssertCalled(t, "RecordSettlementRun", mock.Anything, mock.Anything)

	// The run lock was released: a follow-up run can start.
	_, err = engine.RunSettlement(context.Background())
	require.NoError(t, err)
}

func TestRunSettlementConflict(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	ctx := context.Background()

	require.NoError(t, engine.redis.Set(ctx, runLockKey, "another-run", time.Minute).Err())

	_, err := engine.RunSettlement(ctx)
	require.Error(t, err)
	apiErr, ok := err.(apierror.APIError)
	require.True(t, ok)
	assert.Equal(t, apierror.ErrConflict, apiErr.Code)
}
