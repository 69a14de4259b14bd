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

package database

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/adspacehq/adspace/model"
)

// IDataSource defines the interface for data source operations, grouping related functionalities.
type IDataSource interface {
	booking       // Interface for booking ledger operations
	notification  // Interface for payout notification records
	settlementRun // Interface for settlement run audit records
}

// booking defines methods for reading and advancing the booking ledger. The
// two Mark*PayoutProcessed methods are conditional writes: they report false
// when the idempotency flag was already set by a concurrent worker or run.
type booking interface {
	GetBooking(ctx context.Context, id string) (*model.Booking, error)
	GetFirstPayoutCandidates(ctx context.Context) ([]*model.Booking, error)
	GetFinalPayoutCandidates(ctx context.Context, now time.Time) ([]*model.Booking, error)
	GetStaleProofBookings(ctx context.Context) ([]*model.Booking, error)
	GetVerificationDueBookings(ctx context.Context, from, until time.Time) ([]*model.Booking, error)
	RecordPayoutAttempt(ctx context.Context, bookingID string, at time.Time) error
	MarkFirstPayoutProcessed(ctx context.Context, bookingID string, amount decimal.Decimal, transferID string, at time.Time) (bool, error)
	MarkFinalPayoutProcessed(ctx context.Context, bookingID string, amount decimal.Decimal, transferID string, at time.Time) (bool, error)
	MarkPayoutPending(ctx context.Context, bookingID string, reason string) error
	MarkPayoutFailed(ctx context.Context, bookingID string, payoutError, note string) error
	HoldPayout(ctx context.Context, bookingID string, reason string) error
	CancelBooking(ctx context.Context, bookingID string, reason string) (bool, error)
}

// notification defines methods for payout notification records.
type notification interface {
	CreateNotification(ctx context.Context, notification *model.PayoutNotification) (*model.PayoutNotification, error)
}

// settlementRun defines methods for settlement run audit records.
type settlementRun interface {
	RecordSettlementRun(ctx context.Context, run *model.SettlementRun) (*model.SettlementRun, error)
	GetRecentSettlementRuns(ctx context.Context, limit int) ([]model.SettlementRun, error)
}
