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
package mocks

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"

	"github.com/adspacehq/adspace/model"
)

// MockDataSource is a mock implementation of the IDataSource interface
type MockDataSource struct {
	mock.Mock
}

// Booking methods

func (m *MockDataSource) GetBooking(ctx context.Context, id string) (*model.Booking, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(*model.Booking), args.Error(1)
}

func (m *MockDataSource) GetFirstPayoutCandidates(ctx context.Context) ([]*model.Booking, error) {
	args := m.Called(ctx)
	return args.Get(0).([]*model.Booking), args.Error(1)
}

func (m *MockDataSource) GetFinalPayoutCandidates(ctx context.Context, now time.Time) ([]*model.Booking, error) {
	args := m.Called(ctx, now)
	return args.Get(0).([]*model.Booking), args.Error(1)
}

func (m *MockDataSource) GetStaleProofBookings(ctx context.Context) ([]*model.Booking, error) {
	args := m.Called(ctx)
	return args.Get(0).([]*model.Booking), args.Error(1)
}

func (m *MockDataSource) GetVerificationDueBookings(ctx context.Context, from, until time.Time) ([]*model.Booking, error) {
	args := m.Called(ctx, from, until)
	return args.Get(0).([]*model.Booking), args.Error(1)
}

func (m *MockDataSource) RecordPayoutAttempt(ctx context.Context, bookingID string, at time.Time) error {
	args := m.Called(ctx, bookingID, at)
	return args.Error(0)
}

func (m *MockDataSource) MarkFirstPayoutProcessed(ctx context.Context, bookingID string, amount decimal.Decimal, transferID string, at time.Time) (bool, error) {
	args := m.Called(ctx, bookingID, amount, transferID, at)
	return args.Bool(0), args.Error(1)
}

func (m *MockDataSource) MarkFinalPayoutProcessed(ctx context.Context, bookingID string, amount decimal.Decimal, transferID string, at time.Time) (bool, error) {
	args := m.Called(ctx, bookingID, amount, transferID, at)
	return args.Bool(0), args.Error(1)
}

func (m *MockDataSource) MarkPayoutPending(ctx context.Context, bookingID string, reason string) error {
	args := m.Called(ctx, bookingID, reason)
	return args.Error(0)
}

func (m *MockDataSource) MarkPayoutFailed(ctx context.Context, bookingID string, payoutError, note string) error {
	args := m.Called(ctx, bookingID, payoutError, note)
	return args.Error(0)
}

func (m *MockDataSource) HoldPayout(ctx context.Context, bookingID string, reason string) error {
	args := m.Called(ctx, bookingID, reason)
	return args.Error(0)
}

func (m *MockDataSource) CancelBooking(ctx context.Context, bookingID string, reason string) (bool, error) {
	args := m.Called(ctx, bookingID, reason)
	return args.Bool(0), args.Error(1)
}

// Notification methods

func (m *MockDataSource) CreateNotification(ctx context.Context, notification *model.PayoutNotification) (*model.PayoutNotification, error) {
	args := m.Called(ctx, notification)
	return args.Get(0).(*model.PayoutNotification), args.Error(1)
}

// Settlement run methods

func (m *MockDataSource) RecordSettlementRun(ctx context.Context, run *model.SettlementRun) (*model.SettlementRun, error) {
	args := m.Called(ctx, run)
	return args.Get(0).(*model.SettlementRun), args.Error(1)
}

func (m *MockDataSource) GetRecentSettlementRuns(ctx context.Context, limit int) ([]model.SettlementRun, error) {
	args := m.Called(ctx, limit)
	return args.Get(0).([]model.SettlementRun), args.Error(1)
}
