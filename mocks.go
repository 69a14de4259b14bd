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
	"sync"

	"github.com/adspacehq/adspace/model"
)

// MockProcessor is a scriptable ProcessorClient. It records every
// idempotency key it is handed so tests can assert replay behavior.
type MockProcessor struct {
	mu                 sync.Mutex
	mockCreateTransfer func(ctx context.Context, req *model.TransferRequest, idempotencyKey string) (*model.Transfer, error)
	mockGetCharge      func(ctx context.Context, chargeID string) (*model.Charge, error)
	TransferKeys       []string
}

func (m *MockProcessor) CreateTransfer(ctx context.Context, req *model.TransferRequest, idempotencyKey string) (*model.Transfer, error) {
	m.mu.Lock()
	m.TransferKeys = append(m.TransferKeys, idempotencyKey)
	m.mu.Unlock()
	if m.mockCreateTransfer != nil {
		return m.mockCreateTransfer(ctx, req, idempotencyKey)
	}
	return &model.Transfer{TransferID: "trf_mock", AmountMinor: req.AmountMinor}, nil
}

func (m *MockProcessor) GetCharge(ctx context.Context, chargeID string) (*model.Charge, error) {
	if m.mockGetCharge != nil {
		return m.mockGetCharge(ctx, chargeID)
	}
	return &model.Charge{ChargeID: chargeID, Status: model.ChargeStatusSucceeded, Captured: true}, nil
}
