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
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	backoff "github.com/cenkalti/backoff/v4"
	"github.com/pkg/errors"

	"github.com/adspacehq/adspace/config"
	"github.com/adspacehq/adspace/internal/request"
	"github.com/adspacehq/adspace/model"
)

// TransferErrorKind classifies a failed processor call by what the caller
// should do next, not by what went wrong on the wire.
type TransferErrorKind int

const (
	// TransferErrorTransient means retry on the next scheduled run: rate
	// limits, processor 5xx, network timeouts.
	TransferErrorTransient TransferErrorKind = iota
	// TransferErrorAccountHeld means the owner's payout account cannot
	// receive funds. The booking is parked until the account is fixed.
	TransferErrorAccountHeld
	// TransferErrorPermanent means retrying cannot help: bad request,
	// charge not captured, amount exceeds the escrowed funds.
	TransferErrorPermanent
)

// TransferError carries the processor's error code plus the retry
// classification the settlement passes act on.
type TransferError struct {
	Kind    TransferErrorKind
	Code    string
	Message string
}

func (e *TransferError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("processor: %s (%s)", e.Message, e.Code)
	}
	return fmt.Sprintf("processor: %s", e.Message)
}

// processor error codes that indicate the destination account is the
// problem rather than the request.
var accountErrorCodes = map[string]bool{
	"account_disconnected":  true,
	"account_invalid":       true,
	"payouts_disabled":      true,
	"destination_not_found": true,
}

// processor error codes that clear on their own once the escrowed funds
// finish settling, worth retrying on the next run even on a 4xx.
var transientErrorCodes = map[string]bool{
	"balance_insufficient": true,
	"funds_pending":        true,
	"clearing_in_progress": true,
}

// ProcessorClient is the payment processor surface the settlement engine
// uses. Transfers are idempotent on the processor side via the caller's
// idempotency key, so a crash between the transfer and the ledger update
// cannot double-pay on the retry.
type ProcessorClient interface {
	CreateTransfer(ctx context.Context, req *model.TransferRequest, idempotencyKey string) (*model.Transfer, error)
	GetCharge(ctx context.Context, chargeID string) (*model.Charge, error)
}

type processorClient struct {
	apiURL string
	apiKey string
	client *http.Client
}

// NewProcessorClient builds an HTTP client for the configured processor.
func NewProcessorClient(cfg config.ProcessorConfig) ProcessorClient {
	timeout := time.Duration(cfg.TimeoutSec) * time.Second
	return &processorClient{
		apiURL: cfg.ApiUrl,
		apiKey: cfg.ApiKey,
		client: &http.Client{Timeout: timeout},
	}
}

type processorErrorBody struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// CreateTransfer sends one transfer and retries short network failures with
// exponential backoff. The idempotency key makes the retries, and any later
// settlement run that revisits the booking, collapse into a single transfer
// on the processor side.
func (p *processorClient) CreateTransfer(ctx context.Context, transferReq *model.TransferRequest, idempotencyKey string) (*model.Transfer, error) {
	if err := transferReq.Validate(); err != nil {
		return nil, &TransferError{Kind: TransferErrorPermanent, Message: err.Error()}
	}

	var transfer *model.Transfer
	operation := func() error {
		// Fresh body per attempt: the buffer is drained by each send.
		body, err := request.ToJsonReq(transferReq)
		if err != nil {
			return backoff.Permanent(errors.Wrap(err, "encoding transfer request"))
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, fmt.Sprintf("%s/v1/transfers", p.apiURL), body)
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", p.apiKey))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Idempotency-Key", idempotencyKey)

		transfer, err = p.doTransfer(req)
		if err != nil {
			var transferErr *TransferError
			if errors.As(err, &transferErr) {
				// Classified errors go to the settlement pass, not
				// the backoff loop.
				return backoff.Permanent(err)
			}
			return err
		}
		return nil
	}

	bo := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 3), ctx)
	if err := backoff.Retry(operation, bo); err != nil {
		var transferErr *TransferError
		if errors.As(err, &transferErr) {
			return nil, transferErr
		}
		// Exhausted network retries: safe to try again next run thanks
		// to the idempotency key.
		return nil, &TransferError{Kind: TransferErrorTransient, Message: err.Error()}
	}
	return transfer, nil
}

func (p *processorClient) doTransfer(req *http.Request) (*model.Transfer, error) {
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusCreated {
		var transfer model.Transfer
		if err := json.NewDecoder(resp.Body).Decode(&transfer); err != nil {
			return nil, errors.Wrap(err, "decoding transfer response")
		}
		return &transfer, nil
	}

	raw, _ := io.ReadAll(resp.Body)
	var errBody processorErrorBody
	_ = json.Unmarshal(raw, &errBody)

	return nil, classifyTransferFailure(resp.StatusCode, errBody.Error.Code, errBody.Error.Message)
}

func classifyTransferFailure(status int, code, message string) *TransferError {
	if message == "" {
		message = fmt.Sprintf("transfer rejected with status %d", status)
	}
	switch {
	case accountErrorCodes[code]:
		return &TransferError{Kind: TransferErrorAccountHeld, Code: code, Message: message}
	case transientErrorCodes[code]:
		return &TransferError{Kind: TransferErrorTransient, Code: code, Message: message}
	case status == http.StatusTooManyRequests || status >= http.StatusInternalServerError:
		return &TransferError{Kind: TransferErrorTransient, Code: code, Message: message}
	default:
		return &TransferError{Kind: TransferErrorPermanent, Code: code, Message: message}
	}
}

// GetCharge fetches the processor's record of an escrow charge.
func (p *processorClient) GetCharge(ctx context.Context, chargeID string) (*model.Charge, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("%s/v1/charges/%s", p.apiURL, chargeID), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", p.apiKey))

	var charge model.Charge
	resp, err := request.Call(req, &charge)
	if resp != nil && resp.StatusCode == http.StatusNotFound {
		return nil, &TransferError{Kind: TransferErrorPermanent, Code: "charge_not_found",
			Message: fmt.Sprintf("charge %s not found", chargeID)}
	}
	if err != nil {
		return nil, &TransferError{Kind: TransferErrorTransient, Message: err.Error()}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, classifyTransferFailure(resp.StatusCode, "", fmt.Sprintf("charge lookup failed with status %d", resp.StatusCode))
	}
	return &charge, nil
}
