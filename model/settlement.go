package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// PassStats is the outcome tally of a single scanning pass. Every booking a
// pass visits lands in exactly one bucket; nothing is silently dropped.
type PassStats struct {
	Scanned           int             `json:"scanned"`
	Transferred       int             `json:"transferred"`
	PendingRetry      int             `json:"pending_retry"`
	Held              int             `json:"held"`
	Failed            int             `json:"failed"`
	Skipped           int             `json:"skipped"`
	AmountTransferred decimal.Decimal `json:"amount_transferred"`
}

// Merge folds another stats record into this one. Passes run their bookings
// on a worker pool, so per-worker tallies are reduced rather than shared.
func (s PassStats) Merge(o PassStats) PassStats {
	return PassStats{
		Scanned:           s.Scanned + o.Scanned,
		Transferred:       s.Transferred + o.Transferred,
		PendingRetry:      s.PendingRetry + o.PendingRetry,
		Held:              s.Held + o.Held,
		Failed:            s.Failed + o.Failed,
		Skipped:           s.Skipped + o.Skipped,
		AmountTransferred: s.AmountTransferred.Add(o.AmountTransferred),
	}
}

// RunStats aggregates the four passes of one settlement run.
type RunStats struct {
	FirstPayouts      PassStats `json:"first_payouts"`
	FinalPayouts      PassStats `json:"final_payouts"`
	CancelledBookings int       `json:"cancelled_bookings"`
	RemindersSent     int       `json:"reminders_sent"`
}

// TotalTransferred is the total amount moved to space owners across both
// tranche passes.
func (r RunStats) TotalTransferred() decimal.Decimal {
	return r.FirstPayouts.AmountTransferred.Add(r.FinalPayouts.AmountTransferred)
}

// HasActivity reports whether any pass did anything worth alerting about.
func (r RunStats) HasActivity() bool {
	return r.FirstPayouts.Scanned > 0 ||
		r.FinalPayouts.Scanned > 0 ||
		r.CancelledBookings > 0 ||
		r.RemindersSent > 0
}

// SettlementRun is the persisted audit record of one orchestrator invocation.
type SettlementRun struct {
	ID         int64     `json:"-"`
	RunID      string    `json:"run_id"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Stats      RunStats  `json:"stats"`
}
