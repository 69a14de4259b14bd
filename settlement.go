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
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/adspacehq/adspace/config"
	"github.com/adspacehq/adspace/internal/apierror"
	redlock "github.com/adspacehq/adspace/internal/lock"
	"github.com/adspacehq/adspace/internal/notification"
	"github.com/adspacehq/adspace/model"
)

const (
	runLockKey = "settlement:run-lock"
	runLockTTL = 30 * time.Minute
)

// RunSettlement executes one full settlement cycle: first payouts, final
// payouts, expired-proof cancellations, and verification reminders, in that
// order. A Redis lock keeps overlapping invocations (cron firing while a
// manual trigger is in flight) down to one; the loser returns a conflict.
//
// Passes are independent: a pass that cannot even list its candidates is
// logged and skipped, the remaining passes still run.
func (a *Adspace) RunSettlement(ctx context.Context) (*model.SettlementRun, error) {
	ctx, span := tracer.Start(ctx, "Running settlement")
	defer span.End()

	cfg, err := config.Fetch()
	if err != nil {
		return nil, err
	}

	locker := redlock.NewLocker(a.redis, runLockKey, model.GenerateUUIDWithSuffix("lock"))
	if err := locker.Lock(ctx, runLockTTL); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrConflict, "A settlement run is already in progress", err)
	}
	defer func() {
		if err := locker.Unlock(ctx); err != nil {
			logrus.Error("settlement run lock release error: ", err)
		}
	}()

	run := &model.SettlementRun{
		RunID:     model.GenerateUUIDWithSuffix("run"),
		StartedAt: time.Now(),
	}
	logrus.Infof("starting settlement run %s", run.RunID)

	run.Stats.FirstPayouts = a.processFirstPayouts(ctx, cfg)
	run.Stats.FinalPayouts = a.processFinalPayouts(ctx, cfg)
	run.Stats.CancelledBookings = a.cancelExpiredBookings(ctx, cfg)
	run.Stats.RemindersSent = a.sendVerificationReminders(ctx, cfg)
	run.FinishedAt = time.Now()

	if _, err := a.datasource.RecordSettlementRun(ctx, run); err != nil {
		notification.NotifyError(err)
	}
	if run.Stats.HasActivity() {
		notification.SendAlert(summarizeRun(run))
	}

	logrus.Infof("settlement run %s finished: %d first payouts, %d final payouts, %d cancelled, %d reminders",
		run.RunID,
		run.Stats.FirstPayouts.Transferred,
		run.Stats.FinalPayouts.Transferred,
		run.Stats.CancelledBookings,
		run.Stats.RemindersSent)
	return run, nil
}

func summarizeRun(run *model.SettlementRun) string {
	return fmt.Sprintf(
		"Settlement run %s: transferred %s (%d first, %d final), %d pending retry, %d held, %d failed, %d bookings cancelled, %d reminders sent",
		run.RunID,
		run.Stats.TotalTransferred().StringFixed(2),
		run.Stats.FirstPayouts.Transferred,
		run.Stats.FinalPayouts.Transferred,
		run.Stats.FirstPayouts.PendingRetry+run.Stats.FinalPayouts.PendingRetry,
		run.Stats.FirstPayouts.Held+run.Stats.FinalPayouts.Held,
		run.Stats.FirstPayouts.Failed+run.Stats.FinalPayouts.Failed,
		run.Stats.CancelledBookings,
		run.Stats.RemindersSent)
}

// processFirstPayouts releases the installation fee plus the first rental
// tranche for every booking whose installation proof has been approved.
func (a *Adspace) processFirstPayouts(ctx context.Context, cfg *config.Configuration) model.PassStats {
	ctx, span := tracer.Start(ctx, "Processing first payouts")
	defer span.End()

	bookings, err := a.datasource.GetFirstPayoutCandidates(ctx)
	if err != nil {
		notification.NotifyError(err)
		return model.PassStats{}
	}

	return a.runBookingPool(ctx, cfg.Settlement.Workers, bookings, func(ctx context.Context, booking *model.Booking) model.PassStats {
		return a.settleBooking(ctx, cfg, booking, model.TrancheFirst)
	})
}

// processFinalPayouts releases the remaining rental balance for bookings
// whose campaign has ended.
func (a *Adspace) processFinalPayouts(ctx context.Context, cfg *config.Configuration) model.PassStats {
	ctx, span := tracer.Start(ctx, "Processing final payouts")
	defer span.End()

	bookings, err := a.datasource.GetFinalPayoutCandidates(ctx, time.Now())
	if err != nil {
		notification.NotifyError(err)
		return model.PassStats{}
	}

	return a.runBookingPool(ctx, cfg.Settlement.Workers, bookings, func(ctx context.Context, booking *model.Booking) model.PassStats {
		return a.settleBooking(ctx, cfg, booking, model.TrancheFinal)
	})
}

// runBookingPool fans bookings out to a bounded pool and reduces the
// per-booking tallies. Worker count 0 or less degrades to a single worker.
func (a *Adspace) runBookingPool(ctx context.Context, workers int, bookings []*model.Booking, process func(context.Context, *model.Booking) model.PassStats) model.PassStats {
	if workers <= 0 {
		workers = 1
	}

	jobs := make(chan *model.Booking)
	results := make(chan model.PassStats)
	var wg sync.WaitGroup

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for booking := range jobs {
				results <- process(ctx, booking)
			}
		}()
	}

	go func() {
		for _, booking := range bookings {
			jobs <- booking
		}
		close(jobs)
	}()
	go func() {
		wg.Wait()
		close(results)
	}()

	stats := model.PassStats{}
	for result := range results {
		stats = stats.Merge(result)
	}
	return stats
}

// cancelExpiredBookings cancels confirmed bookings that never got an
// installation proof within the grace window, so the advertiser's escrowed
// charge can be refunded by the marketplace.
func (a *Adspace) cancelExpiredBookings(ctx context.Context, cfg *config.Configuration) int {
	ctx, span := tracer.Start(ctx, "Cancelling expired bookings")
	defer span.End()

	bookings, err := a.datasource.GetStaleProofBookings(ctx)
	if err != nil {
		notification.NotifyError(err)
		return 0
	}

	now := time.Now()
	cancelled := 0
	for _, booking := range bookings {
		if booking.DaysSincePaid(now) <= cfg.Settlement.ProofGraceDays {
			continue
		}

		reason := fmt.Sprintf("No installation proof within %d days of payment", cfg.Settlement.ProofGraceDays)
		ok, err := a.datasource.CancelBooking(ctx, booking.BookingID, reason)
		if err != nil {
			notification.NotifyError(err)
			continue
		}
		if !ok {
			// Proof landed or the booking moved on while we were
			// scanning.
			continue
		}

		cancelled++
		a.notifyBookingCancelled(ctx, booking, reason)
	}
	return cancelled
}

// sendVerificationReminders nudges space owners whose next verification
// checkpoint falls inside the lookahead window. A Redis marker keeps daily
// runs from re-sending the same reminder.
func (a *Adspace) sendVerificationReminders(ctx context.Context, cfg *config.Configuration) int {
	ctx, span := tracer.Start(ctx, "Sending verification reminders")
	defer span.End()

	now := time.Now()
	until := now.AddDate(0, 0, cfg.Settlement.ReminderLookaheadDays)
	bookings, err := a.datasource.GetVerificationDueBookings(ctx, now, until)
	if err != nil {
		notification.NotifyError(err)
		return 0
	}

	sent := 0
	for _, booking := range bookings {
		if booking.NextVerificationDue == nil {
			continue
		}
		key := fmt.Sprintf("reminder:sent:%s:%s", booking.BookingID, booking.NextVerificationDue.Format("2006-01-02"))

		var alreadySent bool
		if err := a.cache.Get(ctx, key, &alreadySent); err != nil {
			notification.NotifyError(err)
		}
		if alreadySent {
			continue
		}

		if !a.notifyVerificationDue(ctx, booking) {
			continue
		}
		sent++
		if err := a.cache.Set(ctx, key, true, reminderDedupTTL(cfg)); err != nil {
			notification.NotifyError(err)
		}
	}
	return sent
}

// reminderDedupTTL keeps the marker alive past the lookahead window so the
// checkpoint cannot be reminded about twice.
func reminderDedupTTL(cfg *config.Configuration) time.Duration {
	return time.Duration(cfg.Settlement.ReminderLookaheadDays+1) * 24 * time.Hour
}

// RecentRuns returns the latest settlement run audit records, newest first.
func (a *Adspace) RecentRuns(ctx context.Context, limit int) ([]model.SettlementRun, error) {
	return a.datasource.GetRecentSettlementRuns(ctx, limit)
}
