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

	"github.com/shopspring/decimal"

	"github.com/adspacehq/adspace/internal/notification"
	"github.com/adspacehq/adspace/model"
)

// createNotification inserts one in-app notification row. Failures are
// reported but never block settlement; a missed notification is recoverable,
// a blocked payout is not.
func (a *Adspace) createNotification(ctx context.Context, userID, notificationType, title, content, bookingID string) bool {
	_, err := a.datasource.CreateNotification(ctx, &model.PayoutNotification{
		UserID:    userID,
		Type:      notificationType,
		Title:     title,
		Content:   content,
		BookingID: bookingID,
	})
	if err != nil {
		notification.NotifyError(err)
		return false
	}
	return true
}

func (a *Adspace) notifyPayoutSent(ctx context.Context, booking *model.Booking, tranche string, amount decimal.Decimal) {
	title := "Payout on the way"
	content := fmt.Sprintf("Your first payout of %s for booking %s has been sent.", amount.StringFixed(2), booking.BookingID)
	if tranche == model.TrancheFinal {
		content = fmt.Sprintf("Your final payout of %s for booking %s has been sent.", amount.StringFixed(2), booking.BookingID)
	}
	a.createNotification(ctx, booking.SpaceOwnerID, model.NotificationPayoutSent, title, content, booking.BookingID)
}

func (a *Adspace) notifyPayoutProcessing(ctx context.Context, booking *model.Booking) {
	a.createNotification(ctx, booking.SpaceOwnerID, model.NotificationPayoutProcessing,
		"Payout processing",
		fmt.Sprintf("Your payout for booking %s is being processed and should arrive shortly.", booking.BookingID),
		booking.BookingID)
}

func (a *Adspace) notifyPayoutHeld(ctx context.Context, booking *model.Booking) {
	a.createNotification(ctx, booking.SpaceOwnerID, model.NotificationPayoutHeld,
		"Payout on hold",
		fmt.Sprintf("Your payout for booking %s is on hold because your payout account is disconnected. Reconnect it to receive your funds.", booking.BookingID),
		booking.BookingID)
}

func (a *Adspace) notifyBookingCompleted(ctx context.Context, booking *model.Booking) {
	a.createNotification(ctx, booking.AdvertiserID, model.NotificationBookingCompleted,
		"Campaign completed",
		fmt.Sprintf("Your campaign for booking %s has finished and the booking is now complete.", booking.BookingID),
		booking.BookingID)
}

func (a *Adspace) notifyBookingCancelled(ctx context.Context, booking *model.Booking, reason string) {
	a.createNotification(ctx, booking.AdvertiserID, model.NotificationBookingCancelled,
		"Booking cancelled",
		fmt.Sprintf("Booking %s was cancelled: %s. Your payment will be refunded.", booking.BookingID, reason),
		booking.BookingID)
	a.createNotification(ctx, booking.SpaceOwnerID, model.NotificationBookingCancelled,
		"Booking cancelled",
		fmt.Sprintf("Booking %s was cancelled: %s.", booking.BookingID, reason),
		booking.BookingID)
}

func (a *Adspace) notifyVerificationDue(ctx context.Context, booking *model.Booking) bool {
	return a.createNotification(ctx, booking.SpaceOwnerID, model.NotificationVerificationDue,
		"Verification photo due soon",
		fmt.Sprintf("A verification photo for booking %s is due by %s. Upload it to keep your payouts on schedule.",
			booking.BookingID, booking.NextVerificationDue.Format("Jan 2, 2006")),
		booking.BookingID)
}
