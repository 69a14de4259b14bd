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

	"github.com/adspacehq/adspace/config"
	"github.com/adspacehq/adspace/internal/notification"
	"github.com/adspacehq/adspace/model"
)

// holdNotificationTTL bounds the dedup marker: if an account stays broken
// past it, the owner gets nudged again.
const holdNotificationTTL = 7 * 24 * time.Hour

// holdPayout parks a booking whose owner cannot receive funds. The hold is
// re-applied on every run the account stays broken, but the owner and the
// ops channel are only notified once per TTL window per booking.
func (a *Adspace) holdPayout(ctx context.Context, cfg *config.Configuration, booking *model.Booking, cause string) {
	if err := a.datasource.HoldPayout(ctx, booking.BookingID, model.HoldReasonAccountDisconnected); err != nil {
		notification.NotifyError(err)
		return
	}

	key := fmt.Sprintf("hold:notified:%s", booking.BookingID)
	var alreadyNotified bool
	if err := a.cache.Get(ctx, key, &alreadyNotified); err != nil {
		notification.NotifyError(err)
	}
	if alreadyNotified {
		return
	}

	if cfg.Settlement.NotifyOwnerOnHold {
		a.notifyPayoutHeld(ctx, booking)
	}
	notification.SendAlert(fmt.Sprintf("Payout held for booking %s (owner %s): %s",
		booking.BookingID, booking.SpaceOwnerID, cause))

	if err := a.cache.Set(ctx, key, true, holdNotificationTTL); err != nil {
		notification.NotifyError(err)
	}
}
