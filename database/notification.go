package database

import (
	"context"
	"time"

	"github.com/adspacehq/adspace/internal/apierror"
	"github.com/adspacehq/adspace/model"
)

// CreateNotification inserts one payout notification row. The marketplace UI
// reads these; the settlement engine only writes them.
func (d Datasource) CreateNotification(ctx context.Context, notification *model.PayoutNotification) (*model.PayoutNotification, error) {
	if notification.NotificationID == "" {
		notification.NotificationID = model.GenerateUUIDWithSuffix("ntf")
	}
	if notification.CreatedAt.IsZero() {
		notification.CreatedAt = time.Now()
	}

	_, err := d.Conn.ExecContext(ctx, `
		INSERT INTO payout_notifications (notification_id, user_id, type, title, content, booking_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, notification.NotificationID, notification.UserID, notification.Type, notification.Title,
		notification.Content, notification.BookingID, notification.CreatedAt)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to record notification", err)
	}
	return notification, nil
}
