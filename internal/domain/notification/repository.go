// internal/domain/notification/repository.go
package notification

import (
	"context"
	"time"
)

// Repository defines operations for notification markers and the delivery log.
type Repository interface {
	// ListMarkers returns the markers of all recipients of the given deadlines.
	ListMarkers(ctx context.Context, deadlineIDs []int64) ([]*Marker, error)
	// UpsertMarker stores m unless a more urgent marker already exists for the pair.
	UpsertMarker(ctx context.Context, m *Marker) error
	// ClearMarkers removes all markers of a deadline, starting a new notification cycle.
	ClearMarkers(ctx context.Context, deadlineID int64) error

	LogDelivery(ctx context.Context, entry *DeliveryLog) error
	ListFailedDeliveries(ctx context.Context, since time.Time, limit int) ([]*DeliveryLog, error)
}
