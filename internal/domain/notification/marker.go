// internal/domain/notification/marker.go
package notification

import (
	"database/sql"
	"time"

	"kkt_deadline_bot/internal/domain/deadline"
)

// Marker is the persisted notification state of one Deadline×recipient pair.
// Corresponds to the 'notification_markers' table.
type Marker struct {
	DeadlineID      int64
	RecipientChatID int64
	Urgency         deadline.Urgency // last bucket successfully delivered
	NotifiedAt      time.Time
}

// DeliveryLog is an append-only record of a delivery outcome.
// Corresponds to the 'notification_deliveries' table.
type DeliveryLog struct {
	ID              int64
	DeadlineID      int64
	RecipientChatID int64
	Urgency         deadline.Urgency
	Attempts        int
	Outcome         Outcome
	Error           sql.NullString
	CreatedAt       time.Time
}

// NewDeliveryLog builds the log entry for a dispatcher result.
func NewDeliveryLog(res Result) *DeliveryLog {
	entry := &DeliveryLog{
		DeadlineID:      res.Intent.DeadlineID,
		RecipientChatID: res.Intent.Recipient.ChatID,
		Urgency:         res.Intent.Urgency,
		Attempts:        res.Attempts,
		Outcome:         res.Outcome,
		CreatedAt:       res.LastAttemptAt,
	}
	if res.Err != nil {
		entry.Error = sql.NullString{String: res.Err.Error(), Valid: true}
	}
	return entry
}
