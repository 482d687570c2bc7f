// internal/infra/database/postgres_notification_repository.go
package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"kkt_deadline_bot/internal/domain/notification"

	"github.com/lib/pq" // For pq.Array
)

type PostgresNotificationRepository struct {
	q querier
}

func NewPostgresNotificationRepository(db *sql.DB) *PostgresNotificationRepository {
	return &PostgresNotificationRepository{q: db}
}

// --- Marker Methods ---

func (r *PostgresNotificationRepository) ListMarkers(ctx context.Context, deadlineIDs []int64) ([]*notification.Marker, error) {
	if len(deadlineIDs) == 0 {
		return []*notification.Marker{}, nil
	}
	query := `SELECT deadline_id, recipient_chat_id, urgency, notified_at
               FROM notification_markers
               WHERE deadline_id = ANY($1::bigint[])
               ORDER BY deadline_id, recipient_chat_id`
	rows, err := r.q.QueryContext(ctx, query, pq.Array(deadlineIDs))
	if err != nil {
		return nil, fmt.Errorf("error querying notification markers: %w", err)
	}
	defer rows.Close()

	markers := make([]*notification.Marker, 0)
	for rows.Next() {
		m := &notification.Marker{}
		if err := rows.Scan(&m.DeadlineID, &m.RecipientChatID, &m.Urgency, &m.NotifiedAt); err != nil {
			return nil, fmt.Errorf("error scanning notification marker row: %w", err)
		}
		markers = append(markers, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating notification marker rows: %w", err)
	}
	return markers, nil
}

// UpsertMarker stores the delivered bucket for a deadline and chat. A stored marker is
// never moved to a less urgent bucket; urgency_rank orders buckets.
func (r *PostgresNotificationRepository) UpsertMarker(ctx context.Context, m *notification.Marker) error {
	query := `INSERT INTO notification_markers (deadline_id, recipient_chat_id, urgency, notified_at)
               VALUES ($1, $2, $3, $4)
               ON CONFLICT (deadline_id, recipient_chat_id) DO UPDATE
               SET urgency = EXCLUDED.urgency, notified_at = EXCLUDED.notified_at
               WHERE urgency_rank(EXCLUDED.urgency) >= urgency_rank(notification_markers.urgency)`
	if _, err := r.q.ExecContext(ctx, query, m.DeadlineID, m.RecipientChatID, m.Urgency, m.NotifiedAt); err != nil {
		return mapError(err, fmt.Sprintf("notification marker for deadline %d", m.DeadlineID))
	}
	return nil
}

func (r *PostgresNotificationRepository) ClearMarkers(ctx context.Context, deadlineID int64) error {
	if _, err := r.q.ExecContext(ctx, `DELETE FROM notification_markers WHERE deadline_id = $1`, deadlineID); err != nil {
		return fmt.Errorf("error clearing notification markers: %w", err)
	}
	return nil
}

// --- Delivery Log Methods ---

func (r *PostgresNotificationRepository) LogDelivery(ctx context.Context, entry *notification.DeliveryLog) error {
	query := `INSERT INTO notification_deliveries (deadline_id, recipient_chat_id, urgency, attempts, outcome, error, created_at)
               VALUES ($1, $2, $3, $4, $5, $6, COALESCE($7, NOW()))
               RETURNING id, created_at`
	var createdAt sql.NullTime
	if !entry.CreatedAt.IsZero() {
		createdAt = sql.NullTime{Time: entry.CreatedAt, Valid: true}
	}
	err := r.q.QueryRowContext(ctx, query,
		entry.DeadlineID, entry.RecipientChatID, entry.Urgency, entry.Attempts, entry.Outcome, entry.Error, createdAt,
	).Scan(&entry.ID, &entry.CreatedAt)
	if err != nil {
		return mapError(err, fmt.Sprintf("delivery log for deadline %d", entry.DeadlineID))
	}
	return nil
}

func (r *PostgresNotificationRepository) ListFailedDeliveries(ctx context.Context, since time.Time, limit int) ([]*notification.DeliveryLog, error) {
	query := `SELECT id, deadline_id, recipient_chat_id, urgency, attempts, outcome, error, created_at
               FROM notification_deliveries
               WHERE outcome = $1 AND created_at >= $2
               ORDER BY created_at DESC, id DESC`
	args := []any{notification.OutcomeFailed, since}
	if limit > 0 {
		query += ` LIMIT $3`
		args = append(args, limit)
	}
	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("error querying failed deliveries: %w", err)
	}
	defer rows.Close()

	entries := make([]*notification.DeliveryLog, 0)
	for rows.Next() {
		e := &notification.DeliveryLog{}
		if err := rows.Scan(&e.ID, &e.DeadlineID, &e.RecipientChatID, &e.Urgency, &e.Attempts, &e.Outcome, &e.Error, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("error scanning delivery row: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating delivery rows: %w", err)
	}
	return entries, nil
}
