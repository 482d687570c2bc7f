package database

import (
	"context"
	"database/sql"
	"fmt"

	"kkt_deadline_bot/internal/domain/client"
)

// PostgresClientRepository reads clients and their contacts. Client records are maintained
// by the CRUD surface that owns them.
type PostgresClientRepository struct {
	q querier
}

func NewPostgresClientRepository(db *sql.DB) *PostgresClientRepository {
	return &PostgresClientRepository{q: db}
}

func (r *PostgresClientRepository) GetByID(ctx context.Context, id int64) (*client.Client, error) {
	query := `SELECT id, name, tax_id, is_active, created_at, updated_at FROM clients WHERE id = $1`
	c := &client.Client{}
	err := r.q.QueryRowContext(ctx, query, id).Scan(&c.ID, &c.Name, &c.TaxID, &c.IsActive, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, mapError(err, fmt.Sprintf("client %d", id))
	}
	return c, nil
}

func (r *PostgresClientRepository) ListActive(ctx context.Context) ([]*client.Client, error) {
	query := `SELECT id, name, tax_id, is_active, created_at, updated_at
               FROM clients WHERE is_active ORDER BY name`
	rows, err := r.q.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("error querying active clients: %w", err)
	}
	defer rows.Close()

	clients := make([]*client.Client, 0)
	for rows.Next() {
		c := &client.Client{}
		if err := rows.Scan(&c.ID, &c.Name, &c.TaxID, &c.IsActive, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("error scanning client row: %w", err)
		}
		clients = append(clients, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating client rows: %w", err)
	}
	return clients, nil
}

func (r *PostgresClientRepository) ListNotifiableContacts(ctx context.Context, clientID int64) ([]*client.Contact, error) {
	query := `SELECT id, client_id, telegram_id, display_name, notifications_enabled, created_at
               FROM client_contacts
               WHERE client_id = $1 AND notifications_enabled
               ORDER BY id`
	rows, err := r.q.QueryContext(ctx, query, clientID)
	if err != nil {
		return nil, fmt.Errorf("error querying client contacts: %w", err)
	}
	defer rows.Close()

	contacts := make([]*client.Contact, 0)
	for rows.Next() {
		c := &client.Contact{}
		if err := rows.Scan(&c.ID, &c.ClientID, &c.TelegramID, &c.DisplayName, &c.NotificationsEnabled, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("error scanning client contact row: %w", err)
		}
		contacts = append(contacts, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating client contact rows: %w", err)
	}
	return contacts, nil
}
