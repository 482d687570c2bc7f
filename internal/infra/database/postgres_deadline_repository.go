package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"kkt_deadline_bot/internal/domain/deadline"
)

type PostgresDeadlineRepository struct {
	q querier
}

func NewPostgresDeadlineRepository(db *sql.DB) *PostgresDeadlineRepository {
	return &PostgresDeadlineRepository{q: db}
}

const deadlineColumns = `id, client_id, cash_register_id, deadline_type_id, expiration_date, status, notes,
       last_notified_urgency, last_notified_at, renewed_from_id, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDeadline(row rowScanner) (*deadline.Deadline, error) {
	d := &deadline.Deadline{}
	err := row.Scan(
		&d.ID, &d.ClientID, &d.CashRegisterID, &d.DeadlineTypeID, &d.ExpirationDate, &d.Status, &d.Notes,
		&d.LastNotifiedUrgency, &d.LastNotifiedAt, &d.RenewedFromID, &d.CreatedAt, &d.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	d.ExpirationDate = deadline.DateOf(d.ExpirationDate)
	return d, nil
}

// Helper to scan multiple rows
func scanDeadlines(rows *sql.Rows) ([]*deadline.Deadline, error) {
	list := make([]*deadline.Deadline, 0)
	for rows.Next() {
		d, err := scanDeadline(rows)
		if err != nil {
			return nil, fmt.Errorf("error scanning deadline row: %w", err)
		}
		list = append(list, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating deadline rows: %w", err)
	}
	return list, nil
}

func (r *PostgresDeadlineRepository) Create(ctx context.Context, d *deadline.Deadline) error {
	query := `INSERT INTO deadlines (client_id, cash_register_id, deadline_type_id, expiration_date, status, notes,
                                    last_notified_urgency, last_notified_at, renewed_from_id)
               VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
               RETURNING id, created_at, updated_at`
	d.ExpirationDate = deadline.DateOf(d.ExpirationDate)
	err := r.q.QueryRowContext(ctx, query,
		d.ClientID, d.CashRegisterID, d.DeadlineTypeID, d.ExpirationDate, d.Status, d.Notes,
		d.LastNotifiedUrgency, d.LastNotifiedAt, d.RenewedFromID,
	).Scan(&d.ID, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return mapError(err, "create deadline")
	}
	return nil
}

func (r *PostgresDeadlineRepository) Update(ctx context.Context, d *deadline.Deadline) error {
	query := `UPDATE deadlines
               SET cash_register_id = $1, deadline_type_id = $2, expiration_date = $3, status = $4, notes = $5,
                   last_notified_urgency = $6, last_notified_at = $7, renewed_from_id = $8, updated_at = NOW()
               WHERE id = $9
               RETURNING updated_at`
	d.ExpirationDate = deadline.DateOf(d.ExpirationDate)
	err := r.q.QueryRowContext(ctx, query,
		d.CashRegisterID, d.DeadlineTypeID, d.ExpirationDate, d.Status, d.Notes,
		d.LastNotifiedUrgency, d.LastNotifiedAt, d.RenewedFromID, d.ID,
	).Scan(&d.UpdatedAt)
	if err != nil {
		return mapError(err, fmt.Sprintf("deadline %d", d.ID))
	}
	return nil
}

func (r *PostgresDeadlineRepository) GetByID(ctx context.Context, id int64) (*deadline.Deadline, error) {
	return r.get(ctx, `SELECT `+deadlineColumns+` FROM deadlines WHERE id = $1`, id)
}

// GetByIDForUpdate locks the row until the surrounding transaction ends.
func (r *PostgresDeadlineRepository) GetByIDForUpdate(ctx context.Context, id int64) (*deadline.Deadline, error) {
	return r.get(ctx, `SELECT `+deadlineColumns+` FROM deadlines WHERE id = $1 FOR UPDATE`, id)
}

func (r *PostgresDeadlineRepository) get(ctx context.Context, query string, id int64) (*deadline.Deadline, error) {
	d, err := scanDeadline(r.q.QueryRowContext(ctx, query, id))
	if err != nil {
		return nil, mapError(err, fmt.Sprintf("deadline %d", id))
	}
	return d, nil
}

func (r *PostgresDeadlineRepository) FindActiveForRegister(ctx context.Context, registerID, typeID int64) (*deadline.Deadline, error) {
	query := `SELECT ` + deadlineColumns + ` FROM deadlines
               WHERE cash_register_id = $1 AND deadline_type_id = $2 AND status = $3
               FOR UPDATE`
	d, err := scanDeadline(r.q.QueryRowContext(ctx, query, registerID, typeID, deadline.StatusActive))
	if err != nil {
		return nil, mapError(err, fmt.Sprintf("active deadline for register %d and type %d", registerID, typeID))
	}
	return d, nil
}

func (r *PostgresDeadlineRepository) List(ctx context.Context, f deadline.ListFilter) ([]*deadline.Deadline, error) {
	var (
		where []string
		args  []any
	)
	add := func(cond string, arg any) {
		args = append(args, arg)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if f.ClientID != 0 {
		add("client_id = $%d", f.ClientID)
	}
	if f.Status != "" {
		add("status = $%d", f.Status)
	}
	if !f.ExpiringBefore.IsZero() {
		add("expiration_date < $%d", deadline.DateOf(f.ExpiringBefore))
	}

	query := `SELECT ` + deadlineColumns + ` FROM deadlines`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY expiration_date, id`

	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("error querying deadlines: %w", err)
	}
	defer rows.Close()
	return scanDeadlines(rows)
}

func (r *PostgresDeadlineRepository) CountByType(ctx context.Context, typeID int64) (int, error) {
	var n int
	err := r.q.QueryRowContext(ctx, `SELECT COUNT(*) FROM deadlines WHERE deadline_type_id = $1`, typeID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("error counting deadlines by type: %w", err)
	}
	return n, nil
}

// OrphanByType clears the type reference of every deadline of the type, in any status.
func (r *PostgresDeadlineRepository) OrphanByType(ctx context.Context, typeID int64) (int64, error) {
	res, err := r.q.ExecContext(ctx,
		`UPDATE deadlines SET deadline_type_id = NULL, updated_at = NOW() WHERE deadline_type_id = $1`, typeID)
	if err != nil {
		return 0, mapError(err, fmt.Sprintf("orphan deadlines of type %d", typeID))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("error reading orphaned row count: %w", err)
	}
	return n, nil
}

// --- Deadline type methods ---

const typeColumns = `id, name, description, is_active, is_protected, created_at, updated_at`

func scanType(row rowScanner) (*deadline.Type, error) {
	t := &deadline.Type{}
	if err := row.Scan(&t.ID, &t.Name, &t.Description, &t.IsActive, &t.IsProtected, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return nil, err
	}
	return t, nil
}

func (r *PostgresDeadlineRepository) CreateType(ctx context.Context, t *deadline.Type) error {
	query := `INSERT INTO deadline_types (name, description, is_active, is_protected)
               VALUES ($1, $2, $3, $4)
               RETURNING id, created_at, updated_at`
	err := r.q.QueryRowContext(ctx, query, t.Name, t.Description, t.IsActive, t.IsProtected).
		Scan(&t.ID, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return mapError(err, "create deadline type")
	}
	return nil
}

func (r *PostgresDeadlineRepository) UpdateType(ctx context.Context, t *deadline.Type) error {
	query := `UPDATE deadline_types
               SET name = $1, description = $2, is_active = $3, is_protected = $4, updated_at = NOW()
               WHERE id = $5
               RETURNING updated_at`
	err := r.q.QueryRowContext(ctx, query, t.Name, t.Description, t.IsActive, t.IsProtected, t.ID).Scan(&t.UpdatedAt)
	if err != nil {
		return mapError(err, fmt.Sprintf("deadline type %d", t.ID))
	}
	return nil
}

func (r *PostgresDeadlineRepository) GetType(ctx context.Context, id int64) (*deadline.Type, error) {
	t, err := scanType(r.q.QueryRowContext(ctx, `SELECT `+typeColumns+` FROM deadline_types WHERE id = $1`, id))
	if err != nil {
		return nil, mapError(err, fmt.Sprintf("deadline type %d", id))
	}
	return t, nil
}

func (r *PostgresDeadlineRepository) GetTypeForUpdate(ctx context.Context, id int64) (*deadline.Type, error) {
	t, err := scanType(r.q.QueryRowContext(ctx, `SELECT `+typeColumns+` FROM deadline_types WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return nil, mapError(err, fmt.Sprintf("deadline type %d", id))
	}
	return t, nil
}

func (r *PostgresDeadlineRepository) ListTypes(ctx context.Context, activeOnly bool) ([]*deadline.Type, error) {
	query := `SELECT ` + typeColumns + ` FROM deadline_types`
	if activeOnly {
		query += ` WHERE is_active`
	}
	query += ` ORDER BY id`
	rows, err := r.q.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("error querying deadline types: %w", err)
	}
	defer rows.Close()

	types := make([]*deadline.Type, 0)
	for rows.Next() {
		t, err := scanType(rows)
		if err != nil {
			return nil, fmt.Errorf("error scanning deadline type row: %w", err)
		}
		types = append(types, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating deadline type rows: %w", err)
	}
	return types, nil
}

// DeleteType removes the type row; the foreign key nulls remaining references.
func (r *PostgresDeadlineRepository) DeleteType(ctx context.Context, id int64) error {
	res, err := r.q.ExecContext(ctx, `DELETE FROM deadline_types WHERE id = $1`, id)
	if err != nil {
		return mapError(err, fmt.Sprintf("deadline type %d", id))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("error reading deleted row count: %w", err)
	}
	if n == 0 {
		return mapError(sql.ErrNoRows, fmt.Sprintf("deadline type %d", id))
	}
	return nil
}
