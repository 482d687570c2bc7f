package database

import (
	"context"
	"database/sql"
	"fmt"

	"kkt_deadline_bot/internal/domain/deadline"
	"kkt_deadline_bot/internal/domain/equipment"
)

type PostgresRegisterRepository struct {
	q querier
}

func NewPostgresRegisterRepository(db *sql.DB) *PostgresRegisterRepository {
	return &PostgresRegisterRepository{q: db}
}

const registerColumns = `id, client_id, serial_number, fn_number, model, fn_replacement_date, ofd_renewal_date,
       is_active, created_at, updated_at`

func scanRegister(row rowScanner) (*equipment.CashRegister, error) {
	reg := &equipment.CashRegister{}
	err := row.Scan(
		&reg.ID, &reg.ClientID, &reg.SerialNumber, &reg.FNNumber, &reg.Model,
		&reg.Dates.FNReplacementDate, &reg.Dates.OFDRenewalDate,
		&reg.IsActive, &reg.CreatedAt, &reg.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	reg.Dates = dateOnly(reg.Dates)
	return reg, nil
}

func dateOnly(d equipment.ComplianceDates) equipment.ComplianceDates {
	if d.FNReplacementDate.Valid {
		d.FNReplacementDate.Time = deadline.DateOf(d.FNReplacementDate.Time)
	}
	if d.OFDRenewalDate.Valid {
		d.OFDRenewalDate.Time = deadline.DateOf(d.OFDRenewalDate.Time)
	}
	return d
}

func (r *PostgresRegisterRepository) Create(ctx context.Context, reg *equipment.CashRegister) error {
	query := `INSERT INTO cash_registers (client_id, serial_number, fn_number, model, fn_replacement_date, ofd_renewal_date, is_active)
               VALUES ($1, $2, $3, $4, $5, $6, $7)
               RETURNING id, created_at, updated_at`
	reg.Dates = dateOnly(reg.Dates)
	err := r.q.QueryRowContext(ctx, query,
		reg.ClientID, reg.SerialNumber, reg.FNNumber, reg.Model,
		reg.Dates.FNReplacementDate, reg.Dates.OFDRenewalDate, reg.IsActive,
	).Scan(&reg.ID, &reg.CreatedAt, &reg.UpdatedAt)
	if err != nil {
		return mapError(err, "create cash register")
	}
	return nil
}

func (r *PostgresRegisterRepository) GetByID(ctx context.Context, id int64) (*equipment.CashRegister, error) {
	reg, err := scanRegister(r.q.QueryRowContext(ctx, `SELECT `+registerColumns+` FROM cash_registers WHERE id = $1`, id))
	if err != nil {
		return nil, mapError(err, fmt.Sprintf("cash register %d", id))
	}
	return reg, nil
}

// GetByIDForUpdate locks the register so concurrent date changes are applied one by one.
func (r *PostgresRegisterRepository) GetByIDForUpdate(ctx context.Context, id int64) (*equipment.CashRegister, error) {
	reg, err := scanRegister(r.q.QueryRowContext(ctx, `SELECT `+registerColumns+` FROM cash_registers WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return nil, mapError(err, fmt.Sprintf("cash register %d", id))
	}
	return reg, nil
}

func (r *PostgresRegisterRepository) UpdateComplianceDates(ctx context.Context, id int64, dates equipment.ComplianceDates) error {
	dates = dateOnly(dates)
	res, err := r.q.ExecContext(ctx,
		`UPDATE cash_registers SET fn_replacement_date = $1, ofd_renewal_date = $2, updated_at = NOW() WHERE id = $3`,
		dates.FNReplacementDate, dates.OFDRenewalDate, id)
	if err != nil {
		return mapError(err, fmt.Sprintf("cash register %d", id))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("error reading updated row count: %w", err)
	}
	if n == 0 {
		return mapError(sql.ErrNoRows, fmt.Sprintf("cash register %d", id))
	}
	return nil
}

func (r *PostgresRegisterRepository) ListByClient(ctx context.Context, clientID int64) ([]*equipment.CashRegister, error) {
	rows, err := r.q.QueryContext(ctx, `SELECT `+registerColumns+` FROM cash_registers WHERE client_id = $1 ORDER BY id`, clientID)
	if err != nil {
		return nil, fmt.Errorf("error querying cash registers: %w", err)
	}
	defer rows.Close()

	regs := make([]*equipment.CashRegister, 0)
	for rows.Next() {
		reg, err := scanRegister(rows)
		if err != nil {
			return nil, fmt.Errorf("error scanning cash register row: %w", err)
		}
		regs = append(regs, reg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating cash register rows: %w", err)
	}
	return regs, nil
}
