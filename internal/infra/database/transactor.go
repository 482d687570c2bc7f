package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"kkt_deadline_bot/internal/domain/store"
)

const defaultTxTimeout = 30 * time.Second

// querier is the part of *sql.DB and *sql.Tx the repositories use.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Transactor runs units of work in PostgreSQL transactions.
type Transactor struct {
	db      *sql.DB
	timeout time.Duration
}

func NewTransactor(db *sql.DB) *Transactor {
	return &Transactor{db: db, timeout: defaultTxTimeout}
}

// RunInTx commits when fn returns nil and rolls back otherwise. A context without a
// deadline gets the default transaction timeout.
func (t *Transactor) RunInTx(ctx context.Context, fn func(s store.Stores) error) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("transaction aborted: %w", err)
	}
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.timeout)
		defer cancel()
	}

	tx, err := t.db.BeginTx(ctx, nil)
	if err != nil {
		return mapError(err, "begin transaction")
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if err := fn(Stores(tx)); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return mapError(err, "commit transaction")
	}
	return nil
}

// Stores binds every repository to q.
func Stores(q querier) store.Stores {
	return store.Stores{
		Clients:       &PostgresClientRepository{q: q},
		Deadlines:     &PostgresDeadlineRepository{q: q},
		Registers:     &PostgresRegisterRepository{q: q},
		Notifications: &PostgresNotificationRepository{q: q},
	}
}
