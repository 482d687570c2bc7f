// Package store declares the transactional boundary of the deadline core.
package store

import (
	"context"

	"kkt_deadline_bot/internal/domain/client"
	"kkt_deadline_bot/internal/domain/deadline"
	"kkt_deadline_bot/internal/domain/equipment"
	"kkt_deadline_bot/internal/domain/notification"
)

// Stores groups the repositories that share one transaction.
type Stores struct {
	Clients       client.Repository
	Deadlines     deadline.Repository
	Registers     equipment.Repository
	Notifications notification.Repository
}

// Transactor runs fn inside a single transaction. The transaction commits when fn returns nil
// and rolls back otherwise. Implementations bound the transaction with a timeout.
type Transactor interface {
	RunInTx(ctx context.Context, fn func(s Stores) error) error
}
