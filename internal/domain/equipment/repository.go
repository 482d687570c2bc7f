package equipment

import "context"

// Repository defines the operations for persisting and retrieving CashRegister entities.
type Repository interface {
	Create(ctx context.Context, r *CashRegister) error
	GetByID(ctx context.Context, id int64) (*CashRegister, error)
	// GetByIDForUpdate locks the register row; the hook engine serializes on it.
	GetByIDForUpdate(ctx context.Context, id int64) (*CashRegister, error)
	UpdateComplianceDates(ctx context.Context, id int64, dates ComplianceDates) error
	ListByClient(ctx context.Context, clientID int64) ([]*CashRegister, error)
}
