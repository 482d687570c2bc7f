// internal/domain/deadline/repository.go
package deadline

import (
	"context"
	"time"
)

// ListFilter narrows deadline listings. Zero values mean "any".
type ListFilter struct {
	ClientID       int64
	Status         Status
	ExpiringBefore time.Time
}

// Repository defines persistence operations for Deadline and Type.
// Methods ending in ForUpdate lock the returned row until the transaction ends.
type Repository interface {
	// Deadline methods
	Create(ctx context.Context, d *Deadline) error
	Update(ctx context.Context, d *Deadline) error
	GetByID(ctx context.Context, id int64) (*Deadline, error)
	GetByIDForUpdate(ctx context.Context, id int64) (*Deadline, error)
	// FindActiveForRegister returns the active deadline of the given type attached to the
	// register, locked, or an apperr.ErrNotFound error.
	FindActiveForRegister(ctx context.Context, registerID, typeID int64) (*Deadline, error)
	List(ctx context.Context, filter ListFilter) ([]*Deadline, error)
	CountByType(ctx context.Context, typeID int64) (int, error)
	// OrphanByType nulls deadline_type_id on every deadline referencing typeID.
	OrphanByType(ctx context.Context, typeID int64) (int64, error)

	// Type methods
	CreateType(ctx context.Context, t *Type) error
	UpdateType(ctx context.Context, t *Type) error
	GetType(ctx context.Context, id int64) (*Type, error)
	GetTypeForUpdate(ctx context.Context, id int64) (*Type, error)
	ListTypes(ctx context.Context, activeOnly bool) ([]*Type, error)
	DeleteType(ctx context.Context, id int64) error
}
