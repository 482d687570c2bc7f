package client

import "context"

// Repository defines read access to clients and their contacts.
type Repository interface {
	GetByID(ctx context.Context, id int64) (*Client, error)
	ListActive(ctx context.Context) ([]*Client, error)
	// ListNotifiableContacts returns contacts with notifications enabled.
	ListNotifiableContacts(ctx context.Context, clientID int64) ([]*Contact, error)
}
