package client

import (
	"database/sql"
	"time"
)

// Client is a business entity owning equipment and deadlines. The core only reads it.
type Client struct {
	ID        int64
	Name      string
	TaxID     string // ИНН
	IsActive  bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Contact is a client-side person who receives deadline notifications in Telegram.
type Contact struct {
	ID                   int64
	ClientID             int64
	TelegramID           int64
	DisplayName          sql.NullString
	NotificationsEnabled bool
	CreatedAt            time.Time
}
