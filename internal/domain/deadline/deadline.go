// internal/domain/deadline/deadline.go
package deadline

import (
	"database/sql"
	"time"
)

// Status is the lifecycle state of a Deadline.
type Status string

const (
	StatusActive    Status = "active"
	StatusCancelled Status = "cancelled"
	StatusRenewed   Status = "renewed" // superseded by a newer Deadline, see RenewedFromID
)

func (s Status) Valid() bool {
	switch s {
	case StatusActive, StatusCancelled, StatusRenewed:
		return true
	}
	return false
}

// CanTransition reports whether a deadline may move from s to next.
// Only active deadlines change state; cancelled and renewed are terminal.
func (s Status) CanTransition(next Status) bool {
	return s == StatusActive && (next == StatusCancelled || next == StatusRenewed)
}

// Deadline is a tracked expiration obligation of a client, optionally tied to a cash register.
// Corresponds to the 'deadlines' table.
type Deadline struct {
	ID                  int64
	ClientID            int64
	CashRegisterID      sql.NullInt64 // nil for general (non-equipment) deadlines
	DeadlineTypeID      sql.NullInt64 // nulled when the type is deleted
	ExpirationDate      time.Time     // calendar date, see DateOf
	Status              Status
	Notes               string
	LastNotifiedUrgency Urgency
	LastNotifiedAt      sql.NullTime
	RenewedFromID       sql.NullInt64
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// Urgency classifies the deadline against today.
func (d *Deadline) Urgency(today time.Time) Urgency {
	return Classify(d.ExpirationDate, today)
}

func (d *Deadline) DaysRemaining(today time.Time) int {
	return DaysRemaining(d.ExpirationDate, today)
}

// ResetNotifications starts a new notification cycle for the deadline.
func (d *Deadline) ResetNotifications() {
	d.LastNotifiedUrgency = UrgencyNone
	d.LastNotifiedAt = sql.NullTime{}
}

// AppendNote adds a line to the free-text note trail.
func (d *Deadline) AppendNote(line string) {
	if d.Notes == "" {
		d.Notes = line
		return
	}
	d.Notes += "\n" + line
}

// Type is a category of obligation, e.g. fiscal-drive replacement.
// Corresponds to the 'deadline_types' table.
type Type struct {
	ID          int64
	Name        string
	Description sql.NullString
	IsActive    bool
	IsProtected bool // system-seeded; needs an explicit unprotect before deletion
	CreatedAt   time.Time
	UpdatedAt   time.Time
}
