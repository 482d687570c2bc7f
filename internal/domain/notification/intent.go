// internal/domain/notification/intent.go
package notification

import (
	"fmt"
	"time"

	"kkt_deadline_bot/internal/domain/deadline"
)

// RecipientKind tells who a recipient is relative to the deadline.
type RecipientKind string

const (
	RecipientAdmin   RecipientKind = "admin"
	RecipientManager RecipientKind = "manager"
	RecipientContact RecipientKind = "client_contact"
)

// Recipient is a Telegram chat that receives deadline notifications.
type Recipient struct {
	ChatID int64
	Kind   RecipientKind
	Name   string
}

func (r Recipient) String() string {
	return fmt.Sprintf("%s:%d", r.Kind, r.ChatID)
}

// Intent is one message the scheduler wants delivered for a Deadline×recipient pair.
type Intent struct {
	DeadlineID     int64
	ExpirationDate time.Time
	Urgency        deadline.Urgency
	Recipient      Recipient
	Message        string
	Reminder       bool      // same bucket as before, re-sent after the re-notify interval
	PlannedAt      time.Time // tick planning time; reminder intervals are measured from it
}

// Outcome is the final state of a delivery.
type Outcome string

const (
	OutcomeSent   Outcome = "sent"
	OutcomeFailed Outcome = "failed"
)

// Result is an Intent after the dispatcher is done with it.
type Result struct {
	Intent        Intent
	Attempts      int
	LastAttemptAt time.Time
	Outcome       Outcome
	Err           error
}

func (r Result) Succeeded() bool {
	return r.Outcome == OutcomeSent
}
