// internal/domain/deadline/urgency.go
package deadline

import (
	"database/sql/driver"
	"fmt"
	"time"
)

// Urgency is the bucket a deadline falls into relative to today.
// Values are ordered: a larger value is more urgent.
type Urgency int

const (
	UrgencyNone    Urgency = iota // never notified; not a classification result
	UrgencyGreen                  // more than 14 days left
	UrgencyYellow                 // 8..14 days left
	UrgencyRed                    // 0..7 days left
	UrgencyExpired                // expiration date is in the past
)

// Bucket boundaries in days remaining. Boundary days belong to the more urgent bucket.
const (
	RedMaxDays    = 7
	YellowMaxDays = 14
)

var urgencyNames = [...]string{
	UrgencyNone:    "none",
	UrgencyGreen:   "green",
	UrgencyYellow:  "yellow",
	UrgencyRed:     "red",
	UrgencyExpired: "expired",
}

// Buckets lists the classification results from least to most urgent.
var Buckets = []Urgency{UrgencyGreen, UrgencyYellow, UrgencyRed, UrgencyExpired}

func (u Urgency) String() string {
	if u < UrgencyNone || u > UrgencyExpired {
		return fmt.Sprintf("urgency(%d)", int(u))
	}
	return urgencyNames[u]
}

// MoreUrgentThan reports whether u is strictly more urgent than other.
func (u Urgency) MoreUrgentThan(other Urgency) bool {
	return u > other
}

// IsUrgent reports whether u is red or expired, the buckets that get repeated reminders.
func (u Urgency) IsUrgent() bool {
	return u >= UrgencyRed
}

func ParseUrgency(s string) (Urgency, error) {
	for i, name := range urgencyNames {
		if name == s {
			return Urgency(i), nil
		}
	}
	return UrgencyNone, fmt.Errorf("unknown urgency %q", s)
}

// Value stores the urgency as its name.
func (u Urgency) Value() (driver.Value, error) {
	return u.String(), nil
}

func (u *Urgency) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*u = UrgencyNone
		return nil
	case string:
		parsed, err := ParseUrgency(v)
		if err != nil {
			return err
		}
		*u = parsed
		return nil
	case []byte:
		return u.Scan(string(v))
	default:
		return fmt.Errorf("cannot scan %T into Urgency", src)
	}
}

// DateOf drops the time of day, keeping the calendar date t shows in its own location.
func DateOf(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// DaysRemaining is expiration - today in whole calendar days; negative once expired.
func DaysRemaining(expiration, today time.Time) int {
	return int(DateOf(expiration).Sub(DateOf(today)).Hours() / 24)
}

// Classify maps an expiration date to its urgency bucket. It is the only place the bucket
// boundaries are applied; display and notification scheduling both call it.
func Classify(expiration, today time.Time) Urgency {
	days := DaysRemaining(expiration, today)
	switch {
	case days < 0:
		return UrgencyExpired
	case days <= RedMaxDays:
		return UrgencyRed
	case days <= YellowMaxDays:
		return UrgencyYellow
	default:
		return UrgencyGreen
	}
}

// Tally counts deadlines per bucket.
type Tally map[Urgency]int

func (t Tally) Total() int {
	n := 0
	for _, c := range t {
		n += c
	}
	return n
}
