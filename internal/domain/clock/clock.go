package clock

import "time"

// Clock supplies the current instant. Components take a Clock instead of calling time.Now
// so tests can pin "today".
type Clock interface {
	Now() time.Time
}

// System is the wall clock in a fixed location (the notification timezone).
type System struct {
	Location *time.Location
}

func NewSystem(loc *time.Location) System {
	if loc == nil {
		loc = time.UTC
	}
	return System{Location: loc}
}

func (s System) Now() time.Time {
	return time.Now().In(s.Location)
}

// Today returns the calendar date of c.Now() in the clock's own location, as 00:00 UTC.
func Today(c Clock) time.Time {
	now := c.Now()
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
}
