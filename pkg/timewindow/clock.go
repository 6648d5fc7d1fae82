package timewindow

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// DefaultLocation is the lab timezone used when none is configured.
const DefaultLocation = "America/Tijuana"

// Clock evaluates "now" and civil date/time input in one lab timezone.
type Clock struct {
	loc *time.Location
	now func() time.Time
}

// NewClock binds a clock to loc. A nil location falls back to UTC.
func NewClock(loc *time.Location) Clock {
	if loc == nil {
		loc = time.UTC
	}
	return Clock{loc: loc, now: time.Now}
}

// LoadClock resolves an IANA timezone name into a Clock.
func LoadClock(name string) (Clock, error) {
	if strings.TrimSpace(name) == "" {
		name = DefaultLocation
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return Clock{}, fmt.Errorf("load lab timezone %q: %w", name, err)
	}
	return NewClock(loc), nil
}

// WithNow returns a copy of the clock that reads the current instant from fn.
func (c Clock) WithNow(fn func() time.Time) Clock {
	c.now = fn
	return c
}

// Location returns the lab timezone.
func (c Clock) Location() *time.Location {
	if c.loc == nil {
		return time.UTC
	}
	return c.loc
}

// Now returns the current instant expressed in the lab timezone.
func (c Clock) Now() time.Time {
	fn := c.now
	if fn == nil {
		fn = time.Now
	}
	return fn().In(c.Location())
}

// ParseHHMM validates a 24h "HH:MM" string.
func ParseHHMM(value string) (hour, minute int, err error) {
	parts := strings.Split(strings.TrimSpace(value), ":")
	if len(parts) != 2 || len(parts[0]) != 2 || len(parts[1]) != 2 {
		return 0, 0, fmt.Errorf("time %q must use HH:MM format", value)
	}
	hour, err = strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return 0, 0, fmt.Errorf("time %q has an invalid hour", value)
	}
	minute, err = strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("time %q has invalid minutes", value)
	}
	return hour, minute, nil
}

// Combine joins the civil date of day with an "HH:MM" time in the lab
// timezone. An empty hhmm uses fallback.
func (c Clock) Combine(day time.Time, hhmm, fallback string) (time.Time, error) {
	if strings.TrimSpace(hhmm) == "" {
		hhmm = fallback
	}
	hour, minute, err := ParseHHMM(hhmm)
	if err != nil {
		return time.Time{}, err
	}
	y, m, d := day.Date()
	return time.Date(y, m, d, hour, minute, 0, 0, c.Location()), nil
}

// StartOfDay returns local midnight of the day containing t.
func (c Clock) StartOfDay(t time.Time) time.Time {
	y, m, d := t.In(c.Location()).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, c.Location())
}

// StartOfWeek returns local midnight of the Monday starting t's week.
func (c Clock) StartOfWeek(t time.Time) time.Time {
	day := c.StartOfDay(t)
	offset := (int(day.Weekday()) + 6) % 7
	return day.AddDate(0, 0, -offset)
}
