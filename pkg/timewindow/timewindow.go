// Package timewindow derives human-facing statuses and durations for planned
// time ranges such as media incubations and equipment usage. Every function is
// pure: statuses are views over start, planned end and real end instants and
// are never persisted as the source of truth.
package timewindow

import (
	"fmt"
	"time"
)

// Status is the derived state of a time window relative to a reference instant.
type Status string

// Derived window statuses.
const (
	StatusNotStarted Status = "not_started"
	StatusActive     Status = "active"
	StatusCompleted  Status = "completed"
	StatusOverdue    Status = "overdue"
)

// Statuses lists every status Derive can return.
func Statuses() []Status {
	return []Status{StatusNotStarted, StatusActive, StatusCompleted, StatusOverdue}
}

// Window groups the instants a status is derived from. Nil means absent.
type Window struct {
	Start      *time.Time
	PlannedEnd *time.Time
	RealEnd    *time.Time
}

// Derive returns the status of the window [start, plannedEnd] at now.
// A real end always wins; an open-ended window never becomes overdue.
func Derive(now time.Time, start, plannedEnd, realEnd *time.Time) Status {
	switch {
	case realEnd != nil:
		return StatusCompleted
	case start == nil:
		return StatusNotStarted
	case plannedEnd == nil:
		return StatusActive
	case !now.After(*plannedEnd):
		return StatusActive
	default:
		return StatusOverdue
	}
}

// Status derives the window status at now.
func (w Window) Status(now time.Time) Status {
	return Derive(now, w.Start, w.PlannedEnd, w.RealEnd)
}

// Span is a duration expressed in whole hours and minutes.
type Span struct {
	Hours   int `json:"hours"`
	Minutes int `json:"minutes"`
}

// SpanOf truncates d to whole minutes. Negative durations yield a zero span.
func SpanOf(d time.Duration) Span {
	if d <= 0 {
		return Span{}
	}
	total := int(d / time.Minute)
	return Span{Hours: total / 60, Minutes: total % 60}
}

// Duration converts the span back to a time.Duration.
func (s Span) Duration() time.Duration {
	return time.Duration(s.Hours)*time.Hour + time.Duration(s.Minutes)*time.Minute
}

// String renders the span as "Xh Ymin".
func (s Span) String() string {
	return fmt.Sprintf("%dh %dmin", s.Hours, s.Minutes)
}

// Remaining reports the time left until the planned end. ok is false when the
// window has no planned end or has already been closed with a real end.
func (w Window) Remaining(now time.Time) (Span, bool) {
	if w.RealEnd != nil || w.PlannedEnd == nil {
		return Span{}, false
	}
	return SpanOf(w.PlannedEnd.Sub(now)), true
}

// Overrun reports how far past the planned end an open window is.
func (w Window) Overrun(now time.Time) (Span, bool) {
	if w.Status(now) != StatusOverdue {
		return Span{}, false
	}
	return SpanOf(now.Sub(*w.PlannedEnd)), true
}

// Elapsed reports the time since start, measured to the real end when the
// window is closed and to now otherwise.
func (w Window) Elapsed(now time.Time) (Span, bool) {
	if w.Start == nil {
		return Span{}, false
	}
	end := now
	if w.RealEnd != nil {
		end = *w.RealEnd
	}
	return SpanOf(end.Sub(*w.Start)), true
}
