// Package quota provides pure functions for daily quota accounting.
// All functions are deterministic with no side effects.
package quota

import (
	"time"

	"github.com/codelens/quotagate/domain/usage"
)

// DefaultDailyLimit matches the free tier of the product: three analyses per
// identity per day.
const DefaultDailyLimit = 3

// Window represents the current accounting period (value type). Windows are
// derived from the clock on every query and never persisted.
type Window struct {
	Start time.Time // midnight in the accounting timezone
	End   time.Time // next midnight (exclusive)
}

// Contains reports whether t falls inside the half-open window [Start, End).
func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.Start) && t.Before(w.End)
}

// Status represents current quota usage for an identity (value type, not
// persisted).
type Status struct {
	Limit     int
	Used      int
	Remaining int
	ResetAt   time.Time
	// Degraded marks a status computed without a successful store read
	// (fail-open). The figures default to a full allowance and may be
	// inaccurate.
	Degraded bool
}

// MayConsume reports whether one more consuming action is permitted.
func (s Status) MayConsume() bool {
	return s.Remaining > 0
}

// CurrentWindow computes the accounting window containing now, in loc.
// The window runs from midnight to the next calendar midnight; using
// AddDate rather than a flat 24h keeps the boundary on midnight across
// DST transitions. A nil loc means UTC.
// This is a PURE function.
func CurrentWindow(now time.Time, loc *time.Location) Window {
	if loc == nil {
		loc = time.UTC
	}
	t := now.In(loc)
	start := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
	return Window{
		Start: start,
		End:   start.AddDate(0, 0, 1),
	}
}

// Evaluate computes quota status from an identity's events and the current
// window. Events outside [w.Start, w.End) are ignored, so callers may pass
// a superset of the window. Remaining is clamped at zero; concurrent
// recording can push Used past Limit (accepted over-admission) and the
// status still reports the true count.
// This is a PURE function.
func Evaluate(events []usage.Event, w Window, limit int) Status {
	used := 0
	for _, e := range events {
		if e.In(w.Start, w.End) {
			used++
		}
	}

	remaining := limit - used
	if remaining < 0 {
		remaining = 0
	}

	return Status{
		Limit:     limit,
		Used:      used,
		Remaining: remaining,
		ResetAt:   w.End,
	}
}

// DegradedStatus is the fail-open answer used when the store cannot be read:
// a full allowance, flagged so callers can indicate reduced confidence.
// Quota accounting must never block the product's primary action.
// This is a PURE function.
func DegradedStatus(w Window, limit int) Status {
	return Status{
		Limit:     limit,
		Used:      0,
		Remaining: limit,
		ResetAt:   w.End,
		Degraded:  true,
	}
}
