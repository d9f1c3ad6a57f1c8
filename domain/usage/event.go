// Package usage provides usage event types and identity handling.
// All functions are pure - no side effects.
package usage

import (
	"strings"
	"time"
)

// Kind values distinguish event types. Current policy treats all kinds
// uniformly; the field exists so the ledger stays meaningful if other
// billable actions are added later.
const (
	KindAnalysis = "ai_analysis"
)

// Event represents a single consumed unit of quota (immutable value type).
// Events are append-only: once recorded they are never mutated or deleted.
type Event struct {
	ID        string
	Identity  string
	Kind      string
	Timestamp time.Time
}

// NewEvent creates an event for an identity at a point in time.
// An empty kind defaults to KindAnalysis.
func NewEvent(id, identity, kind string, ts time.Time) Event {
	if kind == "" {
		kind = KindAnalysis
	}
	return Event{
		ID:        id,
		Identity:  identity,
		Kind:      kind,
		Timestamp: ts,
	}
}

// In reports whether the event falls inside the half-open window [start, end).
func (e Event) In(start, end time.Time) bool {
	return !e.Timestamp.Before(start) && e.Timestamp.Before(end)
}

// NormalizeIdentity canonicalizes an identity key: surrounding whitespace is
// stripped and the result is lower-cased. Identities are mostly email
// addresses, and without folding "A@x.com" and "a@x.com" would silently get
// separate quotas.
func NormalizeIdentity(identity string) string {
	return strings.ToLower(strings.TrimSpace(identity))
}

// ValidIdentity reports whether an identity is usable as a quota subject.
// Identities are opaque keys; the only requirement is non-emptiness after
// normalization.
func ValidIdentity(identity string) bool {
	return NormalizeIdentity(identity) != ""
}
