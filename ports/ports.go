// Package ports defines interfaces (contracts) between layers.
// These interfaces enable dependency injection and testability.
// Implementations live in adapters/.
package ports

import (
	"context"
	"errors"
	"time"

	"github.com/codelens/quotagate/domain/usage"
)

// -----------------------------------------------------------------------------
// Infrastructure Ports
// -----------------------------------------------------------------------------

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

// IDGenerator generates unique identifiers.
type IDGenerator interface {
	New() string
}

// -----------------------------------------------------------------------------
// Data Store Ports
// -----------------------------------------------------------------------------

// ErrStoreUnavailable indicates the backing datastore could not be reached
// (connection failure, timeout). Callers decide the recovery policy: Check
// fails open, Record surfaces the failure.
var ErrStoreUnavailable = errors.New("usage store unavailable")

// UsageStore persists usage events keyed by identity.
//
// Append is the only mutator and must be durable before returning success.
// It is a pure insert, never a read-modify-write, so concurrent appends for
// the same identity are race-free by construction. The store never enforces
// quota; that decision lives in the service layer so the accounting rule
// stays independently testable and swappable.
type UsageStore interface {
	// Append durably stores one event. It never rejects based on quota.
	Append(ctx context.Context, e usage.Event) error

	// EventsInWindow returns the identity's events with
	// start <= Timestamp < end, ordered by timestamp. An unknown identity
	// yields an empty slice, not an error.
	EventsInWindow(ctx context.Context, identity string, start, end time.Time) ([]usage.Event, error)
}

// ConditionalConsumer is an optional UsageStore capability: append an event
// only if the identity's event count inside the window is still below limit,
// atomically. Stores that implement it close the read-then-write race in
// CheckAndRecord; the base contract does not require it.
type ConditionalConsumer interface {
	// ConsumeIfBelow appends e when the current count in [start, end) is
	// below limit. It returns the count after the operation and whether the
	// event was appended.
	ConsumeIfBelow(ctx context.Context, e usage.Event, limit int, start, end time.Time) (consumed bool, used int, err error)
}

// Pinger reports whether the backing datastore is reachable. Durable stores
// implement it for readiness checks.
type Pinger interface {
	Ping(ctx context.Context) error
}
