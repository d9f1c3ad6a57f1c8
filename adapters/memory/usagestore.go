// Package memory provides in-memory implementations of storage ports,
// used for tests and as the fallback when no durable store is reachable.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/codelens/quotagate/domain/usage"
	"github.com/codelens/quotagate/ports"
)

// UsageStore is an in-memory implementation of ports.UsageStore.
// Events are kept per identity in append order.
type UsageStore struct {
	mu     sync.RWMutex
	events map[string][]usage.Event
	err    error
}

// NewUsageStore creates a new in-memory usage store.
func NewUsageStore() *UsageStore {
	return &UsageStore{
		events: make(map[string][]usage.Event),
	}
}

// Append stores one event. Records for an identity are created lazily on
// first append; quota is never enforced here.
func (s *UsageStore) Append(ctx context.Context, e usage.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.err != nil {
		return s.err
	}

	s.events[e.Identity] = append(s.events[e.Identity], e)
	return nil
}

// EventsInWindow returns the identity's events with start <= ts < end,
// ordered by timestamp. Unknown identities yield an empty slice.
func (s *UsageStore) EventsInWindow(ctx context.Context, identity string, start, end time.Time) ([]usage.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.err != nil {
		return nil, s.err
	}

	matching := make([]usage.Event, 0)
	for _, e := range s.events[identity] {
		if e.In(start, end) {
			matching = append(matching, e)
		}
	}

	sort.SliceStable(matching, func(i, j int) bool {
		return matching[i].Timestamp.Before(matching[j].Timestamp)
	})

	return matching, nil
}

// FailWith makes every subsequent call return err (for fail-open tests).
// A nil err restores normal operation.
func (s *UsageStore) FailWith(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

// CountFor returns the total number of events recorded for an identity
// (for testing).
func (s *UsageStore) CountFor(identity string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.events[identity])
}

// Clear removes all events (for testing).
func (s *UsageStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = make(map[string][]usage.Event)
}

// Ensure interface compliance.
var _ ports.UsageStore = (*UsageStore)(nil)
