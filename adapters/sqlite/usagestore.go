package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/codelens/quotagate/domain/usage"
	"github.com/codelens/quotagate/ports"
)

// UsageStore implements ports.UsageStore using SQLite.
type UsageStore struct {
	db *DB
}

// NewUsageStore creates a new SQLite usage store.
func NewUsageStore(db *DB) *UsageStore {
	return &UsageStore{db: db}
}

// Append durably stores one event. The insert commits before returning, so
// a success here means the ledger has the row.
func (s *UsageStore) Append(ctx context.Context, e usage.Event) error {
	// Store timestamps in UTC for consistent range comparison
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO usage_events (id, identity, kind, timestamp)
		VALUES (?, ?, ?, ?)
	`, e.ID, e.Identity, e.Kind, e.Timestamp.UTC().Format(timeLayout))
	if err != nil {
		return fmt.Errorf("%w: append: %v", ports.ErrStoreUnavailable, err)
	}
	return nil
}

// EventsInWindow returns the identity's events with start <= ts < end,
// ordered by timestamp.
func (s *UsageStore) EventsInWindow(ctx context.Context, identity string, start, end time.Time) ([]usage.Event, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, identity, kind, timestamp
		FROM usage_events
		WHERE identity = ? AND timestamp >= ? AND timestamp < ?
		ORDER BY timestamp
	`, identity, start.UTC().Format(timeLayout), end.UTC().Format(timeLayout))
	if err != nil {
		return nil, fmt.Errorf("%w: query window: %v", ports.ErrStoreUnavailable, err)
	}
	defer rows.Close()

	events := make([]usage.Event, 0)
	for rows.Next() {
		var e usage.Event
		var ts string
		if err := rows.Scan(&e.ID, &e.Identity, &e.Kind, &ts); err != nil {
			return nil, fmt.Errorf("%w: scan event: %v", ports.ErrStoreUnavailable, err)
		}
		e.Timestamp, err = time.ParseInLocation(timeLayout, ts, time.UTC)
		if err != nil {
			return nil, fmt.Errorf("parse timestamp %q: %w", ts, err)
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterate events: %v", ports.ErrStoreUnavailable, err)
	}

	return events, nil
}

// Ping reports whether the database answers queries.
func (s *UsageStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("%w: ping: %v", ports.ErrStoreUnavailable, err)
	}
	return nil
}

// timeLayout keeps full nanosecond precision with fixed width, so lexical
// comparison in SQL matches chronological order.
const timeLayout = "2006-01-02 15:04:05.000000000"

// Ensure interface compliance.
var (
	_ ports.UsageStore = (*UsageStore)(nil)
	_ ports.Pinger     = (*UsageStore)(nil)
)
