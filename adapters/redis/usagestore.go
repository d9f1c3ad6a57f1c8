// Package redis provides the Redis implementation of the usage store.
//
// Events live in one sorted set per identity, scored by timestamp, so range
// reads are a single ZRANGEBYSCORE. The adapter also implements the optional
// ConditionalConsumer port: a Lua script counts and appends in one step,
// closing the read-then-write race that the base contract accepts.
package redis

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/codelens/quotagate/domain/usage"
	"github.com/codelens/quotagate/ports"
)

// UsageStore implements ports.UsageStore and ports.ConditionalConsumer
// using Redis sorted sets.
type UsageStore struct {
	client *redis.Client
}

// Scores are millisecond timestamps: they fit a float64 exactly, and the
// original product never recorded finer than milliseconds.
var consumeScript = redis.NewScript(`
local count = redis.call('ZCOUNT', KEYS[1], ARGV[1], '(' .. ARGV[2])
if count < tonumber(ARGV[3]) then
	redis.call('ZADD', KEYS[1], ARGV[4], ARGV[5])
	return {1, count + 1}
end
return {0, count}
`)

// Connect opens a Redis connection from a URL (redis://...).
func Connect(ctx context.Context, url string) (*UsageStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis URL: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: ping: %v", ports.ErrStoreUnavailable, err)
	}

	return &UsageStore{client: client}, nil
}

// NewUsageStore wraps an existing client (for tests).
func NewUsageStore(client *redis.Client) *UsageStore {
	return &UsageStore{client: client}
}

func key(identity string) string {
	return "usage:" + identity
}

// member packs the immutable event fields; the timestamp rides in the score.
func member(e usage.Event) string {
	return e.ID + "|" + e.Kind
}

// Append durably stores one event.
func (s *UsageStore) Append(ctx context.Context, e usage.Event) error {
	z := redis.Z{
		Score:  float64(e.Timestamp.UnixMilli()),
		Member: member(e),
	}
	if err := s.client.ZAdd(ctx, key(e.Identity), z).Err(); err != nil {
		return fmt.Errorf("%w: append: %v", ports.ErrStoreUnavailable, err)
	}
	return nil
}

// EventsInWindow returns the identity's events with start <= ts < end,
// ordered by timestamp.
func (s *UsageStore) EventsInWindow(ctx context.Context, identity string, start, end time.Time) ([]usage.Event, error) {
	zs, err := s.client.ZRangeByScoreWithScores(ctx, key(identity), &redis.ZRangeBy{
		Min: strconv.FormatInt(start.UnixMilli(), 10),
		Max: "(" + strconv.FormatInt(end.UnixMilli(), 10),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: query window: %v", ports.ErrStoreUnavailable, err)
	}

	events := make([]usage.Event, 0, len(zs))
	for _, z := range zs {
		m, ok := z.Member.(string)
		if !ok {
			continue
		}
		id, kind, _ := strings.Cut(m, "|")
		events = append(events, usage.Event{
			ID:        id,
			Identity:  identity,
			Kind:      kind,
			Timestamp: time.UnixMilli(int64(z.Score)).UTC(),
		})
	}

	return events, nil
}

// ConsumeIfBelow atomically appends e when the window count is still below
// limit. One round trip, no interleaving with concurrent consumers.
func (s *UsageStore) ConsumeIfBelow(ctx context.Context, e usage.Event, limit int, start, end time.Time) (bool, int, error) {
	res, err := consumeScript.Run(ctx, s.client, []string{key(e.Identity)},
		start.UnixMilli(),
		end.UnixMilli(),
		limit,
		e.Timestamp.UnixMilli(),
		member(e),
	).Slice()
	if err != nil {
		return false, 0, fmt.Errorf("%w: conditional consume: %v", ports.ErrStoreUnavailable, err)
	}
	if len(res) != 2 {
		return false, 0, fmt.Errorf("%w: conditional consume: unexpected reply %v", ports.ErrStoreUnavailable, res)
	}

	consumed, _ := res[0].(int64)
	used, _ := res[1].(int64)
	return consumed == 1, int(used), nil
}

// Ping reports whether the server is reachable.
func (s *UsageStore) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: ping: %v", ports.ErrStoreUnavailable, err)
	}
	return nil
}

// Close closes the connection.
func (s *UsageStore) Close() error {
	return s.client.Close()
}

// Ensure interface compliance.
var (
	_ ports.UsageStore          = (*UsageStore)(nil)
	_ ports.ConditionalConsumer = (*UsageStore)(nil)
	_ ports.Pinger              = (*UsageStore)(nil)
)
