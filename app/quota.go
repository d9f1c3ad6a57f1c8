// Package app contains the quota service, the only component callers
// interact with. It composes the clock, the pure policy in domain/quota and
// a usage store into check/record/consume operations.
package app

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/codelens/quotagate/adapters/metrics"
	"github.com/codelens/quotagate/domain/quota"
	"github.com/codelens/quotagate/domain/usage"
	"github.com/codelens/quotagate/ports"
)

var (
	// ErrInvalidIdentity is returned when an operation receives an empty
	// identity. Never retried, surfaced immediately.
	ErrInvalidIdentity = errors.New("identity is required")

	// ErrRecordFailed is returned when a usage event could not be durably
	// persisted. The caller's primary action already happened; the ledger
	// may now undercount, nothing is rolled back.
	ErrRecordFailed = errors.New("failed to record usage")
)

// DefaultStoreTimeout bounds every store round trip; a timeout is treated
// the same as an unreachable store.
const DefaultStoreTimeout = 2 * time.Second

// QuotaConfig configures the quota service.
type QuotaConfig struct {
	DailyLimit   int            // per-identity allowance per day (default 3)
	Location     *time.Location // accounting timezone (default UTC)
	StoreTimeout time.Duration  // per-call store timeout (default 2s)
}

// DayUsage is one entry of a usage history, for the product's usage panel.
type DayUsage struct {
	Date string `json:"date"` // YYYY-MM-DD in the accounting timezone
	Used int    `json:"used"`
}

// QuotaService answers "may this identity act now?" and records consumption.
//
// Check fails open: a store outage yields a degraded full allowance rather
// than blocking the product's primary action. CheckAndRecord is
// read-then-write without a spanning transaction; two concurrent callers at
// the last unit of allowance can both be admitted, over-admitting by one
// unit per concurrent pair. Stores implementing ports.ConditionalConsumer
// close that race.
type QuotaService struct {
	store   ports.UsageStore
	clock   ports.Clock
	ids     ports.IDGenerator
	loc     *time.Location
	timeout time.Duration
	limit   atomic.Int64
	logger  zerolog.Logger
	metrics *metrics.Collector
}

// NewQuotaService creates a quota service.
func NewQuotaService(store ports.UsageStore, clk ports.Clock, ids ports.IDGenerator, cfg QuotaConfig, logger zerolog.Logger) *QuotaService {
	if cfg.DailyLimit <= 0 {
		cfg.DailyLimit = quota.DefaultDailyLimit
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.StoreTimeout <= 0 {
		cfg.StoreTimeout = DefaultStoreTimeout
	}

	s := &QuotaService{
		store:   store,
		clock:   clk,
		ids:     ids,
		loc:     cfg.Location,
		timeout: cfg.StoreTimeout,
		logger:  logger,
	}
	s.limit.Store(int64(cfg.DailyLimit))
	return s
}

// NewQuotaServiceWithMetrics creates a quota service that reports to a
// metrics collector.
func NewQuotaServiceWithMetrics(store ports.UsageStore, clk ports.Clock, ids ports.IDGenerator, cfg QuotaConfig, logger zerolog.Logger, m *metrics.Collector) *QuotaService {
	s := NewQuotaService(store, clk, ids, cfg, logger)
	s.metrics = m
	return s
}

// DailyLimit returns the current per-day allowance.
func (s *QuotaService) DailyLimit() int {
	return int(s.limit.Load())
}

// SetDailyLimit updates the allowance at runtime (config hot reload).
// Non-positive values are ignored.
func (s *QuotaService) SetDailyLimit(n int) {
	if n <= 0 {
		return
	}
	s.limit.Store(int64(n))
}

// Check returns the identity's quota status for the current window.
//
// Identities unknown to the store are provisioned implicitly: they simply
// have no events yet and get a full allowance. A store failure or timeout
// never propagates; the result is a degraded full allowance.
func (s *QuotaService) Check(ctx context.Context, identity string) (quota.Status, error) {
	if !usage.ValidIdentity(identity) {
		return quota.Status{}, ErrInvalidIdentity
	}
	identity = usage.NormalizeIdentity(identity)

	now := s.clock.Now()
	w := quota.CurrentWindow(now, s.loc)
	limit := s.DailyLimit()

	events, err := s.eventsInWindow(ctx, identity, w)
	if err != nil {
		s.logger.Warn().Err(err).Str("identity", identity).
			Msg("usage store unavailable, failing open")
		s.countCheck("degraded")
		if s.metrics != nil {
			s.metrics.DegradedChecks.Inc()
		}
		return quota.DegradedStatus(w, limit), nil
	}

	status := quota.Evaluate(events, w, limit)
	if status.MayConsume() {
		s.countCheck("allowed")
	} else {
		s.countCheck("exhausted")
	}
	return status, nil
}

// Record appends one consumption event for the identity at the current
// instant. Quota is not enforced here; callers that want enforcement use
// CheckAndRecord.
func (s *QuotaService) Record(ctx context.Context, identity string) error {
	if !usage.ValidIdentity(identity) {
		return ErrInvalidIdentity
	}
	identity = usage.NormalizeIdentity(identity)

	e := usage.NewEvent(s.ids.New(), identity, usage.KindAnalysis, s.clock.Now())
	if err := s.append(ctx, e); err != nil {
		s.logger.Error().Err(err).Str("identity", identity).
			Msg("failed to record usage event")
		s.countRecord("failed")
		return fmt.Errorf("%w: %v", ErrRecordFailed, err)
	}

	s.countRecord("ok")
	return nil
}

// CheckAndRecord admits the identity if allowance remains, recording the
// consumption, and returns the post-decision status. The second return
// value reports whether the action was admitted; a denial is a normal
// return, not an error. Only record failures surface as errors.
//
// The check and the record are not atomic unless the store implements
// ports.ConditionalConsumer: two concurrent callers at the last unit can
// both be admitted (bounded over-admission, see the type comment).
func (s *QuotaService) CheckAndRecord(ctx context.Context, identity string) (quota.Status, bool, error) {
	if !usage.ValidIdentity(identity) {
		return quota.Status{}, false, ErrInvalidIdentity
	}
	norm := usage.NormalizeIdentity(identity)

	if cc, ok := s.store.(ports.ConditionalConsumer); ok {
		return s.consumeAtomic(ctx, cc, norm)
	}

	status, err := s.Check(ctx, norm)
	if err != nil {
		return quota.Status{}, false, err
	}
	if !status.MayConsume() {
		s.countConsume("denied")
		return status, false, nil
	}

	if err := s.Record(ctx, norm); err != nil {
		s.countConsume("failed")
		return status, false, err
	}

	status.Used++
	if status.Remaining > 0 {
		status.Remaining--
	}
	s.countConsume("allowed")
	return status, true, nil
}

// consumeAtomic is the upgrade path: count-and-append in one store
// operation, no over-admission window.
func (s *QuotaService) consumeAtomic(ctx context.Context, cc ports.ConditionalConsumer, identity string) (quota.Status, bool, error) {
	now := s.clock.Now()
	w := quota.CurrentWindow(now, s.loc)
	limit := s.DailyLimit()
	e := usage.NewEvent(s.ids.New(), identity, usage.KindAnalysis, now)

	cctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	start := time.Now()
	consumed, used, err := cc.ConsumeIfBelow(cctx, e, limit, w.Start, w.End)
	s.observeStore("consume", start, err)
	if err != nil {
		s.logger.Error().Err(err).Str("identity", identity).
			Msg("conditional consume failed")
		s.countConsume("failed")
		return quota.DegradedStatus(w, limit), false, fmt.Errorf("%w: %v", ErrRecordFailed, err)
	}

	remaining := limit - used
	if remaining < 0 {
		remaining = 0
	}
	status := quota.Status{
		Limit:     limit,
		Used:      used,
		Remaining: remaining,
		ResetAt:   w.End,
	}

	if consumed {
		s.countConsume("allowed")
	} else {
		s.countConsume("denied")
	}
	return status, consumed, nil
}

// History returns per-day usage counts for the most recent days, newest
// last. Days outside [1, 31] fall back to 7.
func (s *QuotaService) History(ctx context.Context, identity string, days int) ([]DayUsage, error) {
	if !usage.ValidIdentity(identity) {
		return nil, ErrInvalidIdentity
	}
	identity = usage.NormalizeIdentity(identity)
	if days < 1 || days > 31 {
		days = 7
	}

	today := quota.CurrentWindow(s.clock.Now(), s.loc)

	history := make([]DayUsage, 0, days)
	for i := days - 1; i >= 0; i-- {
		start := today.Start.AddDate(0, 0, -i)
		w := quota.Window{Start: start, End: start.AddDate(0, 0, 1)}

		events, err := s.eventsInWindow(ctx, identity, w)
		if err != nil {
			return nil, err
		}
		history = append(history, DayUsage{
			Date: start.Format("2006-01-02"),
			Used: len(events),
		})
	}

	return history, nil
}

// eventsInWindow runs the store read under the configured timeout.
func (s *QuotaService) eventsInWindow(ctx context.Context, identity string, w quota.Window) ([]usage.Event, error) {
	cctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	start := time.Now()
	events, err := s.store.EventsInWindow(cctx, identity, w.Start, w.End)
	s.observeStore("query", start, err)
	return events, err
}

// append runs the store write under the configured timeout.
func (s *QuotaService) append(ctx context.Context, e usage.Event) error {
	cctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	start := time.Now()
	err := s.store.Append(cctx, e)
	s.observeStore("append", start, err)
	return err
}

func (s *QuotaService) observeStore(op string, start time.Time, err error) {
	if s.metrics == nil {
		return
	}
	s.metrics.StoreDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	if err != nil {
		s.metrics.StoreErrors.Inc()
	}
}

func (s *QuotaService) countCheck(result string) {
	if s.metrics != nil {
		s.metrics.ChecksTotal.WithLabelValues(result).Inc()
	}
}

func (s *QuotaService) countRecord(result string) {
	if s.metrics != nil {
		s.metrics.RecordsTotal.WithLabelValues(result).Inc()
	}
}

func (s *QuotaService) countConsume(result string) {
	if s.metrics != nil {
		s.metrics.ConsumesTotal.WithLabelValues(result).Inc()
	}
}
