// Package stats tracks per-service forwarding outcome counters for the
// operational status endpoints.
package stats

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/miniblog/gateway/internal/observability"
	"github.com/miniblog/gateway/internal/store"
)

// ServiceStats is a point-in-time snapshot of one service's counters.
type ServiceStats struct {
	Success       int64     `json:"success"`
	Failure       int64     `json:"failure"`
	LastRequestAt time.Time `json:"lastRequestAt"`
}

type serviceCounters struct {
	success       int64
	failure       int64
	lastRequestAt time.Time
}

// Tracker accumulates per-service success and failure counts in memory and
// mirrors them into the shared store so counts survive restarts. The mirror
// is best effort: store failures are logged and otherwise ignored.
type Tracker struct {
	store  store.Store
	logger observability.Logger
	clock  func() time.Time

	mu       sync.Mutex
	services map[string]*serviceCounters
}

// Option is a functional option for configuring the tracker.
type Option func(*Tracker)

// WithLogger sets the logger for the tracker.
func WithLogger(logger observability.Logger) Option {
	return func(t *Tracker) {
		t.logger = logger
	}
}

// WithClock overrides the time source, for tests.
func WithClock(clock func() time.Time) Option {
	return func(t *Tracker) {
		t.clock = clock
	}
}

// NewTracker creates a tracker. st may be nil, in which case counters live
// only in memory.
func NewTracker(st store.Store, opts ...Option) *Tracker {
	t := &Tracker{
		store:    st,
		logger:   observability.NopLogger(),
		clock:    time.Now,
		services: make(map[string]*serviceCounters),
	}

	for _, opt := range opts {
		opt(t)
	}

	return t
}

func (t *Tracker) counters(serviceName string) *serviceCounters {
	c, ok := t.services[serviceName]
	if !ok {
		c = &serviceCounters{}
		t.services[serviceName] = c
	}
	return c
}

// RecordSuccess increments the success counter for a service.
func (t *Tracker) RecordSuccess(ctx context.Context, serviceName string) {
	t.record(ctx, serviceName, "success")
}

// RecordFailure increments the failure counter for a service.
func (t *Tracker) RecordFailure(ctx context.Context, serviceName string) {
	t.record(ctx, serviceName, "failure")
}

func (t *Tracker) record(ctx context.Context, serviceName, outcome string) {
	now := t.clock()

	t.mu.Lock()
	c := t.counters(serviceName)
	if outcome == "success" {
		c.success++
	} else {
		c.failure++
	}
	c.lastRequestAt = now
	t.mu.Unlock()

	if t.store == nil {
		return
	}
	key := fmt.Sprintf("stats/%s/%s", serviceName, outcome)
	if _, err := t.store.Increment(ctx, key, 1); err != nil {
		t.logger.Warn("stats mirror write failed",
			observability.String("service", serviceName),
			observability.String("outcome", outcome),
			observability.Error(err),
		)
	}
}

// Snapshot returns a copy of every service's counters.
func (t *Tracker) Snapshot() map[string]ServiceStats {
	t.mu.Lock()
	defer t.mu.Unlock()

	snapshot := make(map[string]ServiceStats, len(t.services))
	for name, c := range t.services {
		snapshot[name] = ServiceStats{
			Success:       c.success,
			Failure:       c.failure,
			LastRequestAt: c.lastRequestAt,
		}
	}
	return snapshot
}
