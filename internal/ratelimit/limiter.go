package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/miniblog/gateway/internal/observability"
	"github.com/miniblog/gateway/internal/store"
)

// Decision is the outcome of a quota check.
type Decision struct {
	Allowed   bool
	Limit     int64
	Remaining int64
	ResetAt   time.Time
}

// Limiter enforces fixed-window quotas. Each (identity, window) pair gets a
// counter keyed by the current window bucket; the counter expires with the
// window, so abandoned buckets clean themselves up. A store failure fails
// open: the request is allowed and the error logged.
type Limiter struct {
	store   store.Store
	logger  observability.Logger
	metrics *observability.Metrics
	clock   func() time.Time
}

// Option is a functional option for configuring the limiter.
type Option func(*Limiter)

// WithLogger sets the logger for the limiter.
func WithLogger(logger observability.Logger) Option {
	return func(l *Limiter) {
		l.logger = logger
	}
}

// WithMetrics sets the metrics recorder for the limiter.
func WithMetrics(m *observability.Metrics) Option {
	return func(l *Limiter) {
		l.metrics = m
	}
}

// WithClock overrides the time source, for tests.
func WithClock(clock func() time.Time) Option {
	return func(l *Limiter) {
		l.clock = clock
	}
}

// NewLimiter creates a limiter over the given counter store.
func NewLimiter(st store.Store, opts ...Option) *Limiter {
	l := &Limiter{
		store:  st,
		logger: observability.NopLogger(),
		clock:  time.Now,
	}

	for _, opt := range opts {
		opt(l)
	}

	return l
}

// Allow checks whether the identity has quota left in the current window and
// consumes one unit of it.
func (l *Limiter) Allow(ctx context.Context, identity string, quota Quota) Decision {
	now := l.clock()
	windowSec := quota.windowSeconds()
	bucket := now.Unix() / windowSec
	resetAt := time.Unix((bucket+1)*windowSec, 0)

	key := fmt.Sprintf("rate_limit/%s/%d/%d", identity, windowSec, bucket)

	count, err := l.store.IncrementWithExpiry(ctx, key, 1, quota.Window)
	if err != nil {
		l.logger.Warn("rate limit store unavailable, allowing request",
			observability.String("identity", identity),
			observability.Error(err),
		)
		l.recordDecision("error")
		return Decision{Allowed: true, Limit: quota.Limit, Remaining: quota.Limit, ResetAt: resetAt}
	}

	remaining := quota.Limit - count
	if remaining < 0 {
		remaining = 0
	}

	allowed := count <= quota.Limit
	if allowed {
		l.recordDecision("allowed")
	} else {
		l.recordDecision("limited")
	}

	return Decision{Allowed: allowed, Limit: quota.Limit, Remaining: remaining, ResetAt: resetAt}
}

func (l *Limiter) recordDecision(decision string) {
	if l.metrics != nil {
		l.metrics.RecordRateLimit(decision)
	}
}
