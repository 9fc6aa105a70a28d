// Package breaker provides per-service circuit breakers that shed load from
// upstreams which fail repeatedly.
package breaker

import (
	"errors"
	"time"

	"github.com/sony/gobreaker"

	"github.com/miniblog/gateway/internal/observability"
)

// Breaker wraps a circuit breaker for one upstream service. The breaker
// trips after a run of consecutive failures, stays open for the recovery
// timeout, then admits a single probe request; a successful probe closes the
// breaker, a failed one reopens it.
type Breaker struct {
	cb *gobreaker.CircuitBreaker
}

func newBreaker(serviceName string, threshold int, recovery time.Duration, logger observability.Logger, metrics *observability.Metrics) *Breaker {
	settings := gobreaker.Settings{
		Name:        serviceName,
		MaxRequests: 1,
		Timeout:     recovery,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= uint32(threshold)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change",
				observability.String("service", name),
				observability.String("from", from.String()),
				observability.String("to", to.String()),
			)
			if metrics != nil {
				metrics.RecordBreakerTransition(name, from.String(), to.String())
				metrics.SetBreakerState(name, stateGauge(to))
			}
		},
	}
	return &Breaker{cb: gobreaker.NewCircuitBreaker(settings)}
}

func stateGauge(s gobreaker.State) int {
	switch s {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	default:
		return 2
	}
}

// Execute runs fn under the breaker. When the breaker is open, fn is not
// called and ErrOpen is returned.
func (b *Breaker) Execute(fn func() error) error {
	_, err := b.cb.Execute(func() (interface{}, error) {
		return nil, fn()
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return ErrOpen
	}
	return err
}

// State returns the current breaker state as a string.
func (b *Breaker) State() string {
	return b.cb.State().String()
}

// ErrOpen is returned when a request is rejected because the breaker is open
// or a half-open probe is already in flight.
var ErrOpen = errors.New("circuit breaker is open")

// IsOpen reports whether err is a breaker rejection.
func IsOpen(err error) bool {
	return errors.Is(err, ErrOpen)
}
