package breaker

import (
	"sync"
	"time"

	"github.com/miniblog/gateway/internal/observability"
)

// Registry lazily creates and caches one Breaker per service name.
type Registry struct {
	threshold int
	recovery  time.Duration
	logger    observability.Logger
	metrics   *observability.Metrics

	breakers sync.Map // service name -> *Breaker
}

// RegistryOption is a functional option for configuring the breaker registry.
type RegistryOption func(*Registry)

// WithLogger sets the logger for breakers created by the registry.
func WithLogger(logger observability.Logger) RegistryOption {
	return func(r *Registry) {
		r.logger = logger
	}
}

// WithMetrics sets the metrics recorder for breakers created by the registry.
func WithMetrics(m *observability.Metrics) RegistryOption {
	return func(r *Registry) {
		r.metrics = m
	}
}

// NewRegistry creates a breaker registry. All breakers share the same failure
// threshold and recovery timeout.
func NewRegistry(threshold int, recovery time.Duration, opts ...RegistryOption) *Registry {
	r := &Registry{
		threshold: threshold,
		recovery:  recovery,
		logger:    observability.NopLogger(),
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

// Get returns the breaker for a service, creating it on first use.
func (r *Registry) Get(serviceName string) *Breaker {
	if b, ok := r.breakers.Load(serviceName); ok {
		return b.(*Breaker)
	}
	b, _ := r.breakers.LoadOrStore(serviceName, newBreaker(serviceName, r.threshold, r.recovery, r.logger, r.metrics))
	return b.(*Breaker)
}

// States returns the current state of every breaker that has been created.
func (r *Registry) States() map[string]string {
	states := make(map[string]string)
	r.breakers.Range(func(key, value any) bool {
		states[key.(string)] = value.(*Breaker).State()
		return true
	})
	return states
}
