package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the gateway.
type Metrics struct {
	requestsTotal       *prometheus.CounterVec
	requestDuration     *prometheus.HistogramVec
	forwardsTotal       *prometheus.CounterVec
	breakerTransitions  *prometheus.CounterVec
	breakerState        *prometheus.GaugeVec
	rateLimitDecisions  *prometheus.CounterVec
	discoveredInstances *prometheus.GaugeVec
	storeOperations     *prometheus.CounterVec
	buildInfo           *prometheus.GaugeVec
	registry            *prometheus.Registry
}

// NewMetrics creates a new Metrics instance backed by its own registry.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "gateway"
	}

	m := &Metrics{
		registry: prometheus.NewRegistry(),
	}

	m.requestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	m.requestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets: []float64{
				.001, .005, .01, .025, .05,
				.1, .25, .5, 1, 2.5, 5, 10,
			},
		},
		[]string{"method", "route", "status"},
	)

	m.forwardsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "forwards_total",
			Help:      "Total number of forwarded backend calls by outcome",
		},
		[]string{"service", "outcome"},
	)

	m.breakerTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "circuit_breaker_transitions_total",
			Help:      "Total number of circuit breaker state transitions",
		},
		[]string{"service", "from", "to"},
	)

	m.breakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "circuit_breaker_state",
			Help:      "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"service"},
	)

	m.rateLimitDecisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limit_decisions_total",
			Help:      "Total number of rate limit decisions",
		},
		[]string{"decision"},
	)

	m.discoveredInstances = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "discovered_instances",
			Help:      "Number of healthy instances discovered per service",
		},
		[]string{"service"},
	)

	m.storeOperations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "store_operations_total",
			Help:      "Total number of counter store operations",
		},
		[]string{"operation", "status"},
	)

	m.buildInfo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "build_info",
			Help:      "Build information",
		},
		[]string{"version", "commit"},
	)

	m.registry.MustRegister(
		m.requestsTotal,
		m.requestDuration,
		m.forwardsTotal,
		m.breakerTransitions,
		m.breakerState,
		m.rateLimitDecisions,
		m.discoveredInstances,
		m.storeOperations,
		m.buildInfo,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return m
}

// Registry returns the underlying Prometheus registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns an HTTP handler serving the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// SetBuildInfo records build information.
func (m *Metrics) SetBuildInfo(version, commit string) {
	m.buildInfo.WithLabelValues(version, commit).Set(1)
}

// RecordRequest records an inbound HTTP request.
func (m *Metrics) RecordRequest(method, route string, status int, duration time.Duration) {
	s := strconv.Itoa(status)
	m.requestsTotal.WithLabelValues(method, route, s).Inc()
	m.requestDuration.WithLabelValues(method, route, s).Observe(duration.Seconds())
}

// RecordForward records the outcome of a forwarded backend call.
func (m *Metrics) RecordForward(service, outcome string) {
	m.forwardsTotal.WithLabelValues(service, outcome).Inc()
}

// RecordBreakerTransition records a circuit breaker state transition.
func (m *Metrics) RecordBreakerTransition(service, from, to string) {
	m.breakerTransitions.WithLabelValues(service, from, to).Inc()
}

// SetBreakerState records the current circuit breaker state for a service.
func (m *Metrics) SetBreakerState(service string, state int) {
	m.breakerState.WithLabelValues(service).Set(float64(state))
}

// RecordRateLimit records a rate limit decision: allowed, limited or error.
func (m *Metrics) RecordRateLimit(decision string) {
	m.rateLimitDecisions.WithLabelValues(decision).Inc()
}

// SetDiscoveredInstances records the healthy instance count for a service.
func (m *Metrics) SetDiscoveredInstances(service string, count int) {
	m.discoveredInstances.WithLabelValues(service).Set(float64(count))
}

// RecordStoreOperation records a counter store operation outcome.
func (m *Metrics) RecordStoreOperation(operation string, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	m.storeOperations.WithLabelValues(operation, status).Inc()
}
