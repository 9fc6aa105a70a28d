package proxy

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/miniblog/gateway/internal/balancer"
	"github.com/miniblog/gateway/internal/breaker"
	"github.com/miniblog/gateway/internal/observability"
	"github.com/miniblog/gateway/internal/registry"
	"github.com/miniblog/gateway/internal/stats"
)

// gatewayName is stamped on every forwarded request.
const gatewayName = "api-gateway"

// forwardedHeaders is the allow-list of client headers passed through to
// upstreams. Everything else is dropped.
var forwardedHeaders = []string{
	"Authorization",
	"Content-Type",
	"User-Agent",
	"X-Request-ID",
}

// strippedResponseHeaders are removed from upstream responses before relaying;
// the gateway re-frames the body itself.
var strippedResponseHeaders = []string{
	"Content-Length",
	"Transfer-Encoding",
	"Connection",
}

// Forwarder sends requests to upstream instances. Each forward resolves the
// instance set through the registry cache, picks one instance, and runs the
// upstream call under the service's circuit breaker. An upstream error
// response (4xx, 5xx) is a successful forward; only transport failures count
// against the breaker.
type Forwarder struct {
	resolver  *registry.Cache
	selector  balancer.Selector
	breakers  *breaker.Registry
	tracker   *stats.Tracker
	metrics   *observability.Metrics
	logger    observability.Logger
	client    *http.Client
	fallbacks map[string]string
}

// Option is a functional option for configuring the forwarder.
type Option func(*Forwarder)

// WithTracker sets the per-service outcome tracker.
func WithTracker(t *stats.Tracker) Option {
	return func(f *Forwarder) {
		f.tracker = t
	}
}

// WithMetrics sets the metrics recorder for the forwarder.
func WithMetrics(m *observability.Metrics) Option {
	return func(f *Forwarder) {
		f.metrics = m
	}
}

// WithLogger sets the logger for the forwarder.
func WithLogger(logger observability.Logger) Option {
	return func(f *Forwarder) {
		f.logger = logger
	}
}

// WithFallbacks sets per-service fallback base URLs used when no instance
// can be discovered.
func WithFallbacks(fallbacks map[string]string) Option {
	return func(f *Forwarder) {
		f.fallbacks = fallbacks
	}
}

// WithHTTPClient replaces the outbound HTTP client, for tests.
func WithHTTPClient(client *http.Client) Option {
	return func(f *Forwarder) {
		f.client = client
	}
}

// NewForwarder creates a forwarder with the given connect and total request
// timeouts.
func NewForwarder(resolver *registry.Cache, selector balancer.Selector, breakers *breaker.Registry, connectTimeout, requestTimeout time.Duration, opts ...Option) *Forwarder {
	f := &Forwarder{
		resolver: resolver,
		selector: selector,
		breakers: breakers,
		logger:   observability.NopLogger(),
		client: &http.Client{
			Timeout: requestTimeout,
			Transport: &http.Transport{
				DialContext: (&net.Dialer{
					Timeout: connectTimeout,
				}).DialContext,
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
			CheckRedirect: func(*http.Request, []*http.Request) error {
				// Redirects are relayed to the client, not followed.
				return http.ErrUseLastResponse
			},
		},
	}

	for _, opt := range opts {
		opt(f)
	}

	return f
}

// BaseURL resolves a service to the base URL of one selected instance.
func (f *Forwarder) BaseURL(ctx context.Context, serviceName string) (string, error) {
	instances, err := f.resolver.Resolve(ctx, serviceName)
	if err != nil || len(instances) == 0 {
		if fallback, ok := f.fallbacks[serviceName]; ok && fallback != "" {
			f.logger.Warn("using fallback URL",
				observability.String("service", serviceName),
				observability.String("fallback", fallback),
			)
			return strings.TrimSuffix(fallback, "/"), nil
		}
		return "", &ForwardError{Service: serviceName, Reason: ReasonDiscoveryUnavailable, Err: err}
	}

	instance := f.selector.Select(serviceName, instances)
	if instance == nil {
		return "", &ForwardError{Service: serviceName, Reason: ReasonDiscoveryUnavailable}
	}
	return instance.URL(), nil
}

// Do forwards the request to the named service and returns the upstream
// response. The caller owns the response body. targetPath is the path on the
// upstream; the original query string is carried over verbatim.
func (f *Forwarder) Do(r *http.Request, serviceName, targetPath string) (*http.Response, error) {
	base, err := f.BaseURL(r.Context(), serviceName)
	if err != nil {
		f.recordOutcome(r.Context(), serviceName, ReasonDiscoveryUnavailable)
		return nil, err
	}

	outReq, err := f.buildRequest(r, base, targetPath)
	if err != nil {
		return nil, fmt.Errorf("build upstream request: %w", err)
	}

	var resp *http.Response
	execErr := f.breakers.Get(serviceName).Execute(func() error {
		var doErr error
		resp, doErr = f.client.Do(outReq)
		return doErr
	})
	switch {
	case breaker.IsOpen(execErr):
		f.recordOutcome(r.Context(), serviceName, ReasonBreakerOpen)
		return nil, &ForwardError{Service: serviceName, Reason: ReasonBreakerOpen, Err: execErr}
	case execErr != nil:
		f.recordOutcome(r.Context(), serviceName, ReasonTransportFailure)
		return nil, &ForwardError{Service: serviceName, Reason: ReasonTransportFailure, Err: execErr}
	}

	f.recordOutcome(r.Context(), serviceName, "success")
	return resp, nil
}

// Forward proxies the request to the named service and relays the upstream
// response to the client.
func (f *Forwarder) Forward(w http.ResponseWriter, r *http.Request, serviceName, targetPath string) error {
	resp, err := f.Do(r, serviceName, targetPath)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	relayResponse(w, resp)
	return nil
}

func (f *Forwarder) buildRequest(r *http.Request, base, targetPath string) (*http.Request, error) {
	target := base + targetPath
	if r.URL.RawQuery != "" {
		target += "?" + r.URL.RawQuery
	}

	outReq, err := http.NewRequestWithContext(r.Context(), r.Method, target, r.Body)
	if err != nil {
		return nil, err
	}

	for _, name := range forwardedHeaders {
		if values, ok := r.Header[http.CanonicalHeaderKey(name)]; ok {
			outReq.Header[http.CanonicalHeaderKey(name)] = values
		}
	}
	outReq.Header.Set("X-Gateway", gatewayName)
	outReq.Header.Set("X-Forwarded-For", appendForwardedFor(r))

	return outReq, nil
}

// appendForwardedFor extends the inbound X-Forwarded-For chain with the
// immediate peer address.
func appendForwardedFor(r *http.Request) string {
	peer := r.RemoteAddr
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		peer = host
	}
	if prior := r.Header.Get("X-Forwarded-For"); prior != "" {
		return prior + ", " + peer
	}
	return peer
}

func relayResponse(w http.ResponseWriter, resp *http.Response) {
	header := w.Header()
	for name, values := range resp.Header {
		if isStrippedResponseHeader(name) {
			continue
		}
		header[name] = values
	}
	w.WriteHeader(resp.StatusCode)
	io.Copy(w, resp.Body) //nolint:errcheck // client may disconnect mid-body
}

func isStrippedResponseHeader(name string) bool {
	for _, stripped := range strippedResponseHeaders {
		if strings.EqualFold(name, stripped) {
			return true
		}
	}
	return false
}

func (f *Forwarder) recordOutcome(ctx context.Context, serviceName, outcome string) {
	if f.metrics != nil {
		f.metrics.RecordForward(serviceName, outcome)
	}
	if f.tracker == nil {
		return
	}
	if outcome == "success" {
		f.tracker.RecordSuccess(ctx, serviceName)
	} else {
		f.tracker.RecordFailure(ctx, serviceName)
	}
}
