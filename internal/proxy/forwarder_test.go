package proxy

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/miniblog/gateway/internal/balancer"
	"github.com/miniblog/gateway/internal/breaker"
	"github.com/miniblog/gateway/internal/registry"
	"github.com/miniblog/gateway/internal/stats"
)

func backendInstance(t *testing.T, srv *httptest.Server) registry.Instance {
	t.Helper()
	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	port, err := strconv.Atoi(u.Port())
	require.NoError(t, err)
	return registry.Instance{
		Address: u.Hostname(),
		Port:    port,
		Weight:  1,
		Healthy: true,
		Enabled: true,
	}
}

func newTestForwarder(t *testing.T, instances map[string][]registry.Instance, opts ...Option) *Forwarder {
	t.Helper()
	resolver := registry.NewCache(registry.NewStaticRegistry(instances), time.Minute, time.Second)
	breakers := breaker.NewRegistry(5, time.Minute)
	return NewForwarder(resolver, balancer.NewRoundRobin(), breakers, time.Second, 5*time.Second, opts...)
}

func TestForwardRelaysResponse(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("X-Backend", "yes")
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"id": 1}`))
	}))
	defer backend.Close()

	f := newTestForwarder(t, map[string][]registry.Instance{
		"svc": {backendInstance(t, backend)},
	})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/posts", nil)

	require.NoError(t, f.Forward(rec, req, "svc", "/api/posts"))
	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, `{"id": 1}`, rec.Body.String())
	assert.Equal(t, "yes", rec.Header().Get("X-Backend"))
}

func TestForwardHeaderAllowList(t *testing.T) {
	var seen http.Header
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = r.Header.Clone()
	}))
	defer backend.Close()

	f := newTestForwarder(t, map[string][]registry.Instance{
		"svc": {backendInstance(t, backend)},
	})

	req := httptest.NewRequest(http.MethodGet, "/api/posts", nil)
	req.RemoteAddr = "192.0.2.10:1234"
	req.Header.Set("Authorization", "Bearer tok")
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "test-client")
	req.Header.Set("Cookie", "secret=1")
	req.Header.Set("X-Internal-Header", "nope")

	require.NoError(t, f.Forward(httptest.NewRecorder(), req, "svc", "/api/posts"))

	assert.Equal(t, "Bearer tok", seen.Get("Authorization"))
	assert.Equal(t, "application/json", seen.Get("Content-Type"))
	assert.Equal(t, "test-client", seen.Get("User-Agent"))
	assert.Empty(t, seen.Get("Cookie"))
	assert.Empty(t, seen.Get("X-Internal-Header"))
	assert.Equal(t, "api-gateway", seen.Get("X-Gateway"))
	assert.Equal(t, "192.0.2.10", seen.Get("X-Forwarded-For"))
}

func TestForwardAppendsForwardedFor(t *testing.T) {
	var seen string
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = r.Header.Get("X-Forwarded-For")
	}))
	defer backend.Close()

	f := newTestForwarder(t, map[string][]registry.Instance{
		"svc": {backendInstance(t, backend)},
	})

	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.RemoteAddr = "10.0.0.9:1234"
	req.Header.Set("X-Forwarded-For", "203.0.113.7")

	require.NoError(t, f.Forward(httptest.NewRecorder(), req, "svc", "/x"))
	assert.Equal(t, "203.0.113.7, 10.0.0.9", seen)
}

func TestForwardCarriesQueryVerbatim(t *testing.T) {
	var seenQuery string
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seenQuery = r.URL.RawQuery
	}))
	defer backend.Close()

	f := newTestForwarder(t, map[string][]registry.Instance{
		"svc": {backendInstance(t, backend)},
	})

	req := httptest.NewRequest(http.MethodGet, "/api/posts?page=2&tag=a%20b&tag=c", nil)
	require.NoError(t, f.Forward(httptest.NewRecorder(), req, "svc", "/api/posts"))
	assert.Equal(t, "page=2&tag=a%20b&tag=c", seenQuery)
}

func TestForwardStripsFramingHeaders(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Connection", "keep-alive")
		w.Write([]byte("body"))
	}))
	defer backend.Close()

	f := newTestForwarder(t, map[string][]registry.Instance{
		"svc": {backendInstance(t, backend)},
	})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	require.NoError(t, f.Forward(rec, req, "svc", "/x"))

	assert.Empty(t, rec.Header().Get("Content-Length"))
	assert.Empty(t, rec.Header().Get("Transfer-Encoding"))
	assert.Empty(t, rec.Header().Get("Connection"))
}

func TestForwardRoundRobinAcrossInstances(t *testing.T) {
	hits := make(map[string]int)
	newBackend := func(name string) *httptest.Server {
		return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			hits[name]++
		}))
	}
	b1 := newBackend("one")
	defer b1.Close()
	b2 := newBackend("two")
	defer b2.Close()

	f := newTestForwarder(t, map[string][]registry.Instance{
		"svc": {backendInstance(t, b1), backendInstance(t, b2)},
	})

	for i := 0; i < 10; i++ {
		req := httptest.NewRequest(http.MethodGet, "/x", nil)
		require.NoError(t, f.Forward(httptest.NewRecorder(), req, "svc", "/x"))
	}

	assert.Equal(t, 5, hits["one"])
	assert.Equal(t, 5, hits["two"])
}

func TestForwardNoInstances(t *testing.T) {
	f := newTestForwarder(t, map[string][]registry.Instance{})

	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	err := f.Forward(httptest.NewRecorder(), req, "svc", "/x")

	fe, ok := AsForwardError(err)
	require.True(t, ok)
	assert.Equal(t, ReasonDiscoveryUnavailable, fe.Reason)
	assert.Equal(t, "svc", fe.Service)
	assert.Equal(t, http.StatusServiceUnavailable, fe.StatusCode())
}

func TestForwardFallbackURL(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("fallback"))
	}))
	defer backend.Close()

	f := newTestForwarder(t, map[string][]registry.Instance{},
		WithFallbacks(map[string]string{"svc": backend.URL}))

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	require.NoError(t, f.Forward(rec, req, "svc", "/x"))
	assert.Equal(t, "fallback", rec.Body.String())
}

func TestForwardTransportFailure(t *testing.T) {
	// A closed server yields a connection refused.
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	inst := backendInstance(t, backend)
	backend.Close()

	f := newTestForwarder(t, map[string][]registry.Instance{"svc": {inst}})

	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	err := f.Forward(httptest.NewRecorder(), req, "svc", "/x")

	fe, ok := AsForwardError(err)
	require.True(t, ok)
	assert.Equal(t, ReasonTransportFailure, fe.Reason)
}

func TestForwardBreakerOpensAfterThreshold(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	inst := backendInstance(t, backend)
	backend.Close()

	tracker := stats.NewTracker(nil)
	f := newTestForwarder(t, map[string][]registry.Instance{"svc": {inst}}, WithTracker(tracker))

	for i := 0; i < 5; i++ {
		req := httptest.NewRequest(http.MethodGet, "/x", nil)
		err := f.Forward(httptest.NewRecorder(), req, "svc", "/x")
		fe, ok := AsForwardError(err)
		require.True(t, ok)
		assert.Equal(t, ReasonTransportFailure, fe.Reason)
	}

	// Threshold reached: the next request fast-fails without dialing.
	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	err := f.Forward(httptest.NewRecorder(), req, "svc", "/x")
	fe, ok := AsForwardError(err)
	require.True(t, ok)
	assert.Equal(t, ReasonBreakerOpen, fe.Reason)

	snapshot := tracker.Snapshot()
	assert.Equal(t, int64(6), snapshot["svc"].Failure)
}

func TestForwardUpstreamErrorIsBreakerSuccess(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer backend.Close()

	tracker := stats.NewTracker(nil)
	f := newTestForwarder(t, map[string][]registry.Instance{
		"svc": {backendInstance(t, backend)},
	}, WithTracker(tracker))

	for i := 0; i < 10; i++ {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/x", nil)
		require.NoError(t, f.Forward(rec, req, "svc", "/x"))
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
	}

	// 5xx responses are delivered, not treated as breaker failures.
	snapshot := tracker.Snapshot()
	assert.Equal(t, int64(10), snapshot["svc"].Success)
}

func TestForwardDoesNotFollowRedirects(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/elsewhere", http.StatusFound)
	}))
	defer backend.Close()

	f := newTestForwarder(t, map[string][]registry.Instance{
		"svc": {backendInstance(t, backend)},
	})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	require.NoError(t, f.Forward(rec, req, "svc", "/x"))
	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/elsewhere", rec.Header().Get("Location"))
}
