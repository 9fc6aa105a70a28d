package observability

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLoggerLevels(t *testing.T) {
	for _, level := range []string{"debug", "info", "warn", "error"} {
		t.Run(level, func(t *testing.T) {
			logger, err := NewLogger(LogConfig{Level: level, Format: "json", Output: "stdout"})
			require.NoError(t, err)
			assert.NotNil(t, logger)
		})
	}
}

func TestNewLoggerRejectsBadLevel(t *testing.T) {
	_, err := NewLogger(LogConfig{Level: "loud", Format: "json", Output: "stdout"})
	assert.Error(t, err)
}

func TestRequestIDContext(t *testing.T) {
	ctx := ContextWithRequestID(context.Background(), "req-123")
	assert.Equal(t, "req-123", RequestIDFromContext(ctx))
	assert.Empty(t, RequestIDFromContext(context.Background()))
}

func TestNopLoggerDoesNotPanic(t *testing.T) {
	logger := NopLogger()
	logger.Info("msg", String("k", "v"), Int("n", 1), Error(nil))
	logger.With(Bool("b", true)).Warn("msg")
	assert.NoError(t, logger.Sync())
}

func TestMetricsRecordAndServe(t *testing.T) {
	m := NewMetrics("test")
	m.SetBuildInfo("1.0.0", "abc123")
	m.RecordRequest(http.MethodGet, "/api/users", 200, 15*time.Millisecond)
	m.RecordForward("user-service", "success")
	m.RecordForward("user-service", "transport_failure")
	m.RecordBreakerTransition("user-service", "closed", "open")
	m.SetBreakerState("user-service", 2)
	m.RecordRateLimit("allowed")
	m.RecordRateLimit("limited")
	m.SetDiscoveredInstances("user-service", 3)
	m.RecordStoreOperation("incr", nil)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "test_requests_total")
	assert.Contains(t, body, "test_forwards_total")
	assert.Contains(t, body, "test_circuit_breaker_state")
}

func TestMetricsRegistryIsIsolated(t *testing.T) {
	a := NewMetrics("a")
	b := NewMetrics("b")
	assert.NotSame(t, a.Registry(), b.Registry())
}
