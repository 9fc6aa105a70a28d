package middleware

import (
	"net/http"
	"time"

	"github.com/miniblog/gateway/internal/observability"
)

// Logging emits one structured access log line per request and records
// request metrics.
func Logging(logger observability.Logger, metrics *observability.Metrics) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := newStatusRecorder(w)

			next.ServeHTTP(rec, r)

			duration := time.Since(start)
			logger.WithContext(r.Context()).Info("request completed",
				observability.String("method", r.Method),
				observability.String("path", r.URL.Path),
				observability.Int("status", rec.status),
				observability.Int64("bytes", rec.bytes),
				observability.Duration("duration", duration),
				observability.String("client_ip", ClientIPFromContext(r.Context())),
			)
			if metrics != nil {
				metrics.RecordRequest(r.Method, r.URL.Path, rec.status, duration)
			}
		})
	}
}
