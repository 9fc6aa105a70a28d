package middleware

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/miniblog/gateway/internal/observability"
)

// RequestIDHeader carries the request ID to clients and upstreams.
const RequestIDHeader = "X-Request-ID"

// RequestID assigns each request an ID, reusing a client-supplied one when
// present, and echoes it in the response.
func RequestID() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := r.Header.Get(RequestIDHeader)
			if id == "" {
				id = uuid.NewString()
				r.Header.Set(RequestIDHeader, id)
			}
			w.Header().Set(RequestIDHeader, id)

			ctx := observability.ContextWithRequestID(r.Context(), id)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
