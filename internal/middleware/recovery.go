package middleware

import (
	"net/http"
	"runtime/debug"

	"github.com/miniblog/gateway/internal/observability"
)

// Recovery converts handler panics into 500 responses instead of killing the
// connection.
func Recovery(logger observability.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("panic serving request",
						observability.String("method", r.Method),
						observability.String("path", r.URL.Path),
						observability.Any("panic", rec),
						observability.String("stack", string(debug.Stack())),
					)
					writeJSON(w, http.StatusInternalServerError, errorBody{
						Error: "Internal server error",
					})
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}
