package middleware

import (
	"errors"
	"net/http"

	"github.com/miniblog/gateway/internal/auth"
	"github.com/miniblog/gateway/internal/observability"
)

// RequireAuth verifies the request's bearer token and attaches the resolved
// principal to the context. Requests without valid credentials get 401; a
// verifier dependency outage gets 503 rather than letting the request through.
func RequireAuth(verifier *auth.Verifier, logger observability.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, err := auth.BearerToken(r)
			if err != nil {
				writeJSON(w, http.StatusUnauthorized, errorBody{
					Error:   "Authentication required",
					Message: "Missing or malformed Authorization header",
				})
				return
			}

			principal, err := verifier.Verify(r.Context(), token)
			if err != nil {
				writeAuthError(w, r, err, logger)
				return
			}

			next.ServeHTTP(w, r.WithContext(auth.ContextWithPrincipal(r.Context(), principal)))
		})
	}
}

func writeAuthError(w http.ResponseWriter, r *http.Request, err error, logger observability.Logger) {
	switch {
	case errors.Is(err, auth.ErrTokenRevoked):
		writeJSON(w, http.StatusUnauthorized, errorBody{
			Error:   "Invalid token",
			Message: "Token has been revoked",
		})
	case errors.Is(err, auth.ErrVerifierUnavailable):
		logger.WithContext(r.Context()).Error("credential verification unavailable",
			observability.Error(err),
		)
		writeJSON(w, http.StatusServiceUnavailable, errorBody{
			Error:   "Authentication unavailable",
			Message: "Unable to verify credentials, try again later",
		})
	default:
		writeJSON(w, http.StatusUnauthorized, errorBody{
			Error:   "Invalid token",
			Message: "Token is expired or malformed",
		})
	}
}
