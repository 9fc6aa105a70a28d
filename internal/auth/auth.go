// Package auth verifies bearer credentials on incoming requests. Tokens are
// checked against the revocation list, validated locally, and resolved to a
// cached principal; cache misses are delegated to the identity service.
package auth

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"strings"
	"time"
)

// Verification errors.
var (
	// ErrNoCredentials means the request carried no bearer token.
	ErrNoCredentials = errors.New("no credentials presented")

	// ErrInvalidToken means the token failed signature or claim validation.
	ErrInvalidToken = errors.New("invalid token")

	// ErrTokenRevoked means the token appears in the revocation list.
	ErrTokenRevoked = errors.New("token has been revoked")

	// ErrVerifierUnavailable means verification could not be completed
	// because a dependency was unreachable. Callers must treat this as a
	// denial, not as success.
	ErrVerifierUnavailable = errors.New("credential verifier unavailable")
)

// Principal is the authenticated identity attached to a request.
type Principal struct {
	UserID   string    `json:"userId"`
	Username string    `json:"username"`
	Email    string    `json:"email,omitempty"`
	Role     string    `json:"role,omitempty"`
	CachedAt time.Time `json:"cachedAt,omitempty"`
}

// BearerToken extracts the bearer token from a request's Authorization
// header. It returns ErrNoCredentials when the header is absent or not a
// bearer scheme.
func BearerToken(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", ErrNoCredentials
	}
	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") || token == "" {
		return "", ErrNoCredentials
	}
	return token, nil
}

// tokenDigest returns a stable digest of a token for use in store keys, so
// raw credentials never appear in the store.
func tokenDigest(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
