package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwt"

	"github.com/miniblog/gateway/internal/config"
	"github.com/miniblog/gateway/internal/observability"
	"github.com/miniblog/gateway/internal/store"
)

// revocationFallbackTTL bounds the revocation entry for tokens whose expiry
// claim is missing or already past.
const revocationFallbackTTL = 24 * time.Hour

// RemoteVerifier resolves a token to its full principal at the identity
// service. It is consulted only on a principal cache miss.
type RemoteVerifier interface {
	FetchPrincipal(ctx context.Context, token string) (*Principal, error)
}

// Verifier validates bearer tokens and resolves them to principals.
//
// Verification order: revocation list (fail closed), local signature and
// claim validation, principal cache, then delegation to the identity
// service. Resolved principals are cached for the configured TTL.
type Verifier struct {
	secret       []byte
	algorithm    jwa.SignatureAlgorithm
	principalTTL time.Duration
	st           store.Store
	remote       RemoteVerifier
	logger       observability.Logger
	clock        func() time.Time
}

// VerifierOption is a functional option for configuring the verifier.
type VerifierOption func(*Verifier)

// WithRemoteVerifier sets the identity service delegate.
func WithRemoteVerifier(remote RemoteVerifier) VerifierOption {
	return func(v *Verifier) {
		v.remote = remote
	}
}

// WithVerifierLogger sets the logger for the verifier.
func WithVerifierLogger(logger observability.Logger) VerifierOption {
	return func(v *Verifier) {
		v.logger = logger
	}
}

// WithVerifierClock overrides the time source, for tests.
func WithVerifierClock(clock func() time.Time) VerifierOption {
	return func(v *Verifier) {
		v.clock = clock
	}
}

// NewVerifier creates a verifier from the auth configuration.
func NewVerifier(cfg *config.AuthConfig, st store.Store, opts ...VerifierOption) (*Verifier, error) {
	algorithm := jwa.HS256
	if cfg.Algorithm != "" {
		found := false
		for _, alg := range jwa.SignatureAlgorithms() {
			if alg.String() == cfg.Algorithm {
				algorithm = alg
				found = true
				break
			}
		}
		if !found {
			return nil, fmt.Errorf("unknown signature algorithm %q", cfg.Algorithm)
		}
	}

	v := &Verifier{
		secret:       []byte(cfg.JWTSecret),
		algorithm:    algorithm,
		principalTTL: cfg.PrincipalTTL.Duration(),
		st:           st,
		logger:       observability.NopLogger(),
		clock:        time.Now,
	}

	for _, opt := range opts {
		opt(v)
	}

	return v, nil
}

func revocationKey(digest string) string { return "revoked_token/" + digest }
func principalKey(subject string) string { return "principal/" + subject }

// Verify validates a token and returns its principal.
func (v *Verifier) Verify(ctx context.Context, token string) (*Principal, error) {
	digest := tokenDigest(token)

	// The revocation check must not be skipped when the store is down;
	// an unreachable revocation list denies the request.
	revoked, err := v.st.Exists(ctx, revocationKey(digest))
	if err != nil {
		v.logger.Error("revocation list unreachable", observability.Error(err))
		return nil, fmt.Errorf("%w: revocation check failed", ErrVerifierUnavailable)
	}
	if revoked {
		return nil, ErrTokenRevoked
	}

	parsed, parseErr := jwt.Parse([]byte(token),
		jwt.WithKey(v.algorithm, v.secret),
		jwt.WithValidate(true),
		jwt.WithClock(jwt.ClockFunc(v.clock)),
	)
	if parseErr != nil {
		// The identity service may hold key material this gateway does
		// not, so a locally invalid token gets a second opinion.
		return v.verifyRemotely(ctx, token, parseErr)
	}

	if principal, ok := v.cachedPrincipal(ctx, parsed.Subject()); ok {
		return principal, nil
	}

	principal := v.resolvePrincipal(ctx, token, parsed)
	v.cachePrincipal(ctx, principal)
	return principal, nil
}

// verifyRemotely delegates a token that failed local validation to the
// identity service. Its verdict is final: a rejection surfaces the local
// parse error, an unreachable service surfaces unavailability.
func (v *Verifier) verifyRemotely(ctx context.Context, token string, parseErr error) (*Principal, error) {
	if v.remote == nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, parseErr)
	}

	principal, err := v.remote.FetchPrincipal(ctx, token)
	if err == nil {
		principal.CachedAt = v.clock()
		v.cachePrincipal(ctx, principal)
		return principal, nil
	}
	if errors.Is(err, ErrInvalidToken) {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, parseErr)
	}

	v.logger.Error("identity service verification failed", observability.Error(err))
	return nil, fmt.Errorf("%w: identity service verification failed", ErrVerifierUnavailable)
}

func (v *Verifier) cachedPrincipal(ctx context.Context, subject string) (*Principal, bool) {
	if subject == "" {
		return nil, false
	}
	raw, err := v.st.Get(ctx, principalKey(subject))
	if err != nil {
		if !store.IsKeyNotFound(err) {
			v.logger.Warn("principal cache read failed", observability.Error(err))
		}
		return nil, false
	}

	var principal Principal
	if err := json.Unmarshal(raw, &principal); err != nil {
		v.logger.Warn("dropping malformed principal cache entry", observability.Error(err))
		return nil, false
	}
	return &principal, true
}

// resolvePrincipal asks the identity service for the full principal, falling
// back to the token's own claims when the service is unreachable.
func (v *Verifier) resolvePrincipal(ctx context.Context, token string, parsed jwt.Token) *Principal {
	if v.remote != nil {
		principal, err := v.remote.FetchPrincipal(ctx, token)
		if err == nil {
			principal.CachedAt = v.clock()
			return principal
		}
		v.logger.Warn("identity service lookup failed, using token claims",
			observability.Error(err),
		)
	}
	return v.principalFromClaims(parsed)
}

func (v *Verifier) principalFromClaims(parsed jwt.Token) *Principal {
	principal := &Principal{
		UserID:   parsed.Subject(),
		CachedAt: v.clock(),
	}
	if username, ok := parsed.Get("username"); ok {
		principal.Username, _ = username.(string)
	}
	if email, ok := parsed.Get("email"); ok {
		principal.Email, _ = email.(string)
	}
	if role, ok := parsed.Get("role"); ok {
		principal.Role, _ = role.(string)
	}
	return principal
}

// cachePrincipal stores the principal under its subject id so every token
// issued to that subject shares one cache entry.
func (v *Verifier) cachePrincipal(ctx context.Context, principal *Principal) {
	if principal.UserID == "" {
		return
	}
	raw, err := json.Marshal(principal)
	if err != nil {
		return
	}
	if err := v.st.Set(ctx, principalKey(principal.UserID), raw, v.principalTTL); err != nil {
		v.logger.Warn("principal cache write failed", observability.Error(err))
	}
}

// tokenSubject extracts the subject claim without verifying the signature,
// for cache eviction of tokens this gateway may not be able to validate.
func tokenSubject(token string) string {
	parsed, err := jwt.Parse([]byte(token), jwt.WithVerify(false), jwt.WithValidate(false))
	if err != nil {
		return ""
	}
	return parsed.Subject()
}

// Revoke adds a token to the revocation list for the remainder of its
// validity and evicts the cached principal for its subject.
func (v *Verifier) Revoke(ctx context.Context, token string) error {
	digest := tokenDigest(token)

	ttl := revocationFallbackTTL
	subject := ""
	if parsed, err := jwt.Parse([]byte(token), jwt.WithVerify(false), jwt.WithValidate(false)); err == nil {
		subject = parsed.Subject()
		if exp := parsed.Expiration(); !exp.IsZero() {
			if remaining := exp.Sub(v.clock()); remaining > 0 {
				ttl = remaining
			}
		}
	}

	if err := v.st.Set(ctx, revocationKey(digest), []byte("1"), ttl); err != nil {
		return fmt.Errorf("record revocation: %w", err)
	}

	if subject != "" {
		if err := v.st.Delete(ctx, principalKey(subject)); err != nil && !store.IsKeyNotFound(err) {
			v.logger.Warn("principal cache eviction failed", observability.Error(err))
		}
	}
	return nil
}

// InvalidatePrincipal evicts the cached principal for the token's subject so
// the next request re-resolves it at the identity service.
func (v *Verifier) InvalidatePrincipal(ctx context.Context, token string) error {
	subject := tokenSubject(token)
	if subject == "" {
		return nil
	}
	if err := v.st.Delete(ctx, principalKey(subject)); err != nil && !store.IsKeyNotFound(err) {
		return fmt.Errorf("invalidate principal: %w", err)
	}
	return nil
}
