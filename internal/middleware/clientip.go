package middleware

import (
	"context"
	"net"
	"net/http"
	"strings"

	"github.com/miniblog/gateway/internal/observability"
)

type clientIPKey struct{}

// ClientIPFromContext returns the client IP determined by the ClientIP
// middleware, or empty when it has not run.
func ClientIPFromContext(ctx context.Context) string {
	ip, _ := ctx.Value(clientIPKey{}).(string)
	return ip
}

// IPExtractor determines the real client IP. X-Forwarded-For is trusted only
// when the immediate peer is within a trusted proxy CIDR; otherwise the peer
// address itself is used.
type IPExtractor struct {
	trusted []*net.IPNet
	logger  observability.Logger
}

// NewIPExtractor creates an extractor. Invalid CIDRs are skipped with a
// warning.
func NewIPExtractor(trustedCIDRs []string, logger observability.Logger) *IPExtractor {
	e := &IPExtractor{logger: logger}
	for _, cidr := range trustedCIDRs {
		_, ipNet, err := net.ParseCIDR(cidr)
		if err != nil {
			logger.Warn("skipping invalid trusted proxy CIDR",
				observability.String("cidr", cidr),
				observability.Error(err),
			)
			continue
		}
		e.trusted = append(e.trusted, ipNet)
	}
	return e
}

// Extract returns the client IP for a request.
func (e *IPExtractor) Extract(r *http.Request) string {
	peer := r.RemoteAddr
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		peer = host
	}

	if !e.isTrusted(peer) {
		return peer
	}

	forwarded := r.Header.Get("X-Forwarded-For")
	if forwarded == "" {
		return peer
	}
	// First untrusted hop from the left is the client.
	hops := strings.Split(forwarded, ",")
	for _, hop := range hops {
		candidate := strings.TrimSpace(hop)
		if net.ParseIP(candidate) != nil && !e.isTrusted(candidate) {
			return candidate
		}
	}
	return peer
}

func (e *IPExtractor) isTrusted(ip string) bool {
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return false
	}
	for _, ipNet := range e.trusted {
		if ipNet.Contains(parsed) {
			return true
		}
	}
	return false
}

// ClientIP resolves the client IP once per request and stores it in the
// context for the rate limiter and access log.
func ClientIP(extractor *IPExtractor) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := context.WithValue(r.Context(), clientIPKey{}, extractor.Extract(r))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
