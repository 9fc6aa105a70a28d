package middleware

import (
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/miniblog/gateway/internal/auth"
	"github.com/miniblog/gateway/internal/ratelimit"
)

// Quota enforces a fixed-window quota per client identity. Authenticated
// requests are limited per principal; anonymous requests per client IP.
// Standard X-RateLimit headers are set on every response.
func Quota(limiter *ratelimit.Limiter, quota ratelimit.Quota) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			decision := limiter.Allow(r.Context(), quotaIdentity(r), quota)

			h := w.Header()
			h.Set("X-RateLimit-Limit", strconv.FormatInt(decision.Limit, 10))
			h.Set("X-RateLimit-Remaining", strconv.FormatInt(decision.Remaining, 10))
			h.Set("X-RateLimit-Reset", strconv.FormatInt(decision.ResetAt.Unix(), 10))

			if !decision.Allowed {
				h.Set("Retry-After", strconv.FormatInt(int64(time.Until(decision.ResetAt).Seconds())+1, 10))
				writeJSON(w, http.StatusTooManyRequests, errorBody{
					Error:   "Rate limit exceeded",
					Message: "Quota of " + quota.String() + " exhausted",
				})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// quotaIdentity keys the quota window. The bearer token identifies a client
// before verification runs, so quota is consumed even for requests that later
// fail auth; anonymous clients fall back to IP.
func quotaIdentity(r *http.Request) string {
	if principal, ok := auth.PrincipalFromContext(r.Context()); ok {
		return "user:" + principal.UserID
	}
	if token, err := auth.BearerToken(r); err == nil {
		return "token:" + token
	}
	if ip := ClientIPFromContext(r.Context()); ip != "" {
		return "ip:" + ip
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return "ip:" + host
	}
	return "ip:" + r.RemoteAddr
}

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RPSGuard is a pre-quota throttle rejecting clients that exceed a sustained
// requests-per-second rate with bursts. It protects the shared counter store
// from floods; the windowed quota remains the authoritative limit.
type RPSGuard struct {
	rps   rate.Limit
	burst int

	mu      sync.Mutex
	clients map[string]*clientLimiter
}

// NewRPSGuard creates a guard allowing rps sustained requests per second per
// client with the given burst. Idle client entries are swept periodically.
func NewRPSGuard(rps, burst int) *RPSGuard {
	g := &RPSGuard{
		rps:     rate.Limit(rps),
		burst:   burst,
		clients: make(map[string]*clientLimiter),
	}
	go g.sweep()
	return g
}

func (g *RPSGuard) sweep() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for range ticker.C {
		cutoff := time.Now().Add(-3 * time.Minute)
		g.mu.Lock()
		for key, c := range g.clients {
			if c.lastSeen.Before(cutoff) {
				delete(g.clients, key)
			}
		}
		g.mu.Unlock()
	}
}

func (g *RPSGuard) allow(key string) bool {
	g.mu.Lock()
	c, ok := g.clients[key]
	if !ok {
		c = &clientLimiter{limiter: rate.NewLimiter(g.rps, g.burst)}
		g.clients[key] = c
	}
	c.lastSeen = time.Now()
	g.mu.Unlock()
	return c.limiter.Allow()
}

// Middleware returns the guard as a Middleware keyed by client IP.
func (g *RPSGuard) Middleware() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := ClientIPFromContext(r.Context())
			if key == "" {
				key = r.RemoteAddr
			}
			if !g.allow(key) {
				writeJSON(w, http.StatusTooManyRequests, errorBody{
					Error: "Too many requests",
				})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
