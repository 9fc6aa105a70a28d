// Package gateway assembles the request dispatch pipeline: route table,
// per-route middleware chains and the operational endpoints.
package gateway

import (
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/miniblog/gateway/internal/auth"
	"github.com/miniblog/gateway/internal/breaker"
	"github.com/miniblog/gateway/internal/config"
	"github.com/miniblog/gateway/internal/middleware"
	"github.com/miniblog/gateway/internal/observability"
	"github.com/miniblog/gateway/internal/proxy"
	"github.com/miniblog/gateway/internal/ratelimit"
	"github.com/miniblog/gateway/internal/registry"
	"github.com/miniblog/gateway/internal/stats"
	"github.com/miniblog/gateway/internal/store"
)

// Built-in service route quotas not tied to a configured backend.
const (
	authQuota        = "100 per hour"
	verifyTokenQuota = "1000 per hour"
	genericQuota     = "300 per hour"
)

// Service names for the built-in auth routes.
const (
	userService = "user-service"
	blogService = "blog-service"
)

// Gateway owns the dispatch pipeline for one gateway process.
type Gateway struct {
	logger    observability.Logger
	metrics   *observability.Metrics
	forwarder *proxy.Forwarder
	limiter   *ratelimit.Limiter
	verifier  *auth.Verifier
	breakers  *breaker.Registry
	tracker   *stats.Tracker
	resolver  *registry.Cache
	st        store.Store
	extractor *middleware.IPExtractor
	rpsGuard  *middleware.RPSGuard

	version   string
	startedAt time.Time

	mu           sync.RWMutex
	cfg          *config.GatewayConfig
	quotas       map[string]ratelimit.Quota // service name -> parsed quota
	defaultLimit ratelimit.Quota
}

// Deps bundles the gateway's collaborators.
type Deps struct {
	Logger    observability.Logger
	Metrics   *observability.Metrics
	Forwarder *proxy.Forwarder
	Limiter   *ratelimit.Limiter
	Verifier  *auth.Verifier
	Breakers  *breaker.Registry
	Tracker   *stats.Tracker
	Resolver  *registry.Cache
	Store     store.Store
	Version   string
}

// New creates a gateway from validated configuration.
func New(cfg *config.GatewayConfig, deps Deps) *Gateway {
	logger := deps.Logger
	if logger == nil {
		logger = observability.NopLogger()
	}

	g := &Gateway{
		logger:    logger,
		metrics:   deps.Metrics,
		forwarder: deps.Forwarder,
		limiter:   deps.Limiter,
		verifier:  deps.Verifier,
		breakers:  deps.Breakers,
		tracker:   deps.Tracker,
		resolver:  deps.Resolver,
		st:        deps.Store,
		extractor: middleware.NewIPExtractor(cfg.Server.TrustedProxies, logger),
		version:   deps.Version,
		startedAt: time.Now(),
	}
	if cfg.RateLimit.PerClientRPS > 0 {
		g.rpsGuard = middleware.NewRPSGuard(cfg.RateLimit.PerClientRPS, cfg.RateLimit.PerClientBurst)
	}
	g.ApplyConfig(cfg)
	return g
}

// ApplyConfig installs a new configuration, re-parsing route quotas. It is
// called at startup and again on hot reload.
func (g *Gateway) ApplyConfig(cfg *config.GatewayConfig) {
	quotas := make(map[string]ratelimit.Quota, len(cfg.Services))
	defaultQuota := ratelimit.MustParseQuota(cfg.RateLimit.Default)
	for name, svc := range cfg.Services {
		if svc.Quota == "" {
			quotas[name] = defaultQuota
			continue
		}
		q, err := ratelimit.ParseQuota(svc.Quota)
		if err != nil {
			g.logger.Warn("invalid service quota, using default",
				observability.String("service", name),
				observability.String("quota", svc.Quota),
				observability.Error(err),
			)
			q = defaultQuota
		}
		quotas[name] = q
	}

	g.mu.Lock()
	g.cfg = cfg
	g.quotas = quotas
	g.defaultLimit = defaultQuota
	g.mu.Unlock()

	g.logger.Info("configuration applied",
		observability.Int("services", len(cfg.Services)),
	)
}

func (g *Gateway) configSnapshot() *config.GatewayConfig {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.cfg
}

func (g *Gateway) serviceQuota(serviceName string) ratelimit.Quota {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if q, ok := g.quotas[serviceName]; ok {
		return q
	}
	return ratelimit.MustParseQuota(genericQuota)
}

func (g *Gateway) defaultQuota() ratelimit.Quota {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.defaultLimit
}

func (g *Gateway) serviceConfig(serviceName string) (config.ServiceConfig, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	svc, ok := g.cfg.Services[serviceName]
	return svc, ok
}

func (g *Gateway) serviceNames() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	names := make([]string, 0, len(g.cfg.Services))
	for name := range g.cfg.Services {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Handler builds the route table with per-route middleware chains. Quota
// checks run before credential verification so over-quota clients are shed
// without touching the verifier.
func (g *Gateway) Handler() http.Handler {
	mux := http.NewServeMux()

	// Proxied application routes. Backends authorize their own requests;
	// the gateway applies quotas only.
	userProxy := g.serviceQuotaMiddleware(userService)(http.HandlerFunc(g.handleUserProxy))
	mux.Handle("/api/users", userProxy)
	mux.Handle("/api/users/{path...}", userProxy)
	blogProxy := g.serviceQuotaMiddleware(blogService)(http.HandlerFunc(g.handleBlogProxy))
	mux.Handle("/api/blog", blogProxy)
	mux.Handle("/api/blog/{path...}", blogProxy)
	mux.Handle("/api/auth/{path...}", g.quotaOnly(authQuota, http.HandlerFunc(g.handleAuthProxy)))

	// Token lifecycle endpoints served by the gateway itself.
	mux.Handle("POST /api/verify-token", g.quotaOnly(verifyTokenQuota, http.HandlerFunc(g.handleVerifyToken)))
	mux.Handle("GET /api/user-info", g.protected(http.HandlerFunc(g.handleUserInfo)))
	mux.Handle("POST /api/logout", g.protected(http.HandlerFunc(g.handleLogout)))
	mux.Handle("POST /api/refresh-user-cache", g.protected(http.HandlerFunc(g.handleRefreshUserCache)))

	// Proxied health checks and the generic service route.
	mux.HandleFunc("GET /api/health/{service}", g.handleServiceHealth)
	mux.Handle("/api/{service}/{path...}", g.quotaOnly(genericQuota, http.HandlerFunc(g.handleGenericProxy)))

	// Operational endpoints.
	mux.HandleFunc("GET /{$}", g.handleIndex)
	mux.HandleFunc("GET /healthz", g.handleHealthz)
	mux.HandleFunc("GET /live", g.handleLive)
	mux.HandleFunc("GET /ready", g.handleReady)
	mux.HandleFunc("GET /services", g.handleServices)
	mux.HandleFunc("GET /stats", g.handleStats)
	mux.HandleFunc("GET /config", g.handleConfig)

	chain := []middleware.Middleware{
		middleware.Recovery(g.logger),
		middleware.RequestID(),
		middleware.ClientIP(g.extractor),
		middleware.Logging(g.logger, g.metrics),
	}
	if g.rpsGuard != nil {
		chain = append(chain, g.rpsGuard.Middleware())
	}
	return middleware.Chain(mux, chain...)
}

// protected applies the default quota and auth to a gateway-served handler.
func (g *Gateway) protected(h http.Handler) http.Handler {
	return g.dynamicQuota(g.defaultQuota)(g.requireAuth(h))
}

func (g *Gateway) quotaOnly(quotaExpr string, h http.Handler) http.Handler {
	quota := ratelimit.MustParseQuota(quotaExpr)
	return middleware.Quota(g.limiter, quota)(h)
}

// dynamicQuota re-reads the quota per request so hot reloads take effect
// without rebuilding the route table.
func (g *Gateway) dynamicQuota(get func() ratelimit.Quota) middleware.Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			middleware.Quota(g.limiter, get())(next).ServeHTTP(w, r)
		})
	}
}

func (g *Gateway) serviceQuotaMiddleware(serviceName string) middleware.Middleware {
	return g.dynamicQuota(func() ratelimit.Quota {
		return g.serviceQuota(serviceName)
	})
}

func (g *Gateway) requireAuth(h http.Handler) http.Handler {
	return middleware.RequireAuth(g.verifier, g.logger)(h)
}
