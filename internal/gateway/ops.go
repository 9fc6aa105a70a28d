package gateway

import (
	"context"
	"net/http"
	"time"
)

// handleIndex describes the gateway and its routes.
func (g *Gateway) handleIndex(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":     "api-gateway",
		"version":  g.version,
		"services": g.serviceNames(),
		"endpoints": []string{
			"/api/users",
			"/api/blog",
			"/api/auth/{path}",
			"/api/{service}/{path}",
			"/api/health/{service}",
			"/api/verify-token",
			"/api/user-info",
			"/api/logout",
			"/api/refresh-user-cache",
			"/healthz",
			"/ready",
			"/services",
			"/stats",
		},
	})
}

// handleHealthz reports process health and uptime.
func (g *Gateway) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": g.version,
		"uptime":  time.Since(g.startedAt).String(),
	})
}

// handleLive is the liveness probe.
func (g *Gateway) handleLive(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "alive"})
}

// handleReady reports readiness: the gateway is ready when its counter store
// answers a ping. Discovery problems degrade requests but do not fail
// readiness, since stale cache entries still serve.
func (g *Gateway) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := g.st.Ping(ctx); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not ready",
			"store":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
}

// handleServices lists configured services with their discovery and breaker
// state.
func (g *Gateway) handleServices(w http.ResponseWriter, r *http.Request) {
	cfg := g.configSnapshot()
	breakerStates := g.breakers.States()

	services := make(map[string]any, len(cfg.Services))
	for name, svc := range cfg.Services {
		instances, err := g.resolver.Resolve(r.Context(), name)
		entry := map[string]any{
			"pathPrefix": svc.PathPrefix,
			"quota":      g.serviceQuota(name).String(),
		}
		if err != nil {
			entry["instances"] = 0
			entry["discovery_error"] = err.Error()
		} else {
			entry["instances"] = len(instances)
		}
		if state, ok := breakerStates[name]; ok {
			entry["breaker"] = state
		} else {
			entry["breaker"] = "closed"
		}
		services[name] = entry
	}
	writeJSON(w, http.StatusOK, map[string]any{"services": services})
}

// handleStats returns per-service forwarding counters.
func (g *Gateway) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"services": g.tracker.Snapshot(),
		"uptime":   time.Since(g.startedAt).String(),
	})
}

// handleConfig returns the active configuration. Secret-bearing fields carry
// a json:"-" tag and never serialize.
func (g *Gateway) handleConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, g.configSnapshot())
}
