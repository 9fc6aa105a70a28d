package gateway

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/miniblog/gateway/internal/auth"
	"github.com/miniblog/gateway/internal/observability"
	"github.com/miniblog/gateway/internal/proxy"
)

// forwardTo proxies the request and translates forwarding failures into the
// standard error response shape.
func (g *Gateway) forwardTo(w http.ResponseWriter, r *http.Request, serviceName, targetPath string) {
	err := g.forwarder.Forward(w, r, serviceName, targetPath)
	if err == nil {
		return
	}

	if fe, ok := proxy.AsForwardError(err); ok {
		writeError(w, fe.StatusCode(), "Service unavailable", fe.Message(), map[string]any{
			"service": fe.Service,
		})
		return
	}

	g.logger.WithContext(r.Context()).Error("forward failed",
		observability.String("service", serviceName),
		observability.Error(err),
	)
	writeError(w, http.StatusBadGateway, "Bad gateway", "", map[string]any{
		"service": serviceName,
	})
}

// handleAuthProxy forwards login, registration and token endpoints to the
// identity service without requiring credentials.
func (g *Gateway) handleAuthProxy(w http.ResponseWriter, r *http.Request) {
	cfg := g.configSnapshot()
	g.forwardTo(w, r, cfg.Auth.IdentityService, r.URL.Path)
}

// handleUserProxy forwards /api/users[/...] to the user service with the
// path unchanged.
func (g *Gateway) handleUserProxy(w http.ResponseWriter, r *http.Request) {
	g.forwardTo(w, r, userService, r.URL.Path)
}

// handleBlogProxy maps /api/blog/{path} to the blog service's /api/{path}.
// The bare /api/blog defaults to the post listing.
func (g *Gateway) handleBlogProxy(w http.ResponseWriter, r *http.Request) {
	targetPath := "/api/posts"
	if path := r.PathValue("path"); path != "" {
		targetPath = "/api/" + path
	}
	g.forwardTo(w, r, blogService, targetPath)
}

// handleGenericProxy forwards /api/{service}/{path} for services that have
// no dedicated route, mapping through the service's configured path prefix.
func (g *Gateway) handleGenericProxy(w http.ResponseWriter, r *http.Request) {
	serviceName := r.PathValue("service")
	svc, ok := g.serviceConfig(serviceName)
	if !ok {
		writeError(w, http.StatusNotFound, "Unknown service", "", map[string]any{
			"available_services": g.serviceNames(),
		})
		return
	}

	path := r.PathValue("path")
	targetPath := "/api/" + path
	if svc.PathPrefix != "" {
		targetPath = svc.PathPrefix + "/" + path
	}
	g.forwardTo(w, r, serviceName, targetPath)
}

// handleVerifyToken validates a token without proxying. The token comes from
// the Authorization header or a {"token": "..."} body.
func (g *Gateway) handleVerifyToken(w http.ResponseWriter, r *http.Request) {
	token, err := auth.BearerToken(r)
	if err != nil {
		var body struct {
			Token string `json:"token"`
		}
		if decodeErr := json.NewDecoder(r.Body).Decode(&body); decodeErr != nil || body.Token == "" {
			writeError(w, http.StatusBadRequest, "Missing token", "Provide a bearer header or token field", nil)
			return
		}
		token = body.Token
	}

	principal, err := g.verifier.Verify(r.Context(), token)
	if err != nil {
		status := http.StatusUnauthorized
		if errors.Is(err, auth.ErrVerifierUnavailable) {
			status = http.StatusServiceUnavailable
		}
		writeJSON(w, status, map[string]any{"valid": false, "error": err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"valid": true, "user": principal})
}

// handleUserInfo returns the authenticated principal.
func (g *Gateway) handleUserInfo(w http.ResponseWriter, r *http.Request) {
	principal, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Authentication required", "", nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"user": principal})
}

// handleLogout revokes the presented token and notifies the identity service.
func (g *Gateway) handleLogout(w http.ResponseWriter, r *http.Request) {
	token, err := auth.BearerToken(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "Authentication required", "", nil)
		return
	}

	if err := g.verifier.Revoke(r.Context(), token); err != nil {
		g.logger.WithContext(r.Context()).Error("revocation failed", observability.Error(err))
		writeError(w, http.StatusServiceUnavailable, "Logout failed", "Unable to record revocation", nil)
		return
	}

	// The identity service is told best effort; revocation at the gateway
	// already blocks the token.
	cfg := g.configSnapshot()
	if resp, err := g.forwarder.Do(r, cfg.Auth.IdentityService, cfg.Auth.LogoutPath); err == nil {
		resp.Body.Close()
	} else {
		g.logger.WithContext(r.Context()).Warn("identity service logout call failed",
			observability.Error(err),
		)
	}

	writeJSON(w, http.StatusOK, map[string]any{"message": "Logged out"})
}

// handleRefreshUserCache evicts the caller's cached principal so the next
// request re-resolves it.
func (g *Gateway) handleRefreshUserCache(w http.ResponseWriter, r *http.Request) {
	token, err := auth.BearerToken(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "Authentication required", "", nil)
		return
	}
	if err := g.verifier.InvalidatePrincipal(r.Context(), token); err != nil {
		writeError(w, http.StatusServiceUnavailable, "Refresh failed", "Unable to evict cached principal", nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"message": "User cache refreshed"})
}

// handleServiceHealth probes a backend's health endpoint through the normal
// forwarding path, so breaker and discovery state apply.
func (g *Gateway) handleServiceHealth(w http.ResponseWriter, r *http.Request) {
	serviceName := r.PathValue("service")
	cfg := g.configSnapshot()
	svc, ok := cfg.Services[serviceName]
	if !ok {
		writeError(w, http.StatusNotFound, "Unknown service", "", map[string]any{
			"available_services": g.serviceNames(),
		})
		return
	}

	healthPath := svc.HealthCheck
	if healthPath == "" {
		healthPath = "/healthz"
	}

	resp, err := g.forwarder.Do(r, serviceName, healthPath)
	if err != nil {
		reason := "unreachable"
		if fe, ok := proxy.AsForwardError(err); ok {
			reason = fe.Reason
		}
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"service": serviceName,
			"status":  "unhealthy",
			"reason":  reason,
		})
		return
	}
	defer resp.Body.Close()

	status := "healthy"
	code := http.StatusOK
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		status = "unhealthy"
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]any{
		"service":         serviceName,
		"status":          status,
		"upstream_status": resp.StatusCode,
	})
}
