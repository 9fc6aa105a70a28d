package config

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

var quotaPattern = regexp.MustCompile(`(?i)^\s*[1-9]\d*\s+per\s+(second|minute|hour|day)\s*$`)

// ValidateConfig checks the configuration for invalid or inconsistent values.
func ValidateConfig(cfg *GatewayConfig) error {
	if cfg == nil {
		return errors.New("configuration is nil")
	}

	var errs []string

	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("server.port %d out of range", cfg.Server.Port))
	}
	if cfg.Server.MetricsPort < 0 || cfg.Server.MetricsPort > 65535 {
		errs = append(errs, fmt.Sprintf("server.metricsPort %d out of range", cfg.Server.MetricsPort))
	}

	switch cfg.LoadBalancer.Strategy {
	case StrategyRoundRobin, StrategyRandom, StrategyWeighted:
	default:
		errs = append(errs, fmt.Sprintf("loadBalancer.strategy %q is not one of round_robin, random, weighted", cfg.LoadBalancer.Strategy))
	}

	if cfg.CircuitBreaker.FailureThreshold <= 0 {
		errs = append(errs, "circuitBreaker.failureThreshold must be positive")
	}
	if cfg.CircuitBreaker.RecoveryTimeout <= 0 {
		errs = append(errs, "circuitBreaker.recoveryTimeout must be positive")
	}

	if cfg.Timeouts.Connect <= 0 {
		errs = append(errs, "timeouts.connect must be positive")
	}
	if cfg.Timeouts.Request <= 0 {
		errs = append(errs, "timeouts.request must be positive")
	}

	if cfg.Registry.Enabled {
		if len(cfg.Registry.Endpoints) == 0 {
			errs = append(errs, "registry.endpoints must not be empty when registry is enabled")
		}
		if cfg.Registry.CacheTTL <= 0 {
			errs = append(errs, "registry.cacheTTL must be positive")
		}
		if cfg.Registry.DiscoveryTimeout <= 0 {
			errs = append(errs, "registry.discoveryTimeout must be positive")
		}
	}

	if !quotaPattern.MatchString(cfg.RateLimit.Default) {
		errs = append(errs, fmt.Sprintf("rateLimit.default %q is not of the form \"N per <window>\"", cfg.RateLimit.Default))
	}

	if cfg.Auth.JWTSecret == "" {
		errs = append(errs, "auth.jwtSecret must be set")
	}
	if cfg.Auth.IdentityService != "" {
		if _, ok := cfg.Services[cfg.Auth.IdentityService]; !ok {
			errs = append(errs, fmt.Sprintf("auth.identityService %q is not a configured service", cfg.Auth.IdentityService))
		}
	}

	for name, svc := range cfg.Services {
		if name == "" {
			errs = append(errs, "services must not contain an empty name")
			continue
		}
		if svc.PathPrefix != "" && !strings.HasPrefix(svc.PathPrefix, "/") {
			errs = append(errs, fmt.Sprintf("services.%s.pathPrefix must start with /", name))
		}
		if svc.Quota != "" && !quotaPattern.MatchString(svc.Quota) {
			errs = append(errs, fmt.Sprintf("services.%s.quota %q is not of the form \"N per <window>\"", name, svc.Quota))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(errs, "; "))
	}

	return nil
}
