package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, 5000, cfg.Server.Port)
	assert.Equal(t, StrategyRoundRobin, cfg.LoadBalancer.Strategy)
	assert.Equal(t, 5, cfg.CircuitBreaker.FailureThreshold)
	assert.Equal(t, 60*time.Second, cfg.CircuitBreaker.RecoveryTimeout.Duration())
	assert.Equal(t, 60*time.Second, cfg.Registry.CacheTTL.Duration())
	assert.Equal(t, 5*time.Second, cfg.Timeouts.Connect.Duration())
	assert.Equal(t, 30*time.Second, cfg.Timeouts.Request.Duration())
	assert.Equal(t, 5*time.Minute, cfg.Auth.PrincipalTTL.Duration())
	assert.Equal(t, "100 per hour", cfg.RateLimit.Default)
	assert.Contains(t, cfg.Services, "user-service")
	assert.Contains(t, cfg.Services, "blog-service")
}

func TestLoadConfigFromReaderOverridesDefaults(t *testing.T) {
	yml := `
server:
  port: 8080
loadBalancer:
  strategy: weighted
circuitBreaker:
  failureThreshold: 3
  recoveryTimeout: 30s
services:
  search-service:
    pathPrefix: /api/search
    quota: "50 per minute"
`
	cfg, err := LoadConfigFromReader(strings.NewReader(yml))
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, StrategyWeighted, cfg.LoadBalancer.Strategy)
	assert.Equal(t, 3, cfg.CircuitBreaker.FailureThreshold)
	assert.Equal(t, 30*time.Second, cfg.CircuitBreaker.RecoveryTimeout.Duration())
	assert.Contains(t, cfg.Services, "search-service")
	assert.Equal(t, "50 per minute", cfg.Services["search-service"].Quota)

	// Untouched sections keep defaults.
	assert.Equal(t, "100 per hour", cfg.RateLimit.Default)
}

func TestLoadConfigEnvSubstitution(t *testing.T) {
	t.Setenv("TEST_GW_PORT", "7070")
	t.Setenv("TEST_GW_SECRET", "s3cret")

	yml := `
server:
  port: ${TEST_GW_PORT:-5000}
auth:
  jwtSecret: "${TEST_GW_SECRET}"
redis:
  address: "${TEST_GW_REDIS:-fallback:6379}"
`
	cfg, err := LoadConfigFromReader(strings.NewReader(yml))
	require.NoError(t, err)

	assert.Equal(t, 7070, cfg.Server.Port)
	assert.Equal(t, "s3cret", cfg.Auth.JWTSecret)
	assert.Equal(t, "fallback:6379", cfg.Redis.Address)
}

func TestLoadConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "gateway.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  port: 6001\n"), 0o600))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 6001, cfg.Server.Port)
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestLoadConfigMalformedYAML(t *testing.T) {
	_, err := LoadConfigFromReader(strings.NewReader("server: ["))
	assert.Error(t, err)
}

func validTestConfig() *GatewayConfig {
	cfg := DefaultConfig()
	cfg.Auth.JWTSecret = "secret"
	return cfg
}

func TestValidateConfigAcceptsDefaults(t *testing.T) {
	assert.NoError(t, ValidateConfig(validTestConfig()))
}

func TestValidateConfigRejections(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*GatewayConfig)
	}{
		{"nil secret", func(c *GatewayConfig) { c.Auth.JWTSecret = "" }},
		{"bad port", func(c *GatewayConfig) { c.Server.Port = 0 }},
		{"bad strategy", func(c *GatewayConfig) { c.LoadBalancer.Strategy = "least_conn" }},
		{"zero threshold", func(c *GatewayConfig) { c.CircuitBreaker.FailureThreshold = 0 }},
		{"zero recovery", func(c *GatewayConfig) { c.CircuitBreaker.RecoveryTimeout = 0 }},
		{"zero connect timeout", func(c *GatewayConfig) { c.Timeouts.Connect = 0 }},
		{"no registry endpoints", func(c *GatewayConfig) { c.Registry.Endpoints = nil }},
		{"unknown identity service", func(c *GatewayConfig) { c.Auth.IdentityService = "ghost" }},
		{"bad default quota", func(c *GatewayConfig) { c.RateLimit.Default = "lots per hour" }},
		{"bad service quota", func(c *GatewayConfig) {
			svc := c.Services["user-service"]
			svc.Quota = "10 per eon"
			c.Services["user-service"] = svc
		}},
		{"relative path prefix", func(c *GatewayConfig) {
			svc := c.Services["user-service"]
			svc.PathPrefix = "api/users"
			c.Services["user-service"] = svc
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validTestConfig()
			tt.mutate(cfg)
			assert.Error(t, ValidateConfig(cfg))
		})
	}
}

func TestValidateConfigNil(t *testing.T) {
	assert.Error(t, ValidateConfig(nil))
}

func TestDurationYAML(t *testing.T) {
	var out struct {
		D Duration `yaml:"d"`
	}
	require.NoError(t, yaml.Unmarshal([]byte("d: 1h30m"), &out))
	assert.Equal(t, 90*time.Minute, out.D.Duration())

	require.NoError(t, yaml.Unmarshal([]byte(`d: ""`), &out))
	assert.Equal(t, time.Duration(0), out.D.Duration())

	assert.Error(t, yaml.Unmarshal([]byte("d: soon"), &out))
}

func TestDurationJSON(t *testing.T) {
	var out struct {
		D Duration `json:"d"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"d": "45s"}`), &out))
	assert.Equal(t, 45*time.Second, out.D.Duration())

	b, err := json.Marshal(out)
	require.NoError(t, err)
	assert.JSONEq(t, `{"d": "45s"}`, string(b))
}

func TestJWTSecretNeverSerializes(t *testing.T) {
	cfg := validTestConfig()
	b, err := json.Marshal(cfg)
	require.NoError(t, err)
	assert.NotContains(t, string(b), "secret")
}
