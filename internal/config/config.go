// Package config provides configuration management for the gateway.
// Configuration is loaded from a YAML file with environment variable
// substitution and can be hot-reloaded via the Watcher.
package config

import (
	"time"
)

// Load balancer strategy names.
const (
	StrategyRoundRobin = "round_robin"
	StrategyRandom     = "random"
	StrategyWeighted   = "weighted"
)

// GatewayConfig is the root configuration for the gateway.
type GatewayConfig struct {
	Server         ServerConfig             `yaml:"server" json:"server"`
	Logging        LoggingConfig            `yaml:"logging" json:"logging"`
	Redis          RedisConfig              `yaml:"redis" json:"redis"`
	Registry       RegistryConfig           `yaml:"registry" json:"registry"`
	LoadBalancer   LoadBalancerConfig       `yaml:"loadBalancer" json:"loadBalancer"`
	CircuitBreaker CircuitBreakerConfig     `yaml:"circuitBreaker" json:"circuitBreaker"`
	RateLimit      RateLimitConfig          `yaml:"rateLimit" json:"rateLimit"`
	Auth           AuthConfig               `yaml:"auth" json:"auth"`
	Timeouts       TimeoutConfig            `yaml:"timeouts" json:"timeouts"`
	Services       map[string]ServiceConfig `yaml:"services" json:"services"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host            string   `yaml:"host" json:"host"`
	Port            int      `yaml:"port" json:"port"`
	MetricsPort     int      `yaml:"metricsPort" json:"metricsPort"`
	ReadTimeout     Duration `yaml:"readTimeout" json:"readTimeout"`
	WriteTimeout    Duration `yaml:"writeTimeout" json:"writeTimeout"`
	IdleTimeout     Duration `yaml:"idleTimeout" json:"idleTimeout"`
	ShutdownTimeout Duration `yaml:"shutdownTimeout" json:"shutdownTimeout"`

	// TrustedProxies lists CIDRs whose X-Forwarded-For headers are
	// honored when determining the client IP.
	TrustedProxies []string `yaml:"trustedProxies" json:"trustedProxies"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level" json:"level"`
	Format string `yaml:"format" json:"format"`
	Output string `yaml:"output" json:"output"`
}

// RedisConfig holds settings for the shared counter/blob store.
type RedisConfig struct {
	Enabled      bool     `yaml:"enabled" json:"enabled"`
	Address      string   `yaml:"address" json:"address"`
	Password     string   `yaml:"password" json:"-"`
	DB           int      `yaml:"db" json:"db"`
	Prefix       string   `yaml:"prefix" json:"prefix"`
	DialTimeout  Duration `yaml:"dialTimeout" json:"dialTimeout"`
	ReadTimeout  Duration `yaml:"readTimeout" json:"readTimeout"`
	WriteTimeout Duration `yaml:"writeTimeout" json:"writeTimeout"`
	PoolSize     int      `yaml:"poolSize" json:"poolSize"`
}

// RegistryConfig holds settings for the upstream service registry.
type RegistryConfig struct {
	Enabled          bool     `yaml:"enabled" json:"enabled"`
	Endpoints        []string `yaml:"endpoints" json:"endpoints"`
	Namespace        string   `yaml:"namespace" json:"namespace"`
	CacheTTL         Duration `yaml:"cacheTTL" json:"cacheTTL"`
	DiscoveryTimeout Duration `yaml:"discoveryTimeout" json:"discoveryTimeout"`
	LeaseTTL         int64    `yaml:"leaseTTL" json:"leaseTTL"`
	SelfRegister     bool     `yaml:"selfRegister" json:"selfRegister"`
}

// LoadBalancerConfig holds instance selection settings.
type LoadBalancerConfig struct {
	Strategy string `yaml:"strategy" json:"strategy"`
}

// CircuitBreakerConfig holds per-service breaker settings.
type CircuitBreakerConfig struct {
	FailureThreshold int      `yaml:"failureThreshold" json:"failureThreshold"`
	RecoveryTimeout  Duration `yaml:"recoveryTimeout" json:"recoveryTimeout"`
}

// RateLimitConfig holds rate limiting settings.
type RateLimitConfig struct {
	Default string `yaml:"default" json:"default"`

	// PerClientRPS guards against a single client flooding the gateway
	// before the windowed quota check runs. Zero disables the guard.
	PerClientRPS   int `yaml:"perClientRPS" json:"perClientRPS"`
	PerClientBurst int `yaml:"perClientBurst" json:"perClientBurst"`
}

// AuthConfig holds credential verification settings.
type AuthConfig struct {
	JWTSecret       string   `yaml:"jwtSecret" json:"-"`
	Algorithm       string   `yaml:"algorithm" json:"algorithm"`
	PrincipalTTL    Duration `yaml:"principalTTL" json:"principalTTL"`
	IdentityService string   `yaml:"identityService" json:"identityService"`
	VerifyPath      string   `yaml:"verifyPath" json:"verifyPath"`
	LogoutPath      string   `yaml:"logoutPath" json:"logoutPath"`
}

// TimeoutConfig holds outbound call timeout bounds.
type TimeoutConfig struct {
	Connect Duration `yaml:"connect" json:"connect"`
	Request Duration `yaml:"request" json:"request"`
}

// ServiceConfig describes one proxied backend service.
type ServiceConfig struct {
	PathPrefix  string `yaml:"pathPrefix" json:"pathPrefix"`
	HealthCheck string `yaml:"healthCheck" json:"healthCheck"`
	FallbackURL string `yaml:"fallbackURL" json:"fallbackURL"`
	Quota       string `yaml:"quota" json:"quota"`

	// StaticInstances lists host:port addresses used when the service
	// registry is disabled.
	StaticInstances []string `yaml:"staticInstances" json:"staticInstances"`
}

// DefaultConfig returns a GatewayConfig with production defaults.
func DefaultConfig() *GatewayConfig {
	return &GatewayConfig{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            5000,
			MetricsPort:     9090,
			ReadTimeout:     Duration(30 * time.Second),
			WriteTimeout:    Duration(60 * time.Second),
			IdleTimeout:     Duration(120 * time.Second),
			ShutdownTimeout: Duration(15 * time.Second),
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Redis: RedisConfig{
			Enabled:      true,
			Address:      "localhost:6379",
			Prefix:       "gateway:",
			DialTimeout:  Duration(5 * time.Second),
			ReadTimeout:  Duration(5 * time.Second),
			WriteTimeout: Duration(5 * time.Second),
			PoolSize:     10,
		},
		Registry: RegistryConfig{
			Enabled:          true,
			Endpoints:        []string{"localhost:2379"},
			Namespace:        "/gateway/services",
			CacheTTL:         Duration(60 * time.Second),
			DiscoveryTimeout: Duration(3 * time.Second),
			LeaseTTL:         10,
			SelfRegister:     true,
		},
		LoadBalancer: LoadBalancerConfig{
			Strategy: StrategyRoundRobin,
		},
		CircuitBreaker: CircuitBreakerConfig{
			FailureThreshold: 5,
			RecoveryTimeout:  Duration(60 * time.Second),
		},
		RateLimit: RateLimitConfig{
			Default: "100 per hour",
		},
		Auth: AuthConfig{
			Algorithm:       "HS256",
			PrincipalTTL:    Duration(5 * time.Minute),
			IdentityService: "user-service",
			VerifyPath:      "/api/auth/verify",
			LogoutPath:      "/api/auth/logout",
		},
		Timeouts: TimeoutConfig{
			Connect: Duration(5 * time.Second),
			Request: Duration(30 * time.Second),
		},
		Services: map[string]ServiceConfig{
			"user-service": {
				PathPrefix:  "/api/users",
				HealthCheck: "/healthz",
				Quota:       "200 per hour",
			},
			"blog-service": {
				PathPrefix:  "/api",
				HealthCheck: "/healthz",
				Quota:       "500 per hour",
			},
		},
	}
}

// ServiceNames returns the configured backend service names.
func (c *GatewayConfig) ServiceNames() []string {
	names := make([]string, 0, len(c.Services))
	for name := range c.Services {
		names = append(names, name)
	}
	return names
}
