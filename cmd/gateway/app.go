package main

import (
	"context"
	"fmt"
	"net"
	"os/signal"
	"syscall"

	"github.com/miniblog/gateway/internal/auth"
	"github.com/miniblog/gateway/internal/balancer"
	"github.com/miniblog/gateway/internal/breaker"
	"github.com/miniblog/gateway/internal/config"
	"github.com/miniblog/gateway/internal/gateway"
	"github.com/miniblog/gateway/internal/observability"
	"github.com/miniblog/gateway/internal/proxy"
	"github.com/miniblog/gateway/internal/ratelimit"
	"github.com/miniblog/gateway/internal/registry"
	"github.com/miniblog/gateway/internal/stats"
	"github.com/miniblog/gateway/internal/store"
)

func run(configPath string, validateOnly bool) error {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return err
	}
	if err := config.ValidateConfig(cfg); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if validateOnly {
		fmt.Println("configuration is valid")
		return nil
	}

	logger, err := observability.NewLogger(observability.LogConfig{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	})
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer logger.Sync() //nolint:errcheck // stdout sync fails on some platforms
	observability.SetGlobalLogger(logger)

	metrics := observability.NewMetrics("gateway")
	metrics.SetBuildInfo(version, commit)

	baseStore, err := buildStore(cfg, logger)
	if err != nil {
		return err
	}
	defer baseStore.Close()
	st := store.Instrument(baseStore, metrics)

	reg, err := buildRegistry(cfg, logger)
	if err != nil {
		return err
	}
	defer reg.Close()

	resolver := registry.NewCache(reg,
		cfg.Registry.CacheTTL.Duration(),
		cfg.Registry.DiscoveryTimeout.Duration(),
		registry.WithCacheLogger(logger),
		registry.WithCacheMetrics(metrics),
	)

	selector, err := balancer.New(cfg.LoadBalancer.Strategy)
	if err != nil {
		return err
	}

	breakers := breaker.NewRegistry(
		cfg.CircuitBreaker.FailureThreshold,
		cfg.CircuitBreaker.RecoveryTimeout.Duration(),
		breaker.WithLogger(logger),
		breaker.WithMetrics(metrics),
	)

	tracker := stats.NewTracker(st, stats.WithLogger(logger))

	fallbacks := make(map[string]string, len(cfg.Services))
	for name, svc := range cfg.Services {
		if svc.FallbackURL != "" {
			fallbacks[name] = svc.FallbackURL
		}
	}

	forwarder := proxy.NewForwarder(resolver, selector, breakers,
		cfg.Timeouts.Connect.Duration(),
		cfg.Timeouts.Request.Duration(),
		proxy.WithTracker(tracker),
		proxy.WithMetrics(metrics),
		proxy.WithLogger(logger),
		proxy.WithFallbacks(fallbacks),
	)

	remote := auth.NewHTTPRemoteVerifier(
		func(ctx context.Context) (string, error) {
			return forwarder.BaseURL(ctx, cfg.Auth.IdentityService)
		},
		cfg.Auth.VerifyPath,
		nil,
	)

	verifier, err := auth.NewVerifier(&cfg.Auth, st,
		auth.WithRemoteVerifier(remote),
		auth.WithVerifierLogger(logger),
	)
	if err != nil {
		return fmt.Errorf("init verifier: %w", err)
	}

	limiter := ratelimit.NewLimiter(st,
		ratelimit.WithLogger(logger),
		ratelimit.WithMetrics(metrics),
	)

	gw := gateway.New(cfg, gateway.Deps{
		Logger:    logger,
		Metrics:   metrics,
		Forwarder: forwarder,
		Limiter:   limiter,
		Verifier:  verifier,
		Breakers:  breakers,
		Tracker:   tracker,
		Resolver:  resolver,
		Store:     st,
		Version:   version,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Registry.Enabled && cfg.Registry.SelfRegister {
		if err := selfRegister(ctx, reg, cfg, logger); err != nil {
			logger.Warn("self-registration failed", observability.Error(err))
		}
	}

	watcher, err := config.NewWatcher(configPath, func(updated *config.GatewayConfig) {
		gw.ApplyConfig(updated)
	}, config.WithWatcherLogger(logger))
	if err != nil {
		logger.Warn("config watcher unavailable", observability.Error(err))
	} else {
		if err := watcher.Start(ctx); err != nil {
			logger.Warn("config watcher failed to start", observability.Error(err))
		}
		defer watcher.Stop() //nolint:errcheck // shutdown path
	}

	srv := gateway.NewServer(&cfg.Server, gw, metrics, logger)

	if err := srv.Start(ctx); err != nil {
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Duration())
	defer cancel()
	logger.Info("shutting down")
	return srv.Shutdown(shutdownCtx)
}

func buildStore(cfg *config.GatewayConfig, logger observability.Logger) (store.Store, error) {
	if !cfg.Redis.Enabled {
		logger.Warn("redis disabled, using in-memory store; quotas and revocations are per-process")
		return store.NewMemoryStore(), nil
	}
	return store.NewRedisStore(&cfg.Redis, store.WithRedisLogger(logger))
}

func buildRegistry(cfg *config.GatewayConfig, logger observability.Logger) (registry.Registry, error) {
	if !cfg.Registry.Enabled {
		static := make(map[string][]registry.Instance, len(cfg.Services))
		for name, svc := range cfg.Services {
			instances, err := registry.ParseStaticInstances(svc.StaticInstances)
			if err != nil {
				return nil, fmt.Errorf("service %s: %w", name, err)
			}
			static[name] = instances
		}
		return registry.NewStaticRegistry(static), nil
	}
	return registry.NewEtcdRegistry(cfg.Registry.Endpoints, cfg.Registry.Namespace,
		registry.WithEtcdLogger(logger))
}

// selfRegister announces the gateway under its own service name so peers can
// discover it.
func selfRegister(ctx context.Context, reg registry.Registry, cfg *config.GatewayConfig, logger observability.Logger) error {
	host := cfg.Server.Host
	if host == "" || host == "0.0.0.0" || host == "::" {
		detected, err := outboundIP()
		if err != nil {
			return fmt.Errorf("detect advertise address: %w", err)
		}
		host = detected
	}

	instance := registry.Instance{
		Address: host,
		Port:    cfg.Server.Port,
		Weight:  1.0,
		Healthy: true,
		Enabled: true,
		Metadata: map[string]string{
			"version": version,
		},
	}
	return reg.Register(ctx, "api-gateway", instance, cfg.Registry.LeaseTTL)
}

// outboundIP finds the local address used for outbound traffic.
func outboundIP() (string, error) {
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return "", err
	}
	defer conn.Close()
	host, _, err := net.SplitHostPort(conn.LocalAddr().String())
	if err != nil {
		return "", err
	}
	return host, nil
}
