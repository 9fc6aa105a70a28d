package registry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/miniblog/gateway/internal/observability"
)

type cacheEntry struct {
	instances []Instance
	fetchedAt time.Time
}

// Cache fronts a Registry with a per-service TTL cache. Discovery results,
// including empty ones, are cached for the configured TTL; when the backing
// registry is unreachable the last known entry is served stale rather than
// failing the request.
type Cache struct {
	registry         Registry
	ttl              time.Duration
	discoveryTimeout time.Duration
	logger           observability.Logger
	metrics          *observability.Metrics

	mu      sync.Mutex
	entries map[string]cacheEntry
	clock   func() time.Time
}

// CacheOption is a functional option for configuring the registry cache.
type CacheOption func(*Cache)

// WithCacheLogger sets the logger for the cache.
func WithCacheLogger(logger observability.Logger) CacheOption {
	return func(c *Cache) {
		c.logger = logger
	}
}

// WithCacheMetrics sets the metrics recorder for the cache.
func WithCacheMetrics(m *observability.Metrics) CacheOption {
	return func(c *Cache) {
		c.metrics = m
	}
}

// WithCacheClock overrides the time source, for tests.
func WithCacheClock(clock func() time.Time) CacheOption {
	return func(c *Cache) {
		c.clock = clock
	}
}

// NewCache creates a caching layer over the given registry.
func NewCache(registry Registry, ttl, discoveryTimeout time.Duration, opts ...CacheOption) *Cache {
	c := &Cache{
		registry:         registry,
		ttl:              ttl,
		discoveryTimeout: discoveryTimeout,
		logger:           observability.NopLogger(),
		entries:          make(map[string]cacheEntry),
		clock:            time.Now,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Resolve returns the usable instances for a service, consulting the cache
// first. A fresh cache entry short-circuits discovery entirely. On a cache
// miss or expired entry the backing registry is queried with a bounded
// timeout; a discovery failure falls back to the stale entry when one exists.
func (c *Cache) Resolve(ctx context.Context, serviceName string) ([]Instance, error) {
	now := c.clock()

	c.mu.Lock()
	entry, ok := c.entries[serviceName]
	c.mu.Unlock()

	if ok && now.Sub(entry.fetchedAt) < c.ttl {
		return FilterUsable(entry.instances), nil
	}

	discoverCtx := ctx
	if c.discoveryTimeout > 0 {
		var cancel context.CancelFunc
		discoverCtx, cancel = context.WithTimeout(ctx, c.discoveryTimeout)
		defer cancel()
	}

	instances, err := c.registry.Discover(discoverCtx, serviceName)
	if err != nil {
		if ok {
			c.logger.Warn("discovery failed, serving stale instances",
				observability.String("service", serviceName),
				observability.Duration("age", now.Sub(entry.fetchedAt)),
				observability.Error(err),
			)
			return FilterUsable(entry.instances), nil
		}
		return nil, fmt.Errorf("resolve %s: %w", serviceName, err)
	}

	c.mu.Lock()
	c.entries[serviceName] = cacheEntry{instances: instances, fetchedAt: now}
	c.mu.Unlock()

	if c.metrics != nil {
		c.metrics.SetDiscoveredInstances(serviceName, len(instances))
	}

	return FilterUsable(instances), nil
}

// Invalidate drops the cached entry for a service, forcing the next Resolve
// to query the registry.
func (c *Cache) Invalidate(serviceName string) {
	c.mu.Lock()
	delete(c.entries, serviceName)
	c.mu.Unlock()
}

// InvalidateAll drops every cached entry.
func (c *Cache) InvalidateAll() {
	c.mu.Lock()
	c.entries = make(map[string]cacheEntry)
	c.mu.Unlock()
}
