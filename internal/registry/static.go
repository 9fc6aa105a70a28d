package registry

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"sync"
)

// StaticRegistry serves a fixed instance set from configuration. It is used
// when the etcd registry is disabled; Register and Deregister mutate only the
// in-memory set.
type StaticRegistry struct {
	mu        sync.RWMutex
	instances map[string][]Instance
}

// NewStaticRegistry creates a registry seeded with the given instances.
func NewStaticRegistry(instances map[string][]Instance) *StaticRegistry {
	seeded := make(map[string][]Instance, len(instances))
	for name, list := range instances {
		seeded[name] = append([]Instance(nil), list...)
	}
	return &StaticRegistry{instances: seeded}
}

// ParseStaticInstances converts host:port strings into Instances with unit
// weight, healthy and enabled.
func ParseStaticInstances(addrs []string) ([]Instance, error) {
	instances := make([]Instance, 0, len(addrs))
	for _, addr := range addrs {
		host, portStr, err := net.SplitHostPort(addr)
		if err != nil {
			return nil, fmt.Errorf("parse static instance %q: %w", addr, err)
		}
		port, err := strconv.Atoi(portStr)
		if err != nil {
			return nil, fmt.Errorf("parse static instance port %q: %w", addr, err)
		}
		instances = append(instances, Instance{
			Address: host,
			Port:    port,
			Weight:  1.0,
			Healthy: true,
			Enabled: true,
		})
	}
	return instances, nil
}

// Discover implements Registry.
func (r *StaticRegistry) Discover(_ context.Context, serviceName string) ([]Instance, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]Instance(nil), r.instances[serviceName]...), nil
}

// Register implements Registry. The TTL is ignored.
func (r *StaticRegistry) Register(_ context.Context, serviceName string, instance Instance, _ int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, existing := range r.instances[serviceName] {
		if existing.HostPort() == instance.HostPort() {
			r.instances[serviceName][i] = instance
			return nil
		}
	}
	r.instances[serviceName] = append(r.instances[serviceName], instance)
	return nil
}

// Deregister implements Registry.
func (r *StaticRegistry) Deregister(_ context.Context, serviceName string, instance Instance) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	list := r.instances[serviceName]
	for i, existing := range list {
		if existing.HostPort() == instance.HostPort() {
			r.instances[serviceName] = append(list[:i], list[i+1:]...)
			return nil
		}
	}
	return nil
}

// Close implements Registry.
func (r *StaticRegistry) Close() error { return nil }
