// Package registry provides service discovery against an external registry,
// with a TTL cache and stale fallback in front of it.
package registry

import (
	"context"
	"fmt"
	"net"
	"strconv"
)

// Instance is one network-addressable replica of a backend service as
// reported by the registry. Instances are immutable per discovery cycle.
type Instance struct {
	Address  string            `json:"address"`
	Port     int               `json:"port"`
	Weight   float64           `json:"weight"`
	Metadata map[string]string `json:"metadata,omitempty"`
	Healthy  bool              `json:"healthy"`
	Enabled  bool              `json:"enabled"`
}

// HostPort returns the address:port pair for the instance.
func (i Instance) HostPort() string {
	return net.JoinHostPort(i.Address, strconv.Itoa(i.Port))
}

// URL returns the base HTTP URL for the instance.
func (i Instance) URL() string {
	return fmt.Sprintf("http://%s", i.HostPort())
}

// Usable reports whether the instance should receive traffic.
func (i Instance) Usable() bool {
	return i.Healthy && i.Enabled
}

// Registry is the upstream service registry.
type Registry interface {
	// Discover returns all registered instances of the named service.
	Discover(ctx context.Context, serviceName string) ([]Instance, error)

	// Register adds an instance for the named service with a TTL lease;
	// the entry disappears when the lease stops being renewed.
	Register(ctx context.Context, serviceName string, instance Instance, ttlSeconds int64) error

	// Deregister removes an instance for the named service.
	Deregister(ctx context.Context, serviceName string, instance Instance) error

	// Close releases the registry connection.
	Close() error
}

// FilterUsable returns only healthy and enabled instances, preserving order.
func FilterUsable(instances []Instance) []Instance {
	usable := make([]Instance, 0, len(instances))
	for _, inst := range instances {
		if inst.Usable() {
			usable = append(usable, inst)
		}
	}
	return usable
}
