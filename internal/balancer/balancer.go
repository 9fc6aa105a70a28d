// Package balancer implements instance selection strategies for picking one
// upstream instance out of a discovered set.
package balancer

import (
	"crypto/rand"
	"fmt"
	"math/big"

	"github.com/miniblog/gateway/internal/config"
	"github.com/miniblog/gateway/internal/registry"
)

// Selector picks one instance from a candidate set for a service. Selection
// state (such as round-robin cursors) is keyed by service name and survives
// changes to the instance list. Select returns nil when the set is empty.
type Selector interface {
	Select(serviceName string, instances []registry.Instance) *registry.Instance
	Name() string
}

// New returns the selector for the named strategy.
func New(strategy string) (Selector, error) {
	switch strategy {
	case config.StrategyRoundRobin, "":
		return NewRoundRobin(), nil
	case config.StrategyRandom:
		return NewRandom(), nil
	case config.StrategyWeighted:
		return NewWeighted(), nil
	default:
		return nil, fmt.Errorf("unknown load balancer strategy %q", strategy)
	}
}

// secureRandomInt returns a uniform random int in [0, max).
func secureRandomInt(max int) int {
	if max <= 0 {
		return 0
	}
	n, err := rand.Int(rand.Reader, big.NewInt(int64(max)))
	if err != nil {
		// crypto/rand failure means the platform RNG is broken; fall
		// back to the first candidate rather than panicking.
		return 0
	}
	return int(n.Int64())
}
