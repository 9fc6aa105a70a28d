package balancer

import (
	"github.com/miniblog/gateway/internal/registry"
)

// Random selects a uniformly random instance.
type Random struct{}

// NewRandom creates a random selector.
func NewRandom() *Random {
	return &Random{}
}

// Name implements Selector.
func (r *Random) Name() string { return "random" }

// Select implements Selector.
func (r *Random) Select(_ string, instances []registry.Instance) *registry.Instance {
	if len(instances) == 0 {
		return nil
	}
	return &instances[secureRandomInt(len(instances))]
}
