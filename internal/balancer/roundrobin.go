package balancer

import (
	"sync"
	"sync/atomic"

	"github.com/miniblog/gateway/internal/registry"
)

// RoundRobin cycles through instances per service. Cursors are never reset,
// so a shrinking instance list simply wraps at the new length.
type RoundRobin struct {
	cursors sync.Map // service name -> *atomic.Uint64
}

// NewRoundRobin creates a round-robin selector.
func NewRoundRobin() *RoundRobin {
	return &RoundRobin{}
}

// Name implements Selector.
func (rr *RoundRobin) Name() string { return "round_robin" }

// Select implements Selector.
func (rr *RoundRobin) Select(serviceName string, instances []registry.Instance) *registry.Instance {
	if len(instances) == 0 {
		return nil
	}

	cursor, _ := rr.cursors.LoadOrStore(serviceName, &atomic.Uint64{})
	n := cursor.(*atomic.Uint64).Add(1) - 1
	return &instances[n%uint64(len(instances))]
}
