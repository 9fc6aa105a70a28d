package balancer

import (
	"github.com/miniblog/gateway/internal/registry"
)

// weightedPrecision controls the granularity of the random draw along the
// cumulative weight line.
const weightedPrecision = 1 << 30

// Weighted selects instances proportionally to their weight. Instances with a
// non-positive weight count as weight 1.0.
type Weighted struct{}

// NewWeighted creates a weighted selector.
func NewWeighted() *Weighted {
	return &Weighted{}
}

// Name implements Selector.
func (w *Weighted) Name() string { return "weighted" }

func effectiveWeight(instance registry.Instance) float64 {
	if instance.Weight <= 0 {
		return 1.0
	}
	return instance.Weight
}

// Select implements Selector. A random point on the cumulative weight line is
// drawn and the walk stops at the first instance whose cumulative weight
// exceeds it; rounding at the end of the line lands on the last instance.
func (w *Weighted) Select(_ string, instances []registry.Instance) *registry.Instance {
	if len(instances) == 0 {
		return nil
	}

	total := 0.0
	for _, instance := range instances {
		total += effectiveWeight(instance)
	}

	point := float64(secureRandomInt(weightedPrecision)) / float64(weightedPrecision) * total

	cumulative := 0.0
	for i := range instances {
		cumulative += effectiveWeight(instances[i])
		if point < cumulative {
			return &instances[i]
		}
	}
	return &instances[len(instances)-1]
}
