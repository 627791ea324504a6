package drs

import (
	"fmt"
	"math"

	"github.com/cuemby/paddock/pkg/types"
)

// NoScore is returned when imbalance is undefined: no comparable
// resources, or a mean of zero.
const NoScore = -1.0

// Imbalance returns the population standard deviation of values divided by
// their mean.
func Imbalance(values []float64) float64 {
	if len(values) == 0 {
		return NoScore
	}

	var sum float64
	for _, v := range values {
		sum += v
	}
	mean := sum / float64(len(values))
	if mean == 0 {
		return NoScore
	}

	var sq float64
	for _, v := range values {
		d := v - mean
		sq += d * d
	}
	return math.Sqrt(sq/float64(len(values))) / mean
}

// Metric type framings
const (
	MetricUsed = "used"
	MetricFree = "free"
)

// Normalizer maps a resource to a value in [0,1]. ok is false when the
// resource is left out of the comparison set.
type Normalizer interface {
	Normalize(r *types.ResourceCandidate) (value float64, ok bool)
}

// RatioNormalizer normalizes one metric against each resource's own
// capacity. Resources whose used ratio exceeds SkipThreshold are skipped.
type RatioNormalizer struct {
	Metric        types.Metric
	Type          string
	SkipThreshold float64
}

// NewRatioNormalizer validates and builds a single-metric normalizer.
// skipThreshold <= 0 disables skipping.
func NewRatioNormalizer(metric types.Metric, metricType string, skipThreshold float64) (*RatioNormalizer, error) {
	switch metric {
	case types.MetricCPU, types.MetricMemory, types.MetricStorage:
	default:
		return nil, fmt.Errorf("unknown metric %q", metric)
	}
	switch metricType {
	case MetricUsed, MetricFree:
	default:
		return nil, fmt.Errorf("unknown metric type %q", metricType)
	}
	return &RatioNormalizer{Metric: metric, Type: metricType, SkipThreshold: skipThreshold}, nil
}

func (n *RatioNormalizer) Normalize(r *types.ResourceCandidate) (float64, bool) {
	u := r.Capacity.Get(n.Metric)
	if u.Total <= 0 {
		return 0, false
	}
	used := math.Min(u.UsedRatio(), 1)
	if n.SkipThreshold > 0 && used > n.SkipThreshold {
		return 0, false
	}
	if n.Type == MetricFree {
		return 1 - used, true
	}
	return used, true
}

// Score computes the imbalance over the resources the normalizer keeps
func Score(n Normalizer, resources []*types.ResourceCandidate) float64 {
	values := make([]float64, 0, len(resources))
	for _, r := range resources {
		if v, ok := n.Normalize(r); ok {
			values = append(values, v)
		}
	}
	return Imbalance(values)
}

// MaxMoves caps the moves of one round to max(1, floor(n*fraction)),
// never more than n.
func MaxMoves(n int, fraction float64) int {
	if n <= 0 {
		return 0
	}
	m := int(math.Floor(float64(n) * fraction))
	if m < 1 {
		m = 1
	}
	if m > n {
		m = n
	}
	return m
}
