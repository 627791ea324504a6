package allocator

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/cuemby/paddock/pkg/types"
)

// Ordering ranks filtered candidates. key identifies the kind and scope
// being ranked so stateful orderings can keep per-scope positions.
type Ordering interface {
	Name() string
	Order(ctx context.Context, key string, candidates []*types.ResourceCandidate) ([]*types.ResourceCandidate, error)
}

// CursorStore persists round-robin positions
type CursorStore interface {
	GetCursor(key string) (uint64, error)
	SetCursor(key string, value uint64) error
}

// Ordering names
const (
	FirstFit      = "firstfit"
	Random        = "random"
	RoundRobin    = "roundrobin"
	LeastConsumed = "leastconsumed"
)

// NewOrdering resolves an ordering by name. cursors is only needed for
// round-robin.
func NewOrdering(name string, cursors CursorStore) (Ordering, error) {
	switch name {
	case FirstFit, "":
		return FirstFitOrdering{}, nil
	case Random:
		return NewRandomOrdering(time.Now().UnixNano()), nil
	case RoundRobin:
		if cursors == nil {
			return nil, fmt.Errorf("round-robin ordering requires a cursor store")
		}
		return NewRoundRobinOrdering(cursors), nil
	case LeastConsumed:
		return LeastConsumedOrdering{}, nil
	}
	return nil, fmt.Errorf("unknown allocator ordering: %s", name)
}

func sortByName(cs []*types.ResourceCandidate) {
	sort.SliceStable(cs, func(i, j int) bool {
		if cs[i].Name != cs[j].Name {
			return cs[i].Name < cs[j].Name
		}
		return cs[i].ID < cs[j].ID
	})
}

// FirstFitOrdering keeps a deterministic name order
type FirstFitOrdering struct{}

func (FirstFitOrdering) Name() string { return FirstFit }

func (FirstFitOrdering) Order(ctx context.Context, key string, candidates []*types.ResourceCandidate) ([]*types.ResourceCandidate, error) {
	sortByName(candidates)
	return candidates, nil
}

// RandomOrdering shuffles candidates so ties do not hot-spot the first
// listed resource. The source is seeded once per process.
type RandomOrdering struct {
	mu  sync.Mutex
	rnd *rand.Rand
}

// NewRandomOrdering creates a shuffling ordering with a fixed seed
func NewRandomOrdering(seed int64) *RandomOrdering {
	return &RandomOrdering{rnd: rand.New(rand.NewSource(seed))}
}

func (r *RandomOrdering) Name() string { return Random }

func (r *RandomOrdering) Order(ctx context.Context, key string, candidates []*types.ResourceCandidate) ([]*types.ResourceCandidate, error) {
	// Sort first so the result only depends on the source, not listing order
	sortByName(candidates)
	r.mu.Lock()
	r.rnd.Shuffle(len(candidates), func(i, j int) {
		candidates[i], candidates[j] = candidates[j], candidates[i]
	})
	r.mu.Unlock()
	return candidates, nil
}

// RoundRobinOrdering rotates the name order by a cursor kept per key in a
// CursorStore, so distribution continues across restarts.
type RoundRobinOrdering struct {
	mu      sync.Mutex
	cursors CursorStore
}

// NewRoundRobinOrdering creates a round-robin ordering
func NewRoundRobinOrdering(cursors CursorStore) *RoundRobinOrdering {
	return &RoundRobinOrdering{cursors: cursors}
}

func (r *RoundRobinOrdering) Name() string { return RoundRobin }

func (r *RoundRobinOrdering) Order(ctx context.Context, key string, candidates []*types.ResourceCandidate) ([]*types.ResourceCandidate, error) {
	sortByName(candidates)

	r.mu.Lock()
	defer r.mu.Unlock()

	cursor, err := r.cursors.GetCursor(key)
	if err != nil {
		return nil, fmt.Errorf("failed to read cursor: %w", err)
	}
	if err := r.cursors.SetCursor(key, cursor+1); err != nil {
		return nil, fmt.Errorf("failed to advance cursor: %w", err)
	}

	start := int(cursor % uint64(len(candidates)))
	out := make([]*types.ResourceCandidate, 0, len(candidates))
	out = append(out, candidates[start:]...)
	out = append(out, candidates[:start]...)
	return out, nil
}

// LeastConsumedOrdering puts the resource with the lowest used ratio first.
// Hosts rank by the larger of their cpu and memory ratios.
type LeastConsumedOrdering struct{}

func (LeastConsumedOrdering) Name() string { return LeastConsumed }

func (LeastConsumedOrdering) Order(ctx context.Context, key string, candidates []*types.ResourceCandidate) ([]*types.ResourceCandidate, error) {
	sortByName(candidates)
	sort.SliceStable(candidates, func(i, j int) bool {
		return consumed(candidates[i]) < consumed(candidates[j])
	})
	return candidates, nil
}

func consumed(c *types.ResourceCandidate) float64 {
	var worst float64
	for _, m := range MetricsFor(c.Kind) {
		if r := c.Capacity.Get(m).UsedRatio(); r > worst {
			worst = r
		}
	}
	return worst
}
