package allocator

import (
	"context"
	"fmt"

	"github.com/cuemby/paddock/pkg/inventory"
	"github.com/cuemby/paddock/pkg/log"
	"github.com/cuemby/paddock/pkg/types"
	"github.com/rs/zerolog"
)

// Allocator filters and ranks candidates of one resource kind
type Allocator struct {
	kind   types.ResourceKind
	inv    inventory.Inventory
	order  Ordering
	logger zerolog.Logger
}

// NewHostAllocator creates an allocator over the inventory's hosts
func NewHostAllocator(inv inventory.Inventory, order Ordering) *Allocator {
	return &Allocator{
		kind:   types.ResourceHost,
		inv:    inv,
		order:  order,
		logger: log.WithComponent("host-allocator"),
	}
}

// NewPoolAllocator creates an allocator over the inventory's storage pools
func NewPoolAllocator(inv inventory.Inventory, order Ordering) *Allocator {
	return &Allocator{
		kind:   types.ResourceStoragePool,
		inv:    inv,
		order:  order,
		logger: log.WithComponent("pool-allocator"),
	}
}

// Kind returns the resource kind this allocator serves
func (a *Allocator) Kind() types.ResourceKind {
	return a.kind
}

// Ordering returns the name of the ranking in use
func (a *Allocator) Ordering() string {
	return a.order.Name()
}

// Allocate returns the usable candidates in scope, best first. An empty
// result is not an error.
func (a *Allocator) Allocate(ctx context.Context, profile *types.WorkloadProfile, scope types.Scope, exclude *types.ExcludeList) ([]*types.ResourceCandidate, error) {
	var (
		candidates []*types.ResourceCandidate
		err        error
	)
	if a.kind == types.ResourceHost {
		candidates, err = a.inv.ListCandidateHosts(ctx, scope, profile.HostTags)
	} else {
		candidates, err = a.inv.ListCandidateStoragePools(ctx, scope, profile.StorageTags)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list %s candidates: %w", a.kind, err)
	}

	filtered := a.filter(profile, candidates, exclude)
	if len(filtered) == 0 {
		return nil, nil
	}
	return a.order.Order(ctx, orderKey(a.kind, scope), filtered)
}

func (a *Allocator) filter(profile *types.WorkloadProfile, candidates []*types.ResourceCandidate, exclude *types.ExcludeList) []*types.ResourceCandidate {
	tags := profile.HostTags
	if a.kind == types.ResourceStoragePool {
		tags = profile.StorageTags
	}

	var out []*types.ResourceCandidate
	for _, c := range candidates {
		switch {
		case exclude.ShouldAvoid(c):
			a.logger.Debug().Str("candidate", c.ID).Msg("skipped: excluded")
		case !c.Usable():
			a.logger.Debug().Str("candidate", c.ID).
				Str("allocation_state", string(c.AllocationState)).
				Str("status", string(c.Status)).
				Msg("skipped: not usable")
		case !c.HasTags(tags):
			a.logger.Debug().Str("candidate", c.ID).Strs("tags", tags).Msg("skipped: missing tags")
		case !HasCapacity(c, profile.Requirements):
			a.logger.Debug().Str("candidate", c.ID).Msg("skipped: insufficient capacity")
		default:
			out = append(out, c)
		}
	}
	return out
}

// HasCapacity reports whether the candidate's free capacity covers req for
// the metrics its kind accounts for.
func HasCapacity(c *types.ResourceCandidate, req types.Requirements) bool {
	for _, m := range MetricsFor(c.Kind) {
		if c.Capacity.Get(m).Free() < req.Get(m) {
			return false
		}
	}
	return true
}

// MetricsFor returns the metrics a resource kind accounts for
func MetricsFor(kind types.ResourceKind) []types.Metric {
	if kind == types.ResourceStoragePool {
		return []types.Metric{types.MetricStorage}
	}
	return []types.Metric{types.MetricCPU, types.MetricMemory}
}

func orderKey(kind types.ResourceKind, s types.Scope) string {
	return fmt.Sprintf("%s/%s/%s/%s", kind, s.ZoneID, s.PodID, s.ClusterID)
}
