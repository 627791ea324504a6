package planner

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/cuemby/paddock/pkg/inventory"
	"github.com/cuemby/paddock/pkg/types"
)

// Planner is a placement strategy. Given the narrowed plan it returns the
// clusters to try, most suitable first. Planners never reserve anything.
type Planner interface {
	Name() string
	OrderClusters(ctx context.Context, profile *types.WorkloadProfile, plan types.DeploymentPlan, exclude *types.ExcludeList) ([]*types.Cluster, error)
}

// Planner names
const (
	FirstFitName       = "firstfit"
	UserDispersingName = "userdispersing"
)

// Registry maps planner names to instances. It is populated at startup.
type Registry struct {
	mu       sync.RWMutex
	planners map[string]Planner
	fallback string
}

// NewRegistry creates an empty registry whose default is fallback
func NewRegistry(fallback string) *Registry {
	return &Registry{planners: make(map[string]Planner), fallback: fallback}
}

// NewDefaultRegistry registers the built-in planners
func NewDefaultRegistry(inv inventory.Inventory, fallback string, disableThreshold float64) *Registry {
	r := NewRegistry(fallback)
	ff := NewFirstFit(inv, disableThreshold)
	r.Register(ff)
	r.Register(NewUserDispersing(inv, ff))
	return r
}

// Register adds or replaces a planner
func (r *Registry) Register(p Planner) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.planners[p.Name()] = p
}

// Get resolves a planner by name. An empty name selects the default.
func (r *Registry) Get(name string) (Planner, error) {
	if name == "" {
		name = r.fallback
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.planners[name]
	if !ok {
		return nil, fmt.Errorf("unknown planner: %s", name)
	}
	return p, nil
}

// Names lists the registered planners
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.planners))
	for n := range r.planners {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// clusterLoad aggregates the usable hosts of a cluster
type clusterLoad struct {
	cluster   *types.Cluster
	cpu       types.Usage
	memory    types.Usage
	hostCount int
}

func (l clusterLoad) overThreshold(threshold float64) bool {
	if threshold <= 0 {
		return false
	}
	return l.cpu.UsedRatio() > threshold || l.memory.UsedRatio() > threshold
}

// FirstFit orders clusters by aggregate free capacity, largest first.
// Clusters whose usage is above the disable threshold are tried last.
type FirstFit struct {
	inv              inventory.Inventory
	disableThreshold float64
}

// NewFirstFit creates the first-fit planner. A threshold of 0 disables the
// capacity check.
func NewFirstFit(inv inventory.Inventory, disableThreshold float64) *FirstFit {
	return &FirstFit{inv: inv, disableThreshold: disableThreshold}
}

func (p *FirstFit) Name() string { return FirstFitName }

func (p *FirstFit) OrderClusters(ctx context.Context, profile *types.WorkloadProfile, plan types.DeploymentPlan, exclude *types.ExcludeList) ([]*types.Cluster, error) {
	preferred, overloaded, err := p.order(ctx, plan, exclude)
	if err != nil {
		return nil, err
	}
	return append(preferred, overloaded...), nil
}

// order splits the eligible clusters into those under the disable threshold
// and those above it, each sorted by free capacity
func (p *FirstFit) order(ctx context.Context, plan types.DeploymentPlan, exclude *types.ExcludeList) ([]*types.Cluster, []*types.Cluster, error) {
	clusters, err := p.inv.ListClusters(ctx, plan.ZoneID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to list clusters: %w", err)
	}

	scope := plan.Scope()
	var loads []clusterLoad
	for _, c := range clusters {
		if !scope.Contains(c.Scope()) || exclude.ShouldAvoidCluster(c) {
			continue
		}
		if c.AllocationState == types.AllocationDisabled {
			continue
		}

		load, err := p.load(ctx, c)
		if err != nil {
			return nil, nil, err
		}
		if load.hostCount == 0 {
			continue
		}
		loads = append(loads, load)
	}

	sort.SliceStable(loads, func(i, j int) bool {
		a, b := loads[i], loads[j]
		if a.memory.Free() != b.memory.Free() {
			return a.memory.Free() > b.memory.Free()
		}
		if a.cpu.Free() != b.cpu.Free() {
			return a.cpu.Free() > b.cpu.Free()
		}
		return a.cluster.ID < b.cluster.ID
	})

	var preferred, overloaded []*types.Cluster
	for _, l := range loads {
		if l.overThreshold(p.disableThreshold) {
			overloaded = append(overloaded, l.cluster)
			continue
		}
		preferred = append(preferred, l.cluster)
	}
	return preferred, overloaded, nil
}

func (p *FirstFit) load(ctx context.Context, c *types.Cluster) (clusterLoad, error) {
	hosts, err := p.inv.ListCandidateHosts(ctx, c.Scope(), nil)
	if err != nil {
		return clusterLoad{}, fmt.Errorf("failed to list hosts of cluster %s: %w", c.ID, err)
	}

	load := clusterLoad{cluster: c}
	for _, h := range hosts {
		if !h.Usable() {
			continue
		}
		load.hostCount++
		for _, pair := range []struct {
			dst *types.Usage
			src types.Usage
		}{{&load.cpu, h.Capacity.CPU}, {&load.memory, h.Capacity.Memory}} {
			pair.dst.Total += pair.src.Total
			pair.dst.Used += pair.src.Used
			pair.dst.Reserved += pair.src.Reserved
		}
	}
	return load, nil
}

// UserDispersing spreads an owner's workloads across clusters: clusters
// holding fewer of the owner's workloads come first, ties keep first-fit order.
type UserDispersing struct {
	inv  inventory.Inventory
	base *FirstFit
}

// NewUserDispersing creates the user-dispersing planner on top of first-fit
func NewUserDispersing(inv inventory.Inventory, base *FirstFit) *UserDispersing {
	return &UserDispersing{inv: inv, base: base}
}

func (p *UserDispersing) Name() string { return UserDispersingName }

func (p *UserDispersing) OrderClusters(ctx context.Context, profile *types.WorkloadProfile, plan types.DeploymentPlan, exclude *types.ExcludeList) ([]*types.Cluster, error) {
	preferred, overloaded, err := p.base.order(ctx, plan, exclude)
	if err != nil {
		return nil, err
	}
	if profile.OwnerID == "" {
		return append(preferred, overloaded...), nil
	}

	counts := make(map[string]int, len(preferred)+len(overloaded))
	for _, c := range append(append([]*types.Cluster{}, preferred...), overloaded...) {
		workloads, err := p.inv.ListWorkloads(ctx, c.Scope())
		if err != nil {
			return nil, fmt.Errorf("failed to list workloads of cluster %s: %w", c.ID, err)
		}
		for _, w := range workloads {
			if w.OwnerID == profile.OwnerID && w.ID != profile.ID {
				counts[c.ID]++
			}
		}
	}

	byOwnerCount := func(cs []*types.Cluster) {
		sort.SliceStable(cs, func(i, j int) bool {
			return counts[cs[i].ID] < counts[cs[j].ID]
		})
	}
	byOwnerCount(preferred)
	byOwnerCount(overloaded)
	return append(preferred, overloaded...), nil
}
