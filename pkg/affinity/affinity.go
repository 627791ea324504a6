package affinity

import (
	"context"
	"fmt"

	"github.com/cuemby/paddock/pkg/inventory"
	"github.com/cuemby/paddock/pkg/types"
)

// Processor narrows a plan or extends the exclude list for one kind of
// affinity rule. Processors run before the planner.
type Processor interface {
	Name() string
	Process(ctx context.Context, profile *types.WorkloadProfile, plan *types.DeploymentPlan, exclude *types.ExcludeList) error
}

// Defaults returns the processors every planning attempt runs
func Defaults(inv inventory.Inventory) []Processor {
	return []Processor{NewHostAffinity(inv), NewHostAntiAffinity(inv)}
}

// peerHosts returns the hosts of the group's other placed members
func peerHosts(ctx context.Context, inv inventory.Inventory, profile *types.WorkloadProfile, groupID string) ([]string, error) {
	members, err := inv.ListAffinityGroupMembers(ctx, groupID)
	if err != nil {
		return nil, fmt.Errorf("failed to list affinity group %s: %w", groupID, err)
	}

	seen := make(map[string]bool)
	var hosts []string
	for _, m := range members {
		if m.ID == profile.ID || m.HostID == "" || seen[m.HostID] {
			continue
		}
		seen[m.HostID] = true
		hosts = append(hosts, m.HostID)
	}
	return hosts, nil
}

// HostAffinity keeps members of a host-affinity group on one host
type HostAffinity struct {
	inv inventory.Inventory
}

// NewHostAffinity creates the host-affinity processor
func NewHostAffinity(inv inventory.Inventory) *HostAffinity {
	return &HostAffinity{inv: inv}
}

func (p *HostAffinity) Name() string { return string(types.AffinityHost) }

func (p *HostAffinity) Process(ctx context.Context, profile *types.WorkloadProfile, plan *types.DeploymentPlan, exclude *types.ExcludeList) error {
	for _, g := range profile.AffinityGroups {
		if g.Type != types.AffinityHost {
			continue
		}

		hosts, err := peerHosts(ctx, p.inv, profile, g.ID)
		if err != nil {
			return err
		}
		if len(hosts) == 0 {
			continue
		}
		if len(hosts) > 1 {
			return fmt.Errorf("group %s members run on %d hosts: %w", g.ID, len(hosts), types.ErrAffinityConflict)
		}

		target := hosts[0]
		if plan.HostID != "" && plan.HostID != target {
			return fmt.Errorf("group %s requires host %s, plan pins %s: %w", g.ID, target, plan.HostID, types.ErrAffinityConflict)
		}
		if exclude.IsHostExcluded(target) {
			return fmt.Errorf("group %s requires excluded host %s: %w", g.ID, target, types.ErrAffinityConflict)
		}

		host, err := p.inv.GetHost(ctx, target)
		if err != nil {
			return fmt.Errorf("failed to get host %s: %w", target, err)
		}
		if plan.ClusterID != "" && plan.ClusterID != host.Scope.ClusterID {
			return fmt.Errorf("group %s requires cluster %s, plan pins %s: %w", g.ID, host.Scope.ClusterID, plan.ClusterID, types.ErrAffinityConflict)
		}

		plan.HostID = target
		plan.ClusterID = host.Scope.ClusterID
		plan.PodID = host.Scope.PodID
	}
	return nil
}

// HostAntiAffinity keeps members of a host-anti-affinity group on distinct hosts
type HostAntiAffinity struct {
	inv inventory.Inventory
}

// NewHostAntiAffinity creates the host-anti-affinity processor
func NewHostAntiAffinity(inv inventory.Inventory) *HostAntiAffinity {
	return &HostAntiAffinity{inv: inv}
}

func (p *HostAntiAffinity) Name() string { return string(types.AntiAffinityHost) }

func (p *HostAntiAffinity) Process(ctx context.Context, profile *types.WorkloadProfile, plan *types.DeploymentPlan, exclude *types.ExcludeList) error {
	for _, g := range profile.AffinityGroups {
		if g.Type != types.AntiAffinityHost {
			continue
		}

		hosts, err := peerHosts(ctx, p.inv, profile, g.ID)
		if err != nil {
			return err
		}
		for _, h := range hosts {
			if plan.HostID == h {
				return fmt.Errorf("group %s peer already runs on pinned host %s: %w", g.ID, h, types.ErrAffinityConflict)
			}
			exclude.AddHost(h)
		}
	}
	return nil
}
