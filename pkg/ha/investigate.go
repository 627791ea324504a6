package ha

import (
	"context"
	"fmt"

	"github.com/cuemby/paddock/pkg/agent"
	"github.com/cuemby/paddock/pkg/health"
	"github.com/cuemby/paddock/pkg/inventory"
	"github.com/cuemby/paddock/pkg/types"
)

// Investigator judges whether a host is really down. It must be
// conservative: anything short of proof is StatusUnknown.
type Investigator interface {
	Name() string
	Investigate(ctx context.Context, host *types.ResourceCandidate) (types.Status, error)
}

// ProbeFactory builds the health checker used to reach a host's agent
type ProbeFactory func(host *types.ResourceCandidate) health.Checker

// TCPProbe dials the host's address
func TCPProbe(host *types.ResourceCandidate) health.Checker {
	return health.NewTCPChecker(host.Address)
}

// HTTPProbe asks the host agent's health route at path
func HTTPProbe(path string) ProbeFactory {
	return func(host *types.ResourceCandidate) health.Checker {
		return health.NewHTTPChecker(host.Address, path)
	}
}

// ProbeFor resolves the configured probe kind, TCPProbe unless kind is http
func ProbeFor(kind, path string) ProbeFactory {
	if kind == "http" {
		return HTTPProbe(path)
	}
	return TCPProbe
}

// AgentInvestigator probes the host agent directly. A successful probe
// proves the host is up; a failed one proves nothing.
type AgentInvestigator struct {
	probe ProbeFactory
}

// NewAgentInvestigator creates an investigator using probe, TCPProbe when nil
func NewAgentInvestigator(probe ProbeFactory) *AgentInvestigator {
	if probe == nil {
		probe = TCPProbe
	}
	return &AgentInvestigator{probe: probe}
}

func (a *AgentInvestigator) Name() string { return "agent" }

func (a *AgentInvestigator) Investigate(ctx context.Context, host *types.ResourceCandidate) (types.Status, error) {
	if host.Address == "" {
		return types.StatusUnknown, nil
	}
	if a.probe(host).Check(ctx).Healthy {
		return types.StatusUp, nil
	}
	return types.StatusUnknown, nil
}

// NeighborInvestigator asks the other up hosts of the cluster to ping the
// suspect. One positive answer means up; down needs at least one neighbor
// that answered and none that could reach the host.
type NeighborInvestigator struct {
	inv  inventory.Inventory
	exec agent.Executor
}

// NewNeighborInvestigator creates a neighbor-ping investigator
func NewNeighborInvestigator(inv inventory.Inventory, exec agent.Executor) *NeighborInvestigator {
	return &NeighborInvestigator{inv: inv, exec: exec}
}

func (n *NeighborInvestigator) Name() string { return "neighbor" }

func (n *NeighborInvestigator) Investigate(ctx context.Context, host *types.ResourceCandidate) (types.Status, error) {
	neighbors, err := upNeighbors(ctx, n.inv, host)
	if err != nil {
		return types.StatusUnknown, err
	}

	answered := 0
	for _, nb := range neighbors {
		answer, err := n.exec.Apply(ctx, destinationOf(nb), types.Command{
			Type:         types.CommandPingHost,
			TargetHostID: host.ID,
		})
		if err != nil {
			continue
		}
		answered++
		if answer.Result {
			return types.StatusUp, nil
		}
	}
	if answered == 0 {
		return types.StatusUnknown, nil
	}
	return types.StatusDown, nil
}

func upNeighbors(ctx context.Context, inv inventory.Inventory, host *types.ResourceCandidate) ([]*types.ResourceCandidate, error) {
	hosts, err := inv.ListCandidateHosts(ctx, types.Scope{ZoneID: host.Scope.ZoneID, ClusterID: host.Scope.ClusterID}, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to list neighbors of %s: %w", host.ID, err)
	}
	var out []*types.ResourceCandidate
	for _, h := range hosts {
		if h.ID != host.ID && h.Status == types.ResourceUp {
			out = append(out, h)
		}
	}
	return out, nil
}

func destinationOf(h *types.ResourceCandidate) types.Destination {
	return types.Destination{
		ZoneID:    h.Scope.ZoneID,
		PodID:     h.Scope.PodID,
		ClusterID: h.Scope.ClusterID,
		HostID:    h.ID,
	}
}
