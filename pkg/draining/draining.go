package draining

import (
	"context"
	"fmt"

	"github.com/cuemby/paddock/pkg/inventory"
	"github.com/cuemby/paddock/pkg/log"
	"github.com/cuemby/paddock/pkg/types"
)

// IsClusterDraining reports whether a cluster is disabled and flagged to drain
func IsClusterDraining(c *types.Cluster) bool {
	return c != nil && c.Draining && c.AllocationState == types.AllocationDisabled
}

// Manager answers draining questions against the inventory
type Manager struct {
	inv inventory.Inventory
}

// NewManager creates a draining manager
func NewManager(inv inventory.Inventory) *Manager {
	return &Manager{inv: inv}
}

// AddDrainingToAvoids excludes every draining cluster of the zone
func (m *Manager) AddDrainingToAvoids(ctx context.Context, zoneID string, exclude *types.ExcludeList) error {
	clusters, err := m.inv.ListClusters(ctx, zoneID)
	if err != nil {
		return fmt.Errorf("failed to list clusters: %w", err)
	}
	for _, c := range clusters {
		if IsClusterDraining(c) {
			exclude.AddCluster(c.ID)
			logger := log.WithClusterID(c.ID)
			logger.Debug().Msg("excluding draining cluster")
		}
	}
	return nil
}

// ShouldDrainHost reports whether the host is disabled itself or sits in a
// draining cluster
func (m *Manager) ShouldDrainHost(ctx context.Context, hostID string) (bool, error) {
	host, err := m.inv.GetHost(ctx, hostID)
	if err != nil {
		return false, fmt.Errorf("failed to get host: %w", err)
	}
	if host.AllocationState == types.AllocationDisabled {
		return true, nil
	}

	cluster, err := m.inv.GetCluster(ctx, host.Scope.ClusterID)
	if err != nil {
		return false, fmt.Errorf("failed to get cluster: %w", err)
	}
	return IsClusterDraining(cluster), nil
}

// DrainingClusters lists the draining clusters of a zone, or of every zone for ""
func (m *Manager) DrainingClusters(ctx context.Context, zoneID string) ([]*types.Cluster, error) {
	clusters, err := m.inv.ListClusters(ctx, zoneID)
	if err != nil {
		return nil, fmt.Errorf("failed to list clusters: %w", err)
	}
	var out []*types.Cluster
	for _, c := range clusters {
		if IsClusterDraining(c) {
			out = append(out, c)
		}
	}
	return out, nil
}
