package inventory

import (
	"context"

	"github.com/cuemby/paddock/pkg/types"
)

// Inventory is the scheduler's view of the resource owner. Candidates are
// read snapshots; Reserve re-validates capacity at commit time.
type Inventory interface {
	ListCandidateHosts(ctx context.Context, scope types.Scope, tags []string) ([]*types.ResourceCandidate, error)
	ListCandidateStoragePools(ctx context.Context, scope types.Scope, tags []string) ([]*types.ResourceCandidate, error)
	GetHost(ctx context.Context, id string) (*types.ResourceCandidate, error)
	GetStoragePool(ctx context.Context, id string) (*types.ResourceCandidate, error)

	GetCluster(ctx context.Context, id string) (*types.Cluster, error)
	// ListClusters returns the clusters of a zone, or every cluster for ""
	ListClusters(ctx context.Context, zoneID string) ([]*types.Cluster, error)

	GetWorkload(ctx context.Context, id string) (*types.WorkloadProfile, error)
	// ListWorkloads returns workloads whose host lies in scope
	ListWorkloads(ctx context.Context, scope types.Scope) ([]*types.WorkloadProfile, error)
	ListWorkloadsByHost(ctx context.Context, hostID string) ([]*types.WorkloadProfile, error)
	ListAffinityGroupMembers(ctx context.Context, groupID string) ([]*types.WorkloadProfile, error)

	// Reserve holds the profile's requirements on a host or pool
	Reserve(ctx context.Context, candidateID string, profile *types.WorkloadProfile) (string, error)
	// Release drops an unconfirmed reservation
	Release(ctx context.Context, token string) error
	// Commit turns a reservation into usage
	Commit(ctx context.Context, token string) error
}
