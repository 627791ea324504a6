/*
Package types defines the data model shared by the placement, HA and DRS
subsystems of Paddock.

Resources are described as ResourceCandidate snapshots (hosts and storage
pools) located by a Scope (zone/pod/cluster). Workloads are described by a
WorkloadProfile, which the scheduler only reads. A DeploymentPlan pins parts of
the scope for one planning attempt and an ExcludeList carries the hard
exclusions of that attempt:

	plan := types.DeploymentPlan{ZoneID: "zone-1"}
	avoid := types.NewExcludeList()
	avoid.AddCluster("cluster-2") // every host and pool of cluster-2 is excluded

Recovery state is carried by HAWorkItem, a durable record whose Step walks the
HA state machine until it reaches Done, Cancelled or Error.

Errors follow a small taxonomy (ErrInsufficientCapacity, ErrAffinityConflict,
ErrResourceUnavailable, ErrLockContention, ErrTimeout) that callers match with
errors.Is.
*/
package types
