// Package affinity implements the affinity processors that run before a
// planner: host affinity pins a workload to the host its group peers use,
// host anti-affinity excludes every host a peer already runs on. Both fail
// with types.ErrAffinityConflict when the rules cannot be satisfied together
// with the plan's pins.
package affinity
