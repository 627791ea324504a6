// Package lease provides per-workload mutual exclusion. Only one planning
// attempt or HA action may hold a workload at a time; a caller that cannot
// take the lease within the configured attempts gets types.ErrLockContention
// instead of blocking the HA scan. Leases are reentrant for an owner carried
// in the context, which lets an HA worker that holds a workload call into the
// planning manager for the same workload.
package lease
