/*
Package ha implements the high-availability recovery engine.

Every recovery action is an HAWorkItem persisted through a WorkItemStore.
The Engine drives items through a fixed state machine:

	Scheduled -> Investigating -> Fencing -> Stopping -> Restarting -> Done
	Scheduled -> Stopping -> Done                 (stop, force stop, destroy)
	Scheduled -> Migrating -> Done                (migration)

	Investigating -> Done    host proved up
	any step      -> Error   retries or the cancel interval exhausted
	any step      -> Cancelled

A host is never fenced on an inconclusive investigation: an item stays at
Investigating, counting retries, until an Investigator proves the host down
or the retry budget ends the item in Error. Error and Cancelled are terminal
and never resumed; an operator schedules a new item instead.

# Scheduling

Schedule calls are idempotent per workload and work type. A second
ScheduleRestart for a workload with a pending HA item returns that item.

	item, err := engine.ScheduleRestart(ctx, workload, true)

HandleHostDown schedules an investigated HA item for every workload on a
suspected host. Only HA-enabled workloads are restarted; the rest are
stopped once the host is fenced.

# Concurrency

Items are processed by a pool of workers. Each step runs under the
workload's lease, the same lease the planner takes when it reserves, so a
rebalance and a restart never act on one workload at once. Lease contention
reschedules the item without spending a retry.

Cancellation is cooperative. Cancelling an item a worker holds sets a flag
that the worker honors at the next step boundary; the step in progress
completes first.

# Background loops

Start runs the workers, a scan loop every PingInterval that checks host
status and dispatches due items, and a cleanup loop that deletes terminal
items older than VmOpCleanupWait. With a Leader configured, the loops only
act on the raft leader.
*/
package ha
