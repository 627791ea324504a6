/*
Package manager replicates the scheduler's own durable state with Raft.

Inventory is owned elsewhere; what the scheduler must not lose across a
control-plane failover is its own bookkeeping: HA work items, outstanding
reservations and round-robin allocator cursors. The Manager keeps all three
in a local BoltStore and routes every write through the Raft log, so each
manager node holds the same copy.

# Architecture

	┌──────────────────── MANAGER NODE ────────────────────┐
	│                                                       │
	│   HA engine / planner / rebalancer (leader only)      │
	│                     │ storage.Store                   │
	│   ┌─────────────────▼──────────────────┐              │
	│   │             Manager                │              │
	│   │  writes: Apply(Command) via raft   │              │
	│   │  reads:  local BoltStore           │              │
	│   └─────────────────┬──────────────────┘              │
	│   ┌─────────────────▼──────────────────┐              │
	│   │                FSM                 │              │
	│   │  Apply / Snapshot / Restore        │              │
	│   └─────────────────┬──────────────────┘              │
	│   ┌─────────────────▼──────────────────┐              │
	│   │  BoltStore (paddock.db)            │              │
	│   │  raft-log.db, raft-stable.db       │              │
	│   └────────────────────────────────────┘              │
	└───────────────────────────────────────────────────────┘

# Commands

Each Raft log entry is a JSON Command{Op, Data}:

	save_work_item       types.HAWorkItem
	delete_work_item     work item id
	save_reservation     types.Reservation
	delete_reservation   reservation token
	set_cursor           {key, value}

Snapshots carry the full set of work items, reservations and cursors.
Restore drops local work items and reservations before loading the
snapshot.

# Leadership

Only the leader accepts writes; followers return ErrNotLeader. Background
loops elsewhere take the Manager as their Leader and idle on followers.
A new node starts with Join, which asks the leader's HTTP API
(POST /v1/raft/voters) to add it as a voter.

# Usage

	mgr, err := manager.NewManager(&manager.Config{
		NodeID:   "paddock-1",
		BindAddr: "127.0.0.1:7946",
		DataDir:  "./paddock-data",
	})
	if err != nil {
		return err
	}
	if err := mgr.Bootstrap(); err != nil {
		return err
	}
	defer mgr.Shutdown()
*/
package manager
