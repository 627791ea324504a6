/*
Package storage provides BoltDB-backed persistence for the scheduler's own state.

Paddock does not own inventory records (hosts, pools, workloads); those belong
to the inventory collaborator. What it does own must survive a restart:

	┌──────────────── <dataDir>/paddock.db ────────────────┐
	│                                                       │
	│  ha_work_items       (work item ID)  → HAWorkItem     │
	│  reservations        (token)         → Reservation    │
	│  allocator_cursors   (scope key)     → uint64 (BE)    │
	│                                                       │
	└───────────────────────────────────────────────────────┘

Work items keep their Step so an in-flight recovery resumes where it stopped
rather than being dropped or duplicated. Reservations are swept by the
planning manager once their TTL passes unconfirmed. Round-robin allocators
persist their cursor so distribution does not restart from the first host
after every process restart.

# Usage

	store, err := storage.NewBoltStore("/var/lib/paddock")
	if err != nil {
		return err
	}
	defer store.Close()

	item := types.NewHAWorkItem("vm-1", "host-1", types.WorkHA, true)
	if err := store.SaveWorkItem(item); err != nil {
		return err
	}

	active, err := store.ListNonTerminalWorkItems()

Lookups of missing records return an error wrapping types.ErrNotFound.

# Replication

In a multi-manager deployment the BoltStore is not written directly. The
manager package wraps it in a raft FSM and exposes the same Store interface,
routing every write through the replicated log.
*/
package storage
