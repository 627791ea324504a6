package manager

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/cuemby/paddock/pkg/storage"
	"github.com/cuemby/paddock/pkg/types"
	"github.com/hashicorp/raft"
)

// Raft command ops
const (
	opSaveWorkItem      = "save_work_item"
	opDeleteWorkItem    = "delete_work_item"
	opSaveReservation   = "save_reservation"
	opDeleteReservation = "delete_reservation"
	opSetCursor         = "set_cursor"
)

// FSM implements the Raft Finite State Machine for the scheduler's own state.
// It applies log entries to the local store and handles snapshots.
type FSM struct {
	mu    sync.RWMutex
	store storage.Store
}

// NewFSM creates a new FSM instance
func NewFSM(store storage.Store) *FSM {
	return &FSM{
		store: store,
	}
}

// Command represents a state change operation in the Raft log
type Command struct {
	Op   string          `json:"op"`
	Data json.RawMessage `json:"data"`
}

type cursorUpdate struct {
	Key   string `json:"key"`
	Value uint64 `json:"value"`
}

// Apply applies a Raft log entry to the FSM
func (f *FSM) Apply(log *raft.Log) interface{} {
	var cmd Command
	if err := json.Unmarshal(log.Data, &cmd); err != nil {
		return fmt.Errorf("failed to unmarshal command: %w", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	switch cmd.Op {
	case opSaveWorkItem:
		var item types.HAWorkItem
		if err := json.Unmarshal(cmd.Data, &item); err != nil {
			return err
		}
		return f.store.SaveWorkItem(&item)

	case opDeleteWorkItem:
		var id string
		if err := json.Unmarshal(cmd.Data, &id); err != nil {
			return err
		}
		return f.store.DeleteWorkItem(id)

	case opSaveReservation:
		var r types.Reservation
		if err := json.Unmarshal(cmd.Data, &r); err != nil {
			return err
		}
		return f.store.SaveReservation(&r)

	case opDeleteReservation:
		var token string
		if err := json.Unmarshal(cmd.Data, &token); err != nil {
			return err
		}
		return f.store.DeleteReservation(token)

	case opSetCursor:
		var c cursorUpdate
		if err := json.Unmarshal(cmd.Data, &c); err != nil {
			return err
		}
		return f.store.SetCursor(c.Key, c.Value)

	default:
		return fmt.Errorf("unknown command: %s", cmd.Op)
	}
}

// Snapshot creates a point-in-time snapshot of the FSM
func (f *FSM) Snapshot() (raft.FSMSnapshot, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	items, err := f.store.ListWorkItems()
	if err != nil {
		return nil, fmt.Errorf("failed to list work items: %w", err)
	}

	reservations, err := f.store.ListReservations()
	if err != nil {
		return nil, fmt.Errorf("failed to list reservations: %w", err)
	}

	cursors, err := f.store.ListCursors()
	if err != nil {
		return nil, fmt.Errorf("failed to list cursors: %w", err)
	}

	return &Snapshot{
		WorkItems:    items,
		Reservations: reservations,
		Cursors:      cursors,
	}, nil
}

// Restore replaces the FSM state with a snapshot. It runs when a node
// restarts or falls too far behind the leader.
func (f *FSM) Restore(rc io.ReadCloser) error {
	defer rc.Close()

	var snapshot Snapshot
	if err := json.NewDecoder(rc).Decode(&snapshot); err != nil {
		return fmt.Errorf("failed to decode snapshot: %w", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.clear(); err != nil {
		return err
	}

	for _, item := range snapshot.WorkItems {
		if err := f.store.SaveWorkItem(item); err != nil {
			return fmt.Errorf("failed to restore work item: %w", err)
		}
	}

	for _, r := range snapshot.Reservations {
		if err := f.store.SaveReservation(r); err != nil {
			return fmt.Errorf("failed to restore reservation: %w", err)
		}
	}

	for key, value := range snapshot.Cursors {
		if err := f.store.SetCursor(key, value); err != nil {
			return fmt.Errorf("failed to restore cursor: %w", err)
		}
	}

	return nil
}

// clear drops the records a snapshot replaces. Cursors are overwritten
// key by key.
func (f *FSM) clear() error {
	items, err := f.store.ListWorkItems()
	if err != nil {
		return fmt.Errorf("failed to list work items: %w", err)
	}
	for _, item := range items {
		if err := f.store.DeleteWorkItem(item.ID); err != nil {
			return fmt.Errorf("failed to clear work item: %w", err)
		}
	}

	reservations, err := f.store.ListReservations()
	if err != nil {
		return fmt.Errorf("failed to list reservations: %w", err)
	}
	for _, r := range reservations {
		if err := f.store.DeleteReservation(r.Token); err != nil {
			return fmt.Errorf("failed to clear reservation: %w", err)
		}
	}
	return nil
}

// Snapshot is a point-in-time copy of the replicated state
type Snapshot struct {
	WorkItems    []*types.HAWorkItem  `json:"work_items"`
	Reservations []*types.Reservation `json:"reservations"`
	Cursors      map[string]uint64    `json:"cursors"`
}

// Persist writes the snapshot to the given SnapshotSink
func (s *Snapshot) Persist(sink raft.SnapshotSink) error {
	err := func() error {
		if err := json.NewEncoder(sink).Encode(s); err != nil {
			return err
		}
		return sink.Close()
	}()

	if err != nil {
		sink.Cancel()
	}

	return err
}

// Release releases the snapshot resources
func (s *Snapshot) Release() {}
