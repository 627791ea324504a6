package manager

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/cuemby/paddock/pkg/client"
	"github.com/cuemby/paddock/pkg/log"
	"github.com/cuemby/paddock/pkg/storage"
	"github.com/cuemby/paddock/pkg/types"
	"github.com/hashicorp/raft"
	raftboltdb "github.com/hashicorp/raft-boltdb"
	"github.com/rs/zerolog"
)

const applyTimeout = 5 * time.Second

// ErrNotLeader is returned for writes on a follower
var ErrNotLeader = errors.New("not the raft leader")

// Manager replicates the scheduler's own state through raft. It satisfies
// storage.Store: writes go through the raft log, reads hit the local store.
type Manager struct {
	nodeID   string
	bindAddr string
	dataDir  string

	raft   *raft.Raft
	fsm    *FSM
	store  *storage.BoltStore
	logger zerolog.Logger
}

// Config holds configuration for creating a Manager
type Config struct {
	NodeID   string
	BindAddr string
	DataDir  string
}

// NewManager creates a new Manager instance
func NewManager(cfg *Config) (*Manager, error) {
	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	store, err := storage.NewBoltStore(cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to create store: %w", err)
	}

	return &Manager{
		nodeID:   cfg.NodeID,
		bindAddr: cfg.BindAddr,
		dataDir:  cfg.DataDir,
		fsm:      NewFSM(store),
		store:    store,
		logger:   log.WithComponent("manager"),
	}, nil
}

// setupRaft creates the raft instance and returns its transport
func (m *Manager) setupRaft() (raft.Transport, error) {
	config := raft.DefaultConfig()
	config.LocalID = raft.ServerID(m.nodeID)

	// Tuned for LAN control planes: followers notice a lost leader within
	// 500ms and a new one is elected in about a second.
	config.HeartbeatTimeout = 500 * time.Millisecond
	config.ElectionTimeout = 500 * time.Millisecond
	config.CommitTimeout = 50 * time.Millisecond
	config.LeaderLeaseTimeout = 250 * time.Millisecond

	addr, err := net.ResolveTCPAddr("tcp", m.bindAddr)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve bind address: %w", err)
	}

	transport, err := raft.NewTCPTransport(m.bindAddr, addr, 3, 10*time.Second, os.Stderr)
	if err != nil {
		return nil, fmt.Errorf("failed to create transport: %w", err)
	}

	snapshotStore, err := raft.NewFileSnapshotStore(m.dataDir, 2, os.Stderr)
	if err != nil {
		return nil, fmt.Errorf("failed to create snapshot store: %w", err)
	}

	logStore, err := raftboltdb.NewBoltStore(filepath.Join(m.dataDir, "raft-log.db"))
	if err != nil {
		return nil, fmt.Errorf("failed to create log store: %w", err)
	}

	stableStore, err := raftboltdb.NewBoltStore(filepath.Join(m.dataDir, "raft-stable.db"))
	if err != nil {
		return nil, fmt.Errorf("failed to create stable store: %w", err)
	}

	r, err := raft.NewRaft(config, m.fsm, logStore, stableStore, snapshotStore, transport)
	if err != nil {
		return nil, fmt.Errorf("failed to create raft: %w", err)
	}
	m.raft = r
	return transport, nil
}

// Bootstrap initializes a single-node raft cluster. A node that already
// has raft state just rejoins its old configuration.
func (m *Manager) Bootstrap() error {
	transport, err := m.setupRaft()
	if err != nil {
		return err
	}

	configuration := raft.Configuration{
		Servers: []raft.Server{
			{
				ID:      raft.ServerID(m.nodeID),
				Address: transport.LocalAddr(),
			},
		},
	}

	future := m.raft.BootstrapCluster(configuration)
	if err := future.Error(); err != nil && !errors.Is(err, raft.ErrCantBootstrap) {
		return fmt.Errorf("failed to bootstrap cluster: %w", err)
	}

	m.logger.Info().
		Str("node_id", m.nodeID).
		Str("bind_addr", m.bindAddr).
		Msg("raft cluster bootstrapped")
	return nil
}

// Join starts raft and asks the leader's HTTP API to add this node as a voter
func (m *Manager) Join(ctx context.Context, leaderHTTPAddr string) error {
	if _, err := m.setupRaft(); err != nil {
		return err
	}

	c, err := client.NewClient(leaderHTTPAddr, "")
	if err != nil {
		return fmt.Errorf("failed to connect to leader: %w", err)
	}
	defer c.Close()

	if err := c.JoinCluster(ctx, m.nodeID, m.bindAddr); err != nil {
		return fmt.Errorf("failed to join cluster via %s: %w", leaderHTTPAddr, err)
	}

	m.logger.Info().
		Str("node_id", m.nodeID).
		Str("leader", leaderHTTPAddr).
		Msg("joined raft cluster")
	return nil
}

// WaitForLeader blocks until a leader is known or ctx is done
func (m *Manager) WaitForLeader(ctx context.Context) error {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for {
		if m.LeaderAddr() != "" {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("no raft leader elected: %w", types.ErrTimeout)
		case <-ticker.C:
		}
	}
}

// AddVoter adds a new manager node to the Raft cluster
func (m *Manager) AddVoter(nodeID, address string) error {
	if m.raft == nil {
		return fmt.Errorf("raft not initialized")
	}

	if !m.IsLeader() {
		return fmt.Errorf("%w, current leader: %s", ErrNotLeader, m.LeaderAddr())
	}

	future := m.raft.AddVoter(raft.ServerID(nodeID), raft.ServerAddress(address), 0, 10*time.Second)
	if err := future.Error(); err != nil {
		return fmt.Errorf("failed to add voter: %w", err)
	}

	m.logger.Info().
		Str("voter_id", nodeID).
		Str("address", address).
		Msg("voter added")
	return nil
}

// RemoveServer removes a server from the Raft cluster
func (m *Manager) RemoveServer(nodeID string) error {
	if m.raft == nil {
		return fmt.Errorf("raft not initialized")
	}

	if !m.IsLeader() {
		return ErrNotLeader
	}

	future := m.raft.RemoveServer(raft.ServerID(nodeID), 0, 10*time.Second)
	if err := future.Error(); err != nil {
		return fmt.Errorf("failed to remove server: %w", err)
	}

	return nil
}

// GetClusterServers returns information about all servers in the Raft cluster
func (m *Manager) GetClusterServers() ([]raft.Server, error) {
	if m.raft == nil {
		return nil, fmt.Errorf("raft not initialized")
	}

	future := m.raft.GetConfiguration()
	if err := future.Error(); err != nil {
		return nil, fmt.Errorf("failed to get configuration: %w", err)
	}

	return future.Configuration().Servers, nil
}

// IsLeader returns true if this manager is the Raft leader
func (m *Manager) IsLeader() bool {
	if m.raft == nil {
		return false
	}
	return m.raft.State() == raft.Leader
}

// LeaderAddr returns the address of the current Raft leader
func (m *Manager) LeaderAddr() string {
	if m.raft == nil {
		return ""
	}
	addr, _ := m.raft.LeaderWithID()
	return string(addr)
}

// GetRaftStats returns Raft statistics
func (m *Manager) GetRaftStats() map[string]interface{} {
	if m.raft == nil {
		return nil
	}

	stats := make(map[string]interface{})
	stats["state"] = m.raft.State().String()
	stats["last_log_index"] = m.raft.LastIndex()
	stats["applied_index"] = m.raft.AppliedIndex()
	stats["leader"] = m.LeaderAddr()

	return stats
}

// Apply submits a command to the Raft cluster
func (m *Manager) Apply(cmd Command) error {
	if m.raft == nil {
		return fmt.Errorf("raft not initialized")
	}

	data, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("failed to marshal command: %w", err)
	}

	future := m.raft.Apply(data, applyTimeout)
	if err := future.Error(); err != nil {
		if errors.Is(err, raft.ErrNotLeader) {
			return ErrNotLeader
		}
		return fmt.Errorf("failed to apply command: %w", err)
	}

	if resp := future.Response(); resp != nil {
		if err, ok := resp.(error); ok && err != nil {
			return err
		}
	}

	return nil
}

func (m *Manager) propose(op string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return m.Apply(Command{Op: op, Data: data})
}

// SaveWorkItem replicates an HA work item
func (m *Manager) SaveWorkItem(item *types.HAWorkItem) error {
	return m.propose(opSaveWorkItem, item)
}

// DeleteWorkItem removes an HA work item cluster-wide
func (m *Manager) DeleteWorkItem(id string) error {
	return m.propose(opDeleteWorkItem, id)
}

// SaveReservation replicates a reservation
func (m *Manager) SaveReservation(r *types.Reservation) error {
	return m.propose(opSaveReservation, r)
}

// DeleteReservation removes a reservation cluster-wide
func (m *Manager) DeleteReservation(token string) error {
	return m.propose(opDeleteReservation, token)
}

// SetCursor replicates an allocator position
func (m *Manager) SetCursor(key string, value uint64) error {
	return m.propose(opSetCursor, cursorUpdate{Key: key, Value: value})
}

// GetWorkItem retrieves a work item (read from local store)
func (m *Manager) GetWorkItem(id string) (*types.HAWorkItem, error) {
	return m.store.GetWorkItem(id)
}

// ListWorkItems returns all work items (read from local store)
func (m *Manager) ListWorkItems() ([]*types.HAWorkItem, error) {
	return m.store.ListWorkItems()
}

// ListNonTerminalWorkItems returns unfinished work items (read from local store)
func (m *Manager) ListNonTerminalWorkItems() ([]*types.HAWorkItem, error) {
	return m.store.ListNonTerminalWorkItems()
}

// GetReservation retrieves a reservation (read from local store)
func (m *Manager) GetReservation(token string) (*types.Reservation, error) {
	return m.store.GetReservation(token)
}

// ListReservations returns all reservations (read from local store)
func (m *Manager) ListReservations() ([]*types.Reservation, error) {
	return m.store.ListReservations()
}

// GetCursor reads an allocator position (read from local store)
func (m *Manager) GetCursor(key string) (uint64, error) {
	return m.store.GetCursor(key)
}

// ListCursors returns all allocator positions (read from local store)
func (m *Manager) ListCursors() (map[string]uint64, error) {
	return m.store.ListCursors()
}

// Close satisfies storage.Store; it shuts the manager down.
func (m *Manager) Close() error {
	return m.Shutdown()
}

// Shutdown gracefully shuts down the manager
func (m *Manager) Shutdown() error {
	if m.raft != nil {
		future := m.raft.Shutdown()
		if err := future.Error(); err != nil {
			return fmt.Errorf("failed to shutdown raft: %w", err)
		}
		m.raft = nil
	}

	if m.store != nil {
		if err := m.store.Close(); err != nil {
			return fmt.Errorf("failed to close store: %w", err)
		}
		m.store = nil
	}

	return nil
}

var _ storage.Store = (*Manager)(nil)
