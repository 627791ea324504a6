package agent

import (
	"context"
	"fmt"
	"sync"

	"github.com/cuemby/paddock/pkg/inventory"
	"github.com/cuemby/paddock/pkg/log"
	"github.com/cuemby/paddock/pkg/types"
	"github.com/rs/zerolog"
)

// Executor sends commands to the agent on a host. An error means the command
// could not be delivered or timed out; a delivered command that failed
// returns an Answer with Result false.
type Executor interface {
	Apply(ctx context.Context, dest types.Destination, cmd types.Command) (types.Answer, error)
}

// Simulated executes commands against a Memory inventory. Hosts that are not
// up, or that were marked unreachable, time out. ForceStop and Destroy are
// control-plane cleanups and succeed without reaching the host.
type Simulated struct {
	inv         *inventory.Memory
	mu          sync.Mutex
	unreachable map[string]bool
	failures    map[types.CommandType]int
	history     []types.Command
	logger      zerolog.Logger
}

// NewSimulated creates a simulated executor over inv
func NewSimulated(inv *inventory.Memory) *Simulated {
	return &Simulated{
		inv:         inv,
		unreachable: make(map[string]bool),
		failures:    make(map[types.CommandType]int),
		logger:      log.WithComponent("agent"),
	}
}

// SetReachable simulates a network partition between the control plane and a host
func (s *Simulated) SetReachable(hostID string, reachable bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if reachable {
		delete(s.unreachable, hostID)
	} else {
		s.unreachable[hostID] = true
	}
}

// FailNext makes the next n commands of a type answer with Result false
func (s *Simulated) FailNext(cmdType types.CommandType, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[cmdType] = n
}

// History returns the commands applied so far
func (s *Simulated) History() []types.Command {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]types.Command, len(s.history))
	copy(out, s.history)
	return out
}

// Sent reports how many commands of a type were applied
func (s *Simulated) Sent(cmdType types.CommandType) int {
	n := 0
	for _, c := range s.History() {
		if c.Type == cmdType {
			n++
		}
	}
	return n
}

func (s *Simulated) Apply(ctx context.Context, dest types.Destination, cmd types.Command) (types.Answer, error) {
	if err := ctx.Err(); err != nil {
		return types.Answer{}, err
	}

	s.mu.Lock()
	s.history = append(s.history, cmd)
	fail := s.failures[cmd.Type] > 0
	if fail {
		s.failures[cmd.Type]--
	}
	s.mu.Unlock()

	s.logger.Debug().
		Str("command", string(cmd.Type)).
		Str("host_id", dest.HostID).
		Str("workload_id", cmd.WorkloadID).
		Msg("applying command")

	needsHost := cmd.Type != types.CommandForceStop && cmd.Type != types.CommandDestroy
	if needsHost && !s.reachable(ctx, dest.HostID) {
		return types.Answer{}, fmt.Errorf("%s to host %s: %w", cmd.Type, dest.HostID, types.ErrTimeout)
	}
	if fail {
		return types.Answer{Result: false, Details: "injected failure"}, nil
	}

	switch cmd.Type {
	case types.CommandStart, types.CommandMigrate:
		target := cmd.Destination
		if target.HostID == "" {
			target = dest
		}
		if err := s.inv.PlaceWorkload(cmd.WorkloadID, target); err != nil {
			return types.Answer{Result: false, Details: err.Error()}, nil
		}
		return types.Answer{Result: true, State: types.WorkloadRunning}, nil

	case types.CommandStop, types.CommandForceStop:
		if err := s.inv.EvictWorkload(cmd.WorkloadID, types.WorkloadStopped); err != nil {
			return types.Answer{Result: false, Details: err.Error()}, nil
		}
		return types.Answer{Result: true, State: types.WorkloadStopped}, nil

	case types.CommandDestroy:
		if err := s.inv.EvictWorkload(cmd.WorkloadID, types.WorkloadDestroyed); err != nil {
			return types.Answer{Result: false, Details: err.Error()}, nil
		}
		return types.Answer{Result: true, State: types.WorkloadDestroyed}, nil

	case types.CommandCheckState:
		w, err := s.inv.GetWorkload(ctx, cmd.WorkloadID)
		if err != nil {
			return types.Answer{Result: false, Details: err.Error()}, nil
		}
		state := types.WorkloadStopped
		if w.HostID == dest.HostID && w.State == types.WorkloadRunning {
			state = types.WorkloadRunning
		}
		return types.Answer{Result: true, State: state}, nil

	case types.CommandPingHost:
		if s.reachable(ctx, cmd.TargetHostID) {
			return types.Answer{Result: true, Details: "reachable"}, nil
		}
		return types.Answer{Result: false, Details: "unreachable"}, nil

	case types.CommandFence:
		if err := s.inv.SetHostStatus(cmd.TargetHostID, types.ResourceDown); err != nil {
			return types.Answer{Result: false, Details: err.Error()}, nil
		}
		return types.Answer{Result: true, Details: "fenced"}, nil
	}

	return types.Answer{Result: false, Details: "unsupported command"}, nil
}

func (s *Simulated) reachable(ctx context.Context, hostID string) bool {
	s.mu.Lock()
	cut := s.unreachable[hostID]
	s.mu.Unlock()
	if cut {
		return false
	}
	h, err := s.inv.GetHost(ctx, hostID)
	return err == nil && h.Status == types.ResourceUp
}
