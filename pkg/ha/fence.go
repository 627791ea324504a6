package ha

import (
	"context"
	"strings"
	"time"

	"github.com/cuemby/paddock/pkg/agent"
	"github.com/cuemby/paddock/pkg/health"
	"github.com/cuemby/paddock/pkg/inventory"
	"github.com/cuemby/paddock/pkg/types"
)

// Fencer isolates a host from shared resources. It returns true only when
// the host is known to be fenced.
type Fencer interface {
	Name() string
	Fence(ctx context.Context, host *types.ResourceCandidate) (bool, error)
}

// NeighborFencer asks an up neighbor in the cluster to fence the host
type NeighborFencer struct {
	inv  inventory.Inventory
	exec agent.Executor
}

// NewNeighborFencer creates a neighbor fencer
func NewNeighborFencer(inv inventory.Inventory, exec agent.Executor) *NeighborFencer {
	return &NeighborFencer{inv: inv, exec: exec}
}

func (f *NeighborFencer) Name() string { return "neighbor" }

func (f *NeighborFencer) Fence(ctx context.Context, host *types.ResourceCandidate) (bool, error) {
	neighbors, err := upNeighbors(ctx, f.inv, host)
	if err != nil {
		return false, err
	}
	for _, nb := range neighbors {
		answer, err := f.exec.Apply(ctx, destinationOf(nb), types.Command{
			Type:         types.CommandFence,
			TargetHostID: host.ID,
		})
		if err == nil && answer.Result {
			return true, nil
		}
	}
	return false, nil
}

// ExecFencer runs an out-of-band command such as an IPMI power-off. The
// placeholders {host} and {address} in the command are replaced, and
// PADDOCK_HOST_ID and PADDOCK_HOST_ADDRESS are set in its environment.
type ExecFencer struct {
	command []string
	timeout time.Duration
}

// NewExecFencer creates a command fencer
func NewExecFencer(command []string, timeout time.Duration) *ExecFencer {
	return &ExecFencer{command: command, timeout: timeout}
}

func (f *ExecFencer) Name() string { return "exec" }

func (f *ExecFencer) Fence(ctx context.Context, host *types.ResourceCandidate) (bool, error) {
	if len(f.command) == 0 {
		return false, nil
	}

	replacer := strings.NewReplacer("{host}", host.ID, "{address}", host.Address)
	args := make([]string, len(f.command))
	for i, a := range f.command {
		args[i] = replacer.Replace(a)
	}

	checker := health.NewExecChecker(args).WithEnv(
		"PADDOCK_HOST_ID="+host.ID,
		"PADDOCK_HOST_ADDRESS="+host.Address,
	)
	if f.timeout > 0 {
		checker.WithTimeout(f.timeout)
	}
	return checker.Check(ctx).Healthy, nil
}
