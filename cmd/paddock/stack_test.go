package main

import (
	"context"
	"testing"

	"github.com/cuemby/paddock/pkg/config"
	"github.com/cuemby/paddock/pkg/drs"
	"github.com/cuemby/paddock/pkg/inventory"
	"github.com/cuemby/paddock/pkg/storage"
	"github.com/cuemby/paddock/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const fixture = `
clusters:
  - {id: c1, zone: z1, pod: p1}
hosts:
  - {id: h1, cluster: c1, capacity: {cpu: {total: 8, used: 2}, memory: {total: 100, used: 100}}}
  - {id: h2, cluster: c1, capacity: {cpu: {total: 8, used: 1}, memory: {total: 100, used: 20}}}
storagePools:
  - {id: sp1, cluster: c1, capacity: {storage: {total: 1000, used: 20}}}
workloads:
  - {id: vm-1, zone: z1, host: h1, pool: sp1, state: running, requirements: {cpu: 2, memory: 100, storage: 10}}
  - {id: vm-2, zone: z1, host: h2, pool: sp1, state: running, requirements: {cpu: 1, memory: 20, storage: 10}}
  - {id: vm-new, zone: z1, requirements: {cpu: 1, memory: 10, storage: 10}}
`

func newTestStack(t *testing.T) *stack {
	t.Helper()
	inv, err := inventory.Parse([]byte(fixture))
	require.NoError(t, err)
	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	s, err := buildStack(config.Default(), inv, store, nil, nil)
	require.NoError(t, err)
	return s
}

func TestBuildStackPlansAndReserves(t *testing.T) {
	s := newTestStack(t)
	ctx := context.Background()

	w, err := s.inv.GetWorkload(ctx, "vm-new")
	require.NoError(t, err)

	dest, err := s.deployer.PlanDeployment(ctx, w, types.DeploymentPlan{ZoneID: "z1"}, nil, "")
	require.NoError(t, err)
	assert.Equal(t, "h2", dest.HostID)
	assert.Equal(t, "sp1", dest.PoolID)

	r, err := s.deployer.Deploy(ctx, w, types.DeploymentPlan{ZoneID: "z1"}, nil, "")
	require.NoError(t, err)
	_, err = s.deployer.ConfirmReservation(ctx, r.Token)
	require.NoError(t, err)

	h2, err := s.inv.GetHost(ctx, "h2")
	require.NoError(t, err)
	assert.Equal(t, 30.0, h2.Capacity.Memory.Used)
}

func TestBuildStackScoresClusters(t *testing.T) {
	s := newTestStack(t)

	score, err := s.rebalancer.GetClusterImbalance(context.Background(), "c1")
	require.NoError(t, err)
	// h1 is past the skip threshold, leaving h2 alone in the comparison
	assert.NotEqual(t, drs.NoScore, score)
	assert.Zero(t, score)
}

func TestBuildStackRejectsUnknownOrdering(t *testing.T) {
	inv, err := inventory.Parse([]byte(fixture))
	require.NoError(t, err)
	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	cfg := config.Default()
	cfg.Planner.HostAllocator = "nope"
	_, err = buildStack(cfg, inv, store, nil, nil)
	assert.Error(t, err)
}

func TestTrimFloat(t *testing.T) {
	tests := map[float64]string{
		4:    "4",
		2.5:  "2.5",
		0.25: "0.25",
		0:    "0",
	}
	for in, want := range tests {
		assert.Equal(t, want, trimFloat(in))
	}
}
