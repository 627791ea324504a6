package drs

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cuemby/paddock/pkg/agent"
	"github.com/cuemby/paddock/pkg/allocator"
	"github.com/cuemby/paddock/pkg/config"
	"github.com/cuemby/paddock/pkg/deploy"
	"github.com/cuemby/paddock/pkg/events"
	"github.com/cuemby/paddock/pkg/inventory"
	"github.com/cuemby/paddock/pkg/lease"
	"github.com/cuemby/paddock/pkg/metrics"
	"github.com/cuemby/paddock/pkg/planner"
	"github.com/cuemby/paddock/pkg/storage"
	"github.com/cuemby/paddock/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memory used ratios 0.9, 0.5 and 0.1
const skewed = `
clusters:
  - {id: c1, zone: z1, pod: p1}
hosts:
  - {id: h1, cluster: c1, capacity: {cpu: {total: 16, used: 3}, memory: {total: 100, used: 90}}}
  - {id: h2, cluster: c1, capacity: {cpu: {total: 16, used: 1}, memory: {total: 100, used: 50}}}
  - {id: h3, cluster: c1, capacity: {cpu: {total: 16, used: 1}, memory: {total: 100, used: 10}}}
storagePools:
  - {id: sp1, cluster: c1, capacity: {storage: {total: 1000, used: 50}}}
workloads:
  - {id: vm-a, zone: z1, host: h1, pool: sp1, requirements: {cpu: 1, memory: 40, storage: 10}, affinityGroups: [{id: g1, type: host-anti-affinity}]}
  - {id: vm-b, zone: z1, host: h1, pool: sp1, requirements: {cpu: 1, memory: 30, storage: 10}}
  - {id: vm-c, zone: z1, host: h1, pool: sp1, requirements: {cpu: 1, memory: 20, storage: 10}}
  - {id: vm-d, zone: z1, host: h2, pool: sp1, requirements: {cpu: 1, memory: 50, storage: 10}}
  - {id: vm-e, zone: z1, host: h3, pool: sp1, requirements: {cpu: 1, memory: 10, storage: 10}}
`

// memory used ratios 0.8 everywhere
const even = `
clusters:
  - {id: c1, zone: z1, pod: p1}
hosts:
  - {id: h1, cluster: c1, capacity: {cpu: {total: 16, used: 2}, memory: {total: 100, used: 80}}}
  - {id: h2, cluster: c1, capacity: {cpu: {total: 16, used: 2}, memory: {total: 100, used: 80}}}
  - {id: h3, cluster: c1, capacity: {cpu: {total: 16, used: 2}, memory: {total: 100, used: 80}}}
storagePools:
  - {id: sp1, cluster: c1, capacity: {storage: {total: 1000}}}
workloads:
  - {id: vm-1, zone: z1, host: h1, pool: sp1, requirements: {cpu: 1, memory: 40}}
  - {id: vm-2, zone: z1, host: h1, pool: sp1, requirements: {cpu: 1, memory: 40}}
  - {id: vm-3, zone: z1, host: h2, pool: sp1, requirements: {cpu: 1, memory: 10}}
  - {id: vm-4, zone: z1, host: h2, pool: sp1, requirements: {cpu: 1, memory: 70}}
  - {id: vm-5, zone: z1, host: h3, pool: sp1, requirements: {cpu: 1, memory: 20}}
  - {id: vm-6, zone: z1, host: h3, pool: sp1, requirements: {cpu: 1, memory: 60}}
`

type pendingSet map[string]bool

func (p pendingSet) HasPendingHaWork(ctx context.Context, workloadID string) (bool, error) {
	return p[workloadID], nil
}

type recordingAlerts struct {
	mu    sync.Mutex
	kinds []events.AlertKind
}

func (r *recordingAlerts) Send(kind events.AlertKind, scope, message string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.kinds = append(r.kinds, kind)
}

type testEnv struct {
	drs    *Rebalancer
	inv    *inventory.Memory
	sim    *agent.Simulated
	leases *lease.Manager
	cfg    *config.Config
	alerts *recordingAlerts
}

func newTestEnv(t *testing.T, fixture string, opts Options) *testEnv {
	t.Helper()
	inv, err := inventory.Parse([]byte(fixture))
	require.NoError(t, err)
	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	leases := lease.NewManager(time.Minute, 1, time.Millisecond)
	deployer := deploy.NewManager(
		inv,
		store,
		planner.NewDefaultRegistry(inv, planner.FirstFitName, 0),
		allocator.NewHostAllocator(inv, allocator.FirstFitOrdering{}),
		allocator.NewPoolAllocator(inv, allocator.FirstFitOrdering{}),
		leases,
		deploy.Options{ReservationTTL: time.Minute, MaxDeployAttempts: 3},
	)

	cfg := config.Default()
	sim := agent.NewSimulated(inv)
	alerts := &recordingAlerts{}
	opts.Alerts = alerts
	r := NewRebalancer(inv, deployer, sim, leases, cfg, opts)
	return &testEnv{drs: r, inv: inv, sim: sim, leases: leases, cfg: cfg, alerts: alerts}
}

func (env *testEnv) hostOf(t *testing.T, id string) string {
	t.Helper()
	w, err := env.inv.GetWorkload(context.Background(), id)
	require.NoError(t, err)
	return w.HostID
}

func TestEvenClusterNeedsNoRound(t *testing.T) {
	env := newTestEnv(t, even, Options{})
	ctx := context.Background()

	score, err := env.drs.GetClusterImbalance(ctx, "c1")
	require.NoError(t, err)
	assert.InDelta(t, 0, score, 1e-9)

	round, err := env.drs.Balance(ctx, "c1", false)
	require.NoError(t, err)
	assert.Empty(t, round.Plan.Moves)
	assert.Zero(t, round.Executed)
}

func TestSkewedClusterTriggersRound(t *testing.T) {
	env := newTestEnv(t, skewed, Options{})
	ctx := context.Background()

	score, err := env.drs.GetClusterImbalance(ctx, "c1")
	require.NoError(t, err)
	assert.Greater(t, score, env.cfg.DRS.ImbalanceThreshold)

	workloads, err := env.drs.FindWorkloadsToBalance(ctx, "c1")
	require.NoError(t, err)
	assert.Len(t, workloads, 5)

	plan, err := env.drs.Plan(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, plan.Moves, 1)
	assert.Equal(t, "vm-a", plan.Moves[0].Workload.ID)
	assert.Equal(t, "h1", plan.Moves[0].SourceID)
	assert.Equal(t, "h3", plan.Moves[0].TargetID)
	assert.InDelta(t, 0, plan.After, 1e-9)
	assert.Greater(t, plan.Moves[0].Benefit, 0.0)

	round, err := env.drs.Balance(ctx, "c1", false)
	require.NoError(t, err)
	assert.Equal(t, 1, round.Executed)
	assert.Zero(t, round.Failed)
	assert.Equal(t, "h3", env.hostOf(t, "vm-a"))

	score, err = env.drs.GetClusterImbalance(ctx, "c1")
	require.NoError(t, err)
	assert.InDelta(t, 0, score, 1e-9)
	assert.Zero(t, env.inv.HeldReservations())
}

func TestDryRunMovesNothing(t *testing.T) {
	env := newTestEnv(t, skewed, Options{})

	round, err := env.drs.Balance(context.Background(), "c1", true)
	require.NoError(t, err)
	assert.True(t, round.DryRun)
	assert.Len(t, round.Plan.Moves, 1)
	assert.Zero(t, round.Executed)
	assert.Equal(t, "h1", env.hostOf(t, "vm-a"))
	assert.Zero(t, env.sim.Sent(types.CommandMigrate))
}

func TestAntiAffinityLimitsTargets(t *testing.T) {
	env := newTestEnv(t, skewed, Options{})
	env.inv.AddWorkload(&types.WorkloadProfile{
		ID:             "vm-f",
		ZoneID:         "z1",
		HostID:         "h3",
		PoolID:         "sp1",
		AffinityGroups: []types.AffinityGroup{{ID: "g1", Type: types.AntiAffinityHost}},
	})

	plan, err := env.drs.Plan(context.Background(), "c1")
	require.NoError(t, err)
	require.Len(t, plan.Moves, 1)
	assert.Equal(t, "vm-b", plan.Moves[0].Workload.ID)
	assert.Equal(t, "h3", plan.Moves[0].TargetID)
}

func TestPendingHAWorkIsNotMoved(t *testing.T) {
	env := newTestEnv(t, skewed, Options{Pending: pendingSet{"vm-a": true}})

	workloads, err := env.drs.FindWorkloadsToBalance(context.Background(), "c1")
	require.NoError(t, err)
	for _, w := range workloads {
		assert.NotEqual(t, "vm-a", w.ID)
	}

	plan, err := env.drs.Plan(context.Background(), "c1")
	require.NoError(t, err)
	require.NotEmpty(t, plan.Moves)
	assert.Equal(t, "vm-b", plan.Moves[0].Workload.ID)
}

func TestRoundSizeIsBounded(t *testing.T) {
	env := newTestEnv(t, skewed, Options{})
	env.cfg.DRS.IterationsFraction = 0.4

	plan, err := env.drs.Plan(context.Background(), "c1")
	require.NoError(t, err)
	assert.LessOrEqual(t, len(plan.Moves), MaxMoves(5, 0.4))

	seen := make(map[string]bool)
	for _, m := range plan.Moves {
		assert.False(t, seen[m.Workload.ID], "workload %s moved twice", m.Workload.ID)
		seen[m.Workload.ID] = true
		assert.NotEqual(t, m.SourceID, m.TargetID)
	}
}

func TestCondensedConcentratesLoad(t *testing.T) {
	env := newTestEnv(t, even, Options{})
	algorithm := CondensedName
	env.cfg.DRS.Clusters["c1"] = config.ClusterDRSOverride{Algorithm: &algorithm}

	plan, err := env.drs.Plan(context.Background(), "c1")
	require.NoError(t, err)
	require.Len(t, plan.Moves, 1)
	assert.Greater(t, plan.After, plan.Before)
}

func TestSkipThresholdExcludesResource(t *testing.T) {
	env := newTestEnv(t, skewed, Options{})
	env.cfg.DRS.SkipThreshold = 0.85

	resources, err := env.drs.FindResourcesToBalance(context.Background(), "c1")
	require.NoError(t, err)
	ids := make([]string, 0, len(resources))
	for _, r := range resources {
		ids = append(ids, r.ID)
	}
	assert.Equal(t, []string{"h2", "h3"}, ids)

	workloads, err := env.drs.FindWorkloadsToBalance(context.Background(), "c1")
	require.NoError(t, err)
	for _, w := range workloads {
		assert.NotEqual(t, "h1", w.HostID)
	}
}

func TestFailedMigrationReleasesReservation(t *testing.T) {
	env := newTestEnv(t, skewed, Options{})
	env.sim.FailNext(types.CommandMigrate, 1)

	round, err := env.drs.Balance(context.Background(), "c1", false)
	require.NoError(t, err)
	assert.Equal(t, 1, round.Failed)
	assert.Equal(t, "h1", env.hostOf(t, "vm-a"))
	assert.Zero(t, env.inv.HeldReservations())
	assert.Equal(t, []events.AlertKind{events.AlertRebalanceError}, env.alerts.kinds)
}

func TestLeasedWorkloadIsSkipped(t *testing.T) {
	env := newTestEnv(t, skewed, Options{})
	ctx := context.Background()

	release, err := env.leases.Acquire(lease.WithOwner(ctx, "ha/item"), "vm-a")
	require.NoError(t, err)
	defer release()

	round, err := env.drs.Balance(ctx, "c1", false)
	require.NoError(t, err)
	assert.Equal(t, 1, round.Skipped)
	assert.Zero(t, round.Failed)
	assert.Equal(t, "h1", env.hostOf(t, "vm-a"))
}

func TestStartOnlyRunsEnabledClusters(t *testing.T) {
	env := newTestEnv(t, skewed, Options{})
	enabled := true
	interval := time.Hour
	env.cfg.DRS.Clusters["c1"] = config.ClusterDRSOverride{AutomaticEnable: &enabled, AutomaticInterval: &interval}

	require.NoError(t, env.drs.Start())
	assert.Equal(t, []string{"drs/c1"}, drsComponents())

	env.drs.Stop()
	assert.Empty(t, drsComponents())
}

func drsComponents() []string {
	var names []string
	for _, c := range metrics.Components() {
		if strings.HasPrefix(c.Name, "drs/") {
			names = append(names, c.Name)
		}
	}
	return names
}
