package deploy

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/cuemby/paddock/pkg/allocator"
	"github.com/cuemby/paddock/pkg/config"
	"github.com/cuemby/paddock/pkg/inventory"
	"github.com/cuemby/paddock/pkg/lease"
	"github.com/cuemby/paddock/pkg/metrics"
	"github.com/cuemby/paddock/pkg/planner"
	"github.com/cuemby/paddock/pkg/storage"
	"github.com/cuemby/paddock/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const fixture = `
clusters:
  - {id: c1, zone: z1, pod: p1}
  - {id: c2, zone: z1, pod: p1}
hosts:
  - {id: h1, cluster: c1, capacity: {cpu: {total: 8, used: 2}, memory: {total: 64}}}
  - {id: h2, cluster: c1, capacity: {cpu: {total: 8, used: 4}, memory: {total: 64}}}
  - {id: h3, cluster: c1, capacity: {cpu: {total: 8, used: 7}, memory: {total: 64}}}
  - {id: h4, cluster: c2, capacity: {cpu: {total: 8}, memory: {total: 32}}}
storagePools:
  - {id: sp1, cluster: c1, capacity: {storage: {total: 100}}}
  - {id: sp2, cluster: c2, capacity: {storage: {total: 100}}}
workloads:
  - {id: vm-1, host: h1, pool: sp1, requirements: {cpu: 2, memory: 4, storage: 10}}
`

type testEnv struct {
	mgr   *Manager
	inv   *inventory.Memory
	store *storage.BoltStore
}

func newTestEnv(t *testing.T, yaml string, ttl time.Duration) *testEnv {
	t.Helper()
	inv, err := inventory.Parse([]byte(yaml))
	require.NoError(t, err)
	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	registry := planner.NewDefaultRegistry(inv, planner.FirstFitName, 0)
	mgr := NewManager(
		inv,
		store,
		registry,
		allocator.NewHostAllocator(inv, allocator.FirstFitOrdering{}),
		allocator.NewPoolAllocator(inv, allocator.FirstFitOrdering{}),
		lease.NewManager(time.Minute, 2, time.Millisecond),
		Options{ReservationTTL: ttl, MaxDeployAttempts: 3},
	)
	return &testEnv{mgr: mgr, inv: inv, store: store}
}

func newProfile(id string, cpu float64) *types.WorkloadProfile {
	return &types.WorkloadProfile{ID: id, ZoneID: "z1", Requirements: types.Requirements{CPU: cpu, Memory: 4, Storage: 10}}
}

// Three hosts, one excluded, a workload needing 2 cpu: only the other
// eligible host may be chosen.
func TestPlanDeploymentHonorsExcludedHost(t *testing.T) {
	env := newTestEnv(t, fixture, time.Minute)
	ctx := context.Background()

	exclude := types.NewExcludeList()
	exclude.AddHost("h1")

	dest, err := env.mgr.PlanDeployment(ctx, newProfile("vm-new", 2), types.DeploymentPlan{ZoneID: "z1", ClusterID: "c1"}, exclude, "")
	require.NoError(t, err)
	assert.Equal(t, "h2", dest.HostID)
	assert.Equal(t, "sp1", dest.PoolID)
	assert.Equal(t, "c1", dest.ClusterID)
}

func TestPlanDeploymentMovesToNextCluster(t *testing.T) {
	env := newTestEnv(t, fixture, time.Minute)

	exclude := types.NewExcludeList()
	dest, err := env.mgr.PlanDeployment(context.Background(), newProfile("vm-new", 7), types.DeploymentPlan{ZoneID: "z1"}, exclude, "")
	require.NoError(t, err)
	assert.Equal(t, "h4", dest.HostID)
	assert.Equal(t, "sp2", dest.PoolID)
	assert.Equal(t, []string{"c1"}, exclude.Clusters())
}

// With the default disable threshold a busy cluster is still used when it is
// the only one with a fitting host.
func TestPlanDeploymentWithDefaultThreshold(t *testing.T) {
	inv, err := inventory.Parse([]byte(`
clusters:
  - {id: c1, zone: z1, pod: p1}
hosts:
  - {id: h1, cluster: c1, capacity: {cpu: {total: 8, used: 8}, memory: {total: 64}}}
  - {id: h2, cluster: c1, capacity: {cpu: {total: 8, used: 8}, memory: {total: 64}}}
  - {id: h3, cluster: c1, capacity: {cpu: {total: 8, used: 5}, memory: {total: 64}}}
storagePools:
  - {id: sp1, cluster: c1, capacity: {storage: {total: 100}}}
`))
	require.NoError(t, err)
	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	cfg := config.Default()
	mgr := NewManager(
		inv,
		store,
		planner.NewDefaultRegistry(inv, cfg.Planner.Default, cfg.Planner.ClusterDisableThreshold),
		allocator.NewHostAllocator(inv, allocator.FirstFitOrdering{}),
		allocator.NewPoolAllocator(inv, allocator.FirstFitOrdering{}),
		lease.NewManager(time.Minute, 2, time.Millisecond),
		Options{ReservationTTL: time.Minute, MaxDeployAttempts: 3},
	)

	dest, err := mgr.PlanDeployment(context.Background(), newProfile("vm-new", 2), types.DeploymentPlan{ZoneID: "z1"}, nil, "")
	require.NoError(t, err)
	assert.Equal(t, "h3", dest.HostID)
}

func TestPlanDeploymentInsufficientCapacity(t *testing.T) {
	env := newTestEnv(t, fixture, time.Minute)

	_, err := env.mgr.PlanDeployment(context.Background(), newProfile("vm-new", 9), types.DeploymentPlan{ZoneID: "z1"}, nil, "")
	assert.ErrorIs(t, err, types.ErrInsufficientCapacity)

	exclude := types.NewExcludeList()
	exclude.AddZone("z1")
	_, err = env.mgr.PlanDeployment(context.Background(), newProfile("vm-new", 1), types.DeploymentPlan{ZoneID: "z1"}, exclude, "")
	assert.ErrorIs(t, err, types.ErrInsufficientCapacity)
}

func TestPlanDeploymentPinnedHost(t *testing.T) {
	env := newTestEnv(t, fixture, time.Minute)
	ctx := context.Background()

	dest, err := env.mgr.PlanDeployment(ctx, newProfile("vm-new", 1), types.DeploymentPlan{ZoneID: "z1", HostID: "h3"}, nil, "")
	require.NoError(t, err)
	assert.Equal(t, "h3", dest.HostID)

	// A pin is never overridden, even when other hosts fit
	_, err = env.mgr.PlanDeployment(ctx, newProfile("vm-new", 2), types.DeploymentPlan{ZoneID: "z1", HostID: "h3"}, nil, "")
	assert.ErrorIs(t, err, types.ErrInsufficientCapacity)

	_, err = env.mgr.PlanDeployment(ctx, newProfile("vm-new", 1), types.DeploymentPlan{ZoneID: "z1", ClusterID: "c2", HostID: "h3"}, nil, "")
	assert.ErrorIs(t, err, types.ErrAffinityConflict)
}

func TestPlanDeploymentAntiAffinityConflict(t *testing.T) {
	yaml := fixture + `
  - {id: web-1, host: h1, affinityGroups: [{id: web, type: host-anti-affinity}]}
`
	env := newTestEnv(t, yaml, time.Minute)
	profile := newProfile("web-2", 1)
	profile.AffinityGroups = []types.AffinityGroup{{ID: "web", Type: types.AntiAffinityHost}}

	_, err := env.mgr.PlanDeployment(context.Background(), profile, types.DeploymentPlan{ZoneID: "z1", HostID: "h1"}, nil, "")
	assert.ErrorIs(t, err, types.ErrAffinityConflict)
	assert.False(t, types.IsTransient(err))

	dest, err := env.mgr.PlanDeployment(context.Background(), profile, types.DeploymentPlan{ZoneID: "z1"}, nil, "")
	require.NoError(t, err)
	assert.NotEqual(t, "h1", dest.HostID)
}

// A disabled, draining cluster is skipped entirely for new placements
func TestPlanDeploymentSkipsDrainingCluster(t *testing.T) {
	env := newTestEnv(t, fixture, time.Minute)
	require.NoError(t, env.inv.SetClusterState("c1", types.AllocationDisabled, true))

	for i := 0; i < 3; i++ {
		exclude := types.NewExcludeList()
		dest, err := env.mgr.PlanDeployment(context.Background(), newProfile("vm-new", 1), types.DeploymentPlan{ZoneID: "z1"}, exclude, "")
		require.NoError(t, err)
		assert.Equal(t, "c2", dest.ClusterID)
		assert.Contains(t, exclude.Clusters(), "c1")
	}

	_, err := env.mgr.PlanDeployment(context.Background(), newProfile("vm-new", 1), types.DeploymentPlan{ZoneID: "z1", ClusterID: "c1"}, nil, "")
	assert.ErrorIs(t, err, types.ErrInsufficientCapacity)
}

func TestPlanDeploymentUnknownPlanner(t *testing.T) {
	env := newTestEnv(t, fixture, time.Minute)
	_, err := env.mgr.PlanDeployment(context.Background(), newProfile("vm-new", 1), types.DeploymentPlan{ZoneID: "z1"}, nil, "bogus")
	assert.Error(t, err)
}

func TestFinalizeReservationRevalidates(t *testing.T) {
	env := newTestEnv(t, fixture, time.Minute)
	ctx := context.Background()
	profile := newProfile("vm-new", 4)
	plan := types.DeploymentPlan{ZoneID: "z1", ClusterID: "c1"}

	dest, err := env.mgr.PlanDeployment(ctx, profile, plan, nil, "")
	require.NoError(t, err)
	require.Equal(t, "h1", dest.HostID)

	// Another caller takes the capacity between ranking and reservation
	_, err = env.inv.Reserve(ctx, "h1", newProfile("racer", 4))
	require.NoError(t, err)

	exclude := types.NewExcludeList()
	_, err = env.mgr.FinalizeReservation(ctx, dest, profile, plan, exclude, planner.FirstFitName)
	assert.ErrorIs(t, err, types.ErrResourceUnavailable)
	assert.True(t, exclude.IsHostExcluded("h1"))

	// Re-planning with the carried list avoids the failed host
	dest, err = env.mgr.PlanDeployment(ctx, profile, plan, exclude, "")
	require.NoError(t, err)
	assert.Equal(t, "h2", dest.HostID)
}

func TestFinalizeRollsBackHostWhenPoolFails(t *testing.T) {
	env := newTestEnv(t, fixture, time.Minute)
	ctx := context.Background()
	profile := newProfile("vm-new", 1)
	profile.Requirements.Storage = 60

	dest := &types.Destination{ZoneID: "z1", PodID: "p1", ClusterID: "c1", HostID: "h1", PoolID: "sp1"}
	_, err := env.inv.Reserve(ctx, "sp1", &types.WorkloadProfile{ID: "racer", Requirements: types.Requirements{Storage: 50}})
	require.NoError(t, err)

	exclude := types.NewExcludeList()
	_, err = env.mgr.FinalizeReservation(ctx, dest, profile, types.DeploymentPlan{ZoneID: "z1"}, exclude, "")
	assert.ErrorIs(t, err, types.ErrResourceUnavailable)
	assert.Equal(t, []string{"sp1"}, exclude.Pools())

	h1, _ := env.inv.GetHost(ctx, "h1")
	assert.Zero(t, h1.Capacity.CPU.Reserved)
}

func TestOneReservationPerWorkload(t *testing.T) {
	env := newTestEnv(t, fixture, time.Minute)
	ctx := context.Background()
	profile := newProfile("vm-new", 1)

	r, err := env.mgr.Deploy(ctx, profile, types.DeploymentPlan{ZoneID: "z1"}, nil, "")
	require.NoError(t, err)

	_, err = env.mgr.Deploy(ctx, profile, types.DeploymentPlan{ZoneID: "z1"}, nil, "")
	assert.ErrorIs(t, err, types.ErrLockContention)

	require.NoError(t, env.mgr.CancelReservation(ctx, r.Token))
	_, err = env.mgr.Deploy(ctx, profile, types.DeploymentPlan{ZoneID: "z1"}, nil, "")
	assert.NoError(t, err)
}

func TestFinalizeFailsFastOnLease(t *testing.T) {
	env := newTestEnv(t, fixture, time.Minute)
	ctx := context.Background()

	release, err := env.mgr.leases.Acquire(lease.WithOwner(ctx, "someone-else"), "vm-new")
	require.NoError(t, err)
	defer release()

	dest := &types.Destination{ZoneID: "z1", ClusterID: "c1", HostID: "h1", PoolID: "sp1"}
	_, err = env.mgr.FinalizeReservation(ctx, dest, newProfile("vm-new", 1), types.DeploymentPlan{ZoneID: "z1"}, nil, "")
	assert.ErrorIs(t, err, types.ErrLockContention)
}

func TestConfirmReservation(t *testing.T) {
	env := newTestEnv(t, fixture, time.Minute)
	ctx := context.Background()

	r, err := env.mgr.Deploy(ctx, newProfile("vm-new", 2), types.DeploymentPlan{ZoneID: "z1", ClusterID: "c1"}, nil, "")
	require.NoError(t, err)
	assert.Equal(t, "h1", r.Destination.HostID)

	confirmed, err := env.mgr.ConfirmReservation(ctx, r.Token)
	require.NoError(t, err)
	assert.True(t, confirmed.Confirmed)

	h1, _ := env.inv.GetHost(ctx, "h1")
	assert.Equal(t, 4.0, h1.Capacity.CPU.Used)
	assert.Zero(t, h1.Capacity.CPU.Reserved)

	// Idempotent
	_, err = env.mgr.ConfirmReservation(ctx, r.Token)
	require.NoError(t, err)
	assert.Error(t, env.mgr.CancelReservation(ctx, r.Token))
}

func TestCleanupVMReservations(t *testing.T) {
	env := newTestEnv(t, fixture, 50*time.Millisecond)
	ctx := context.Background()

	stale, err := env.mgr.Deploy(ctx, newProfile("vm-stale", 2), types.DeploymentPlan{ZoneID: "z1", ClusterID: "c1"}, nil, "")
	require.NoError(t, err)
	kept, err := env.mgr.Deploy(ctx, newProfile("vm-kept", 2), types.DeploymentPlan{ZoneID: "z1", ClusterID: "c1"}, nil, "")
	require.NoError(t, err)
	_, err = env.mgr.ConfirmReservation(ctx, kept.Token)
	require.NoError(t, err)

	released, err := env.mgr.CleanupVMReservations(ctx)
	require.NoError(t, err)
	assert.Zero(t, released)

	time.Sleep(80 * time.Millisecond)
	released, err = env.mgr.CleanupVMReservations(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, released)
	assert.Zero(t, env.inv.HeldReservations())

	_, err = env.store.GetReservation(stale.Token)
	assert.True(t, errors.Is(err, types.ErrNotFound))
}

func TestDeployReplansAfterRejection(t *testing.T) {
	env := newTestEnv(t, fixture, time.Minute)
	ctx := context.Background()

	// h1 goes down after the snapshot is taken by any planner; the
	// inventory rejects the reservation and Deploy moves on.
	flaky := &rejectingInventory{Memory: env.inv, reject: map[string]bool{"h1": true}}
	env.mgr.inv = flaky

	exclude := types.NewExcludeList()
	r, err := env.mgr.Deploy(ctx, newProfile("vm-new", 2), types.DeploymentPlan{ZoneID: "z1", ClusterID: "c1"}, exclude, "")
	require.NoError(t, err)
	assert.Equal(t, "h2", r.Destination.HostID)
	assert.True(t, exclude.IsHostExcluded("h1"))
}

type rejectingInventory struct {
	*inventory.Memory
	reject map[string]bool
}

func (r *rejectingInventory) Reserve(ctx context.Context, id string, profile *types.WorkloadProfile) (string, error) {
	if r.reject[id] {
		return "", types.ErrResourceUnavailable
	}
	return r.Memory.Reserve(ctx, id, profile)
}

type commitFailing struct {
	*inventory.Memory
	token string
}

func (c *commitFailing) Commit(ctx context.Context, token string) error {
	if token == c.token {
		c.token = ""
		return types.ErrTimeout
	}
	return c.Memory.Commit(ctx, token)
}

// A confirmation that fails after the host commit is completed later and
// never released.
func TestPartialConfirmationIsCompleted(t *testing.T) {
	env := newTestEnv(t, fixture, 50*time.Millisecond)
	ctx := context.Background()

	r, err := env.mgr.Deploy(ctx, newProfile("vm-new", 2), types.DeploymentPlan{ZoneID: "z1", ClusterID: "c1"}, nil, "")
	require.NoError(t, err)
	require.NotEmpty(t, r.PoolToken)
	env.mgr.inv = &commitFailing{Memory: env.inv, token: r.PoolToken}

	_, err = env.mgr.ConfirmReservation(ctx, r.Token)
	assert.ErrorIs(t, err, types.ErrTimeout)

	got, err := env.store.GetReservation(r.Token)
	require.NoError(t, err)
	assert.True(t, got.HostCommitted)
	assert.False(t, got.Confirmed)
	assert.Error(t, env.mgr.CancelReservation(ctx, r.Token))

	time.Sleep(60 * time.Millisecond)
	released, err := env.mgr.CleanupVMReservations(ctx)
	require.NoError(t, err)
	assert.Zero(t, released)

	got, err = env.store.GetReservation(r.Token)
	require.NoError(t, err)
	assert.True(t, got.Confirmed)
	assert.Zero(t, env.inv.HeldReservations())

	h1, _ := env.inv.GetHost(ctx, "h1")
	assert.Equal(t, 4.0, h1.Capacity.CPU.Used)
	sp1, _ := env.inv.GetStoragePool(ctx, "sp1")
	assert.Equal(t, 10.0, sp1.Capacity.Storage.Used)
}

func TestSweeperReportsHeartbeat(t *testing.T) {
	env := newTestEnv(t, fixture, time.Minute)
	env.mgr.opts.CleanupInterval = 10 * time.Millisecond
	env.mgr.Start()

	swept := func() bool {
		for _, c := range metrics.Components() {
			if c.Name == "planner" {
				return c.Healthy && c.Message == ""
			}
		}
		return false
	}
	assert.Eventually(t, swept, time.Second, 10*time.Millisecond)

	env.mgr.Stop()
	for _, c := range metrics.Components() {
		assert.NotEqual(t, "planner", c.Name)
	}
}
