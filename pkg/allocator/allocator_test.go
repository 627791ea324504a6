package allocator

import (
	"context"
	"testing"

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
  - {id: h1, name: host-a, cluster: c1, tags: [ssd], capacity: {cpu: {total: 8, used: 7}, memory: {total: 32}}}
  - {id: h2, name: host-b, cluster: c1, tags: [ssd], capacity: {cpu: {total: 8, used: 2}, memory: {total: 32, used: 16}}}
  - {id: h3, name: host-c, cluster: c1, capacity: {cpu: {total: 8}, memory: {total: 32}}}
  - {id: h4, name: host-d, cluster: c1, allocationState: disabled, capacity: {cpu: {total: 8}, memory: {total: 32}}}
  - {id: h5, name: host-e, cluster: c1, status: disconnected, capacity: {cpu: {total: 8}, memory: {total: 32}}}
storagePools:
  - {id: sp1, name: pool-a, cluster: c1, capacity: {storage: {total: 100, used: 90}}}
  - {id: sp2, name: pool-b, cluster: c1, capacity: {storage: {total: 100}}}
`

type memCursors map[string]uint64

func (m memCursors) GetCursor(key string) (uint64, error)    { return m[key], nil }
func (m memCursors) SetCursor(key string, value uint64) error { m[key] = value; return nil }

func newInventory(t *testing.T) *inventory.Memory {
	t.Helper()
	inv, err := inventory.Parse([]byte(fixture))
	require.NoError(t, err)
	return inv
}

func ids(cs []*types.ResourceCandidate) []string {
	out := make([]string, len(cs))
	for i, c := range cs {
		out[i] = c.ID
	}
	return out
}

var scope = types.Scope{ZoneID: "z1", PodID: "p1", ClusterID: "c1"}

func TestHostFiltering(t *testing.T) {
	inv := newInventory(t)
	a := NewHostAllocator(inv, FirstFitOrdering{})
	ctx := context.Background()

	tests := []struct {
		name    string
		profile *types.WorkloadProfile
		exclude *types.ExcludeList
		want    []string
	}{
		{
			name:    "skips disabled, disconnected and full hosts",
			profile: &types.WorkloadProfile{Requirements: types.Requirements{CPU: 2}},
			want:    []string{"h2", "h3"},
		},
		{
			name:    "requires tags",
			profile: &types.WorkloadProfile{Requirements: types.Requirements{CPU: 1}, HostTags: []string{"ssd"}},
			want:    []string{"h1", "h2"},
		},
		{
			name:    "respects excluded host",
			profile: &types.WorkloadProfile{Requirements: types.Requirements{CPU: 2}},
			exclude: func() *types.ExcludeList { e := types.NewExcludeList(); e.AddHost("h2"); return e }(),
			want:    []string{"h3"},
		},
		{
			name:    "excluded cluster removes every host",
			profile: &types.WorkloadProfile{Requirements: types.Requirements{CPU: 1}},
			exclude: func() *types.ExcludeList { e := types.NewExcludeList(); e.AddCluster("c1"); return e }(),
			want:    []string{},
		},
		{
			name:    "memory is checked too",
			profile: &types.WorkloadProfile{Requirements: types.Requirements{CPU: 1, Memory: 20}},
			want:    []string{"h1", "h3"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := a.Allocate(ctx, tt.profile, scope, tt.exclude)
			require.NoError(t, err)
			assert.Equal(t, tt.want, ids(got))
		})
	}
}

func TestPoolFiltering(t *testing.T) {
	inv := newInventory(t)
	a := NewPoolAllocator(inv, FirstFitOrdering{})

	got, err := a.Allocate(context.Background(), &types.WorkloadProfile{Requirements: types.Requirements{Storage: 20}}, scope, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"sp2"}, ids(got))
	assert.Equal(t, types.ResourceStoragePool, a.Kind())
}

func TestRoundRobinDistributes(t *testing.T) {
	inv := newInventory(t)
	cursors := memCursors{}
	a := NewHostAllocator(inv, NewRoundRobinOrdering(cursors))
	profile := &types.WorkloadProfile{Requirements: types.Requirements{CPU: 1}}

	firsts := map[string]int{}
	for i := 0; i < 6; i++ {
		got, err := a.Allocate(context.Background(), profile, scope, nil)
		require.NoError(t, err)
		require.Len(t, got, 3)
		firsts[got[0].ID]++
	}
	assert.Equal(t, map[string]int{"h1": 2, "h2": 2, "h3": 2}, firsts)
}

func TestRoundRobinCursorSurvivesRestart(t *testing.T) {
	inv := newInventory(t)
	dir := t.TempDir()
	profile := &types.WorkloadProfile{Requirements: types.Requirements{CPU: 1}}

	store, err := storage.NewBoltStore(dir)
	require.NoError(t, err)
	first, err := NewHostAllocator(inv, NewRoundRobinOrdering(store)).Allocate(context.Background(), profile, scope, nil)
	require.NoError(t, err)
	require.NoError(t, store.Close())

	store, err = storage.NewBoltStore(dir)
	require.NoError(t, err)
	defer store.Close()
	second, err := NewHostAllocator(inv, NewRoundRobinOrdering(store)).Allocate(context.Background(), profile, scope, nil)
	require.NoError(t, err)

	assert.NotEqual(t, first[0].ID, second[0].ID)
}

func TestRandomIsPermutation(t *testing.T) {
	inv := newInventory(t)
	a := NewHostAllocator(inv, NewRandomOrdering(42))
	profile := &types.WorkloadProfile{Requirements: types.Requirements{CPU: 1}}

	seen := map[string]bool{}
	for i := 0; i < 50; i++ {
		got, err := a.Allocate(context.Background(), profile, scope, nil)
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{"h1", "h2", "h3"}, ids(got))
		seen[got[0].ID] = true
	}
	// Fifty shuffles of three candidates reach every leader
	assert.Len(t, seen, 3)
}

func TestLeastConsumed(t *testing.T) {
	inv := newInventory(t)
	a := NewHostAllocator(inv, LeastConsumedOrdering{})

	got, err := a.Allocate(context.Background(), &types.WorkloadProfile{Requirements: types.Requirements{CPU: 1}}, scope, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"h3", "h2", "h1"}, ids(got))
}

func TestNewOrdering(t *testing.T) {
	for _, name := range []string{FirstFit, Random, LeastConsumed} {
		o, err := NewOrdering(name, nil)
		require.NoError(t, err)
		assert.Equal(t, name, o.Name())
	}

	_, err := NewOrdering(RoundRobin, nil)
	assert.Error(t, err)

	o, err := NewOrdering(RoundRobin, memCursors{})
	require.NoError(t, err)
	assert.Equal(t, RoundRobin, o.Name())

	_, err = NewOrdering("bogus", nil)
	assert.Error(t, err)
}
