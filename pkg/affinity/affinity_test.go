package affinity

import (
	"context"
	"testing"

	"github.com/cuemby/paddock/pkg/inventory"
	"github.com/cuemby/paddock/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const fixture = `
clusters:
  - {id: c1, zone: z1, pod: p1}
  - {id: c2, zone: z1, pod: p2}
hosts:
  - {id: h1, cluster: c1}
  - {id: h2, cluster: c1}
  - {id: h3, cluster: c2}
workloads:
  - id: web-1
    host: h1
    affinityGroups: [{id: web, type: host-anti-affinity}]
  - id: web-2
    host: h2
    affinityGroups: [{id: web, type: host-anti-affinity}]
  - id: db-1
    host: h3
    affinityGroups: [{id: db, type: host-affinity}]
  - id: split-1
    host: h1
    affinityGroups: [{id: split, type: host-affinity}]
  - id: split-2
    host: h3
    affinityGroups: [{id: split, type: host-affinity}]
`

func newInventory(t *testing.T) *inventory.Memory {
	t.Helper()
	inv, err := inventory.Parse([]byte(fixture))
	require.NoError(t, err)
	return inv
}

func TestHostAntiAffinityExcludesPeerHosts(t *testing.T) {
	p := NewHostAntiAffinity(newInventory(t))
	profile := &types.WorkloadProfile{ID: "web-3", AffinityGroups: []types.AffinityGroup{{ID: "web", Type: types.AntiAffinityHost}}}
	plan := &types.DeploymentPlan{ZoneID: "z1"}
	exclude := types.NewExcludeList()

	require.NoError(t, p.Process(context.Background(), profile, plan, exclude))
	assert.Equal(t, []string{"h1", "h2"}, exclude.Hosts())
}

func TestHostAntiAffinityIgnoresSelf(t *testing.T) {
	p := NewHostAntiAffinity(newInventory(t))
	profile := &types.WorkloadProfile{ID: "web-1", HostID: "h1", AffinityGroups: []types.AffinityGroup{{ID: "web", Type: types.AntiAffinityHost}}}
	exclude := types.NewExcludeList()

	require.NoError(t, p.Process(context.Background(), profile, &types.DeploymentPlan{ZoneID: "z1"}, exclude))
	assert.Equal(t, []string{"h2"}, exclude.Hosts())
}

func TestHostAntiAffinityConflictWithPin(t *testing.T) {
	p := NewHostAntiAffinity(newInventory(t))
	profile := &types.WorkloadProfile{ID: "web-3", AffinityGroups: []types.AffinityGroup{{ID: "web", Type: types.AntiAffinityHost}}}
	plan := &types.DeploymentPlan{ZoneID: "z1", HostID: "h2"}

	err := p.Process(context.Background(), profile, plan, types.NewExcludeList())
	assert.ErrorIs(t, err, types.ErrAffinityConflict)
}

func TestHostAffinity(t *testing.T) {
	inv := newInventory(t)
	p := NewHostAffinity(inv)
	ctx := context.Background()

	tests := []struct {
		name     string
		group    string
		plan     types.DeploymentPlan
		exclude  []string
		wantHost string
		wantErr  error
	}{
		{name: "pins peer host", group: "db", plan: types.DeploymentPlan{ZoneID: "z1"}, wantHost: "h3"},
		{name: "agreeing pin", group: "db", plan: types.DeploymentPlan{ZoneID: "z1", HostID: "h3"}, wantHost: "h3"},
		{name: "disagreeing pin", group: "db", plan: types.DeploymentPlan{ZoneID: "z1", HostID: "h1"}, wantErr: types.ErrAffinityConflict},
		{name: "disagreeing cluster pin", group: "db", plan: types.DeploymentPlan{ZoneID: "z1", ClusterID: "c1"}, wantErr: types.ErrAffinityConflict},
		{name: "peers on different hosts", group: "split", plan: types.DeploymentPlan{ZoneID: "z1"}, wantErr: types.ErrAffinityConflict},
		{name: "peer host excluded", group: "db", plan: types.DeploymentPlan{ZoneID: "z1"}, exclude: []string{"h3"}, wantErr: types.ErrAffinityConflict},
		{name: "empty group leaves plan alone", group: "nobody", plan: types.DeploymentPlan{ZoneID: "z1"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			profile := &types.WorkloadProfile{ID: "new", AffinityGroups: []types.AffinityGroup{{ID: tt.group, Type: types.AffinityHost}}}
			exclude := types.NewExcludeList()
			for _, h := range tt.exclude {
				exclude.AddHost(h)
			}
			plan := tt.plan

			err := p.Process(ctx, profile, &plan, exclude)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantHost, plan.HostID)
			if tt.wantHost != "" {
				assert.Equal(t, "c2", plan.ClusterID)
			}
		})
	}
}
