package manager

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/cuemby/paddock/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func freeAddr(t *testing.T) string {
	t.Helper()
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := lis.Addr().String()
	require.NoError(t, lis.Close())
	return addr
}

func TestSingleNodeReplicatesWrites(t *testing.T) {
	m, err := NewManager(&Config{NodeID: "node-1", BindAddr: freeAddr(t), DataDir: t.TempDir()})
	require.NoError(t, err)
	defer m.Shutdown()

	require.NoError(t, m.Bootstrap())
	require.Eventually(t, m.IsLeader, 10*time.Second, 50*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, m.WaitForLeader(ctx))

	item := types.NewHAWorkItem("vm-1", "h1", types.WorkHA, true)
	require.NoError(t, m.SaveWorkItem(item))

	got, err := m.GetWorkItem(item.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StepScheduled, got.Step)

	pending, err := m.ListNonTerminalWorkItems()
	require.NoError(t, err)
	assert.Len(t, pending, 1)

	require.NoError(t, m.SetCursor("host:c1", 2))
	v, err := m.GetCursor("host:c1")
	require.NoError(t, err)
	assert.Equal(t, uint64(2), v)

	servers, err := m.GetClusterServers()
	require.NoError(t, err)
	require.Len(t, servers, 1)
	assert.Equal(t, "node-1", string(servers[0].ID))

	stats := m.GetRaftStats()
	assert.Equal(t, "Leader", stats["state"])
}

func TestManagerWithoutRaft(t *testing.T) {
	m, err := NewManager(&Config{NodeID: "node-1", BindAddr: freeAddr(t), DataDir: t.TempDir()})
	require.NoError(t, err)
	defer m.Shutdown()

	assert.False(t, m.IsLeader())
	assert.Empty(t, m.LeaderAddr())
	assert.Nil(t, m.GetRaftStats())
	assert.Error(t, m.SaveWorkItem(types.NewHAWorkItem("vm-1", "h1", types.WorkHA, false)))
	assert.Error(t, m.AddVoter("node-2", "127.0.0.1:1"))
}
