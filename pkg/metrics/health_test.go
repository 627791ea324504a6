package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func resetComponents(t *testing.T) {
	t.Helper()
	components = &registry{components: make(map[string]Component)}
}

func TestHeartbeat(t *testing.T) {
	resetComponents(t)
	RegisterLoop("ha", time.Minute)

	ready, failing := Ready()
	assert.True(t, ready)
	assert.Empty(t, failing)

	Heartbeat("ha", errors.New("failed to list hosts"))
	ready, failing = Ready()
	assert.False(t, ready)
	require.Len(t, failing, 1)
	assert.Equal(t, "ha", failing[0].Name)
	assert.Equal(t, "failed to list hosts", failing[0].Message)

	Heartbeat("ha", nil)
	ready, _ = Ready()
	assert.True(t, ready)
}

func TestStaleLoopIsUnhealthy(t *testing.T) {
	resetComponents(t)
	RegisterLoop("planner", time.Minute)
	UpdateComponent("raft", true, "")

	got := componentsAt(time.Now().Add(2 * time.Minute))
	require.Len(t, got, 2)
	assert.Equal(t, "planner", got[0].Name)
	assert.False(t, got[0].Healthy)
	assert.Contains(t, got[0].Message, "no heartbeat")

	// raft has no staleness bound
	assert.Equal(t, "raft", got[1].Name)
	assert.True(t, got[1].Healthy)
}

func TestUpdateKeepsStaleness(t *testing.T) {
	resetComponents(t)
	RegisterLoop("drs/c1", time.Second)
	Heartbeat("drs/c1", nil)

	got := Components()
	require.Len(t, got, 1)
	assert.Equal(t, time.Second, got[0].StaleAfter)

	UnregisterComponent("drs/c1")
	assert.Empty(t, Components())

	// a late heartbeat from a stopped loop does not bring it back
	Heartbeat("drs/c1", nil)
	assert.Empty(t, Components())
}
