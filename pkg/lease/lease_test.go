package lease

import (
	"context"
	"testing"
	"time"

	"github.com/cuemby/paddock/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquireAndRelease(t *testing.T) {
	m := NewManager(time.Minute, 2, time.Millisecond)
	ctx := context.Background()

	release, err := m.Acquire(ctx, "vm-1")
	require.NoError(t, err)

	_, err = m.Acquire(ctx, "vm-1")
	assert.ErrorIs(t, err, types.ErrLockContention)

	release()
	release2, err := m.Acquire(ctx, "vm-1")
	require.NoError(t, err)
	release2()
}

func TestReentrantForSameOwner(t *testing.T) {
	m := NewManager(time.Minute, 1, time.Millisecond)
	ctx := WithOwner(context.Background(), "ha-worker-1")

	outer, err := m.Acquire(ctx, "vm-1")
	require.NoError(t, err)
	inner, err := m.Acquire(ctx, "vm-1")
	require.NoError(t, err)

	inner()
	holder, held := m.Holder("vm-1")
	assert.True(t, held)
	assert.Equal(t, "ha-worker-1", holder)

	_, err = m.Acquire(WithOwner(context.Background(), "other"), "vm-1")
	assert.ErrorIs(t, err, types.ErrLockContention)

	outer()
	_, held = m.Holder("vm-1")
	assert.False(t, held)
}

func TestAcquireWaitsForRelease(t *testing.T) {
	m := NewManager(time.Minute, 50, 5*time.Millisecond)
	release, err := m.Acquire(context.Background(), "vm-1")
	require.NoError(t, err)

	go func() {
		time.Sleep(20 * time.Millisecond)
		release()
	}()

	release2, err := m.Acquire(context.Background(), "vm-1")
	require.NoError(t, err)
	release2()
}

func TestAcquireHonorsContext(t *testing.T) {
	m := NewManager(time.Minute, 1000, 10*time.Millisecond)
	_, err := m.Acquire(context.Background(), "vm-1")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = m.Acquire(ctx, "vm-1")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestExpiredLeaseIsTakenOver(t *testing.T) {
	m := NewManager(10*time.Millisecond, 1, time.Millisecond)
	_, err := m.Acquire(context.Background(), "vm-1")
	require.NoError(t, err)

	time.Sleep(20 * time.Millisecond)
	_, err = m.Acquire(context.Background(), "vm-1")
	assert.NoError(t, err)
}

func TestCleanupExpired(t *testing.T) {
	m := NewManager(10*time.Millisecond, 1, time.Millisecond)
	_, err := m.Acquire(context.Background(), "vm-1")
	require.NoError(t, err)
	_, err = m.Acquire(context.Background(), "vm-2")
	require.NoError(t, err)

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 2, m.CleanupExpired())
	assert.Equal(t, 0, m.CleanupExpired())
}
