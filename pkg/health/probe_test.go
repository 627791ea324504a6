package health

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTCPChecker(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			conn.Close()
		}
	}()

	result := NewTCPChecker(ln.Addr().String()).Check(context.Background())
	assert.True(t, result.Healthy, result.Message)
	assert.Equal(t, CheckTypeTCP, NewTCPChecker("").Type())

	addr := ln.Addr().String()
	require.NoError(t, ln.Close())
	result = NewTCPChecker(addr).Check(context.Background())
	assert.False(t, result.Healthy)
}

func TestExecChecker(t *testing.T) {
	ok := NewExecChecker([]string{"sh", "-c", "test \"$FENCE_TARGET\" = h1"}).WithEnv("FENCE_TARGET=h1")
	assert.True(t, ok.Check(context.Background()).Healthy)

	fail := NewExecChecker([]string{"sh", "-c", "exit 3"})
	result := fail.Check(context.Background())
	assert.False(t, result.Healthy)
	assert.Contains(t, result.Message, "exit status 3")

	assert.False(t, NewExecChecker(nil).Check(context.Background()).Healthy)

	slow := NewExecChecker([]string{"sleep", "5"}).WithTimeout(50 * time.Millisecond)
	assert.False(t, slow.Check(context.Background()).Healthy)
}

func TestStatusRetries(t *testing.T) {
	cfg := Config{Retries: 2}
	s := NewStatus()

	s.Update(Result{Healthy: false}, cfg)
	assert.True(t, s.Healthy, "one failure is below the retry threshold")

	s.Update(Result{Healthy: false}, cfg)
	assert.False(t, s.Healthy)
	assert.Equal(t, 2, s.ConsecutiveFailures)

	s.Update(Result{Healthy: true}, cfg)
	assert.True(t, s.Healthy)
	assert.Zero(t, s.ConsecutiveFailures)
}

func TestStartPeriod(t *testing.T) {
	s := NewStatus()
	assert.False(t, s.InStartPeriod(Config{}))
	assert.True(t, s.InStartPeriod(Config{StartPeriod: time.Hour}))
}
