package ha

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/cuemby/paddock/pkg/agent"
	"github.com/cuemby/paddock/pkg/inventory"
	"github.com/cuemby/paddock/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAgentInvestigator(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	closed, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	closedAddr := closed.Addr().String()
	closed.Close()

	tests := []struct {
		name    string
		address string
		want    types.Status
	}{
		{name: "agent answers", address: ln.Addr().String(), want: types.StatusUp},
		{name: "agent silent", address: closedAddr, want: types.StatusUnknown},
		{name: "no address", address: "", want: types.StatusUnknown},
	}

	inv := NewAgentInvestigator(nil)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			status, err := inv.Investigate(ctx, &types.ResourceCandidate{ID: "h1", Address: tt.address})
			require.NoError(t, err)
			assert.Equal(t, tt.want, status)
		})
	}
}

func TestAgentInvestigatorOverHTTP(t *testing.T) {
	healthy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/agent/health" {
			http.NotFound(w, r)
		}
	}))
	defer healthy.Close()
	draining := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer draining.Close()

	inv := NewAgentInvestigator(ProbeFor("http", "/agent/health"))
	ctx := context.Background()

	status, err := inv.Investigate(ctx, &types.ResourceCandidate{ID: "h1", Address: strings.TrimPrefix(healthy.URL, "http://")})
	require.NoError(t, err)
	assert.Equal(t, types.StatusUp, status)

	status, err = inv.Investigate(ctx, &types.ResourceCandidate{ID: "h2", Address: strings.TrimPrefix(draining.URL, "http://")})
	require.NoError(t, err)
	assert.Equal(t, types.StatusUnknown, status)
}

func TestNeighborInvestigator(t *testing.T) {
	mem, err := inventory.Parse([]byte(fixture))
	require.NoError(t, err)
	sim := agent.NewSimulated(mem)
	nb := NewNeighborInvestigator(mem, sim)
	ctx := context.Background()

	host, err := mem.GetHost(ctx, "h1")
	require.NoError(t, err)

	status, err := nb.Investigate(ctx, host)
	require.NoError(t, err)
	assert.Equal(t, types.StatusUp, status)

	sim.SetReachable("h1", false)
	status, err = nb.Investigate(ctx, host)
	require.NoError(t, err)
	assert.Equal(t, types.StatusDown, status)

	// neighbors that cannot answer prove nothing
	sim.SetReachable("h2", false)
	sim.SetReachable("h3", false)
	status, err = nb.Investigate(ctx, host)
	require.NoError(t, err)
	assert.Equal(t, types.StatusUnknown, status)
}

func TestNeighborFencer(t *testing.T) {
	mem, err := inventory.Parse([]byte(fixture))
	require.NoError(t, err)
	sim := agent.NewSimulated(mem)
	ctx := context.Background()

	host, err := mem.GetHost(ctx, "h1")
	require.NoError(t, err)

	require.NoError(t, mem.SetHostStatus("h2", types.ResourceMaintenance))
	sim.SetReachable("h3", false)
	fenced, err := NewNeighborFencer(mem, sim).Fence(ctx, host)
	require.NoError(t, err)
	assert.False(t, fenced)

	sim.SetReachable("h3", true)
	fenced, err = NewNeighborFencer(mem, sim).Fence(ctx, host)
	require.NoError(t, err)
	assert.True(t, fenced)

	host, err = mem.GetHost(ctx, "h1")
	require.NoError(t, err)
	assert.Equal(t, types.ResourceDown, host.Status)
}

func TestExecFencer(t *testing.T) {
	host := &types.ResourceCandidate{ID: "h1", Address: "10.0.0.1"}
	ctx := context.Background()

	tests := []struct {
		name    string
		command []string
		want    bool
	}{
		{name: "placeholders and env", command: []string{"sh", "-c", `test "$PADDOCK_HOST_ID" = {host} && test "$PADDOCK_HOST_ADDRESS" = {address}`}, want: true},
		{name: "command fails", command: []string{"false"}, want: false},
		{name: "no command", command: nil, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fenced, err := NewExecFencer(tt.command, 5*time.Second).Fence(ctx, host)
			require.NoError(t, err)
			assert.Equal(t, tt.want, fenced)
		})
	}
}
