package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/cuemby/paddock/pkg/types"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// Client talks to a running manager: its HTTP API for status and the raft
// join path, and optionally its gRPC health service.
type Client struct {
	baseURL string
	http    *http.Client
	conn    *grpc.ClientConn
}

// NewClient creates a client for the manager's HTTP address. grpcAddr may
// be empty when Health is not needed.
func NewClient(httpAddr, grpcAddr string) (*Client, error) {
	c := &Client{
		baseURL: "http://" + httpAddr,
		http:    &http.Client{Timeout: 10 * time.Second},
	}

	if grpcAddr != "" {
		conn, err := grpc.NewClient(grpcAddr, grpc.WithTransportCredentials(insecure.NewCredentials()))
		if err != nil {
			return nil, fmt.Errorf("failed to connect to %s: %w", grpcAddr, err)
		}
		c.conn = conn
	}
	return c, nil
}

// Close closes the gRPC connection
func (c *Client) Close() error {
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("failed to reach manager: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var e struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&e)
		if e.Error == "" {
			e.Error = resp.Status
		}
		if resp.StatusCode == http.StatusNotFound {
			return fmt.Errorf("%s: %w", e.Error, types.ErrNotFound)
		}
		return fmt.Errorf("%s %s: %s", method, path, e.Error)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// JoinCluster asks the leader to add nodeID at raftAddr as a voter
func (c *Client) JoinCluster(ctx context.Context, nodeID, raftAddr string) error {
	return c.do(ctx, http.MethodPost, "/v1/raft/voters", types.VoterRequest{NodeID: nodeID, Address: raftAddr}, nil)
}

// ListWorkItems returns the manager's HA work items
func (c *Client) ListWorkItems(ctx context.Context) ([]*types.HAWorkItem, error) {
	var items []*types.HAWorkItem
	if err := c.do(ctx, http.MethodGet, "/v1/workitems", nil, &items); err != nil {
		return nil, err
	}
	return items, nil
}

// GetImbalance returns the score of one cluster, or of all clusters when
// clusterID is empty
func (c *Client) GetImbalance(ctx context.Context, clusterID string) ([]types.ClusterImbalance, error) {
	path := "/v1/imbalance"
	if clusterID != "" {
		path += "?cluster=" + url.QueryEscape(clusterID)
	}
	var scores []types.ClusterImbalance
	if err := c.do(ctx, http.MethodGet, path, nil, &scores); err != nil {
		return nil, err
	}
	return scores, nil
}

// GetRaftStatus returns the raft view of the manager
func (c *Client) GetRaftStatus(ctx context.Context) (*types.RaftStatus, error) {
	var status types.RaftStatus
	if err := c.do(ctx, http.MethodGet, "/v1/raft", nil, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// Health checks a gRPC health service; service "" is process liveness
func (c *Client) Health(ctx context.Context, service string) (bool, error) {
	if c.conn == nil {
		return false, fmt.Errorf("no gRPC address configured")
	}
	resp, err := healthpb.NewHealthClient(c.conn).Check(ctx, &healthpb.HealthCheckRequest{Service: service})
	if err != nil {
		return false, fmt.Errorf("health check failed: %w", err)
	}
	return resp.Status == healthpb.HealthCheckResponse_SERVING, nil
}
