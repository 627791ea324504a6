package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/cuemby/paddock/pkg/drs"
	"github.com/cuemby/paddock/pkg/log"
	"github.com/cuemby/paddock/pkg/manager"
	"github.com/cuemby/paddock/pkg/metrics"
	"github.com/cuemby/paddock/pkg/types"
	"github.com/hashicorp/raft"
	"github.com/rs/zerolog"
)

// Version is reported by /health
var Version = "0.1.0"

// Cluster is the raft side of the control plane
type Cluster interface {
	IsLeader() bool
	LeaderAddr() string
	GetRaftStats() map[string]interface{}
	GetClusterServers() ([]raft.Server, error)
	AddVoter(nodeID, address string) error
}

// StateReader lists the scheduler's durable state
type StateReader interface {
	ListWorkItems() ([]*types.HAWorkItem, error)
	ListReservations() ([]*types.Reservation, error)
}

// ImbalanceReader scores clusters
type ImbalanceReader interface {
	GetClusterImbalance(ctx context.Context, clusterID string) (float64, error)
}

// ClusterLister enumerates clusters when no cluster is named
type ClusterLister interface {
	ListClusters(ctx context.Context, zoneID string) ([]*types.Cluster, error)
}

// HealthServer provides the HTTP health, metrics and read-only status endpoints
type HealthServer struct {
	cluster   Cluster
	state     StateReader
	imbalance ImbalanceReader
	clusters  ClusterLister
	mux       *http.ServeMux
	server    *http.Server
	logger    zerolog.Logger
}

// NewHealthServer creates a new HTTP server. Either argument may be nil.
func NewHealthServer(cluster Cluster, state StateReader) *HealthServer {
	mux := http.NewServeMux()
	hs := &HealthServer{
		cluster: cluster,
		state:   state,
		mux:     mux,
		logger:  log.WithComponent("api"),
	}

	mux.HandleFunc("/health", hs.instrument("/health", hs.healthHandler))
	mux.HandleFunc("/ready", hs.instrument("/ready", hs.readyHandler))
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/v1/imbalance", hs.instrument("/v1/imbalance", hs.imbalanceHandler))
	mux.HandleFunc("/v1/workitems", hs.instrument("/v1/workitems", hs.workItemsHandler))
	mux.HandleFunc("/v1/raft", hs.instrument("/v1/raft", hs.raftHandler))
	mux.HandleFunc("/v1/raft/voters", hs.instrument("/v1/raft/voters", hs.votersHandler))

	return hs
}

// WithImbalance enables /v1/imbalance
func (hs *HealthServer) WithImbalance(reader ImbalanceReader, clusters ClusterLister) *HealthServer {
	hs.imbalance = reader
	hs.clusters = clusters
	return hs
}

// Start starts the HTTP server and blocks until it stops
func (hs *HealthServer) Start(addr string) error {
	hs.server = &http.Server{
		Addr:         addr,
		Handler:      hs.mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	hs.logger.Info().Str("addr", addr).Msg("HTTP API listening")
	err := hs.server.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown stops the HTTP server
func (hs *HealthServer) Shutdown(ctx context.Context) error {
	if hs.server == nil {
		return nil
	}
	return hs.server.Shutdown(ctx)
}

// GetHandler returns the HTTP handler for embedding in other servers
func (hs *HealthServer) GetHandler() http.Handler {
	return hs.mux
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (hs *HealthServer) instrument(route string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		timer := metrics.NewTimer()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next(rec, r)
		timer.ObserveDurationVec(metrics.APIRequestDuration, route)
		metrics.APIRequestsTotal.WithLabelValues(route, fmt.Sprint(rec.status)).Inc()
	}
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Version   string    `json:"version,omitempty"`
}

// ReadyResponse represents the readiness check response
type ReadyResponse struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Checks    map[string]string `json:"checks"`
	Message   string            `json:"message,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, errorResponse{Error: err.Error()})
}

// healthHandler is a liveness check: 200 while the process is alive
func (hs *HealthServer) healthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	writeJSON(w, http.StatusOK, HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now(),
		Version:   Version,
	})
}

// readyHandler checks raft leadership knowledge, storage access and the
// heartbeats of the scheduler loops
func (hs *HealthServer) readyHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	checks := make(map[string]string)
	ready := true
	var message string

	if hs.cluster != nil {
		if hs.cluster.IsLeader() {
			checks["raft"] = "leader"
		} else if leaderAddr := hs.cluster.LeaderAddr(); leaderAddr != "" {
			checks["raft"] = fmt.Sprintf("follower (leader: %s)", leaderAddr)
		} else {
			checks["raft"] = "no leader elected"
			ready = false
			message = "Waiting for leader election"
		}
	} else {
		checks["raft"] = "not initialized"
		ready = false
		message = "Manager not initialized"
	}

	if hs.state != nil {
		if _, err := hs.state.ListWorkItems(); err != nil {
			checks["storage"] = fmt.Sprintf("error: %v", err)
			ready = false
			if message == "" {
				message = "Storage not accessible"
			}
		} else {
			checks["storage"] = "ok"
		}
	} else {
		checks["storage"] = "not initialized"
		ready = false
	}

	for _, c := range metrics.Components() {
		if c.Healthy {
			checks[c.Name] = "ok"
			continue
		}
		checks[c.Name] = "unhealthy: " + c.Message
		ready = false
		if message == "" {
			message = c.Name + " unhealthy"
		}
	}

	status := "ready"
	statusCode := http.StatusOK
	if !ready {
		status = "not ready"
		statusCode = http.StatusServiceUnavailable
	}

	writeJSON(w, statusCode, ReadyResponse{
		Status:    status,
		Timestamp: time.Now(),
		Checks:    checks,
		Message:   message,
	})
}

// imbalanceHandler serves GET /v1/imbalance[?cluster=id]
func (hs *HealthServer) imbalanceHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if hs.imbalance == nil {
		writeError(w, http.StatusServiceUnavailable, errors.New("rebalancer not configured"))
		return
	}

	ctx := r.Context()
	var ids []string
	if id := r.URL.Query().Get("cluster"); id != "" {
		ids = []string{id}
	} else if hs.clusters != nil {
		clusters, err := hs.clusters.ListClusters(ctx, "")
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		for _, c := range clusters {
			ids = append(ids, c.ID)
		}
	}

	out := make([]types.ClusterImbalance, 0, len(ids))
	for _, id := range ids {
		score, err := hs.imbalance.GetClusterImbalance(ctx, id)
		if err != nil {
			code := http.StatusInternalServerError
			if errors.Is(err, types.ErrNotFound) {
				code = http.StatusNotFound
			}
			writeError(w, code, err)
			return
		}
		out = append(out, types.ClusterImbalance{Cluster: id, Score: score, Defined: score != drs.NoScore})
	}
	writeJSON(w, http.StatusOK, out)
}

// workItemsHandler serves GET /v1/workitems
func (hs *HealthServer) workItemsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if hs.state == nil {
		writeError(w, http.StatusServiceUnavailable, errors.New("storage not initialized"))
		return
	}

	items, err := hs.state.ListWorkItems()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if items == nil {
		items = []*types.HAWorkItem{}
	}
	writeJSON(w, http.StatusOK, items)
}

// raftHandler serves GET /v1/raft
func (hs *HealthServer) raftHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if hs.cluster == nil {
		writeError(w, http.StatusServiceUnavailable, errors.New("manager not initialized"))
		return
	}

	servers, err := hs.cluster.GetClusterServers()
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err)
		return
	}

	resp := types.RaftStatus{
		Leader:  hs.cluster.IsLeader(),
		Stats:   hs.cluster.GetRaftStats(),
		Servers: make([]types.RaftServer, 0, len(servers)),
	}
	for _, s := range servers {
		resp.Servers = append(resp.Servers, types.RaftServer{
			ID:       string(s.ID),
			Address:  string(s.Address),
			Suffrage: s.Suffrage.String(),
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

// votersHandler serves POST /v1/raft/voters, the join path for new managers
func (hs *HealthServer) votersHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if hs.cluster == nil {
		writeError(w, http.StatusServiceUnavailable, errors.New("manager not initialized"))
		return
	}

	var req types.VoterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request: %w", err))
		return
	}
	if req.NodeID == "" || req.Address == "" {
		writeError(w, http.StatusBadRequest, errors.New("node_id and address are required"))
		return
	}

	if err := hs.cluster.AddVoter(req.NodeID, req.Address); err != nil {
		code := http.StatusInternalServerError
		if errors.Is(err, manager.ErrNotLeader) {
			code = http.StatusConflict
		}
		hs.logger.Warn().Err(err).Str("voter_id", req.NodeID).Msg("join refused")
		writeError(w, code, err)
		return
	}
	writeJSON(w, http.StatusOK, req)
}
