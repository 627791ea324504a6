package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Placement metrics
	PlacementAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "paddock_placement_attempts_total",
			Help: "Total number of placement attempts by planner and result",
		},
		[]string{"planner", "result"},
	)

	PlacementLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "paddock_placement_latency_seconds",
			Help:    "Time taken to plan a deployment in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	ReservationsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "paddock_reservations_active",
			Help: "Number of unconfirmed reservations",
		},
	)

	ReservationsExpired = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "paddock_reservations_expired_total",
			Help: "Total number of reservations released by the sweeper",
		},
	)

	// HA metrics
	HAWorkItems = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "paddock_ha_work_items",
			Help: "Number of HA work items by type and step",
		},
		[]string{"type", "step"},
	)

	HATransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "paddock_ha_transitions_total",
			Help: "Total number of HA work item transitions by target step",
		},
		[]string{"step"},
	)

	HAErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "paddock_ha_errors_total",
			Help: "Total number of HA work items that reached Error by type",
		},
		[]string{"type"},
	)

	// DRS metrics
	ClusterImbalance = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "paddock_drs_cluster_imbalance",
			Help: "Last computed imbalance score per cluster (-1 when undefined)",
		},
		[]string{"cluster"},
	)

	RebalanceMoves = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "paddock_drs_moves_total",
			Help: "Total number of rebalance moves by result",
		},
		[]string{"result"},
	)

	RebalanceDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "paddock_drs_round_duration_seconds",
			Help:    "Time taken by one rebalance round in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Raft metrics
	RaftLeader = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "paddock_raft_is_leader",
			Help: "Whether this node is the Raft leader (1 = leader, 0 = follower)",
		},
	)

	RaftLogIndex = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "paddock_raft_log_index",
			Help: "Current Raft log index",
		},
	)

	RaftAppliedIndex = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "paddock_raft_applied_index",
			Help: "Last applied Raft log index",
		},
	)

	// API metrics
	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "paddock_api_requests_total",
			Help: "Total number of API requests by method and status",
		},
		[]string{"method", "status"},
	)

	APIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "paddock_api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)
)

func init() {
	// Register all metrics
	prometheus.MustRegister(PlacementAttempts)
	prometheus.MustRegister(PlacementLatency)
	prometheus.MustRegister(ReservationsActive)
	prometheus.MustRegister(ReservationsExpired)
	prometheus.MustRegister(HAWorkItems)
	prometheus.MustRegister(HATransitions)
	prometheus.MustRegister(HAErrors)
	prometheus.MustRegister(ClusterImbalance)
	prometheus.MustRegister(RebalanceMoves)
	prometheus.MustRegister(RebalanceDuration)
	prometheus.MustRegister(RaftLeader)
	prometheus.MustRegister(RaftLogIndex)
	prometheus.MustRegister(RaftAppliedIndex)
	prometheus.MustRegister(APIRequestsTotal)
	prometheus.MustRegister(APIRequestDuration)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
