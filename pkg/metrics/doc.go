/*
Package metrics provides Prometheus metrics and component health for Paddock.

All collectors are package-level variables registered with the default
registry at init and exposed by Handler on /metrics.

# Metrics Catalog

Placement:

	paddock_placement_attempts_total{planner, result}
	paddock_placement_latency_seconds
	paddock_reservations_active
	paddock_reservations_expired_total

HA:

	paddock_ha_work_items{type, step}
	paddock_ha_transitions_total{step}
	paddock_ha_errors_total{type}

DRS:

	paddock_drs_cluster_imbalance{cluster}   (-1 when the mean is zero)
	paddock_drs_moves_total{result}
	paddock_drs_round_duration_seconds

Raft and API:

	paddock_raft_is_leader
	paddock_raft_log_index
	paddock_raft_applied_index
	paddock_api_requests_total{method, status}
	paddock_api_request_duration_seconds{method}

Gauges that mirror stored state (work items, active reservations, raft
indexes) are refreshed by a Collector every 15 seconds. Counters and
histograms are updated inline by the components that own them, usually with
a Timer:

	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.PlacementLatency)

# Health

Components report their state with RegisterComponent and UpdateComponent.
GetHealth is unhealthy when any component is; GetReadiness only considers the
critical components raft, planner, ha and drs, and is not ready until each of
them has registered healthy.
*/
package metrics
