/*
Package api exposes the scheduler's operational surface.

Two servers run on every manager node:

  - HealthServer, plain HTTP:

	GET  /health          liveness, always 200 while the process runs
	GET  /ready           raft leader known and storage readable
	GET  /metrics         Prometheus exposition
	GET  /v1/imbalance    imbalance per cluster, ?cluster=<id> for one
	GET  /v1/workitems    HA work items
	GET  /v1/raft         raft stats and configuration
	POST /v1/raft/voters  add a manager, body {"node_id", "address"}

  - GRPCServer, the standard grpc.health.v1 service. The empty service name
    reports liveness; ServiceName reports SERVING only on the raft leader.

Every HTTP route and gRPC method is counted in paddock_api_requests_total and
timed in paddock_api_request_duration_seconds.

Workload placement and recovery are not driven through this package; the
HTTP surface is read-only apart from the raft join path.
*/
package api
