/*
Package log provides structured logging for Paddock using zerolog.

The package wraps a single global zerolog.Logger that is configured once at
process start and then shared by every component. Components derive child
loggers carrying the identifiers they operate on, so a placement decision or an
HA transition can be traced across the planner, the HA engine and the DRS
rebalancer by filtering on one field.

# Configuration

	log.Init(log.Config{
		Level:      log.InfoLevel,
		JSONOutput: true,
		Output:     os.Stdout,
	})

Until Init is called the global logger discards everything, which keeps unit
tests quiet.

# Context Loggers

  - WithComponent: "planner", "ha", "drs", "reservations", "api"
  - WithWorkloadID: workload being placed or recovered
  - WithHostID: host being investigated or fenced
  - WithClusterID: cluster being rebalanced
  - WithWorkItemID: HA work item being advanced

Example:

	logger := log.WithComponent("ha").With().
		Str("work_item_id", item.ID).
		Str("workload_id", item.WorkloadID).
		Logger()
	logger.Info().Str("step", string(item.Step)).Msg("advanced work item")

# Levels

Debug is used for per-candidate decisions (why a host was filtered out), Info
for placements and state transitions, Warn for transient failures that will be
retried, and Error for terminal failures that raise an alert.
*/
package log
