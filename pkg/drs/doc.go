/*
Package drs implements the dynamic resource scheduler, which moves running
workloads between the hosts of a cluster to change how load is spread.

# Imbalance

The imbalance of a cluster is the population standard deviation of its
hosts' normalized metric values divided by their mean. Each value is the
used (or free) ratio of one metric relative to that host's own capacity,
so an evenly loaded cluster scores 0 whatever its size. When the mean is
zero, or no host is comparable, the score is NoScore.

Hosts whose used ratio is past the skip threshold take no part: they are
neither sources nor targets, and they do not count toward the score.

Normalizer is the extension point for other metrics. RatioNormalizer
handles one metric.

# Rounds

A round plans up to MaxMoves(N, IterationsFraction) moves, where N is the
number of movable workloads. Each iteration simulates every (workload,
target) pair against the state left by the moves already chosen, ranks the
candidates by benefit and then cost, and keeps the best. A workload moves
at most once per round.

	round, err := rebalancer.Balance(ctx, "cluster-1", false)

The algorithm decides when a round runs and what counts as a benefit:
Balanced reduces imbalance and runs above the threshold; Condensed
concentrates load and runs below it.

Every move goes through the deployment planner with the source host
excluded, under the workload's lease. Workloads with pending HA work, or
whose lease is taken, are skipped.

# Automatic mode

Start runs one timer per cluster whose effective settings enable automatic
DRS. Clusters added after Start are picked up on the next restart.
*/
package drs
