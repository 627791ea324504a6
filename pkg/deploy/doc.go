/*
Package deploy implements the deployment planning manager: the single entry
point the API layer, the HA engine and the rebalancer use to find and reserve
a home for a workload.

# Planning

PlanDeployment runs in a fixed order:

 1. Draining clusters of the zone are added to the exclude list.
 2. Affinity processors narrow a copy of the plan (host affinity pins a
    host) or extend the exclude list (host anti-affinity).
 3. The planner resolved from the registry orders the candidate clusters.
 4. In each cluster the host and storage pool allocators are asked for
    ranked candidates; the first host and first pool form the destination.
 5. A cluster that yields nothing is excluded and the next one is tried.

Running out of clusters is the only way planning fails, with
types.ErrInsufficientCapacity. Contradictory affinity rules fail with
types.ErrAffinityConflict.

# Reservation

Ranking works on a snapshot, so FinalizeReservation re-validates capacity by
reserving through the inventory while holding the workload's lease. A
rejected reservation adds the resource to the caller's exclude list and
returns types.ErrResourceUnavailable; the caller plans again. Deploy wraps
that loop for the HA engine and the rebalancer.

	reservation, err := mgr.Deploy(ctx, profile, plan, exclude, "")
	if err != nil {
		return err
	}
	// start the workload at reservation.Destination, then
	_, err = mgr.ConfirmReservation(ctx, reservation.Token)

Unconfirmed reservations older than the TTL are released by
CleanupVMReservations, which the sweeper loop started by Start runs on the
raft leader every cleanup interval.
*/
package deploy
