/*
Package allocator filters and ranks candidate hosts and storage pools for a
single placement attempt.

A candidate survives filtering when it is enabled and up, carries every tag
the workload requires, has enough free capacity for the workload, and is not
excluded directly or through its zone, pod or cluster. Survivors are then
ranked by an Ordering:

  - firstfit: name order
  - random: unbiased shuffle from a process-lifetime source
  - roundrobin: name order rotated by a per-scope cursor persisted in a
    CursorStore, so restarts do not reset distribution
  - leastconsumed: lowest used ratio first

The ranking is a snapshot. Capacity is re-validated when the planning
manager reserves the chosen resource.
*/
package allocator
