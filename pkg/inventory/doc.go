/*
Package inventory defines the resource inventory the scheduler consumes and an
in-memory implementation of it.

The inventory owner is the single source of truth for capacity. The planner,
HA engine and rebalancer read candidate hosts and storage pools from it on
every attempt and never cache capacity across attempts. Because a candidate
may change between ranking and reservation, Reserve re-validates state and
free capacity atomically and fails with types.ErrResourceUnavailable when the
resource can no longer take the workload.

Reservation lifecycle:

	Reserve ──► Reserved += req ──┬── Commit  ──► Used += req
	                              └── Release ──► (capacity returned)

A static inventory can be loaded from YAML:

	clusters:
	  - {id: c1, zone: z1, pod: p1}
	hosts:
	  - id: h1
	    cluster: c1
	    tags: [ssd]
	    capacity:
	      cpu: {total: 16, used: 4}
	      memory: {total: 68719476736, used: 8589934592}
	storagePools:
	  - id: sp1
	    zone: z1          # zone-wide, no cluster
	    capacity:
	      storage: {total: 1099511627776}
	workloads:
	  - id: vm-1
	    host: h1
	    haEnabled: true
	    requirements: {cpu: 2, memory: 4294967296}
*/
package inventory
