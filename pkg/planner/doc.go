/*
Package planner holds the pluggable placement strategies and the registry
that resolves them by name.

A planner only decides the order in which clusters are tried. The planning
manager walks that order, asks the allocators for a host and a storage pool
in each cluster, and excludes a cluster once it yields nothing.

Built-in planners:

  - firstfit: clusters by aggregate free memory, then free cpu, largest
    first. Disabled clusters are skipped; clusters whose aggregate usage is
    above the configured disable threshold are only tried after the rest.
  - userdispersing: first-fit order, stably re-sorted so clusters running
    fewer of the owner's workloads come first. Clusters above the threshold
    still come last.

Planners are registered explicitly at startup:

	registry := planner.NewDefaultRegistry(inv, cfg.Planner.Default, cfg.Planner.ClusterDisableThreshold)
	p, err := registry.Get(hint) // "" selects the default
*/
package planner
