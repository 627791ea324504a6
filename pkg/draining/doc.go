// Package draining decides which clusters and hosts are being drained. A
// cluster drains when it is disabled and carries the drain flag; a disabled
// cluster without the flag only refuses new placements. Draining clusters are
// added to the exclude list of every planning attempt, and the HA engine never
// restarts a workload into one.
package draining
