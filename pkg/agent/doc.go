// Package agent defines the boundary to the hypervisor agents on each host.
// The scheduler only sees Executor.Apply: a command goes in, an Answer or a
// delivery error comes out. Simulated is an Executor backed by the in-memory
// inventory; `paddock serve` uses it with a static inventory file and the HA
// and DRS tests use it to inject partitions and failed commands.
package agent
