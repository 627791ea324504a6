package main

import (
	"fmt"
	"os"
	"time"

	"github.com/cuemby/paddock/pkg/agent"
	"github.com/cuemby/paddock/pkg/allocator"
	"github.com/cuemby/paddock/pkg/config"
	"github.com/cuemby/paddock/pkg/deploy"
	"github.com/cuemby/paddock/pkg/drs"
	"github.com/cuemby/paddock/pkg/events"
	"github.com/cuemby/paddock/pkg/ha"
	"github.com/cuemby/paddock/pkg/inventory"
	"github.com/cuemby/paddock/pkg/lease"
	"github.com/cuemby/paddock/pkg/planner"
	"github.com/cuemby/paddock/pkg/storage"
)

// stack is the scheduler wired over one inventory and one store
type stack struct {
	inv        *inventory.Memory
	exec       *agent.Simulated
	leases     *lease.Manager
	deployer   *deploy.Manager
	engine     *ha.Engine
	rebalancer *drs.Rebalancer
}

// leader is satisfied by *manager.Manager
type leader interface {
	IsLeader() bool
}

func buildStack(cfg *config.Config, inv *inventory.Memory, store storage.Store, ld leader, broker *events.Broker) (*stack, error) {
	hostOrder, err := allocator.NewOrdering(cfg.Planner.HostAllocator, store)
	if err != nil {
		return nil, err
	}
	poolOrder, err := allocator.NewOrdering(cfg.Planner.PoolAllocator, store)
	if err != nil {
		return nil, err
	}

	exec := agent.NewSimulated(inv)
	leases := lease.NewManager(cfg.HA.VmOpWaitInterval, cfg.HA.VmOpLockStateRetry, 100*time.Millisecond)

	deployOpts := deploy.Options{
		ReservationTTL:    cfg.Planner.ReservationTTL,
		CleanupInterval:   cfg.Planner.CleanupInterval,
		MaxDeployAttempts: cfg.Planner.MaxDeployAttempts,
		Broker:            broker,
	}
	haOpts := ha.Options{Broker: broker}
	if ld != nil {
		deployOpts.Leader = ld
		haOpts.Leader = ld
	}

	deployer := deploy.NewManager(
		inv,
		store,
		planner.NewDefaultRegistry(inv, cfg.Planner.Default, cfg.Planner.ClusterDisableThreshold),
		allocator.NewHostAllocator(inv, hostOrder),
		allocator.NewPoolAllocator(inv, poolOrder),
		leases,
		deployOpts,
	)
	engine := ha.NewEngine(inv, store, exec, deployer, leases, cfg.HA, haOpts)

	drsOpts := drs.Options{Pending: engine, Broker: broker}
	if ld != nil {
		drsOpts.Leader = ld
	}
	rebalancer := drs.NewRebalancer(inv, deployer, exec, leases, cfg, drsOpts)

	return &stack{
		inv:        inv,
		exec:       exec,
		leases:     leases,
		deployer:   deployer,
		engine:     engine,
		rebalancer: rebalancer,
	}, nil
}

func loadInventory(path string) (*inventory.Memory, error) {
	if path == "" {
		return nil, fmt.Errorf("an inventory file is required (--inventory or server.inventory_file)")
	}
	inv, err := inventory.LoadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load inventory: %w", err)
	}
	return inv, nil
}

// scratchStore opens a throwaway store for one-shot commands
func scratchStore() (*storage.BoltStore, func(), error) {
	dir, err := os.MkdirTemp("", "paddock-")
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create scratch dir: %w", err)
	}
	store, err := storage.NewBoltStore(dir)
	if err != nil {
		os.RemoveAll(dir)
		return nil, nil, err
	}
	return store, func() {
		store.Close()
		os.RemoveAll(dir)
	}, nil
}
