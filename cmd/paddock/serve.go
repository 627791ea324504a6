package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cuemby/paddock/pkg/api"
	"github.com/cuemby/paddock/pkg/events"
	"github.com/cuemby/paddock/pkg/log"
	"github.com/cuemby/paddock/pkg/manager"
	"github.com/cuemby/paddock/pkg/metrics"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run a scheduler manager node",
	Long: `Run a manager node: raft-replicated state, the deployment planner and
its reservation sweeper, the HA engine, the rebalancer and the API servers.

Without --join the node bootstraps a new single-node cluster (or resumes the
one recorded in its data directory).`,
	RunE: func(cmd *cobra.Command, args []string) error {
		joinAddr, _ := cmd.Flags().GetString("join")
		if path, _ := cmd.Flags().GetString("inventory"); path != "" {
			cfg.Server.InventoryFile = path
		}
		logger := log.WithComponent("serve")

		inv, err := loadInventory(cfg.Server.InventoryFile)
		if err != nil {
			return err
		}

		mgr, err := manager.NewManager(&manager.Config{
			NodeID:   cfg.Server.NodeID,
			BindAddr: cfg.Server.RaftBindAddr,
			DataDir:  cfg.Server.DataDir,
		})
		if err != nil {
			return fmt.Errorf("failed to create manager: %w", err)
		}

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if joinAddr != "" {
			err = mgr.Join(ctx, joinAddr)
		} else {
			err = mgr.Bootstrap()
		}
		if err != nil {
			mgr.Shutdown()
			return err
		}
		if err := mgr.WaitForLeader(ctx); err != nil {
			logger.Warn().Err(err).Msg("starting without a known leader")
		}

		broker := events.NewBroker()
		broker.Start()

		s, err := buildStack(cfg, inv, mgr, mgr, broker)
		if err != nil {
			broker.Stop()
			mgr.Shutdown()
			return err
		}

		s.deployer.Start()
		s.engine.Start()
		if err := s.rebalancer.Start(); err != nil {
			return err
		}

		collector := metrics.NewCollector(mgr, mgr)
		collector.Start()

		httpServer := api.NewHealthServer(mgr, mgr).WithImbalance(s.rebalancer, inv)
		grpcServer := api.NewGRPCServer()

		errCh := make(chan error, 2)
		go func() {
			if err := httpServer.Start(cfg.Server.HTTPAddr); err != nil {
				errCh <- fmt.Errorf("HTTP server error: %w", err)
			}
		}()
		go func() {
			if err := grpcServer.Start(cfg.Server.GRPCAddr); err != nil {
				errCh <- fmt.Errorf("gRPC server error: %w", err)
			}
		}()

		stopWatch := make(chan struct{})
		go watchLeadership(mgr, grpcServer, stopWatch)

		logger.Info().
			Str("node_id", cfg.Server.NodeID).
			Str("http_addr", cfg.Server.HTTPAddr).
			Str("grpc_addr", cfg.Server.GRPCAddr).
			Msg("manager running")

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

		var runErr error
		select {
		case <-sigCh:
			logger.Info().Msg("shutting down")
		case runErr = <-errCh:
			logger.Error().Err(runErr).Msg("server failed")
		}

		close(stopWatch)
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		_ = httpServer.Shutdown(shutdownCtx)
		grpcServer.Stop()
		collector.Stop()
		s.rebalancer.Stop()
		s.engine.Stop()
		s.deployer.Stop()
		broker.Stop()
		if err := mgr.Shutdown(); err != nil {
			return fmt.Errorf("failed to shutdown: %w", err)
		}

		logger.Info().Msg("shutdown complete")
		return runErr
	},
}

// watchLeadership mirrors raft state into the readiness registry and the
// gRPC health status
func watchLeadership(mgr *manager.Manager, grpcServer *api.GRPCServer, stop <-chan struct{}) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		leaderKnown := mgr.LeaderAddr() != ""
		msg := ""
		if !leaderKnown {
			msg = "no leader elected"
		}
		metrics.UpdateComponent("raft", leaderKnown, msg)
		grpcServer.SetServing(mgr.IsLeader())

		select {
		case <-stop:
			return
		case <-ticker.C:
		}
	}
}

func init() {
	serveCmd.Flags().String("inventory", "", "Inventory file (overrides server.inventory_file)")
	serveCmd.Flags().String("join", "", "HTTP address of an existing leader to join")
}
