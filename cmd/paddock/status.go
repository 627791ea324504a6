package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/cuemby/paddock/pkg/api"
	"github.com/cuemby/paddock/pkg/client"
	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the state of a running manager",
	RunE: func(cmd *cobra.Command, args []string) error {
		httpAddr, _ := cmd.Flags().GetString("server")
		grpcAddr, _ := cmd.Flags().GetString("grpc")
		if httpAddr == "" {
			httpAddr = cfg.Server.HTTPAddr
		}
		if grpcAddr == "" {
			grpcAddr = cfg.Server.GRPCAddr
		}

		c, err := client.NewClient(httpAddr, grpcAddr)
		if err != nil {
			return err
		}
		defer c.Close()

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		raftStatus, err := c.GetRaftStatus(ctx)
		if err != nil {
			return err
		}
		serving, err := c.Health(ctx, api.ServiceName)
		if err != nil {
			return err
		}

		fmt.Printf("Manager %s\n", httpAddr)
		fmt.Printf("  Leader:     %t\n", raftStatus.Leader)
		fmt.Printf("  Scheduling: %t\n", serving)
		fmt.Printf("  Raft state: %v\n", raftStatus.Stats["state"])
		fmt.Println()

		tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintf(tw, "SERVER\tADDRESS\tSUFFRAGE\n")
		for _, s := range raftStatus.Servers {
			fmt.Fprintf(tw, "%s\t%s\t%s\n", s.ID, s.Address, s.Suffrage)
		}
		if err := tw.Flush(); err != nil {
			return err
		}

		scores, err := c.GetImbalance(ctx, "")
		if err != nil {
			return err
		}
		fmt.Println()
		tw = tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintf(tw, "CLUSTER\tIMBALANCE\n")
		for _, s := range scores {
			value := "-"
			if s.Defined {
				value = fmt.Sprintf("%.4f", s.Score)
			}
			fmt.Fprintf(tw, "%s\t%s\n", s.Cluster, value)
		}
		return tw.Flush()
	},
}

func init() {
	statusCmd.Flags().StringP("server", "s", "", "Manager HTTP address (defaults to server.http_addr)")
	statusCmd.Flags().String("grpc", "", "Manager gRPC address (defaults to server.grpc_addr)")
}
