package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/cuemby/paddock/pkg/drs"
	"github.com/spf13/cobra"
)

var imbalanceCmd = &cobra.Command{
	Use:   "imbalance [CLUSTER_ID...]",
	Short: "Print the imbalance score of clusters in an inventory file",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, cleanup, err := oneShotStack(cmd)
		if err != nil {
			return err
		}
		defer cleanup()

		ctx := context.Background()
		ids := args
		if len(ids) == 0 {
			clusters, err := s.inv.ListClusters(ctx, "")
			if err != nil {
				return err
			}
			for _, c := range clusters {
				ids = append(ids, c.ID)
			}
		}

		tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintf(tw, "CLUSTER\tIMBALANCE\tTHRESHOLD\tALGORITHM\n")
		for _, id := range ids {
			score, err := s.rebalancer.GetClusterImbalance(ctx, id)
			if err != nil {
				return err
			}
			settings := cfg.DRSForCluster(id)
			value := "-"
			if score != drs.NoScore {
				value = fmt.Sprintf("%.4f", score)
			}
			fmt.Fprintf(tw, "%s\t%s\t%.2f\t%s\n", id, value, settings.ImbalanceThreshold, settings.Algorithm)
		}
		return tw.Flush()
	},
}

var rebalanceCmd = &cobra.Command{
	Use:   "rebalance CLUSTER_ID",
	Short: "Run one rebalancing round against an inventory file",
	Long: `Compute a rebalancing plan for a cluster and, unless --dry-run is given,
execute its migrations against a simulated agent. The round is printed
as JSON.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		dryRun, _ := cmd.Flags().GetBool("dry-run")

		s, cleanup, err := oneShotStack(cmd)
		if err != nil {
			return err
		}
		defer cleanup()

		round, err := s.rebalancer.Balance(context.Background(), args[0], dryRun)
		if err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(round)
	},
}

func oneShotStack(cmd *cobra.Command) (*stack, func(), error) {
	path, _ := cmd.Flags().GetString("inventory")
	if path == "" {
		path = cfg.Server.InventoryFile
	}
	inv, err := loadInventory(path)
	if err != nil {
		return nil, nil, err
	}
	store, cleanup, err := scratchStore()
	if err != nil {
		return nil, nil, err
	}
	s, err := buildStack(cfg, inv, store, nil, nil)
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	return s, cleanup, nil
}

func init() {
	imbalanceCmd.Flags().StringP("inventory", "i", "", "Inventory file")
	rebalanceCmd.Flags().StringP("inventory", "i", "", "Inventory file")
	rebalanceCmd.Flags().Bool("dry-run", false, "Plan only, do not migrate")
}
