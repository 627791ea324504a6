package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/cuemby/paddock/pkg/types"
	"github.com/spf13/cobra"
)

var planCmd = &cobra.Command{
	Use:   "plan WORKLOAD_ID",
	Short: "Find a destination for a workload in an inventory file",
	Long: `Run one placement for a workload of the inventory and print the chosen
destination. With --reserve the capacity is also reserved and committed,
showing the inventory usage afterwards.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path, _ := cmd.Flags().GetString("inventory")
		plannerName, _ := cmd.Flags().GetString("planner")
		reserve, _ := cmd.Flags().GetBool("reserve")
		avoid, _ := cmd.Flags().GetStringSlice("avoid-host")

		var plan types.DeploymentPlan
		plan.ClusterID, _ = cmd.Flags().GetString("cluster")
		plan.HostID, _ = cmd.Flags().GetString("host")
		plan.PoolID, _ = cmd.Flags().GetString("pool")

		if path == "" {
			path = cfg.Server.InventoryFile
		}
		inv, err := loadInventory(path)
		if err != nil {
			return err
		}
		store, cleanup, err := scratchStore()
		if err != nil {
			return err
		}
		defer cleanup()

		s, err := buildStack(cfg, inv, store, nil, nil)
		if err != nil {
			return err
		}

		ctx := context.Background()
		w, err := inv.GetWorkload(ctx, args[0])
		if err != nil {
			return err
		}
		plan.ZoneID = w.ZoneID

		exclude := types.NewExcludeList()
		for _, h := range avoid {
			exclude.AddHost(h)
		}

		var dest *types.Destination
		if reserve {
			r, err := s.deployer.Deploy(ctx, w, plan, exclude, plannerName)
			if err != nil {
				return err
			}
			if _, err := s.deployer.ConfirmReservation(ctx, r.Token); err != nil {
				return err
			}
			dest = &r.Destination
		} else {
			dest, err = s.deployer.PlanDeployment(ctx, w, plan, exclude, plannerName)
			if err != nil {
				return err
			}
		}

		tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintf(tw, "WORKLOAD\tZONE\tCLUSTER\tHOST\tPOOL\n")
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", w.ID, dest.ZoneID, dest.ClusterID, dest.HostID, dest.PoolID)
		if err := tw.Flush(); err != nil {
			return err
		}

		if reserve {
			host, err := inv.GetHost(ctx, dest.HostID)
			if err != nil {
				return err
			}
			fmt.Printf("\nHost %s after commit:\n", host.ID)
			for _, m := range []types.Metric{types.MetricCPU, types.MetricMemory} {
				u := host.Capacity.Get(m)
				fmt.Printf("  %-8s used %s of %s\n", m, trimFloat(u.Used), trimFloat(u.Total))
			}
		}
		return nil
	},
}

func trimFloat(v float64) string {
	s := fmt.Sprintf("%.2f", v)
	s = strings.TrimRight(s, "0")
	return strings.TrimSuffix(s, ".")
}

func init() {
	planCmd.Flags().StringP("inventory", "i", "", "Inventory file")
	planCmd.Flags().StringP("planner", "p", "", "Planner name (defaults to planner.default)")
	planCmd.Flags().String("cluster", "", "Pin the cluster")
	planCmd.Flags().String("host", "", "Pin the host")
	planCmd.Flags().String("pool", "", "Pin the storage pool")
	planCmd.Flags().StringSlice("avoid-host", nil, "Hosts to exclude")
	planCmd.Flags().Bool("reserve", false, "Reserve and commit the destination")
}
