package main

import (
	"context"
	"fmt"
	"os"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/cuemby/paddock/pkg/client"
	"github.com/cuemby/paddock/pkg/storage"
	"github.com/cuemby/paddock/pkg/types"
	"github.com/spf13/cobra"
)

var workItemsCmd = &cobra.Command{
	Use:   "workitems",
	Short: "List HA work items",
	Long: `List HA work items. With --server the running manager is queried;
otherwise the data directory of a stopped manager is read directly.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		all, _ := cmd.Flags().GetBool("all")

		items, err := fetchWorkItems(cmd)
		if err != nil {
			return err
		}
		sort.Slice(items, func(i, j int) bool {
			return items[i].CreatedAt.Before(items[j].CreatedAt)
		})

		tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintf(tw, "ID\tWORKLOAD\tHOST\tTYPE\tSTEP\tTRIES\tUPDATED\tLAST ERROR\n")
		for _, item := range items {
			if !all && item.Step.IsTerminal() {
				continue
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%d\t%s\t%s\n",
				shortID(item.ID), item.WorkloadID, item.HostID, item.Type, item.Step,
				item.TimesTried, item.UpdatedAt.Format(time.RFC3339), item.LastError)
		}
		return tw.Flush()
	},
}

func fetchWorkItems(cmd *cobra.Command) ([]*types.HAWorkItem, error) {
	if server, _ := cmd.Flags().GetString("server"); server != "" {
		c, err := client.NewClient(server, "")
		if err != nil {
			return nil, err
		}
		defer c.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return c.ListWorkItems(ctx)
	}

	dataDir, _ := cmd.Flags().GetString("data-dir")
	if dataDir == "" {
		dataDir = cfg.Server.DataDir
	}
	store, err := storage.NewBoltStore(dataDir)
	if err != nil {
		return nil, err
	}
	defer store.Close()
	return store.ListWorkItems()
}

func init() {
	workItemsCmd.Flags().StringP("server", "s", "", "Query a running manager at this HTTP address")
	workItemsCmd.Flags().StringP("data-dir", "d", "", "Data directory (defaults to server.data_dir)")
	workItemsCmd.Flags().BoolP("all", "a", false, "Include finished items")
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
