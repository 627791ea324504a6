package main

import (
	"fmt"
	"os"

	"github.com/cuemby/paddock/pkg/api"
	"github.com/cuemby/paddock/pkg/config"
	"github.com/cuemby/paddock/pkg/log"
	"github.com/spf13/cobra"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

var (
	configFile string
	cfg        *config.Config
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "paddock",
	Short: "Paddock - placement, HA recovery and rebalancing for IaaS clusters",
	Long: `Paddock decides where workloads run on a pool of hypervisor hosts and
storage pools, restarts them when their host fails, and evens out load
across the hosts of a cluster.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(configFile)
		if err != nil {
			return err
		}

		level, _ := cmd.Flags().GetString("log-level")
		if level == "" {
			level = cfg.Log.Level
		}
		log.Init(log.Config{
			Level:      log.ParseLevel(level),
			JSONOutput: cfg.Log.JSON,
			Output:     os.Stderr,
		})
		api.Version = Version
		return nil
	},
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"Paddock version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "Config file (YAML)")
	rootCmd.PersistentFlags().String("log-level", "", "Log level (debug, info, warn, error)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(planCmd)
	rootCmd.AddCommand(imbalanceCmd)
	rootCmd.AddCommand(rebalanceCmd)
	rootCmd.AddCommand(workItemsCmd)
	rootCmd.AddCommand(statusCmd)
}
