package main

import (
	"github.com/spf13/cobra"
)

var cfgFile string

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scangrid",
		Short: "Batch web scanning across a cluster of browser workers.",
		Long: `scangrid schedules large batches of site scans across a pool of
worker nodes, pacing each domain with per-window rate limits and
robots.txt etiquette while keeping the cluster saturated.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is environment only)")

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newScanCmd())

	return cmd
}
