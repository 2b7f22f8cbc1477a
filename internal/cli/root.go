// Package cli defines the gyre command tree.
package cli

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "gyre",
	Short: "Spiral-indexed memory store for AI agents",
	Long:  "Gyre stores agent memory nodes on append-only spirals and keeps derived spiral statistics consistent with the ground truth. Single Go binary.",
}

var configPath string

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to YAML config file")
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(repairCmd)
}
