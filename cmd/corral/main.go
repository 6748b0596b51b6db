package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/corralhq/corral/internal/commands"
	"github.com/corralhq/corral/internal/logging"
)

var (
	// Version is set at build time via -ldflags "-X main.Version=X.Y.Z"
	Version = "0.0.0-dev"
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "corral",
	Short: "Corral - share one browser across processes with owned tab groups",
	Long: `Corral owns a single shared Chrome process and a cross-process registry
of tab groups, so independent tools can claim, group and release tabs
without stepping on each other.

Quick Start:
  corral ensure                   Start the shared browser if needed
  corral group create --name dev  Create a tab group
  corral tab open <url> --group <group-id>

Commands:
  ensure                     Guarantee the shared browser daemon is running
  daemon stop|status         Manage the browser daemon
  group create|list|delete   Manage owned tab groups
  tab add|remove|list|open|close
                             Manage tabs owned by groups
  extension status           Check the companion extension

Config: ~/.corral/config.yaml
State:  ~/.corral/registry.json`,
	Version: Version,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		logging.Init(verbose)
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")

	rootCmd.AddCommand(commands.EnsureCmd)
	rootCmd.AddCommand(commands.DaemonCmd)
	rootCmd.AddCommand(commands.GroupCmd)
	rootCmd.AddCommand(commands.TabCmd)
	rootCmd.AddCommand(commands.ExtensionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
