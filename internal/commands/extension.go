package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/corralhq/corral/internal/extension"
)

// ExtensionCmd groups the companion-extension subcommands.
var ExtensionCmd = &cobra.Command{
	Use:   "extension",
	Short: "Inspect the companion extension",
}

var extensionStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Check whether the companion extension is reachable",
	RunE:  runExtensionStatus,
}

func init() {
	ExtensionCmd.AddCommand(extensionStatusCmd)
}

func runExtensionStatus(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	reg := openRegistry(cfg)

	bridge := extension.New(reg)
	h, err := bridge.Discover(cfg.Endpoint())
	if err != nil {
		fmt.Printf("Extension unavailable: %v\n", err)
		return nil
	}

	fmt.Printf("Extension reachable (id %s, target %s)\n", h.ExtensionID, h.TargetID)
	return nil
}
