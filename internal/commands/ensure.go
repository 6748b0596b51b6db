package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/corralhq/corral/internal/daemon"
)

// EnsureCmd guarantees a reachable shared browser, starting the daemon if
// necessary.
var EnsureCmd = &cobra.Command{
	Use:   "ensure",
	Short: "Start the shared browser daemon if it is not already running",
	RunE:  runEnsure,
}

func runEnsure(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	if err := daemon.EnsureRunning(cfg); err != nil {
		return err
	}
	fmt.Printf("Browser available on %s\n", cfg.Endpoint())
	return nil
}
