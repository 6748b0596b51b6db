package commands

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/corralhq/corral/internal/config"
	"github.com/corralhq/corral/internal/daemon"
)

var daemonConfigJSON string

// DaemonCmd groups the supervisor commands.
var DaemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Manage the shared browser daemon",
}

// DaemonRunCmd runs the supervisor in the foreground. Hidden: normal users
// go through `corral ensure`, which spawns this detached.
var DaemonRunCmd = &cobra.Command{
	Use:    "run",
	Short:  "Run the browser supervisor in the foreground",
	Hidden: true,
	RunE:   runDaemon,
}

// DaemonStopCmd stops the running daemon.
var DaemonStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the browser daemon",
	RunE:  stopDaemon,
}

// DaemonStatusCmd shows daemon and browser status.
var DaemonStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show daemon and browser status",
	RunE:  daemonStatus,
}

func init() {
	DaemonRunCmd.Flags().StringVar(&daemonConfigJSON, "config-json", "", "serialized config handed over by the spawning process")
	DaemonCmd.AddCommand(DaemonRunCmd)
	DaemonCmd.AddCommand(DaemonStopCmd)
	DaemonCmd.AddCommand(DaemonStatusCmd)
}

func runDaemon(cmd *cobra.Command, args []string) error {
	var cfg *config.Config
	if daemonConfigJSON != "" {
		cfg = &config.Config{}
		if err := json.Unmarshal([]byte(daemonConfigJSON), cfg); err != nil {
			return fmt.Errorf("invalid --config-json: %w", err)
		}
	} else {
		var err error
		cfg, err = loadConfig()
		if err != nil {
			return err
		}
	}

	return daemon.NewSupervisor(cfg).Run()
}

func stopDaemon(cmd *cobra.Command, args []string) error {
	if err := daemon.Stop(); err != nil {
		return err
	}
	fmt.Println("Daemon stopped")
	return nil
}

func daemonStatus(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	st := daemon.GetStatus(cfg)
	if !st.Running {
		fmt.Println("Daemon is not running")
	} else {
		fmt.Printf("Daemon is running (pid %d)\n", st.PID)
	}
	if st.BrowserAlive {
		fmt.Printf("Browser: %s on %s\n", st.Browser, st.Endpoint)
	} else {
		fmt.Printf("Browser not answering on %s\n", st.Endpoint)
	}
	return nil
}
