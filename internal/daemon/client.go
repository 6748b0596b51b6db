package daemon

import (
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"syscall"
	"time"

	"github.com/corralhq/corral/internal/cdp"
	"github.com/corralhq/corral/internal/config"
)

const (
	readyAttempts = 60
	readyInterval = 500 * time.Millisecond
)

// EnsureRunning guarantees a reachable shared browser: if the PID lock names
// a live daemon and the debug endpoint answers, it returns immediately;
// otherwise it spawns a fully detached daemon and waits for the endpoint to
// come up.
func EnsureRunning(cfg *config.Config) error {
	client := cdp.NewClient(cfg.Endpoint())

	_, running := RunningPID(PIDPath())
	if running && client.Alive() {
		return nil
	}

	if !running {
		if err := spawnDetached(cfg); err != nil {
			return err
		}
	}

	if waitReady(client, readyAttempts, readyInterval) {
		return nil
	}
	return fmt.Errorf("browser did not become reachable on %s within %v; run `corral daemon status` to inspect, or start it in the foreground with `corral daemon run`",
		cfg.Endpoint(), time.Duration(readyAttempts)*readyInterval)
}

func waitReady(client *cdp.Client, attempts int, interval time.Duration) bool {
	for i := 0; i < attempts; i++ {
		if client.Alive() {
			return true
		}
		time.Sleep(interval)
	}
	return false
}

// spawnDetached re-executes this binary as `daemon run`, handing over the
// caller's effective config so the daemon does not depend on the config file
// being in sync.
func spawnDetached(cfg *config.Config) error {
	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("failed to locate own executable: %w", err)
	}

	data, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to serialize config: %w", err)
	}

	cmd := exec.Command(exe, "daemon", "run", "--config-json", string(data))
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	cmd.Stdin = nil
	cmd.Stdout = nil
	cmd.Stderr = nil

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start daemon: %w", err)
	}
	return cmd.Process.Release()
}
