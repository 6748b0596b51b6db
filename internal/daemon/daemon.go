// Package daemon supervises the single shared browser process and provides
// the client used to guarantee one is reachable. Exactly one daemon runs per
// machine, guarded by a PID lock; every other process talks to its browser
// through the remote-debugging port.
package daemon

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"os/signal"
	"runtime"
	"strings"
	"syscall"
	"time"

	"github.com/corralhq/corral/internal/cdp"
	"github.com/corralhq/corral/internal/config"
	"github.com/corralhq/corral/internal/logging"
)

const (
	healthInterval = 5 * time.Second

	// How long a freshly spawned browser gets to open its debug port.
	startupProbes        = 40
	startupProbeInterval = 250 * time.Millisecond

	killGracePeriod = 5 * time.Second
)

// Supervisor owns the shared browser: it spawns the binary with the
// remote-debugging port, probes /json/version on a fixed interval, and
// respawns the process when the probe fails or the process exits.
type Supervisor struct {
	cfg    *config.Config
	client *cdp.Client
	log    *slog.Logger

	cmd    *exec.Cmd
	exited chan error
}

// NewSupervisor returns a supervisor for the configured browser. Run does
// the actual work.
func NewSupervisor(cfg *config.Config) *Supervisor {
	return &Supervisor{
		cfg:    cfg,
		client: cdp.NewClient(cfg.Endpoint()),
		log:    logging.WithDaemon(os.Getpid(), cfg.DebugPort),
	}
}

// Run takes the PID lock, launches the browser and blocks in the health loop
// until SIGINT or SIGTERM. A second daemon on the same machine fails fast.
func (s *Supervisor) Run() error {
	pidPath := PIDPath()
	if pid, ok := RunningPID(pidPath); ok {
		return fmt.Errorf("daemon already running (pid %d)", pid)
	}
	if err := writePID(pidPath); err != nil {
		return fmt.Errorf("failed to write pid file: %w", err)
	}
	defer os.Remove(pidPath)

	if err := s.spawn(); err != nil {
		return err
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	ticker := time.NewTicker(healthInterval)
	defer ticker.Stop()

	for {
		select {
		case sig := <-sigChan:
			s.log.Info("shutting down", "signal", sig.String())
			s.kill()
			return nil

		case err := <-s.exited:
			s.log.Warn("browser exited, restarting", "error", err)
			s.cmd = nil
			if err := s.spawn(); err != nil {
				return err
			}

		case <-ticker.C:
			if s.client.Alive() {
				continue
			}
			s.log.Warn("health probe failed, restarting browser")
			s.kill()
			if err := s.spawn(); err != nil {
				return err
			}
		}
	}
}

func (s *Supervisor) spawn() error {
	bin := s.cfg.BrowserPath
	if bin == "" {
		bin = FindBrowserBinary()
	}
	if bin == "" {
		return errors.New("no browser binary found on PATH; set browser_path in the config")
	}

	// --load-extension only takes effect with extension developer mode on,
	// and the profile is read once at startup.
	if len(s.cfg.Extensions) > 0 {
		if err := patchDeveloperMode(s.cfg.ProfileDir); err != nil {
			s.log.Warn("failed to patch profile preferences", "error", err)
		}
	}

	if err := os.MkdirAll(s.cfg.ProfileDir, 0755); err != nil {
		return fmt.Errorf("failed to create profile dir: %w", err)
	}

	args := []string{
		fmt.Sprintf("--remote-debugging-port=%d", s.cfg.DebugPort),
		"--user-data-dir=" + s.cfg.ProfileDir,
		"--no-first-run",
		"--no-default-browser-check",
	}
	if len(s.cfg.Extensions) > 0 {
		args = append(args, "--load-extension="+strings.Join(s.cfg.Extensions, ","))
	}
	args = append(args, s.cfg.ExtraFlags...)

	cmd := exec.Command(bin, args...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to launch browser: %w", err)
	}

	s.cmd = cmd
	exited := make(chan error, 1)
	s.exited = exited
	go func() { exited <- cmd.Wait() }()

	s.log.Info("browser started", "browser_pid", cmd.Process.Pid, "binary", bin)

	for i := 0; i < startupProbes; i++ {
		time.Sleep(startupProbeInterval)
		if s.client.Alive() {
			s.log.Info("browser ready", "endpoint", s.cfg.Endpoint())
			return nil
		}
	}

	// Not fatal: the health loop keeps probing and will restart it.
	s.log.Warn("browser not answering after startup wait", "endpoint", s.cfg.Endpoint())
	return nil
}

// kill terminates the whole browser process group. Chrome forks renderers
// into the group; killing only the leader leaves orphans holding the profile
// lock.
func (s *Supervisor) kill() {
	if s.cmd == nil || s.cmd.Process == nil {
		return
	}
	syscall.Kill(-s.cmd.Process.Pid, syscall.SIGTERM)
	select {
	case <-s.exited:
	case <-time.After(killGracePeriod):
		syscall.Kill(-s.cmd.Process.Pid, syscall.SIGKILL)
		<-s.exited
	}
	s.cmd = nil
}

// Stop signals the daemon recorded in the PID lock.
func Stop() error {
	pid, ok := RunningPID(PIDPath())
	if !ok {
		return errors.New("daemon not running")
	}
	if err := syscall.Kill(pid, syscall.SIGTERM); err != nil {
		return fmt.Errorf("failed to signal daemon (pid %d): %w", pid, err)
	}
	return nil
}

// Status describes the daemon and its browser as seen from outside.
type Status struct {
	Running      bool
	PID          int
	Endpoint     string
	BrowserAlive bool
	Browser      string
}

// GetStatus reads the PID lock and probes the debug endpoint.
func GetStatus(cfg *config.Config) Status {
	st := Status{Endpoint: cfg.Endpoint()}
	st.PID, st.Running = RunningPID(PIDPath())

	client := cdp.NewClient(cfg.Endpoint())
	if v, err := client.Version(); err == nil {
		st.BrowserAlive = true
		st.Browser = v.Browser
	}
	return st
}

// FindBrowserBinary locates a Chrome or Chromium executable.
func FindBrowserBinary() string {
	candidates := []string{
		"google-chrome-stable",
		"google-chrome",
		"chromium-browser",
		"chromium",
	}
	for _, name := range candidates {
		if path, err := exec.LookPath(name); err == nil {
			return path
		}
	}

	// macOS keeps Chrome in an .app bundle off PATH.
	if runtime.GOOS == "darwin" {
		macPaths := []string{
			"/Applications/Google Chrome.app/Contents/MacOS/Google Chrome",
			"/Applications/Chromium.app/Contents/MacOS/Chromium",
		}
		for _, p := range macPaths {
			if _, err := os.Stat(p); err == nil {
				return p
			}
		}
	}

	return ""
}
