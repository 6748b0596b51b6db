package logging

import (
	"log/slog"
	"os"
	"strings"
)

// Init configures the global slog logger. With CORRAL_LOG_FORMAT=json it uses
// JSON output (useful when the daemon log is collected by another tool),
// otherwise the human-readable text handler. Verbose lowers the level to debug.
func Init(verbose bool) {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}

	var handler slog.Handler
	if strings.EqualFold(os.Getenv("CORRAL_LOG_FORMAT"), "json") {
		handler = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	} else {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	}

	slog.SetDefault(slog.New(handler))
}

// WithDaemon returns a logger with daemon lifecycle fields attached. Use this
// for all logging inside the supervisor so restarts can be traced per browser
// generation.
func WithDaemon(pid, port int) *slog.Logger {
	return slog.With("daemon_pid", pid, "debug_port", port)
}
