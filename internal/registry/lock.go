package registry

import (
	"fmt"
	"log/slog"
	"math/rand/v2"
	"os"
	"strconv"
	"strings"
	"syscall"
	"time"
)

const (
	// LockSuffix is appended to the registry path to form the sentinel path.
	LockSuffix = ".lock"

	// defaultBreakAfter bounds how long Acquire waits before force-breaking
	// the lock. Liveness is favored over strict exclusion here: a holder
	// stalled longer than this loses the lock and its in-flight write may be
	// lost. No reconciliation exists for that case; see DESIGN.md.
	defaultBreakAfter = 3 * time.Second

	// Waits are expected to be sub-second, so Acquire spin-polls with jitter
	// instead of using a blocking primitive.
	pollInterval = 10 * time.Millisecond
)

// FileLock is an advisory cross-process lock backed by a sentinel file next
// to the registry. The sentinel is created with O_EXCL so two writers can
// never both win the create, and carries the owner PID in text so a crashed
// owner can be detected and recovered from.
type FileLock struct {
	path       string
	breakAfter time.Duration
}

// NewFileLock returns a lock guarding the given registry path.
func NewFileLock(registryPath string) *FileLock {
	return &FileLock{
		path:       registryPath + LockSuffix,
		breakAfter: defaultBreakAfter,
	}
}

// Path returns the sentinel file path.
func (l *FileLock) Path() string {
	return l.path
}

// Acquire blocks until this process owns the sentinel. A sentinel whose
// recorded owner is dead is deleted and the create retried; a sentinel that
// vanishes mid-check is retried without backoff. Once the bounded wait is
// exhausted the lock is broken regardless of owner liveness.
func (l *FileLock) Acquire() error {
	deadline := time.Now().Add(l.breakAfter)

	for {
		f, err := os.OpenFile(l.path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
		if err == nil {
			_, werr := fmt.Fprintf(f, "%d", os.Getpid())
			cerr := f.Close()
			if werr != nil || cerr != nil {
				os.Remove(l.path)
				return fmt.Errorf("failed to write lock sentinel %s: write=%v close=%v", l.path, werr, cerr)
			}
			return nil
		}
		if !os.IsExist(err) {
			return fmt.Errorf("failed to create lock sentinel: %w", err)
		}

		owner, ok := l.readOwner()
		if ok && !pidAlive(owner) {
			// Stale sentinel from a crashed owner. Recover silently.
			slog.Debug("removing stale lock sentinel", "path", l.path, "owner_pid", owner)
			os.Remove(l.path)
			continue
		}

		if time.Now().After(deadline) {
			slog.Warn("breaking lock held past wait bound",
				"path", l.path, "owner_pid", owner, "waited", l.breakAfter)
			os.Remove(l.path)
			// Fresh bound for the next contention round so a burst of
			// waiters does not thrash each other's sentinels.
			deadline = time.Now().Add(l.breakAfter)
			continue
		}

		if !ok {
			// Sentinel vanished or is mid-write. Retry without backoff.
			continue
		}

		time.Sleep(pollInterval + rand.N(pollInterval))
	}
}

// Release deletes the sentinel. An already-missing sentinel is fine: the lock
// may have been broken by a waiter while we were stalled.
func (l *FileLock) Release() {
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		slog.Warn("failed to remove lock sentinel", "path", l.path, "error", err)
	}
}

// readOwner reads the owner PID recorded in the sentinel. ok is false when
// the sentinel is gone or its content is not a PID yet.
func (l *FileLock) readOwner() (pid int, ok bool) {
	data, err := os.ReadFile(l.path)
	if err != nil {
		return 0, false
	}
	pid, err = strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0, false
	}
	return pid, true
}

// pidAlive probes a process with signal 0 (non-destructive). EPERM still
// means the process exists.
func pidAlive(pid int) bool {
	err := syscall.Kill(pid, syscall.Signal(0))
	return err == nil || err == syscall.EPERM
}
