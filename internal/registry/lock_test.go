package registry

import (
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestAcquireRelease(t *testing.T) {
	lock := NewFileLock(filepath.Join(t.TempDir(), "registry.json"))

	if err := lock.Acquire(); err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	if _, err := os.Stat(lock.Path()); err != nil {
		t.Fatalf("expected sentinel to exist: %v", err)
	}

	lock.Release()
	if _, err := os.Stat(lock.Path()); !os.IsNotExist(err) {
		t.Fatalf("expected sentinel to be gone, got %v", err)
	}

	// Releasing an already-gone sentinel must be tolerated.
	lock.Release()
}

func TestMutualExclusion(t *testing.T) {
	path := filepath.Join(t.TempDir(), "registry.json")

	var (
		inCritical int32
		violations int32
		wg         sync.WaitGroup
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			lock := NewFileLock(path)
			for j := 0; j < 10; j++ {
				if err := lock.Acquire(); err != nil {
					t.Errorf("Acquire failed: %v", err)
					return
				}
				if atomic.AddInt32(&inCritical, 1) != 1 {
					atomic.AddInt32(&violations, 1)
				}
				time.Sleep(time.Millisecond)
				atomic.AddInt32(&inCritical, -1)
				lock.Release()
			}
		}()
	}
	wg.Wait()

	if violations != 0 {
		t.Fatalf("observed %d concurrent critical sections", violations)
	}
}

func TestStaleSentinelRecovered(t *testing.T) {
	path := filepath.Join(t.TempDir(), "registry.json")
	lock := NewFileLock(path)

	// Simulate a crashed owner: the sentinel survives but its PID is dead.
	// PIDs this large are beyond the kernel's default pid_max.
	if err := os.WriteFile(lock.Path(), []byte("999999999"), 0644); err != nil {
		t.Fatalf("failed to seed stale sentinel: %v", err)
	}

	start := time.Now()
	if err := lock.Acquire(); err != nil {
		t.Fatalf("Acquire over stale sentinel failed: %v", err)
	}
	if elapsed := time.Since(start); elapsed > defaultBreakAfter {
		t.Errorf("stale recovery took %v, should be well under the break bound", elapsed)
	}
	lock.Release()
}

func TestForceBreakAfterBoundedWait(t *testing.T) {
	if testing.Short() {
		t.Skip("waits for the full lock break bound")
	}

	path := filepath.Join(t.TempDir(), "registry.json")
	lock := NewFileLock(path)

	// A live owner that never releases: our own PID.
	if err := os.WriteFile(lock.Path(), []byte("1"), 0644); err != nil {
		t.Fatalf("failed to seed held sentinel: %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- lock.Acquire() }()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Acquire failed: %v", err)
		}
	case <-time.After(defaultBreakAfter + 2*time.Second):
		t.Fatal("Acquire did not force-break the lock within the bound")
	}
	lock.Release()
}

func TestUnparseableSentinelEventuallyBroken(t *testing.T) {
	if testing.Short() {
		t.Skip("waits for the full lock break bound")
	}

	path := filepath.Join(t.TempDir(), "registry.json")
	lock := NewFileLock(path)

	// An owner that can never be determined. Only the force-break
	// guarantees progress here.
	if err := os.WriteFile(lock.Path(), []byte("garbage"), 0644); err != nil {
		t.Fatalf("failed to seed sentinel: %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- lock.Acquire() }()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Acquire failed: %v", err)
		}
	case <-time.After(defaultBreakAfter + 2*time.Second):
		t.Fatal("Acquire never recovered the sentinel")
	}
	lock.Release()
}
