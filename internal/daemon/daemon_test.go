package daemon

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/corralhq/corral/internal/cdp"
	"github.com/corralhq/corral/internal/cdptest"
)

func pidPath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "daemon.pid")
}

func TestRunningPIDLiveOwner(t *testing.T) {
	path := pidPath(t)
	if err := writePID(path); err != nil {
		t.Fatalf("writePID failed: %v", err)
	}

	pid, ok := RunningPID(path)
	if !ok {
		t.Fatal("expected a live pid")
	}
	if pid != os.Getpid() {
		t.Errorf("expected own pid %d, got %d", os.Getpid(), pid)
	}
}

func TestRunningPIDStaleOwnerRemoved(t *testing.T) {
	path := pidPath(t)
	// Unlikely to be a real pid.
	if err := os.WriteFile(path, []byte(strconv.Itoa(999999999)), 0644); err != nil {
		t.Fatalf("seed failed: %v", err)
	}

	if _, ok := RunningPID(path); ok {
		t.Fatal("dead owner must not count as running")
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("stale pid file must be removed")
	}
}

func TestRunningPIDGarbageRemoved(t *testing.T) {
	path := pidPath(t)
	if err := os.WriteFile(path, []byte("garbage"), 0644); err != nil {
		t.Fatalf("seed failed: %v", err)
	}

	if _, ok := RunningPID(path); ok {
		t.Fatal("unparseable pid file must not count as running")
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("unparseable pid file must be removed")
	}
}

func TestRunningPIDMissingFile(t *testing.T) {
	if _, ok := RunningPID(pidPath(t)); ok {
		t.Fatal("missing pid file must not count as running")
	}
}

func readPrefs(t *testing.T, profileDir string) map[string]interface{} {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(profileDir, "Default", "Preferences"))
	if err != nil {
		t.Fatalf("failed to read preferences: %v", err)
	}
	var prefs map[string]interface{}
	if err := json.Unmarshal(data, &prefs); err != nil {
		t.Fatalf("failed to parse preferences: %v", err)
	}
	return prefs
}

func developerMode(prefs map[string]interface{}) bool {
	ext, _ := prefs["extensions"].(map[string]interface{})
	ui, _ := ext["ui"].(map[string]interface{})
	on, _ := ui["developer_mode"].(bool)
	return on
}

func TestPatchDeveloperModeFreshProfile(t *testing.T) {
	profile := t.TempDir()
	if err := patchDeveloperMode(profile); err != nil {
		t.Fatalf("patchDeveloperMode failed: %v", err)
	}
	if !developerMode(readPrefs(t, profile)) {
		t.Error("expected developer_mode to be set")
	}
}

func TestPatchDeveloperModeKeepsExistingKeys(t *testing.T) {
	profile := t.TempDir()
	dir := filepath.Join(profile, "Default")
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatalf("mkdir failed: %v", err)
	}
	seed := `{"browser":{"theme":"dark"},"extensions":{"pinned":["abc"],"ui":{"zoom":2}}}`
	if err := os.WriteFile(filepath.Join(dir, "Preferences"), []byte(seed), 0644); err != nil {
		t.Fatalf("seed failed: %v", err)
	}

	if err := patchDeveloperMode(profile); err != nil {
		t.Fatalf("patchDeveloperMode failed: %v", err)
	}

	prefs := readPrefs(t, profile)
	if !developerMode(prefs) {
		t.Error("expected developer_mode to be set")
	}
	browser, _ := prefs["browser"].(map[string]interface{})
	if browser["theme"] != "dark" {
		t.Error("unrelated keys must survive the patch")
	}
	ext := prefs["extensions"].(map[string]interface{})
	if _, present := ext["pinned"]; !present {
		t.Error("sibling extension keys must survive the patch")
	}
	ui := ext["ui"].(map[string]interface{})
	if ui["zoom"] != float64(2) {
		t.Error("sibling ui keys must survive the patch")
	}
}

func TestPatchDeveloperModeCorruptPreferences(t *testing.T) {
	profile := t.TempDir()
	dir := filepath.Join(profile, "Default")
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatalf("mkdir failed: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "Preferences"), []byte("{not json"), 0644); err != nil {
		t.Fatalf("seed failed: %v", err)
	}

	if err := patchDeveloperMode(profile); err == nil {
		t.Fatal("expected an error for a corrupt preferences file")
	}
}

func TestWaitReady(t *testing.T) {
	browser := cdptest.New(t)

	if !waitReady(cdp.NewClient(browser.Endpoint()), 3, time.Millisecond) {
		t.Error("expected ready against a live endpoint")
	}
	if waitReady(cdp.NewClient("http://127.0.0.1:1"), 3, time.Millisecond) {
		t.Error("expected not ready against a closed port")
	}
}
