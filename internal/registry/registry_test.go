package registry

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	return New(filepath.Join(t.TempDir(), "registry.json"))
}

func TestCreateGroup(t *testing.T) {
	reg := newTestRegistry(t)

	g, err := reg.CreateGroup("  research  ", "blue")
	if err != nil {
		t.Fatalf("CreateGroup failed: %v", err)
	}
	if !strings.HasPrefix(g.ID, "grp_") {
		t.Errorf("expected grp_ prefixed id, got %q", g.ID)
	}
	if g.Name != "research" {
		t.Errorf("expected trimmed name, got %q", g.Name)
	}
	if g.Color != "blue" {
		t.Errorf("expected color blue, got %q", g.Color)
	}
	if g.CreatedAt.IsZero() {
		t.Error("expected CreatedAt to be set")
	}
}

func TestCreateGroupDefaultsAndInvalidColor(t *testing.T) {
	reg := newTestRegistry(t)

	g, err := reg.CreateGroup("   ", "chartreuse")
	if err != nil {
		t.Fatalf("CreateGroup failed: %v", err)
	}
	if g.Name != DefaultGroupName {
		t.Errorf("expected default name, got %q", g.Name)
	}
	if g.Color != "" {
		t.Errorf("expected invalid color to be dropped, got %q", g.Color)
	}
}

func TestCreateGroupIDsUnique(t *testing.T) {
	reg := newTestRegistry(t)

	seen := make(map[string]bool)
	for i := 0; i < 50; i++ {
		g, err := reg.CreateGroup("g", "")
		if err != nil {
			t.Fatalf("CreateGroup failed: %v", err)
		}
		if seen[g.ID] {
			t.Fatalf("duplicate group id %q", g.ID)
		}
		seen[g.ID] = true
	}
}

func TestDeleteGroupCascades(t *testing.T) {
	reg := newTestRegistry(t)

	alice, err := reg.CreateGroup("alice", "blue")
	if err != nil {
		t.Fatalf("CreateGroup alice failed: %v", err)
	}
	bob, err := reg.CreateGroup("bob", "green")
	if err != nil {
		t.Fatalf("CreateGroup bob failed: %v", err)
	}
	if err := reg.AddTab("t1", alice.ID, 0); err != nil {
		t.Fatalf("AddTab t1 failed: %v", err)
	}
	if err := reg.AddTab("t2", bob.ID, 0); err != nil {
		t.Fatalf("AddTab t2 failed: %v", err)
	}

	removed, err := reg.DeleteGroup(alice.ID)
	if err != nil {
		t.Fatalf("DeleteGroup failed: %v", err)
	}
	if len(removed) != 1 || removed[0] != "t1" {
		t.Errorf("expected removed [t1], got %v", removed)
	}

	groups, err := reg.ListGroups()
	if err != nil {
		t.Fatalf("ListGroups failed: %v", err)
	}
	if len(groups) != 1 {
		t.Fatalf("expected 1 group, got %d", len(groups))
	}
	if groups[0].Name != "bob" || groups[0].TabCount != 1 {
		t.Errorf("expected bob with 1 tab, got %s with %d", groups[0].Name, groups[0].TabCount)
	}

	tabs, err := reg.TabsInGroup(alice.ID)
	if err != nil {
		t.Fatalf("TabsInGroup failed: %v", err)
	}
	if len(tabs) != 0 {
		t.Errorf("expected no tabs in deleted group, got %d", len(tabs))
	}
}

func TestDeleteGroupNotFound(t *testing.T) {
	reg := newTestRegistry(t)
	if _, err := reg.DeleteGroup("g_missing"); !IsNotFound(err) {
		t.Fatalf("expected NotFound, got %v", err)
	}
}

func TestAddTabUnknownGroupLeavesFileUntouched(t *testing.T) {
	reg := newTestRegistry(t)

	if _, err := reg.CreateGroup("keep", ""); err != nil {
		t.Fatalf("CreateGroup failed: %v", err)
	}
	before, err := os.ReadFile(reg.Store().Path())
	if err != nil {
		t.Fatalf("failed to read registry file: %v", err)
	}

	if err := reg.AddTab("x", "g_missing", 0); !IsNotFound(err) {
		t.Fatalf("expected NotFound, got %v", err)
	}

	after, err := os.ReadFile(reg.Store().Path())
	if err != nil {
		t.Fatalf("failed to re-read registry file: %v", err)
	}
	if string(before) != string(after) {
		t.Error("registry file changed after failed AddTab")
	}
}

func TestRemoveTabIdempotent(t *testing.T) {
	reg := newTestRegistry(t)
	if err := reg.RemoveTab("never-added"); err != nil {
		t.Fatalf("RemoveTab on unknown target failed: %v", err)
	}
	if err := reg.RemoveTab("never-added"); err != nil {
		t.Fatalf("second RemoveTab failed: %v", err)
	}
}

func TestGroupForTab(t *testing.T) {
	reg := newTestRegistry(t)

	g, err := reg.CreateGroup("work", "red")
	if err != nil {
		t.Fatalf("CreateGroup failed: %v", err)
	}
	if err := reg.AddTab("t1", g.ID, 42); err != nil {
		t.Fatalf("AddTab failed: %v", err)
	}

	got, err := reg.GroupForTab("t1")
	if err != nil {
		t.Fatalf("GroupForTab failed: %v", err)
	}
	if got.ID != g.ID {
		t.Errorf("expected group %s, got %s", g.ID, got.ID)
	}

	if _, err := reg.GroupForTab("t_missing"); !IsNotFound(err) {
		t.Fatalf("expected NotFound for unknown tab, got %v", err)
	}
}

func TestPruneStale(t *testing.T) {
	reg := newTestRegistry(t)

	g, err := reg.CreateGroup("g", "")
	if err != nil {
		t.Fatalf("CreateGroup failed: %v", err)
	}
	for _, id := range []string{"a", "b", "c"} {
		if err := reg.AddTab(id, g.ID, 0); err != nil {
			t.Fatalf("AddTab %s failed: %v", id, err)
		}
	}
	if err := reg.RemoveTab("b"); err != nil {
		t.Fatalf("RemoveTab failed: %v", err)
	}

	removed, err := reg.PruneStale([]string{"a", "z"})
	if err != nil {
		t.Fatalf("PruneStale failed: %v", err)
	}
	if removed != 1 {
		t.Errorf("expected 1 removed, got %d", removed)
	}

	tabs, err := reg.TabsInGroup(g.ID)
	if err != nil {
		t.Fatalf("TabsInGroup failed: %v", err)
	}
	if len(tabs) != 1 || tabs[0].TargetID != "a" {
		t.Errorf("expected only tab a to survive, got %v", tabs)
	}
}

func TestRoundTripFreshHandle(t *testing.T) {
	path := filepath.Join(t.TempDir(), "registry.json")

	first := New(path)
	g1, err := first.CreateGroup("one", "blue")
	if err != nil {
		t.Fatalf("CreateGroup failed: %v", err)
	}
	g2, err := first.CreateGroup("two", "pink")
	if err != nil {
		t.Fatalf("CreateGroup failed: %v", err)
	}
	for i, target := range []string{"t1", "t2", "t3"} {
		groupID := g1.ID
		if i == 2 {
			groupID = g2.ID
		}
		if err := first.AddTab(target, groupID, 0); err != nil {
			t.Fatalf("AddTab %s failed: %v", target, err)
		}
	}

	// A fresh handle simulates a second process opening the same file.
	second := New(path)
	groups, err := second.ListGroups()
	if err != nil {
		t.Fatalf("ListGroups failed: %v", err)
	}
	if len(groups) != 2 {
		t.Fatalf("expected 2 groups, got %d", len(groups))
	}
	counts := map[string]int{}
	for _, g := range groups {
		counts[g.Name] = g.TabCount
	}
	if counts["one"] != 2 || counts["two"] != 1 {
		t.Errorf("unexpected tab counts: %v", counts)
	}

	tabs, err := second.TabsInGroup(g1.ID)
	if err != nil {
		t.Fatalf("TabsInGroup failed: %v", err)
	}
	if len(tabs) != 2 {
		t.Errorf("expected 2 tabs in group one, got %d", len(tabs))
	}
}

func TestCorruptRegistryTreatedAsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "registry.json")
	if err := os.WriteFile(path, []byte("{not json"), 0600); err != nil {
		t.Fatalf("failed to seed corrupt file: %v", err)
	}

	reg := New(path)
	groups, err := reg.ListGroups()
	if err != nil {
		t.Fatalf("ListGroups on corrupt file failed: %v", err)
	}
	if len(groups) != 0 {
		t.Errorf("expected empty registry, got %d groups", len(groups))
	}

	// Writes must still work after recovery.
	if _, err := reg.CreateGroup("fresh", ""); err != nil {
		t.Fatalf("CreateGroup after corrupt recovery failed: %v", err)
	}
}

func TestSetChromeGroupIDImmutable(t *testing.T) {
	reg := newTestRegistry(t)

	g, err := reg.CreateGroup("g", "")
	if err != nil {
		t.Fatalf("CreateGroup failed: %v", err)
	}
	if err := reg.SetChromeGroupID(g.ID, 7); err != nil {
		t.Fatalf("SetChromeGroupID failed: %v", err)
	}
	if err := reg.SetChromeGroupID(g.ID, 7); err != nil {
		t.Fatalf("re-attaching the same handle should be a no-op: %v", err)
	}
	if err := reg.SetChromeGroupID(g.ID, 8); err == nil {
		t.Fatal("expected error when changing an attached chrome group id")
	}
}

func TestExtensionIDPersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "registry.json")

	if err := New(path).SetExtensionID("abcdefghijklmnop"); err != nil {
		t.Fatalf("SetExtensionID failed: %v", err)
	}

	id, err := New(path).ExtensionID()
	if err != nil {
		t.Fatalf("ExtensionID failed: %v", err)
	}
	if id != "abcdefghijklmnop" {
		t.Errorf("expected persisted extension id, got %q", id)
	}
}
