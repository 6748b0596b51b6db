// Package registry tracks which tab belongs to which group across every
// client process sharing one browser. All state lives in a single JSON file
// guarded by an advisory file lock; operations are linearizable across
// processes because each one runs inside the lock's critical section.
package registry

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// DefaultGroupName is used when a group is created with a blank name.
const DefaultGroupName = "Untitled"

// groupColors is Chrome's fixed tab-group palette. Anything else is dropped,
// not rejected: a bad color should never fail group creation.
var groupColors = map[string]bool{
	"grey":   true,
	"blue":   true,
	"red":    true,
	"yellow": true,
	"green":  true,
	"pink":   true,
	"purple": true,
	"cyan":   true,
}

// NotFoundError reports a referenced group or tab that does not exist. It is
// surfaced synchronously to the caller and never retried.
type NotFoundError struct {
	Kind string // "group" or "tab"
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Kind, e.ID)
}

// IsNotFound reports whether err is a NotFoundError.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

// GroupSummary is a group plus its computed tab count, as returned by
// ListGroups.
type GroupSummary struct {
	TabGroup
	TabCount int `json:"tabCount"`
}

// Registry is the domain API over the lock-protected store.
type Registry struct {
	store *Store
}

// New returns a registry persisted at path.
func New(path string) *Registry {
	return &Registry{store: NewStore(path)}
}

// Store exposes the underlying store, mainly for tests.
func (r *Registry) Store() *Store {
	return r.store
}

// CreateGroup creates a new group and returns it. The name is trimmed and
// defaulted, an unknown color is silently dropped.
func (r *Registry) CreateGroup(name, color string) (*TabGroup, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		name = DefaultGroupName
	}
	if color != "" && !groupColors[color] {
		slog.Debug("dropping unknown group color", "color", color)
		color = ""
	}

	group := &TabGroup{
		ID:        "grp_" + uuid.NewString(),
		Name:      name,
		Color:     color,
		CreatedAt: time.Now().UTC(),
	}

	err := r.store.WithExclusive(func(s *State) error {
		s.Groups[group.ID] = group
		return nil
	})
	if err != nil {
		return nil, err
	}
	return group, nil
}

// ListGroups returns every group with its tab count, oldest first. The whole
// enumeration runs under the lock so the counts match the groups.
func (r *Registry) ListGroups() ([]GroupSummary, error) {
	var groups []GroupSummary
	err := r.store.View(func(s *State) error {
		counts := make(map[string]int, len(s.Groups))
		for _, tab := range s.Tabs {
			counts[tab.GroupID]++
		}
		for _, g := range s.Groups {
			groups = append(groups, GroupSummary{TabGroup: *g, TabCount: counts[g.ID]})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(groups, func(i, j int) bool {
		if !groups[i].CreatedAt.Equal(groups[j].CreatedAt) {
			return groups[i].CreatedAt.Before(groups[j].CreatedAt)
		}
		return groups[i].ID < groups[j].ID
	})
	return groups, nil
}

// DeleteGroup removes a group and every tab entry referencing it, returning
// the removed target ids so the caller can decide whether to close those tabs
// physically.
func (r *Registry) DeleteGroup(groupID string) ([]string, error) {
	var removed []string
	err := r.store.WithExclusive(func(s *State) error {
		if _, ok := s.Groups[groupID]; !ok {
			return &NotFoundError{Kind: "group", ID: groupID}
		}
		delete(s.Groups, groupID)
		for targetID, tab := range s.Tabs {
			if tab.GroupID == groupID {
				delete(s.Tabs, targetID)
				removed = append(removed, targetID)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(removed)
	return removed, nil
}

// AddTab attributes a target to a group, overwriting any previous
// attribution. nativeTabID may be zero when the browser's own tab id is not
// known yet.
func (r *Registry) AddTab(targetID, groupID string, nativeTabID int) error {
	return r.store.WithExclusive(func(s *State) error {
		if _, ok := s.Groups[groupID]; !ok {
			return &NotFoundError{Kind: "group", ID: groupID}
		}
		s.Tabs[targetID] = &TabEntry{
			TargetID:    targetID,
			GroupID:     groupID,
			AddedAt:     time.Now().UTC(),
			NativeTabID: nativeTabID,
		}
		return nil
	})
}

// RemoveTab drops a target's attribution. Removing an unknown target is a
// no-op.
func (r *Registry) RemoveTab(targetID string) error {
	return r.store.WithExclusive(func(s *State) error {
		delete(s.Tabs, targetID)
		return nil
	})
}

// GroupForTab returns the group a target belongs to.
func (r *Registry) GroupForTab(targetID string) (*TabGroup, error) {
	var group *TabGroup
	err := r.store.View(func(s *State) error {
		tab, ok := s.Tabs[targetID]
		if !ok {
			return &NotFoundError{Kind: "tab", ID: targetID}
		}
		g, ok := s.Groups[tab.GroupID]
		if !ok {
			return &NotFoundError{Kind: "group", ID: tab.GroupID}
		}
		copied := *g
		group = &copied
		return nil
	})
	if err != nil {
		return nil, err
	}
	return group, nil
}

// TabsInGroup returns the entries attributed to a group, oldest first. An
// unknown or deleted group yields an empty slice.
func (r *Registry) TabsInGroup(groupID string) ([]TabEntry, error) {
	var tabs []TabEntry
	err := r.store.View(func(s *State) error {
		for _, tab := range s.Tabs {
			if tab.GroupID == groupID {
				tabs = append(tabs, *tab)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(tabs, func(i, j int) bool {
		if !tabs[i].AddedAt.Equal(tabs[j].AddedAt) {
			return tabs[i].AddedAt.Before(tabs[j].AddedAt)
		}
		return tabs[i].TargetID < tabs[j].TargetID
	})
	return tabs, nil
}

// PruneStale removes every tab entry whose target is absent from the live
// set and returns how many were removed. The registry has no subscription to
// the browser's lifecycle, so callers run this opportunistically before
// enumerations.
func (r *Registry) PruneStale(liveTargetIDs []string) (int, error) {
	live := make(map[string]bool, len(liveTargetIDs))
	for _, id := range liveTargetIDs {
		live[id] = true
	}

	removed := 0
	err := r.store.WithExclusive(func(s *State) error {
		for targetID := range s.Tabs {
			if !live[targetID] {
				delete(s.Tabs, targetID)
				removed++
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	if removed > 0 {
		slog.Debug("pruned stale tab entries", "removed", removed)
	}
	return removed, nil
}

// SetChromeGroupID attaches the browser's native visual-group handle to a
// group. The handle is immutable once set; re-attaching the same value is a
// no-op.
func (r *Registry) SetChromeGroupID(groupID string, chromeGroupID int) error {
	return r.store.WithExclusive(func(s *State) error {
		g, ok := s.Groups[groupID]
		if !ok {
			return &NotFoundError{Kind: "group", ID: groupID}
		}
		if g.ChromeGroupID != 0 && g.ChromeGroupID != chromeGroupID {
			return fmt.Errorf("group %s already attached to chrome group %d", groupID, g.ChromeGroupID)
		}
		g.ChromeGroupID = chromeGroupID
		return nil
	})
}

// ExtensionID returns the cached companion-extension identifier, if any.
func (r *Registry) ExtensionID() (string, error) {
	var id string
	err := r.store.View(func(s *State) error {
		id = s.ExtensionID
		return nil
	})
	return id, err
}

// SetExtensionID persists the companion-extension identifier so future
// processes can skip full discovery.
func (r *Registry) SetExtensionID(id string) error {
	return r.store.WithExclusive(func(s *State) error {
		s.ExtensionID = id
		return nil
	})
}
