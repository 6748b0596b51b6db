package registry

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

// State is the persisted aggregate: every group and tab association for one
// shared browser, plus the cached companion-extension id. It is disposable
// soft state: anything here can be rebuilt from the live browser.
type State struct {
	Groups      map[string]*TabGroup `json:"groups"`
	Tabs        map[string]*TabEntry `json:"tabs"`
	ExtensionID string               `json:"extensionId,omitempty"`
}

// TabGroup is a named, optionally colored collection of tabs.
type TabGroup struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Color     string    `json:"color,omitempty"`
	CreatedAt time.Time `json:"createdAt"`

	// ChromeGroupID is the browser's own visual-group handle, attached
	// lazily by the extension bridge. Zero means not attached yet; once set
	// it never changes.
	ChromeGroupID int `json:"chromeGroupId,omitempty"`
}

// TabEntry associates one debuggable target with exactly one group.
type TabEntry struct {
	TargetID string    `json:"targetId"`
	GroupID  string    `json:"groupId"`
	AddedAt  time.Time `json:"addedAt"`

	// NativeTabID is the browser's internal tab id (the extension's
	// namespace), distinct from TargetID. Zero means unknown.
	NativeTabID int `json:"nativeTabId,omitempty"`
}

func newState() *State {
	return &State{
		Groups: make(map[string]*TabGroup),
		Tabs:   make(map[string]*TabEntry),
	}
}

// Store serializes read-modify-write access to the registry file across OS
// processes. The file lock is the only exclusion mechanism: each process
// talks to the store from a single logical thread, so no in-process mutex is
// needed.
type Store struct {
	path string
	lock *FileLock
}

// NewStore returns a store over the registry file at path.
func NewStore(path string) *Store {
	return &Store{
		path: path,
		lock: NewFileLock(path),
	}
}

// Path returns the registry file path.
func (s *Store) Path() string {
	return s.path
}

// WithExclusive runs fn inside the cross-process critical section and
// persists the mutated state as a full-file overwrite. An error from fn
// aborts the write, leaving the file untouched. The lock is released on every
// exit path.
func (s *Store) WithExclusive(fn func(*State) error) error {
	if err := s.lock.Acquire(); err != nil {
		return err
	}
	defer s.lock.Release()

	state := s.load()
	if err := fn(state); err != nil {
		return err
	}
	return s.save(state)
}

// View runs fn inside the critical section without writing back, for
// consistent read-only snapshots.
func (s *Store) View(fn func(*State) error) error {
	if err := s.lock.Acquire(); err != nil {
		return err
	}
	defer s.lock.Release()

	return fn(s.load())
}

// load reads the registry file. Missing or corrupt content yields an empty
// state, never an error: the registry self-heals from the live browser.
func (s *Store) load() *State {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			slog.Warn("registry unreadable, starting empty", "path", s.path, "error", err)
		}
		return newState()
	}

	var state State
	if err := json.Unmarshal(data, &state); err != nil {
		slog.Warn("registry corrupt, starting empty", "path", s.path, "error", err)
		return newState()
	}
	if state.Groups == nil {
		state.Groups = make(map[string]*TabGroup)
	}
	if state.Tabs == nil {
		state.Tabs = make(map[string]*TabEntry)
	}
	return &state
}

func (s *Store) save(state *State) error {
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal registry: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return fmt.Errorf("failed to create registry directory: %w", err)
	}
	if err := os.WriteFile(s.path, data, 0600); err != nil {
		return fmt.Errorf("failed to write registry: %w", err)
	}
	return nil
}
