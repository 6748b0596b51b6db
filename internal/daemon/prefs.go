package daemon

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// patchDeveloperMode sets extensions.ui.developer_mode in the profile's
// Preferences file. Chrome reads the file only at startup, so this must run
// before the browser spawns; without it, --load-extension is silently
// ignored on recent versions.
func patchDeveloperMode(profileDir string) error {
	path := filepath.Join(profileDir, "Default", "Preferences")

	prefs := map[string]interface{}{}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := json.Unmarshal(data, &prefs); err != nil {
			return fmt.Errorf("failed to parse %s: %w", path, err)
		}
	case os.IsNotExist(err):
		// First launch: the profile does not exist yet.
	default:
		return err
	}

	ext, _ := prefs["extensions"].(map[string]interface{})
	if ext == nil {
		ext = map[string]interface{}{}
		prefs["extensions"] = ext
	}
	ui, _ := ext["ui"].(map[string]interface{})
	if ui == nil {
		ui = map[string]interface{}{}
		ext["ui"] = ui
	}
	ui["developer_mode"] = true

	out, err := json.Marshal(prefs)
	if err != nil {
		return fmt.Errorf("failed to marshal preferences: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return os.WriteFile(path, out, 0644)
}
