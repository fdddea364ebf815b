package config

import (
	"encoding/json"
	"fmt"
	"os"
)

// SetMaintenanceMode rewrites the config file with pushover.maintenance_mode
// flipped, preserving every other key verbatim (including ones this engine
// does not recognize).
func SetMaintenanceMode(path string, enabled bool) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("error reading config file: %w", err)
	}

	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("error parsing config file: %w", err)
	}

	pushover, ok := raw["pushover"].(map[string]any)
	if !ok {
		pushover = make(map[string]any)
	}
	pushover["maintenance_mode"] = enabled
	raw["pushover"] = pushover

	out, err := json.MarshalIndent(raw, "", "    ")
	if err != nil {
		return fmt.Errorf("error encoding config file: %w", err)
	}
	if err := os.WriteFile(path, append(out, '\n'), 0o644); err != nil {
		return fmt.Errorf("error writing config file: %w", err)
	}
	return nil
}
