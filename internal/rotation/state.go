package rotation

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// State is the persisted rotation position. It survives restarts so a
// process that rotated away from an exhausted endpoint does not come back
// up pointing at it.
type State struct {
	CurrentIndex   int       `json:"currentIndex"`
	TotalEndpoints int       `json:"totalEndpoints"`
	LastUpdate     time.Time `json:"lastUpdate"`
}

// LoadState reads the rotation state file. A missing file yields the zero
// state; a corrupt or stale file (endpoint count changed) is discarded.
func LoadState(path string, totalEndpoints int) *State {
	fresh := &State{TotalEndpoints: totalEndpoints}

	data, err := os.ReadFile(path)
	if err != nil {
		return fresh
	}

	var state State
	if err := json.Unmarshal(data, &state); err != nil {
		return fresh
	}
	if state.TotalEndpoints != totalEndpoints || state.CurrentIndex < 0 || state.CurrentIndex >= totalEndpoints {
		return fresh
	}
	return &state
}

// SaveState writes the rotation state file, creating parent directories as
// needed
func SaveState(path string, state *State) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode state: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write state file: %w", err)
	}
	return nil
}
