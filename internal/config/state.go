package config

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/aidanlsb/formsync/internal/atomicfile"
)

// StateVersion is written to every state file.
const StateVersion = 1

// StateFileName lives inside the data directory.
const StateFileName = "state.toml"

// State is the outcome of the last queue drain on this machine.
type State struct {
	Version       int       `toml:"version" json:"-"`
	LastDrainAt   time.Time `toml:"last_drain_at,omitempty" json:"at"`
	LastDelivered int       `toml:"last_delivered" json:"delivered"`
	LastRejected  int       `toml:"last_rejected" json:"rejected"`
	LastRemaining int       `toml:"last_remaining" json:"remaining"`
	LastError     string    `toml:"last_error,omitempty" json:"error,omitempty"`
}

// StatePath returns the state file path for a data directory.
func StatePath(dataDir string) string {
	return filepath.Join(dataDir, StateFileName)
}

// Drained reports whether a drain has ever been recorded.
func (s *State) Drained() bool {
	return s != nil && !s.LastDrainAt.IsZero()
}

// Summary is a one-line description of the last drain.
func (s *State) Summary() string {
	if !s.Drained() {
		return "No drain recorded"
	}
	line := fmt.Sprintf("Last drain %s: %d delivered, %d rejected, %d remaining",
		s.LastDrainAt.Local().Format(time.RFC3339), s.LastDelivered, s.LastRejected, s.LastRemaining)
	if s.LastError != "" {
		line += " (" + s.LastError + ")"
	}
	return line
}

// LoadState reads path. A missing file yields an empty state.
func LoadState(path string) (*State, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("state path is required")
	}

	state := &State{}
	if _, err := toml.DecodeFile(path, state); err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("parse state %s: %w", path, err)
		}
	}
	if state.Version == 0 {
		state.Version = StateVersion
	}
	return state, nil
}

// SaveState replaces path with state. Times are stored in UTC to the second.
func SaveState(path string, state *State) error {
	if strings.TrimSpace(path) == "" {
		return errors.New("state path is required")
	}

	out := State{Version: StateVersion}
	if state != nil {
		out = *state
		out.Version = StateVersion
	}
	out.LastError = strings.TrimSpace(out.LastError)
	if out.Drained() {
		out.LastDrainAt = out.LastDrainAt.UTC().Truncate(time.Second)
	}

	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(out); err != nil {
		return fmt.Errorf("encode state: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create state directory: %w", err)
	}
	return atomicfile.WriteFile(path, buf.Bytes(), 0o644)
}
