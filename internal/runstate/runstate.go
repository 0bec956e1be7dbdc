// Package runstate persists the small sibling document that tracks a run's
// identity and progress (state/run_state.json): run_id, the iteration
// counter, and the start timestamp. It is separate from the tree store so
// the tree stays a pure plan artifact.
package runstate

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/opentree/loopctl/internal/fsutil"
)

// State is the run_state.json document.
type State struct {
	RunID     string    `json:"run_id"`
	Iteration int       `json:"iteration"`
	StartedAt time.Time `json:"started_at"`
}

// NewRunID mints a sortable, collision-resistant run identifier. ULIDs
// (github.com/oklog/ulid/v2) sort lexicographically with creation time,
// which keeps iterations/<run_id>/ directory listings in run order without a
// separate timestamp index.
func NewRunID() string {
	return ulid.Make().String()
}

// Store persists run state at a fixed path (conventionally state/run_state.json).
type Store struct {
	Path string
}

// NewStore returns a Store rooted at path.
func NewStore(path string) *Store {
	return &Store{Path: path}
}

// Load reads the persisted run state.
func (s *Store) Load() (*State, error) {
	data, err := os.ReadFile(s.Path)
	if err != nil {
		return nil, err
	}
	var st State
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", s.Path, err)
	}
	return &st, nil
}

// Save atomically persists st.
func (s *Store) Save(st *State) error {
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling run state: %w", err)
	}
	data = append(data, '\n')
	if err := fsutil.EnsureDir(filepath.Dir(s.Path)); err != nil {
		return fmt.Errorf("creating state directory: %w", err)
	}
	return fsutil.AtomicWriteFile(s.Path, data, 0o644)
}

// Advance increments the iteration counter and persists the result.
func (s *Store) Advance(st *State) error {
	st.Iteration++
	return s.Save(st)
}
