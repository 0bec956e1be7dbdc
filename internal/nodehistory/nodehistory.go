// Package nodehistory tracks, per node id, the most recent non-passing
// iteration's agent summary and guard output. The context writer needs this
// to render the "history" and "failure" blocks for a node that is selected
// again after a failed attempt; nothing else in the system reads it, and it
// is never consulted for state-machine decisions.
package nodehistory

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/opentree/loopctl/internal/fsutil"
)

// Record is the last non-passing attempt's observable record for one node.
type Record struct {
	Summary string `json:"summary"`
	Failure string `json:"failure"`
}

// Store persists the map at a fixed path (conventionally
// state/node_history.json). It is not part of the schema-versioned tree: a
// missing or corrupt file degrades to "no history available", never a fatal
// error, since it only feeds advisory agent context.
type Store struct {
	Path string
}

// NewStore returns a Store rooted at path.
func NewStore(path string) *Store {
	return &Store{Path: path}
}

// Load returns the persisted history map, or an empty map if the file
// doesn't exist yet or fails to parse.
func (s *Store) Load() map[string]Record {
	data, err := os.ReadFile(s.Path)
	if err != nil {
		return map[string]Record{}
	}
	var m map[string]Record
	if err := json.Unmarshal(data, &m); err != nil {
		return map[string]Record{}
	}
	return m
}

// Save atomically persists m.
func (s *Store) Save(m map[string]Record) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling node history: %w", err)
	}
	data = append(data, '\n')
	if err := fsutil.EnsureDir(filepath.Dir(s.Path)); err != nil {
		return fmt.Errorf("creating state directory: %w", err)
	}
	return fsutil.AtomicWriteFile(s.Path, data, 0o644)
}
