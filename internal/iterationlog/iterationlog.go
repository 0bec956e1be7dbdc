// Package iterationlog writes the append-only per-iteration artifact tree:
// snapshot and log files under iterations/<run_id>/iter-<n>/, plus a
// hash-chained meta.jsonl ledger with one entry per iteration, so a reader
// can walk a run's history and detect a tampered or dropped entry without
// re-reading every tree snapshot. Callers supply only the artifacts an
// iteration actually produced (a failed executor call has no guard.log,
// for instance).
package iterationlog

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/zeebo/blake3"

	"github.com/opentree/loopctl/internal/fsutil"
	"github.com/opentree/loopctl/internal/node"
)

// Entry is one line of the run's meta.jsonl ledger: a tamper-evident record
// of what happened in a single iteration.
type Entry struct {
	RunID         string `json:"run_id"`
	Iteration     int    `json:"iteration"`
	SelectedID    string `json:"selected_id"`
	Status        string `json:"status"`
	Guard         string `json:"guard"`
	DurationMs    int64  `json:"duration_ms"`
	TreeAfterHash string `json:"tree_after_hash"`
	PrevHash      string `json:"prev_hash,omitempty"`
	Checksum      string `json:"checksum"`
}

// Meta is the per-iteration meta.json document: the same core fields as
// Entry without the chain-ledger bookkeeping, plus reserved timestamp
// fields that are not yet populated.
type Meta struct {
	RunID      string `json:"run_id"`
	Iteration  int    `json:"iteration"`
	SelectedID string `json:"selected_id"`
	Status     string `json:"status"`
	Guard      string `json:"guard"`
	DurationMs int64  `json:"duration_ms"`
	StartedAt  string `json:"started_at,omitempty"`
	EndedAt    string `json:"ended_at,omitempty"`
}

// Capture bundles the raw bytes for one iteration's artifact files. Fields
// left nil/empty are simply not written; a decompose iteration, for
// example, has no GuardLog.
type Capture struct {
	TreeBefore []byte
	TreeAfter  []byte
	Output     []byte
	Executor   []byte
	Guard      []byte
	Failure    []byte
}

// Option configures an iteration capture.
type Option func(*Capture)

func WithOutput(b []byte) Option      { return func(c *Capture) { c.Output = b } }
func WithExecutorLog(b []byte) Option { return func(c *Capture) { c.Executor = b } }
func WithGuardLog(b []byte) Option    { return func(c *Capture) { c.Guard = b } }
func WithFailureLog(b []byte) Option  { return func(c *Capture) { c.Failure = b } }

// Writer appends iteration artifacts and ledger entries under
// iterations/<run_id>/.
type Writer struct {
	RunDir string // iterations/<run_id>
	RunID  string
}

// NewWriter returns a Writer rooted at <iterationsDir>/<runID>.
func NewWriter(iterationsDir, runID string) *Writer {
	return &Writer{RunDir: filepath.Join(iterationsDir, runID), RunID: runID}
}

// Write materializes iter-<n>/ with the supplied before/after trees and
// whatever artifacts opts supply, then appends a hash-chained entry to
// meta.jsonl. Every write here is additive: the iteration's files go under
// iter-<n>/, and meta.jsonl is only ever opened for append.
func (w *Writer) Write(iteration int, before, after *node.Tree, selectedID, status, guard string, durationMs int64, opts ...Option) error {
	capture := &Capture{}
	for _, opt := range opts {
		opt(capture)
	}

	beforeBytes, err := node.CanonicalBytes(before)
	if err != nil {
		return fmt.Errorf("serializing tree.before.json: %w", err)
	}
	afterBytes, err := node.CanonicalBytes(after)
	if err != nil {
		return fmt.Errorf("serializing tree.after.json: %w", err)
	}
	capture.TreeBefore, capture.TreeAfter = beforeBytes, afterBytes

	iterDir := filepath.Join(w.RunDir, fmt.Sprintf("iter-%d", iteration))
	if err := fsutil.EnsureDir(iterDir); err != nil {
		return fmt.Errorf("creating iteration directory: %w", err)
	}

	metaBytes, err := json.MarshalIndent(Meta{
		RunID: w.RunID, Iteration: iteration, SelectedID: selectedID,
		Status: status, Guard: guard, DurationMs: durationMs,
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling meta.json: %w", err)
	}

	files := map[string][]byte{
		"tree.before.json": capture.TreeBefore,
		"tree.after.json":  capture.TreeAfter,
		"meta.json":        append(metaBytes, '\n'),
	}
	if capture.Output != nil {
		files["output.json"] = capture.Output
	}
	if capture.Executor != nil {
		files["executor.log"] = capture.Executor
	}
	if capture.Guard != nil {
		files["guard.log"] = capture.Guard
	}
	if capture.Failure != nil {
		files["failure.log"] = capture.Failure
	}
	for name, data := range files {
		if err := os.WriteFile(filepath.Join(iterDir, name), data, 0o644); err != nil {
			return fmt.Errorf("writing %s: %w", name, err)
		}
	}

	hash := blake3.Sum256(capture.TreeAfter)
	entry := Entry{
		RunID: w.RunID, Iteration: iteration, SelectedID: selectedID,
		Status: status, Guard: guard, DurationMs: durationMs,
		TreeAfterHash: fmt.Sprintf("%x", hash),
	}
	return w.appendMeta(entry)
}

// appendMeta appends entry to meta.jsonl, chaining it off the previous
// entry's checksum and computing its own checksum over the entry minus the
// checksum field.
func (w *Writer) appendMeta(entry Entry) error {
	if err := fsutil.EnsureDir(w.RunDir); err != nil {
		return err
	}
	metaPath := filepath.Join(w.RunDir, "meta.jsonl")

	prevHash, err := lastChecksum(metaPath)
	if err != nil {
		return err
	}
	entry.PrevHash = prevHash

	forHash := entry
	forHash.Checksum = ""
	hashInput, err := json.Marshal(forHash)
	if err != nil {
		return fmt.Errorf("marshaling entry for hashing: %w", err)
	}
	sum := blake3.Sum256(hashInput)
	entry.Checksum = fmt.Sprintf("%x", sum)

	line, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshaling meta entry: %w", err)
	}

	f, err := os.OpenFile(metaPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("opening meta.jsonl: %w", err)
	}
	defer f.Close()
	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("appending meta entry: %w", err)
	}
	return nil
}

// lastChecksum scans metaPath for its final entry's checksum, returning ""
// if the file doesn't exist yet or has no entries.
func lastChecksum(metaPath string) (string, error) {
	data, err := os.ReadFile(metaPath)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("reading meta.jsonl: %w", err)
	}
	lines := bytes.Split(bytes.TrimSpace(data), []byte("\n"))
	if len(lines) == 0 || len(lines[0]) == 0 {
		return "", nil
	}
	var last Entry
	if err := json.Unmarshal(lines[len(lines)-1], &last); err != nil {
		return "", fmt.Errorf("parsing last meta entry: %w", err)
	}
	return last.Checksum, nil
}
