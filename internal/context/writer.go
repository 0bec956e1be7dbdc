// Package context materializes the ephemeral per-iteration context
// directory the agent subprocess reads: a small, fixed set of named
// components (goal, tree summary, selected node, history, failure), each
// written as its own file and capped to a per-component size budget.
package context

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/opentree/loopctl/internal/fsutil"
	"github.com/opentree/loopctl/internal/node"
)

// MaxComponentBytes bounds how much of any single rendered component
// (principally the failure block, which echoes prior guard output) is
// written to the context directory.
const MaxComponentBytes = 64 * 1024

// SelectedNode is the compact view of the selected node the agent reads:
// id, ancestor path, content fields, the advisory next hint, and the
// attempt counters.
type SelectedNode struct {
	ID         string    `json:"id"`
	Path       []string  `json:"path"`
	Title      string    `json:"title"`
	Goal       string    `json:"goal"`
	Acceptance []string  `json:"acceptance"`
	Next       node.Hint `json:"next"`
	Attempts   int       `json:"attempts"`
	MaxRetries int       `json:"max_attempts"`
}

// Iteration bundles everything the context writer needs to materialize one
// iteration's directory.
type Iteration struct {
	Goal     string
	Summary  string // compact tree summary (id/passes/stuck per node)
	Selected SelectedNode

	// History is the prior iteration's agent summary for this same node, set
	// only when the prior attempt on this node did not pass.
	History string
	// Failure is the prior guard output (already capped by the guard
	// runner), set only when the prior attempt on this node did not pass.
	Failure string
}

// Writer clears and repopulates the ephemeral context directory once per
// iteration. It never touches state/ or iterations/.
type Writer struct {
	Dir string
}

// NewWriter returns a Writer rooted at dir (conventionally "context/" under
// the workspace root).
func NewWriter(dir string) *Writer {
	return &Writer{Dir: dir}
}

// Write clears w.Dir and writes the iteration's components. Pass-through
// files (assumptions.md, questions.md) are left for
// the caller to copy separately via PassThrough, since they live under
// state/ and are not derived from in.
func (w *Writer) Write(in Iteration) error {
	if err := fsutil.ClearDir(w.Dir); err != nil {
		return fmt.Errorf("clearing context dir: %w", err)
	}

	if err := w.writeComponent("goal.md", in.Goal); err != nil {
		return err
	}
	if err := w.writeComponent("tree_summary.md", in.Summary); err != nil {
		return err
	}

	selectedJSON, err := json.MarshalIndent(in.Selected, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling selected node: %w", err)
	}
	if err := w.writeComponent("selected_node.json", string(selectedJSON)); err != nil {
		return err
	}

	if in.History != "" {
		if err := w.writeComponent("history.md", in.History); err != nil {
			return err
		}
	}
	if in.Failure != "" {
		if err := w.writeComponent("failure.log", in.Failure); err != nil {
			return err
		}
	}

	return nil
}

// PassThrough copies src (e.g. state/assumptions.md) into the context
// directory under the same base name, if it exists. A missing source file
// is not an error: agent-appendable notes may not exist yet.
func (w *Writer) PassThrough(src string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("reading pass-through %s: %w", src, err)
	}
	dst := filepath.Join(w.Dir, filepath.Base(src))
	return fsutil.AtomicWriteFile(dst, data, 0o644)
}

func (w *Writer) writeComponent(name, content string) error {
	capped := capText(content, MaxComponentBytes)
	return fsutil.AtomicWriteFile(filepath.Join(w.Dir, name), []byte(capped), 0o644)
}

func capText(s string, maxBytes int) string {
	if len(s) <= maxBytes {
		return s
	}
	// The suffix length depends on the count it reports, so iterate until
	// the kept prefix and the reported count agree.
	keep := maxBytes
	var suffix string
	for {
		suffix = fmt.Sprintf("\n...[truncated %d bytes]\n", len(s)-keep)
		k := maxBytes - len(suffix)
		if k < 0 {
			k = 0
		}
		if k == keep {
			break
		}
		keep = k
	}
	var b strings.Builder
	b.WriteString(s[:keep])
	b.WriteString(suffix)
	return b.String()
}

// Summarize renders the compact, deterministic tree summary block: one line
// per node in canonical order, annotated with its pass/stuck state.
func Summarize(t *node.Tree) string {
	if t == nil || t.Root == nil {
		return ""
	}
	var b strings.Builder
	t.Walk(func(n *node.Node, path []string) {
		indent := strings.Repeat("  ", len(path))
		state := "open"
		switch {
		case n.Passes:
			state = "passed"
		case n.Stuck():
			state = "stuck"
		}
		fmt.Fprintf(&b, "%s- %s [%s] %s\n", indent, n.ID, state, n.Goal)
	})
	return b.String()
}
