package context

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/opentree/loopctl/internal/node"
)

func TestWriteProducesExpectedFiles(t *testing.T) {
	dir := t.TempDir()
	w := NewWriter(filepath.Join(dir, "context"))

	err := w.Write(Iteration{
		Goal:    "Build a calculator",
		Summary: "- r [open] Build a calculator\n",
		Selected: SelectedNode{
			ID: "c1", Path: []string{"r"}, Goal: "wire add()", Next: node.HintExecute, MaxRetries: 3,
		},
	})
	if err != nil {
		t.Fatalf("Write: %v", err)
	}

	for _, name := range []string{"goal.md", "tree_summary.md", "selected_node.json"} {
		if _, err := os.Stat(filepath.Join(dir, "context", name)); err != nil {
			t.Fatalf("expected %s to exist: %v", name, err)
		}
	}
	if _, err := os.Stat(filepath.Join(dir, "context", "history.md")); !os.IsNotExist(err) {
		t.Fatal("history.md should not be written when History is empty")
	}
}

func TestWriteIncludesHistoryAndFailureWhenPresent(t *testing.T) {
	dir := t.TempDir()
	w := NewWriter(filepath.Join(dir, "context"))

	err := w.Write(Iteration{
		Goal:     "goal",
		Summary:  "summary",
		Selected: SelectedNode{ID: "c2"},
		History:  "prior attempt summary",
		Failure:  "guard output: test failed",
	})
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	hist, err := os.ReadFile(filepath.Join(dir, "context", "history.md"))
	if err != nil || string(hist) != "prior attempt summary" {
		t.Fatalf("history.md = %q, err %v", hist, err)
	}
	fail, err := os.ReadFile(filepath.Join(dir, "context", "failure.log"))
	if err != nil || string(fail) != "guard output: test failed" {
		t.Fatalf("failure.log = %q, err %v", fail, err)
	}
}

func TestWriteClearsStaleFilesFromPriorIteration(t *testing.T) {
	dir := t.TempDir()
	ctxDir := filepath.Join(dir, "context")
	w := NewWriter(ctxDir)

	if err := w.Write(Iteration{Goal: "g", Summary: "s", Selected: SelectedNode{ID: "c1"}, Failure: "stale failure"}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := w.Write(Iteration{Goal: "g", Summary: "s", Selected: SelectedNode{ID: "c1"}}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if _, err := os.Stat(filepath.Join(ctxDir, "failure.log")); !os.IsNotExist(err) {
		t.Fatal("failure.log from the prior iteration should have been cleared")
	}
}

func TestPassThroughCopiesExistingFile(t *testing.T) {
	dir := t.TempDir()
	stateDir := filepath.Join(dir, "state")
	if err := os.MkdirAll(stateDir, 0o755); err != nil {
		t.Fatal(err)
	}
	src := filepath.Join(stateDir, "assumptions.md")
	if err := os.WriteFile(src, []byte("we assume X"), 0o644); err != nil {
		t.Fatal(err)
	}

	w := NewWriter(filepath.Join(dir, "context"))
	if err := os.MkdirAll(w.Dir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := w.PassThrough(src); err != nil {
		t.Fatalf("PassThrough: %v", err)
	}
	got, err := os.ReadFile(filepath.Join(w.Dir, "assumptions.md"))
	if err != nil || string(got) != "we assume X" {
		t.Fatalf("copied content = %q, err %v", got, err)
	}
}

func TestPassThroughIgnoresMissingSource(t *testing.T) {
	dir := t.TempDir()
	w := NewWriter(filepath.Join(dir, "context"))
	if err := os.MkdirAll(w.Dir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := w.PassThrough(filepath.Join(dir, "state", "questions.md")); err != nil {
		t.Fatalf("PassThrough on missing file should be a no-op, got %v", err)
	}
}

func TestSummarizeMarksPassedAndStuckNodes(t *testing.T) {
	tr := &node.Tree{Version: node.SchemaVersion, Root: &node.Node{
		ID: "r", Goal: "root", Next: node.HintDecompose, MaxAttempts: 3,
		Children: []*node.Node{
			{ID: "c1", Order: 1, Goal: "done", Next: node.HintExecute, Passes: true, MaxAttempts: 3},
			{ID: "c2", Order: 2, Goal: "stuck", Next: node.HintExecute, Attempts: 3, MaxAttempts: 3},
		},
	}}
	out := Summarize(tr)
	if !strings.Contains(out, "c1 [passed]") {
		t.Fatalf("summary missing passed marker: %q", out)
	}
	if !strings.Contains(out, "c2 [stuck]") {
		t.Fatalf("summary missing stuck marker: %q", out)
	}
}
