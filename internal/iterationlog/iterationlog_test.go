package iterationlog

import (
	"bufio"
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/opentree/loopctl/internal/node"
)

func sampleTree(goal string) *node.Tree {
	return &node.Tree{Version: node.SchemaVersion, Root: &node.Node{
		ID: "r", Goal: goal, Next: node.HintDecompose, Acceptance: []string{}, MaxAttempts: 3,
	}}
}

func TestWriteCreatesIterationArtifacts(t *testing.T) {
	root := t.TempDir()
	w := NewWriter(filepath.Join(root, "iterations"), "run1")

	err := w.Write(1, sampleTree("before"), sampleTree("after"), "c1", "done", "pass", 1500,
		WithOutput([]byte(`{"status":"done","summary":"ok"}`)),
		WithExecutorLog([]byte("executor ran fine")),
		WithGuardLog([]byte("guard ran fine")),
	)
	if err != nil {
		t.Fatalf("Write: %v", err)
	}

	iterDir := filepath.Join(root, "iterations", "run1", "iter-1")
	for _, name := range []string{"tree.before.json", "tree.after.json", "output.json", "executor.log", "guard.log"} {
		if _, err := os.Stat(filepath.Join(iterDir, name)); err != nil {
			t.Fatalf("expected %s: %v", name, err)
		}
	}
	if _, err := os.Stat(filepath.Join(iterDir, "failure.log")); !os.IsNotExist(err) {
		t.Fatal("failure.log should not exist when no failure log was supplied")
	}
}

func TestWriteEmitsPerIterationMetaJSON(t *testing.T) {
	root := t.TempDir()
	w := NewWriter(filepath.Join(root, "iterations"), "run1")

	if err := w.Write(3, sampleTree("g"), sampleTree("g"), "c1", "done", "pass", 1234); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(filepath.Join(root, "iterations", "run1", "iter-3", "meta.json"))
	if err != nil {
		t.Fatal(err)
	}
	var m Meta
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatalf("unmarshaling meta.json: %v", err)
	}
	if m.RunID != "run1" || m.Iteration != 3 || m.SelectedID != "c1" || m.Status != "done" || m.Guard != "pass" || m.DurationMs != 1234 {
		t.Fatalf("unexpected meta.json contents: %+v", m)
	}
}

func TestMetaLedgerChainsHashes(t *testing.T) {
	root := t.TempDir()
	w := NewWriter(filepath.Join(root, "iterations"), "run1")

	if err := w.Write(1, sampleTree("g"), sampleTree("g"), "c1", "done", "pass", 100); err != nil {
		t.Fatalf("Write 1: %v", err)
	}
	if err := w.Write(2, sampleTree("g"), sampleTree("g"), "c2", "done", "fail", 200); err != nil {
		t.Fatalf("Write 2: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(root, "iterations", "run1", "meta.jsonl"))
	if err != nil {
		t.Fatal(err)
	}
	var entries []Entry
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		var e Entry
		if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
			t.Fatalf("unmarshaling entry: %v", err)
		}
		entries = append(entries, e)
	}
	if len(entries) != 2 {
		t.Fatalf("got %d entries, want 2", len(entries))
	}
	if entries[0].PrevHash != "" {
		t.Fatalf("first entry PrevHash = %q, want empty", entries[0].PrevHash)
	}
	if entries[1].PrevHash != entries[0].Checksum {
		t.Fatalf("second entry's PrevHash = %q, want %q", entries[1].PrevHash, entries[0].Checksum)
	}
	if entries[0].Checksum == "" || entries[1].Checksum == "" {
		t.Fatal("expected non-empty checksums")
	}
}

func TestWriteNeverRewritesPriorIterationDirectory(t *testing.T) {
	root := t.TempDir()
	w := NewWriter(filepath.Join(root, "iterations"), "run1")

	if err := w.Write(1, sampleTree("g"), sampleTree("g"), "c1", "done", "pass", 100); err != nil {
		t.Fatal(err)
	}
	iter1Before := filepath.Join(root, "iterations", "run1", "iter-1", "tree.before.json")
	want, _ := os.ReadFile(iter1Before)

	if err := w.Write(2, sampleTree("different"), sampleTree("different"), "c2", "done", "pass", 100); err != nil {
		t.Fatal(err)
	}
	got, _ := os.ReadFile(iter1Before)
	if string(got) != string(want) {
		t.Fatal("iter-1 artifacts were modified by a later iteration's write")
	}
}
