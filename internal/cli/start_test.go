package cli

import (
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/opentree/loopctl/internal/runconfig"
	"github.com/opentree/loopctl/internal/tree"
	"github.com/opentree/loopctl/internal/workspace"
)

func TestRunStartBootstrapsWorkspace(t *testing.T) {
	dir := initGitRepo(t)
	var result *startResult
	withRoot(t, dir, func() {
		r, err := runStart("Build a calculator", "")
		if err != nil {
			t.Fatalf("runStart: %v", err)
		}
		result = r
	})

	if result.rootID != "r" {
		t.Fatalf("rootID = %q, want %q", result.rootID, "r")
	}
	paths := workspace.New(dir)

	tr, err := tree.NewStore(paths.TreePath()).Load()
	if err != nil {
		t.Fatalf("loading tree: %v", err)
	}
	if tr.Root.Goal != "Build a calculator" || tr.Root.Passes {
		t.Fatalf("unexpected root: %+v", tr.Root)
	}

	if _, err := os.Stat(paths.ConfigPath()); err != nil {
		t.Fatalf("expected config.toml: %v", err)
	}
	if _, err := os.Stat(paths.SchemaPath()); err != nil {
		t.Fatalf("expected schema.json: %v", err)
	}
	if _, err := os.Stat(paths.GitIgnorePath()); err != nil {
		t.Fatalf("expected .gitignore: %v", err)
	}
	if _, err := os.Stat(paths.RunStatePath()); err != nil {
		t.Fatalf("expected run_state.json: %v", err)
	}

	cfg, err := runconfig.Load(paths.ConfigPath())
	if err != nil {
		t.Fatalf("loading config: %v", err)
	}
	forbidden, err := cfg.IsBranchForbidden(result.branch)
	if err != nil {
		t.Fatal(err)
	}
	if forbidden {
		t.Fatalf("bootstrap branch %q should not be forbidden", result.branch)
	}
}

func TestRunStartRefusesDirtyWorktree(t *testing.T) {
	dir := initGitRepo(t)
	if err := os.WriteFile(filepath.Join(dir, "untracked.txt"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	withRoot(t, dir, func() {
		if _, err := runStart("goal", ""); err == nil {
			t.Fatal("expected an error for a dirty worktree")
		}
	})
}

func TestRunStartRefusesSecondInitialization(t *testing.T) {
	dir := initGitRepo(t)
	withRoot(t, dir, func() {
		if _, err := runStart("goal", ""); err != nil {
			t.Fatalf("first runStart: %v", err)
		}
		if _, err := runStart("goal again", ""); err == nil {
			t.Fatal("expected second runStart on an already-initialized workspace to fail")
		}
	})
}

func TestRunStartRefusesForbiddenBranch(t *testing.T) {
	dir := initGitRepo(t)
	cmd := func(args ...string) {
		c := exec.Command("git", args...)
		c.Dir = dir
		if out, err := c.CombinedOutput(); err != nil {
			t.Fatalf("git %v: %v: %s", args, err, out)
		}
	}
	cmd("branch", "-m", "main")
	withRoot(t, dir, func() {
		if _, err := runStart("goal", ""); err == nil {
			t.Fatal("expected starting on main to be refused")
		}
	})
}
