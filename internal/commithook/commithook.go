// Package commithook commits the workspace after each iteration with a
// deterministic Conventional-Commits message, and provides the git
// porcelain checks (repository present, clean worktree, current branch)
// the run driver's preconditions need.
package commithook

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// FindProjectRoot returns the top level of the git worktree containing
// startDir, the directory every workspace path is resolved against.
func FindProjectRoot(startDir string) (string, error) {
	cmd := exec.Command("git", "rev-parse", "--show-toplevel")
	cmd.Dir = startDir
	out, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("resolving git toplevel of %s: %w", startDir, err)
	}
	return strings.TrimSpace(string(out)), nil
}

// IsGitRepository reports whether dir is inside a git working tree.
func IsGitRepository(dir string) bool {
	cmd := exec.Command("git", "rev-parse", "--git-dir")
	cmd.Dir = dir
	return cmd.Run() == nil
}

// CurrentBranch returns the current branch name for dir.
func CurrentBranch(dir string) (string, error) {
	cmd := exec.Command("git", "rev-parse", "--abbrev-ref", "HEAD")
	cmd.Dir = dir
	out, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("reading current branch: %w", err)
	}
	return strings.TrimSpace(string(out)), nil
}

// IsClean reports whether dir's worktree has no uncommitted changes.
func IsClean(dir string) (bool, error) {
	cmd := exec.Command("git", "status", "--porcelain")
	cmd.Dir = dir
	out, err := cmd.Output()
	if err != nil {
		return false, fmt.Errorf("checking worktree status: %w", err)
	}
	return len(bytes.TrimSpace(out)) == 0, nil
}

// Hook stages every change in dir and commits it with a deterministic
// message.
type Hook struct {
	Dir string
}

// NewHook returns a Hook that operates on the workspace rooted at dir.
func NewHook(dir string) *Hook {
	return &Hook{Dir: dir}
}

// Outcome describes an iteration's result for the commit message, e.g.
// "done/guard-pass", "done/guard-fail", "decomposed".
type Outcome struct {
	Iteration  int
	SelectedID string
	Status     string
	Guard      string
}

// Message renders the deterministic Conventional-Commits subject line, e.g.
// "chore(iter-42): node c2 done/guard-fail".
func (o Outcome) Message() string {
	detail := o.Status
	if o.Guard != "" && o.Guard != "skipped" {
		detail = fmt.Sprintf("%s/guard-%s", o.Status, o.Guard)
	}
	return fmt.Sprintf("chore(iter-%d): node %s %s", o.Iteration, o.SelectedID, detail)
}

// CreateBranch creates and checks out a new branch named name in dir.
func CreateBranch(dir, name string) error {
	cmd := exec.Command("git", "checkout", "-b", name)
	cmd.Dir = dir
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("creating branch %s: %w: %s", name, err, stderr.String())
	}
	return nil
}

// Commit stages all changes in h.Dir and commits them with o's deterministic
// message. A no-op commit (nothing staged) is not an error: some iterations
// (e.g. a rejected proposal) may leave the worktree unchanged.
func (h *Hook) Commit(ctx context.Context, o Outcome) error {
	add := exec.CommandContext(ctx, "git", "add", "-A")
	add.Dir = h.Dir
	if err := add.Run(); err != nil {
		return fmt.Errorf("staging changes: %w", err)
	}

	clean, err := IsClean(h.Dir)
	if err != nil {
		return err
	}
	if clean {
		return nil
	}

	commit := exec.CommandContext(ctx, "git", "commit", "-m", o.Message())
	commit.Dir = h.Dir
	var stderr bytes.Buffer
	commit.Stderr = &stderr
	if err := commit.Run(); err != nil {
		return fmt.Errorf("committing iteration %d: %w: %s", o.Iteration, err, stderr.String())
	}
	return nil
}
