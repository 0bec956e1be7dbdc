// Package workspace resolves the fixed set of file paths a loopctl
// workspace is laid out under, rooted at the git worktree that contains
// it. Every other package takes explicit paths; this is the one place that
// knows the directory layout's conventional names.
package workspace

import "path/filepath"

// Paths resolves every workspace file from a single root directory.
type Paths struct {
	Root string
}

// New returns a Paths rooted at root (conventionally a git worktree's
// top level, as found by commithook.FindProjectRoot).
func New(root string) Paths {
	return Paths{Root: root}
}

func (p Paths) StateDir() string { return filepath.Join(p.Root, "state") }

func (p Paths) TreePath() string { return filepath.Join(p.StateDir(), "tree.json") }

func (p Paths) SchemaPath() string { return filepath.Join(p.StateDir(), "schema.json") }

func (p Paths) RunStatePath() string { return filepath.Join(p.StateDir(), "run_state.json") }

func (p Paths) ConfigPath() string { return filepath.Join(p.StateDir(), "config.toml") }

func (p Paths) NodeHistoryPath() string { return filepath.Join(p.StateDir(), "node_history.json") }

func (p Paths) AssumptionsPath() string { return filepath.Join(p.StateDir(), "assumptions.md") }

func (p Paths) QuestionsPath() string { return filepath.Join(p.StateDir(), "questions.md") }

func (p Paths) ContextDir() string { return filepath.Join(p.Root, "context") }

func (p Paths) IterationsDir() string { return filepath.Join(p.Root, "iterations") }

// ExecutorOutputPath is where the executor adapter tells the agent to write
// its structured-output document for the current iteration.
func (p Paths) ExecutorOutputPath() string { return filepath.Join(p.ContextDir(), "agent_output.json") }

// GitIgnorePath is the workspace's .gitignore, seeded at start so iterations/
// (a large, append-only log tree) and context/ (ephemeral) never get committed.
func (p Paths) GitIgnorePath() string { return filepath.Join(p.Root, ".gitignore") }
