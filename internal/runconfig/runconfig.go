// Package runconfig loads the per-workspace TOML configuration:
// iteration budget, guard command, and branch policy. Defaults are applied
// to zero-valued fields on load; Print is the canonical round-trip writer.
package runconfig

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/bmatcuk/doublestar/v4"
)

// DefaultIterationBudget is the wall-clock timeout shared by the executor
// and guard for a single iteration.
const DefaultIterationBudget = 30 * time.Minute

// DefaultMaxAttempts is the max_attempts given to the root node that `start`
// creates. Nodes added by decomposition carry their own max_attempts, which
// the tree schema requires; no default is filled in for them.
const DefaultMaxAttempts = 3

// DefaultGuardCommand is the workspace's canonical CI recipe, used when
// config.toml doesn't override guard_command.
var DefaultGuardCommand = []string{"make", "ci"}

// Config is the workspace's state/config.toml.
type Config struct {
	IterationBudgetSeconds int      `toml:"iteration_budget_seconds"`
	DefaultMaxAttempts     int      `toml:"default_max_attempts"`
	GuardCommand           []string `toml:"guard_command"`
	ForbiddenBranches      []string `toml:"forbidden_branches"`
}

// IterationBudget returns the configured iteration budget as a Duration.
func (c *Config) IterationBudget() time.Duration {
	if c.IterationBudgetSeconds <= 0 {
		return DefaultIterationBudget
	}
	return time.Duration(c.IterationBudgetSeconds) * time.Second
}

// MaxAttempts returns the configured default max_attempts.
func (c *Config) MaxAttempts() int {
	if c.DefaultMaxAttempts <= 0 {
		return DefaultMaxAttempts
	}
	return c.DefaultMaxAttempts
}

// IsBranchForbidden reports whether branch matches any of the workspace's
// forbidden-branch glob patterns (e.g. "release/*", "hotfix/**"), matched
// with doublestar so "/" can be treated as a path separator in the pattern.
func (c *Config) IsBranchForbidden(branch string) (bool, error) {
	for _, pattern := range c.ForbiddenBranches {
		ok, err := doublestar.Match(pattern, branch)
		if err != nil {
			return false, fmt.Errorf("invalid forbidden_branches pattern %q: %w", pattern, err)
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}

// Default returns the workspace configuration used when state/config.toml
// doesn't exist yet (written out verbatim by `start`).
func Default() *Config {
	return &Config{
		IterationBudgetSeconds: int(DefaultIterationBudget.Seconds()),
		DefaultMaxAttempts:     DefaultMaxAttempts,
		GuardCommand:           append([]string(nil), DefaultGuardCommand...),
		ForbiddenBranches:      []string{"main", "master", "release/*"},
	}
}

// Load reads and parses path, applying defaults for any zero-valued field.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	def := Default()
	if cfg.IterationBudgetSeconds <= 0 {
		cfg.IterationBudgetSeconds = def.IterationBudgetSeconds
	}
	if cfg.DefaultMaxAttempts <= 0 {
		cfg.DefaultMaxAttempts = def.DefaultMaxAttempts
	}
	if len(cfg.GuardCommand) == 0 {
		cfg.GuardCommand = def.GuardCommand
	}
	if len(cfg.ForbiddenBranches) == 0 {
		cfg.ForbiddenBranches = def.ForbiddenBranches
	}
	return &cfg, nil
}

// Print writes cfg to w in TOML form.
func Print(cfg *Config, w io.Writer) error {
	fmt.Fprintln(w, "# loopctl workspace configuration")
	fmt.Fprintln(w)
	enc := toml.NewEncoder(w)
	return enc.Encode(cfg)
}

// WriteDefault creates path with the default configuration if it doesn't
// already exist.
func WriteDefault(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists: %s", path)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return Print(Default(), f)
}
