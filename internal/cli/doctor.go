package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"

	"github.com/spf13/cobra"

	"github.com/opentree/loopctl/internal/commithook"
	"github.com/opentree/loopctl/internal/invariants"
	"github.com/opentree/loopctl/internal/node"
	"github.com/opentree/loopctl/internal/runconfig"
	"github.com/opentree/loopctl/internal/runstate"
	"github.com/opentree/loopctl/internal/tree"
	"github.com/opentree/loopctl/internal/workspace"
)

func newDoctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "doctor",
		Aliases: []string{"check"},
		Short:   "Check the workspace's health: preconditions, state files, and invariants (read-only)",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			root, err := resolveRoot()
			if err != nil {
				return err
			}
			return runDoctor(cmd.OutOrStdout(), root)
		},
	}
}

// doctorCheck is one named workspace health check. Required checks gate the
// exit code; optional ones only report.
type doctorCheck struct {
	Name     string
	Required bool
	Run      func() error
}

func runDoctor(out io.Writer, root string) error {
	paths := workspace.New(root)

	// Config problems shouldn't hide the rest of the report, so the load
	// result is shared between its own check and the ones depending on it.
	cfg, cfgErr := loadOrDefaultConfig(paths)

	checks := []doctorCheck{
		{
			Name:     "git repository",
			Required: true,
			Run: func() error {
				if !commithook.IsGitRepository(root) {
					return fmt.Errorf("%s is not a git repository", root)
				}
				return nil
			},
		},
		{
			Name:     "clean worktree",
			Required: true,
			Run: func() error {
				clean, err := commithook.IsClean(root)
				if err != nil {
					return err
				}
				if !clean {
					return fmt.Errorf("uncommitted changes present")
				}
				return nil
			},
		},
		{
			Name:     "workspace config",
			Required: true,
			Run: func() error { return cfgErr },
		},
		{
			Name:     "branch policy",
			Required: true,
			Run: func() error {
				if cfgErr != nil {
					return fmt.Errorf("skipped: config did not load")
				}
				branch, err := commithook.CurrentBranch(root)
				if err != nil {
					return err
				}
				forbidden, err := cfg.IsBranchForbidden(branch)
				if err != nil {
					return err
				}
				if forbidden {
					return fmt.Errorf("current branch %q is forbidden", branch)
				}
				return nil
			},
		},
		{
			Name:     "pinned schema version",
			Required: true,
			Run:      func() error { return checkPinnedSchema(paths) },
		},
		{
			Name:     "tree loads and invariants hold",
			Required: true,
			Run: func() error {
				t, err := tree.NewStore(paths.TreePath()).Load()
				if err != nil {
					return err
				}
				return invariants.CheckTree(t)
			},
		},
		{
			Name:     "run state",
			Required: false,
			Run: func() error {
				_, err := runstate.NewStore(paths.RunStatePath()).Load()
				return err
			},
		},
		{
			Name:     "guard command resolvable",
			Required: false,
			Run: func() error {
				if cfgErr != nil {
					return fmt.Errorf("skipped: config did not load")
				}
				return checkGuardResolvable(cfg)
			},
		},
	}

	failedRequired := 0
	for _, c := range checks {
		err := c.Run()
		switch {
		case err == nil:
			fmt.Fprintf(out, "%s %s\n", statusPassStyle.Render("ok"), c.Name)
		case c.Required:
			failedRequired++
			fmt.Fprintf(out, "%s %s: %v\n", statusStuckStyle.Render("FAIL"), c.Name, err)
		default:
			fmt.Fprintf(out, "%s %s: %v\n", statusOpenStyle.Render("warn"), c.Name, err)
		}
	}

	if failedRequired > 0 {
		return fmt.Errorf("%d required check(s) failed", failedRequired)
	}
	fmt.Fprintln(out, statusMutedStyle.Render("workspace is healthy"))
	return nil
}

// checkPinnedSchema verifies state/schema.json pins the schema version this
// binary speaks, so an upgraded binary detects an older workspace before it
// ever canonicalizes a tree it doesn't understand.
func checkPinnedSchema(paths workspace.Paths) error {
	data, err := os.ReadFile(paths.SchemaPath())
	if err != nil {
		return err
	}
	var doc struct {
		Version int `json:"version"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("parsing %s: %w", paths.SchemaPath(), err)
	}
	if doc.Version != node.SchemaVersion {
		return fmt.Errorf("workspace pins schema version %d, this binary speaks %d", doc.Version, node.SchemaVersion)
	}
	return nil
}

func checkGuardResolvable(cfg *runconfig.Config) error {
	if len(cfg.GuardCommand) == 0 {
		return fmt.Errorf("no guard command configured: a done status would be rejected for lack of a guard outcome")
	}
	if _, err := exec.LookPath(cfg.GuardCommand[0]); err != nil {
		return fmt.Errorf("guard command %q not found in PATH", cfg.GuardCommand[0])
	}
	return nil
}
