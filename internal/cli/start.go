package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/opentree/loopctl/internal/commithook"
	"github.com/opentree/loopctl/internal/fsutil"
	"github.com/opentree/loopctl/internal/loopctlerr"
	"github.com/opentree/loopctl/internal/node"
	"github.com/opentree/loopctl/internal/runconfig"
	"github.com/opentree/loopctl/internal/runstate"
	"github.com/opentree/loopctl/internal/tree"
	"github.com/opentree/loopctl/internal/workspace"
)

func newStartCmd() *cobra.Command {
	var branchName string
	cmd := &cobra.Command{
		Use:   "start <goal>",
		Short: "Bootstrap a workspace: initial tree, run state, and a new working branch",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			run, err := runStart(args[0], branchName)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "started run %s on branch %s (root node %q)\n", run.runID, run.branch, run.rootID)
			return nil
		},
	}
	cmd.Flags().StringVar(&branchName, "branch", "", "name of the new working branch (default: loopctl/<run_id>, lowercased)")
	return cmd
}

type startResult struct {
	runID  string
	branch string
	rootID string
}

func runStart(goal, branchName string) (*startResult, error) {
	root, err := resolveRoot()
	if err != nil {
		return nil, err
	}
	if !commithook.IsGitRepository(root) {
		return nil, fmt.Errorf("%s is not a git repository", root)
	}
	clean, err := commithook.IsClean(root)
	if err != nil {
		return nil, err
	}
	if !clean {
		return nil, loopctlerr.ErrDirtyWorktree
	}

	paths := workspace.New(root)
	if _, err := os.Stat(paths.TreePath()); err == nil {
		return nil, fmt.Errorf("workspace already initialized: %s exists", paths.TreePath())
	}

	cfg, err := loadOrDefaultConfig(paths)
	if err != nil {
		return nil, err
	}

	branch, err := commithook.CurrentBranch(root)
	if err != nil {
		return nil, err
	}
	forbidden, err := cfg.IsBranchForbidden(branch)
	if err != nil {
		return nil, err
	}
	if forbidden {
		return nil, fmt.Errorf("%w: %q", loopctlerr.ErrForbiddenBranch, branch)
	}

	runID := runstate.NewRunID()
	if branchName == "" {
		branchName = "loopctl/" + strings.ToLower(runID)
	}
	if err := commithook.CreateBranch(root, branchName); err != nil {
		return nil, err
	}

	if _, err := os.Stat(paths.ConfigPath()); os.IsNotExist(err) {
		if err := runconfig.WriteDefault(paths.ConfigPath()); err != nil {
			return nil, fmt.Errorf("writing default config: %w", err)
		}
	}
	if err := writeSchemaDocument(paths); err != nil {
		return nil, err
	}
	if err := writeGitignore(paths); err != nil {
		return nil, err
	}

	rootNode := &node.Node{
		ID:          "r",
		Order:       0,
		Goal:        goal,
		Acceptance:  []string{},
		Next:        node.HintDecompose,
		MaxAttempts: cfg.MaxAttempts(),
		Children:    []*node.Node{},
	}
	treeStore := tree.NewStore(paths.TreePath())
	if err := treeStore.Save(&node.Tree{Version: node.SchemaVersion, Root: rootNode}); err != nil {
		return nil, fmt.Errorf("writing initial tree: %w", err)
	}

	runStore := runstate.NewStore(paths.RunStatePath())
	if err := runStore.Save(&runstate.State{RunID: runID, Iteration: 0, StartedAt: time.Now()}); err != nil {
		return nil, fmt.Errorf("writing initial run state: %w", err)
	}

	hook := commithook.NewHook(root)
	bootstrap := commithook.Outcome{Iteration: 0, SelectedID: rootNode.ID, Status: "bootstrap"}
	if err := hook.Commit(context.Background(), bootstrap); err != nil {
		return nil, fmt.Errorf("committing bootstrap: %w", err)
	}

	return &startResult{runID: runID, branch: branchName, rootID: rootNode.ID}, nil
}

func loadOrDefaultConfig(paths workspace.Paths) (*runconfig.Config, error) {
	if _, err := os.Stat(paths.ConfigPath()); err == nil {
		return runconfig.Load(paths.ConfigPath())
	}
	return runconfig.Default(), nil
}

func writeSchemaDocument(paths workspace.Paths) error {
	doc := struct {
		Version int `json:"version"`
	}{Version: node.SchemaVersion}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')
	if err := fsutil.EnsureDir(paths.StateDir()); err != nil {
		return err
	}
	return fsutil.AtomicWriteFile(paths.SchemaPath(), data, 0o644)
}

func writeGitignore(paths workspace.Paths) error {
	existing, err := os.ReadFile(paths.GitIgnorePath())
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	body := string(existing)
	for _, entry := range []string{"/context/", "/iterations/"} {
		if strings.Contains("\n"+body, "\n"+entry+"\n") {
			continue
		}
		if body != "" && !strings.HasSuffix(body, "\n") {
			body += "\n"
		}
		body += entry + "\n"
	}
	if body == string(existing) {
		return nil
	}
	return fsutil.AtomicWriteFile(paths.GitIgnorePath(), []byte(body), 0o644)
}
