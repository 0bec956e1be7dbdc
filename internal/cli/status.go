package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"github.com/sergi/go-diff/diffmatchpatch"
	"github.com/spf13/cobra"

	"github.com/opentree/loopctl/internal/node"
	"github.com/opentree/loopctl/internal/runstate"
	"github.com/opentree/loopctl/internal/selector"
	"github.com/opentree/loopctl/internal/tree"
	"github.com/opentree/loopctl/internal/workspace"
)

var (
	statusTitleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("99"))
	statusPassStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	statusOpenStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	statusStuckStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	statusMutedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	statusSelectStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("99"))
)

func newStatusCmd() *cobra.Command {
	var showDiff bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Render the persisted tree and run state (read-only)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(cmd, showDiff)
		},
	}
	cmd.Flags().BoolVar(&showDiff, "diff", false, "diff the current tree against the previous iteration's before-snapshot")
	return cmd
}

func runStatus(cmd *cobra.Command, showDiff bool) error {
	root, err := resolveRoot()
	if err != nil {
		return err
	}
	paths := workspace.New(root)

	store := tree.NewStore(paths.TreePath())
	t, err := store.Load()
	if err != nil {
		return fmt.Errorf("loading tree: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, statusTitleStyle.Render("Goal"))
	fmt.Fprintln(out, renderMarkdown(t.Root.Goal))
	fmt.Fprintln(out)

	selected, _, selErr := selector.Select(t)
	fmt.Fprintln(out, statusTitleStyle.Render("Tree"))
	t.Walk(func(n *node.Node, path []string) {
		marker := statusOpenStyle.Render("open")
		switch {
		case n.Passes:
			marker = statusPassStyle.Render("passed")
		case n.Stuck():
			marker = statusStuckStyle.Render("stuck")
		}
		indent := strings.Repeat("  ", len(path))
		line := fmt.Sprintf("%s- %s [%s] %s", indent, n.ID, marker, n.Goal)
		if selErr == nil && selected != nil && n.ID == selected.ID {
			line = statusSelectStyle.Render(line + "  <- selected")
		}
		fmt.Fprintln(out, line)
	})

	run, err := runstate.NewStore(paths.RunStatePath()).Load()
	if err == nil {
		fmt.Fprintln(out)
		fmt.Fprintln(out, statusMutedStyle.Render(fmt.Sprintf("run %s, iteration %d, started %s", run.RunID, run.Iteration, run.StartedAt.Format("2006-01-02T15:04:05Z07:00"))))
	}

	if showDiff {
		diffText, err := diffAgainstLastIteration(paths, run, t)
		if err != nil {
			return err
		}
		if diffText != "" {
			fmt.Fprintln(out)
			fmt.Fprintln(out, statusTitleStyle.Render("Diff vs. last iteration's before-snapshot"))
			fmt.Fprintln(out, diffText)
		}
	}
	return nil
}

func renderMarkdown(src string) string {
	rendered, err := glamour.Render(src, "dark")
	if err != nil {
		return src
	}
	return strings.TrimRight(rendered, "\n")
}

func diffAgainstLastIteration(paths workspace.Paths, run *runstate.State, current *node.Tree) (string, error) {
	if run == nil {
		return "", nil
	}
	before, err := lastIterationBeforeSnapshot(paths, run.RunID, run.Iteration)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("reading previous iteration snapshot: %w", err)
	}
	currentBytes, err := node.CanonicalBytes(current)
	if err != nil {
		return "", err
	}
	dmp := diffmatchpatch.New()
	diffs := dmp.DiffMain(string(before), string(currentBytes), false)
	return dmp.DiffPrettyText(diffs), nil
}
