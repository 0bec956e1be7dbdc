package cli

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"github.com/opentree/loopctl/internal/node"
	"github.com/opentree/loopctl/internal/runstate"
	"github.com/opentree/loopctl/internal/selector"
	"github.com/opentree/loopctl/internal/tree"
	"github.com/opentree/loopctl/internal/workspace"
)

// watchKeys is the watch view's keymap, one key.Binding per action.
var watchKeys = struct {
	Quit key.Binding
}{
	Quit: key.NewBinding(
		key.WithKeys("q", "ctrl+c"),
		key.WithHelp("q", "quit"),
	),
}

func newWatchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Watch the tree and run state for changes, re-rendering on every update (read-only)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			root, err := resolveRoot()
			if err != nil {
				return err
			}
			paths := workspace.New(root)
			m, err := newWatchModel(paths)
			if err != nil {
				return err
			}
			defer m.watcher.Close()
			_, err = tea.NewProgram(m).Run()
			return err
		},
	}
}

// treeChangedMsg fires whenever fsnotify reports an event on tree.json or
// run_state.json, or once at startup to populate the initial render.
type treeChangedMsg struct{}

type watchModel struct {
	paths   workspace.Paths
	watcher *fsnotify.Watcher
	body    string
}

// newWatchModel watches tree.json and run_state.json for changes. A missing
// run_state.json (the workspace hasn't been `start`ed yet) is not fatal: the
// file is skipped, and it is not added to the watcher if it appears later.
func newWatchModel(paths workspace.Paths) (*watchModel, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating filesystem watcher: %w", err)
	}
	for _, p := range []string{paths.TreePath(), paths.RunStatePath()} {
		_ = w.Add(p)
	}
	return &watchModel{paths: paths, watcher: w}, nil
}

func (m *watchModel) Init() tea.Cmd {
	return tea.Batch(m.waitForChange(), func() tea.Msg { return treeChangedMsg{} })
}

func (m *watchModel) waitForChange() tea.Cmd {
	return func() tea.Msg {
		select {
		case <-m.watcher.Events:
			return treeChangedMsg{}
		case <-m.watcher.Errors:
			return treeChangedMsg{}
		}
	}
}

func (m *watchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if key.Matches(msg, watchKeys.Quit) {
			return m, tea.Quit
		}
	case treeChangedMsg:
		m.body = m.render()
		return m, m.waitForChange()
	}
	return m, nil
}

func (m *watchModel) View() string {
	help := watchKeys.Quit.Help()
	return fmt.Sprintf("%s\npress %s to %s\n", m.body, help.Key, help.Desc)
}

func (m *watchModel) render() string {
	var b strings.Builder
	t, err := tree.NewStore(m.paths.TreePath()).Load()
	if err != nil {
		return fmt.Sprintf("error loading tree: %v\n", err)
	}
	selected, _, selErr := selector.Select(t)
	t.Walk(func(n *node.Node, path []string) {
		marker := "open"
		switch {
		case n.Passes:
			marker = "passed"
		case n.Stuck():
			marker = "stuck"
		}
		indent := strings.Repeat("  ", len(path))
		line := fmt.Sprintf("%s- %s [%s] %s", indent, n.ID, marker, n.Goal)
		if selErr == nil && selected != nil && n.ID == selected.ID {
			line += "  <- selected"
		}
		b.WriteString(line)
		b.WriteString("\n")
	})
	if run, err := runstate.NewStore(m.paths.RunStatePath()).Load(); err == nil {
		fmt.Fprintf(&b, "\nrun %s, iteration %d\n", run.RunID, run.Iteration)
	}
	return b.String()
}
