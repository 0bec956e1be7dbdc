package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/opentree/loopctl/internal/commithook"
	"github.com/opentree/loopctl/internal/loopctlerr"
	"github.com/opentree/loopctl/internal/orchestrator"
	"github.com/opentree/loopctl/internal/runconfig"
	"github.com/opentree/loopctl/internal/runstate"
	"github.com/opentree/loopctl/internal/workspace"
)

func newLoopCmd() *cobra.Command {
	var maxIterations int
	cmd := &cobra.Command{
		Use:   "loop -- <agent-command> [args...]",
		Short: "Run iterations until the tree is terminal, max-iterations is hit, or a fatal error occurs",
		Long: `Run iterations against the workspace until the tree is terminal,
max-iterations is hit, or a fatal error occurs.

The agent command is invoked once per iteration with the composed prompt on
stdin and must write its status JSON to the structured-output path. Any
{output} placeholder in the command's arguments is replaced with that path:

  loopctl loop -- claude exec --output-schema agent.json --output-last-message {output} -

A command without the placeholder must write to context/agent_output.json
under the workspace root itself.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLoop(cmd, args, maxIterations)
		},
	}
	cmd.Flags().IntVar(&maxIterations, "max-iterations", 200, "abort with a nonzero exit if the tree hasn't gone terminal within this many iterations")
	return cmd
}

// expandAgentArgv replaces the {output} placeholder in the agent command
// with the structured-output path the executor reads after each invocation.
func expandAgentArgv(argv []string, outputPath string) []string {
	out := make([]string, len(argv))
	for i, a := range argv {
		out[i] = strings.ReplaceAll(a, "{output}", outputPath)
	}
	return out
}

func runLoop(cmd *cobra.Command, agentArgv []string, maxIterations int) error {
	root, err := resolveRoot()
	if err != nil {
		return err
	}
	paths := workspace.New(root)

	if _, err := os.Stat(paths.TreePath()); err != nil {
		return fmt.Errorf("workspace not initialized (run `loopctl start` first): %w", err)
	}
	cfg, err := runconfig.Load(paths.ConfigPath())
	if err != nil {
		return fmt.Errorf("loading workspace config: %w", err)
	}
	runStore := runstate.NewStore(paths.RunStatePath())
	run, err := runStore.Load()
	if err != nil {
		return fmt.Errorf("loading run state (run `loopctl start` first): %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	agentArgv = expandAgentArgv(agentArgv, paths.ExecutorOutputPath())
	orchCfg := orchestrator.Config{
		Root:            root,
		TreePath:        paths.TreePath(),
		RunStatePath:    paths.RunStatePath(),
		ContextDir:      paths.ContextDir(),
		IterationsDir:   paths.IterationsDir(),
		NodeHistoryPath: paths.NodeHistoryPath(),
		ExecutorCommand: agentArgv[0],
		ExecutorArgs:    agentArgv[1:],
		ExecutorOutPath: paths.ExecutorOutputPath(),
		GuardCommand:    cfg.GuardCommand,
		IterationBudget: cfg.IterationBudget(),
	}
	orc := orchestrator.New(orchCfg, run.RunID)

	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("loop interrupted: %w", ctx.Err())
		default:
		}

		clean, err := commithook.IsClean(root)
		if err != nil {
			return err
		}
		if !clean {
			return loopctlerr.ErrDirtyWorktree
		}

		iterNum := run.Iteration + 1
		if iterNum > maxIterations {
			return loopctlerr.ErrMaxIterations
		}

		res, err := orc.RunIteration(ctx, run, iterNum)
		if err != nil {
			return fmt.Errorf("iteration %d: %w", iterNum, err)
		}
		if res.Terminal {
			fmt.Fprintf(cmd.OutOrStdout(), "terminal: no open leaves remain after %d iteration(s)\n", run.Iteration)
			return nil
		}
		if res.Fatal != nil {
			return fmt.Errorf("iteration %d: %w", iterNum, res.Fatal)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "iter %d: node %s status=%s guard=%s\n", iterNum, res.SelectedID, res.Status, res.Guard)
	}
}
