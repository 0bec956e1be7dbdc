// Package orchestrator binds the tree store, selector, context writer,
// executor adapter, guard runner, state update engine, iteration log writer,
// and commit hook into the single deterministic per-iteration pipeline:
// load, select, compose context, execute, guard, apply, persist, log,
// commit.
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	"github.com/opentree/loopctl/internal/commithook"
	ctxwriter "github.com/opentree/loopctl/internal/context"
	"github.com/opentree/loopctl/internal/executor"
	"github.com/opentree/loopctl/internal/guard"
	"github.com/opentree/loopctl/internal/iterationlog"
	"github.com/opentree/loopctl/internal/loopctlerr"
	"github.com/opentree/loopctl/internal/node"
	"github.com/opentree/loopctl/internal/nodehistory"
	"github.com/opentree/loopctl/internal/runstate"
	"github.com/opentree/loopctl/internal/selector"
	"github.com/opentree/loopctl/internal/stateengine"
	"github.com/opentree/loopctl/internal/tree"
)

// Config configures one Orchestrator instance. Every field maps directly to
// a workspace file or a runconfig.Config value; the caller (the `loop` CLI
// command) is responsible for resolving those before construction.
type Config struct {
	Root            string // workspace root; executor/guard working directory
	TreePath        string // state/tree.json
	RunStatePath    string // state/run_state.json
	ContextDir      string // context/
	IterationsDir   string // iterations/
	NodeHistoryPath string // state/node_history.json

	ExecutorCommand string
	ExecutorArgs    []string // argv tail, e.g. ["exec","--output-schema",schema,"--output-last-message",outPath,"-"]
	ExecutorOutPath string
	ExecutorEnv     []string

	GuardCommand []string

	IterationBudget time.Duration
}

// Orchestrator runs iterations against a single workspace.
type Orchestrator struct {
	cfg       Config
	treeStore *tree.Store
	runStore  *runstate.Store
	histStore *nodehistory.Store
	ctxWriter *ctxwriter.Writer
	logWriter *iterationlog.Writer
	commit    *commithook.Hook
}

// New constructs an Orchestrator for runID (used to namespace iteration logs).
func New(cfg Config, runID string) *Orchestrator {
	o := &Orchestrator{
		cfg:       cfg,
		treeStore: tree.NewStore(cfg.TreePath),
		histStore: nodehistory.NewStore(cfg.NodeHistoryPath),
		ctxWriter: ctxwriter.NewWriter(cfg.ContextDir),
		logWriter: iterationlog.NewWriter(cfg.IterationsDir, runID),
		commit:    commithook.NewHook(cfg.Root),
	}
	if cfg.RunStatePath != "" {
		o.runStore = runstate.NewStore(cfg.RunStatePath)
	}
	return o
}

// Result reports what a single iteration did, for the `loop` CLI's logging
// and exit-code decision.
type Result struct {
	Terminal   bool // selector found no open leaf: run is complete
	SelectedID string
	Status     string // "done", "retry", "decomposed", or "" on a terminal/precondition result
	Guard      string // guard.Outcome as a string ("skipped" when not invoked), or "" on a terminal/error result
	Fatal      error  // non-nil for an infra/invariant error that aborted the iteration
}

// RunIteration executes exactly one iteration of the pipeline against run
// at iteration number iterNum, persisting run.
func (o *Orchestrator) RunIteration(ctx context.Context, run *runstate.State, iterNum int) (Result, error) {
	start := time.Now()

	// Step 1: load and validate tree.
	prevTree, err := o.treeStore.Load()
	if err != nil {
		return Result{}, fmt.Errorf("loading tree: %w", err)
	}

	// Step 2: select leaf.
	selected, path, err := selector.Select(prevTree)
	if err != nil {
		if err == loopctlerr.ErrTerminal {
			return Result{Terminal: true}, nil
		}
		return Result{}, err
	}

	// Step 3: snapshot tree.before.json (implicit: iterationlog.Write takes
	// prevTree directly and serializes it).

	// Step 4: compose ephemeral context.
	hist := o.histStore.Load()
	rec := hist[selected.ID]
	if err := o.ctxWriter.Write(ctxwriter.Iteration{
		Goal:    prevTree.Root.Goal,
		Summary: ctxwriter.Summarize(prevTree),
		Selected: ctxwriter.SelectedNode{
			ID: selected.ID, Path: path, Title: selected.Title, Goal: selected.Goal,
			Acceptance: selected.Acceptance, Next: selected.Next,
			Attempts: selected.Attempts, MaxRetries: selected.MaxAttempts,
		},
		History: rec.Summary,
		Failure: rec.Failure,
	}); err != nil {
		return Result{}, fmt.Errorf("composing context: %w", err)
	}
	_ = o.ctxWriter.PassThrough(filepath.Join(o.cfg.Root, "state", "assumptions.md"))
	_ = o.ctxWriter.PassThrough(filepath.Join(o.cfg.Root, "state", "questions.md"))

	budget := o.cfg.IterationBudget
	if budget <= 0 {
		budget = executor.DefaultTimeout
	}
	budgetCtx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	// Step 5: invoke executor under the deadline.
	execClient := executor.NewClient(o.cfg.ExecutorCommand, o.cfg.ExecutorArgs, executor.WithWorkDir(o.cfg.Root), executor.WithEnv(o.cfg.ExecutorEnv...), executor.WithTimeout(budget))
	execResult, execErr := execClient.Run(budgetCtx, composePrompt(prevTree, selected, path), o.cfg.ExecutorOutPath)
	if execErr != nil {
		o.logFailure(iterNum, prevTree, selected.ID, "executor_error", "", start, execResult, nil, execErr)
		return Result{SelectedID: selected.ID, Fatal: execErr}, execErr
	}

	// Step 6: decode agent output (already validated/decoded by execClient).
	status := execResult.Output.Status

	// Step 7: guard, iff status == done.
	guardResult := &guard.Result{Outcome: guard.Skipped}
	if status == executor.StatusDone {
		guardClient := guard.NewClient(o.cfg.GuardCommand, guard.WithWorkDir(o.cfg.Root))
		guardResult = guardClient.Run(budgetCtx)
	}

	// Re-load the tree: the agent may have edited open-node content fields
	// and, for a decomposed leaf, added children, directly on disk.
	candidate, err := o.treeStore.Load()
	if err != nil {
		o.logFailure(iterNum, prevTree, selected.ID, string(status), string(guardResult.Outcome), start, execResult, guardResult, err)
		return Result{SelectedID: selected.ID, Status: string(status), Fatal: err}, err
	}

	// Step 8: apply the state update engine.
	nextTree, applyErr := stateengine.Apply(stateengine.Input{
		PrevTree: prevTree, SelectedID: selected.ID, AgentStatus: status,
		CandidateTree: candidate, GuardOutcome: guardResult.Outcome,
	})
	if applyErr != nil {
		o.logFailure(iterNum, prevTree, selected.ID, string(status), string(guardResult.Outcome), start, execResult, guardResult, applyErr)
		return Result{SelectedID: selected.ID, Status: string(status), Fatal: applyErr}, applyErr
	}

	// Step 9: persist the next tree atomically.
	if err := o.treeStore.Save(nextTree); err != nil {
		return Result{SelectedID: selected.ID, Status: string(status), Fatal: err}, err
	}

	o.updateHistory(hist, selected.ID, status, execResult.Output.Summary, guardResult)

	// Step 10: write iteration artifacts.
	duration := time.Since(start).Milliseconds()
	outputJSON, _ := encodeOutput(execResult.Output)
	if err := o.logWriter.Write(iterNum, prevTree, nextTree, selected.ID, string(status), string(guardResult.Outcome), duration,
		iterationlog.WithOutput(outputJSON),
		iterationlog.WithExecutorLog(append(execResult.Stdout, execResult.Stderr...)),
		iterationlog.WithGuardLog(guardResult.Output),
	); err != nil {
		return Result{}, fmt.Errorf("writing iteration log: %w", err)
	}

	// Advance run state before the commit so the commit leaves the
	// worktree clean, run_state.json included.
	run.Iteration = iterNum
	if o.runStore != nil {
		if err := o.runStore.Save(run); err != nil {
			return Result{SelectedID: selected.ID, Status: string(status)}, fmt.Errorf("persisting run state: %w", err)
		}
	}

	// Step 11: commit.
	o.commitOutcome(ctx, iterNum, selected.ID, string(status), string(guardResult.Outcome))

	return Result{SelectedID: selected.ID, Status: string(status), Guard: string(guardResult.Outcome)}, nil
}

func (o *Orchestrator) updateHistory(hist map[string]nodehistory.Record, id string, status executor.Status, summary string, gr *guard.Result) {
	switch {
	case status == executor.StatusDone && gr.Outcome == guard.Pass:
		delete(hist, id)
	case status == executor.StatusDecomposed:
		delete(hist, id)
	default:
		hist[id] = nodehistory.Record{Summary: summary, Failure: string(gr.Output)}
	}
	_ = o.histStore.Save(hist)
}

func (o *Orchestrator) commitOutcome(ctx context.Context, iterNum int, selectedID, status, guardOutcome string) {
	_ = o.commit.Commit(ctx, commithook.Outcome{
		Iteration: iterNum, SelectedID: selectedID, Status: status, Guard: guardOutcome,
	})
}

// logFailure handles an iteration that aborted after the executor ran but
// before a next tree was accepted. The agent edits state/tree.json in
// place, so the prior tree is first restored to disk: a rejected candidate
// must never survive as the authoritative tree, let alone get committed.
// The prior tree is then both before and after in the iteration artifacts.
// It covers executor errors, a failed tree re-load and a rejected update;
// the iteration log is written on a best-effort basis and the commit is made
// only when the prior tree was restored. Failures before the executor runs
// (loading the tree, composing context) and failures after the next tree is
// accepted (saving the tree, writing the iteration log, saving run state)
// return without an iteration log or a commit.
func (o *Orchestrator) logFailure(iterNum int, prevTree *node.Tree, selectedID, status, guardOutcome string, start time.Time, execResult *executor.Result, guardResult *guard.Result, failErr error) {
	restored := o.treeStore.Save(prevTree) == nil
	duration := time.Since(start).Milliseconds()
	opts := []iterationlog.Option{
		iterationlog.WithFailureLog([]byte(failErr.Error())),
	}
	if execResult != nil {
		opts = append(opts, iterationlog.WithExecutorLog(append(execResult.Stdout, execResult.Stderr...)))
	}
	if guardResult != nil && guardResult.Output != nil {
		opts = append(opts, iterationlog.WithGuardLog(guardResult.Output))
	}
	_ = o.logWriter.Write(iterNum, prevTree, prevTree, selectedID, status, guardOutcome, duration, opts...)
	if restored {
		o.commitOutcome(context.Background(), iterNum, selectedID, status, guardOutcome)
	}
	// If the restore failed, the commit is skipped: the dirty worktree then
	// stops the next iteration's precondition check instead of freezing the
	// rejected tree into history.
}

func composePrompt(t *node.Tree, selected *node.Node, path []string) string {
	return fmt.Sprintf(
		"Goal: %s\n\nSelected node: %s (path: %v)\nTitle: %s\nGoal: %s\nAcceptance: %v\nHint: %s\n\n"+
			"Read context/goal.md, context/tree_summary.md, context/selected_node.json, and (if present)\n"+
			"context/history.md and context/failure.log before acting. Edit only the selected node's\n"+
			"open content fields in state/tree.json (or, if decomposing, add its children) and write\n"+
			"your structured status JSON to the runner-specified output path.\n",
		t.Root.Goal, selected.ID, path, selected.Title, selected.Goal, selected.Acceptance, selected.Next,
	)
}

func encodeOutput(out executor.Output) ([]byte, error) {
	b, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(b, '\n'), nil
}
