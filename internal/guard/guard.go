// Package guard runs the workspace's verification command after the agent
// declares a node done, and classifies its result. It shares the same
// invocation shape as internal/executor: run an external tool under a
// deadline, classify the outcome.
package guard

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"time"

	"github.com/opentree/loopctl/internal/fsutil"
	"github.com/opentree/loopctl/internal/loopctlerr"
)

// MaxCapturedBytes bounds how much of the guard command's combined output is
// retained, matching the executor's cap.
const MaxCapturedBytes = 1 << 20

// Outcome classifies the guard command's result.
type Outcome string

const (
	// Pass: the guard command exited 0.
	Pass Outcome = "pass"
	// Fail: the guard command ran and exited nonzero.
	Fail Outcome = "fail"
	// Skipped: no guard command is configured for this workspace, or the
	// orchestrator did not invoke the guard because the status was not done.
	Skipped Outcome = "skipped"
	// Error: the guard command could not be run at all (spawn failure or
	// timeout), distinct from Fail, which means it ran and reported
	// failure.
	Error Outcome = "error"
)

// Client runs the configured guard command.
type Client struct {
	Command []string // empty means no guard configured: Run always returns Skipped
	Timeout time.Duration
	WorkDir string
}

// Option configures a Client.
type Option func(*Client)

// WithTimeout sets a guard timeout nested inside the context passed to Run,
// so it can only tighten the remaining iteration budget, never extend it.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.Timeout = d }
}

// WithWorkDir sets the guard command's working directory.
func WithWorkDir(dir string) Option {
	return func(c *Client) { c.WorkDir = dir }
}

// NewClient builds a Client for the given guard command (argv form, e.g.
// []string{"make", "check"}). A nil or empty command makes every Run call
// return Skipped without spawning anything.
func NewClient(command []string, opts ...Option) *Client {
	c := &Client{Command: command}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Result carries the guard's classified outcome and captured combined
// output, for the iteration log and for the context writer's failure block.
type Result struct {
	Outcome Outcome
	Output  []byte
	Err     error
}

// Run executes the guard command under ctx, bounded by the remaining
// iteration budget (the caller passes a context already carrying that
// deadline; Timeout, if set, further tightens it).
func (c *Client) Run(ctx context.Context) *Result {
	if len(c.Command) == 0 {
		return &Result{Outcome: Skipped}
	}

	if c.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, c.Command[0], c.Command[1:]...)
	cmd.Dir = c.WorkDir
	var combined bytes.Buffer
	cmd.Stdout = &combined
	cmd.Stderr = &combined

	err := cmd.Run()
	output := fsutil.CapOutput(combined.Bytes(), MaxCapturedBytes)

	if err == nil {
		return &Result{Outcome: Pass, Output: output}
	}

	if ctx.Err() == context.DeadlineExceeded {
		return &Result{Outcome: Error, Output: output,
			Err: &loopctlerr.GuardInfraError{Kind: loopctlerr.KindTimeout, Err: ctx.Err()}}
	}
	if errors.Is(err, exec.ErrNotFound) {
		return &Result{Outcome: Error, Output: output,
			Err: &loopctlerr.GuardInfraError{Kind: loopctlerr.KindSpawnError, Err: err}}
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return &Result{Outcome: Fail, Output: output}
	}
	return &Result{Outcome: Error, Output: output,
		Err: &loopctlerr.GuardInfraError{Kind: loopctlerr.KindSpawnError, Err: err}}
}
