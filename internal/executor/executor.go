// Package executor spawns the agent subprocess for one iteration and
// decodes its structured output: the composed prompt goes to stdin, the
// agent must exit zero and leave a single JSON status document at a
// runner-specified output path, and every way that can fail maps to a
// typed infrastructure error.
package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/opentree/loopctl/internal/fsutil"
	"github.com/opentree/loopctl/internal/loopctlerr"
	"github.com/opentree/loopctl/internal/schemaval"
)

// DefaultTimeout is the default iteration budget for the agent subprocess.
const DefaultTimeout = 30 * time.Minute

// MaxCapturedBytes bounds how much of stdout/stderr and the agent's
// structured-output file are retained.
const MaxCapturedBytes = 1 << 20 // 1 MiB

// Status is the agent's declared outcome for the selected node.
type Status string

const (
	StatusDone       Status = "done"
	StatusRetry      Status = "retry"
	StatusDecomposed Status = "decomposed"
)

// Output is the agent's structured-output document, decoded from the
// runner-specified output file after a zero exit.
type Output struct {
	Status  Status `json:"status"`
	Summary string `json:"summary"`
}

// Client spawns the agent subprocess. Timeout, WorkDir and Env are
// configurable via Option so callers (the orchestrator, tests) can override the
// workspace defaults without constructing the zero value by hand.
type Client struct {
	Command string
	Args    []string
	Timeout time.Duration
	WorkDir string
	Env     []string
}

// Option configures a Client.
type Option func(*Client)

// WithTimeout overrides the default iteration budget.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.Timeout = d }
}

// WithWorkDir sets the subprocess working directory (defaults to the
// workspace root).
func WithWorkDir(dir string) Option {
	return func(c *Client) { c.WorkDir = dir }
}

// WithEnv appends environment variable overrides to the inherited
// environment.
func WithEnv(env ...string) Option {
	return func(c *Client) { c.Env = append(c.Env, env...) }
}

// NewClient builds a Client that invokes command with args, with
// DefaultTimeout unless overridden.
func NewClient(command string, args []string, opts ...Option) *Client {
	c := &Client{Command: command, Args: args, Timeout: DefaultTimeout}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Result captures everything the orchestrator and iteration log need from a
// single agent invocation.
type Result struct {
	Output Output
	Stdout []byte
	Stderr []byte
}

// Run spawns the agent subprocess, writes prompt to its stdin, waits for it
// to exit 0, then reads and schema-validates its structured-output file at
// outputPath. The output file is only opened after a zero exit. Captured
// stdout/stderr are capped to MaxCapturedBytes with a truncation marker.
func (c *Client) Run(ctx context.Context, prompt string, outputPath string) (*Result, error) {
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := os.Remove(outputPath); err != nil && !os.IsNotExist(err) {
		return nil, &loopctlerr.ExecutorInfraError{Kind: loopctlerr.KindSpawnError, Err: err}
	}
	if err := fsutil.EnsureDir(filepath.Dir(outputPath)); err != nil {
		return nil, &loopctlerr.ExecutorInfraError{Kind: loopctlerr.KindSpawnError, Err: err}
	}

	cmd := exec.CommandContext(ctx, c.Command, c.Args...)
	cmd.Dir = c.WorkDir
	if len(c.Env) > 0 {
		cmd.Env = append(os.Environ(), c.Env...)
	}
	cmd.Stdin = bytes.NewBufferString(prompt)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	capped := Result{
		Stdout: fsutil.CapOutput(stdout.Bytes(), MaxCapturedBytes),
		Stderr: fsutil.CapOutput(stderr.Bytes(), MaxCapturedBytes),
	}

	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return &capped, &loopctlerr.ExecutorInfraError{Kind: loopctlerr.KindTimeout, Err: ctx.Err()}
		}
		if errors.Is(err, exec.ErrNotFound) {
			return &capped, &loopctlerr.ExecutorInfraError{Kind: loopctlerr.KindSpawnError, Err: err}
		}
		return &capped, &loopctlerr.ExecutorInfraError{Kind: loopctlerr.KindNonzeroExit, Err: err}
	}

	raw, err := os.ReadFile(outputPath)
	if err != nil {
		return &capped, &loopctlerr.ExecutorInfraError{Kind: loopctlerr.KindOutputMissing, Err: err}
	}
	raw = fsutil.CapOutput(raw, MaxCapturedBytes)

	if err := schemaval.ValidateAgentOutput(raw); err != nil {
		return &capped, &loopctlerr.ExecutorInfraError{Kind: loopctlerr.KindOutputBad, Err: err}
	}
	var out Output
	if err := json.Unmarshal(raw, &out); err != nil {
		return &capped, &loopctlerr.ExecutorInfraError{Kind: loopctlerr.KindOutputBad, Err: fmt.Errorf("decoding agent output: %w", err)}
	}

	capped.Output = out
	return &capped, nil
}
