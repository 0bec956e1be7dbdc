// Package loopctlerr defines the fatal-error taxonomy shared by every
// component of the iteration engine. Errors carry enough structure for
// callers to classify them with errors.As/errors.Is instead of string
// matching.
package loopctlerr

import (
	"errors"
	"fmt"
)

// Sentinel errors for conditions that have no additional payload.
var (
	// ErrTerminal indicates the selector found no open leaf: the run is
	// complete. Not a failure.
	ErrTerminal = errors.New("no open leaves remain")

	// ErrDirtyWorktree is a Precondition error: start/loop refuse to run
	// against an unclean git worktree.
	ErrDirtyWorktree = errors.New("worktree is not clean")

	// ErrForbiddenBranch is a Precondition error.
	ErrForbiddenBranch = errors.New("current branch is forbidden for this operation")

	// ErrMaxIterations indicates loop exhausted its configured iteration
	// budget without reaching a terminal tree state.
	ErrMaxIterations = errors.New("maximum iteration count reached")
)

// SchemaError wraps a tree or agent-output schema violation. Fatal: the run
// aborts (tree load) or the iteration aborts (agent output).
type SchemaError struct {
	Subject string // e.g. "tree", "agent_output"
	Err     error
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("schema violation in %s: %v", e.Subject, e.Err)
}

func (e *SchemaError) Unwrap() error { return e.Err }

// PersistenceError wraps an I/O failure writing the tree or run state.
type PersistenceError struct {
	Path string
	Err  error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persisting %s: %v", e.Path, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// InvariantRule identifies which invariant a violation breaks.
type InvariantRule string

const (
	RuleUniqueIDs         InvariantRule = "unique_ids"
	RuleCanonicalOrder    InvariantRule = "canonical_order"
	RuleAttemptsBounds    InvariantRule = "attempts_bounds"
	RuleDerivedPass       InvariantRule = "derived_pass"
	RulePassedImmutable   InvariantRule = "passed_node_immutability"
	RuleSchemaConformance InvariantRule = "schema_conformance"
	RuleStatusStructural  InvariantRule = "status_structural_rule"
)

// InvariantViolation is raised by the invariant checker. Fatal for the
// iteration: the proposed tree write is rejected and the prior tree remains
// authoritative.
type InvariantViolation struct {
	Rule   InvariantRule
	NodeID string // empty when the violation isn't node-scoped
	Detail string
}

func (e *InvariantViolation) Error() string {
	if e.NodeID != "" {
		return fmt.Sprintf("invariant %s violated at node %q: %s", e.Rule, e.NodeID, e.Detail)
	}
	return fmt.Sprintf("invariant %s violated: %s", e.Rule, e.Detail)
}

// ExecutorInfraError classifies a non-retryable infrastructure failure
// spawning or running the agent subprocess (guard failures of this kind are
// GuardInfraError). These never increment a node's attempts counter.
type ExecutorInfraError struct {
	Kind ExecutorInfraKind
	Err  error
}

// ExecutorInfraKind enumerates the ways subprocess invocation can fail
// before a valid agent outcome is ever produced.
type ExecutorInfraKind string

const (
	KindSpawnError    ExecutorInfraKind = "spawn_error"
	KindTimeout       ExecutorInfraKind = "timeout"
	KindNonzeroExit   ExecutorInfraKind = "nonzero_exit"
	KindOutputMissing ExecutorInfraKind = "output_missing"
	KindOutputBad     ExecutorInfraKind = "output_malformed"
)

func (e *ExecutorInfraError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("executor infrastructure error (%s): %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("executor infrastructure error (%s)", e.Kind)
}

func (e *ExecutorInfraError) Unwrap() error { return e.Err }

// GuardInfraError classifies a guard spawn failure or timeout. Same
// attempts-counter discipline as ExecutorInfraError.
type GuardInfraError struct {
	Kind ExecutorInfraKind
	Err  error
}

func (e *GuardInfraError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("guard infrastructure error (%s): %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("guard infrastructure error (%s)", e.Kind)
}

func (e *GuardInfraError) Unwrap() error { return e.Err }
