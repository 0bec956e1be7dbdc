package invariants

import (
	"errors"
	"testing"

	"github.com/opentree/loopctl/internal/loopctlerr"
	"github.com/opentree/loopctl/internal/node"
)

func leaf(id string, order int, passes bool) *node.Node {
	return &node.Node{
		ID: id, Order: order, Goal: "goal " + id, Acceptance: []string{"ok"},
		Next: node.HintExecute, Passes: passes, Attempts: 0, MaxAttempts: 3,
	}
}

func sampleTree(c1Passes bool) *node.Tree {
	c1 := leaf("c1", 1, c1Passes)
	c2 := leaf("c2", 2, false)
	root := &node.Node{
		ID: "r", Order: 0, Goal: "root goal", Acceptance: []string{"ok"},
		Next: node.HintDecompose, Passes: false, MaxAttempts: 3,
		Children: []*node.Node{c1, c2},
	}
	return &node.Tree{Version: node.SchemaVersion, Root: root}
}

func TestCheckTreeAcceptsWellFormedTree(t *testing.T) {
	if err := CheckTree(sampleTree(false)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestCheckTreeRejectsDuplicateIDs(t *testing.T) {
	tr := sampleTree(false)
	tr.Root.Children[1].ID = "c1"
	err := CheckTree(tr)
	assertRule(t, err, loopctlerr.RuleUniqueIDs)
}

func TestCheckTreeRejectsOutOfOrderChildren(t *testing.T) {
	tr := sampleTree(false)
	tr.Root.Children[0], tr.Root.Children[1] = tr.Root.Children[1], tr.Root.Children[0]
	err := CheckTree(tr)
	assertRule(t, err, loopctlerr.RuleCanonicalOrder)
}

func TestCheckTreeRejectsAttemptsOutOfBounds(t *testing.T) {
	tr := sampleTree(false)
	tr.Root.Children[0].Attempts = 9
	err := CheckTree(tr)
	assertRule(t, err, loopctlerr.RuleAttemptsBounds)
}

func TestCheckTreeRejectsMaxAttemptsZero(t *testing.T) {
	tr := sampleTree(false)
	tr.Root.Children[0].MaxAttempts = 0
	err := CheckTree(tr)
	assertRule(t, err, loopctlerr.RuleAttemptsBounds)
}

func TestCheckTreeRejectsDerivedPassMismatch(t *testing.T) {
	tr := sampleTree(false)
	tr.Root.Passes = true // children not all passing
	err := CheckTree(tr)
	assertRule(t, err, loopctlerr.RuleDerivedPass)
}

func TestCheckTreeAcceptsParentPassWhenAllChildrenPass(t *testing.T) {
	tr := sampleTree(true)
	tr.Root.Children[1].Passes = true
	tr.Root.Passes = true
	if err := CheckTree(tr); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestCheckImmutabilityAcceptsUnchangedPassedNode(t *testing.T) {
	prev := sampleTree(true)
	next := sampleTree(true)
	if err := CheckImmutability(prev, next); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// TestCheckImmutabilityRejectsEditedPassedNode covers an agent attempting
// to edit the goal of an already-passed node.
func TestCheckImmutabilityRejectsEditedPassedNode(t *testing.T) {
	prev := sampleTree(true)
	next := sampleTree(true)
	next.Root.Children[0].Goal = "a different goal entirely"

	err := CheckImmutability(prev, next)
	assertRule(t, err, loopctlerr.RulePassedImmutable)
}

func TestCheckImmutabilityRejectsMissingPassedNode(t *testing.T) {
	prev := sampleTree(true)
	next := sampleTree(true)
	next.Root.Children = next.Root.Children[1:]

	err := CheckImmutability(prev, next)
	assertRule(t, err, loopctlerr.RulePassedImmutable)
}

func TestCheckImmutabilityIgnoresUnpassedNodeEdits(t *testing.T) {
	prev := sampleTree(false)
	next := sampleTree(false)
	next.Root.Children[1].Goal = "rewritten, but never passed"

	if err := CheckImmutability(prev, next); err != nil {
		t.Fatalf("unexpected error for edit of unpassed node: %v", err)
	}
}

func TestCheckImmutabilityNilPrevIsNoop(t *testing.T) {
	if err := CheckImmutability(nil, sampleTree(true)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func assertRule(t *testing.T, err error, want loopctlerr.InvariantRule) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected InvariantViolation with rule %s, got nil", want)
	}
	var v *loopctlerr.InvariantViolation
	if !errors.As(err, &v) {
		t.Fatalf("expected *loopctlerr.InvariantViolation, got %T: %v", err, err)
	}
	if v.Rule != want {
		t.Fatalf("rule = %s, want %s", v.Rule, want)
	}
}
