// Package stateengine implements the pure state-update transition:
// (prevTree, selectedID, agentStatus, candidateTree, guardOutcome) ->
// (nextTree, error). A tagged switch over the agent's declared status
// drives an explicit transition table, with no hidden globals: every input
// is a parameter and the previous tree is never mutated.
package stateengine

import (
	"fmt"

	"github.com/opentree/loopctl/internal/executor"
	"github.com/opentree/loopctl/internal/guard"
	"github.com/opentree/loopctl/internal/invariants"
	"github.com/opentree/loopctl/internal/loopctlerr"
	"github.com/opentree/loopctl/internal/node"
)

// Input bundles every explicit input to a single transition.
type Input struct {
	// PrevTree is the last durably persisted tree.
	PrevTree *node.Tree
	// SelectedID is the leaf the selector chose this iteration.
	SelectedID string
	// AgentStatus is the status the agent declared in its structured output.
	AgentStatus executor.Status
	// CandidateTree is the tree read back from the store after the agent
	// ran: it may contain open-node content edits and, for a decomposed
	// leaf, new children.
	CandidateTree *node.Tree
	// GuardOutcome is guard.Skipped when AgentStatus != done.
	GuardOutcome guard.Outcome
}

// Apply runs the six-step transition and returns the next tree to persist:
// normalize runner-owned fields, validate the structural rule for the
// declared status, apply the transition table to the selected leaf, derive
// parent passes bottom-up, then check immutability and the full tree
// invariants. On any structural or invariant violation it returns
// the error with a nil tree: the caller must retain PrevTree as
// authoritative and must not write the returned tree.
func Apply(in Input) (*node.Tree, error) {
	if in.PrevTree == nil || in.PrevTree.Root == nil {
		return nil, fmt.Errorf("stateengine: prev tree has no root")
	}
	if in.CandidateTree == nil || in.CandidateTree.Root == nil {
		return nil, fmt.Errorf("stateengine: candidate tree has no root")
	}

	next := in.CandidateTree.Clone()
	next.Canonicalize()

	selectedPrev, _ := in.PrevTree.Find(in.SelectedID)
	if selectedPrev == nil {
		return nil, fmt.Errorf("stateengine: selected id %q not found in previous tree", in.SelectedID)
	}
	selectedNext, _ := next.Find(in.SelectedID)
	if selectedNext == nil {
		return nil, &loopctlerr.InvariantViolation{
			Rule: loopctlerr.RuleStatusStructural, NodeID: in.SelectedID,
			Detail: "selected node missing from candidate tree",
		}
	}

	// Step 1: normalize runner-owned fields. Every node present in PrevTree
	// keeps its previous passes/attempts regardless of what the candidate
	// carries; nodes new in the candidate (only valid under decomposed)
	// default to passes=false, attempts=0.
	normalizeRunnerOwnedFields(in.PrevTree, next)

	// Step 2: validate the structural rule by status.
	if err := validateStructuralRule(in.AgentStatus, selectedPrev, selectedNext); err != nil {
		return nil, err
	}
	if err := checkOnlySelectedChildrenChanged(in.PrevTree, next, in.SelectedID); err != nil {
		return nil, err
	}

	// Step 3: apply the transition table to the selected leaf.
	if err := applyTransition(in.AgentStatus, in.GuardOutcome, selectedNext); err != nil {
		return nil, err
	}

	// Step 4: derive parent passes bottom-up.
	derivePasses(next.Root)

	// Step 5: immutability + full invariant check against the previous tree.
	if err := invariants.CheckImmutability(in.PrevTree, next); err != nil {
		return nil, err
	}
	if err := invariants.CheckTree(next); err != nil {
		return nil, err
	}

	return next, nil
}

// normalizeRunnerOwnedFields overwrites passes/attempts on every node of
// next that also exists in prev, and defaults brand-new nodes.
func normalizeRunnerOwnedFields(prev, next *node.Tree) {
	prevByID := make(map[string]*node.Node)
	for _, fn := range prev.Flatten() {
		prevByID[fn.Node.ID] = fn.Node
	}
	for _, fn := range next.Flatten() {
		if p, ok := prevByID[fn.Node.ID]; ok {
			fn.Node.Passes = p.Passes
			fn.Node.Attempts = p.Attempts
		} else {
			fn.Node.Passes = false
			fn.Node.Attempts = 0
		}
	}
}

func validateStructuralRule(status executor.Status, prev, next *node.Node) error {
	switch status {
	case executor.StatusDone, executor.StatusRetry:
		if len(next.Children) != 0 {
			return &loopctlerr.InvariantViolation{
				Rule: loopctlerr.RuleStatusStructural, NodeID: next.ID,
				Detail: fmt.Sprintf("status=%s must not add children to the selected leaf", status),
			}
		}
		return nil
	case executor.StatusDecomposed:
		if !prev.IsLeaf() {
			return &loopctlerr.InvariantViolation{
				Rule: loopctlerr.RuleStatusStructural, NodeID: next.ID,
				Detail: "status=decomposed requires the selected node to have been a leaf",
			}
		}
		if len(next.Children) == 0 {
			return &loopctlerr.InvariantViolation{
				Rule: loopctlerr.RuleStatusStructural, NodeID: next.ID,
				Detail: "status=decomposed requires at least one new child",
			}
		}
		return nil
	default:
		return &loopctlerr.InvariantViolation{
			Rule: loopctlerr.RuleStatusStructural, NodeID: next.ID,
			Detail: fmt.Sprintf("unrecognized agent status %q", status),
		}
	}
}

// checkOnlySelectedChildrenChanged enforces the structural rule's second
// half: regardless of status, no node other than the selected leaf may gain
// or lose children. Content edits to other open nodes (title, goal,
// acceptance, next) are unaffected by this check.
func checkOnlySelectedChildrenChanged(prev, next *node.Tree, selectedID string) error {
	prevByID := make(map[string][]string)
	for _, fn := range prev.Flatten() {
		prevByID[fn.Node.ID] = childIDs(fn.Node)
	}
	for _, fn := range next.Flatten() {
		if fn.Node.ID == selectedID {
			continue
		}
		prevChildren, existed := prevByID[fn.Node.ID]
		if !existed {
			// Brand-new node: only reachable as a descendant of the selected
			// node under a decomposed iteration, never a node of its own.
			continue
		}
		if !sameIDSet(prevChildren, childIDs(fn.Node)) {
			return &loopctlerr.InvariantViolation{
				Rule: loopctlerr.RuleStatusStructural, NodeID: fn.Node.ID,
				Detail: "only the selected node's children may change in a single iteration",
			}
		}
	}
	return nil
}

func childIDs(n *node.Node) []string {
	ids := make([]string, len(n.Children))
	for i, c := range n.Children {
		ids[i] = c.ID
	}
	return ids
}

func sameIDSet(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	seen := make(map[string]int, len(a))
	for _, id := range a {
		seen[id]++
	}
	for _, id := range b {
		seen[id]--
	}
	for _, c := range seen {
		if c != 0 {
			return false
		}
	}
	return true
}

// applyTransition applies the agent-status x guard-outcome table to the
// selected leaf.
func applyTransition(status executor.Status, outcome guard.Outcome, n *node.Node) error {
	switch {
	case status == executor.StatusDone && outcome == guard.Pass:
		n.Passes = true
	case status == executor.StatusDone && outcome == guard.Fail:
		n.Attempts = minInt(n.Attempts+1, n.MaxAttempts)
	case status == executor.StatusDone && outcome == guard.Error:
		return fmt.Errorf("stateengine: guard infrastructure error on node %s: fatal iteration error", n.ID)
	case status == executor.StatusRetry && outcome == guard.Skipped:
		n.Attempts = minInt(n.Attempts+1, n.MaxAttempts)
	case status == executor.StatusDecomposed && outcome == guard.Skipped:
		// attempts unchanged; the node already gained children in step 2's
		// validated candidate, each defaulted to passes=false, attempts=0
		// by normalizeRunnerOwnedFields.
	default:
		return &loopctlerr.InvariantViolation{
			Rule: loopctlerr.RuleStatusStructural, NodeID: n.ID,
			Detail: fmt.Sprintf("no transition defined for status=%s guard=%s", status, outcome),
		}
	}
	return nil
}

// derivePasses recomputes every ancestor's Passes bottom-up: a parent
// passes iff all of its children pass. Leaves keep whatever the transition
// step assigned them.
func derivePasses(n *node.Node) {
	if n.IsLeaf() {
		return
	}
	all := true
	for _, c := range n.Children {
		derivePasses(c)
		if !c.Passes {
			all = false
		}
	}
	n.Passes = all
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
