package invariants

import (
	"fmt"

	"github.com/opentree/loopctl/internal/loopctlerr"
	"github.com/opentree/loopctl/internal/node"
)

// CheckTree enforces unique ids, canonical sibling order, attempts bounds,
// and the derived-pass rule against a single canonicalized tree. Schema
// conformance is expected to already have been checked by
// schemaval.ValidateTree at the store boundary; CheckTree re-walks
// the in-memory structure so callers that build a tree without going through
// the store (the state update engine's candidate trees) get the same
// guarantee before it's ever persisted.
func CheckTree(t *node.Tree) error {
	if t == nil || t.Root == nil {
		return &loopctlerr.InvariantViolation{Rule: loopctlerr.RuleSchemaConformance, Detail: "tree has no root"}
	}

	seen := make(map[string]bool)
	var walkErr error
	t.Walk(func(n *node.Node, path []string) {
		if walkErr != nil {
			return
		}
		if seen[n.ID] {
			walkErr = &loopctlerr.InvariantViolation{Rule: loopctlerr.RuleUniqueIDs, NodeID: n.ID, Detail: "duplicate id"}
			return
		}
		seen[n.ID] = true

		if n.MaxAttempts < 1 {
			walkErr = &loopctlerr.InvariantViolation{Rule: loopctlerr.RuleAttemptsBounds, NodeID: n.ID, Detail: "max_attempts must be >= 1"}
			return
		}
		if n.Attempts < 0 || n.Attempts > n.MaxAttempts {
			walkErr = &loopctlerr.InvariantViolation{
				Rule: loopctlerr.RuleAttemptsBounds, NodeID: n.ID,
				Detail: fmt.Sprintf("attempts=%d out of bounds [0,%d]", n.Attempts, n.MaxAttempts),
			}
			return
		}
		if !sortedByOrderThenID(n.Children) {
			walkErr = &loopctlerr.InvariantViolation{Rule: loopctlerr.RuleCanonicalOrder, NodeID: n.ID, Detail: "children not in (order,id) ascending order"}
		}
	})
	if walkErr != nil {
		return walkErr
	}

	return checkDerivedPass(t.Root)
}

func sortedByOrderThenID(children []*node.Node) bool {
	for i := 1; i < len(children); i++ {
		a, b := children[i-1], children[i]
		if a.Order > b.Order || (a.Order == b.Order && a.ID > b.ID) {
			return false
		}
	}
	return true
}

// checkDerivedPass verifies the derived-pass rule: a parent passes iff all
// of its children pass.
func checkDerivedPass(n *node.Node) error {
	if n.IsLeaf() {
		return nil
	}
	allPass := true
	for _, c := range n.Children {
		if err := checkDerivedPass(c); err != nil {
			return err
		}
		if !c.Passes {
			allPass = false
		}
	}
	if n.Passes != allPass {
		return &loopctlerr.InvariantViolation{
			Rule: loopctlerr.RuleDerivedPass, NodeID: n.ID,
			Detail: fmt.Sprintf("passes=%v but children-all-pass=%v", n.Passes, allPass),
		}
	}
	return nil
}
