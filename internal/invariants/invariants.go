// Package invariants enumerates and checks the invariants that must hold
// across every persisted tree revision: a catalog of named, enforceable
// design guarantees over the task tree, checked before any candidate tree
// is allowed to replace the authoritative one.
package invariants

import "github.com/opentree/loopctl/internal/loopctlerr"

// ID re-exports the invariant rule identifiers used throughout error
// reporting, matching loopctlerr.InvariantRule one-to-one.
type ID = loopctlerr.InvariantRule

// AllInvariants returns the six invariants checked on every tree write.
func AllInvariants() []ID {
	return []ID{
		loopctlerr.RuleUniqueIDs,
		loopctlerr.RuleCanonicalOrder,
		loopctlerr.RuleAttemptsBounds,
		loopctlerr.RuleDerivedPass,
		loopctlerr.RulePassedImmutable,
		loopctlerr.RuleSchemaConformance,
	}
}

// Invariant describes one checked design guarantee.
type Invariant struct {
	ID          ID
	Name        string
	Description string
	Enforcement string
}

// Definitions returns the full definitions of all invariants, keyed by ID.
func Definitions() map[ID]Invariant {
	return map[ID]Invariant{
		loopctlerr.RuleUniqueIDs: {
			ID:          loopctlerr.RuleUniqueIDs,
			Name:        "Unique IDs",
			Description: "Every node id is unique across the whole tree.",
			Enforcement: "Checked by invariants.CheckTree before every persisted write.",
		},
		loopctlerr.RuleCanonicalOrder: {
			ID:          loopctlerr.RuleCanonicalOrder,
			Name:        "Canonical sibling order",
			Description: "Children are sorted by (order asc, id asc); serialized output reflects this exactly.",
			Enforcement: "Enforced by node.Tree.Canonicalize before every write; checked again by invariants.CheckTree.",
		},
		loopctlerr.RuleAttemptsBounds: {
			ID:          loopctlerr.RuleAttemptsBounds,
			Name:        "Attempts bounds",
			Description: "0 <= attempts <= max_attempts and max_attempts >= 1 for every node.",
			Enforcement: "Checked by invariants.CheckTree before every persisted write.",
		},
		loopctlerr.RuleDerivedPass: {
			ID:          loopctlerr.RuleDerivedPass,
			Name:        "Derived-pass rule",
			Description: "A parent passes iff all of its children pass; leaves pass only via the state update engine.",
			Enforcement: "Recomputed bottom-up by stateengine.Apply after every leaf transition; checked by invariants.CheckTree.",
		},
		loopctlerr.RulePassedImmutable: {
			ID:          loopctlerr.RulePassedImmutable,
			Name:        "Passed-node immutability",
			Description: "A node with passes=true in the previous tree must exist with the same id, same canonical content, and same structural position in the next tree.",
			Enforcement: "Checked by invariants.CheckImmutability, comparing every previously-passed node across (prevTree, nextTree).",
		},
		loopctlerr.RuleSchemaConformance: {
			ID:          loopctlerr.RuleSchemaConformance,
			Name:        "Schema conformance",
			Description: "The tree validates against the versioned JSON schema on every load and before every write.",
			Enforcement: "Checked by schemaval.ValidateTree inside tree.Store.Load and tree.Store.Save.",
		},
	}
}
