package invariants

import (
	"bytes"
	"fmt"

	"github.com/zeebo/blake3"

	"github.com/opentree/loopctl/internal/loopctlerr"
	"github.com/opentree/loopctl/internal/node"
)

// CheckImmutability enforces passed-node immutability: every node that had
// passes=true in prev must appear in next with the same id, identical
// canonical content, and the same structural position (same parent, same
// sibling rank after canonical sort).
//
// Content equality is compared by blake3 digest of each node's canonical
// bytes first; a digest mismatch rejects immediately, and a digest match is
// confirmed by the exact byte compare in node.SameCanonicalForm, so equality
// never rests on the hash alone.
func CheckImmutability(prev, next *node.Tree) error {
	if prev == nil || prev.Root == nil {
		return nil
	}

	nextByID := make(map[string]node.FlatNode, 16)
	for _, fn := range next.Flatten() {
		nextByID[fn.Node.ID] = fn
	}

	for _, pfn := range prev.Flatten() {
		if !pfn.Node.Passes {
			continue
		}
		nfn, ok := nextByID[pfn.Node.ID]
		if !ok {
			return &loopctlerr.InvariantViolation{
				Rule: loopctlerr.RulePassedImmutable, NodeID: pfn.Node.ID,
				Detail: "passed node missing from next tree",
			}
		}
		if !samePath(pfn.Path, nfn.Path) {
			return &loopctlerr.InvariantViolation{
				Rule: loopctlerr.RulePassedImmutable, NodeID: pfn.Node.ID,
				Detail: fmt.Sprintf("structural position changed: %v -> %v", pfn.Path, nfn.Path),
			}
		}
		equal, err := sameContentFast(pfn.Node, nfn.Node)
		if err != nil {
			return fmt.Errorf("comparing node %s: %w", pfn.Node.ID, err)
		}
		if !equal {
			return &loopctlerr.InvariantViolation{
				Rule: loopctlerr.RulePassedImmutable, NodeID: pfn.Node.ID,
				Detail: "canonical content changed after passes=true",
			}
		}
	}
	return nil
}

func samePath(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func sameContentFast(a, b *node.Node) (bool, error) {
	ab, err := node.CanonicalNodeBytes(a)
	if err != nil {
		return false, err
	}
	bb, err := node.CanonicalNodeBytes(b)
	if err != nil {
		return false, err
	}
	ha, hb := blake3.Sum256(ab), blake3.Sum256(bb)
	if !bytes.Equal(ha[:], hb[:]) {
		return false, nil
	}
	// Digest match is confirmed by the exact compare.
	return node.SameCanonicalForm(a, b)
}
