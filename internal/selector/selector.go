// Package selector implements the deterministic node-selection rule that
// drives each iteration: depth-first, canonical sibling order, first leaf
// whose passes is false. It is a pure function of the tree: same tree bytes
// always yield the same selection, with no hidden state of its own.
package selector

import (
	"github.com/opentree/loopctl/internal/loopctlerr"
	"github.com/opentree/loopctl/internal/node"
)

// Select walks t in canonical order and returns the first leaf node whose
// Passes field is false, together with its ancestor path (root-first). If
// every leaf passes, it returns loopctlerr.ErrTerminal: the run is complete,
// not failed.
func Select(t *node.Tree) (*node.Node, []string, error) {
	if t == nil || t.Root == nil {
		return nil, nil, loopctlerr.ErrTerminal
	}

	var found *node.Node
	var foundPath []string
	t.Walk(func(n *node.Node, path []string) {
		if found != nil {
			return
		}
		if n.IsLeaf() && !n.Passes {
			found = n
			foundPath = path
		}
	})
	if found == nil {
		return nil, nil, loopctlerr.ErrTerminal
	}
	return found, foundPath, nil
}
