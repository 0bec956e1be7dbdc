// Package node defines the task-tree data model: the Node and Tree types,
// their JSON wire format, and canonicalization rules.
package node

import (
	"fmt"
	"sort"
)

// Hint is an advisory signal the runner gives the agent on first encounter
// with a leaf. It is never authoritative: the state update engine decides
// the actual transition from the agent's declared Status (see stateengine).
type Hint string

const (
	HintExecute   Hint = "execute"
	HintDecompose Hint = "decompose"
)

// SchemaVersion is the current tree wire-format version. Workspaces pin this
// value in state/schema.json at start and the tree store refuses to load a
// tree whose Version field doesn't match.
const SchemaVersion = 1

// Node is the sole content entity in a task tree.
type Node struct {
	ID          string   `json:"id" yaml:"id"`
	Order       int      `json:"order" yaml:"order"`
	Title       string   `json:"title" yaml:"title"`
	Goal        string   `json:"goal" yaml:"goal"`
	Acceptance  []string `json:"acceptance" yaml:"acceptance"`
	Next        Hint     `json:"next" yaml:"next"`
	Passes      bool     `json:"passes" yaml:"passes"`
	Attempts    int      `json:"attempts" yaml:"attempts"`
	MaxAttempts int      `json:"max_attempts" yaml:"max_attempts"`
	Children    []*Node  `json:"children" yaml:"children"`
}

// Tree is a rooted, schema-versioned task tree. The root's Goal is the
// top-level user goal for the run.
type Tree struct {
	Version int   `json:"version" yaml:"version"`
	Root    *Node `json:"root" yaml:"root"`
}

// IsLeaf reports whether n has no children.
func (n *Node) IsLeaf() bool {
	return len(n.Children) == 0
}

// Stuck reports the derived condition passes=false && attempts=max_attempts.
// It is never stored; callers compute it from the persisted fields.
func (n *Node) Stuck() bool {
	return !n.Passes && n.Attempts >= n.MaxAttempts
}

// Clone performs a deep copy of the node, useful for building a candidate
// "next" tree without mutating the tree the orchestrator is holding onto.
func (n *Node) Clone() *Node {
	if n == nil {
		return nil
	}
	cp := *n
	// Non-nil slices: empty acceptance/children must serialize as [], not
	// null, to satisfy the tree schema.
	cp.Acceptance = make([]string, len(n.Acceptance))
	copy(cp.Acceptance, n.Acceptance)
	cp.Children = make([]*Node, len(n.Children))
	for i, c := range n.Children {
		cp.Children[i] = c.Clone()
	}
	return &cp
}

// Clone performs a deep copy of the whole tree.
func (t *Tree) Clone() *Tree {
	if t == nil {
		return nil
	}
	return &Tree{Version: t.Version, Root: t.Root.Clone()}
}

// SortChildren sorts n's immediate children by (Order asc, ID asc), the
// canonical sibling ordering, and recurses into the subtree.
func (n *Node) SortChildren() {
	if n == nil {
		return
	}
	sort.SliceStable(n.Children, func(i, j int) bool {
		a, b := n.Children[i], n.Children[j]
		if a.Order != b.Order {
			return a.Order < b.Order
		}
		return a.ID < b.ID
	})
	for _, c := range n.Children {
		c.SortChildren()
	}
}

// Canonicalize sorts the whole tree's siblings in place. Canonicalization is
// idempotent: Canonicalize(Canonicalize(t)) == Canonicalize(t).
func (t *Tree) Canonicalize() {
	if t == nil {
		return
	}
	t.Root.SortChildren()
}

// Walk visits every node in the tree in canonical (depth-first, sorted
// sibling) order, calling fn with the node and its path of ancestor ids
// (root-first, not including the node itself).
func (t *Tree) Walk(fn func(n *Node, path []string)) {
	if t == nil || t.Root == nil {
		return
	}
	var walk func(n *Node, path []string)
	walk = func(n *Node, path []string) {
		fn(n, path)
		childPath := append(append([]string(nil), path...), n.ID)
		for _, c := range n.Children {
			walk(c, childPath)
		}
	}
	walk(t.Root, nil)
}

// Find returns the node with the given id and its ancestor path, or nil if
// absent.
func (t *Tree) Find(id string) (*Node, []string) {
	var found *Node
	var foundPath []string
	t.Walk(func(n *Node, path []string) {
		if found == nil && n.ID == id {
			found = n
			foundPath = path
		}
	})
	return found, foundPath
}

// Flatten returns every node in the tree together with its ancestor path, in
// canonical order.
func (t *Tree) Flatten() []FlatNode {
	var out []FlatNode
	t.Walk(func(n *Node, path []string) {
		out = append(out, FlatNode{Node: n, Path: path})
	})
	return out
}

// FlatNode pairs a node with the ids of its ancestors, root-first.
type FlatNode struct {
	Node *Node
	Path []string
}

func (fn FlatNode) String() string {
	return fmt.Sprintf("%s@%v", fn.Node.ID, fn.Path)
}
