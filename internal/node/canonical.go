package node

import (
	"bytes"
	"encoding/json"
)

// CanonicalBytes returns the canonical JSON serialization of t: children
// sorted by (order, id), keys in struct-declaration order, two-space
// indentation, UTF-8, trailing newline. Round-trip holds:
// Parse(CanonicalBytes(t)) produces a tree whose CanonicalBytes are
// identical to the input.
func CanonicalBytes(t *Tree) ([]byte, error) {
	clone := t.Clone()
	clone.Canonicalize()
	buf, err := json.MarshalIndent(clone, "", "  ")
	if err != nil {
		return nil, err
	}
	buf = append(buf, '\n')
	return buf, nil
}

// Parse decodes tree wire bytes into a Tree. It does not canonicalize or
// validate; callers combine it with Canonicalize and schema validation as
// the tree store's load path does.
func Parse(data []byte) (*Tree, error) {
	var t Tree
	dec := json.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&t); err != nil {
		return nil, err
	}
	return &t, nil
}

// CanonicalNodeBytes returns the canonical JSON form of a single node,
// independent of its position in any particular tree. Used by the
// immutability check to compare a node's content across tree revisions.
func CanonicalNodeBytes(n *Node) ([]byte, error) {
	clone := n.Clone()
	clone.SortChildren()
	return json.Marshal(clone)
}

// SameCanonicalForm reports whether a and b serialize to byte-identical
// canonical JSON.
func SameCanonicalForm(a, b *Node) (bool, error) {
	ab, err := CanonicalNodeBytes(a)
	if err != nil {
		return false, err
	}
	bb, err := CanonicalNodeBytes(b)
	if err != nil {
		return false, err
	}
	return bytes.Equal(ab, bb), nil
}
