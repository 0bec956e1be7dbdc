// Package tree implements the tree store: loading, schema validation,
// canonicalization, and atomic persistence of the task tree.
package tree

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/opentree/loopctl/internal/fsutil"
	"github.com/opentree/loopctl/internal/loopctlerr"
	"github.com/opentree/loopctl/internal/node"
	"github.com/opentree/loopctl/internal/schemaval"
)

// Store persists and loads a single workspace's task tree at a fixed path.
type Store struct {
	Path string
}

// NewStore returns a Store rooted at path (conventionally state/tree.json).
func NewStore(path string) *Store {
	return &Store{Path: path}
}

// Load reads the persisted tree, validates it against the versioned schema,
// and returns it canonicalized. A missing file, malformed JSON, or schema
// violation all surface as *loopctlerr.SchemaError (malformed JSON and
// schema violations) except a missing file, which is a plain I/O error:
// callers distinguish "no workspace yet" (os.IsNotExist) from "workspace is
// corrupt" (SchemaError) because only the former is expected before `start`.
func (s *Store) Load() (*node.Tree, error) {
	data, err := os.ReadFile(s.Path)
	if err != nil {
		return nil, err
	}
	if err := schemaval.ValidateTree(data); err != nil {
		return nil, err
	}
	t, err := node.Parse(data)
	if err != nil {
		return nil, &loopctlerr.SchemaError{Subject: "tree", Err: err}
	}
	if t.Version != node.SchemaVersion {
		return nil, &loopctlerr.SchemaError{
			Subject: "tree",
			Err:     fmt.Errorf("tree version %d does not match supported version %d", t.Version, node.SchemaVersion),
		}
	}
	t.Canonicalize()
	return t, nil
}

// Save canonicalizes t, validates it against the schema, and atomically
// replaces the persisted tree. Any failure leaves the previous file intact.
func (s *Store) Save(t *node.Tree) error {
	data, err := node.CanonicalBytes(t)
	if err != nil {
		return &loopctlerr.PersistenceError{Path: s.Path, Err: err}
	}
	if err := schemaval.ValidateTree(data); err != nil {
		return err
	}
	if err := fsutil.EnsureDir(filepath.Dir(s.Path)); err != nil {
		return &loopctlerr.PersistenceError{Path: s.Path, Err: err}
	}
	if err := fsutil.AtomicWriteFile(s.Path, data, 0o644); err != nil {
		return &loopctlerr.PersistenceError{Path: s.Path, Err: err}
	}
	return nil
}
