package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/opentree/loopctl/internal/workspace"
)

// lastIterationBeforeSnapshot reads the tree.before.json artifact the
// iteration log writer recorded for the most recently completed iteration,
// for the status command's --diff view. It is read-only: nothing under
// status/watch/export ever writes to iterations/.
func lastIterationBeforeSnapshot(paths workspace.Paths, runID string, iteration int) ([]byte, error) {
	if iteration <= 0 {
		return nil, os.ErrNotExist
	}
	p := filepath.Join(paths.IterationsDir(), runID, fmt.Sprintf("iter-%d", iteration), "tree.before.json")
	return os.ReadFile(p)
}
