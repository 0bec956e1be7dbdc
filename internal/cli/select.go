package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/opentree/loopctl/internal/loopctlerr"
	"github.com/opentree/loopctl/internal/selector"
	"github.com/opentree/loopctl/internal/tree"
	"github.com/opentree/loopctl/internal/workspace"
)

func newSelectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "select",
		Short: "Print the id of the leaf the next iteration would select (diagnostic)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			root, err := resolveRoot()
			if err != nil {
				return err
			}
			paths := workspace.New(root)
			t, err := tree.NewStore(paths.TreePath()).Load()
			if err != nil {
				return fmt.Errorf("loading tree: %w", err)
			}
			n, _, err := selector.Select(t)
			if err != nil {
				if errors.Is(err, loopctlerr.ErrTerminal) {
					return loopctlerr.ErrTerminal
				}
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), n.ID)
			return nil
		},
	}
}
