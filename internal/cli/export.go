package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/opentree/loopctl/internal/node"
	"github.com/opentree/loopctl/internal/tree"
	"github.com/opentree/loopctl/internal/workspace"
)

func newExportCmd() *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Dump the canonical tree as JSON or YAML (read-only; never the source of truth)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExport(cmd, format)
		},
	}
	cmd.Flags().StringVar(&format, "format", "json", `output format: "json" or "yaml"`)
	return cmd
}

func runExport(cmd *cobra.Command, format string) error {
	root, err := resolveRoot()
	if err != nil {
		return err
	}
	paths := workspace.New(root)
	t, err := tree.NewStore(paths.TreePath()).Load()
	if err != nil {
		return fmt.Errorf("loading tree: %w", err)
	}

	switch format {
	case "json":
		data, err := node.CanonicalBytes(t)
		if err != nil {
			return err
		}
		_, err = cmd.OutOrStdout().Write(data)
		return err
	case "yaml":
		data, err := yaml.Marshal(t)
		if err != nil {
			return fmt.Errorf("encoding yaml: %w", err)
		}
		_, err = cmd.OutOrStdout().Write(data)
		return err
	default:
		return fmt.Errorf("unsupported export format %q (want json or yaml)", format)
	}
}
