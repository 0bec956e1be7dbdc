// Package cli implements loopctl's command surface: the run driver
// (start/loop/select) and the read-only local diagnostics
// (status/watch/export/doctor). One newXxxCmd() constructor per subcommand,
// wired into the root command in init.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/opentree/loopctl/internal/commithook"
)

var rootDir string

var rootCmd = &cobra.Command{
	Use:   "loopctl",
	Short: "A deterministic goal-driven agent loop runner",
	Long: `loopctl drives an external agent subprocess through iterative work
against a single long-running goal, selecting one leaf of a persistent task
tree per iteration, applying validated results, and running a guard command
before marking anything done.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command; main wires its error into an exit code.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&rootDir, "root", "", "workspace root (default: git toplevel of the current directory)")
	rootCmd.AddCommand(
		newStartCmd(),
		newLoopCmd(),
		newSelectCmd(),
		newStatusCmd(),
		newWatchCmd(),
		newExportCmd(),
		newDoctorCmd(),
	)
}

// resolveRoot returns the workspace root: --root if given, otherwise the git
// toplevel containing the current directory.
func resolveRoot() (string, error) {
	if rootDir != "" {
		return rootDir, nil
	}
	cwd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("resolving working directory: %w", err)
	}
	top, err := commithook.FindProjectRoot(cwd)
	if err != nil {
		return "", fmt.Errorf("%s is not inside a git repository: %w", cwd, err)
	}
	return top, nil
}
