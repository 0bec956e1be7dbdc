// Command loopctl is the deterministic goal-driven agent loop runner.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/opentree/loopctl/internal/cli"
	"github.com/opentree/loopctl/internal/loopctlerr"
)

func main() {
	os.Exit(run())
}

func run() int {
	err := cli.Execute()
	if err == nil {
		return 0
	}
	fmt.Fprintln(os.Stderr, "loopctl:", err)
	if errors.Is(err, loopctlerr.ErrTerminal) {
		return 2
	}
	return 1
}
