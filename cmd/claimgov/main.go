// Command claimgov runs the governed claim lifecycle.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/claimgov/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
