// Command tuplex builds, inspects and executes relational query plans.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/tuplex/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "tuplex:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
