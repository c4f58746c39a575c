// Command rxvault manages an offline-first pharmacy database.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/rxvault/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
