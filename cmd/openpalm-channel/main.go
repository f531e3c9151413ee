// Command openpalm-channel runs one channel adapter process: the
// per-protocol HTTP → signed payload normalizer that forwards to the
// guardian.
package main

import (
	"fmt"
	"os"

	"github.com/itlackey/openpalm/cmd/openpalm-channel/commands"
)

var version = "dev"

func main() {
	root := commands.NewRootCmd(version)
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
