// Command openpalm-guardian runs the guardian daemon: the trust boundary
// every channel adapter forwards signed payloads into.
package main

import (
	"fmt"
	"os"

	"github.com/itlackey/openpalm/cmd/openpalm-guardian/commands"
)

// version is injected at build time via ldflags.
var version = "dev"

func main() {
	root := commands.NewRootCmd(version)
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
