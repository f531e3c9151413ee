// Command openpalm-admin runs the control-plane REST API: channel
// install/uninstall, automation inspection, artifact/audit inspection, and
// first-boot token setup.
package main

import (
	"fmt"
	"os"

	"github.com/itlackey/openpalm/cmd/openpalm-admin/commands"
)

var version = "dev"

func main() {
	root := commands.NewRootCmd(version)
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
