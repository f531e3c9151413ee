// Package commands implements the openpalm-admin CLI using cobra.
package commands

import "github.com/spf13/cobra"

// NewRootCmd builds the root command with the serve subcommand registered.
func NewRootCmd(version string) *cobra.Command {
	root := &cobra.Command{
		Use:     "openpalm-admin",
		Short:   "Run the OpenPalm control-plane admin API",
		Version: version,
	}
	root.PersistentFlags().BoolP("verbose", "v", false, "enable debug logging")
	root.AddCommand(newServeCmd())
	return root
}
