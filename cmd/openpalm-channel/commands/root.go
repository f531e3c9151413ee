// Package commands implements the openpalm-channel CLI using cobra.
package commands

import "github.com/spf13/cobra"

// NewRootCmd builds the root command with the serve subcommand registered.
func NewRootCmd(version string) *cobra.Command {
	root := &cobra.Command{
		Use:     "openpalm-channel",
		Short:   "Run one channel adapter (api, a2a, chat, discord, telegram)",
		Version: version,
	}
	root.PersistentFlags().BoolP("verbose", "v", false, "enable debug logging")
	root.AddCommand(newServeCmd())
	return root
}
