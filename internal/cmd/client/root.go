package client

import (
	"github.com/spf13/cobra"
)

// NewRoot constructs a root Cobra command for the relay client. It is
// embedded by cmd/relay next to the server commands.
func NewRoot(baseURL BaseURLFunc) *cobra.Command {
	root := &cobra.Command{
		Use:   "relay",
		Short: "Relay client commands",
	}
	AddCommands(root, baseURL)
	return root
}

// AddCommands registers every client command on parent.
func AddCommands(parent *cobra.Command, baseURL BaseURLFunc) {
	parent.AddCommand(
		newAppendCommand(baseURL),
		newFlushCommand(baseURL),
		newReconcileCommand(baseURL),
		newResetCommand(baseURL),
		newStatsCommand(baseURL),
		NewConfigCommand(baseURL),
		newHealthCommand(),
	)
}
