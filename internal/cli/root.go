package cli

import (
	"github.com/spf13/cobra"
)

// NewRootCmd creates the root tickreplay command.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "tickreplay",
		Short: "Replay recorded trades over websocket at their original pace",
		Long: `tickreplay serves a recorded trade dataset to websocket consumers,
releasing trades that share a timestamp together and spacing groups by
the gaps between their timestamps.

Each connection gets its own independent replay from the start.`,
		SilenceUsage: true,
	}

	root.AddCommand(
		newServerCmd(),
		newClientCmd(),
		newGenerateCmd(),
		newImportCmd(),
		newInspectCmd(),
	)

	return root
}
