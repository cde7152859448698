// Package cli holds the cobra commands behind the demo binaries and ipcctl.
package cli

import (
	"github.com/spf13/cobra"

	"github.com/srediag/ipcdemo/pkg/transport"
)

// NewRootCommand creates the ipcctl command: one subcommand per transport plus watch.
func NewRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ipcctl",
		Short: "Demonstrate inter-process communication between a parent and its child",
		Long: `ipcctl runs one message through pipes, shared memory or a Unix socket between the
current process and a child it spawns, printing every step as a JSON event line.

Use watch to run a transport under the monitor and read the events as log lines.`,
		SilenceUsage: true,
	}

	for _, kind := range transport.Kinds {
		cmd.AddCommand(NewTransportCommand(kind, string(kind)))
	}
	cmd.AddCommand(NewWatchCommand())

	return cmd
}
