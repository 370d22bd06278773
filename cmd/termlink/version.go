package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/GriffinCanCode/termlink/internal/controlplane"
)

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		// needs no configuration
		PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "termlink library %s (protocol %s)\n",
				controlplane.LibraryVersion, controlplane.Subprotocol)
			return err
		},
	}
}
