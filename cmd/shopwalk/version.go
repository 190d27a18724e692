package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/gotrs-io/shopwalk/internal/launcher"
	"github.com/gotrs-io/shopwalk/internal/version"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	// Version must work without a valid configuration.
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "shopwalk %s\n", version.Full())
		fmt.Fprintf(cmd.OutOrStdout(), "drivers: %v\n", launcher.Drivers())
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
