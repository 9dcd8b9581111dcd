// Package cmd implements the vigil command line interface.
package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

func rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "vigil",
		Short:         "Daemon that watches displays and wakes the agent",
		Long:          "Vigil watches virtual displays until a stated condition becomes true, keeps a journal of agent tasks, and wakes the agent on resolution, timeout, or silence.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().String("config", "", "config file path")
	cmd.PersistentFlags().Bool("quiet", false, "suppress console log output")

	cmd.AddCommand(cmdDaemon())
	cmd.AddCommand(cmdVersion())
	return cmd
}

// Execute runs the CLI and exits non-zero on failure.
func Execute() {
	if err := rootCmd().Execute(); err != nil {
		_, _ = os.Stderr.WriteString("Error: " + err.Error() + "\n")
		os.Exit(1)
	}
}
