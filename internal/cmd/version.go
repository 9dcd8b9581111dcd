package cmd

import (
	"github.com/spf13/cobra"

	"github.com/vigil-run/vigil/internal/build"
)

func cmdVersion() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Display the binary version",
		Run: func(_ *cobra.Command, _ []string) {
			println(build.Version)
		},
	}
}
