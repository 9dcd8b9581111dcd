package cmd

import (
	"github.com/spf13/cobra"

	"github.com/vigil-run/vigil/internal/daemon"
)

func cmdDaemon() *cobra.Command {
	return &cobra.Command{
		Use:   "daemon",
		Short: "Run the vigil daemon",
		Long:  "Start the wait scheduler, task journal, stuck detector, and HTTP surface. Blocks until SIGINT or SIGTERM.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, err := NewContext(cmd)
			if err != nil {
				return err
			}
			d, err := daemon.New(ctx.Config)
			if err != nil {
				return err
			}
			return d.Run(ctx)
		},
	}
}
