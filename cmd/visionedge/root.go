package main

import (
	"github.com/spf13/cobra"
)

func newRootCommand() *cobra.Command {
	ctx := newCommandContext()

	root := &cobra.Command{
		Use:           "visionedge",
		Short:         "Control the visionedge inference daemon",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if skipsConfig(cmd) {
				return nil
			}
			_, err := ctx.ensureConfig()
			return err
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&ctx.flags.socket, "socket", "", "Daemon socket path (defaults to the configured state dir)")
	flags.StringVarP(&ctx.flags.config, "config", "c", "", "Configuration file path")

	root.AddCommand(newSessionCommands(ctx)...)
	root.AddCommand(
		newRunCommand(ctx),
		newStatusCommand(ctx),
		newHealthCommand(ctx),
		newHistoryCommand(ctx),
		newConfigCommand(ctx),
	)
	return root
}
