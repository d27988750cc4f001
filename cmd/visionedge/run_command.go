package main

import (
	"github.com/spf13/cobra"

	"visionedge/internal/daemonrun"
)

func newRunCommand(ctx *commandContext) *cobra.Command {
	var logLevel string
	var development bool
	var noWatch bool
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the visionedge daemon in the foreground",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			opts := daemonrun.Options{
				LogLevel:    logLevel,
				Development: development,
			}
			if !noWatch {
				opts.ConfigPath = ctx.configPath()
			}
			return daemonrun.Run(cmd.Context(), cfg, opts)
		},
	}
	cmd.Flags().StringVar(&logLevel, "log-level", "", "Override logging.level (debug, info, warn, error)")
	cmd.Flags().BoolVar(&development, "dev", false, "Human-readable console logs with source locations")
	cmd.Flags().BoolVar(&noWatch, "no-watch", false, "Do not reload [inference] settings when the config file changes")
	return cmd
}
