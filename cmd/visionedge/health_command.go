package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"visionedge/internal/health"
	"visionedge/internal/ipc"
)

func newHealthCommand(ctx *commandContext) *cobra.Command {
	var check bool
	var asJSON bool
	var strict bool
	cmd := &cobra.Command{
		Use:   "health",
		Short: "Report inference health (0 critical, 1 warning, 2 good)",
		Long: "Report inference health. With --check a tracked sample is taken, which\n" +
			"counts toward escalation and may trigger the configured restart command.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.Health(check)
				if err != nil {
					return err
				}
				if asJSON {
					if err := writeJSON(cmd, resp); err != nil {
						return err
					}
				} else {
					renderHealth(cmd, resp)
				}
				if strict && resp.Code == health.Critical {
					return fmt.Errorf("health critical")
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&check, "check", false, "Take an escalation-tracking sample")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the report as JSON")
	cmd.Flags().BoolVar(&strict, "strict", false, "Exit non-zero when health is critical")
	return cmd
}

func renderHealth(cmd *cobra.Command, resp *ipc.HealthResponse) {
	stdout := cmd.OutOrStdout()
	colorize := shouldColorize(stdout)
	fmt.Fprintln(stdout, renderStatusLine("Overall", statusKindFromHealth(resp.Code), fmt.Sprintf("%s (%d)", resp.Code, int(resp.Code)), colorize))
	for _, src := range resp.Report.Sources {
		fmt.Fprintln(stdout, renderStatusLine(src.Name, statusKindFromHealth(src.Code), src.Code.String(), colorize))
	}
	if resp.Report.CheckedAt.IsZero() {
		return
	}
	fmt.Fprintln(stdout, renderStatusLine("Last check", statusInfo, formatTime(resp.Report.CheckedAt), colorize))
	if resp.Report.Streak > 0 {
		fmt.Fprintln(stdout, renderStatusLine("Degraded streak", statusWarn,
			fmt.Sprintf("%d since %s", resp.Report.Streak, formatTime(resp.Report.DegradedSince)), colorize))
	}
	fmt.Fprintln(stdout, renderStatusLine("Escalated", statusInfo, yesNo(resp.Report.Escalated), colorize))
}
