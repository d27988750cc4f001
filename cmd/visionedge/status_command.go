package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"visionedge/internal/ipc"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show daemon, stream, and publishing status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.Status()
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, resp.Status)
				}

				st := resp.Status
				inf := st.Inference
				stdout := cmd.OutOrStdout()
				colorize := shouldColorize(stdout)

				for _, line := range renderSectionHeader("Daemon", colorize) {
					fmt.Fprintln(stdout, line)
				}
				fmt.Fprintln(stdout, renderStatusLine("Process", statusOK, fmt.Sprintf("pid %d", st.PID), colorize))
				fmt.Fprintln(stdout, renderStatusLine("Health", statusKindFromHealth(st.Health), st.Health.String(), colorize))
				if st.HTTPAddr != "" {
					fmt.Fprintln(stdout, renderStatusLine("HTTP", statusInfo, st.HTTPAddr, colorize))
				}
				if st.Broker != nil {
					kind, detail := statusOK, "Connected"
					if !st.Broker.Connected {
						kind, detail = statusWarn, "Disconnected"
					}
					fmt.Fprintln(stdout, renderStatusLine("MQTT", kind, detail, colorize))
				}
				if st.JournalPath != "" {
					fmt.Fprintln(stdout, renderStatusLine("Journal", statusInfo, st.JournalPath, colorize))
				}
				fmt.Fprintln(stdout)

				for _, line := range renderSectionHeader("Dependencies", colorize) {
					fmt.Fprintln(stdout, line)
				}
				for _, line := range dependencyLines(st.Dependencies, colorize) {
					fmt.Fprintln(stdout, line)
				}
				fmt.Fprintln(stdout)

				for _, line := range renderSectionHeader("Inference", colorize) {
					fmt.Fprintln(stdout, line)
				}
				if inf.Running {
					fmt.Fprintln(stdout, renderStatusLine("Session", statusOK, fmt.Sprintf("%s since %s", inf.SessionID, formatTime(inf.StartedAt)), colorize))
				} else {
					fmt.Fprintln(stdout, renderStatusLine("Session", statusInfo, "Not running", colorize))
				}
				fmt.Fprintln(stdout, streamLine("Detection stream", inf.Detection, colorize))
				fmt.Fprintln(stdout, streamLine("Video stream", inf.Video, colorize))
				fmt.Fprintln(stdout, renderStatusLine("Settings", statusInfo,
					fmt.Sprintf("confidenceThreshold=%d detectClass=%q", inf.Settings.ConfidenceThreshold, inf.Settings.DetectClass), colorize))
				fmt.Fprintln(stdout)

				rows := [][]string{
					{"Detection events", strconv.FormatUint(inf.Events, 10)},
					{"Packets published", strconv.FormatUint(inf.Published, 10)},
					{"Published without frame", strconv.FormatUint(inf.WithoutFrame, 10)},
					{"Publish failures", strconv.FormatUint(inf.PublishFailures, 10)},
					{"Queue dropped", strconv.FormatUint(inf.QueueDropped, 10)},
					{"Queue depth", strconv.Itoa(inf.QueueDepth)},
					{"Frames decoded", strconv.FormatUint(inf.Frames, 10)},
					{"Last frame", formatTime(inf.LastFrameAt)},
					{"Next sequence", strconv.FormatUint(inf.NextSequence, 10)},
					{"Feed clients", strconv.Itoa(st.FeedClients)},
				}
				fmt.Fprint(stdout, renderTable([]column{{title: "Counter"}, {title: "Value", numeric: true}}, rows))
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the raw status as JSON")
	return cmd
}
