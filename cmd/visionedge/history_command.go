package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"visionedge/internal/ipc"
	"visionedge/internal/journal"
)

func newHistoryCommand(ctx *commandContext) *cobra.Command {
	var limit int
	var asJSON bool
	var withFrame bool
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recently published packets from the journal",
		RunE: func(cmd *cobra.Command, args []string) error {
			if limit <= 0 {
				return fmt.Errorf("--limit must be positive")
			}
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.History(limit, withFrame && asJSON)
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, resp.Entries)
				}
				stdout := cmd.OutOrStdout()
				if len(resp.Entries) == 0 {
					fmt.Fprintln(stdout, "Journal is empty")
					return nil
				}
				fmt.Fprint(stdout, renderTable(historyColumns, historyRows(resp.Entries)))
				return nil
			})
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Number of packets to show")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print entries as JSON")
	cmd.Flags().BoolVar(&withFrame, "frames", false, "Include frame bytes (JSON output only)")
	return cmd
}

var historyColumns = []column{
	{title: "ID", numeric: true},
	{title: "Published"},
	{title: "Seq"},
	{title: "Detections"},
	{title: "Frame", numeric: true},
}

func historyRows(entries []journal.Entry) [][]string {
	rows := make([][]string, 0, len(entries))
	for _, e := range entries {
		names := make([]string, 0, len(e.Detections))
		for _, d := range e.Detections {
			names = append(names, fmt.Sprintf("%s@%g", d.DisplayName, d.Confidence))
		}
		seq := strconv.FormatUint(e.FirstSeq, 10)
		if e.LastSeq != e.FirstSeq {
			seq += "-" + strconv.FormatUint(e.LastSeq, 10)
		}
		frame := "-"
		if e.FrameSize > 0 {
			frame = strconv.Itoa(e.FrameSize) + " B"
		}
		rows = append(rows, []string{
			strconv.FormatInt(e.ID, 10),
			formatTime(e.PublishedAt),
			seq,
			strings.Join(names, ", "),
			frame,
		})
	}
	return rows
}
