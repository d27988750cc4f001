package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"visionedge/internal/inference"
	"visionedge/internal/ipc"
)

func newSessionCommands(ctx *commandContext) []*cobra.Command {
	var dataURL, videoURL string
	startCmd := &cobra.Command{
		Use:   "start",
		Short: "Start an inference session on the running daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.Start(dataURL, videoURL)
				if err != nil {
					return err
				}
				stdout := cmd.OutOrStdout()
				if !resp.Started {
					return fmt.Errorf("start failed: %s", resp.Message)
				}
				fmt.Fprintf(stdout, "Inference started (session %s)\n", resp.Result.SessionID)
				if !resp.Result.VideoStarted {
					fmt.Fprintf(stdout, "Video stream unavailable: %s\n", resp.Result.VideoError)
					fmt.Fprintln(stdout, "Packets are published without frames until the video stream recovers")
				}
				return nil
			})
		},
	}
	startCmd.Flags().StringVar(&dataURL, "data-url", "", "Detection stream URL (defaults to streams.data_url)")
	startCmd.Flags().StringVar(&videoURL, "video-url", "", "Video stream URL (defaults to streams.video_url)")

	stopCmd := &cobra.Command{
		Use:   "stop",
		Short: "Stop the inference session",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				if _, err := client.Stop(); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Inference stopped")
				return nil
			})
		},
	}

	setCmd := &cobra.Command{
		Use:   "set <name> <value>",
		Short: "Change a runtime setting (confidenceThreshold, detectClass)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.ApplySetting(args[0], args[1])
				if err != nil {
					return err
				}
				return renderSettingResult(cmd, resp.Result)
			})
		},
	}

	return []*cobra.Command{startCmd, stopCmd, setCmd}
}

func renderSettingResult(cmd *cobra.Command, result inference.SettingResult) error {
	if !result.OK() {
		msg := strings.TrimSpace(result.Message)
		if msg == "" {
			msg = "rejected"
		}
		return fmt.Errorf("set %s: %s", result.Name, msg)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s = %s\n", result.Name, result.Value)
	return nil
}
