package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

// statusCmd shows session counters and a view summary
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show session state and live view summary",
	Long: `Show the running session's counters: channel state, reconnects,
updates applied, poll activity, notification totals, and a summary of
the current view model.

Examples:
  # Human-readable status
  citypulse status

  # Raw counters as JSON
  citypulse status -o json`,
	RunE: func(cmd *cobra.Command, args []string) error {
		client := newAPIClient()
		ctx := context.Background()

		info, err := client.getSession(ctx)
		if err != nil {
			return err
		}

		if output == "json" {
			data, _ := json.MarshalIndent(info, "", "  ")
			fmt.Println(string(data))
			return nil
		}

		scope := info.Scope
		if scope == "" {
			scope = "(none)"
		}
		fmt.Printf("%-16s %s (generation %d)\n", "Scope:", scope, info.Generation)
		fmt.Printf("%-16s %s\n", "Channel:", info.ChannelState)
		fmt.Printf("%-16s %d\n", "Reconnects:", info.Reconnects)
		fmt.Printf("%-16s %d frames, %d unknown types, %d decode errors\n", "Frames:",
			info.Channel.FramesReceived, info.Channel.UnknownTypes, info.Channel.DecodeErrors)
		fmt.Printf("%-16s %d ticks, %d delivered, %d failures\n", "Poll:",
			info.Poll.Ticks, info.Poll.Delivered, info.Poll.Failures)
		fmt.Printf("%-16s %d applied, %d stale dropped\n", "Updates:", info.Applied, info.StaleDropped)
		fmt.Printf("%-16s %d sent, %d suppressed\n", "Notifications:", info.Notified, info.Suppressed)
		if info.LastUpdate != nil {
			fmt.Printf("%-16s %s (%s ago)\n", "Last update:",
				info.LastUpdate.Format(time.RFC3339), time.Since(*info.LastUpdate).Round(time.Second))
		}

		if info.Scope == "" {
			return nil
		}

		// View summary is best effort: absent until the first data lands.
		snapshot, err := client.getView(ctx)
		if err != nil {
			return nil
		}
		view := snapshot.View

		fmt.Println()
		if view.Risk != nil {
			fmt.Printf("%-16s %.1f (%s)\n", "Risk:", view.Risk.Overall, view.Risk.Level)
		}
		if view.Alerts != nil {
			fmt.Printf("%-16s %d active\n", "Alerts:", len(view.Alerts.Alerts))
		}
		if view.Anomalies != nil {
			fmt.Printf("%-16s %d detected\n", "Anomalies:", view.Anomalies.TotalCount)
		}
		fmt.Printf("%-16s %d environment, %d traffic, %d risk points\n", "Series:",
			len(view.EnvironmentSeries), len(view.TrafficSeries), len(view.RiskHistorySeries))

		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
