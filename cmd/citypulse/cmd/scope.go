package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/urbanpulse/citypulse/internal/statusapi"
)

// scopeCmd shows or switches the active city scope
var scopeCmd = &cobra.Command{
	Use:   "scope [city]",
	Short: "Show or switch the active city scope",
	Long: `Show the active city scope, or switch the running session to a new one.

A switch is atomic: the old city's state is fully torn down before the
new scope starts filling, so no stale data bleeds across. If the push
channel cannot be dialed, the switch still happens; the session reports
degraded mode and keeps the view fresh by polling alone.

Examples:
  # Show the active scope
  citypulse scope

  # Switch the running session to Pune
  citypulse scope pune`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client := newAPIClient()
		ctx := context.Background()

		if len(args) == 0 {
			info, err := client.getSession(ctx)
			if err != nil {
				return err
			}
			if info.Scope == "" {
				fmt.Println("No active scope.")
				return nil
			}
			fmt.Printf("%s (generation %d, channel %s)\n", info.Scope, info.Generation, info.ChannelState)
			return nil
		}

		status, err := client.setScope(ctx, args[0])
		if err != nil {
			var apiErr *statusapi.Error
			if errors.As(err, &apiErr) && apiErr.Code == statusapi.ErrCodeUpstreamError {
				fmt.Printf("Scope switched to %s, but the push channel is down: %s\n", args[0], apiErr.Message)
				fmt.Println("Polling keeps the view fresh until it reconnects.")
				return nil
			}
			return fmt.Errorf("switch scope: %w", err)
		}

		fmt.Printf("Scope switched to %s (generation %d).\n", status.Scope, status.Generation)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(scopeCmd)
}
