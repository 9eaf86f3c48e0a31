package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var historyForce bool

// historyCmd represents the history command group
var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Manage stored simulation runs",
	Long: `Commands for the bounded history of what-if simulation runs.

The daemon stores the most recent runs (newest first) in a local SQLite
file, so they survive restarts. Only clearing removes entries.

Examples:
  # List stored runs
  citypulse history list

  # Wipe the history
  citypulse history clear --force`,
}

// historyListCmd lists stored simulation runs
var historyListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored simulation runs",
	Long: `List stored simulation runs, newest first.

Example:
  citypulse history list`,
	RunE: func(cmd *cobra.Command, args []string) error {
		client := newAPIClient()
		page, err := client.getHistory(context.Background())
		if err != nil {
			return err
		}

		if output == "json" {
			data, _ := json.MarshalIndent(page, "", "  ")
			fmt.Println(string(data))
			return nil
		}

		if page.Count == 0 {
			fmt.Println("No stored runs.")
			return nil
		}

		// Print header
		fmt.Printf("\n%-36s  %-20s  %-12s  %-6s  %-8s  %s\n",
			"ID", "WHEN", "SCOPE", "ZONE", "TRAFFIC", "CONFIDENCE")
		fmt.Println(strings.Repeat("-", 100))

		for _, entry := range page.Entries {
			fmt.Printf("%-36s  %-20s  %-12s  %-6s  %+8.0f  %.2f\n",
				entry.ID,
				entry.Timestamp.Format("2006-01-02 15:04:05"),
				entry.Scope,
				entry.Parameters.Zone,
				entry.Parameters.TrafficDensityChange,
				entry.ResultSnapshot.OverallConfidence,
			)
		}
		fmt.Printf("\n%d of %d slots used\n", page.Count, page.Capacity)
		if page.Degraded {
			fmt.Println("Note: persistence is degraded, entries live in memory only.")
		}

		return nil
	},
}

// historyClearCmd wipes the stored runs
var historyClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete all stored simulation runs",
	Long: `Delete all stored simulation runs, including the persisted copies.

Example:
  citypulse history clear --force  # skip confirmation`,
	RunE: func(cmd *cobra.Command, args []string) error {
		client := newAPIClient()
		ctx := context.Background()

		if !historyForce {
			page, err := client.getHistory(ctx)
			if err != nil {
				return err
			}
			if page.Count == 0 {
				fmt.Println("No stored runs.")
				return nil
			}
			fmt.Printf("Delete %d stored run(s)? [y/N]: ", page.Count)
			var confirm string
			fmt.Scanln(&confirm)
			if !strings.EqualFold(confirm, "y") {
				fmt.Println("Cancelled.")
				return nil
			}
		}

		if err := client.clearHistory(ctx); err != nil {
			return fmt.Errorf("clear history: %w", err)
		}
		fmt.Println("History cleared.")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(historyCmd)
	historyCmd.AddCommand(historyListCmd)
	historyCmd.AddCommand(historyClearCmd)

	historyClearCmd.Flags().BoolVar(&historyForce, "force", false, "skip confirmation prompt")
}
