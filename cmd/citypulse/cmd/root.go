// Package cmd contains the CLI commands for citypulse.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	// Used for flags
	configFile string
	apiAddress string
	verbose    bool
	output     string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "citypulse",
	Short: "CityPulse - live city monitoring session",
	Long: `CityPulse keeps a live monitoring session against an UrbanPulse
platform: one active city scope, a push channel with automatic
reconnection, independent polling for the metric series, alert
notifications with novelty tracking, and a bounded persistent
history of what-if scenario runs.

"citypulse run" starts the daemon. Every other command talks to a
running daemon over its local status API.

Examples:
  # Start the daemon
  citypulse run --config citypulse.yaml

  # Switch the running session to another city
  citypulse scope pune

  # Inspect session counters and channel state
  citypulse status

  # Run a what-if scenario, then list stored results
  citypulse simulate --zone B --traffic-change=-30
  citypulse history list`,
	// Run when no subcommand is specified
	Run: func(cmd *cobra.Command, args []string) {
		// Show help by default
		cmd.Help()
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "path to YAML config file")
	rootCmd.PersistentFlags().StringVar(&apiAddress, "api", "", "status API address of a running daemon (host:port)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().StringVarP(&output, "output", "o", "table", "output format (table, json)")
}

// PrintVerbose prints a message only if verbose mode is enabled.
func PrintVerbose(format string, args ...interface{}) {
	if verbose {
		fmt.Printf(format+"\n", args...)
	}
}

// PrintError prints an error message and exits if fatal is true.
func PrintError(msg string, fatal bool) {
	fmt.Fprintln(os.Stderr, "Error:", msg)
	if fatal {
		os.Exit(1)
	}
}
