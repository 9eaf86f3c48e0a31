package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/urbanpulse/citypulse/internal/feedsim"
	"github.com/urbanpulse/citypulse/pkg/config"
)

var (
	configFile string
	address    string
	cities     []string
	interval   time.Duration
	seed       int64
	verbose    bool
)

var rootCmd = &cobra.Command{
	Use:   "citypulse-feedsim",
	Short: "CityPulse feed simulator - local stand-in for the UrbanPulse platform",
	Long: `The feed simulator serves the REST endpoints and the push channel a
CityPulse daemon consumes, backed by synthetic random-walk city data
with scripted alert appearance and resolution. It exists for local
development and end-to-end testing, not for analytics.

Examples:
  # Serve two simulated cities on the default port
  citypulse-feedsim

  # Faster pushes and a reproducible stream
  citypulse-feedsim --interval 500ms --seed 42`,
	RunE: runFeedsim,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("citypulse-feedsim %s\n", config.Version)
		fmt.Printf("  commit: %s\n", config.Commit)
		fmt.Printf("  built:  %s\n", config.BuildTime)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "config file path (optional)")
	rootCmd.PersistentFlags().StringVarP(&address, "address", "a", "", "listen address (default 127.0.0.1:8000)")
	rootCmd.PersistentFlags().StringSliceVar(&cities, "cities", nil, "simulated cities")
	rootCmd.PersistentFlags().DurationVar(&interval, "interval", 0, "push cadence (default 2s)")
	rootCmd.PersistentFlags().Int64Var(&seed, "seed", 0, "rng seed (0 = time-based)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runFeedsim(cmd *cobra.Command, args []string) error {
	var cfg *Config

	if configFile != "" {
		var err error
		cfg, err = LoadConfig(configFile)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
	} else {
		cfg = DefaultConfig()
	}

	// Override with CLI flags
	if address != "" {
		cfg.Feed.Address = address
	}
	if len(cities) > 0 {
		cfg.Feed.Cities = cities
	}
	if interval > 0 {
		cfg.Feed.UpdateInterval = interval
	}
	if seed != 0 {
		cfg.Feed.Seed = seed
	}
	cfg.Verbose = verbose

	srv, err := feedsim.New(&feedsim.Config{
		Address:        cfg.Feed.Address,
		Cities:         cfg.Feed.Cities,
		UpdateInterval: cfg.Feed.UpdateInterval,
		Token:          cfg.Feed.Token,
		Seed:           cfg.Feed.Seed,
		Verbose:        cfg.Verbose,
	})
	if err != nil {
		return fmt.Errorf("create simulator: %w", err)
	}

	// Setup signal handling
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		log.Printf("received signal %v, shutting down...", sig)
		cancel()
	}()

	log.Printf("feed simulator listening on %s, cities %v, pushing every %v",
		cfg.Feed.Address, cfg.Feed.Cities, cfg.Feed.UpdateInterval)
	return srv.Run(ctx)
}
