package cmd

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/urbanpulse/citypulse/internal/auth"
	"github.com/urbanpulse/citypulse/internal/cache"
	"github.com/urbanpulse/citypulse/internal/history"
	"github.com/urbanpulse/citypulse/internal/metrics"
	"github.com/urbanpulse/citypulse/internal/notify"
	"github.com/urbanpulse/citypulse/internal/poll"
	"github.com/urbanpulse/citypulse/internal/remote"
	"github.com/urbanpulse/citypulse/internal/session"
	"github.com/urbanpulse/citypulse/internal/statusapi"
	"github.com/urbanpulse/citypulse/internal/stream"
	"github.com/urbanpulse/citypulse/internal/view"
	"github.com/urbanpulse/citypulse/pkg/config"
)

// runCmd starts the daemon
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the CityPulse daemon",
	Long: `Run the CityPulse daemon: connect to the platform, keep the view
model of the active city fresh over the push channel with polling
fallback, dispatch alert notifications, and serve the local status API
the other commands talk to.

When started with --config, the file is watched: a changed city or
poll interval takes effect without a restart.

Examples:
  # Run with a config file
  citypulse run --config citypulse.yaml

  # Run against a platform from the environment, no file needed
  CITYPULSE_PLATFORM_URL=http://localhost:8000 CITYPULSE_CITY=ahmedabad citypulse run`,
	RunE: runDaemon,
}

func init() {
	rootCmd.AddCommand(runCmd)
}

func runDaemon(cmd *cobra.Command, args []string) error {
	cfg, err := loadRunConfig()
	if err != nil {
		return err
	}
	cfg.Verbose = verbose

	// Token resolution: environment, then config, then the login file.
	tokenPath := cfg.Platform.TokenFile
	if tokenPath == "" {
		if p, err := auth.DefaultTokenPath(); err == nil {
			tokenPath = p
		}
	}
	token := auth.NewTokenSource(cfg.Platform.Token, tokenPath).Token()
	if token == "" {
		log.Printf("no platform token configured, connecting anonymously")
	} else if info, err := auth.DecodeClaims(token); err == nil && info.Expired(time.Now()) {
		log.Printf("platform token expired %s, run `citypulse login` to replace it",
			info.ExpiresAt.Format(time.RFC3339))
	}

	client, err := remote.NewClient(remote.Config{
		BaseURL: cfg.Platform.BaseURL,
		Token:   token,
		Timeout: cfg.Platform.RequestTimeout,
		RPS:     cfg.Platform.RateLimitRPS,
		Burst:   cfg.Platform.RateLimitBurst,
	})
	if err != nil {
		return fmt.Errorf("create platform client: %w", err)
	}

	liveness := cfg.Channel.LivenessTimeout
	if liveness < 0 {
		liveness = 0 // disabled
	}
	channel := stream.NewManager(stream.ManagerConfig{
		BaseURL:         cfg.Platform.BaseURL,
		Token:           token,
		InitialBackoff:  cfg.Channel.InitialBackoff,
		MaxBackoff:      cfg.Channel.MaxBackoff,
		MaxRetries:      cfg.Channel.DialRetries,
		LivenessTimeout: liveness,
		PingInterval:    cfg.Channel.PingInterval,
		Verbose:         cfg.Verbose,
	})

	dispatcher, err := buildDispatcher(cfg)
	if err != nil {
		return err
	}

	historyStore, closeCache := buildHistoryStore(cfg)
	defer closeCache()

	viewStore := view.NewStore()

	sess, err := session.New(session.Config{
		InitialScope: cfg.Session.City,
		MaxPerCycle:  cfg.Session.MaxAlertsPerCycle,
		PollInterval: cfg.Session.PollInterval,
		PollTimeout:  cfg.Session.PollTimeout,
		Series: poll.SeriesOptions{
			EnvironmentHours:   cfg.Session.EnvironmentHours,
			TrafficWindowMin:   cfg.Session.TrafficWindowMinutes,
			RiskHistoryEntries: cfg.Session.RiskHistoryLimit,
		},
		Verbose: cfg.Verbose,
	}, session.Deps{
		Channel:    channel,
		Client:     client,
		Dispatcher: dispatcher,
		View:       viewStore,
		History:    historyStore,
	})
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}

	api, err := statusapi.New(&statusapi.Config{
		Address: cfg.StatusAPI.Address,
		Verbose: cfg.Verbose,
	}, sess, viewStore, historyStore)
	if err != nil {
		return fmt.Errorf("create status API: %w", err)
	}

	metrics.SetBuildInfo(config.Version, config.Commit, config.BuildTime)

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

	log.Printf("starting citypulse %s", config.Version)
	log.Printf("platform %s", cfg.Platform.BaseURL)
	log.Printf("status API on http://%s", cfg.StatusAPI.Address)
	if cfg.Session.City != "" {
		log.Printf("initial scope %q", cfg.Session.City)
	}

	if configFile != "" {
		if err := WatchConfig(ctx, configFile, reloadHandler(ctx, sess)); err != nil {
			// Hot reload is a convenience, not a requirement.
			log.Printf("config watch disabled: %v", err)
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return sess.Run(gctx)
	})
	g.Go(func() error {
		if err := api.Run(gctx); err != nil {
			return fmt.Errorf("status API: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	log.Printf("citypulse stopped")
	return nil
}

// loadRunConfig builds the daemon config from the --config file when given,
// otherwise from defaults plus environment overrides.
func loadRunConfig() (*Config, error) {
	if configFile != "" {
		cfg, err := LoadConfig(configFile)
		if err != nil {
			return nil, fmt.Errorf("load config: %w", err)
		}
		return cfg, nil
	}

	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("no config file given and environment incomplete: %w", err)
	}
	return cfg, nil
}

// reloadHandler applies a reloaded config to the running session. Only the
// live-tunable fields move; everything else needs a restart.
func reloadHandler(ctx context.Context, sess *session.Session) func(*Config) {
	return func(next *Config) {
		if city := next.Session.City; city != "" && city != sess.Scope() {
			if err := sess.SetScope(ctx, city); err != nil {
				log.Printf("[config] scope %q: %v", city, err)
			}
		}
		if err := sess.SetPollInterval(ctx, next.Session.PollInterval); err != nil {
			log.Printf("[config] poll interval: %v", err)
		}
	}
}

// buildDispatcher assembles the notification fan-out from config.
func buildDispatcher(cfg *Config) (*notify.Dispatcher, error) {
	dispatcher := notify.NewDispatcherWithRateLimit(notify.RateLimitConfig{
		MaxPerWindow: cfg.Notifications.MaxPerMinute,
		Window:       time.Minute,
		Enabled:      true,
	})

	dispatcher.Register(notify.NewLogNotifier(nil))
	if cfg.Notifications.Desktop {
		dispatcher.Register(notify.NewDesktopNotifier())
	}
	if cfg.Notifications.WebhookURL != "" {
		webhook, err := notify.NewWebhookNotifier(notify.WebhookConfig{URL: cfg.Notifications.WebhookURL})
		if err != nil {
			return nil, fmt.Errorf("create webhook notifier: %w", err)
		}
		dispatcher.Register(webhook)
	}
	return dispatcher, nil
}

// buildHistoryStore wires simulation history to SQLite unless disabled. Any
// problem opening the database degrades to memory-only instead of refusing
// to start.
func buildHistoryStore(cfg *Config) (*history.Store, func()) {
	if cfg.History.Disabled {
		return history.NewStore(cache.NewMemoryStore(), cfg.History.Capacity), func() {}
	}

	path := cfg.History.Path
	if path == "" {
		dir, err := os.UserConfigDir()
		if err != nil {
			log.Printf("history persistence unavailable (%v), keeping it in memory", err)
			return history.NewStore(cache.NewMemoryStore(), cfg.History.Capacity), func() {}
		}
		path = filepath.Join(dir, "citypulse", "history.db")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		log.Printf("history persistence unavailable (%v), keeping it in memory", err)
		return history.NewStore(cache.NewMemoryStore(), cfg.History.Capacity), func() {}
	}

	store := cache.NewSQLiteStore(path, "citypulse")
	if err := store.Open(); err != nil {
		log.Printf("history persistence unavailable (%v), keeping it in memory", err)
		return history.NewStore(cache.NewMemoryStore(), cfg.History.Capacity), func() {}
	}

	PrintVerbose("history persisted at %s", path)
	return history.NewStore(store, cfg.History.Capacity), func() {
		if err := store.Close(); err != nil {
			log.Printf("close history store: %v", err)
		}
	}
}
