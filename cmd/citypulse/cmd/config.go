package cmd

import (
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config represents the citypulse configuration.
type Config struct {
	Platform      PlatformConfig      `yaml:"platform"`
	Session       SessionConfig       `yaml:"session"`
	Channel       ChannelConfig       `yaml:"channel"`
	StatusAPI     StatusAPIConfig     `yaml:"status_api"`
	History       HistoryConfig       `yaml:"history"`
	Notifications NotificationsConfig `yaml:"notifications"`
	Verbose       bool                `yaml:"-"` // set via CLI flag
}

// PlatformConfig contains UrbanPulse platform connection settings.
type PlatformConfig struct {
	BaseURL        string        `yaml:"base_url"`         // e.g. https://api.urbanpulse.example
	Token          string        `yaml:"token"`            // optional bearer token; CITYPULSE_TOKEN wins
	TokenFile      string        `yaml:"token_file"`       // optional token file; default: user config dir
	RequestTimeout time.Duration `yaml:"request_timeout"`  // per-request timeout (default: 15s)
	RateLimitRPS   float64       `yaml:"rate_limit_rps"`   // politeness limit toward the platform (default: 10)
	RateLimitBurst int           `yaml:"rate_limit_burst"` // (default: 20)
}

// SessionConfig contains live-session tuning.
type SessionConfig struct {
	City                 string        `yaml:"city"`                   // initial scope; empty = wait for a scope command
	PollInterval         time.Duration `yaml:"poll_interval"`          // fallback poll cadence (default: 30s)
	PollTimeout          time.Duration `yaml:"poll_timeout"`           // per-tick fetch timeout (default: 10s)
	MaxAlertsPerCycle    int           `yaml:"max_alerts_per_cycle"`   // novel alerts surfaced per cycle (default: 3)
	EnvironmentHours     int           `yaml:"environment_hours"`      // environment series lookback (default: 24)
	TrafficWindowMinutes int           `yaml:"traffic_window_minutes"` // traffic series window (default: 60)
	RiskHistoryLimit     int           `yaml:"risk_history_limit"`     // risk series points (default: 20)
}

// ChannelConfig contains push-channel settings.
type ChannelConfig struct {
	LivenessTimeout time.Duration `yaml:"liveness_timeout"` // force-reconnect after silence (default: 45s, -1 disables)
	PingInterval    time.Duration `yaml:"ping_interval"`    // (default: 15s)
	InitialBackoff  time.Duration `yaml:"initial_backoff"`  // (default: 1s)
	MaxBackoff      time.Duration `yaml:"max_backoff"`      // (default: 30s)
	DialRetries     int           `yaml:"dial_retries"`     // per activation dial attempts (default: 5)
}

// StatusAPIConfig contains local control API settings.
type StatusAPIConfig struct {
	Address string `yaml:"address"` // loopback listen address (default: 127.0.0.1:7617)
}

// HistoryConfig contains simulation history settings.
type HistoryConfig struct {
	Capacity int    `yaml:"capacity"` // bounded entry count (default: 10)
	Path     string `yaml:"path"`     // sqlite file; empty = user config dir
	Disabled bool   `yaml:"disabled"` // true = memory-only, nothing persisted
}

// NotificationsConfig contains notification surface settings.
type NotificationsConfig struct {
	Desktop      bool   `yaml:"desktop"`        // enable the desktop notifier
	WebhookURL   string `yaml:"webhook_url"`    // optional HTTPS webhook
	MaxPerMinute int    `yaml:"max_per_minute"` // rate limit across all channels (default: 10)
}

// LoadConfig loads configuration from a YAML file. A .env file in the
// working directory is folded into the environment first, so secrets can
// live next to the config during development.
func LoadConfig(path string) (*Config, error) {
	_ = godotenv.Load(".env")

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyEnv()
	cfg.setDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

// DefaultConfig returns a configuration with default values and environment
// overrides applied, for running without a config file.
func DefaultConfig() *Config {
	_ = godotenv.Load(".env")

	cfg := &Config{}
	cfg.applyEnv()
	cfg.setDefaults()
	return cfg
}

// applyEnv folds environment overrides into the config. The bearer token is
// resolved separately (env > config > token file) at wiring time.
func (c *Config) applyEnv() {
	if v := os.Getenv("CITYPULSE_PLATFORM_URL"); v != "" {
		c.Platform.BaseURL = v
	}
	if v := os.Getenv("CITYPULSE_CITY"); v != "" {
		c.Session.City = v
	}
}

// setDefaults sets default values for missing config fields.
func (c *Config) setDefaults() {
	if c.Platform.RequestTimeout <= 0 {
		c.Platform.RequestTimeout = 15 * time.Second
	}
	if c.Platform.RateLimitRPS <= 0 {
		c.Platform.RateLimitRPS = 10
	}
	if c.Platform.RateLimitBurst <= 0 {
		c.Platform.RateLimitBurst = 20
	}
	if c.Session.PollInterval <= 0 {
		c.Session.PollInterval = 30 * time.Second
	}
	if c.Session.PollTimeout <= 0 {
		c.Session.PollTimeout = 10 * time.Second
	}
	if c.Session.MaxAlertsPerCycle <= 0 {
		c.Session.MaxAlertsPerCycle = 3
	}
	if c.Session.EnvironmentHours <= 0 {
		c.Session.EnvironmentHours = 24
	}
	if c.Session.TrafficWindowMinutes <= 0 {
		c.Session.TrafficWindowMinutes = 60
	}
	if c.Session.RiskHistoryLimit <= 0 {
		c.Session.RiskHistoryLimit = 20
	}
	if c.Channel.LivenessTimeout == 0 {
		c.Channel.LivenessTimeout = 45 * time.Second
	}
	if c.Channel.PingInterval <= 0 {
		c.Channel.PingInterval = 15 * time.Second
	}
	if c.Channel.InitialBackoff <= 0 {
		c.Channel.InitialBackoff = 1 * time.Second
	}
	if c.Channel.MaxBackoff <= 0 {
		c.Channel.MaxBackoff = 30 * time.Second
	}
	if c.Channel.DialRetries <= 0 {
		c.Channel.DialRetries = 5
	}
	if c.StatusAPI.Address == "" {
		c.StatusAPI.Address = "127.0.0.1:7617"
	}
	if c.History.Capacity <= 0 {
		c.History.Capacity = 10
	}
	if c.Notifications.MaxPerMinute <= 0 {
		c.Notifications.MaxPerMinute = 10
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Platform.BaseURL == "" {
		return fmt.Errorf("platform.base_url is required")
	}
	u, err := url.Parse(c.Platform.BaseURL)
	if err != nil {
		return fmt.Errorf("platform.base_url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("platform.base_url must be http or https")
	}
	if c.Session.PollInterval < time.Second {
		return fmt.Errorf("session.poll_interval must be at least 1s")
	}
	if c.Notifications.WebhookURL != "" {
		wu, err := url.Parse(c.Notifications.WebhookURL)
		if err != nil || wu.Scheme != "https" {
			return fmt.Errorf("notifications.webhook_url must be an https URL")
		}
	}
	return nil
}
