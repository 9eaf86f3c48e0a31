// Package main provides the CityPulse feed simulator CLI.
package main

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the feed simulator configuration.
type Config struct {
	Feed    FeedConfig `yaml:"feed"`
	Verbose bool       `yaml:"-"` // set via CLI flag
}

// FeedConfig contains simulator settings.
type FeedConfig struct {
	Address        string        `yaml:"address"`         // listen address (default: 127.0.0.1:8000)
	Cities         []string      `yaml:"cities"`          // simulated cities (default: ahmedabad, pune)
	UpdateInterval time.Duration `yaml:"update_interval"` // push cadence (default: 2s)
	Token          string        `yaml:"token"`           // require this bearer token when set
	Seed           int64         `yaml:"seed"`            // rng seed; 0 = time-based
}

// LoadConfig loads configuration from a YAML file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.setDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

// DefaultConfig returns a configuration with default values.
func DefaultConfig() *Config {
	cfg := &Config{}
	cfg.setDefaults()
	return cfg
}

// setDefaults sets default values for missing config fields.
func (c *Config) setDefaults() {
	if c.Feed.Address == "" {
		c.Feed.Address = "127.0.0.1:8000"
	}
	if len(c.Feed.Cities) == 0 {
		c.Feed.Cities = []string{"ahmedabad", "pune"}
	}
	if c.Feed.UpdateInterval <= 0 {
		c.Feed.UpdateInterval = 2 * time.Second
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Feed.Address == "" {
		return fmt.Errorf("feed.address is required")
	}
	if c.Feed.UpdateInterval < 100*time.Millisecond {
		return fmt.Errorf("feed.update_interval must be at least 100ms")
	}
	for _, city := range c.Feed.Cities {
		if city == "" {
			return fmt.Errorf("feed.cities must not contain empty names")
		}
	}
	return nil
}
