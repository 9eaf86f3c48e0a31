// Package feedsim is a loopback stand-in for the UrbanPulse platform, for
// development and end-to-end testing. It serves the REST endpoints and the
// push channel the client consumes, backed by synthetic random-walk data
// with scripted alert appearance and resolution. It fakes the interface, not
// the analytics.
package feedsim

import (
	"context"
	"fmt"
	"math/rand"
	"net/http"
	"sync"
	"time"
)

// Config holds feed simulator settings.
type Config struct {
	Address        string        // listen address (default: 127.0.0.1:8000)
	Cities         []string      // simulated cities (default: ahmedabad, pune)
	UpdateInterval time.Duration // push cadence (default: 2s)
	Token          string        // optional: require this bearer token
	Seed           int64         // rng seed; 0 = time-based
	Verbose        bool
}

// SetDefaults sets default values for missing config fields.
func (c *Config) SetDefaults() {
	if c.Address == "" {
		c.Address = "127.0.0.1:8000"
	}
	if len(c.Cities) == 0 {
		c.Cities = []string{"ahmedabad", "pune"}
	}
	if c.UpdateInterval <= 0 {
		c.UpdateInterval = 2 * time.Second
	}
	if c.Seed == 0 {
		c.Seed = time.Now().UnixNano()
	}
}

// Server simulates the platform: per-city synthetic state, REST endpoints,
// and periodic pushes to websocket subscribers.
type Server struct {
	config *Config

	mu     sync.Mutex
	worlds map[string]*world

	hub    *hub
	server *http.Server
}

// New creates a feed simulator with one world per configured city.
func New(cfg *Config) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	cfg.SetDefaults()

	s := &Server{
		config: cfg,
		worlds: make(map[string]*world, len(cfg.Cities)),
		hub:    newHub(cfg.Verbose),
	}
	for i, city := range cfg.Cities {
		if city == "" {
			return nil, fmt.Errorf("city name must not be empty")
		}
		if _, dup := s.worlds[city]; dup {
			return nil, fmt.Errorf("duplicate city %q", city)
		}
		// Distinct streams per city, reproducible for a fixed seed.
		s.worlds[city] = newWorld(city, rand.New(rand.NewSource(cfg.Seed+int64(i))))
	}

	// No WriteTimeout: it would sever the long-lived websocket upgrades.
	s.server = &http.Server{
		Addr:        cfg.Address,
		Handler:     s.setupRouter(),
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	return s, nil
}

// Run serves until the context ends, pushing updates at the configured
// cadence. It blocks.
func (s *Server) Run(ctx context.Context) error {
	errChan := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- err
		}
	}()

	go s.pushLoop(ctx)

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s.hub.closeAll()
		return s.server.Shutdown(shutdownCtx)
	case err := <-errChan:
		return err
	}
}

// Address returns the configured listen address.
func (s *Server) Address() string {
	return s.config.Address
}

// pushLoop advances every world once per interval and broadcasts what
// changed to that city's subscribers.
func (s *Server) pushLoop(ctx context.Context) {
	ticker := time.NewTicker(s.config.UpdateInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			s.mu.Lock()
			for city, w := range s.worlds {
				frame := w.step(now.UTC())
				s.hub.broadcast(city, frame)
			}
			s.mu.Unlock()
		}
	}
}

// withWorld runs fn on the city's world under the state lock. Everything fn
// hands out must be a copy. Returns false for cities not simulated.
func (s *Server) withWorld(city string, fn func(*world)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.worlds[city]
	if !ok {
		return false
	}
	fn(w)
	return true
}
