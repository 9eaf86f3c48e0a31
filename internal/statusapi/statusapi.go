// Package statusapi serves the local control surface: a loopback HTTP API
// exposing the live view model, session state, scope switching, scenario
// simulation, the persistent history, and Prometheus metrics.
package statusapi

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/urbanpulse/citypulse/internal/history"
	"github.com/urbanpulse/citypulse/internal/models"
	"github.com/urbanpulse/citypulse/internal/session"
	"github.com/urbanpulse/citypulse/internal/view"
)

// Controller is the slice of the session the status API drives.
// *session.Session implements it.
type Controller interface {
	Scope() string
	Generation() uint64
	Stats() session.Stats
	SetScope(ctx context.Context, scope string) error
	Simulate(ctx context.Context, params models.ScenarioParameters) (models.ScenarioResult, error)
}

// Config contains status API server configuration.
type Config struct {
	Address string
	Verbose bool
}

// SetDefaults applies default values for missing configuration.
func (c *Config) SetDefaults() {
	if c.Address == "" {
		// Loopback only: this is a local control surface, not a service.
		c.Address = "127.0.0.1:7617"
	}
}

// Server is the status API server.
type Server struct {
	config  *Config
	ctrl    Controller
	view    *view.Store
	history *history.Store
	server  *http.Server
}

// New creates a status API server.
func New(cfg *Config, ctrl Controller, viewStore *view.Store, historyStore *history.Store) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if ctrl == nil {
		return nil, fmt.Errorf("controller is required")
	}
	if viewStore == nil {
		return nil, fmt.Errorf("view store is required")
	}
	if historyStore == nil {
		return nil, fmt.Errorf("history store is required")
	}

	cfg.SetDefaults()

	s := &Server{
		config:  cfg,
		ctrl:    ctrl,
		view:    viewStore,
		history: historyStore,
	}

	// WriteTimeout must outlast a scope switch, which blocks on a bounded
	// redial before reporting degraded mode.
	s.server = &http.Server{
		Addr:         cfg.Address,
		Handler:      s.setupRouter(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s, nil
}

// Run starts the HTTP server and blocks until the context is canceled.
func (s *Server) Run(ctx context.Context) error {
	errChan := make(chan error, 1)

	go func() {
		log.Printf("status API listening on %s", s.config.Address)
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.server.Shutdown(shutdownCtx)
	case err := <-errChan:
		return err
	}
}

// Address returns the configured listen address.
func (s *Server) Address() string {
	return s.config.Address
}
