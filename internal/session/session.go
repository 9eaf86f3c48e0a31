// Package session is the coordinator: one event-loop goroutine owns every
// piece of scope-bound state (view model, seen-set, poller, push channel)
// and is the only writer to any of it. Producers hand their results to the
// loop over channels; stale results from a superseded scope activation are
// discarded by generation tag before they touch anything.
package session

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/urbanpulse/citypulse/internal/history"
	"github.com/urbanpulse/citypulse/internal/metrics"
	"github.com/urbanpulse/citypulse/internal/models"
	"github.com/urbanpulse/citypulse/internal/notify"
	"github.com/urbanpulse/citypulse/internal/poll"
	"github.com/urbanpulse/citypulse/internal/stream"
	"github.com/urbanpulse/citypulse/internal/view"
)

var (
	// ErrSessionClosed is returned by control operations after Run exits.
	ErrSessionClosed = errors.New("session: closed")

	// ErrNoScope is returned by operations that need an active scope.
	ErrNoScope = errors.New("session: no active scope")
)

// Channel is the push-channel surface the session drives. *stream.Manager
// implements it.
type Channel interface {
	Open(ctx context.Context, scope string, generation uint64) (*stream.Conn, error)
	Updates() <-chan stream.ScopedUpdate
	Run(ctx context.Context)
	Close() error
	State() stream.ConnState
	Stats() stream.ConnStats
	Reconnects() uint64
}

// PlatformClient is the REST surface the session consumes. *remote.Client
// implements it.
type PlatformClient interface {
	poll.SeriesClient
	ActiveAlerts(ctx context.Context, scope string) (*models.AlertSummary, error)
	Risk(ctx context.Context, scope string) (*models.RiskAssessment, error)
	Anomalies(ctx context.Context, scope string) (*models.AnomalySummary, error)
	Simulate(ctx context.Context, scope string, params models.ScenarioParameters) (models.ScenarioResult, error)
}

// Config contains session tuning.
type Config struct {
	InitialScope string
	MaxPerCycle  int // novel alerts surfaced per update cycle
	PollInterval time.Duration
	PollTimeout  time.Duration
	Series       poll.SeriesOptions
	Verbose      bool
}

func (c *Config) setDefaults() {
	if c.MaxPerCycle <= 0 {
		c.MaxPerCycle = 3
	}
	if c.PollInterval <= 0 {
		c.PollInterval = poll.DefaultInterval
	}
	if c.PollTimeout <= 0 {
		c.PollTimeout = poll.DefaultTimeout
	}
}

// Deps are the collaborators the session coordinates. All are required.
type Deps struct {
	Channel    Channel
	Client     PlatformClient
	Dispatcher *notify.Dispatcher
	View       *view.Store
	History    *history.Store
}

func (d *Deps) validate() error {
	if d.Channel == nil {
		return fmt.Errorf("channel is required")
	}
	if d.Client == nil {
		return fmt.Errorf("client is required")
	}
	if d.Dispatcher == nil {
		return fmt.Errorf("dispatcher is required")
	}
	if d.View == nil {
		return fmt.Errorf("view store is required")
	}
	if d.History == nil {
		return fmt.Errorf("history store is required")
	}
	return nil
}

// Stats is a point-in-time snapshot of session counters for the status API.
type Stats struct {
	Scope        string           `json:"scope"`
	Generation   uint64           `json:"generation"`
	ChannelState string           `json:"channel_state"`
	Reconnects   uint64           `json:"reconnects"`
	Channel      stream.ConnStats `json:"channel"`
	Poll         poll.Stats       `json:"poll"`
	Applied      uint64           `json:"updates_applied"`
	StaleDropped uint64           `json:"stale_dropped"`
	Notified     uint64           `json:"notifications_sent"`
	Suppressed   uint64           `json:"notifications_suppressed"`
}

type scopeRequest struct {
	scope string
	reply chan error
}

type tuneRequest struct {
	interval time.Duration
	reply    chan error
}

// Session runs the synchronization loop for one active scope at a time.
type Session struct {
	config Config

	channel    Channel
	client     PlatformClient
	dispatcher *notify.Dispatcher
	view       *view.Store
	history    *history.Store

	// Loop-owned; mu guards them for external readers only.
	mu     sync.Mutex
	scope  string
	poller *poll.Poller

	generation atomic.Uint64

	// seen and primed belong exclusively to the loop goroutine.
	seen   models.SeenAlertSet
	primed bool

	pollCh  chan poll.Result
	scopeCh chan scopeRequest
	tuneCh  chan tuneRequest
	done    chan struct{}

	applied      atomic.Uint64
	staleDropped atomic.Uint64
	notified     atomic.Uint64
	suppressed   atomic.Uint64
	overflow     atomic.Uint64
}

// New wires a session. Run must be called for anything to happen.
func New(config Config, deps Deps) (*Session, error) {
	if err := deps.validate(); err != nil {
		return nil, fmt.Errorf("invalid session deps: %w", err)
	}
	config.setDefaults()

	return &Session{
		config:     config,
		channel:    deps.Channel,
		client:     deps.Client,
		dispatcher: deps.Dispatcher,
		view:       deps.View,
		history:    deps.History,
		seen:       models.NewSeenAlertSet(),
		pollCh:     make(chan poll.Result, 16),
		scopeCh:    make(chan scopeRequest),
		tuneCh:     make(chan tuneRequest),
		done:       make(chan struct{}),
	}, nil
}

// Run drives the event loop until the context ends. It blocks.
func (s *Session) Run(ctx context.Context) error {
	defer close(s.done)

	go s.channel.Run(ctx)

	if s.config.InitialScope != "" {
		if err := s.activate(ctx, s.config.InitialScope); err != nil {
			// Not fatal: the poller may still be refreshing, and the user
			// can switch scopes again.
			log.Printf("[session] activate initial scope %q: %v", s.config.InitialScope, err)
		}
	}

	for {
		select {
		case <-ctx.Done():
			s.teardown()
			return nil

		case req := <-s.scopeCh:
			req.reply <- s.activate(ctx, req.scope)

		case req := <-s.tuneCh:
			req.reply <- s.retune(req.interval)

		case su := <-s.channel.Updates():
			s.handleStreamUpdate(ctx, su)

		case res := <-s.pollCh:
			s.handlePollResult(ctx, res)
		}
	}
}

// SetScope switches the active scope. It is serialized through the event
// loop and returns once the new scope's channel is connected (or the attempt
// failed). Requires Run to be active.
func (s *Session) SetScope(ctx context.Context, scope string) error {
	req := scopeRequest{scope: scope, reply: make(chan error, 1)}

	select {
	case s.scopeCh <- req:
	case <-ctx.Done():
		return ctx.Err()
	case <-s.done:
		return ErrSessionClosed
	}

	select {
	case err := <-req.reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-s.done:
		return ErrSessionClosed
	}
}

// SetPollInterval changes the fallback poll cadence, restarting the active
// poller in place. The scope, generation, seen-set, and channel are
// untouched: a retune is not a scope activation. Serialized through the
// event loop; requires Run to be active.
func (s *Session) SetPollInterval(ctx context.Context, interval time.Duration) error {
	req := tuneRequest{interval: interval, reply: make(chan error, 1)}

	select {
	case s.tuneCh <- req:
	case <-ctx.Done():
		return ctx.Err()
	case <-s.done:
		return ErrSessionClosed
	}

	select {
	case err := <-req.reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-s.done:
		return ErrSessionClosed
	}
}

// Scope returns the active scope, empty when none.
func (s *Session) Scope() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.scope
}

// Generation returns the current scope activation counter.
func (s *Session) Generation() uint64 {
	return s.generation.Load()
}

// Stats snapshots the session counters.
func (s *Session) Stats() Stats {
	s.mu.Lock()
	scope := s.scope
	poller := s.poller
	s.mu.Unlock()

	var pollStats poll.Stats
	if poller != nil {
		pollStats = poller.Stats()
	}

	return Stats{
		Scope:        scope,
		Generation:   s.generation.Load(),
		ChannelState: s.channel.State().String(),
		Reconnects:   s.channel.Reconnects(),
		Channel:      s.channel.Stats(),
		Poll:         pollStats,
		Applied:      s.applied.Load(),
		StaleDropped: s.staleDropped.Load(),
		Notified:     s.notified.Load(),
		Suppressed:   s.suppressed.Load(),
	}
}

// Simulate runs a what-if scenario against the platform for the active scope
// and records it in the persistent history. This is the only path that
// writes history: sync ticks never do.
func (s *Session) Simulate(ctx context.Context, params models.ScenarioParameters) (models.ScenarioResult, error) {
	scope := s.Scope()
	if scope == "" {
		return models.ScenarioResult{}, ErrNoScope
	}

	result, err := s.client.Simulate(ctx, scope, params)
	if err != nil {
		return models.ScenarioResult{}, fmt.Errorf("simulate %q: %w", scope, err)
	}

	entry := models.NewHistoryEntry(scope, params, result)
	if _, err := s.history.Append(entry); err != nil {
		// Recording trouble never fails the simulation itself.
		log.Printf("[session] record simulation: %v", err)
	}
	return result, nil
}

// activate tears the previous scope down completely, then brings up the new
// one. Runs on the loop goroutine only.
func (s *Session) activate(ctx context.Context, scope string) error {
	if scope == "" {
		return fmt.Errorf("scope is required")
	}

	// Old scope effects first: stop the poller. Results it already
	// delivered sit in pollCh stamped with the old generation and die at
	// the generation check.
	s.mu.Lock()
	if s.poller != nil {
		s.poller.Stop()
		s.poller = nil
	}
	s.mu.Unlock()

	generation := s.generation.Add(1)

	s.seen = models.NewSeenAlertSet()
	s.primed = false
	s.view.Replace(scope, models.ViewModel{})

	s.mu.Lock()
	s.scope = scope
	s.mu.Unlock()

	metrics.SessionScopeActivations.Inc()
	s.logf("activating scope %q (generation %d)", scope, generation)

	// Series refresh starts right away, even while the channel dials.
	if err := s.startPoller(scope, generation); err != nil {
		return fmt.Errorf("start poller: %w", err)
	}

	// One-shot snapshot of the three sub-objects so the view fills without
	// waiting for the first push.
	go s.primeSnapshot(ctx, scope, generation)

	// Open closes any previous channel to completion before dialing.
	if _, err := s.channel.Open(ctx, scope, generation); err != nil {
		// Degraded: polling keeps the series fresh, pushes are gone until
		// the next scope switch or process restart.
		return fmt.Errorf("open channel for %q: %w", scope, err)
	}
	return nil
}

// startPoller builds and installs a poller for the scope under the current
// tuning. Runs on the loop goroutine only.
func (s *Session) startPoller(scope string, generation uint64) error {
	poller, err := poll.Start(poll.Config{
		Scope:      scope,
		Generation: generation,
		Interval:   s.config.PollInterval,
		Timeout:    s.config.PollTimeout,
		Fetchers:   poll.SeriesFetchers(s.client, s.config.Series),
		Apply:      s.offer,
		Verbose:    s.config.Verbose,
	})
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.poller = poller
	s.mu.Unlock()
	return nil
}

// retune applies a new poll interval. When a scope is active its poller is
// stopped and replaced under the same generation, so in-flight results stay
// valid. Runs on the loop goroutine only.
func (s *Session) retune(interval time.Duration) error {
	if interval <= 0 {
		return fmt.Errorf("poll interval must be positive")
	}
	if interval == s.config.PollInterval {
		return nil
	}
	s.config.PollInterval = interval

	s.mu.Lock()
	scope := s.scope
	poller := s.poller
	s.poller = nil
	s.mu.Unlock()

	if poller == nil {
		return nil
	}
	poller.Stop()

	if err := s.startPoller(scope, s.generation.Load()); err != nil {
		return fmt.Errorf("restart poller: %w", err)
	}
	s.logf("poll interval now %v for %q", interval, scope)
	return nil
}

// teardown stops scope-bound work on shutdown.
func (s *Session) teardown() {
	s.mu.Lock()
	poller := s.poller
	s.poller = nil
	s.mu.Unlock()

	if poller != nil {
		poller.Stop()
	}
	s.channel.Close()
	s.logf("shut down")
}

// offer hands a result to the loop without ever blocking the producer. A
// full queue drops the result; the next tick re-fetches.
func (s *Session) offer(res poll.Result) {
	select {
	case s.pollCh <- res:
	default:
		s.overflow.Add(1)
	}
}

// primeSnapshot fetches alerts, risk, and anomalies once, concurrently, and
// funnels each through the ordinary apply path.
func (s *Session) primeSnapshot(ctx context.Context, scope string, generation uint64) {
	fetchCtx, cancel := context.WithTimeout(ctx, s.config.PollTimeout)
	defer cancel()

	var g errgroup.Group
	g.Go(func() error {
		alerts, err := s.client.ActiveAlerts(fetchCtx, scope)
		if err != nil {
			s.logf("snapshot alerts for %q: %v", scope, err)
			return nil
		}
		s.offer(poll.Result{Scope: scope, Generation: generation, Fetcher: "snapshot", Update: models.PartialUpdate{Alerts: alerts}})
		return nil
	})
	g.Go(func() error {
		risk, err := s.client.Risk(fetchCtx, scope)
		if err != nil {
			s.logf("snapshot risk for %q: %v", scope, err)
			return nil
		}
		s.offer(poll.Result{Scope: scope, Generation: generation, Fetcher: "snapshot", Update: models.PartialUpdate{Risk: risk}})
		return nil
	})
	g.Go(func() error {
		anomalies, err := s.client.Anomalies(fetchCtx, scope)
		if err != nil {
			s.logf("snapshot anomalies for %q: %v", scope, err)
			return nil
		}
		s.offer(poll.Result{Scope: scope, Generation: generation, Fetcher: "snapshot", Update: models.PartialUpdate{Anomalies: anomalies}})
		return nil
	})
	g.Wait()
}

func (s *Session) handleStreamUpdate(ctx context.Context, su stream.ScopedUpdate) {
	if su.Generation != s.generation.Load() {
		s.dropStale()
		return
	}
	s.apply(ctx, "push", su.Scope, su.Update)
}

func (s *Session) handlePollResult(ctx context.Context, res poll.Result) {
	if res.Generation != s.generation.Load() {
		s.dropStale()
		return
	}
	s.apply(ctx, "poll", res.Scope, res.Update)
}

func (s *Session) dropStale() {
	s.staleDropped.Add(1)
	metrics.SessionStaleDroppedTotal.Inc()
}

// apply merges one update into the view and runs the alert flow when the
// update carries alerts. Loop goroutine only.
func (s *Session) apply(ctx context.Context, source, scope string, update models.PartialUpdate) {
	if _, ok := s.view.MergeIn(scope, update); !ok {
		s.dropStale()
		return
	}
	s.applied.Add(1)
	metrics.SessionUpdatesTotal.WithLabelValues(source).Inc()

	if update.Alerts != nil {
		s.processAlerts(ctx, scope, update.Alerts)
	}
}

// processAlerts computes novelty against the seen-set and surfaces novel
// entries through the dispatcher, capped per cycle. The very first alerts
// computation for a scope primes the seen-set silently.
func (s *Session) processAlerts(ctx context.Context, scope string, summary *models.AlertSummary) {
	novel, next := notify.ComputeNovel(s.seen, summary.Alerts)
	first := !s.primed
	s.primed = true
	s.seen = next

	if first || len(novel) == 0 {
		return
	}

	limit := len(novel)
	if limit > s.config.MaxPerCycle {
		s.suppressed.Add(uint64(limit - s.config.MaxPerCycle))
		metrics.NotificationsTotal.WithLabelValues("suppressed").Add(float64(limit - s.config.MaxPerCycle))
		s.logf("capping %d novel alerts to %d for %q", limit, s.config.MaxPerCycle, scope)
		limit = s.config.MaxPerCycle
	}

	for _, a := range novel[:limit] {
		if err := s.dispatcher.Dispatch(ctx, notify.FromAlert(scope, a)); err != nil {
			s.logf("dispatch alert %s: %v", a.ID, err)
			continue
		}
		s.notified.Add(1)
	}
}

func (s *Session) logf(format string, args ...interface{}) {
	if s.config.Verbose {
		log.Printf("[session] "+format, args...)
	}
}
