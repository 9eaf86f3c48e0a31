// Package poll is the fallback refresh path: a timer that re-fetches the
// slow-moving series for the active scope, independent of the push channel.
// Every successful fetch funnels through the same merge path as pushes, so
// the view model has a single mutation contract regardless of data source.
package poll

import (
	"context"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/urbanpulse/citypulse/internal/metrics"
	"github.com/urbanpulse/citypulse/internal/models"
)

const (
	// DefaultInterval is the tick cadence when none is configured.
	DefaultInterval = 30 * time.Second

	// DefaultTimeout bounds the fetches of a single tick.
	DefaultTimeout = 10 * time.Second
)

// FetchFunc retrieves one slice of scope state from the platform.
type FetchFunc func(ctx context.Context, scope string) (models.PartialUpdate, error)

// Fetcher is a named fetch operation. The name appears in logs and metrics.
type Fetcher struct {
	Name  string
	Fetch FetchFunc
}

// Result is one successful fetch, stamped with the scope and generation the
// poller was started under so the apply side can discard stale results.
type Result struct {
	Scope      string
	Generation uint64
	Fetcher    string
	Update     models.PartialUpdate
}

// Config describes one poller run. A poller is single-use: Stop it and
// start a new one on scope change.
type Config struct {
	Scope      string
	Generation uint64
	Interval   time.Duration
	Timeout    time.Duration
	Fetchers   []Fetcher

	// Apply receives each successful fetch. It runs on a fetch goroutine
	// while the poller holds its stop lock: keep it quick and never call
	// back into the Poller from it.
	Apply func(Result)

	Verbose bool
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.Scope == "" {
		return fmt.Errorf("scope is required")
	}
	if c.Apply == nil {
		return fmt.Errorf("apply func is required")
	}
	return nil
}

// setDefaults fills in zero values.
func (c *Config) setDefaults() {
	if c.Interval <= 0 {
		c.Interval = DefaultInterval
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
}

// Stats are cumulative counters for one poller.
type Stats struct {
	Ticks     uint64 `json:"ticks"`
	Delivered uint64 `json:"delivered"`
	Failures  uint64 `json:"failures"`
}

// Poller drives periodic fetches until stopped.
type Poller struct {
	config Config

	mu      sync.Mutex
	stopped bool

	cancel context.CancelFunc
	done   chan struct{}

	ticks     atomic.Uint64
	delivered atomic.Uint64
	failures  atomic.Uint64
}

// Start validates the config and begins polling. The first tick fires
// immediately, then every Interval.
func Start(config Config) (*Poller, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid poll config: %w", err)
	}
	config.setDefaults()

	ctx, cancel := context.WithCancel(context.Background())
	p := &Poller{
		config: config,
		cancel: cancel,
		done:   make(chan struct{}),
	}

	go p.run(ctx)
	return p, nil
}

// Stop halts ticking and guarantees that no in-flight tick's result is
// applied after it returns. Safe to call more than once.
func (p *Poller) Stop() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	p.mu.Unlock()

	p.cancel()
	p.logf("stopped polling %q", p.config.Scope)
}

// Stopped reports whether Stop has been called.
func (p *Poller) Stopped() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stopped
}

// Done is closed when the tick loop has exited. In-flight fetches may
// still be draining, but their results are already unapplicable.
func (p *Poller) Done() <-chan struct{} {
	return p.done
}

// Scope returns the scope this poller refreshes.
func (p *Poller) Scope() string {
	return p.config.Scope
}

// Stats returns the cumulative counters.
func (p *Poller) Stats() Stats {
	return Stats{
		Ticks:     p.ticks.Load(),
		Delivered: p.delivered.Load(),
		Failures:  p.failures.Load(),
	}
}

func (p *Poller) run(ctx context.Context) {
	defer close(p.done)

	ticker := time.NewTicker(p.config.Interval)
	defer ticker.Stop()

	p.tick(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.tick(ctx)
		}
	}
}

// tick issues every fetcher concurrently. Failures are independent: one
// fetcher erroring neither blocks nor cancels the others, and its field
// simply keeps its last-known-good value until the next successful tick.
func (p *Poller) tick(ctx context.Context) {
	p.ticks.Add(1)
	metrics.PollTicksTotal.Inc()

	tickCtx, cancel := context.WithTimeout(ctx, p.config.Timeout)
	defer cancel()

	var g errgroup.Group
	for _, f := range p.config.Fetchers {
		f := f
		g.Go(func() error {
			update, err := f.Fetch(tickCtx, p.config.Scope)
			if err != nil {
				p.failures.Add(1)
				metrics.PollFetchFailures.WithLabelValues(f.Name).Inc()
				p.logf("fetch %s for %q failed: %v", f.Name, p.config.Scope, err)
				return nil
			}
			p.deliver(Result{
				Scope:      p.config.Scope,
				Generation: p.config.Generation,
				Fetcher:    f.Name,
				Update:     update,
			})
			return nil
		})
	}
	g.Wait()
}

// deliver hands one result to Apply unless the poller has been stopped.
// The stop flag and the apply call share one lock: any apply that has
// begun completes before Stop returns, and none begins after.
func (p *Poller) deliver(res Result) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return
	}
	p.delivered.Add(1)
	p.config.Apply(res)
}

func (p *Poller) logf(format string, args ...interface{}) {
	if p.config.Verbose {
		log.Printf("[poll] "+format, args...)
	}
}
