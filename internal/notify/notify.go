// Package notify surfaces novel city alerts to the desk: deduplication
// against the previous snapshot, then fan-out to the configured channels.
package notify

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/urbanpulse/citypulse/internal/metrics"
	"github.com/urbanpulse/citypulse/internal/models"
)

// Notification is one user-facing alert surfaced by the session.
type Notification struct {
	Scope     string
	AlertID   string
	Title     string
	Body      string
	Severity  models.Severity
	CreatedAt time.Time
}

// FromAlert builds a notification for a novel alert in the given scope.
func FromAlert(scope string, a models.AlertEntry) Notification {
	return Notification{
		Scope:     scope,
		AlertID:   a.ID,
		Title:     a.Title,
		Body:      a.Message,
		Severity:  a.Severity,
		CreatedAt: a.CreatedAt,
	}
}

// Notifier is the interface for all notification channels.
type Notifier interface {
	// Name returns the channel name (e.g., "desktop", "webhook").
	Name() string
	// Send delivers one notification.
	Send(ctx context.Context, n Notification) error
	// Close releases any resources.
	Close() error
}

// ErrRateLimited is returned when a notification is dropped due to rate limiting.
var ErrRateLimited = fmt.Errorf("notification rate limited")

// Dispatcher fans a notification out to every registered channel.
type Dispatcher struct {
	mu          sync.RWMutex
	notifiers   map[string]Notifier
	rateLimiter *RateLimiter
}

// NewDispatcher creates a dispatcher with default rate limiting.
func NewDispatcher() *Dispatcher {
	return NewDispatcherWithRateLimit(DefaultRateLimitConfig())
}

// NewDispatcherWithRateLimit creates a dispatcher with custom rate limit configuration.
func NewDispatcherWithRateLimit(config RateLimitConfig) *Dispatcher {
	return &Dispatcher{
		notifiers:   make(map[string]Notifier),
		rateLimiter: NewRateLimiter(config),
	}
}

// Register adds a channel to the dispatcher.
func (d *Dispatcher) Register(n Notifier) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.notifiers[n.Name()] = n
}

// Unregister removes a channel from the dispatcher.
func (d *Dispatcher) Unregister(name string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.notifiers, name)
}

// Get returns a channel by name.
func (d *Dispatcher) Get(name string) (Notifier, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	n, ok := d.notifiers[name]
	return n, ok
}

// Dispatch sends a notification to all registered channels.
// Returns ErrRateLimited if the notification is dropped by the limiter.
// The rate limit token is refunded when nothing was actually delivered,
// so a run of channel failures does not starve later notifications.
func (d *Dispatcher) Dispatch(ctx context.Context, n Notification) error {
	if d.rateLimiter != nil && !d.rateLimiter.Allow() {
		metrics.NotificationsTotal.WithLabelValues("rate_limited").Inc()
		return ErrRateLimited
	}

	d.mu.RLock()
	defer d.mu.RUnlock()

	var errs []error
	delivered := 0
	for name, nt := range d.notifiers {
		if err := nt.Send(ctx, n); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
			metrics.NotificationsTotal.WithLabelValues("error").Inc()
			continue
		}
		delivered++
		metrics.NotificationsTotal.WithLabelValues("sent").Inc()
	}

	if delivered == 0 && d.rateLimiter != nil {
		d.rateLimiter.Release()
	}

	if len(errs) > 0 {
		return fmt.Errorf("notification errors: %v", errs)
	}
	return nil
}

// RateLimitStats returns the rate limiter statistics.
func (d *Dispatcher) RateLimitStats() RateLimitStats {
	if d.rateLimiter == nil {
		return RateLimitStats{}
	}
	return d.rateLimiter.Stats()
}

// Close closes all registered channels.
func (d *Dispatcher) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	var errs []error
	for name, n := range d.notifiers {
		if err := n.Close(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}
	d.notifiers = make(map[string]Notifier)

	if len(errs) > 0 {
		return fmt.Errorf("close errors: %v", errs)
	}
	return nil
}
