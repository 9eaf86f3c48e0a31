package stream

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/urbanpulse/citypulse/internal/metrics"
	"github.com/urbanpulse/citypulse/internal/models"
)

// ErrManagerClosed is returned by Open when the manager has been shut down.
var ErrManagerClosed = errors.New("stream: manager closed")

// ScopedUpdate pairs a partial update with the scope and generation of the
// channel that delivered it, so consumers can discard frames from a
// superseded scope activation.
type ScopedUpdate struct {
	Scope      string
	Generation uint64
	Update     models.PartialUpdate
}

// ManagerConfig configures the channel supervisor.
type ManagerConfig struct {
	BaseURL string // Platform base URL; http(s) schemes are mapped to ws(s)
	Token   string // Optional bearer token

	InitialBackoff  time.Duration
	MaxBackoff      time.Duration
	MaxRetries      int           // Per connect cycle; 0 = unbounded
	LivenessTimeout time.Duration // Force-reconnect after this long without a frame; 0 disables
	PingInterval    time.Duration
	Verbose         bool

	OnStateChange func(ConnState)
}

// DefaultManagerConfig returns the reconnect and liveness defaults.
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		InitialBackoff:  1 * time.Second,
		MaxBackoff:      30 * time.Second,
		MaxRetries:      0,
		LivenessTimeout: 45 * time.Second,
		PingInterval:    15 * time.Second,
	}
}

// Manager owns the push channel lifecycle: at most one live Conn, bound to
// the most recently opened scope. When a channel dies underneath it, the
// manager redials the same scope with bounded exponential backoff.
type Manager struct {
	config  ManagerConfig
	backoff *Backoff
	state   atomic.Int32

	mu         sync.Mutex
	conn       *Conn
	scope      string
	generation uint64

	reconnects atomic.Uint64

	updates     chan ScopedUpdate
	reconnectCh chan struct{}
	stopCh      chan struct{}
	closeOnce   sync.Once
}

// NewManager creates a channel supervisor. Run must be started for automatic
// reconnects to happen.
func NewManager(config ManagerConfig) *Manager {
	m := &Manager{
		config: config,
		backoff: NewBackoffWithConfig(
			config.InitialBackoff,
			config.MaxBackoff,
			2.0,
			0.1,
		),
		updates:     make(chan ScopedUpdate, 16),
		reconnectCh: make(chan struct{}, 1),
		stopCh:      make(chan struct{}),
	}
	m.state.Store(int32(StateIdle))
	return m
}

// Updates returns the stable stream of decoded updates across reconnects.
func (m *Manager) Updates() <-chan ScopedUpdate {
	return m.updates
}

// State returns the manager's view of the channel lifecycle.
func (m *Manager) State() ConnState {
	return ConnState(m.state.Load())
}

// Scope returns the scope of the current or most recent channel.
func (m *Manager) Scope() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.scope
}

// Conn returns the current channel handle, or nil.
func (m *Manager) Conn() *Conn {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.conn
}

// Reconnects returns how many times a dead channel triggered a redial.
func (m *Manager) Reconnects() uint64 {
	return m.reconnects.Load()
}

// Stats returns the current channel's frame counters, zero when no channel
// is live.
func (m *Manager) Stats() ConnStats {
	m.mu.Lock()
	conn := m.conn
	m.mu.Unlock()
	if conn == nil {
		return ConnStats{}
	}
	return conn.Stats()
}

// Open closes any existing channel to completion, then dials the push
// channel for scope, retrying with backoff until it connects or the context
// ends. The generation tags every update the new channel delivers, across
// redials, so consumers can discard frames from superseded activations. It
// returns the new handle; the manager keeps supervising it.
func (m *Manager) Open(ctx context.Context, scope string, generation uint64) (*Conn, error) {
	if scope == "" {
		return nil, fmt.Errorf("scope is required")
	}
	if _, err := m.channelURL(scope); err != nil {
		return nil, err
	}

	m.mu.Lock()
	old := m.conn
	m.conn = nil
	m.scope = scope
	m.generation = generation
	m.mu.Unlock()

	// Teardown runs to completion before the new scope dials: at most one
	// live channel per client.
	if old != nil {
		old.Close()
	}

	m.backoff.Reset()
	return m.connect(ctx, scope, generation)
}

// Run drives automatic reconnection until the context ends or the manager
// closes.
func (m *Manager) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stopCh:
			return
		case <-m.reconnectCh:
			m.handleReconnect(ctx)
		}
	}
}

// TriggerReconnect signals that the channel needs to be redialed.
func (m *Manager) TriggerReconnect() {
	select {
	case m.reconnectCh <- struct{}{}:
	default:
		// Already pending
	}
}

// Close shuts the manager and any live channel down. Idempotent.
func (m *Manager) Close() error {
	m.closeOnce.Do(func() {
		close(m.stopCh)
	})

	m.mu.Lock()
	conn := m.conn
	m.conn = nil
	m.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
	m.setState(StateClosed)
	return nil
}

// connect dials scope with retry and adopts the resulting channel.
func (m *Manager) connect(ctx context.Context, scope string, generation uint64) (*Conn, error) {
	m.setState(StateConnecting)

	attempts := 0
	for {
		select {
		case <-ctx.Done():
			m.setState(StateIdle)
			return nil, ctx.Err()
		case <-m.stopCh:
			m.setState(StateClosed)
			return nil, ErrManagerClosed
		default:
		}

		m.mu.Lock()
		superseded := m.scope != scope || m.generation != generation
		m.mu.Unlock()
		if superseded {
			return nil, errSuperseded
		}

		conn, err := m.dial(ctx, scope, generation)
		if err == nil {
			if err := m.install(conn); err != nil {
				return nil, err
			}
			m.backoff.Reset()
			m.setState(StateOpen)
			conn.start()
			go m.pump(conn)
			m.logf("channel open for scope %q", scope)
			return conn, nil
		}

		attempts++
		if m.config.MaxRetries > 0 && attempts >= m.config.MaxRetries {
			m.setState(StateIdle)
			return nil, fmt.Errorf("max retries (%d) exceeded: %w", m.config.MaxRetries, err)
		}

		delay := m.backoff.Next()
		m.logf("dial failed (attempt %d): %v, retrying in %v", attempts, err, delay)

		select {
		case <-ctx.Done():
			m.setState(StateIdle)
			return nil, ctx.Err()
		case <-m.stopCh:
			m.setState(StateClosed)
			return nil, ErrManagerClosed
		case <-time.After(delay):
		}
	}
}

// handleReconnect redials the current scope after a channel death. The
// generation is unchanged: a redial is the same activation, not a new one.
func (m *Manager) handleReconnect(ctx context.Context) {
	m.mu.Lock()
	scope := m.scope
	generation := m.generation
	old := m.conn
	if old != nil {
		select {
		case <-old.Done():
		default:
			// The current channel is alive: this death notice belongs to an
			// older handle that was already replaced.
			m.mu.Unlock()
			return
		}
	}
	m.conn = nil
	m.mu.Unlock()

	if scope == "" {
		return
	}
	if old != nil {
		old.Close()
	}

	m.reconnects.Add(1)
	metrics.StreamReconnectsTotal.Inc()
	m.logf("reconnecting to scope %q", scope)
	if _, err := m.connect(ctx, scope, generation); err != nil {
		m.logf("reconnect failed: %v", err)
		// Keep trying at the backoff cap until the platform returns or the
		// manager shuts down. A scope switch overtakes the queued trigger.
		if ctx.Err() == nil && !errors.Is(err, ErrManagerClosed) && !errors.Is(err, errSuperseded) {
			m.TriggerReconnect()
		}
	}
}

// dial performs one websocket handshake.
func (m *Manager) dial(ctx context.Context, scope string, generation uint64) (*Conn, error) {
	u, err := m.channelURL(scope)
	if err != nil {
		return nil, err
	}

	header := http.Header{}
	if m.config.Token != "" {
		header.Set("Authorization", "Bearer "+m.config.Token)
	}

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	ws, resp, err := dialer.DialContext(ctx, u, header)
	if err != nil {
		if resp != nil {
			resp.Body.Close()
			return nil, fmt.Errorf("dial %s: %w (status %d)", u, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial %s: %w", u, err)
	}

	return newConn(ws, scope, generation, m.config.LivenessTimeout, m.config.PingInterval, m.config.Verbose, m.setState), nil
}

// errSuperseded means a new Open landed while this dial was in flight; the
// freshly dialed channel belongs to a stale activation and is discarded.
var errSuperseded = errors.New("stream: channel superseded before adoption")

// install makes the dialed handle current, unless the manager shut down or
// the target scope moved on while the dial was in flight.
func (m *Manager) install(conn *Conn) error {
	select {
	case <-m.stopCh:
		conn.Close()
		return ErrManagerClosed
	default:
	}

	m.mu.Lock()
	if conn.Scope() != m.scope || conn.Generation() != m.generation || m.conn != nil {
		m.mu.Unlock()
		conn.Close()
		return errSuperseded
	}
	m.conn = conn
	m.mu.Unlock()
	return nil
}

// pump copies one handle's updates onto the manager's stable channel, and
// requests a redial when the handle dies uncleanly while still current.
func (m *Manager) pump(conn *Conn) {
	for pu := range conn.Updates() {
		select {
		case m.updates <- ScopedUpdate{Scope: conn.Scope(), Generation: conn.Generation(), Update: pu}:
		case <-m.stopCh:
			return
		}
	}

	if conn.Err() == nil {
		// Clean close: scope switch or shutdown. Nothing to do.
		return
	}

	m.mu.Lock()
	current := m.conn == conn
	m.mu.Unlock()
	if current {
		m.TriggerReconnect()
	}
}

// channelURL builds ws(s)://host/ws/city/{scope} from the configured base.
func (m *Manager) channelURL(scope string) (string, error) {
	if m.config.BaseURL == "" {
		return "", fmt.Errorf("base URL is required")
	}
	u, err := url.Parse(m.config.BaseURL)
	if err != nil {
		return "", fmt.Errorf("parse base URL: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	return u.JoinPath("ws", "city", scope).String(), nil
}

func (m *Manager) setState(state ConnState) {
	old := ConnState(m.state.Swap(int32(state)))
	if old == state {
		return
	}
	if state == StateOpen || state == StateReceiving {
		metrics.StreamChannelUp.Set(1)
	} else {
		metrics.StreamChannelUp.Set(0)
	}
	if m.config.OnStateChange != nil {
		m.config.OnStateChange(state)
	}
}

func (m *Manager) logf(format string, args ...interface{}) {
	if m.config.Verbose {
		log.Printf("[stream] "+format, args...)
	}
}
