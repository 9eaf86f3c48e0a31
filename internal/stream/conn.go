// Package stream maintains the push channel to the platform: one live
// websocket per active scope, decoded into partial updates, supervised with
// bounded-backoff reconnects and a read-liveness deadline.
package stream

import (
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/urbanpulse/citypulse/internal/metrics"
	"github.com/urbanpulse/citypulse/internal/models"
)

// ConnState is the lifecycle position of one channel handle.
type ConnState int32

const (
	StateIdle ConnState = iota
	StateConnecting
	StateOpen
	StateReceiving
	StateClosing
	StateClosed
)

func (s ConnState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateReceiving:
		return "receiving"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

const writeWait = 10 * time.Second

// ConnStats are per-handle frame counters.
type ConnStats struct {
	FramesReceived uint64 `json:"frames_received"`
	UnknownTypes   uint64 `json:"unknown_types"`
	DecodeErrors   uint64 `json:"decode_errors"`
}

// Conn is one live push channel bound to a scope. A handle is single-use:
// once Closed it never reopens; the manager dials a fresh handle instead.
type Conn struct {
	scope      string
	generation uint64
	ws         *websocket.Conn

	updates chan models.PartialUpdate
	done    chan struct{}

	state         atomic.Int32
	onStateChange func(ConnState)

	teardownOnce sync.Once
	errMu        sync.Mutex
	connErr      error

	framesReceived atomic.Uint64
	unknownTypes   atomic.Uint64
	decodeErrors   atomic.Uint64

	liveness     time.Duration
	pingInterval time.Duration
	verbose      bool
}

// newConn wraps an established websocket. The pumps do not run until start.
func newConn(ws *websocket.Conn, scope string, generation uint64, liveness, pingInterval time.Duration, verbose bool, onStateChange func(ConnState)) *Conn {
	c := &Conn{
		scope:         scope,
		generation:    generation,
		ws:            ws,
		updates:       make(chan models.PartialUpdate, 16),
		done:          make(chan struct{}),
		onStateChange: onStateChange,
		liveness:      liveness,
		pingInterval:  pingInterval,
		verbose:       verbose,
	}
	c.state.Store(int32(StateOpen))
	return c
}

// start launches the read and ping pumps. Call exactly once.
func (c *Conn) start() {
	go c.readPump()
	go c.pinger()
}

// Scope returns the scope this handle is bound to.
func (c *Conn) Scope() string {
	return c.scope
}

// Generation returns the scope activation this handle was opened under.
func (c *Conn) Generation() uint64 {
	return c.generation
}

// State returns the current lifecycle state.
func (c *Conn) State() ConnState {
	return ConnState(c.state.Load())
}

// Updates returns the channel of decoded partial updates. It is closed when
// the handle dies or is closed.
func (c *Conn) Updates() <-chan models.PartialUpdate {
	return c.updates
}

// Done is closed when the handle has fully shut down.
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

// Err returns why the handle died, or nil after a clean Close.
func (c *Conn) Err() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.connErr
}

// Stats returns the frame counters.
func (c *Conn) Stats() ConnStats {
	return ConnStats{
		FramesReceived: c.framesReceived.Load(),
		UnknownTypes:   c.unknownTypes.Load(),
		DecodeErrors:   c.decodeErrors.Load(),
	}
}

// Close shuts the handle down cleanly. Safe to call more than once and from
// any state; it returns once the underlying socket is closed.
func (c *Conn) Close() error {
	if c.State() == StateClosed {
		return nil
	}
	c.setState(StateClosing)

	// Best-effort polite close frame; the peer may already be gone.
	deadline := time.Now().Add(writeWait)
	c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)

	c.teardown(nil)
	return nil
}

// teardown finalizes the handle exactly once. A nil error means clean close.
func (c *Conn) teardown(err error) {
	c.teardownOnce.Do(func() {
		if err != nil {
			c.errMu.Lock()
			c.connErr = err
			c.errMu.Unlock()
		}
		close(c.done)
		c.ws.Close()
		c.setState(StateClosed)
	})
}

// readPump decodes inbound frames until the channel dies. One malformed or
// unknown frame never kills the channel; only transport errors do.
func (c *Conn) readPump() {
	defer close(c.updates)

	if c.liveness > 0 {
		c.ws.SetReadDeadline(time.Now().Add(c.liveness))
		c.ws.SetPongHandler(func(string) error {
			c.ws.SetReadDeadline(time.Now().Add(c.liveness))
			return nil
		})
	}

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if c.State() == StateClosing || c.State() == StateClosed {
				// Shutdown initiated locally; not a failure.
				c.teardown(nil)
				return
			}
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logf("channel closed unexpectedly: %v", err)
			}
			c.teardown(fmt.Errorf("read: %w", err))
			return
		}

		// Any inbound frame proves liveness.
		if c.liveness > 0 {
			c.ws.SetReadDeadline(time.Now().Add(c.liveness))
		}
		c.framesReceived.Add(1)

		env, err := DecodeEnvelope(data)
		if err != nil {
			c.decodeErrors.Add(1)
			metrics.StreamFramesTotal.WithLabelValues("malformed").Inc()
			c.logf("dropping malformed frame: %v", err)
			continue
		}
		if env.Type != MsgTypeUpdate {
			c.unknownTypes.Add(1)
			metrics.StreamFramesTotal.WithLabelValues("unknown").Inc()
			continue
		}
		metrics.StreamFramesTotal.WithLabelValues("update").Inc()

		if c.state.CompareAndSwap(int32(StateOpen), int32(StateReceiving)) && c.onStateChange != nil {
			c.onStateChange(StateReceiving)
		}

		select {
		case c.updates <- env.PartialUpdate():
		case <-c.done:
			return
		}
	}
}

// pinger keeps a healthy but quiet channel alive. Peers answer pings with
// pongs, which refresh the read deadline in the pong handler.
func (c *Conn) pinger() {
	interval := c.pingInterval
	if interval <= 0 {
		interval = 15 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			deadline := time.Now().Add(writeWait)
			if err := c.ws.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				if c.State() == StateClosing || c.State() == StateClosed {
					return
				}
				c.teardown(fmt.Errorf("ping: %w", err))
				return
			}
		case <-c.done:
			return
		}
	}
}

func (c *Conn) setState(state ConnState) {
	old := ConnState(c.state.Swap(int32(state)))
	if old != state && c.onStateChange != nil {
		c.onStateChange(state)
	}
}

func (c *Conn) logf(format string, args ...interface{}) {
	if c.verbose {
		log.Printf("[stream] "+format, args...)
	}
}
