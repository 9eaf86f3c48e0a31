package feedsim

import (
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"github.com/urbanpulse/citypulse/internal/models"
)

// msgTypeUpdate matches the platform's frame discriminant.
const msgTypeUpdate = "update"

// pushFrame is one message on the push channel. Optional sub-objects carry
// whichever portions of the city state changed this tick.
type pushFrame struct {
	Type      string                 `json:"type"`
	City      string                 `json:"city,omitempty"`
	Alerts    *models.AlertSummary   `json:"alerts,omitempty"`
	Risk      *models.RiskAssessment `json:"risk,omitempty"`
	Anomalies *models.AnomalySummary `json:"anomalies,omitempty"`
	Timestamp string                 `json:"timestamp,omitempty"`
}

const (
	sendQueueSize  = 32
	wsWriteWait    = 10 * time.Second
	wsPingInterval = 30 * time.Second
	wsReadWait     = 90 * time.Second
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(*http.Request) bool { return true },
}

// wsClient is one subscriber. Frames that cannot be queued are dropped; the
// next tick supersedes them anyway.
type wsClient struct {
	conn *websocket.Conn
	send chan []byte
	once sync.Once
	done chan struct{}
}

func (c *wsClient) close() {
	c.once.Do(func() {
		close(c.done)
		c.conn.Close()
	})
}

// hub tracks push subscribers per city.
type hub struct {
	mu      sync.RWMutex
	clients map[string]map[*wsClient]struct{}
	verbose bool
}

func newHub(verbose bool) *hub {
	return &hub{
		clients: make(map[string]map[*wsClient]struct{}),
		verbose: verbose,
	}
}

// broadcast fans a frame out to every subscriber of the city. Slow clients
// lose frames, not the connection.
func (h *hub) broadcast(city string, frame pushFrame) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	subscribers := h.clients[city]
	if len(subscribers) == 0 {
		return
	}

	payload, err := json.Marshal(frame)
	if err != nil {
		log.Printf("[feedsim] encode frame: %v", err)
		return
	}
	for c := range subscribers {
		select {
		case c.send <- payload:
		default:
		}
	}
}

// serveWS upgrades the request and subscribes it to the city's pushes. An
// optional initial frame is queued first, so new subscribers do not sit
// empty until the next tick. Blocks until the client goes away.
func (h *hub) serveWS(w http.ResponseWriter, r *http.Request, city string, initial pushFrame) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return // Upgrade already replied
	}

	c := &wsClient{
		conn: conn,
		send: make(chan []byte, sendQueueSize),
		done: make(chan struct{}),
	}
	if payload, err := json.Marshal(initial); err == nil {
		c.send <- payload
	}

	h.mu.Lock()
	if h.clients[city] == nil {
		h.clients[city] = make(map[*wsClient]struct{})
	}
	h.clients[city][c] = struct{}{}
	h.mu.Unlock()
	h.logf("subscriber joined %s", city)

	go h.writePump(c)
	h.readPump(c)

	h.mu.Lock()
	delete(h.clients[city], c)
	h.mu.Unlock()
	h.logf("subscriber left %s", city)
}

// writePump serializes all writes: queued frames plus keepalive pings.
func (h *hub) writePump(c *wsClient) {
	ticker := time.NewTicker(wsPingInterval)
	defer ticker.Stop()

	for {
		select {
		case payload := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				c.close()
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.close()
				return
			}
		case <-c.done:
			return
		}
	}
}

// readPump consumes control frames and discards anything else the client
// sends. The read deadline is refreshed by pings and pongs, so a quiet but
// live subscriber is never dropped.
func (h *hub) readPump(c *wsClient) {
	defer c.close()

	refresh := func() { c.conn.SetReadDeadline(time.Now().Add(wsReadWait)) }
	refresh()
	c.conn.SetPongHandler(func(string) error {
		refresh()
		return nil
	})
	c.conn.SetPingHandler(func(message string) error {
		refresh()
		return c.conn.WriteControl(websocket.PongMessage, []byte(message), time.Now().Add(wsWriteWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
		refresh()
	}
}

// closeAll drops every subscriber, used at shutdown.
func (h *hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, subscribers := range h.clients {
		for c := range subscribers {
			c.close()
		}
	}
}

func (h *hub) logf(format string, args ...interface{}) {
	if h.verbose {
		log.Printf("[feedsim] "+format, args...)
	}
}
