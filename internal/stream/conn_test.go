package stream

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// pushServer is a local websocket endpoint with failure injection, standing
// in for the platform's push channel.
type pushServer struct {
	t      *testing.T
	server *httptest.Server

	// silent servers never read, so client pings go unanswered
	silent bool

	mu    sync.Mutex
	conns []*websocket.Conn
	dials int
	paths []string
	auths []string
}

func newPushServer(t *testing.T) *pushServer {
	return newPushServerWithOptions(t, false)
}

func newPushServerWithOptions(t *testing.T, silent bool) *pushServer {
	ps := &pushServer{t: t, silent: silent}
	upgrader := websocket.Upgrader{}

	ps.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ps.mu.Lock()
		ps.dials++
		ps.paths = append(ps.paths, r.URL.Path)
		ps.auths = append(ps.auths, r.Header.Get("Authorization"))
		ps.mu.Unlock()

		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}

		ps.mu.Lock()
		ps.conns = append(ps.conns, ws)
		ps.mu.Unlock()

		if !ps.silent {
			// Reading keeps control-frame handling alive: inbound pings
			// are answered with pongs automatically.
			go func() {
				for {
					if _, _, err := ws.ReadMessage(); err != nil {
						return
					}
				}
			}()
		}
	}))

	t.Cleanup(ps.stop)
	return ps
}

func (ps *pushServer) stop() {
	ps.mu.Lock()
	conns := ps.conns
	ps.conns = nil
	ps.mu.Unlock()
	for _, c := range conns {
		c.Close()
	}
	ps.server.Close()
}

// url returns the http base URL; callers map the scheme as needed.
func (ps *pushServer) url() string {
	return ps.server.URL
}

func (ps *pushServer) dialCount() int {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	return ps.dials
}

func (ps *pushServer) dialPath(i int) string {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	if i >= len(ps.paths) {
		return ""
	}
	return ps.paths[i]
}

func (ps *pushServer) dialAuth(i int) string {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	if i >= len(ps.auths) {
		return ""
	}
	return ps.auths[i]
}

// waitConn blocks until the i-th accepted connection exists.
func (ps *pushServer) waitConn(i int) *websocket.Conn {
	ps.t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		ps.mu.Lock()
		if len(ps.conns) > i {
			c := ps.conns[i]
			ps.mu.Unlock()
			return c
		}
		ps.mu.Unlock()
		time.Sleep(10 * time.Millisecond)
	}
	ps.t.Fatalf("connection %d never arrived", i)
	return nil
}

// send writes one text frame on the i-th accepted connection.
func (ps *pushServer) send(i int, frame string) {
	ps.t.Helper()
	ws := ps.waitConn(i)
	if err := ws.WriteMessage(websocket.TextMessage, []byte(frame)); err != nil {
		ps.t.Fatalf("send on connection %d: %v", i, err)
	}
}

// kill drops the i-th connection's socket without a close handshake.
func (ps *pushServer) kill(i int) {
	ps.t.Helper()
	ps.waitConn(i).UnderlyingConn().Close()
}

// closeGracefully performs a proper close handshake on the i-th connection.
func (ps *pushServer) closeGracefully(i int) {
	ps.t.Helper()
	ws := ps.waitConn(i)
	deadline := time.Now().Add(time.Second)
	ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
}

// dialTestConn opens a handle straight to the test server, bypassing the
// manager.
func dialTestConn(t *testing.T, ps *pushServer, scope string, liveness, pingInterval time.Duration) *Conn {
	t.Helper()
	u := "ws" + strings.TrimPrefix(ps.url(), "http") + "/ws/city/" + scope
	ws, _, err := websocket.DefaultDialer.Dial(u, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", u, err)
	}
	conn := newConn(ws, scope, 1, liveness, pingInterval, false, nil)
	conn.start()
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestConnDeliversUpdates(t *testing.T) {
	ps := newPushServer(t)
	conn := dialTestConn(t, ps, "ahmedabad", 0, 15*time.Second)

	ps.send(0, `{"type": "update", "city": "ahmedabad", "risk": {"overall": 72.5, "level": "high"}}`)

	select {
	case pu, ok := <-conn.Updates():
		if !ok {
			t.Fatal("updates channel closed before delivering anything")
		}
		if pu.Risk == nil || pu.Risk.Overall != 72.5 {
			t.Errorf("Risk = %+v, want overall 72.5", pu.Risk)
		}
		if pu.Alerts != nil || pu.Anomalies != nil {
			t.Error("absent sub-objects should stay nil")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no update delivered")
	}

	if got := conn.State(); got != StateReceiving {
		t.Errorf("State = %v, want %v", got, StateReceiving)
	}
	if got := conn.Stats().FramesReceived; got != 1 {
		t.Errorf("FramesReceived = %d, want 1", got)
	}
	if conn.Scope() != "ahmedabad" {
		t.Errorf("Scope = %q, want %q", conn.Scope(), "ahmedabad")
	}
}

func TestConnSkipsMalformedAndUnknownFrames(t *testing.T) {
	ps := newPushServer(t)
	conn := dialTestConn(t, ps, "pune", 0, 15*time.Second)

	ps.send(0, `{nope`)
	ps.send(0, `{"type": "heartbeat"}`)
	ps.send(0, `{"type": "update", "risk": {"overall": 10, "level": "low"}}`)

	select {
	case pu := <-conn.Updates():
		if pu.Risk == nil || pu.Risk.Overall != 10 {
			t.Errorf("delivered update = %+v, want the valid frame's risk", pu.Risk)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("valid frame after junk was never delivered")
	}

	// Nothing else shows up
	select {
	case pu, ok := <-conn.Updates():
		if ok {
			t.Errorf("unexpected extra update: %+v", pu)
		} else {
			t.Error("channel closed; junk frames should not kill it")
		}
	case <-time.After(100 * time.Millisecond):
	}

	stats := conn.Stats()
	if stats.FramesReceived != 3 {
		t.Errorf("FramesReceived = %d, want 3", stats.FramesReceived)
	}
	if stats.DecodeErrors != 1 {
		t.Errorf("DecodeErrors = %d, want 1", stats.DecodeErrors)
	}
	if stats.UnknownTypes != 1 {
		t.Errorf("UnknownTypes = %d, want 1", stats.UnknownTypes)
	}
	if err := conn.Err(); err != nil {
		t.Errorf("Err = %v, want nil while channel is healthy", err)
	}
}

func TestConnCloseIsCleanAndIdempotent(t *testing.T) {
	ps := newPushServer(t)
	conn := dialTestConn(t, ps, "surat", 0, 15*time.Second)

	if err := conn.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := conn.Close(); err != nil {
		t.Fatalf("second Close failed: %v", err)
	}

	select {
	case <-conn.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("Done never closed")
	}

	if got := conn.State(); got != StateClosed {
		t.Errorf("State = %v, want %v", got, StateClosed)
	}
	if err := conn.Err(); err != nil {
		t.Errorf("Err = %v, want nil after a local close", err)
	}

	// The updates channel drains shut
	deadline := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-conn.Updates():
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("updates channel never closed")
		}
	}
}

func TestConnRemoteDeathSetsErr(t *testing.T) {
	ps := newPushServer(t)
	conn := dialTestConn(t, ps, "ahmedabad", 0, 15*time.Second)

	ps.kill(0)

	select {
	case <-conn.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("handle never noticed the dead socket")
	}

	if conn.Err() == nil {
		t.Error("Err = nil, want a transport error after remote death")
	}
	if got := conn.State(); got != StateClosed {
		t.Errorf("State = %v, want %v", got, StateClosed)
	}
}

func TestConnRemoteCloseCountsAsChannelDeath(t *testing.T) {
	// A close we did not initiate means the platform went away; the
	// supervisor is expected to redial, so the handle reports an error.
	ps := newPushServer(t)
	conn := dialTestConn(t, ps, "ahmedabad", 0, 15*time.Second)

	ps.closeGracefully(0)

	select {
	case <-conn.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("handle never noticed the close frame")
	}

	if conn.Err() == nil {
		t.Error("Err = nil, want an error after a remote-initiated close")
	}
}

func TestConnLivenessDeadlineKillsQuietChannel(t *testing.T) {
	ps := newPushServerWithOptions(t, true) // never answers pings
	conn := dialTestConn(t, ps, "pune", 150*time.Millisecond, 50*time.Millisecond)

	select {
	case <-conn.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("liveness deadline never fired")
	}

	if conn.Err() == nil {
		t.Error("Err = nil, want a deadline error from the dead-quiet channel")
	}
}

func TestConnPingKeepsQuietChannelAlive(t *testing.T) {
	ps := newPushServer(t)
	conn := dialTestConn(t, ps, "pune", 200*time.Millisecond, 50*time.Millisecond)

	// Several liveness windows with no data frames at all; pong replies to
	// our pings must keep the deadline fresh.
	time.Sleep(600 * time.Millisecond)

	if err := conn.Err(); err != nil {
		t.Fatalf("channel died despite pong traffic: %v", err)
	}
	if got := conn.State(); got != StateOpen {
		t.Errorf("State = %v, want %v", got, StateOpen)
	}
}
