package statusapi

import (
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/urbanpulse/citypulse/internal/models"
	"github.com/urbanpulse/citypulse/internal/session"
)

// SessionInfo is the GET /session payload: live counters plus the time of
// the last applied update, if any.
type SessionInfo struct {
	session.Stats
	LastUpdate *time.Time `json:"last_update,omitempty"`
}

type setScopeRequest struct {
	City string `json:"city"`
}

// ScopeStatus reports the active scope after a switch.
type ScopeStatus struct {
	Scope      string `json:"scope"`
	Generation uint64 `json:"generation"`
}

// ViewSnapshot is the GET /view payload.
type ViewSnapshot struct {
	Scope string           `json:"scope"`
	View  models.ViewModel `json:"view"`
}

// HistoryPage is the GET /history payload, newest entry first.
type HistoryPage struct {
	Entries  []models.HistoryEntry `json:"entries"`
	Count    int                   `json:"count"`
	Capacity int                   `json:"capacity"`
	Degraded bool                  `json:"degraded"`
}

// Health is the GET /healthz payload.
type Health struct {
	Status       string `json:"status"`
	Scope        string `json:"scope,omitempty"`
	ChannelState string `json:"channel_state"`
}

// handleGetSession returns live session counters plus the view's last
// update time.
func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	resp := SessionInfo{Stats: s.ctrl.Stats()}
	if _, vm, ok := s.view.Snapshot(); ok && !vm.UpdatedAt.IsZero() {
		t := vm.UpdatedAt
		resp.LastUpdate = &t
	}
	OK(w, resp)
}

// handleSetScope switches the session to a new city. The switch itself is
// atomic; a 502 means the push channel could not be dialed and the session
// is refreshing the new scope by polling alone.
func (s *Server) handleSetScope(w http.ResponseWriter, r *http.Request) {
	var req setScopeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		JSONError(w, NewBadRequest("Invalid JSON body"))
		return
	}

	city := strings.TrimSpace(req.City)
	if city == "" {
		JSONError(w, NewValidationError("city is required"))
		return
	}

	if err := s.ctrl.SetScope(r.Context(), city); err != nil {
		if errors.Is(err, session.ErrSessionClosed) {
			JSONError(w, ErrSessionClosed)
			return
		}
		JSONError(w, NewUpstreamError(err.Error()))
		return
	}

	OK(w, ScopeStatus{Scope: s.ctrl.Scope(), Generation: s.ctrl.Generation()})
}

func (s *Server) handleGetView(w http.ResponseWriter, r *http.Request) {
	scope, vm, ok := s.view.Snapshot()
	if !ok {
		JSONError(w, ErrNoActiveScope)
		return
	}
	OK(w, ViewSnapshot{Scope: scope, View: vm})
}

func (s *Server) handleGetHistory(w http.ResponseWriter, r *http.Request) {
	entries, err := s.history.Load()
	if err != nil {
		log.Printf("[statusapi] failed to load history: %v", err)
		JSONError(w, ErrInternalServer)
		return
	}
	OK(w, HistoryPage{
		Entries:  entries,
		Count:    len(entries),
		Capacity: s.history.Capacity(),
		Degraded: s.history.Degraded(),
	})
}

func (s *Server) handleClearHistory(w http.ResponseWriter, r *http.Request) {
	if err := s.history.Clear(); err != nil {
		log.Printf("[statusapi] failed to clear history: %v", err)
		JSONError(w, ErrInternalServer)
		return
	}
	NoContent(w)
}

// handleSimulate runs a what-if scenario against the platform for the
// active scope and records the outcome in history.
func (s *Server) handleSimulate(w http.ResponseWriter, r *http.Request) {
	var params models.ScenarioParameters
	if err := json.NewDecoder(r.Body).Decode(&params); err != nil {
		JSONError(w, NewBadRequest("Invalid JSON body"))
		return
	}

	result, err := s.ctrl.Simulate(r.Context(), params)
	if err != nil {
		if errors.Is(err, session.ErrNoScope) {
			JSONError(w, ErrNoActiveScope)
			return
		}
		JSONError(w, NewUpstreamError(err.Error()))
		return
	}

	OK(w, result)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	stats := s.ctrl.Stats()
	OK(w, Health{
		Status:       "ok",
		Scope:        stats.Scope,
		ChannelState: stats.ChannelState,
	})
}
