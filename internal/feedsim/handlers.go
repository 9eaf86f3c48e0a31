package feedsim

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"

	"github.com/urbanpulse/citypulse/internal/models"
)

// The list endpoints use the platform's wrapper envelope; errors use its
// {"detail": ...} body.

type environmentHistoryPayload struct {
	City    string                    `json:"city"`
	Count   int                       `json:"count"`
	History []models.EnvironmentPoint `json:"history"`
}

type trafficPayload struct {
	City  string                `json:"city"`
	Count int                   `json:"count"`
	Zones []models.TrafficPoint `json:"zones"`
}

type riskHistoryPayload struct {
	City    string             `json:"city"`
	Count   int                `json:"count"`
	History []models.RiskPoint `json:"history"`
}

func (s *Server) handleEnvironmentHistory(w http.ResponseWriter, r *http.Request) {
	city := chi.URLParam(r, "city")
	hours := queryInt(r, "hours", 24)

	var history []models.EnvironmentPoint
	if !s.withWorld(city, func(wd *world) { history = wd.environmentHistory(hours) }) {
		writeDetail(w, http.StatusNotFound, "unknown city")
		return
	}
	writeJSON(w, http.StatusOK, environmentHistoryPayload{City: city, Count: len(history), History: history})
}

func (s *Server) handleTraffic(w http.ResponseWriter, r *http.Request) {
	city := chi.URLParam(r, "city")

	var zones []models.TrafficPoint
	if !s.withWorld(city, func(wd *world) { zones = wd.trafficSnapshot() }) {
		writeDetail(w, http.StatusNotFound, "unknown city")
		return
	}
	writeJSON(w, http.StatusOK, trafficPayload{City: city, Count: len(zones), Zones: zones})
}

func (s *Server) handleRiskHistory(w http.ResponseWriter, r *http.Request) {
	city := chi.URLParam(r, "city")
	limit := queryInt(r, "limit", 20)

	var history []models.RiskPoint
	if !s.withWorld(city, func(wd *world) { history = wd.riskHistory(limit) }) {
		writeDetail(w, http.StatusNotFound, "unknown city")
		return
	}
	writeJSON(w, http.StatusOK, riskHistoryPayload{City: city, Count: len(history), History: history})
}

func (s *Server) handleRisk(w http.ResponseWriter, r *http.Request) {
	city := chi.URLParam(r, "city")

	var risk *models.RiskAssessment
	if !s.withWorld(city, func(wd *world) { risk = wd.riskCopy() }) {
		writeDetail(w, http.StatusNotFound, "unknown city")
		return
	}
	writeJSON(w, http.StatusOK, risk)
}

func (s *Server) handleAlerts(w http.ResponseWriter, r *http.Request) {
	city := chi.URLParam(r, "city")

	var summary models.AlertSummary
	if !s.withWorld(city, func(wd *world) { summary = wd.alertSummary() }) {
		writeDetail(w, http.StatusNotFound, "unknown city")
		return
	}
	// Only active alerts are tracked, so active_only is always satisfied.
	writeJSON(w, http.StatusOK, summary)
}

func (s *Server) handleAnomalies(w http.ResponseWriter, r *http.Request) {
	city := chi.URLParam(r, "city")

	var summary models.AnomalySummary
	if !s.withWorld(city, func(wd *world) { summary = wd.anomalySummary() }) {
		writeDetail(w, http.StatusNotFound, "unknown city")
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (s *Server) handleSimulate(w http.ResponseWriter, r *http.Request) {
	city := chi.URLParam(r, "city")

	var params models.ScenarioParameters
	if err := json.NewDecoder(r.Body).Decode(&params); err != nil {
		writeDetail(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if params.Zone == "" {
		writeDetail(w, http.StatusUnprocessableEntity, "zone is required")
		return
	}

	var result models.ScenarioResult
	if !s.withWorld(city, func(wd *world) { result = wd.simulate(params) }) {
		writeDetail(w, http.StatusNotFound, "unknown city")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	city := chi.URLParam(r, "city")

	// Full state for the hello frame, so subscribers need not wait a tick.
	var initial pushFrame
	ok := s.withWorld(city, func(wd *world) {
		alerts := wd.alertSummary()
		anomalies := wd.anomalySummary()
		initial = pushFrame{
			Type:      msgTypeUpdate,
			City:      city,
			Alerts:    &alerts,
			Risk:      wd.riskCopy(),
			Anomalies: &anomalies,
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		}
	})
	if !ok {
		writeDetail(w, http.StatusNotFound, "unknown city")
		return
	}

	s.hub.serveWS(w, r, city, initial)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeDetail(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}

func queryInt(r *http.Request, name string, fallback int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v <= 0 {
		return fallback
	}
	return v
}
