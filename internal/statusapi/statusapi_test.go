package statusapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/urbanpulse/citypulse/internal/cache"
	"github.com/urbanpulse/citypulse/internal/history"
	"github.com/urbanpulse/citypulse/internal/models"
	"github.com/urbanpulse/citypulse/internal/session"
	"github.com/urbanpulse/citypulse/internal/view"
)

type fakeController struct {
	scope       string
	generation  uint64
	stats       session.Stats
	setScopeErr error
	simResult   models.ScenarioResult
	simErr      error
	simParams   []models.ScenarioParameters
}

func (f *fakeController) Scope() string      { return f.scope }
func (f *fakeController) Generation() uint64 { return f.generation }

func (f *fakeController) Stats() session.Stats {
	stats := f.stats
	stats.Scope = f.scope
	stats.Generation = f.generation
	return stats
}

func (f *fakeController) SetScope(ctx context.Context, scope string) error {
	if f.setScopeErr != nil {
		return f.setScopeErr
	}
	f.scope = scope
	f.generation++
	return nil
}

func (f *fakeController) Simulate(ctx context.Context, params models.ScenarioParameters) (models.ScenarioResult, error) {
	f.simParams = append(f.simParams, params)
	if f.simErr != nil {
		return models.ScenarioResult{}, f.simErr
	}
	return f.simResult, nil
}

func testServer(t *testing.T) (*Server, *fakeController, *view.Store, *history.Store) {
	t.Helper()

	ctrl := &fakeController{scope: "ahmedabad", generation: 3}
	ctrl.stats.ChannelState = "receiving"

	viewStore := view.NewStore()
	historyStore := history.NewStore(cache.NewMemoryStore(), 5)

	srv, err := New(&Config{Address: "127.0.0.1:0"}, ctrl, viewStore, historyStore)
	if err != nil {
		t.Fatalf("create server: %v", err)
	}
	return srv, ctrl, viewStore, historyStore
}

func handler(srv *Server) http.Handler {
	return srv.server.Handler
}

func TestHealthz(t *testing.T) {
	srv, _, _, _ := testServer(t)

	req := httptest.NewRequest("GET", "/healthz", nil)
	rec := httptest.NewRecorder()

	handler(srv).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}

	var resp struct {
		Data Health `json:"data"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Data.Status != "ok" {
		t.Errorf("status = %q, want 'ok'", resp.Data.Status)
	}
	if resp.Data.Scope != "ahmedabad" {
		t.Errorf("scope = %q, want 'ahmedabad'", resp.Data.Scope)
	}
}

func TestGetSession(t *testing.T) {
	srv, ctrl, viewStore, _ := testServer(t)
	ctrl.stats.Applied = 42
	viewStore.Replace("ahmedabad", models.ViewModel{})
	viewStore.MergeIn("ahmedabad", models.PartialUpdate{
		Risk: &models.RiskAssessment{Overall: 55.0, Level: models.LevelMedium},
	})

	req := httptest.NewRequest("GET", "/api/v1/session", nil)
	rec := httptest.NewRecorder()

	handler(srv).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d; body: %s", rec.Code, http.StatusOK, rec.Body.String())
	}

	var resp struct {
		Data SessionInfo `json:"data"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Data.Scope != "ahmedabad" {
		t.Errorf("scope = %q, want 'ahmedabad'", resp.Data.Scope)
	}
	if resp.Data.Generation != 3 {
		t.Errorf("generation = %d, want 3", resp.Data.Generation)
	}
	if resp.Data.Applied != 42 {
		t.Errorf("updates applied = %d, want 42", resp.Data.Applied)
	}
	if resp.Data.LastUpdate == nil || resp.Data.LastUpdate.IsZero() {
		t.Error("last update missing, want merge timestamp")
	}
}

func TestSetScope_Success(t *testing.T) {
	srv, ctrl, _, _ := testServer(t)

	body := `{"city": "pune"}`
	req := httptest.NewRequest("PUT", "/api/v1/session/scope", strings.NewReader(body))
	rec := httptest.NewRecorder()

	handler(srv).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d; body: %s", rec.Code, http.StatusOK, rec.Body.String())
	}

	var resp struct {
		Data ScopeStatus `json:"data"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Data.Scope != "pune" {
		t.Errorf("scope = %q, want 'pune'", resp.Data.Scope)
	}
	if resp.Data.Generation != 4 {
		t.Errorf("generation = %d, want 4", resp.Data.Generation)
	}
	if ctrl.scope != "pune" {
		t.Errorf("controller scope = %q, want 'pune'", ctrl.scope)
	}
}

func TestSetScope_TrimsWhitespace(t *testing.T) {
	srv, ctrl, _, _ := testServer(t)

	body := `{"city": "  pune  "}`
	req := httptest.NewRequest("PUT", "/api/v1/session/scope", strings.NewReader(body))
	rec := httptest.NewRecorder()

	handler(srv).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if ctrl.scope != "pune" {
		t.Errorf("controller scope = %q, want 'pune'", ctrl.scope)
	}
}

func TestSetScope_EmptyCity(t *testing.T) {
	srv, _, _, _ := testServer(t)

	body := `{"city": "   "}`
	req := httptest.NewRequest("PUT", "/api/v1/session/scope", strings.NewReader(body))
	rec := httptest.NewRecorder()

	handler(srv).ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}

	var resp struct {
		Error *Error `json:"error"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Error == nil || resp.Error.Code != ErrCodeValidationFailed {
		t.Errorf("error = %+v, want code %s", resp.Error, ErrCodeValidationFailed)
	}
}

func TestSetScope_InvalidJSON(t *testing.T) {
	srv, _, _, _ := testServer(t)

	req := httptest.NewRequest("PUT", "/api/v1/session/scope", strings.NewReader("{not json"))
	rec := httptest.NewRecorder()

	handler(srv).ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
}

func TestSetScope_SessionClosed(t *testing.T) {
	srv, ctrl, _, _ := testServer(t)
	ctrl.setScopeErr = session.ErrSessionClosed

	body := `{"city": "pune"}`
	req := httptest.NewRequest("PUT", "/api/v1/session/scope", strings.NewReader(body))
	rec := httptest.NewRecorder()

	handler(srv).ServeHTTP(rec, req)

	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusConflict)
	}
}

func TestSetScope_UpstreamFailure(t *testing.T) {
	srv, ctrl, _, _ := testServer(t)
	ctrl.setScopeErr = context.DeadlineExceeded

	body := `{"city": "pune"}`
	req := httptest.NewRequest("PUT", "/api/v1/session/scope", strings.NewReader(body))
	rec := httptest.NewRecorder()

	handler(srv).ServeHTTP(rec, req)

	if rec.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusBadGateway)
	}

	var resp struct {
		Error *Error `json:"error"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Error == nil || resp.Error.Code != ErrCodeUpstreamError {
		t.Errorf("error = %+v, want code %s", resp.Error, ErrCodeUpstreamError)
	}
}

func TestGetView_NoActiveScope(t *testing.T) {
	srv, _, _, _ := testServer(t)

	req := httptest.NewRequest("GET", "/api/v1/view", nil)
	rec := httptest.NewRecorder()

	handler(srv).ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusNotFound)
	}
}

func TestGetView_Active(t *testing.T) {
	srv, _, viewStore, _ := testServer(t)
	viewStore.Replace("ahmedabad", models.ViewModel{})
	viewStore.MergeIn("ahmedabad", models.PartialUpdate{
		Risk: &models.RiskAssessment{Overall: 61.5, Level: models.LevelMedium},
	})

	req := httptest.NewRequest("GET", "/api/v1/view", nil)
	rec := httptest.NewRecorder()

	handler(srv).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}

	var resp struct {
		Data ViewSnapshot `json:"data"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Data.Scope != "ahmedabad" {
		t.Errorf("scope = %q, want 'ahmedabad'", resp.Data.Scope)
	}
	if resp.Data.View.Risk == nil || resp.Data.View.Risk.Overall != 61.5 {
		t.Errorf("risk = %+v, want overall 61.5", resp.Data.View.Risk)
	}
}

func TestGetHistory(t *testing.T) {
	srv, _, _, historyStore := testServer(t)
	params := models.ScenarioParameters{Zone: "B", TrafficDensityChange: 20}
	result := models.ScenarioResult{OverallConfidence: 0.8}
	if _, err := historyStore.Append(models.NewHistoryEntry("ahmedabad", params, result)); err != nil {
		t.Fatalf("seed history: %v", err)
	}
	if _, err := historyStore.Append(models.NewHistoryEntry("pune", params, result)); err != nil {
		t.Fatalf("seed history: %v", err)
	}

	req := httptest.NewRequest("GET", "/api/v1/history", nil)
	rec := httptest.NewRecorder()

	handler(srv).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}

	var resp struct {
		Data HistoryPage `json:"data"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Data.Count != 2 {
		t.Errorf("count = %d, want 2", resp.Data.Count)
	}
	if len(resp.Data.Entries) != 2 {
		t.Fatalf("entries count = %d, want 2", len(resp.Data.Entries))
	}
	if resp.Data.Entries[0].Scope != "pune" {
		t.Errorf("newest scope = %q, want 'pune'", resp.Data.Entries[0].Scope)
	}
	if resp.Data.Capacity != 5 {
		t.Errorf("capacity = %d, want 5", resp.Data.Capacity)
	}
}

func TestClearHistory(t *testing.T) {
	srv, _, _, historyStore := testServer(t)
	entry := models.NewHistoryEntry("ahmedabad", models.ScenarioParameters{Zone: "A"}, models.ScenarioResult{})
	if _, err := historyStore.Append(entry); err != nil {
		t.Fatalf("seed history: %v", err)
	}

	req := httptest.NewRequest("DELETE", "/api/v1/history", nil)
	rec := httptest.NewRecorder()

	handler(srv).ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusNoContent)
	}
	if historyStore.Len() != 0 {
		t.Errorf("history len = %d, want 0", historyStore.Len())
	}
}

func TestSimulate_Success(t *testing.T) {
	srv, ctrl, _, _ := testServer(t)
	ctrl.simResult = models.ScenarioResult{
		Impacts:           []models.Impact{{Metric: "aqi", Direction: "down", Magnitude: 12}},
		OverallConfidence: 0.8,
	}

	body := `{"zone": "B", "trafficDensityChange": -30}`
	req := httptest.NewRequest("POST", "/api/v1/simulate", strings.NewReader(body))
	rec := httptest.NewRecorder()

	handler(srv).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d; body: %s", rec.Code, http.StatusOK, rec.Body.String())
	}

	var resp struct {
		Data models.ScenarioResult `json:"data"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Data.OverallConfidence != 0.8 {
		t.Errorf("confidence = %v, want 0.8", resp.Data.OverallConfidence)
	}
	if len(ctrl.simParams) != 1 {
		t.Fatalf("simulate calls = %d, want 1", len(ctrl.simParams))
	}
	if ctrl.simParams[0].Zone != "B" || ctrl.simParams[0].TrafficDensityChange != -30 {
		t.Errorf("params = %+v, want zone B with -30 density change", ctrl.simParams[0])
	}
}

func TestSimulate_NoActiveScope(t *testing.T) {
	srv, ctrl, _, _ := testServer(t)
	ctrl.simErr = session.ErrNoScope

	body := `{"zone": "B"}`
	req := httptest.NewRequest("POST", "/api/v1/simulate", strings.NewReader(body))
	rec := httptest.NewRecorder()

	handler(srv).ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusNotFound)
	}
}

func TestSimulate_InvalidJSON(t *testing.T) {
	srv, _, _, _ := testServer(t)

	req := httptest.NewRequest("POST", "/api/v1/simulate", strings.NewReader("{"))
	rec := httptest.NewRecorder()

	handler(srv).ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	srv, _, _, _ := testServer(t)

	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()

	handler(srv).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if !strings.Contains(rec.Body.String(), "citypulse_") {
		t.Error("metrics output missing citypulse namespace")
	}
}

func TestNewRequiresDependencies(t *testing.T) {
	viewStore := view.NewStore()
	historyStore := history.NewStore(cache.NewMemoryStore(), 5)

	if _, err := New(nil, &fakeController{}, viewStore, historyStore); err == nil {
		t.Error("expected error for nil config")
	}
	if _, err := New(&Config{}, nil, viewStore, historyStore); err == nil {
		t.Error("expected error for nil controller")
	}
	if _, err := New(&Config{}, &fakeController{}, nil, historyStore); err == nil {
		t.Error("expected error for nil view store")
	}
	if _, err := New(&Config{}, &fakeController{}, viewStore, nil); err == nil {
		t.Error("expected error for nil history store")
	}
}
