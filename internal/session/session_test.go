package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/urbanpulse/citypulse/internal/cache"
	"github.com/urbanpulse/citypulse/internal/history"
	"github.com/urbanpulse/citypulse/internal/models"
	"github.com/urbanpulse/citypulse/internal/notify"
	"github.com/urbanpulse/citypulse/internal/poll"
	"github.com/urbanpulse/citypulse/internal/stream"
	"github.com/urbanpulse/citypulse/internal/view"
)

type openCall struct {
	scope      string
	generation uint64
}

// fakeChannel stands in for the stream manager. Tests inject pushes through
// the updates channel with whatever generation stamp they want.
type fakeChannel struct {
	mu      sync.Mutex
	opens   []openCall
	closed  bool
	openErr error
	updates chan stream.ScopedUpdate
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{updates: make(chan stream.ScopedUpdate)}
}

func (f *fakeChannel) Open(ctx context.Context, scope string, generation uint64) (*stream.Conn, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.opens = append(f.opens, openCall{scope: scope, generation: generation})
	return nil, f.openErr
}

func (f *fakeChannel) Updates() <-chan stream.ScopedUpdate { return f.updates }
func (f *fakeChannel) Run(ctx context.Context)             { <-ctx.Done() }
func (f *fakeChannel) State() stream.ConnState             { return stream.StateOpen }
func (f *fakeChannel) Stats() stream.ConnStats             { return stream.ConnStats{} }
func (f *fakeChannel) Reconnects() uint64                  { return 0 }

func (f *fakeChannel) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeChannel) openCalls() []openCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]openCall(nil), f.opens...)
}

func (f *fakeChannel) wasClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// fakePlatform serves canned sub-objects. snapErr fails the three sub-object
// getters so a test controls priming entirely through pushes.
type fakePlatform struct {
	mu        sync.Mutex
	alerts    *models.AlertSummary
	risk      *models.RiskAssessment
	anomalies *models.AnomalySummary
	snapErr   error

	envPoints []models.EnvironmentPoint

	simResult models.ScenarioResult
	simErr    error
	simScopes []string
}

func (f *fakePlatform) EnvironmentHistory(ctx context.Context, scope string, hours int) ([]models.EnvironmentPoint, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.envPoints, nil
}

func (f *fakePlatform) TrafficByZone(ctx context.Context, scope string, windowMinutes int) ([]models.TrafficPoint, error) {
	return nil, nil
}

func (f *fakePlatform) RiskHistory(ctx context.Context, scope string, limit int) ([]models.RiskPoint, error) {
	return nil, nil
}

func (f *fakePlatform) ActiveAlerts(ctx context.Context, scope string) (*models.AlertSummary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.snapErr != nil {
		return nil, f.snapErr
	}
	return f.alerts, nil
}

func (f *fakePlatform) Risk(ctx context.Context, scope string) (*models.RiskAssessment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.snapErr != nil {
		return nil, f.snapErr
	}
	return f.risk, nil
}

func (f *fakePlatform) Anomalies(ctx context.Context, scope string) (*models.AnomalySummary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.snapErr != nil {
		return nil, f.snapErr
	}
	return f.anomalies, nil
}

func (f *fakePlatform) Simulate(ctx context.Context, scope string, params models.ScenarioParameters) (models.ScenarioResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.simScopes = append(f.simScopes, scope)
	if f.simErr != nil {
		return models.ScenarioResult{}, f.simErr
	}
	return f.simResult, nil
}

// recordingNotifier captures dispatched notifications.
type recordingNotifier struct {
	mu   sync.Mutex
	sent []notify.Notification
}

func (r *recordingNotifier) Name() string { return "recorder" }
func (r *recordingNotifier) Close() error { return nil }

func (r *recordingNotifier) Send(ctx context.Context, n notify.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, n)
	return nil
}

func (r *recordingNotifier) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sent)
}

func (r *recordingNotifier) notifications() []notify.Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]notify.Notification(nil), r.sent...)
}

func testDeps(fc *fakeChannel, fp *fakePlatform, rec *recordingNotifier) Deps {
	d := notify.NewDispatcher()
	if rec != nil {
		d.Register(rec)
	}
	return Deps{
		Channel:    fc,
		Client:     fp,
		Dispatcher: d,
		View:       view.NewStore(),
		History:    history.NewStore(cache.NewMemoryStore(), 10),
	}
}

func testConfig(scope string) Config {
	return Config{
		InitialScope: scope,
		PollInterval: time.Hour,
		PollTimeout:  2 * time.Second,
	}
}

func startSession(t *testing.T, config Config, deps Deps) *Session {
	t.Helper()

	s, err := New(config, deps)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	runDone := make(chan struct{})
	go func() {
		defer close(runDone)
		s.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		select {
		case <-runDone:
		case <-time.After(2 * time.Second):
			t.Errorf("session did not shut down")
		}
	})
	return s
}

func waitFor(t *testing.T, timeout time.Duration, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func alertSummary(ids ...string) *models.AlertSummary {
	entries := make([]models.AlertEntry, 0, len(ids))
	for _, id := range ids {
		entries = append(entries, models.AlertEntry{
			ID:       id,
			Title:    "Alert " + id,
			Severity: models.SeverityWarning,
		})
	}
	return &models.AlertSummary{ActiveAlerts: len(entries), Alerts: entries}
}

func TestSessionAppliesPushUpdates(t *testing.T) {
	fc := newFakeChannel()
	fp := &fakePlatform{snapErr: errors.New("platform down")}
	deps := testDeps(fc, fp, nil)

	s := startSession(t, testConfig("ahmedabad"), deps)

	waitFor(t, 2*time.Second, "channel open", func() bool {
		return len(fc.openCalls()) == 1
	})
	opens := fc.openCalls()
	if opens[0].scope != "ahmedabad" || opens[0].generation != 1 {
		t.Errorf("open call = %+v, want {ahmedabad 1}", opens[0])
	}

	fc.updates <- stream.ScopedUpdate{
		Scope:      "ahmedabad",
		Generation: 1,
		Update:     models.PartialUpdate{Risk: &models.RiskAssessment{Overall: 61.5, Level: models.LevelHigh}},
	}

	waitFor(t, 2*time.Second, "risk in view", func() bool {
		vm, ok := deps.View.Get("ahmedabad")
		return ok && vm.Risk != nil
	})

	vm, _ := deps.View.Get("ahmedabad")
	if vm.Risk.Overall != 61.5 {
		t.Errorf("Risk.Overall = %v, want 61.5", vm.Risk.Overall)
	}
	if got := s.Scope(); got != "ahmedabad" {
		t.Errorf("Scope() = %q, want %q", got, "ahmedabad")
	}
	if got := s.Generation(); got != 1 {
		t.Errorf("Generation() = %d, want 1", got)
	}
	if stats := s.Stats(); stats.Applied == 0 {
		t.Errorf("Stats().Applied = 0, want > 0")
	}
}

func TestSessionScopeSwitchInvalidatesOldGeneration(t *testing.T) {
	fc := newFakeChannel()
	fp := &fakePlatform{snapErr: errors.New("platform down")}
	deps := testDeps(fc, fp, nil)

	s := startSession(t, testConfig("ahmedabad"), deps)
	waitFor(t, 2*time.Second, "initial open", func() bool {
		return len(fc.openCalls()) == 1
	})

	if err := s.SetScope(context.Background(), "pune"); err != nil {
		t.Fatalf("SetScope: %v", err)
	}

	opens := fc.openCalls()
	if len(opens) != 2 {
		t.Fatalf("open calls = %d, want 2", len(opens))
	}
	if opens[1].scope != "pune" || opens[1].generation != 2 {
		t.Errorf("second open = %+v, want {pune 2}", opens[1])
	}
	if got := s.Scope(); got != "pune" {
		t.Errorf("Scope() = %q, want %q", got, "pune")
	}
	if fc.wasClosed() {
		t.Errorf("channel closed on scope switch, close belongs to shutdown only")
	}
	if _, ok := deps.View.Get("ahmedabad"); ok {
		t.Errorf("old scope still readable from view store")
	}

	// A push from the previous activation must bounce off the generation
	// check without touching the new scope's view.
	fc.updates <- stream.ScopedUpdate{
		Scope:      "ahmedabad",
		Generation: 1,
		Update:     models.PartialUpdate{Risk: &models.RiskAssessment{Overall: 99}},
	}

	waitFor(t, 2*time.Second, "stale push dropped", func() bool {
		return s.Stats().StaleDropped >= 1
	})
	if vm, ok := deps.View.Get("pune"); !ok || vm.Risk != nil {
		t.Errorf("stale push leaked into new scope's view: ok=%v risk=%v", ok, vm.Risk)
	}
}

func TestSessionNotifiesOnlyNovelAlerts(t *testing.T) {
	fc := newFakeChannel()
	fp := &fakePlatform{snapErr: errors.New("platform down")}
	rec := &recordingNotifier{}
	deps := testDeps(fc, fp, rec)

	s := startSession(t, testConfig("ahmedabad"), deps)
	waitFor(t, 2*time.Second, "channel open", func() bool {
		return len(fc.openCalls()) == 1
	})

	// First alerts computation primes the seen-set: nothing surfaces even
	// though both alerts are unseen.
	fc.updates <- stream.ScopedUpdate{
		Scope:      "ahmedabad",
		Generation: 1,
		Update:     models.PartialUpdate{Alerts: alertSummary("flood-1", "aqi-2")},
	}
	waitFor(t, 2*time.Second, "first alerts applied", func() bool {
		vm, ok := deps.View.Get("ahmedabad")
		return ok && vm.Alerts != nil && len(vm.Alerts.Alerts) == 2
	})
	if got := rec.count(); got != 0 {
		t.Fatalf("notifications after priming push = %d, want 0", got)
	}

	// Second push repeats both and adds one: only the addition surfaces.
	fc.updates <- stream.ScopedUpdate{
		Scope:      "ahmedabad",
		Generation: 1,
		Update:     models.PartialUpdate{Alerts: alertSummary("flood-1", "aqi-2", "traffic-3")},
	}
	waitFor(t, 2*time.Second, "novel alert notification", func() bool {
		return rec.count() == 1
	})

	sent := rec.notifications()
	if sent[0].AlertID != "traffic-3" {
		t.Errorf("notified AlertID = %q, want %q", sent[0].AlertID, "traffic-3")
	}
	if sent[0].Scope != "ahmedabad" {
		t.Errorf("notified Scope = %q, want %q", sent[0].Scope, "ahmedabad")
	}
	if stats := s.Stats(); stats.Notified != 1 || stats.Suppressed != 0 {
		t.Errorf("stats notified=%d suppressed=%d, want 1 and 0", stats.Notified, stats.Suppressed)
	}
}

func TestSessionInitialSnapshotPrimesSilently(t *testing.T) {
	fc := newFakeChannel()
	fp := &fakePlatform{
		alerts:    alertSummary("x-1", "y-2"),
		risk:      &models.RiskAssessment{Overall: 40, Level: models.LevelMedium},
		anomalies: &models.AnomalySummary{TotalCount: 1},
	}
	rec := &recordingNotifier{}
	deps := testDeps(fc, fp, rec)

	startSession(t, testConfig("ahmedabad"), deps)

	waitFor(t, 2*time.Second, "snapshot in view", func() bool {
		vm, ok := deps.View.Get("ahmedabad")
		return ok && vm.Alerts != nil && vm.Risk != nil && vm.Anomalies != nil
	})

	time.Sleep(50 * time.Millisecond)
	if got := rec.count(); got != 0 {
		t.Fatalf("notifications from initial snapshot = %d, want 0", got)
	}

	// The snapshot primed the seen-set, so a push repeating it plus one new
	// alert surfaces exactly the new one.
	fc.updates <- stream.ScopedUpdate{
		Scope:      "ahmedabad",
		Generation: 1,
		Update:     models.PartialUpdate{Alerts: alertSummary("x-1", "y-2", "z-3")},
	}
	waitFor(t, 2*time.Second, "novel alert after snapshot", func() bool {
		return rec.count() == 1
	})
	if sent := rec.notifications(); sent[0].AlertID != "z-3" {
		t.Errorf("notified AlertID = %q, want %q", sent[0].AlertID, "z-3")
	}
}

func TestSessionCapsNotificationsPerCycle(t *testing.T) {
	fc := newFakeChannel()
	fp := &fakePlatform{snapErr: errors.New("platform down")}
	rec := &recordingNotifier{}
	deps := testDeps(fc, fp, rec)

	s := startSession(t, testConfig("ahmedabad"), deps)
	waitFor(t, 2*time.Second, "channel open", func() bool {
		return len(fc.openCalls()) == 1
	})

	// Prime with an empty active set.
	fc.updates <- stream.ScopedUpdate{
		Scope:      "ahmedabad",
		Generation: 1,
		Update:     models.PartialUpdate{Alerts: alertSummary()},
	}
	waitFor(t, 2*time.Second, "priming applied", func() bool {
		vm, ok := deps.View.Get("ahmedabad")
		return ok && vm.Alerts != nil
	})

	// Five novel alerts in one cycle: the default cap surfaces three.
	fc.updates <- stream.ScopedUpdate{
		Scope:      "ahmedabad",
		Generation: 1,
		Update:     models.PartialUpdate{Alerts: alertSummary("n-1", "n-2", "n-3", "n-4", "n-5")},
	}
	waitFor(t, 2*time.Second, "capped notifications", func() bool {
		return rec.count() == 3
	})

	if stats := s.Stats(); stats.Notified != 3 || stats.Suppressed != 2 {
		t.Errorf("stats notified=%d suppressed=%d, want 3 and 2", stats.Notified, stats.Suppressed)
	}
	sent := rec.notifications()
	for i, want := range []string{"n-1", "n-2", "n-3"} {
		if sent[i].AlertID != want {
			t.Errorf("notification[%d].AlertID = %q, want %q", i, sent[i].AlertID, want)
		}
	}
}

func TestSessionSeenSetFollowsCurrentSnapshot(t *testing.T) {
	fc := newFakeChannel()
	fp := &fakePlatform{snapErr: errors.New("platform down")}
	rec := &recordingNotifier{}
	deps := testDeps(fc, fp, rec)

	startSession(t, testConfig("ahmedabad"), deps)
	waitFor(t, 2*time.Second, "channel open", func() bool {
		return len(fc.openCalls()) == 1
	})

	push := func(ids ...string) {
		fc.updates <- stream.ScopedUpdate{
			Scope:      "ahmedabad",
			Generation: 1,
			Update:     models.PartialUpdate{Alerts: alertSummary(ids...)},
		}
	}

	push("flood-1") // primes
	push("flood-1", "heat-2")
	waitFor(t, 2*time.Second, "heat-2 notification", func() bool {
		return rec.count() == 1
	})

	// flood-1 resolves: it leaves the seen-set with it.
	push("heat-2")
	// Its return under the same ID is a fresh event and notifies again.
	push("flood-1", "heat-2")
	waitFor(t, 2*time.Second, "flood-1 re-announce", func() bool {
		return rec.count() == 2
	})

	sent := rec.notifications()
	if sent[0].AlertID != "heat-2" || sent[1].AlertID != "flood-1" {
		t.Errorf("notified IDs = [%q %q], want [heat-2 flood-1]", sent[0].AlertID, sent[1].AlertID)
	}
}

func TestSessionSimulateRecordsHistory(t *testing.T) {
	fc := newFakeChannel()
	fp := &fakePlatform{
		snapErr: errors.New("platform down"),
		simResult: models.ScenarioResult{
			Impacts:           []models.Impact{{Metric: "aqi", Direction: "increase", Magnitude: 12}},
			OverallConfidence: 0.8,
		},
	}
	deps := testDeps(fc, fp, nil)

	s := startSession(t, testConfig("ahmedabad"), deps)
	waitFor(t, 2*time.Second, "channel open", func() bool {
		return len(fc.openCalls()) == 1
	})

	params := models.ScenarioParameters{Zone: "B", TrafficDensityChange: 25}
	result, err := s.Simulate(context.Background(), params)
	if err != nil {
		t.Fatalf("Simulate: %v", err)
	}
	if result.OverallConfidence != 0.8 {
		t.Errorf("OverallConfidence = %v, want 0.8", result.OverallConfidence)
	}

	fp.mu.Lock()
	simScopes := append([]string(nil), fp.simScopes...)
	fp.mu.Unlock()
	if len(simScopes) != 1 || simScopes[0] != "ahmedabad" {
		t.Errorf("simulate scopes = %v, want [ahmedabad]", simScopes)
	}

	entries, err := deps.History.Load()
	if err != nil {
		t.Fatalf("history Load: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("history entries = %d, want 1", len(entries))
	}
	if entries[0].Scope != "ahmedabad" {
		t.Errorf("entry scope = %q, want %q", entries[0].Scope, "ahmedabad")
	}
	if entries[0].Parameters.Zone != "B" {
		t.Errorf("entry zone = %q, want %q", entries[0].Parameters.Zone, "B")
	}
}

func TestSessionSimulateRequiresScope(t *testing.T) {
	fc := newFakeChannel()
	fp := &fakePlatform{}
	s, err := New(testConfig(""), testDeps(fc, fp, nil))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	_, err = s.Simulate(context.Background(), models.ScenarioParameters{Zone: "A"})
	if !errors.Is(err, ErrNoScope) {
		t.Errorf("Simulate error = %v, want ErrNoScope", err)
	}
}

func TestSessionSetScopeReportsOpenFailure(t *testing.T) {
	fc := newFakeChannel()
	fc.openErr = errors.New("dial tcp: connection refused")
	fp := &fakePlatform{snapErr: errors.New("platform down")}
	deps := testDeps(fc, fp, nil)

	s := startSession(t, testConfig(""), deps)

	err := s.SetScope(context.Background(), "pune")
	if err == nil {
		t.Fatal("SetScope returned nil error, want open failure")
	}
	if !strings.Contains(err.Error(), "open channel") {
		t.Errorf("error = %v, want open channel failure", err)
	}

	// The scope still activated in degraded mode: the view switched and the
	// poller is refreshing series.
	if got := s.Scope(); got != "pune" {
		t.Errorf("Scope() = %q, want %q", got, "pune")
	}
	if got := s.Generation(); got != 1 {
		t.Errorf("Generation() = %d, want 1", got)
	}
	waitFor(t, 2*time.Second, "poll tick in degraded mode", func() bool {
		return s.Stats().Poll.Ticks >= 1
	})
}

func TestSessionShutdownClosesEverything(t *testing.T) {
	fc := newFakeChannel()
	fp := &fakePlatform{snapErr: errors.New("platform down")}
	deps := testDeps(fc, fp, nil)

	s, err := New(testConfig("ahmedabad"), deps)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	runDone := make(chan struct{})
	go func() {
		defer close(runDone)
		s.Run(ctx)
	}()
	waitFor(t, 2*time.Second, "channel open", func() bool {
		return len(fc.openCalls()) == 1
	})

	cancel()
	select {
	case <-runDone:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after context cancel")
	}

	if !fc.wasClosed() {
		t.Errorf("channel not closed on shutdown")
	}
	if err := s.SetScope(context.Background(), "pune"); !errors.Is(err, ErrSessionClosed) {
		t.Errorf("SetScope after shutdown = %v, want ErrSessionClosed", err)
	}
}

func TestSessionPollResultsFillSeries(t *testing.T) {
	fc := newFakeChannel()
	fp := &fakePlatform{
		snapErr: errors.New("platform down"),
		envPoints: []models.EnvironmentPoint{
			{AQI: 155, Temperature: 34},
		},
	}
	deps := testDeps(fc, fp, nil)

	startSession(t, testConfig("ahmedabad"), deps)

	waitFor(t, 2*time.Second, "environment series in view", func() bool {
		vm, ok := deps.View.Get("ahmedabad")
		return ok && len(vm.EnvironmentSeries) == 1
	})
	vm, _ := deps.View.Get("ahmedabad")
	if vm.EnvironmentSeries[0].AQI != 155 {
		t.Errorf("AQI = %v, want 155", vm.EnvironmentSeries[0].AQI)
	}
}

var _ poll.SeriesClient = (*fakePlatform)(nil)
var _ Channel = (*fakeChannel)(nil)
var _ PlatformClient = (*fakePlatform)(nil)

func TestSessionSetPollIntervalRestartsPoller(t *testing.T) {
	fc := newFakeChannel()
	fp := &fakePlatform{snapErr: errors.New("platform down")}
	s := startSession(t, testConfig("ahmedabad"), testDeps(fc, fp, nil))

	waitFor(t, 2*time.Second, "first poll tick", func() bool {
		return s.Stats().Poll.Ticks >= 1
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.SetPollInterval(ctx, 20*time.Millisecond); err != nil {
		t.Fatalf("SetPollInterval: %v", err)
	}

	waitFor(t, 2*time.Second, "ticks at the new cadence", func() bool {
		return s.Stats().Poll.Ticks >= 3
	})

	if gen := s.Generation(); gen != 1 {
		t.Errorf("generation = %d, want 1 (retune is not an activation)", gen)
	}
	if scope := s.Scope(); scope != "ahmedabad" {
		t.Errorf("scope = %q, want 'ahmedabad'", scope)
	}

	if err := s.SetPollInterval(ctx, 0); err == nil {
		t.Error("expected error for non-positive interval")
	}
}

func TestSessionSetPollIntervalWithoutScope(t *testing.T) {
	fc := newFakeChannel()
	fp := &fakePlatform{snapErr: errors.New("platform down")}
	s := startSession(t, Config{PollInterval: time.Hour, PollTimeout: 2 * time.Second}, testDeps(fc, fp, nil))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.SetPollInterval(ctx, 5*time.Minute); err != nil {
		t.Fatalf("SetPollInterval with no scope: %v", err)
	}
	if ticks := s.Stats().Poll.Ticks; ticks != 0 {
		t.Errorf("poll ticks = %d, want 0 with no scope", ticks)
	}
}
