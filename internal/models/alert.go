// Package models contains the shared data types for the CityPulse client:
// the per-city view model, its mergeable sub-objects, and the scenario
// history entries persisted across sessions.
package models

import "time"

// Severity is the platform's alert severity vocabulary. The sync core treats
// it as opaque; constants exist for consumers that want to filter.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// AlertEntry is a single active alert for a city. Identity is ID: the same
// ID may legitimately reappear across successive pushes (idempotent
// delivery), and content may change under a stable ID.
type AlertEntry struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Message   string    `json:"message,omitempty"`
	Severity  Severity  `json:"severity"`
	CreatedAt time.Time `json:"created_at"`
}

// AlertSummary is the alert sub-object of a view model: the full set of
// currently active alerts for the scope, plus platform-side counters.
type AlertSummary struct {
	City         string       `json:"city,omitempty"`
	TotalAlerts  int          `json:"total_alerts,omitempty"`
	ActiveAlerts int          `json:"active_alerts,omitempty"`
	Alerts       []AlertEntry `json:"alerts"`
}

// SeenAlertSet tracks which alert IDs have already been surfaced as a
// notification for the current scope. It is replaced wholesale with the
// current snapshot's ID set on every successful alerts update, so an alert
// that vanishes and later returns under the same ID is treated as novel
// again. Created empty on scope activation, discarded on deactivation.
type SeenAlertSet map[string]struct{}

// NewSeenAlertSet returns an empty seen-set for a freshly activated scope.
func NewSeenAlertSet() SeenAlertSet {
	return make(SeenAlertSet)
}

// Has reports whether the given alert ID has already been surfaced.
func (s SeenAlertSet) Has(id string) bool {
	_, ok := s[id]
	return ok
}

// IDs returns the set contents in unspecified order, for logging and tests.
func (s SeenAlertSet) IDs() []string {
	out := make([]string, 0, len(s))
	for id := range s {
		out = append(out, id)
	}
	return out
}
