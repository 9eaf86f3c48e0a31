package models

import "time"

// ViewModel is the consumer-facing mirror of a single city's live state.
// The three sub-objects arrive through pushes and on-demand fetches; the
// three series are refreshed independently by the fallback poller. A nil
// sub-object means "not received yet for this scope".
//
// A view model is created fresh when a scope is activated, mutated only via
// merges from then on, and discarded wholesale when the scope changes.
type ViewModel struct {
	Alerts    *AlertSummary   `json:"alerts"`
	Risk      *RiskAssessment `json:"risk"`
	Anomalies *AnomalySummary `json:"anomalies"`

	EnvironmentSeries []EnvironmentPoint `json:"environment_series,omitempty"`
	TrafficSeries     []TrafficPoint     `json:"traffic_series,omitempty"`
	RiskHistorySeries []RiskPoint        `json:"risk_history_series,omitempty"`

	UpdatedAt time.Time `json:"updated_at,omitempty"`
}

// PartialUpdate is a subset of view-model fields carried by one push message
// or one poll result. nil means the field is absent and the current value is
// retained; a non-nil pointer replaces the field, including pointers to
// explicitly empty collections.
//
// Sub-objects are handed over to the view store on merge and must not be
// mutated by the producer afterwards.
type PartialUpdate struct {
	Alerts    *AlertSummary   `json:"alerts,omitempty"`
	Risk      *RiskAssessment `json:"risk,omitempty"`
	Anomalies *AnomalySummary `json:"anomalies,omitempty"`

	EnvironmentSeries *[]EnvironmentPoint `json:"environment_series,omitempty"`
	TrafficSeries     *[]TrafficPoint     `json:"traffic_series,omitempty"`
	RiskHistorySeries *[]RiskPoint        `json:"risk_history_series,omitempty"`
}

// IsEmpty reports whether the update carries no fields at all.
func (p PartialUpdate) IsEmpty() bool {
	return p.Alerts == nil && p.Risk == nil && p.Anomalies == nil &&
		p.EnvironmentSeries == nil && p.TrafficSeries == nil && p.RiskHistorySeries == nil
}
