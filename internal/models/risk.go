package models

import "time"

// Level is the platform's three-step scale used for risk levels and anomaly
// severities.
type Level string

const (
	LevelLow    Level = "low"
	LevelMedium Level = "medium"
	LevelHigh   Level = "high"
)

// RiskAssessment is the risk sub-object of a view model: the platform's
// current composite risk score for the scope.
type RiskAssessment struct {
	Overall      float64            `json:"overall"`
	Level        Level              `json:"level"`
	Components   map[string]float64 `json:"components,omitempty"`
	Explanation  string             `json:"explanation,omitempty"`
	CalculatedAt time.Time          `json:"calculated_at,omitempty"`
}

// Anomaly is a single detected deviation in one metric.
type Anomaly struct {
	ID          string    `json:"id,omitempty"`
	Metric      string    `json:"metric"`
	Severity    Level     `json:"severity"`
	Expected    float64   `json:"expected_value"`
	Actual      float64   `json:"actual_value"`
	Deviation   float64   `json:"deviation"`
	Explanation string    `json:"explanation,omitempty"`
	DetectedAt  time.Time `json:"detected_at,omitempty"`
}

// AnomalySummary is the anomaly sub-object of a view model, grouped the way
// the platform reports them.
type AnomalySummary struct {
	TotalCount  int       `json:"total_count"`
	Environment []Anomaly `json:"environment_anomalies,omitempty"`
	Traffic     []Anomaly `json:"traffic_anomalies,omitempty"`
	Service     []Anomaly `json:"service_anomalies,omitempty"`
}
