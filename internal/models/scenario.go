package models

import (
	"time"

	"github.com/google/uuid"
)

// ScenarioParameters are the inputs of a what-if simulation run against the
// platform's scenario engine.
type ScenarioParameters struct {
	Zone                    string  `json:"zone"`
	TimeWindow              string  `json:"timeWindow,omitempty"`
	TrafficDensityChange    float64 `json:"trafficDensityChange"`
	HeavyVehicleRestriction bool    `json:"heavyVehicleRestriction,omitempty"`
	TemperatureChange       float64 `json:"temperatureChange,omitempty"`
	AQIChange               float64 `json:"aqiChange,omitempty"`
	ServiceDegradation      float64 `json:"serviceDegradation,omitempty"`
}

// Impact is one predicted metric movement in a scenario result.
type Impact struct {
	Metric      string  `json:"metric"`
	Direction   string  `json:"direction"`
	Magnitude   float64 `json:"magnitude"`
	Confidence  float64 `json:"confidence"`
	Explanation string  `json:"explanation,omitempty"`
}

// ScenarioResult is the engine's response to a simulation run.
type ScenarioResult struct {
	Impacts           []Impact `json:"impacts"`
	OverallConfidence float64  `json:"overallConfidence"`
	Explanation       string   `json:"explanation,omitempty"`
	Timestamp         string   `json:"timestamp,omitempty"`
}

// HistoryEntry records one user-triggered simulation run. Entries are
// append-only: they are never mutated after creation, and removed only by
// clearing the whole history.
type HistoryEntry struct {
	ID             string             `json:"id"`
	Timestamp      time.Time          `json:"timestamp"`
	Scope          string             `json:"scope"`
	Parameters     ScenarioParameters `json:"parameters"`
	ResultSnapshot ScenarioResult     `json:"result_snapshot"`
}

// NewHistoryEntry stamps a history entry for a completed simulation run.
func NewHistoryEntry(scope string, params ScenarioParameters, result ScenarioResult) HistoryEntry {
	return HistoryEntry{
		ID:             uuid.New().String(),
		Timestamp:      time.Now().UTC(),
		Scope:          scope,
		Parameters:     params,
		ResultSnapshot: result,
	}
}
