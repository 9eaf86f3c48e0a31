package stream

import (
	"fmt"

	"github.com/goccy/go-json"

	"github.com/urbanpulse/citypulse/internal/models"
)

// MsgTypeUpdate is the only envelope type this client acts on. The platform
// may add types at any time; anything else is counted and skipped.
const MsgTypeUpdate = "update"

// Envelope is one frame on the push channel. Sub-objects are optional: a
// frame carries whichever portions of the city state changed.
type Envelope struct {
	Type      string                 `json:"type"`
	City      string                 `json:"city,omitempty"`
	Alerts    *models.AlertSummary   `json:"alerts,omitempty"`
	Risk      *models.RiskAssessment `json:"risk,omitempty"`
	Anomalies *models.AnomalySummary `json:"anomalies,omitempty"`
	Timestamp string                 `json:"timestamp,omitempty"`
}

// DecodeEnvelope parses a raw frame. A missing type field is malformed: the
// discriminant is the contract.
func DecodeEnvelope(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, fmt.Errorf("decode frame: %w", err)
	}
	if env.Type == "" {
		return Envelope{}, fmt.Errorf("frame missing type field")
	}
	return env, nil
}

// PartialUpdate converts the envelope's sub-objects into the merger's input.
// Sub-objects absent from the frame stay nil and are retained by the merge.
func (e Envelope) PartialUpdate() models.PartialUpdate {
	return models.PartialUpdate{
		Alerts:    e.Alerts,
		Risk:      e.Risk,
		Anomalies: e.Anomalies,
	}
}
