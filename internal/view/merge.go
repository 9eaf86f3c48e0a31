// Package view holds the canonical per-scope view model: the pure merge
// function that folds partial updates into it, and the store that UI-facing
// consumers read it from.
package view

import "github.com/urbanpulse/citypulse/internal/models"

// Merge folds a partial update into the current view model and returns the
// result. Pure: neither argument is mutated, and no field of current is
// dropped unless incoming explicitly carries a replacement for it. Explicit
// empty collections count as replacements.
//
// Push messages and poller results both go through Merge, so the two
// sources share one mutation path and last-applied wins per field.
func Merge(current models.ViewModel, incoming models.PartialUpdate) models.ViewModel {
	out := current

	if incoming.Alerts != nil {
		out.Alerts = incoming.Alerts
	}
	if incoming.Risk != nil {
		out.Risk = incoming.Risk
	}
	if incoming.Anomalies != nil {
		out.Anomalies = incoming.Anomalies
	}
	if incoming.EnvironmentSeries != nil {
		out.EnvironmentSeries = *incoming.EnvironmentSeries
	}
	if incoming.TrafficSeries != nil {
		out.TrafficSeries = *incoming.TrafficSeries
	}
	if incoming.RiskHistorySeries != nil {
		out.RiskHistorySeries = *incoming.RiskHistorySeries
	}

	return out
}
