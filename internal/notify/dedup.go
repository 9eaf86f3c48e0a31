package notify

import (
	"github.com/urbanpulse/citypulse/internal/models"
)

// ComputeNovel splits the current alert snapshot into entries not present in
// the previous snapshot. Identity is the alert ID; content changes to an
// already-seen alert do not make it novel again.
//
// The returned set is the full ID set of currentAlerts, replacing the old one
// wholesale. An alert that disappears from a snapshot and returns in a later
// one is therefore reported as novel again. An empty previousSeen makes every
// current entry novel; the caller decides whether that first batch should be
// surfaced or only primes the set.
func ComputeNovel(previousSeen models.SeenAlertSet, currentAlerts []models.AlertEntry) ([]models.AlertEntry, models.SeenAlertSet) {
	nextSeen := models.NewSeenAlertSet()

	var novel []models.AlertEntry
	for _, a := range currentAlerts {
		if _, dup := nextSeen[a.ID]; dup {
			// Duplicate IDs inside one snapshot count once.
			continue
		}
		nextSeen[a.ID] = struct{}{}
		if !previousSeen.Has(a.ID) {
			novel = append(novel, a)
		}
	}
	return novel, nextSeen
}
