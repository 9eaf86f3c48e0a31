package feedsim

import (
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/google/uuid"

	"github.com/urbanpulse/citypulse/internal/models"
)

// zones is the platform's fixed partition of a city.
var zones = []string{"A", "B", "C"}

const (
	envSeriesCap  = 168 // a week of hourly points
	riskSeriesCap = 500

	alertEveryTicks    = 6  // raise a new alert this often
	alertLifetimeTicks = 10 // resolve it after this many
)

// alertCatalogue provides titles for scripted alerts. Rotated, never random,
// so runs with the same seed produce the same alert sequence.
var alertCatalogue = []struct {
	title    string
	severity models.Severity
}{
	{"AQI above safe threshold", models.SeverityWarning},
	{"Traffic congestion building", models.SeverityInfo},
	{"Heavy vehicle volume spike", models.SeverityWarning},
	{"Air quality critical", models.SeverityCritical},
	{"Road incident reported", models.SeverityWarning},
}

// scriptedAlert is an active alert plus the tick it was born on, so the
// script can resolve it after a fixed lifetime.
type scriptedAlert struct {
	entry models.AlertEntry
	born  uint64
}

// world is one city's synthetic state. All access goes through the Server's
// mutex; world itself is not safe for concurrent use.
type world struct {
	city string
	rng  *rand.Rand
	tick uint64

	aqi         float64
	pm25        float64
	temperature float64

	env      []models.EnvironmentPoint
	density  map[string]float64
	heavy    map[string]int
	traffic  []models.TrafficPoint
	riskHist []models.RiskPoint
	risk     models.RiskAssessment
	alerts   []scriptedAlert
	raised   int // total alerts ever raised, indexes the catalogue
}

// newWorld seeds a plausible steady state and a day of backdated history.
func newWorld(city string, rng *rand.Rand) *world {
	w := &world{
		city:        city,
		rng:         rng,
		aqi:         80 + rng.Float64()*60,
		pm25:        30 + rng.Float64()*40,
		temperature: 24 + rng.Float64()*8,
		density:     make(map[string]float64, len(zones)),
		heavy:       make(map[string]int, len(zones)),
	}
	for _, zone := range zones {
		w.density[zone] = 35 + rng.Float64()*30
		w.heavy[zone] = rng.Intn(40)
	}

	now := time.Now().UTC()
	for i := 23; i >= 0; i-- {
		w.walkEnvironment()
		w.env = append(w.env, w.environmentPoint(now.Add(-time.Duration(i)*time.Hour)))
	}
	for i := 19; i >= 0; i-- {
		w.walkTraffic()
		w.recomputeRisk(now.Add(-time.Duration(i) * time.Minute))
		w.riskHist = append(w.riskHist, models.RiskPoint{
			Score:        w.risk.Overall,
			Level:        w.risk.Level,
			CalculatedAt: w.risk.CalculatedAt,
		})
	}
	w.refreshTraffic(now)
	return w
}

// step advances the world one tick and returns the push frame describing
// what changed. Risk moves every tick; alerts only when the script raises or
// resolves one, plus a periodic unchanged resend.
func (w *world) step(now time.Time) pushFrame {
	w.tick++

	w.walkEnvironment()
	w.env = append(w.env, w.environmentPoint(now))
	if len(w.env) > envSeriesCap {
		w.env = w.env[len(w.env)-envSeriesCap:]
	}

	w.walkTraffic()
	w.refreshTraffic(now)

	w.recomputeRisk(now)
	w.riskHist = append(w.riskHist, models.RiskPoint{
		Score:        w.risk.Overall,
		Level:        w.risk.Level,
		CalculatedAt: now,
	})
	if len(w.riskHist) > riskSeriesCap {
		w.riskHist = w.riskHist[len(w.riskHist)-riskSeriesCap:]
	}

	alertsChanged := w.runAlertScript(now)

	frame := pushFrame{
		Type:      msgTypeUpdate,
		City:      w.city,
		Risk:      w.riskCopy(),
		Timestamp: now.Format(time.RFC3339),
	}
	if anomalies := w.anomalySummary(); anomalies.TotalCount > 0 {
		frame.Anomalies = &anomalies
	}
	// Resending an unchanged alert set periodically is deliberate: consumers
	// must treat repeated IDs as already seen.
	if alertsChanged || w.tick%4 == 0 {
		summary := w.alertSummary()
		frame.Alerts = &summary
	}
	return frame
}

func (w *world) walkEnvironment() {
	w.aqi = clamp(w.aqi+w.rng.NormFloat64()*4, 10, 400)
	w.pm25 = clamp(w.pm25+w.rng.NormFloat64()*2, 2, 250)
	w.temperature = clamp(w.temperature+w.rng.NormFloat64()*0.4, 5, 48)
}

func (w *world) walkTraffic() {
	for _, zone := range zones {
		w.density[zone] = clamp(w.density[zone]+w.rng.NormFloat64()*5, 5, 100)
		w.heavy[zone] = maxInt(0, w.heavy[zone]+w.rng.Intn(7)-3)
	}
}

func (w *world) environmentPoint(at time.Time) models.EnvironmentPoint {
	point := models.EnvironmentPoint{
		Timestamp:   at,
		AQI:         round1(w.aqi),
		PM25:        round1(w.pm25),
		Temperature: round1(w.temperature),
	}
	if w.rng.Float64() < 0.1 {
		point.Rainfall = round1(w.rng.Float64() * 12)
	}
	return point
}

func (w *world) refreshTraffic(now time.Time) {
	points := make([]models.TrafficPoint, 0, len(zones))
	for _, zone := range zones {
		points = append(points, models.TrafficPoint{
			Timestamp:         now,
			Zone:              zone,
			DensityPercent:    round1(w.density[zone]),
			CongestionLevel:   congestionLevel(w.density[zone]),
			HeavyVehicleCount: w.heavy[zone],
		})
	}
	w.traffic = points
}

// recomputeRisk combines environment, traffic, and alert load into the
// composite score the way the endpoint presents it. The weights are
// arbitrary; only the shape matters here.
func (w *world) recomputeRisk(now time.Time) {
	envComponent := clamp(w.aqi/4, 0, 100)
	var densitySum float64
	for _, zone := range zones {
		densitySum += w.density[zone]
	}
	trafficComponent := densitySum / float64(len(zones))
	alertComponent := clamp(float64(len(w.alerts))*18, 0, 100)

	score := 0.4*envComponent + 0.4*trafficComponent + 0.2*alertComponent
	w.risk = models.RiskAssessment{
		Overall: round1(score),
		Level:   riskLevel(score),
		Components: map[string]float64{
			"environment": round1(envComponent),
			"traffic":     round1(trafficComponent),
			"alerts":      round1(alertComponent),
		},
		Explanation:  fmt.Sprintf("composite of environment, traffic, and %d active alerts", len(w.alerts)),
		CalculatedAt: now,
	}
}

// runAlertScript raises an alert on a fixed cadence and resolves each one
// after a fixed lifetime. Returns whether the active set changed.
func (w *world) runAlertScript(now time.Time) bool {
	changed := false

	if w.tick%alertEveryTicks == 0 {
		item := alertCatalogue[w.raised%len(alertCatalogue)]
		zone := zones[w.raised%len(zones)]
		w.alerts = append(w.alerts, scriptedAlert{
			entry: models.AlertEntry{
				ID:        uuid.New().String(),
				Title:     item.title,
				Message:   fmt.Sprintf("%s in zone %s of %s", item.title, zone, w.city),
				Severity:  item.severity,
				CreatedAt: now,
			},
			born: w.tick,
		})
		w.raised++
		changed = true
	}

	kept := w.alerts[:0]
	for _, a := range w.alerts {
		if w.tick-a.born >= alertLifetimeTicks {
			changed = true
			continue
		}
		kept = append(kept, a)
	}
	w.alerts = kept

	return changed
}

func (w *world) alertSummary() models.AlertSummary {
	entries := make([]models.AlertEntry, 0, len(w.alerts))
	for _, a := range w.alerts {
		entries = append(entries, a.entry)
	}
	return models.AlertSummary{
		City:         w.city,
		TotalAlerts:  w.raised,
		ActiveAlerts: len(entries),
		Alerts:       entries,
	}
}

// anomalySummary derives anomalies from the current walk positions: values
// far from their baseline band get flagged.
func (w *world) anomalySummary() models.AnomalySummary {
	var summary models.AnomalySummary
	now := time.Now().UTC()

	if w.aqi > 200 {
		summary.Environment = append(summary.Environment, models.Anomaly{
			ID:          fmt.Sprintf("%s-env-aqi", w.city),
			Metric:      "aqi",
			Severity:    models.LevelHigh,
			Expected:    120,
			Actual:      round1(w.aqi),
			Deviation:   round1(w.aqi - 120),
			Explanation: "AQI beyond seasonal band",
			DetectedAt:  now,
		})
	}
	for _, zone := range zones {
		if w.density[zone] > 85 {
			summary.Traffic = append(summary.Traffic, models.Anomaly{
				ID:          fmt.Sprintf("%s-traffic-%s", w.city, zone),
				Metric:      "density_percent",
				Severity:    models.LevelMedium,
				Expected:    60,
				Actual:      round1(w.density[zone]),
				Deviation:   round1(w.density[zone] - 60),
				Explanation: fmt.Sprintf("zone %s saturated", zone),
				DetectedAt:  now,
			})
		}
	}
	summary.TotalCount = len(summary.Environment) + len(summary.Traffic) + len(summary.Service)
	return summary
}

// environmentHistory returns the newest points covering the requested hours,
// oldest first, the way the platform serves them.
func (w *world) environmentHistory(hours int) []models.EnvironmentPoint {
	if hours <= 0 {
		hours = 24
	}
	n := len(w.env)
	if hours < n {
		n = hours
	}
	out := make([]models.EnvironmentPoint, n)
	copy(out, w.env[len(w.env)-n:])
	return out
}

func (w *world) trafficSnapshot() []models.TrafficPoint {
	out := make([]models.TrafficPoint, len(w.traffic))
	copy(out, w.traffic)
	return out
}

func (w *world) riskHistory(limit int) []models.RiskPoint {
	if limit <= 0 {
		limit = 20
	}
	n := len(w.riskHist)
	if limit < n {
		n = limit
	}
	out := make([]models.RiskPoint, n)
	copy(out, w.riskHist[len(w.riskHist)-n:])
	return out
}

func (w *world) riskCopy() *models.RiskAssessment {
	risk := w.risk
	components := make(map[string]float64, len(risk.Components))
	for k, v := range risk.Components {
		components[k] = v
	}
	risk.Components = components
	return &risk
}

// simulate produces a deterministic what-if result from the parameters. The
// numbers are toy physics: direction and rough proportionality are right,
// nothing else is.
func (w *world) simulate(params models.ScenarioParameters) models.ScenarioResult {
	var impacts []models.Impact

	if params.TrafficDensityChange != 0 {
		impacts = append(impacts,
			models.Impact{
				Metric:      "traffic_density",
				Direction:   direction(params.TrafficDensityChange),
				Magnitude:   round1(math.Abs(params.TrafficDensityChange) * 0.8),
				Confidence:  0.85,
				Explanation: "direct effect of the requested change",
			},
			models.Impact{
				Metric:     "aqi",
				Direction:  direction(params.TrafficDensityChange),
				Magnitude:  round1(math.Abs(params.TrafficDensityChange) * 0.3),
				Confidence: 0.7,
			},
		)
	}
	if params.HeavyVehicleRestriction {
		impacts = append(impacts, models.Impact{
			Metric:      "aqi",
			Direction:   "decrease",
			Magnitude:   8,
			Confidence:  0.75,
			Explanation: "heavy vehicles over-contribute to particulates",
		})
	}
	if params.TemperatureChange != 0 {
		impacts = append(impacts, models.Impact{
			Metric:     "energy_demand",
			Direction:  direction(params.TemperatureChange),
			Magnitude:  round1(math.Abs(params.TemperatureChange) * 3.5),
			Confidence: 0.65,
		})
	}
	if params.AQIChange != 0 {
		impacts = append(impacts, models.Impact{
			Metric:     "risk_score",
			Direction:  direction(params.AQIChange),
			Magnitude:  round1(math.Abs(params.AQIChange) * 0.25),
			Confidence: 0.8,
		})
	}
	if params.ServiceDegradation != 0 {
		impacts = append(impacts, models.Impact{
			Metric:     "service_availability",
			Direction:  "decrease",
			Magnitude:  round1(math.Abs(params.ServiceDegradation)),
			Confidence: 0.9,
		})
	}
	if len(impacts) == 0 {
		impacts = append(impacts, models.Impact{
			Metric:      "risk_score",
			Direction:   "unchanged",
			Magnitude:   0,
			Confidence:  0.95,
			Explanation: "no parameters moved",
		})
	}

	var confidenceSum float64
	for _, impact := range impacts {
		confidenceSum += impact.Confidence
	}

	return models.ScenarioResult{
		Impacts:           impacts,
		OverallConfidence: round2(confidenceSum / float64(len(impacts))),
		Explanation: fmt.Sprintf("projected effects for zone %s of %s over %s",
			params.Zone, w.city, timeWindowOrDefault(params.TimeWindow)),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
}

func timeWindowOrDefault(window string) string {
	if window == "" {
		return "24h"
	}
	return window
}

func direction(change float64) string {
	if change < 0 {
		return "decrease"
	}
	return "increase"
}

func congestionLevel(density float64) models.Level {
	switch {
	case density < 40:
		return models.LevelLow
	case density < 70:
		return models.LevelMedium
	default:
		return models.LevelHigh
	}
}

func riskLevel(score float64) models.Level {
	switch {
	case score < 35:
		return models.LevelLow
	case score < 65:
		return models.LevelMedium
	default:
		return models.LevelHigh
	}
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
