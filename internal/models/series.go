package models

import "time"

// EnvironmentPoint is one sample of a city's environmental time series.
type EnvironmentPoint struct {
	Timestamp   time.Time `json:"timestamp"`
	AQI         float64   `json:"aqi"`
	PM25        float64   `json:"pm25,omitempty"`
	Temperature float64   `json:"temperature,omitempty"`
	Rainfall    float64   `json:"rainfall,omitempty"`
}

// TrafficPoint is one sample of zone-level traffic state. Zones are the
// platform's fixed A/B/C partition of a city.
type TrafficPoint struct {
	Timestamp         time.Time `json:"timestamp"`
	Zone              string    `json:"zone"`
	DensityPercent    float64   `json:"density_percent"`
	CongestionLevel   Level     `json:"congestion_level"`
	HeavyVehicleCount int       `json:"heavy_vehicle_count,omitempty"`
}

// RiskPoint is one historical composite risk score.
type RiskPoint struct {
	Score        float64   `json:"score"`
	Level        Level     `json:"level"`
	CalculatedAt time.Time `json:"calculated_at"`
}
