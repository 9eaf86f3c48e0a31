package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/urbanpulse/citypulse/internal/models"
	"github.com/urbanpulse/citypulse/internal/statusapi"
)

var (
	simZone           string
	simWindow         string
	simTrafficChange  float64
	simHeavyRestrict  bool
	simTempChange     float64
	simAQIChange      float64
	simServiceDegrade float64
)

// simulateCmd runs a what-if scenario against the platform
var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Run a what-if scenario for the active city",
	Long: `Run a what-if scenario against the platform's scenario engine for
the active city, print the predicted impacts, and record the run in the
local history.

Simulation runs are the only thing the history stores; ordinary live
updates are never recorded.

Examples:
  # 30% less traffic in zone B
  citypulse simulate --zone B --traffic-change=-30

  # Heat wave plus heavy-vehicle ban in zone A
  citypulse simulate --zone A --temperature-change 8 --heavy-vehicle-restriction`,
	RunE: func(cmd *cobra.Command, args []string) error {
		params := models.ScenarioParameters{
			Zone:                    simZone,
			TimeWindow:              simWindow,
			TrafficDensityChange:    simTrafficChange,
			HeavyVehicleRestriction: simHeavyRestrict,
			TemperatureChange:       simTempChange,
			AQIChange:               simAQIChange,
			ServiceDegradation:      simServiceDegrade,
		}

		client := newAPIClient()
		result, err := client.simulate(context.Background(), params)
		if err != nil {
			var apiErr *statusapi.Error
			if errors.As(err, &apiErr) && apiErr.Code == statusapi.ErrCodeNotFound {
				return fmt.Errorf("no active scope; switch to a city first (citypulse scope <city>)")
			}
			return fmt.Errorf("simulate: %w", err)
		}

		if output == "json" {
			data, _ := json.MarshalIndent(result, "", "  ")
			fmt.Println(string(data))
			return nil
		}

		if len(result.Impacts) == 0 {
			fmt.Println("No predicted impacts.")
		} else {
			// Print header
			fmt.Printf("\n%-24s  %-10s  %-10s  %s\n", "METRIC", "DIRECTION", "MAGNITUDE", "CONFIDENCE")
			fmt.Println(strings.Repeat("-", 64))
			for _, impact := range result.Impacts {
				fmt.Printf("%-24s  %-10s  %10.2f  %.2f\n",
					impact.Metric, impact.Direction, impact.Magnitude, impact.Confidence)
			}
		}

		fmt.Printf("\nOverall confidence: %.2f\n", result.OverallConfidence)
		if result.Explanation != "" {
			fmt.Println(result.Explanation)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(simulateCmd)

	simulateCmd.Flags().StringVar(&simZone, "zone", "", "target zone (required)")
	simulateCmd.Flags().StringVar(&simWindow, "window", "", "time window, e.g. 24h")
	simulateCmd.Flags().Float64Var(&simTrafficChange, "traffic-change", 0, "traffic density change in percent")
	simulateCmd.Flags().BoolVar(&simHeavyRestrict, "heavy-vehicle-restriction", false, "restrict heavy vehicles")
	simulateCmd.Flags().Float64Var(&simTempChange, "temperature-change", 0, "temperature change in degrees C")
	simulateCmd.Flags().Float64Var(&simAQIChange, "aqi-change", 0, "AQI change")
	simulateCmd.Flags().Float64Var(&simServiceDegrade, "service-degradation", 0, "service degradation in percent")
	simulateCmd.MarkFlagRequired("zone")
}
