package poll

import (
	"context"

	"github.com/urbanpulse/citypulse/internal/models"
)

// SeriesClient is the slice of the platform client the poller consumes.
type SeriesClient interface {
	EnvironmentHistory(ctx context.Context, scope string, hours int) ([]models.EnvironmentPoint, error)
	TrafficByZone(ctx context.Context, scope string, windowMinutes int) ([]models.TrafficPoint, error)
	RiskHistory(ctx context.Context, scope string, limit int) ([]models.RiskPoint, error)
}

// SeriesOptions are the lookback parameters for the three series fetchers.
type SeriesOptions struct {
	EnvironmentHours   int
	TrafficWindowMin   int
	RiskHistoryEntries int
}

func (o *SeriesOptions) setDefaults() {
	if o.EnvironmentHours <= 0 {
		o.EnvironmentHours = 24
	}
	if o.TrafficWindowMin <= 0 {
		o.TrafficWindowMin = 60
	}
	if o.RiskHistoryEntries <= 0 {
		o.RiskHistoryEntries = 20
	}
}

// SeriesFetchers builds the standard fetcher set: environment history,
// traffic by zone, and risk history. Each returns a partial update carrying
// exactly one series field, so a fetch failure leaves the other series
// untouched.
func SeriesFetchers(client SeriesClient, opts SeriesOptions) []Fetcher {
	opts.setDefaults()

	return []Fetcher{
		{
			Name: "environment",
			Fetch: func(ctx context.Context, scope string) (models.PartialUpdate, error) {
				points, err := client.EnvironmentHistory(ctx, scope, opts.EnvironmentHours)
				if err != nil {
					return models.PartialUpdate{}, err
				}
				return models.PartialUpdate{EnvironmentSeries: &points}, nil
			},
		},
		{
			Name: "traffic",
			Fetch: func(ctx context.Context, scope string) (models.PartialUpdate, error) {
				points, err := client.TrafficByZone(ctx, scope, opts.TrafficWindowMin)
				if err != nil {
					return models.PartialUpdate{}, err
				}
				return models.PartialUpdate{TrafficSeries: &points}, nil
			},
		},
		{
			Name: "risk_history",
			Fetch: func(ctx context.Context, scope string) (models.PartialUpdate, error) {
				points, err := client.RiskHistory(ctx, scope, opts.RiskHistoryEntries)
				if err != nil {
					return models.PartialUpdate{}, err
				}
				return models.PartialUpdate{RiskHistorySeries: &points}, nil
			},
		},
	}
}
