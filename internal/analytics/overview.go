package analytics

import (
	"context"
	"time"

	"popkit/internal/pkg/async"
	"popkit/internal/timeframe"
)

// Overview bundles one report per supported window, built from independent
// snapshots so a dashboard can render all tabs with a single request.
type Overview struct {
	ShopID      uint                         `json:"shop_id"`
	GeneratedAt time.Time                    `json:"generated_at"`
	Windows     map[timeframe.Window]*Report `json:"windows"`
}

// BuildOverview aggregates every window concurrently. Any failed window fails
// the whole overview; partial overviews would be indistinguishable from
// all-zero data on the dashboard.
func BuildOverview(source EventSource, shopID uint, now time.Time, feedLimit int) (*Overview, error) {
	windows := []timeframe.Window{timeframe.Window24h, timeframe.Window7d, timeframe.Window30d}

	jobs := make([]async.Job[timeframe.Window, *Report], 0, len(windows))
	for _, window := range windows {
		jobs = append(jobs, async.Job[timeframe.Window, *Report]{
			Key: window,
			Run: func(context.Context) (*Report, error) {
				return BuildReport(source, shopID, window, now, feedLimit)
			},
		})
	}

	reports, err := async.Collect(context.Background(), len(jobs), jobs)
	if err != nil {
		return nil, err
	}

	return &Overview{
		ShopID:      shopID,
		GeneratedAt: now,
		Windows:     reports,
	}, nil
}
