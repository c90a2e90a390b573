// Package timeframe provides the report windows and hourly bucket math used
// by the analytics aggregation engine.
package timeframe

import (
	"fmt"
	"time"
)

// Window is the trailing time span over which summary metrics are computed.
type Window string

const (
	Window24h Window = "24h"
	Window7d  Window = "7d"
	Window30d Window = "30d"
)

// HourlyBucketCount is fixed: the hourly chart always covers the trailing
// 24 hours regardless of the selected report window.
const HourlyBucketCount = 24

// ParseWindow validates a client-supplied window label.
func ParseWindow(s string) (Window, error) {
	switch Window(s) {
	case Window24h, Window7d, Window30d:
		return Window(s), nil
	default:
		return "", fmt.Errorf("invalid report window: %q", s)
	}
}

// Duration returns the window length.
func (w Window) Duration() time.Duration {
	switch w {
	case Window7d:
		return 7 * 24 * time.Hour
	case Window30d:
		return 30 * 24 * time.Hour
	default:
		return 24 * time.Hour
	}
}

// Since returns the inclusive lower bound of the window ending at now.
func (w Window) Since(now time.Time) time.Time {
	return now.Add(-w.Duration())
}

// HourBucket is one [Start, Start+1h) slot of the trailing-24h chart.
type HourBucket struct {
	Start time.Time
	// Label is the hour-of-day of the bucket start, 0-23.
	Label int
}

// HourlyBuckets generates exactly 24 buckets tiling [now-24h, now], oldest
// first. Starts are anchored to now rather than to clock-hour boundaries, so
// every in-window event has a bucket and the totals match the window count.
func HourlyBuckets(now time.Time) []HourBucket {
	oldest := now.UTC().Add(-HourlyBucketCount * time.Hour)
	buckets := make([]HourBucket, HourlyBucketCount)
	for i := range buckets {
		start := oldest.Add(time.Duration(i) * time.Hour)
		buckets[i] = HourBucket{Start: start, Label: start.Hour()}
	}
	return buckets
}

// BucketIndex returns the trailing-24h bucket index for t, or -1 when t falls
// outside [now-24h, now]. The newest bucket is closed on the right so an
// event stamped exactly now is still charted.
func BucketIndex(t, now time.Time) int {
	oldest := now.Add(-HourlyBucketCount * time.Hour)
	if t.Before(oldest) || t.After(now) {
		return -1
	}
	idx := int(t.Sub(oldest) / time.Hour)
	if idx >= HourlyBucketCount {
		idx = HourlyBucketCount - 1
	}
	return idx
}
