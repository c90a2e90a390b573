// Package analytics turns the append-only event log into windowed reports.
// Aggregation is pure and side-effect-free: it never mutates the log, so it
// may run concurrently across requests without coordination.
package analytics

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"gorm.io/gorm"

	"popkit/internal/events"
	"popkit/internal/timeframe"
)

// ErrAggregationUnavailable signals the event source could not be read.
// Callers must treat it as "no data" and never render a stale report as
// current. It is distinct from a valid all-zero report.
var ErrAggregationUnavailable = errors.New("analytics aggregation unavailable")

// Feed size bounds; the caller-selectable limit is clamped into this range.
const (
	FeedMinItems = 10
	FeedMaxItems = 15
)

// EventSource provides a consistent snapshot of the event log for one
// aggregation call.
type EventSource interface {
	EventsSince(shopID uint, since time.Time) ([]events.AnalyticsEvent, error)
	EventsForPopupSince(shopID, popupID uint, since time.Time) ([]events.AnalyticsEvent, error)
}

// StoreSource reads snapshots from the gorm-backed event store.
type StoreSource struct {
	db *gorm.DB
}

// NewStoreSource creates an EventSource over the given database handle.
func NewStoreSource(db *gorm.DB) *StoreSource {
	return &StoreSource{db: db}
}

func (s *StoreSource) EventsSince(shopID uint, since time.Time) ([]events.AnalyticsEvent, error) {
	return events.EventsForShopSince(s.db, shopID, since)
}

func (s *StoreSource) EventsForPopupSince(shopID, popupID uint, since time.Time) ([]events.AnalyticsEvent, error) {
	return events.EventsForPopupSince(s.db, shopID, popupID, since)
}

// Summary holds the per-event-type tallies for the report window.
type Summary struct {
	Views         int64 `json:"views"`
	EmailsEntered int64 `json:"emails_entered"`
	Spins         int64 `json:"spins"`
	Wins          int64 `json:"wins"`
	Losses        int64 `json:"losses"`
	Closes        int64 `json:"closes"`
	CodesCopied   int64 `json:"codes_copied"`
}

// Rates are the stage-to-stage conversion percentages, rounded to 1 decimal.
// Every divide-by-zero case yields 0, never NaN.
type Rates struct {
	EmailConversion float64 `json:"email_conversion_rate"`
	SpinConversion  float64 `json:"spin_conversion_rate"`
	Win             float64 `json:"win_rate"`
	Copy            float64 `json:"copy_rate"`
}

// HourBucketStat is one slot of the trailing-24h trend chart.
type HourBucketStat struct {
	Hour          int       `json:"hour"` // hour-of-day of the bucket start
	Start         time.Time `json:"start"`
	Views         int64     `json:"views"`
	EmailsEntered int64     `json:"emails_entered"`
	Wins          int64     `json:"wins"`
}

// PrizeCount is one row of the prize-distribution histogram.
type PrizeCount struct {
	Label string `json:"label"`
	Count int64  `json:"count"`
}

// ActivityItem is one entry of the recency-ordered feed. Emails are masked
// before they leave the engine.
type ActivityItem struct {
	EventType    events.EventType `json:"event_type"`
	Email        string           `json:"email,omitempty"`
	PrizeLabel   string           `json:"prize_label,omitempty"`
	DiscountCode string           `json:"discount_code,omitempty"`
	Timestamp    time.Time        `json:"timestamp"`
	RelativeTime string           `json:"relative_time"`
}

// Report is the full aggregation output for one shop and window. On a
// popup-scoped report UniqueSubscribers counts that popup's subscribers; on a
// shop-wide report it spans every popup of the shop.
type Report struct {
	ShopID            uint             `json:"shop_id"`
	Window            timeframe.Window `json:"window"`
	GeneratedAt       time.Time        `json:"generated_at"`
	Summary           Summary          `json:"summary"`
	Rates             Rates            `json:"rates"`
	UniqueSubscribers int              `json:"unique_subscribers"`
	HourlyTrend       []HourBucketStat `json:"hourly_trend"`
	PrizeDistribution []PrizeCount     `json:"prize_distribution"`
	RecentActivity    []ActivityItem   `json:"recent_activity"`
}

// BuildReport reads a snapshot from the source and aggregates it. A source
// failure surfaces as ErrAggregationUnavailable rather than a partial report.
func BuildReport(source EventSource, shopID uint, window timeframe.Window, now time.Time, feedLimit int) (*Report, error) {
	// The snapshot must cover the full window; the hourly chart only needs the
	// trailing 24h subset of it.
	list, err := source.EventsSince(shopID, window.Since(now))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAggregationUnavailable, err)
	}
	report := Aggregate(list, shopID, window, now, feedLimit)
	return &report, nil
}

// BuildPopupReport aggregates the snapshot restricted to a single popup.
func BuildPopupReport(source EventSource, shopID, popupID uint, window timeframe.Window, now time.Time, feedLimit int) (*Report, error) {
	list, err := source.EventsForPopupSince(shopID, popupID, window.Since(now))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAggregationUnavailable, err)
	}
	report := Aggregate(list, shopID, window, now, feedLimit)
	return &report, nil
}

// Aggregate is the pure aggregation function: an unordered event slice plus a
// window in, a report out. Events are filtered to the shop and window here,
// so callers may hand over a wider snapshot.
func Aggregate(list []events.AnalyticsEvent, shopID uint, window timeframe.Window, now time.Time, feedLimit int) Report {
	since := window.Since(now)
	filtered := make([]events.AnalyticsEvent, 0, len(list))
	for _, e := range list {
		if e.ShopID != shopID {
			continue
		}
		if e.Timestamp.Before(since) || e.Timestamp.After(now) {
			continue
		}
		filtered = append(filtered, e)
	}

	report := Report{
		ShopID:      shopID,
		Window:      window,
		GeneratedAt: now,
	}
	report.Summary = summarize(filtered)
	report.Rates = conversionRates(report.Summary)
	report.UniqueSubscribers = UniqueSubscribers(filtered, 0)
	report.HourlyTrend = hourlyTrend(filtered, now)
	report.PrizeDistribution = prizeDistribution(filtered)
	report.RecentActivity = recentActivity(filtered, now, feedLimit)
	return report
}

func summarize(list []events.AnalyticsEvent) Summary {
	var s Summary
	for _, e := range list {
		switch e.EventType {
		case events.EventTypeView:
			s.Views++
		case events.EventTypeEmailEntered:
			s.EmailsEntered++
		case events.EventTypeSpin:
			s.Spins++
		case events.EventTypeWin:
			s.Wins++
		case events.EventTypeLose:
			s.Losses++
		case events.EventTypeClose:
			s.Closes++
		case events.EventTypeCopyCode:
			s.CodesCopied++
		}
	}
	return s
}

func conversionRates(s Summary) Rates {
	return Rates{
		EmailConversion: percentage(s.EmailsEntered, s.Views),
		SpinConversion:  percentage(s.Spins, s.EmailsEntered),
		Win:             percentage(s.Wins, s.Spins),
		Copy:            percentage(s.CodesCopied, s.Wins),
	}
}

// percentage returns numerator/denominator as a percent rounded to 1 decimal.
// A zero denominator yields 0.
func percentage(numerator, denominator int64) float64 {
	if denominator == 0 {
		return 0
	}
	return math.Round(float64(numerator)/float64(denominator)*1000) / 10
}

// hourlyTrend buckets view, email_entered and win events into exactly 24
// hourly slots over the trailing 24h. The chart is fixed to 24h even when the
// report window is 7d or 30d.
func hourlyTrend(list []events.AnalyticsEvent, now time.Time) []HourBucketStat {
	buckets := timeframe.HourlyBuckets(now)
	stats := make([]HourBucketStat, len(buckets))
	for i, b := range buckets {
		stats[i] = HourBucketStat{Hour: b.Label, Start: b.Start}
	}

	for _, e := range list {
		idx := timeframe.BucketIndex(e.Timestamp, now)
		if idx < 0 {
			continue
		}
		switch e.EventType {
		case events.EventTypeView:
			stats[idx].Views++
		case events.EventTypeEmailEntered:
			stats[idx].EmailsEntered++
		case events.EventTypeWin:
			stats[idx].Wins++
		}
	}
	return stats
}

// prizeDistribution counts win events per prize label, sorted descending by
// count. Ties keep first-seen order, which is stable across runs over the
// same snapshot.
func prizeDistribution(list []events.AnalyticsEvent) []PrizeCount {
	counts := make(map[string]int64)
	order := make([]string, 0)
	for _, e := range list {
		if e.EventType != events.EventTypeWin || e.PrizeLabel == "" {
			continue
		}
		if _, seen := counts[e.PrizeLabel]; !seen {
			order = append(order, e.PrizeLabel)
		}
		counts[e.PrizeLabel]++
	}

	dist := make([]PrizeCount, 0, len(order))
	for _, label := range order {
		dist = append(dist, PrizeCount{Label: label, Count: counts[label]})
	}
	sort.SliceStable(dist, func(i, j int) bool {
		return dist[i].Count > dist[j].Count
	})
	return dist
}

// UniqueSubscribers counts distinct non-empty email addresses across
// email_entered events for one popup. Set cardinality, not a sum.
func UniqueSubscribers(list []events.AnalyticsEvent, popupID uint) int {
	seen := make(map[string]struct{})
	for _, e := range list {
		if e.EventType != events.EventTypeEmailEntered {
			continue
		}
		if popupID != 0 && e.PopupID != popupID {
			continue
		}
		if e.Email == "" {
			continue
		}
		seen[e.Email] = struct{}{}
	}
	return len(seen)
}
