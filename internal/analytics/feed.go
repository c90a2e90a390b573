package analytics

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"popkit/internal/events"
)

// recentActivity returns the most recent events as feed items, newest first.
// The limit is caller-selectable but clamped to [FeedMinItems, FeedMaxItems].
func recentActivity(list []events.AnalyticsEvent, now time.Time, limit int) []ActivityItem {
	limit = clampFeedLimit(limit)

	sorted := make([]events.AnalyticsEvent, len(list))
	copy(sorted, list)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Timestamp.After(sorted[j].Timestamp)
	})
	if len(sorted) > limit {
		sorted = sorted[:limit]
	}

	feed := make([]ActivityItem, len(sorted))
	for i, e := range sorted {
		feed[i] = ActivityItem{
			EventType:    e.EventType,
			Email:        MaskEmail(e.Email),
			PrizeLabel:   e.PrizeLabel,
			DiscountCode: e.DiscountCode,
			Timestamp:    e.Timestamp,
			RelativeTime: RelativeTime(e.Timestamp, now),
		}
	}
	return feed
}

func clampFeedLimit(limit int) int {
	if limit < FeedMinItems {
		return FeedMinItems
	}
	if limit > FeedMaxItems {
		return FeedMaxItems
	}
	return limit
}

// RelativeTime renders a human-relative age: "Ns ago" under a minute,
// "Nm ago" under an hour, "Nh ago" under a day, otherwise "Nd ago".
func RelativeTime(t, now time.Time) string {
	age := now.Sub(t)
	if age < 0 {
		age = 0
	}
	switch {
	case age < time.Minute:
		return fmt.Sprintf("%ds ago", int(age.Seconds()))
	case age < time.Hour:
		return fmt.Sprintf("%dm ago", int(age.Minutes()))
	case age < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(age.Hours()))
	default:
		return fmt.Sprintf("%dd ago", int(age.Hours()/24))
	}
}

// MaskEmail partially hides an address: the first 3 characters of the local
// part survive, the rest becomes "***", the domain stays intact.
// "alice@example.com" -> "ali***@example.com".
func MaskEmail(email string) string {
	if email == "" {
		return ""
	}
	at := strings.LastIndex(email, "@")
	if at <= 0 {
		return email
	}
	local := email[:at]
	domain := email[at:]
	if len(local) > 3 {
		local = local[:3]
	}
	return local + "***" + domain
}
