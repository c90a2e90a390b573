package analytics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMaskEmail(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"alice@example.com", "ali***@example.com"},
		{"bob@example.com", "bob***@example.com"},
		{"ab@example.com", "ab***@example.com"},
		{"a@example.com", "a***@example.com"},
		{"", ""},
		{"not-an-email", "not-an-email"},
		{"@example.com", "@example.com"},
	}

	for _, tc := range cases {
		assert.Equal(t, tc.want, MaskEmail(tc.in), "MaskEmail(%q)", tc.in)
	}
}

func TestRelativeTime(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	cases := []struct {
		age  time.Duration
		want string
	}{
		{10 * time.Second, "10s ago"},
		{59 * time.Second, "59s ago"},
		{time.Minute, "1m ago"},
		{59 * time.Minute, "59m ago"},
		{90 * time.Minute, "1h ago"},
		{23 * time.Hour, "23h ago"},
		{24 * time.Hour, "1d ago"},
		{10 * 24 * time.Hour, "10d ago"},
	}

	for _, tc := range cases {
		assert.Equal(t, tc.want, RelativeTime(now.Add(-tc.age), now))
	}

	// Future timestamps clamp to zero age instead of going negative.
	assert.Equal(t, "0s ago", RelativeTime(now.Add(time.Minute), now))
}

func TestClampFeedLimit(t *testing.T) {
	assert.Equal(t, FeedMinItems, clampFeedLimit(0))
	assert.Equal(t, FeedMinItems, clampFeedLimit(-5))
	assert.Equal(t, FeedMinItems, clampFeedLimit(10))
	assert.Equal(t, 12, clampFeedLimit(12))
	assert.Equal(t, FeedMaxItems, clampFeedLimit(15))
	assert.Equal(t, FeedMaxItems, clampFeedLimit(100))
}
