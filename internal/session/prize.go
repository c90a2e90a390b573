package session

import (
	"errors"
	"math/rand"
	"time"

	"popkit/internal/popups"
)

// ErrNoSegments is a configuration fault: a wheel without segments must fail
// fast instead of silently defaulting.
var ErrNoSegments = errors.New("prize selection requires at least one segment")

// PrizeSelector picks wheel outcomes. Selection is uniform over the segment
// list; the visual arc size of a segment never changes its odds.
type PrizeSelector struct {
	rng *rand.Rand
}

// NewPrizeSelector creates a selector seeded from the current time.
func NewPrizeSelector() *PrizeSelector {
	return NewPrizeSelectorWithSeed(time.Now().UnixNano())
}

// NewPrizeSelectorWithSeed creates a deterministically seeded selector; used
// by tests.
func NewPrizeSelectorWithSeed(seed int64) *PrizeSelector {
	return &PrizeSelector{rng: rand.New(rand.NewSource(seed))}
}

// Select returns the chosen index and segment. Whether the outcome is a win
// is decided structurally by the segment's prize code, nothing else.
func (s *PrizeSelector) Select(segments []popups.Segment) (int, popups.Segment, error) {
	if len(segments) == 0 {
		return 0, popups.Segment{}, ErrNoSegments
	}
	index := s.rng.Intn(len(segments))
	return index, segments[index], nil
}

// TargetAngle returns the wheel rotation (degrees) that centers the chosen
// segment. Purely cosmetic: any animation offset layered on top must not
// alter which index was chosen.
func TargetAngle(index, segmentCount int) float64 {
	if segmentCount <= 0 {
		return 0
	}
	arc := 360.0 / float64(segmentCount)
	return float64(index)*arc + arc/2
}
