// Package pedagogy tracks per-topic mastery, derives weak areas, and
// selects adaptive practice questions.
package pedagogy

import (
	"math"
	"time"
)

// Mastery function weights. The level is a pure function of the record's
// counters and the time since the last interaction, so it can be
// recomputed from scratch at any point.
const (
	ratioWeight    = 0.6  // contribution of correct/answered
	exposureWeight = 0.08 // log2 boost per doubling of exposure
	decayGrace     = 7 * 24 * time.Hour
	decayPerDay    = 0.01
)

// Weak-area thresholds with hysteresis: a topic enters the weak set below
// enterThreshold and leaves it only above exitThreshold. A burst of
// burstThreshold questions on one topic inside a single burstWindow also
// enters the set regardless of level.
const (
	enterThreshold = 0.4
	exitThreshold  = 0.5

	burstWindow    = 24 * time.Hour
	burstThreshold = 10
)

// Difficulty band cut points over mastery level.
const (
	easyBelow   = 0.3
	mediumBelow = 0.6
)

// MasteryLevel computes the level for a record with the given counters,
// evaluated at now relative to the last interaction. Result is in [0,1].
func MasteryLevel(questionCount, correctCount int, lastInteraction, now time.Time) float64 {
	if questionCount <= 0 {
		return 0
	}

	ratio := float64(correctCount) / float64(questionCount)
	level := ratioWeight*ratio + exposureWeight*math.Log2(1+float64(questionCount))

	// Idle decay kicks in only past the grace window.
	if idle := now.Sub(lastInteraction); idle > decayGrace {
		days := float64(idle-decayGrace) / float64(24*time.Hour)
		level -= decayPerDay * days
	}

	return clamp01(level)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
