// Package scoring holds the pure score math: WPM, accuracy and ranking.
// Everything here is stateless; the session engine recomputes scores from raw
// counters on every accepted progress event so clients cannot inflate them.
package scoring

import (
	"math"
	"sort"
	"time"
)

// WPM derives words-per-minute from correct characters and server-observed
// elapsed time, using the 5-characters-per-word convention. Non-positive
// elapsed time yields 0.
func WPM(correctChars int, elapsed time.Duration) float64 {
	secs := elapsed.Seconds()
	if secs <= 0 {
		return 0
	}

	return (float64(correctChars) / 5) / (secs / 60)
}

// Accuracy is the percentage of typed characters that were correct.
// Zero typed characters yields 0, not NaN.
func Accuracy(correctChars, totalChars int) float64 {
	if totalChars <= 0 {
		return 0
	}

	return float64(correctChars) / float64(totalChars) * 100
}

// RoundScore rounds a derived score to the nearest integer for presentation.
// Internal state always keeps the unrounded value.
func RoundScore(v float64) int {
	return int(math.Round(v))
}

// Rank returns a copy of items ordered by wpm descending; position i holds
// dense rank i+1. The sort is stable: equal wpm keeps input order, and no
// secondary key is applied. Live leaderboard ticks and final result snapshots
// must both rank through this one function so tie behavior never diverges.
func Rank[T any](items []T, wpm func(T) float64) []T {
	ranked := make([]T, len(items))
	copy(ranked, items)

	sort.SliceStable(ranked, func(i, j int) bool {
		return wpm(ranked[i]) > wpm(ranked[j])
	})

	return ranked
}
