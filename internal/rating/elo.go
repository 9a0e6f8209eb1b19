// Package rating turns a final leaderboard into per-coder rating updates.
package rating

import (
	"math"

	"contest-rating-service/internal/domain"
)

// Engine holds the tuning constants of the Elo-style update.
type Engine struct {
	K        float64 `yaml:"k"`
	MinDelta int     `yaml:"minDelta"`
	MaxDelta int     `yaml:"maxDelta"`
	Floor    int     `yaml:"floor"`
	Default  int     `yaml:"default"`
}

// DefaultEngine returns the production constants.
func DefaultEngine() Engine {
	return Engine{K: 32, MinDelta: -400, MaxDelta: 400, Floor: 0, Default: domain.DefaultRating}
}

// Change is the computed update for one participant.
type Change struct {
	CoderID   int64
	Rank      int
	OldRating int
	NewRating int
	Delta     int
	Expected  float64
	Actual    float64
}

// Compute derives rating changes for every leaderboard entry, in leaderboard order.
// prior maps coder id to the rating held right before the contest; missing coders start
// from e.Default. The result depends only on the arguments.
func (e Engine) Compute(board []domain.LeaderboardEntry, prior map[int64]int) []Change {
	n := len(board)
	changes := make([]Change, n)

	ratings := make([]float64, n)
	for i, entry := range board {
		old, ok := prior[entry.CoderID]
		if !ok {
			old = e.Default
		}
		ratings[i] = float64(old)
		changes[i] = Change{CoderID: entry.CoderID, Rank: entry.Rank, OldRating: old, NewRating: old}
	}

	if n < 2 {
		for i := range changes {
			changes[i].Expected, changes[i].Actual = 0.5, 0.5
		}
		return changes
	}

	for i := range board {
		expected := 0.0
		for j := range board {
			if i == j {
				continue
			}
			expected += winProbability(ratings[i], ratings[j])
		}
		expected /= float64(n - 1)
		actual := float64(n-board[i].Rank) / float64(n-1)

		delta := e.clamp(int(math.Round(e.K * (actual - expected))))
		next := changes[i].OldRating + delta
		if next < e.Floor {
			next = e.Floor
		}

		changes[i].Expected = expected
		changes[i].Actual = actual
		changes[i].NewRating = next
		changes[i].Delta = next - changes[i].OldRating
	}
	return changes
}

func (e Engine) clamp(delta int) int {
	if e.MinDelta != 0 || e.MaxDelta != 0 {
		if delta < e.MinDelta {
			return e.MinDelta
		}
		if delta > e.MaxDelta {
			return e.MaxDelta
		}
	}
	return delta
}

// winProbability is the Elo expectation of a player rated r beating one rated other.
func winProbability(r, other float64) float64 {
	return 1 / (1 + math.Pow(10, (other-r)/400))
}
