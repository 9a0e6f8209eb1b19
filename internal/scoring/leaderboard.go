package scoring

import (
	"sort"
	"time"

	"contest-rating-service/internal/domain"
)

// Aggregate sums, over the contest problems, the best score among the coder's judged
// submissions. Problems the coder never had judged contribute 0.
func Aggregate(problems []domain.Problem, submissions []domain.Submission, coderID int64) int {
	best := make(map[int64]int, len(problems))
	for _, sub := range submissions {
		if sub.CoderID != coderID || !sub.Judged() {
			continue
		}
		if cur, ok := best[sub.ProblemID]; !ok || sub.Score > cur {
			best[sub.ProblemID] = sub.Score
		}
	}

	total := 0
	for _, p := range problems {
		total += best[p.ID]
	}
	return total
}

type tally struct {
	best      map[int64]int
	firstAC   map[int64]time.Time
	coderID   int64
	points    int
	solved    int
	acTimeSum int64
}

// Build ranks every coder with at least one submission in the contest.
//
// Order: points desc, accepted-time sum asc, coder id asc. The accepted-time sum adds, per
// solved problem, the milliseconds between contest start and the first accepted verdict.
// Ranks follow competition ranking: equal (points, time sum) share a rank and the next
// distinct entry takes its 1-based position.
func Build(snap domain.ContestSnapshot) domain.Leaderboard {
	known := make(map[int64]bool, len(snap.Problems))
	for _, p := range snap.Problems {
		known[p.ID] = true
	}

	tallies := make(map[int64]*tally)
	for _, sub := range snap.Submissions {
		t, ok := tallies[sub.CoderID]
		if !ok {
			t = &tally{coderID: sub.CoderID, best: map[int64]int{}, firstAC: map[int64]time.Time{}}
			tallies[sub.CoderID] = t
		}
		if !sub.Judged() || !known[sub.ProblemID] {
			continue
		}
		if cur, ok := t.best[sub.ProblemID]; !ok || sub.Score > cur {
			t.best[sub.ProblemID] = sub.Score
		}
		if sub.Status == domain.StatusAccepted && sub.JudgedAt != nil {
			if first, ok := t.firstAC[sub.ProblemID]; !ok || sub.JudgedAt.Before(first) {
				t.firstAC[sub.ProblemID] = *sub.JudgedAt
			}
		}
	}

	entries := make([]domain.LeaderboardEntry, 0, len(tallies))
	for _, t := range tallies {
		for _, score := range t.best {
			t.points += score
		}
		for _, at := range t.firstAC {
			t.solved++
			t.acTimeSum += at.Sub(snap.Contest.StartDate).Milliseconds()
		}
		entries = append(entries, domain.LeaderboardEntry{
			CoderID:         t.coderID,
			Points:          t.points,
			Solved:          t.solved,
			AcceptedTimeSum: t.acTimeSum,
		})
	}

	sort.Slice(entries, func(i, j int) bool {
		return less(entries[i], entries[j])
	})
	assignRanks(entries)

	return domain.Leaderboard{
		ContestID: snap.Contest.ID,
		Final:     snap.Contest.Finalized,
		Entries:   entries,
	}
}

func less(a, b domain.LeaderboardEntry) bool {
	if a.Points != b.Points {
		return a.Points > b.Points
	}
	if a.AcceptedTimeSum != b.AcceptedTimeSum {
		return a.AcceptedTimeSum < b.AcceptedTimeSum
	}
	return a.CoderID < b.CoderID
}

func assignRanks(entries []domain.LeaderboardEntry) {
	for i := range entries {
		if i > 0 && sameStanding(entries[i-1], entries[i]) {
			entries[i].Rank = entries[i-1].Rank
			continue
		}
		entries[i].Rank = i + 1
	}
}

func sameStanding(a, b domain.LeaderboardEntry) bool {
	return a.Points == b.Points && a.AcceptedTimeSum == b.AcceptedTimeSum
}
