package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce        sync.Once
	verdictsTotal       *prometheus.CounterVec
	submissionsTotal    prometheus.Counter
	finalizationsTotal  *prometheus.CounterVec
	finalizeSeconds     prometheus.Histogram
	ratingChangesTotal  prometheus.Counter
	leaderboardRequests *prometheus.CounterVec
)

// RegisterMetrics initialises the Prometheus collectors used by the judging core.
func RegisterMetrics() {
	registerOnce.Do(func() {
		verdictsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "judge_verdicts_total",
			Help: "Verdict deliveries by outcome (applied status or rejection reason).",
		}, []string{"outcome"})

		submissionsTotal = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "judge_submissions_total",
			Help: "Submissions accepted into the pending queue.",
		})

		finalizationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "contest_finalizations_total",
			Help: "Finalize attempts by result.",
		}, []string{"result"})

		finalizeSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "contest_finalize_seconds",
			Help:    "Duration of the finalize unit of work.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		})

		ratingChangesTotal = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rating_changes_total",
			Help: "Rating ledger entries written.",
		})

		leaderboardRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "leaderboard_cache_requests_total",
			Help: "Leaderboard cache lookups by result (hit or miss).",
		}, []string{"result"})

		prometheus.MustRegister(verdictsTotal, submissionsTotal, finalizationsTotal, finalizeSeconds, ratingChangesTotal, leaderboardRequests)
	})
}

// Verdicts exposes the verdict outcome counter.
func Verdicts() *prometheus.CounterVec {
	RegisterMetrics()
	return verdictsTotal
}

// Submissions exposes the created submission counter.
func Submissions() prometheus.Counter {
	RegisterMetrics()
	return submissionsTotal
}

// Finalizations exposes the finalize result counter.
func Finalizations() *prometheus.CounterVec {
	RegisterMetrics()
	return finalizationsTotal
}

// FinalizeDuration exposes the finalize latency histogram.
func FinalizeDuration() prometheus.Histogram {
	RegisterMetrics()
	return finalizeSeconds
}

// RatingChanges exposes the ledger write counter.
func RatingChanges() prometheus.Counter {
	RegisterMetrics()
	return ratingChangesTotal
}

// LeaderboardLookups exposes the cache hit/miss counter.
func LeaderboardLookups() *prometheus.CounterVec {
	RegisterMetrics()
	return leaderboardRequests
}
