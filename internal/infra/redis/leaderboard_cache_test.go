package redis

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"contest-rating-service/internal/domain"
)

func TestLeaderboardCacheCachesInRedis(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	defer mr.Close()

	loader := &countingLoader{snap: sampleSnapshot()}
	cache := NewLeaderboardCache(newClient(mr), loader, time.Minute)

	lb, err := cache.GetLeaderboard(context.Background(), 1)
	if err != nil {
		t.Fatalf("get leaderboard: %v", err)
	}
	if loader.calls.Load() != 1 {
		t.Fatalf("expected loader called once, got %d", loader.calls.Load())
	}
	if len(lb.Entries) != 2 || lb.Entries[0].CoderID != 20 {
		t.Fatalf("unexpected standings %+v", lb.Entries)
	}
	if !mr.Exists("contest:1:standings:v0") {
		t.Fatalf("expected standings stored in redis")
	}

	// Second call should hit cache, loader not incremented.
	cached, err := cache.GetLeaderboard(context.Background(), 1)
	if err != nil {
		t.Fatalf("get leaderboard 2: %v", err)
	}
	if loader.calls.Load() != 1 {
		t.Fatalf("expected cache hit, loader calls=%d", loader.calls.Load())
	}
	if cached.Entries[0].Points != 100 || cached.Entries[1].Points != 40 {
		t.Fatalf("cached standings lost data: %+v", cached.Entries)
	}
}

func TestLeaderboardCacheInvalidateBumpsVersion(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	defer mr.Close()

	loader := &countingLoader{snap: sampleSnapshot()}
	cache := NewLeaderboardCache(newClient(mr), loader, time.Minute)
	ctx := context.Background()

	_, _ = cache.GetLeaderboard(ctx, 1)
	if err := cache.Invalidate(ctx, 1); err != nil {
		t.Fatalf("invalidate: %v", err)
	}
	if mr.Exists("contest:1:standings:v0") {
		t.Fatalf("expected old standings removed")
	}

	_, _ = cache.GetLeaderboard(ctx, 1)
	if loader.calls.Load() != 2 {
		t.Fatalf("expected rebuild after invalidate, loader calls=%d", loader.calls.Load())
	}
	if !mr.Exists("contest:1:standings:v1") {
		t.Fatalf("expected standings stored under new version")
	}
}

type countingLoader struct {
	snap  domain.ContestSnapshot
	calls atomic.Int32
}

func (l *countingLoader) LoadSnapshot(_ context.Context, contestID int64) (domain.ContestSnapshot, error) {
	l.calls.Add(1)
	if contestID != l.snap.Contest.ID {
		return domain.ContestSnapshot{}, domain.ErrContestNotFound
	}
	return l.snap, nil
}

func sampleSnapshot() domain.ContestSnapshot {
	start := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	judged := start.Add(10 * time.Minute)
	return domain.ContestSnapshot{
		Contest:  domain.Contest{ID: 1, StartDate: start, EndDate: start.Add(2 * time.Hour)},
		Problems: []domain.Problem{{ID: 100, ContestID: 1, Code: "A", MaxScore: 100}},
		Submissions: []domain.Submission{
			{ID: 1, ContestID: 1, ProblemID: 100, CoderID: 10, Status: domain.StatusPartial, Score: 40, AttemptNo: 1, JudgedAt: &judged},
			{ID: 2, ContestID: 1, ProblemID: 100, CoderID: 20, Status: domain.StatusAccepted, Score: 100, AttemptNo: 1, JudgedAt: &judged},
		},
	}
}

func newClient(mr *miniredis.Miniredis) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr: mr.Addr(),
	})
}
