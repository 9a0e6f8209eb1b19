package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"contest-rating-service/internal/app"
	"contest-rating-service/internal/domain"
	"contest-rating-service/internal/observability"
	"contest-rating-service/internal/scoring"
)

// LeaderboardCache keeps built standings in Redis as JSON and rebuilds them from a
// snapshot loader on miss.
//
// Keys:
//
//	contest:{id}:standings:version   INCR on every invalidation
//	contest:{id}:standings:v{n}      JSON leaderboard built while version was n
//
// A rebuild racing with an invalidation writes under the old version, which is never read again.
type LeaderboardCache struct {
	client *redis.Client
	loader app.SnapshotLoader
	ttl    time.Duration
	clock  func() time.Time
	sf     singleflight.Group

	rndMu sync.Mutex
	rnd   *rand.Rand
}

func NewLeaderboardCache(client *redis.Client, loader app.SnapshotLoader, ttl time.Duration) *LeaderboardCache {
	return &LeaderboardCache{
		client: client,
		loader: loader,
		ttl:    ttl,
		clock:  time.Now,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (c *LeaderboardCache) GetLeaderboard(ctx context.Context, contestID int64) (domain.Leaderboard, error) {
	version, err := c.version(ctx, contestID)
	if err != nil {
		return domain.Leaderboard{}, err
	}
	key := c.boardKey(contestID, version)

	if lb, ok := c.lookup(ctx, key); ok {
		observability.LeaderboardLookups().WithLabelValues("hit").Inc()
		return lb, nil
	}
	observability.LeaderboardLookups().WithLabelValues("miss").Inc()

	result, err, _ := c.sf.Do(key, func() (interface{}, error) {
		// Re-check cache in case another instance filled it.
		if lb, ok := c.lookup(ctx, key); ok {
			return lb, nil
		}

		snap, err := c.loader.LoadSnapshot(ctx, contestID)
		if err != nil {
			return domain.Leaderboard{}, err
		}
		lb := scoring.Build(snap)
		lb.UpdatedAt = c.clock()

		if ttl := c.ttlWithJitter(); ttl > 0 {
			if raw, err := json.Marshal(lb); err == nil {
				_ = c.client.Set(ctx, key, raw, ttl).Err()
			}
		}
		return lb, nil
	})
	if err != nil {
		return domain.Leaderboard{}, err
	}
	return result.(domain.Leaderboard), nil
}

func (c *LeaderboardCache) Invalidate(ctx context.Context, contestID int64) error {
	version, err := c.client.Incr(ctx, c.versionKey(contestID)).Result()
	if err != nil {
		return fmt.Errorf("bump standings version: %w", err)
	}
	// the previous board is unreachable now; drop it instead of waiting for its ttl
	_ = c.client.Del(ctx, c.boardKey(contestID, version-1)).Err()
	return nil
}

func (c *LeaderboardCache) lookup(ctx context.Context, key string) (domain.Leaderboard, bool) {
	raw, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		return domain.Leaderboard{}, false
	}
	var lb domain.Leaderboard
	if err := json.Unmarshal(raw, &lb); err != nil {
		return domain.Leaderboard{}, false
	}
	return lb, true
}

func (c *LeaderboardCache) version(ctx context.Context, contestID int64) (int64, error) {
	v, err := c.client.Get(ctx, c.versionKey(contestID)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read standings version: %w", err)
	}
	return v, nil
}

func (c *LeaderboardCache) versionKey(contestID int64) string {
	return fmt.Sprintf("contest:%d:standings:version", contestID)
}

func (c *LeaderboardCache) boardKey(contestID, version int64) string {
	return fmt.Sprintf("contest:%d:standings:v%d", contestID, version)
}

func (c *LeaderboardCache) ttlWithJitter() time.Duration {
	if c.ttl <= 0 {
		return 0
	}
	jitterMax := int64(c.ttl) / 10
	c.rndMu.Lock()
	defer c.rndMu.Unlock()
	return c.ttl + time.Duration(c.rnd.Int63n(jitterMax+1))
}
