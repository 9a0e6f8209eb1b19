package memory

import (
	"context"
	"math/rand"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"contest-rating-service/internal/app"
	"contest-rating-service/internal/domain"
	"contest-rating-service/internal/observability"
	"contest-rating-service/internal/scoring"
)

// LeaderboardCache keeps built standings with a TTL so hot contests are not
// rebuilt on every read. Writers call Invalidate after each commit.
type LeaderboardCache struct {
	loader app.SnapshotLoader
	ttl    time.Duration
	clock  func() time.Time
	sf     singleflight.Group
	rnd    *rand.Rand
	rndMu  sync.Mutex

	mu    sync.RWMutex
	cache map[int64]cachedBoard
	// gens counts invalidations per contest; a rebuild started under an older
	// generation must not be stored.
	gens map[int64]uint64
}

type cachedBoard struct {
	board     domain.Leaderboard
	expiresAt time.Time
}

func NewLeaderboardCache(loader app.SnapshotLoader, ttl time.Duration) *LeaderboardCache {
	return &LeaderboardCache{
		loader: loader,
		ttl:    ttl,
		clock:  time.Now,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
		cache:  make(map[int64]cachedBoard),
		gens:   make(map[int64]uint64),
	}
}

func (c *LeaderboardCache) GetLeaderboard(ctx context.Context, contestID int64) (domain.Leaderboard, error) {
	if lb, _, ok := c.lookup(contestID, c.clock()); ok {
		observability.LeaderboardLookups().WithLabelValues("hit").Inc()
		return lb, nil
	}
	observability.LeaderboardLookups().WithLabelValues("miss").Inc()

	result, err, _ := c.sf.Do(strconv.FormatInt(contestID, 10), func() (interface{}, error) {
		now := c.clock()
		lb, gen, ok := c.lookup(contestID, now)
		if ok {
			return lb, nil
		}

		snap, err := c.loader.LoadSnapshot(ctx, contestID)
		if err != nil {
			return domain.Leaderboard{}, err
		}
		lb = scoring.Build(snap)
		lb.UpdatedAt = now

		if c.ttl > 0 {
			c.mu.Lock()
			if c.gens[contestID] == gen {
				c.cache[contestID] = cachedBoard{board: lb, expiresAt: now.Add(c.ttlWithJitter())}
			}
			c.mu.Unlock()
		}
		return lb, nil
	})
	if err != nil {
		return domain.Leaderboard{}, err
	}
	return result.(domain.Leaderboard), nil
}

func (c *LeaderboardCache) Invalidate(_ context.Context, contestID int64) error {
	c.mu.Lock()
	delete(c.cache, contestID)
	c.gens[contestID]++
	c.mu.Unlock()
	// an in-flight rebuild may have read the old snapshot
	c.sf.Forget(strconv.FormatInt(contestID, 10))
	return nil
}

// lookup returns the cached board if still fresh, and the contest's current generation.
func (c *LeaderboardCache) lookup(contestID int64, now time.Time) (domain.Leaderboard, uint64, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	gen := c.gens[contestID]
	entry, ok := c.cache[contestID]
	if !ok || !entry.expiresAt.After(now) {
		return domain.Leaderboard{}, gen, false
	}
	return entry.board, gen, true
}

func (c *LeaderboardCache) ttlWithJitter() time.Duration {
	// add up to 10% jitter to spread expirations
	jitterMax := int64(c.ttl) / 10
	c.rndMu.Lock()
	defer c.rndMu.Unlock()
	return c.ttl + time.Duration(c.rnd.Int63n(jitterMax+1))
}
