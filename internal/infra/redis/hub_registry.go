package redis

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"contest-rating-service/internal/app"
)

// HubRegistry keeps hubs in process and marks contests with live watchers in Redis.
// The marker (contest:{id}:watchers) lets other instances and operators see which
// contests are being followed; fan-out itself stays local.
type HubRegistry struct {
	client *redis.Client
	ttl    time.Duration
	mu     sync.RWMutex
	hubs   map[int64]*app.Hub
}

func NewHubRegistry(client *redis.Client, ttl time.Duration) *HubRegistry {
	return &HubRegistry{
		client: client,
		ttl:    ttl,
		hubs:   make(map[int64]*app.Hub),
	}
}

func (r *HubRegistry) GetOrCreate(contestID int64) *app.Hub {
	r.mu.Lock()
	defer r.mu.Unlock()
	if hub, ok := r.hubs[contestID]; ok {
		return hub
	}
	hub := app.NewHub(contestID)
	r.hubs[contestID] = hub
	// best-effort liveness marker
	_ = r.client.Set(context.Background(), r.key(contestID), "1", r.ttl).Err()
	return hub
}

func (r *HubRegistry) Get(contestID int64) (*app.Hub, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	hub, ok := r.hubs[contestID]
	return hub, ok
}

func (r *HubRegistry) DeleteIfEmpty(contestID int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	hub, ok := r.hubs[contestID]
	if !ok {
		return
	}
	if hub.IsEmpty() {
		delete(r.hubs, contestID)
		_ = r.client.Del(context.Background(), r.key(contestID)).Err()
	}
}

func (r *HubRegistry) key(contestID int64) string {
	return "contest:" + strconv.FormatInt(contestID, 10) + ":watchers"
}
