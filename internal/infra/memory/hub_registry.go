package memory

import (
	"sync"

	"contest-rating-service/internal/app"
)

// HubRegistry is an in-memory implementation of app.HubRegistry.
type HubRegistry struct {
	mu   sync.RWMutex
	hubs map[int64]*app.Hub
}

func NewHubRegistry() *HubRegistry {
	return &HubRegistry{
		hubs: make(map[int64]*app.Hub),
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
	}
}
