package app

import (
	"sync"

	"contest-rating-service/internal/domain"
)

// Hub fans out standings snapshots of one contest to live subscribers.
type Hub struct {
	contestID   int64
	mu          sync.RWMutex
	last        domain.Leaderboard
	subscribers map[chan domain.Leaderboard]struct{}
}

// NewHub is exported for infrastructure layers that keep hubs.
func NewHub(contestID int64) *Hub {
	return &Hub{
		contestID:   contestID,
		subscribers: make(map[chan domain.Leaderboard]struct{}),
	}
}

// IsEmpty reports whether the hub has no subscribers.
func (h *Hub) IsEmpty() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers) == 0
}

func (h *Hub) subscribe(initial domain.Leaderboard) (<-chan domain.Leaderboard, func()) {
	ch := make(chan domain.Leaderboard, 8)

	h.mu.Lock()
	h.subscribers[ch] = struct{}{}
	if !initial.UpdatedAt.Before(h.last.UpdatedAt) {
		h.last = initial
	}
	snapshot := h.last
	h.mu.Unlock()

	ch <- snapshot

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			if _, ok := h.subscribers[ch]; ok {
				delete(h.subscribers, ch)
				close(ch)
			}
			h.mu.Unlock()
		})
	}
	return ch, cancel
}

func (h *Hub) publish(lb domain.Leaderboard) {
	h.mu.Lock()
	defer h.mu.Unlock()

	// publishes can race after concurrent verdicts; never move subscribers backwards
	if lb.UpdatedAt.Before(h.last.UpdatedAt) {
		return
	}
	h.last = lb
	for ch := range h.subscribers {
		select {
		case ch <- lb:
		default:
			// slow reader: drop its stale snapshot so the newest one fits
			select {
			case <-ch:
			default:
			}
			ch <- lb
		}
	}
}
