package docstore

import (
	"context"
	"sync"
)

// Hub fans snapshots out to in-process subscribers keyed by user id.
// Delivery is latest-wins: a slow subscriber only ever sees the newest
// pending snapshot.
type Hub struct {
	mu   sync.Mutex
	subs map[string]map[*subscription]struct{}
}

type subscription struct {
	ch chan Snapshot
}

func NewHub() *Hub {
	return &Hub{subs: make(map[string]map[*subscription]struct{})}
}

// Subscribe registers a subscriber for userID. load is called under the hub
// lock so no publish can slip between the initial snapshot and
// registration.
func (h *Hub) Subscribe(ctx context.Context, userID string, load func() (Snapshot, error)) (<-chan Snapshot, error) {
	if userID == "" {
		return nil, ErrEmptyUserID
	}
	sub := &subscription{ch: make(chan Snapshot, 1)}

	h.mu.Lock()
	initial, err := load()
	if err != nil {
		h.mu.Unlock()
		return nil, err
	}
	set, ok := h.subs[userID]
	if !ok {
		set = make(map[*subscription]struct{})
		h.subs[userID] = set
	}
	set[sub] = struct{}{}
	sub.ch <- initial
	h.mu.Unlock()

	go func() {
		<-ctx.Done()
		h.mu.Lock()
		defer h.mu.Unlock()
		if set, ok := h.subs[userID]; ok {
			delete(set, sub)
			if len(set) == 0 {
				delete(h.subs, userID)
			}
		}
		close(sub.ch)
	}()
	return sub.ch, nil
}

// Publish delivers snap to every subscriber of userID.
func (h *Hub) Publish(userID string, snap Snapshot) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for sub := range h.subs[userID] {
		select {
		case sub.ch <- snap:
			continue
		default:
		}
		// Replace the stale pending snapshot.
		select {
		case <-sub.ch:
		default:
		}
		select {
		case sub.ch <- snap:
		default:
		}
	}
}

// Subscribers returns the number of live subscriptions for userID.
func (h *Hub) Subscribers(userID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[userID])
}
