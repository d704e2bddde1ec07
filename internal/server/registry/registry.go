// Package registry tracks which users hold a live real-time channel. It is
// the only source the delivery path consults to decide reachability.
package registry

import (
	"slices"
	"sync"
)

// Channel is a live connection to one client.
type Channel interface {
	ID() string
	Send(event string, payload any) error
}

type Registry struct {
	mu       sync.RWMutex
	channels map[string]Channel
}

func New() *Registry {
	return &Registry{channels: make(map[string]Channel)}
}

// Register binds ch to userID and returns the channel it replaced, if any.
func (r *Registry) Register(userID string, ch Channel) Channel {
	r.mu.Lock()
	defer r.mu.Unlock()
	prev := r.channels[userID]
	r.channels[userID] = ch
	if prev == ch {
		return nil
	}
	return prev
}

// Unregister removes userID only while ch is still its registered channel,
// so a stale connection closing late cannot evict a newer one.
func (r *Registry) Unregister(userID string, ch Channel) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.channels[userID]
	if !ok || cur.ID() != ch.ID() {
		return false
	}
	delete(r.channels, userID)
	return true
}

func (r *Registry) Find(userID string) (Channel, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ch, ok := r.channels[userID]
	return ch, ok
}

// Online lists connected user ids in sorted order.
func (r *Registry) Online() []string {
	r.mu.RLock()
	ids := make([]string, 0, len(r.channels))
	for id := range r.channels {
		ids = append(ids, id)
	}
	r.mu.RUnlock()
	slices.Sort(ids)
	return ids
}

// Broadcast sends event to every channel except exceptUserID's. Send
// errors are ignored; a broken channel is removed by its own disconnect.
func (r *Registry) Broadcast(event string, payload any, exceptUserID string) int {
	r.mu.RLock()
	targets := make([]Channel, 0, len(r.channels))
	for id, ch := range r.channels {
		if id != exceptUserID {
			targets = append(targets, ch)
		}
	}
	r.mu.RUnlock()

	sent := 0
	for _, ch := range targets {
		if ch.Send(event, payload) == nil {
			sent++
		}
	}
	return sent
}
