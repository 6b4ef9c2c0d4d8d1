package server

import (
	"sync"

	"github.com/creatorpass/creatorpass/internal/notify"
)

const subscriberBuffer = 16

// Hub fans notifications out to the open streams of each user.
type Hub struct {
	mu   sync.Mutex
	subs map[string]map[chan notify.Event]struct{}
}

func NewHub() *Hub {
	return &Hub{subs: make(map[string]map[chan notify.Event]struct{})}
}

// Subscribe registers a stream for userID. The returned cancel func must be
// called when the stream ends.
func (h *Hub) Subscribe(userID string) (<-chan notify.Event, func()) {
	ch := make(chan notify.Event, subscriberBuffer)
	h.mu.Lock()
	if h.subs[userID] == nil {
		h.subs[userID] = make(map[chan notify.Event]struct{})
	}
	h.subs[userID][ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs[userID], ch)
			if len(h.subs[userID]) == 0 {
				delete(h.subs, userID)
			}
			h.mu.Unlock()
		})
	}
}

// Publish delivers ev to every stream of userID. Streams whose buffer is
// full miss the event; clients recover it from the snapshot.
func (h *Hub) Publish(userID string, ev notify.Event) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	delivered := 0
	for ch := range h.subs[userID] {
		select {
		case ch <- ev:
			delivered++
		default:
		}
	}
	return delivered
}

// Subscribers returns the number of open streams for userID.
func (h *Hub) Subscribers(userID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[userID])
}
