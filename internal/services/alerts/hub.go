package alerts

import (
	"sync"

	"github.com/BearBump/JourneyGuard/internal/broker/messages"
)

// Hub fans alerts of a journey out to its live subscribers.
type Hub struct {
	mu   sync.RWMutex
	subs map[string]map[*Latest]struct{}
}

func NewHub() *Hub {
	return &Hub{subs: map[string]map[*Latest]struct{}{}}
}

// Subscribe returns a mailbox and a func that detaches and closes it.
func (h *Hub) Subscribe(journeyID string) (*Latest, func()) {
	l := NewLatest()

	h.mu.Lock()
	if h.subs[journeyID] == nil {
		h.subs[journeyID] = map[*Latest]struct{}{}
	}
	h.subs[journeyID][l] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	return l, func() {
		once.Do(func() {
			h.mu.Lock()
			if set, ok := h.subs[journeyID]; ok {
				delete(set, l)
				if len(set) == 0 {
					delete(h.subs, journeyID)
				}
			}
			h.mu.Unlock()
			l.Close()
		})
	}
}

func (h *Hub) Publish(a messages.JourneyAlert) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for l := range h.subs[a.JourneyID] {
		if l.Offer(a) {
			n++
		}
	}
	return n
}

func (h *Hub) Subscribers(journeyID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[journeyID])
}
