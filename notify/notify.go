package notify

import (
	"sync"
	"time"
)

// Notifier delivers operator messages. Delivery failures never reach the caller.
type Notifier interface {
	Notify(msg string)
}

// Nop drops every message.
type Nop struct{}

func (Nop) Notify(string) {}

// Multi fans a message out to every notifier.
type Multi []Notifier

func (m Multi) Notify(msg string) {
	for _, n := range m {
		if n != nil {
			n.Notify(msg)
		}
	}
}

// Event is one message broadcast through a Hub.
type Event struct {
	Time    time.Time `json:"time"`
	Message string    `json:"message"`
}

// Hub broadcasts messages to in-process subscribers. Slow subscribers lose
// messages instead of blocking the sender.
type Hub struct {
	mu     sync.RWMutex
	subs   map[chan Event]struct{}
	buffer int
}

func NewHub(buffer int) *Hub {
	if buffer <= 0 {
		buffer = 32
	}
	return &Hub{subs: make(map[chan Event]struct{}), buffer: buffer}
}

// Subscribe returns a receive channel and a cancel func that closes it.
func (h *Hub) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, h.buffer)
	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, ch)
			h.mu.Unlock()
			close(ch)
		})
	}
}

func (h *Hub) Notify(msg string) {
	ev := Event{Time: time.Now(), Message: msg}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for ch := range h.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Subscribers reports the current subscriber count.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}
