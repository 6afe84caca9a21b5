package service

import (
	"slices"
	"sync"

	"github.com/joeblew999/plat-regions/internal/metrics"
)

// Event is one change published by a session, its style store or the
// preset registry.
type Event struct {
	Resource string // "sessions", "style", "presets"
	Action   string // "created", "changed", "failed", "deleted", ...
	ID       string // session or preset ID
	Revision uint64 // controller revision for session events
}

// Filter selects the events a subscriber receives. Zero fields match
// everything.
type Filter struct {
	ID        string
	Resources []string
}

func (f Filter) match(e Event) bool {
	if f.ID != "" && f.ID != e.ID {
		return false
	}
	return len(f.Resources) == 0 || slices.Contains(f.Resources, e.Resource)
}

// SessionEvents follows one session: controller changes and style edits.
func SessionEvents(id string) Filter {
	return Filter{ID: id, Resources: []string{"sessions", "style"}}
}

// EventBus fans events out to filtered subscribers. Publish never blocks; a
// subscriber whose buffer is full misses the event and the drop is counted.
type EventBus struct {
	mu   sync.RWMutex
	subs map[chan Event]Filter
}

const subscriberBuffer = 16

// NewEventBus creates an empty bus.
func NewEventBus() *EventBus {
	return &EventBus{subs: make(map[chan Event]Filter)}
}

// Publish delivers e to every matching subscriber.
func (b *EventBus) Publish(e Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch, f := range b.subs {
		if !f.match(e) {
			continue
		}
		select {
		case ch <- e:
		default:
			metrics.EventsDropped.WithLabelValues(e.Resource).Inc()
		}
	}
}

// Subscribe returns a buffered channel that receives the events f selects.
func (b *EventBus) Subscribe(f Filter) chan Event {
	ch := make(chan Event, subscriberBuffer)
	b.mu.Lock()
	b.subs[ch] = f
	b.mu.Unlock()
	return ch
}

// Unsubscribe removes a subscriber and closes its channel. Calling it twice
// is harmless.
func (b *EventBus) Unsubscribe(ch chan Event) {
	b.mu.Lock()
	_, ok := b.subs[ch]
	delete(b.subs, ch)
	b.mu.Unlock()
	if ok {
		close(ch)
	}
}

// Subscribers reports how many channels are attached.
func (b *EventBus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
