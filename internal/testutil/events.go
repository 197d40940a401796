package testutil

import (
	"sync"

	"cardsync-go/internal/event"
)

// EventRecorder is an event.Publisher that keeps every event for assertions.
type EventRecorder struct {
	mu     sync.Mutex
	events []event.Event
}

func NewEventRecorder() *EventRecorder {
	return &EventRecorder{}
}

var _ event.Publisher = (*EventRecorder)(nil)

func (r *EventRecorder) Publish(e event.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

// Events returns a copy of all recorded events.
func (r *EventRecorder) Events() []event.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]event.Event(nil), r.events...)
}

// OfType returns the recorded events of type t, in order.
func (r *EventRecorder) OfType(t event.Type) []event.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []event.Event
	for _, e := range r.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

// Count returns how many events of type t were recorded.
func (r *EventRecorder) Count(t event.Type) int {
	return len(r.OfType(t))
}

// Reset forgets all recorded events.
func (r *EventRecorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}
