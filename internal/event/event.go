// Package event carries home-state notifications from the dispatcher to
// whoever wants them: open websocket views, an MQTT broker, a Redis stream.
//
// The [Bus] is an explicit publish/subscribe hub. It is created by the
// application, injected into the dispatcher as a [Publisher], and sinks
// register with [Bus.Subscribe]. There is no package-level bus.
package event

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Kind names an event.
type Kind string

const (
	// StateChanged fires after any dispatch that mutated device state.
	StateChanged Kind = "state-changed"

	// SecurityModeChanged fires after an away/home mode transition.
	SecurityModeChanged Kind = "security-mode-changed"

	// DoorLocked and DoorUnlocked fire after a front door lock transition.
	DoorLocked   Kind = "door-locked"
	DoorUnlocked Kind = "door-unlocked"
)

// Event is a single notification. Mode is set for [SecurityModeChanged];
// Locked is set for the door events.
type Event struct {
	Kind   Kind      `json:"kind"`
	Owner  string    `json:"owner"`
	Mode   string    `json:"mode,omitempty"`
	Locked *bool     `json:"locked,omitempty"`
	At     time.Time `json:"at"`
}

// Publisher accepts events. [*Bus] is the production implementation.
type Publisher interface {
	Publish(ctx context.Context, ev Event)
}

// Handler receives events from a [Bus]. Handlers run synchronously on the
// publishing goroutine and must not block; sinks doing I/O hand the event
// off to their own goroutine.
type Handler func(ctx context.Context, ev Event)

// Bus fans events out to subscribed handlers in subscription order.
type Bus struct {
	mu       sync.RWMutex
	handlers map[int]Handler
	order    []int
	next     int
	now      func() time.Time
}

var _ Publisher = (*Bus)(nil)

// NewBus returns an empty bus.
func NewBus() *Bus {
	return &Bus{handlers: make(map[int]Handler), now: time.Now}
}

// Subscribe registers h and returns a function that removes it. The returned
// function is idempotent.
func (b *Bus) Subscribe(h Handler) (unsubscribe func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.next
	b.next++
	b.handlers[id] = h
	b.order = append(b.order, id)

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			delete(b.handlers, id)
			for i, v := range b.order {
				if v == id {
					b.order = append(b.order[:i], b.order[i+1:]...)
					break
				}
			}
		})
	}
}

// Publish stamps ev with the current time if unset and delivers it to every
// handler. A panicking handler is logged and does not stop delivery.
func (b *Bus) Publish(ctx context.Context, ev Event) {
	if ev.At.IsZero() {
		ev.At = b.now()
	}

	b.mu.RLock()
	hs := make([]Handler, 0, len(b.order))
	for _, id := range b.order {
		hs = append(hs, b.handlers[id])
	}
	b.mu.RUnlock()

	for _, h := range hs {
		deliver(ctx, h, ev)
	}
}

func deliver(ctx context.Context, h Handler, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("event: handler panicked", "kind", ev.Kind, "panic", r)
		}
	}()
	h(ctx, ev)
}

// Recorder is a [Publisher] that keeps every event. It is safe for
// concurrent use and intended for tests.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

var _ Publisher = (*Recorder)(nil)

// Publish implements [Publisher].
func (r *Recorder) Publish(_ context.Context, ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// Count returns how many events of kind k were recorded.
func (r *Recorder) Count(k Kind) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, ev := range r.events {
		if ev.Kind == k {
			n++
		}
	}
	return n
}
