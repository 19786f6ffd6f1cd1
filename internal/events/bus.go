package events

import (
	"sync"

	"github.com/rs/zerolog"
)

// Handler consumes one event payload. Handlers run synchronously on the
// emitting goroutine, in subscription order.
type Handler func(data EventData)

type subscription struct {
	id      int
	handler Handler
}

// Bus fans events out to subscribers. Emit never fails the producer:
// handler panics are recovered, logged, and swallowed.
type Bus struct {
	mu     sync.RWMutex
	nextID int
	subs   map[EventType][]subscription
	log    zerolog.Logger
}

// NewBus creates an empty event bus.
func NewBus(log zerolog.Logger) *Bus {
	return &Bus{
		subs: make(map[EventType][]subscription),
		log:  log.With().Str("component", "event_bus").Logger(),
	}
}

// Subscribe registers a handler for an event type and returns a token for
// Unsubscribe.
func (b *Bus) Subscribe(event EventType, handler Handler) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	b.subs[event] = append(b.subs[event], subscription{id: b.nextID, handler: handler})
	return b.nextID
}

// Unsubscribe removes a previously registered handler by token.
func (b *Bus) Unsubscribe(event EventType, token int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.subs[event]
	for i, s := range subs {
		if s.id == token {
			b.subs[event] = append(subs[:i], subs[i+1:]...)
			return
		}
	}
}

// ClearAll drops every subscription. Intended for test isolation.
func (b *Bus) ClearAll() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.subs = make(map[EventType][]subscription)
}

// Emit dispatches the event synchronously to every subscriber registered
// for its type, in FIFO registration order.
func (b *Bus) Emit(event EventType, data EventData) {
	b.mu.RLock()
	subs := make([]subscription, len(b.subs[event]))
	copy(subs, b.subs[event])
	b.mu.RUnlock()

	for _, s := range subs {
		b.dispatch(event, s, data)
	}
}

func (b *Bus) dispatch(event EventType, s subscription, data EventData) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error().Str("event", string(event)).Interface("panic", r).Msg("Event subscriber panicked")
		}
	}()
	s.handler(data)
}
