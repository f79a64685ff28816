package engine

import (
	"sync"

	"github.com/talgya/firesim/internal/fire"
)

// Handler receives dispatched fire events.
type Handler func(ev fire.Event)

// EventBus queues fire events under the simulation lock and dispatches them
// to subscribers after the lock is released, so handlers may call back into
// the simulation. Only one goroutine delivers at a time and events reach
// handlers in emit order.
type EventBus struct {
	mu          sync.Mutex
	handlers    map[fire.EventKind]map[uint64]Handler
	all         map[uint64]Handler
	nextID      uint64
	queue       []fire.Event
	dispatching bool
}

// NewEventBus creates an empty bus.
func NewEventBus() *EventBus {
	return &EventBus{
		handlers: make(map[fire.EventKind]map[uint64]Handler),
		all:      make(map[uint64]Handler),
	}
}

// On registers h for one event kind and returns a function that removes it.
func (b *EventBus) On(kind fire.EventKind, h Handler) (unsubscribe func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	id := b.nextID
	if b.handlers[kind] == nil {
		b.handlers[kind] = make(map[uint64]Handler)
	}
	b.handlers[kind][id] = h
	return func() {
		b.mu.Lock()
		delete(b.handlers[kind], id)
		b.mu.Unlock()
	}
}

// OnAll registers h for every event kind.
func (b *EventBus) OnAll(h Handler) (unsubscribe func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	id := b.nextID
	b.all[id] = h
	return func() {
		b.mu.Lock()
		delete(b.all, id)
		b.mu.Unlock()
	}
}

// Emit queues events for the next Dispatch.
func (b *EventBus) Emit(evs ...fire.Event) {
	if len(evs) == 0 {
		return
	}
	b.mu.Lock()
	b.queue = append(b.queue, evs...)
	b.mu.Unlock()
}

// Dispatch delivers every queued event in order. If another call is already
// delivering, including one further up the stack from a handler, the events
// are left for it and Dispatch returns at once.
func (b *EventBus) Dispatch() {
	b.mu.Lock()
	if b.dispatching {
		b.mu.Unlock()
		return
	}
	b.dispatching = true
	defer func() {
		if r := recover(); r != nil {
			b.mu.Lock()
			b.dispatching = false
			b.mu.Unlock()
			panic(r)
		}
	}()
	for len(b.queue) > 0 {
		queue := b.queue
		b.queue = nil
		b.mu.Unlock()
		b.deliver(queue)
		b.mu.Lock()
	}
	b.dispatching = false
	b.mu.Unlock()
}

func (b *EventBus) deliver(queue []fire.Event) {
	for _, ev := range queue {
		for _, h := range b.subscribers(ev.Kind) {
			h(ev)
		}
	}
}

func (b *EventBus) subscribers(kind fire.EventKind) []Handler {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Handler, 0, len(b.handlers[kind])+len(b.all))
	for _, h := range b.handlers[kind] {
		out = append(out, h)
	}
	for _, h := range b.all {
		out = append(out, h)
	}
	return out
}
