package runtime

import (
	"chatter/domain"
	"chatter/wire"
	"slices"
	"sync"

	"github.com/samber/lo"
)

type handlerEntry struct {
	id uint64
	fn func(frame wire.Frame)
}

// Registry keeps the listeners attached to the live connection.
// There is at most one handler per inbound event, registering again replaces it.
type Registry struct {
	mu       sync.RWMutex
	nextID   uint64
	handlers map[wire.Event]handlerEntry
	watchers map[uint64]func(change domain.StateChange)
}

func NewRegistry() *Registry {
	return &Registry{
		handlers: make(map[wire.Event]handlerEntry),
		watchers: make(map[uint64]func(change domain.StateChange)),
	}
}

// On registers the handler of an event and returns its disposer.
// The disposer only removes the entry it created, so a stale disposer
// never removes a handler registered after it.
func (r *Registry) On(event wire.Event, handler func(frame wire.Frame)) func() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextID++
	id := r.nextID
	r.handlers[event] = handlerEntry{id: id, fn: handler}

	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		if current, ok := r.handlers[event]; ok && current.id == id {
			delete(r.handlers, event)
		}
	}
}

func (r *Registry) OnStateChange(listener func(change domain.StateChange)) func() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextID++
	id := r.nextID
	r.watchers[id] = listener

	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		delete(r.watchers, id)
	}
}

// Handler returns the handler of an event, nil when nobody listens.
func (r *Registry) Handler(event wire.Event) func(frame wire.Frame) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if entry, ok := r.handlers[event]; ok {
		return entry.fn
	}
	return nil
}

// Watchers returns the state listeners in registration order.
func (r *Registry) Watchers() []func(change domain.StateChange) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := lo.Keys(r.watchers)
	slices.Sort(ids)
	return lo.Map(ids, func(id uint64, _ int) func(change domain.StateChange) {
		return r.watchers[id]
	})
}

// Len is the number of live registrations, handlers and watchers together.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.handlers) + len(r.watchers)
}
