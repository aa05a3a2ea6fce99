package session

import (
	"encoding/json"
	"sync"
)

// Handler receives the raw payload of one inbound event.
type Handler func(payload json.RawMessage)

type subscription struct {
	id uint64
	fn Handler
}

// Bus is a typed publish/subscribe registry keyed by event name. Every
// Subscribe returns the function that removes exactly that registration.
type Bus struct {
	mu     sync.RWMutex
	nextID uint64
	subs   map[string][]subscription
}

func NewBus() *Bus {
	return &Bus{subs: make(map[string][]subscription)}
}

func (b *Bus) Subscribe(event string, fn Handler) (unsubscribe func()) {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.subs[event] = append(b.subs[event], subscription{id: id, fn: fn})
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { b.remove(event, id) })
	}
}

func (b *Bus) remove(event string, id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.subs[event]
	for i, s := range subs {
		if s.id == id {
			b.subs[event] = append(subs[:i:i], subs[i+1:]...)
			break
		}
	}
	if len(b.subs[event]) == 0 {
		delete(b.subs, event)
	}
}

// Publish calls the handlers registered for event in registration order.
// Handlers run on the caller's goroutine.
func (b *Bus) Publish(event string, payload json.RawMessage) int {
	b.mu.RLock()
	subs := append([]subscription(nil), b.subs[event]...)
	b.mu.RUnlock()

	for _, s := range subs {
		s.fn(payload)
	}
	return len(subs)
}

// Count returns the number of handlers registered for event.
func (b *Bus) Count(event string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[event])
}
