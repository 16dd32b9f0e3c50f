// Package events is the in-process fan-out between the components that
// produce protocol events and the server that delivers them.
package events

import (
	"sync"

	"github.com/thereceipt/posbridge/internal/protocol"
)

// Publisher is the write side of the bus.
type Publisher interface {
	Publish(ev protocol.Event)
}

// Bus delivers every published event to every current subscriber. Publishing
// never blocks: a subscriber whose buffer is full misses the event.
type Bus struct {
	mu     sync.RWMutex
	subs   map[int]chan protocol.Event
	next   int
	closed bool
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[int]chan protocol.Event)}
}

// Subscribe registers a subscriber with the given buffer. The returned
// function unsubscribes and closes the channel.
func (b *Bus) Subscribe(buffer int) (<-chan protocol.Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan protocol.Event, buffer)
	if b.closed {
		close(ch)
		return ch, func() {}
	}

	id := b.next
	b.next++
	b.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if c, ok := b.subs[id]; ok {
				delete(b.subs, id)
				close(c)
			}
		})
	}
}

// Publish fans ev out to subscribers.
func (b *Bus) Publish(ev protocol.Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Close closes all subscriber channels. Later publishes are dropped.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}
