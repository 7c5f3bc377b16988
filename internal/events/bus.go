package events

import (
	"sync"

	"autopress/internal/core"
	"autopress/internal/logger"
)

const defaultBuffer = 16

// Bus is a small in-process pub/sub channel for post-publish side
// effects. Publish never blocks the pipeline: a subscriber that cannot
// keep up loses events rather than stalling a run.
type Bus struct {
	mu     sync.RWMutex
	subs   map[int]chan core.ItemPublishedEvent
	next   int
	buffer int
	closed bool
}

// NewBus creates a bus with the given per-subscriber buffer size.
func NewBus(buffer int) *Bus {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	return &Bus{
		subs:   make(map[int]chan core.ItemPublishedEvent),
		buffer: buffer,
	}
}

// Subscribe registers a consumer and returns its channel plus an
// unsubscribe closure. The channel is closed on unsubscribe or bus
// shutdown.
func (b *Bus) Subscribe() (<-chan core.ItemPublishedEvent, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		ch := make(chan core.ItemPublishedEvent)
		close(ch)
		return ch, func() {}
	}

	id := b.next
	b.next++
	ch := make(chan core.ItemPublishedEvent, b.buffer)
	b.subs[id] = ch

	var once sync.Once
	unsubscribe := func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if sub, ok := b.subs[id]; ok {
				delete(b.subs, id)
				close(sub)
			}
		})
	}
	return ch, unsubscribe
}

// Publish delivers the event to every subscriber without blocking.
// Full subscriber buffers drop the event for that subscriber.
func (b *Bus) Publish(evt core.ItemPublishedEvent) {
	defer func() {
		// A racing close on a subscriber channel must not take the
		// pipeline down with it.
		if r := recover(); r != nil {
			logger.Warn("event publish recovered", "panic", r)
		}
	}()

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	for _, ch := range b.subs {
		select {
		case ch <- evt:
		default:
			logger.Debug("event dropped, subscriber buffer full", "item", evt.Item.Slug)
		}
	}
}

// Close shuts the bus down and closes all subscriber channels.
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
