// Package events fans task and state status changes out to live subscribers,
// in process and optionally across server instances through Redis.
package events

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/report-tracking-server/internal/domain"
)

// Bus is an in-process event fan-out. Publishing never blocks: a subscriber
// whose buffer is full misses the event.
type Bus struct {
	mu     sync.RWMutex
	subs   map[uint64]chan domain.Event
	nextID uint64
	closed bool
	logger *logrus.Logger
}

// NewBus creates an empty bus
func NewBus(logger *logrus.Logger) *Bus {
	return &Bus{subs: make(map[uint64]chan domain.Event), logger: logger}
}

// Subscribe registers a subscriber with the given buffer size. The returned
// function unsubscribes and closes the channel.
func (b *Bus) Subscribe(buffer int) (<-chan domain.Event, func()) {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan domain.Event, buffer)

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(ch)
		return ch, func() {}
	}
	b.nextID++
	id := b.nextID
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

// Publish delivers event to every subscriber
func (b *Bus) Publish(_ context.Context, event domain.Event) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	dropped := 0
	for _, ch := range b.subs {
		select {
		case ch <- event:
		default:
			dropped++
		}
	}
	if dropped > 0 {
		b.logger.WithFields(logrus.Fields{
			"event":   event.Type,
			"dropped": dropped,
		}).Warn("Event dropped for slow subscribers")
	}
	return nil
}

// Subscribers returns the number of live subscribers
func (b *Bus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Close closes every subscriber channel; later subscriptions are closed at once
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
