// Package memory provides in-process implementations of the relay bus, unread
// counters and presence set. They serve single-instance deployments and tests.
package memory

import (
	"context"
	"sync"

	"github.com/umar/roomrelay/internal/relay"
)

// Bus delivers every published payload synchronously to the topic's handlers.
// Handlers run on the publisher's goroutine without any bus lock held.
type Bus struct {
	mu     sync.RWMutex
	nextID uint64
	topics map[string]map[uint64]relay.Handler
	closed bool
}

var _ relay.Bus = (*Bus)(nil)

func NewBus() *Bus {
	return &Bus{topics: make(map[string]map[uint64]relay.Handler)}
}

func (b *Bus) Publish(ctx context.Context, topic string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return relay.ErrClosed
	}
	handlers := make([]relay.Handler, 0, len(b.topics[topic]))
	for _, h := range b.topics[topic] {
		handlers = append(handlers, h)
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		h(topic, append([]byte(nil), data...))
	}
	return nil
}

func (b *Bus) Subscribe(ctx context.Context, topic string, h relay.Handler) (relay.Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, relay.ErrClosed
	}
	b.nextID++
	id := b.nextID
	if b.topics[topic] == nil {
		b.topics[topic] = make(map[uint64]relay.Handler)
	}
	b.topics[topic][id] = h
	return &subscription{bus: b, topic: topic, id: id}, nil
}

// Subscribers returns how many live handlers the topic has.
func (b *Bus) Subscribers(topic string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.topics[topic])
}

func (b *Bus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.topics = make(map[string]map[uint64]relay.Handler)
	return nil
}

type subscription struct {
	bus   *Bus
	topic string
	id    uint64
	once  sync.Once
}

func (s *subscription) Close() error {
	s.once.Do(func() {
		s.bus.mu.Lock()
		defer s.bus.mu.Unlock()
		if hs, ok := s.bus.topics[s.topic]; ok {
			delete(hs, s.id)
			if len(hs) == 0 {
				delete(s.bus.topics, s.topic)
			}
		}
	})
	return nil
}
