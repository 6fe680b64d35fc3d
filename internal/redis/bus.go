package redisc

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/umar/roomrelay/internal/relay"
)

const subscribeTimeout = 5 * time.Second

// Bus relays room events over Redis Pub/Sub. All topics share one PubSub
// connection; a single goroutine dispatches incoming messages to the handlers
// registered for their channel. Subscribe returns once Redis has confirmed the
// channel, so a publish issued after it returns is delivered.
type Bus struct {
	client *redis.Client
	pubsub *redis.PubSub
	logger *slog.Logger
	done   chan struct{}

	mu       sync.RWMutex
	nextID   uint64
	handlers map[string]map[uint64]relay.Handler
	pending  map[string]chan struct{} // closed on subscribe confirmation
	closed   bool
}

var _ relay.Bus = (*Bus)(nil)

func NewBus(client *redis.Client, logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	b := &Bus{
		client:   client,
		pubsub:   client.Subscribe(context.Background()),
		logger:   logger,
		done:     make(chan struct{}),
		handlers: make(map[string]map[uint64]relay.Handler),
		pending:  make(map[string]chan struct{}),
	}
	go b.run(b.pubsub.ChannelWithSubscriptions(redis.WithChannelSize(1024)))
	return b
}

func (b *Bus) Publish(ctx context.Context, topic string, data []byte) error {
	if err := b.client.Publish(ctx, topic, data).Err(); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", topic, err)
	}
	return nil
}

func (b *Bus) Subscribe(ctx context.Context, topic string, h relay.Handler) (relay.Subscription, error) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, relay.ErrClosed
	}

	if len(b.handlers[topic]) == 0 {
		b.pending[topic] = make(chan struct{})
		if err := b.pubsub.Subscribe(ctx, topic); err != nil {
			delete(b.pending, topic)
			b.mu.Unlock()
			return nil, fmt.Errorf("failed to subscribe to %s: %w", topic, err)
		}
		b.handlers[topic] = make(map[uint64]relay.Handler)
	}
	b.nextID++
	id := b.nextID
	b.handlers[topic][id] = h
	ready := b.pending[topic]
	b.mu.Unlock()

	sub := &subscription{bus: b, topic: topic, id: id}
	if ready != nil {
		if err := b.awaitConfirm(ctx, topic, ready); err != nil {
			_ = sub.Close()
			return nil, err
		}
	}

	b.logger.Debug("redis topic handler added", "topic", topic)
	return sub, nil
}

func (b *Bus) awaitConfirm(ctx context.Context, topic string, ready <-chan struct{}) error {
	timer := time.NewTimer(subscribeTimeout)
	defer timer.Stop()
	select {
	case <-ready:
	case <-ctx.Done():
		return fmt.Errorf("failed to subscribe to %s: %w", topic, ctx.Err())
	case <-timer.C:
		return fmt.Errorf("failed to subscribe to %s: no confirmation after %s", topic, subscribeTimeout)
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return relay.ErrClosed
	}
	return nil
}

func (b *Bus) run(ch <-chan interface{}) {
	defer close(b.done)
	for v := range ch {
		switch msg := v.(type) {
		case *redis.Subscription:
			if msg.Kind == "subscribe" {
				b.confirm(msg.Channel)
			}
		case *redis.Message:
			b.dispatch(msg)
		}
	}
}

func (b *Bus) confirm(topic string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if ready, ok := b.pending[topic]; ok {
		close(ready)
		delete(b.pending, topic)
	}
}

func (b *Bus) dispatch(msg *redis.Message) {
	b.mu.RLock()
	hs := make([]relay.Handler, 0, len(b.handlers[msg.Channel]))
	for _, h := range b.handlers[msg.Channel] {
		hs = append(hs, h)
	}
	b.mu.RUnlock()

	for _, h := range hs {
		h(msg.Channel, []byte(msg.Payload))
	}
}

func (b *Bus) unsubscribe(topic string, id uint64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	hs, ok := b.handlers[topic]
	if !ok {
		return nil
	}
	delete(hs, id)
	if len(hs) > 0 || b.closed {
		return nil
	}
	delete(b.handlers, topic)
	delete(b.pending, topic)
	if err := b.pubsub.Unsubscribe(context.Background(), topic); err != nil {
		return fmt.Errorf("failed to unsubscribe from %s: %w", topic, err)
	}
	return nil
}

// Close releases the shared PubSub connection and waits for the dispatch
// goroutine to exit. The underlying client is left open.
func (b *Bus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.handlers = make(map[string]map[uint64]relay.Handler)
	for topic, ready := range b.pending {
		close(ready)
		delete(b.pending, topic)
	}
	b.mu.Unlock()

	err := b.pubsub.Close()
	<-b.done
	if err != nil {
		b.logger.Warn("redis pubsub close failed", "error", err)
		return fmt.Errorf("failed to close pubsub: %w", err)
	}
	return nil
}

type subscription struct {
	bus   *Bus
	topic string
	id    uint64
	once  sync.Once
	err   error
}

func (s *subscription) Close() error {
	s.once.Do(func() {
		s.err = s.bus.unsubscribe(s.topic, s.id)
	})
	return s.err
}
