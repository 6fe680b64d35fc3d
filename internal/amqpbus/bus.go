// Package amqpbus relays room events through a RabbitMQ topic exchange. Each
// instance consumes from its own exclusive queue and binds it to a room's
// routing key when the room is first attached.
package amqpbus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/umar/roomrelay/internal/relay"
)

const (
	DefaultExchange = "chat.rooms"
	publishTimeout  = 5 * time.Second
)

type Config struct {
	URL        string
	Exchange   string
	InstanceID string
	Logger     *slog.Logger
}

type Bus struct {
	conn     *amqp.Connection
	exchange string
	queue    string
	logger   *slog.Logger
	done     chan struct{}

	pubMu sync.Mutex
	pubCh *amqp.Channel

	mu       sync.RWMutex
	subCh    *amqp.Channel
	nextID   uint64
	handlers map[string]map[uint64]relay.Handler
	closed   bool
}

var _ relay.Bus = (*Bus)(nil)

func New(cfg Config) (*Bus, error) {
	if cfg.Exchange == "" {
		cfg.Exchange = DefaultExchange
	}
	if cfg.InstanceID == "" {
		cfg.InstanceID = uuid.NewString()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to dial rabbitmq: %w", err)
	}

	b := &Bus{
		conn:     conn,
		exchange: cfg.Exchange,
		queue:    "roomrelay." + cfg.InstanceID,
		logger:   cfg.Logger,
		done:     make(chan struct{}),
		handlers: make(map[string]map[uint64]relay.Handler),
	}
	deliveries, err := b.setup()
	if err != nil {
		_ = conn.Close()
		return nil, err
	}

	go b.run(deliveries)
	return b, nil
}

func (b *Bus) setup() (<-chan amqp.Delivery, error) {
	var err error
	if b.pubCh, err = b.conn.Channel(); err != nil {
		return nil, fmt.Errorf("failed to open publish channel: %w", err)
	}
	if b.subCh, err = b.conn.Channel(); err != nil {
		return nil, fmt.Errorf("failed to open consume channel: %w", err)
	}

	if err := b.pubCh.ExchangeDeclare(
		b.exchange,
		amqp.ExchangeTopic,
		true,  // durable
		false, // auto-delete
		false, // internal
		false, // no-wait
		nil,
	); err != nil {
		return nil, fmt.Errorf("failed to declare exchange %s: %w", b.exchange, err)
	}

	if _, err := b.subCh.QueueDeclare(
		b.queue,
		false, // durable
		true,  // auto-delete
		true,  // exclusive
		false, // no-wait
		nil,
	); err != nil {
		return nil, fmt.Errorf("failed to declare queue %s: %w", b.queue, err)
	}

	deliveries, err := b.subCh.Consume(b.queue, b.queue, true, true, false, false, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to consume %s: %w", b.queue, err)
	}
	return deliveries, nil
}

func (b *Bus) Publish(ctx context.Context, topic string, data []byte) error {
	cctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	b.pubMu.Lock()
	defer b.pubMu.Unlock()
	err := b.pubCh.PublishWithContext(cctx,
		b.exchange,
		topic, // routing key = topic
		false,
		false,
		amqp.Publishing{
			ContentType: "application/json",
			Body:        data,
			Timestamp:   time.Now(),
		},
	)
	if err != nil {
		return fmt.Errorf("failed to publish to %s: %w", topic, err)
	}
	return nil
}

func (b *Bus) Subscribe(ctx context.Context, topic string, h relay.Handler) (relay.Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, relay.ErrClosed
	}

	if len(b.handlers[topic]) == 0 {
		if err := b.subCh.QueueBind(b.queue, topic, b.exchange, false, nil); err != nil {
			return nil, fmt.Errorf("failed to bind %s: %w", topic, err)
		}
		b.handlers[topic] = make(map[uint64]relay.Handler)
	}
	b.nextID++
	id := b.nextID
	b.handlers[topic][id] = h
	return &subscription{bus: b, topic: topic, id: id}, nil
}

func (b *Bus) run(deliveries <-chan amqp.Delivery) {
	defer close(b.done)
	for d := range deliveries {
		b.mu.RLock()
		hs := make([]relay.Handler, 0, len(b.handlers[d.RoutingKey]))
		for _, h := range b.handlers[d.RoutingKey] {
			hs = append(hs, h)
		}
		b.mu.RUnlock()

		for _, h := range hs {
			h(d.RoutingKey, d.Body)
		}
	}

	b.mu.RLock()
	closed := b.closed
	b.mu.RUnlock()
	if closed {
		b.logger.Info("amqp delivery channel closed", "queue", b.queue)
		return
	}
	b.logger.Error("amqp consumer stopped unexpectedly, room events are no longer relayed",
		"queue", b.queue, "conn_closed", b.conn.IsClosed())
}

// Ping reports whether the connection is open and the consumer still running.
func (b *Bus) Ping(ctx context.Context) error {
	if b.conn.IsClosed() {
		return errors.New("rabbitmq connection closed")
	}
	select {
	case <-b.done:
		return errors.New("rabbitmq consumer stopped")
	default:
	}
	return ctx.Err()
}

func (b *Bus) unbind(topic string, id uint64) error {
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
	if err := b.subCh.QueueUnbind(b.queue, topic, b.exchange, nil); err != nil {
		return fmt.Errorf("failed to unbind %s: %w", topic, err)
	}
	return nil
}

// Close tears down both channels and the connection; the exclusive queue is
// removed by the broker.
func (b *Bus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.handlers = make(map[string]map[uint64]relay.Handler)
	b.mu.Unlock()

	b.pubMu.Lock()
	_ = b.pubCh.Close()
	b.pubMu.Unlock()
	_ = b.subCh.Close()
	err := b.conn.Close()
	<-b.done
	if err != nil {
		return fmt.Errorf("failed to close rabbitmq connection: %w", err)
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
		s.err = s.bus.unbind(s.topic, s.id)
	})
	return s.err
}
