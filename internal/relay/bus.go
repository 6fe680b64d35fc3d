// Package relay carries room events between server instances. A Bus moves
// opaque payloads by topic; the Registry owns this instance's topic
// attachments and the local sessions subscribed to each room.
package relay

import (
	"context"
	"errors"
	"fmt"

	"github.com/umar/roomrelay/internal/events"
)

var ErrClosed = errors.New("relay: closed")

// Handler receives every payload published to a subscribed topic, including
// payloads published by this instance.
type Handler func(topic string, data []byte)

type Subscription interface {
	Close() error
}

type Bus interface {
	Publish(ctx context.Context, topic string, data []byte) error
	Subscribe(ctx context.Context, topic string, h Handler) (Subscription, error)
	Close() error
}

type Publisher struct {
	bus Bus
}

func NewPublisher(bus Bus) *Publisher {
	return &Publisher{bus: bus}
}

// Publish encodes ev with its discriminant and sends it to the room's topic.
// Delivery to remote instances is not acknowledged.
func (p *Publisher) Publish(ctx context.Context, roomID int64, ev events.Event) error {
	data, err := events.Encode(ev)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}
	if err := p.bus.Publish(ctx, events.Topic(roomID), data); err != nil {
		return fmt.Errorf("failed to publish to room %d: %w", roomID, err)
	}
	return nil
}
