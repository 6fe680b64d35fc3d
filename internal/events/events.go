// Package events defines the room events carried over the fan-out bus and
// forwarded to websocket sessions. An event is either a Message or a ReadAck;
// the wire form always names its variant explicitly.
package events

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/umar/roomrelay/internal/models"
)

type Type string

const (
	TypeMessage Type = "MESSAGE"
	TypeReadAck Type = "READ_ACK"
)

const (
	topicPrefix       = "chat:room:"
	destinationPrefix = "/sub/room/"
)

var (
	ErrUnknownEventType   = errors.New("unknown event type")
	ErrInvalidDestination = errors.New("invalid room destination")
)

// Event is implemented only by Message and ReadAck.
type Event interface {
	EventType() Type
	Room() int64
	sealed()
}

type Message struct {
	MessageID      int64              `json:"message_id"`
	RoomID         int64              `json:"room_id"`
	SenderID       *int64             `json:"sender_id"`
	SenderNickname *string            `json:"sender_nickname"`
	Content        string             `json:"content"`
	Type           models.MessageType `json:"type"`
	SentAt         time.Time          `json:"sent_at"`
}

func (Message) EventType() Type { return TypeMessage }
func (m Message) Room() int64   { return m.RoomID }
func (Message) sealed()         {}

// FromMessage builds the event for a persisted message.
func FromMessage(m models.Message) Message {
	return Message{
		MessageID:      m.ID,
		RoomID:         m.RoomID,
		SenderID:       m.SenderID,
		SenderNickname: m.SenderNickname,
		Content:        m.Content,
		Type:           m.Type,
		SentAt:         m.SentAt,
	}
}

type ReadAck struct {
	RoomID int64     `json:"room_id"`
	UserID int64     `json:"user_id"`
	ReadAt time.Time `json:"read_at"`
}

func (ReadAck) EventType() Type { return TypeReadAck }
func (a ReadAck) Room() int64   { return a.RoomID }
func (ReadAck) sealed()         {}

type envelope struct {
	EventType Type            `json:"event_type"`
	Payload   json.RawMessage `json:"payload"`
}

func Encode(ev Event) ([]byte, error) {
	payload, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", ev.EventType(), err)
	}
	return json.Marshal(envelope{EventType: ev.EventType(), Payload: payload})
}

func Decode(data []byte) (Event, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("unmarshal envelope: %w", err)
	}

	switch env.EventType {
	case TypeMessage:
		var m Message
		if err := json.Unmarshal(env.Payload, &m); err != nil {
			return nil, fmt.Errorf("unmarshal %s payload: %w", env.EventType, err)
		}
		return m, nil
	case TypeReadAck:
		var a ReadAck
		if err := json.Unmarshal(env.Payload, &a); err != nil {
			return nil, fmt.Errorf("unmarshal %s payload: %w", env.EventType, err)
		}
		return a, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEventType, env.EventType)
	}
}

// Topic is the fan-out bus address of a room.
func Topic(roomID int64) string {
	return topicPrefix + strconv.FormatInt(roomID, 10)
}

// RoomFromTopic is the inverse of Topic.
func RoomFromTopic(topic string) (int64, bool) {
	rest, ok := strings.CutPrefix(topic, topicPrefix)
	if !ok {
		return 0, false
	}
	id, err := strconv.ParseInt(rest, 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

// Destination is the client-facing subscription address of a room.
func Destination(roomID int64) string {
	return destinationPrefix + strconv.FormatInt(roomID, 10)
}

func ParseDestination(dest string) (int64, error) {
	rest, ok := strings.CutPrefix(dest, destinationPrefix)
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrInvalidDestination, dest)
	}
	id, err := strconv.ParseInt(rest, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidDestination, dest)
	}
	return id, nil
}
