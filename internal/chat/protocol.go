package chat

import (
	"encoding/json"

	"github.com/umar/roomrelay/internal/events"
	"github.com/umar/roomrelay/internal/models"
)

const (
	TypeConnect     = "connect"
	TypeSubscribe   = "subscribe"
	TypeUnsubscribe = "unsubscribe"
	TypeMessageSend = "message.send"
	TypeMessageRead = "message.read"
	TypePing        = "ping"

	TypeConnected    = "connected"
	TypeSubscribed   = "subscribed"
	TypeUnsubscribed = "unsubscribed"
	TypeMessageNew   = "message.new"
	TypeReadAck      = "read_ack"
	TypeError        = "error"
	TypePong         = "pong"
)

// WSMessage is one websocket frame in either direction. Destination carries a
// room address ("/sub/room/<id>") on subscribe frames and on relayed events.
type WSMessage struct {
	Type        string          `json:"type"`
	Destination string          `json:"destination,omitempty"`
	Payload     json.RawMessage `json:"payload,omitempty"`
}

type ConnectPayload struct {
	Token string `json:"token"`
}

type ConnectedPayload struct {
	ConnID   string `json:"conn_id"`
	UserID   int64  `json:"user_id"`
	Nickname string `json:"nickname"`
}

type SendMessagePayload struct {
	RoomID  int64              `json:"room_id"`
	Content string             `json:"content"`
	Type    models.MessageType `json:"type"`
}

type RoomPayload struct {
	RoomID int64 `json:"room_id"`
}

type ErrorPayload struct {
	Message string `json:"message"`
	Code    string `json:"code"`
}

func NewWSMessage(msgType string, payload interface{}) ([]byte, error) {
	return newFrame(msgType, "", payload)
}

func newFrame(msgType, destination string, payload interface{}) ([]byte, error) {
	var p json.RawMessage
	if payload != nil {
		var err error
		p, err = json.Marshal(payload)
		if err != nil {
			return nil, err
		}
	}
	msg := WSMessage{Type: msgType, Destination: destination, Payload: p}
	return json.Marshal(msg)
}

// eventFrame renders a relayed event for the client subscribed to its room.
func eventFrame(ev events.Event) ([]byte, error) {
	dest := events.Destination(ev.Room())
	switch ev := ev.(type) {
	case events.Message:
		return newFrame(TypeMessageNew, dest, ev)
	case events.ReadAck:
		return newFrame(TypeReadAck, dest, ev)
	}
	return nil, events.ErrUnknownEventType
}
