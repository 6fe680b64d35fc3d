package models

import "time"

type MessageType string

const (
	MessageText   MessageType = "TEXT"
	MessageImage  MessageType = "IMAGE"
	MessageFile   MessageType = "FILE"
	MessageSystem MessageType = "SYSTEM"
)

func (t MessageType) Valid() bool {
	switch t {
	case MessageText, MessageImage, MessageFile, MessageSystem:
		return true
	}
	return false
}

// Message is an immutable entry in a room's history. SenderID is nil for
// system messages. SenderNickname is resolved at read time and not stored.
type Message struct {
	ID             int64       `json:"message_id"`
	RoomID         int64       `json:"room_id"`
	SenderID       *int64      `json:"sender_id"`
	SenderNickname *string     `json:"sender_nickname"`
	Content        string      `json:"content"`
	Type           MessageType `json:"type"`
	SentAt         time.Time   `json:"sent_at"`
}

// MessagePage is one page of a room's history in descending id order.
type MessagePage struct {
	Messages   []Message `json:"messages"`
	HasNext    bool      `json:"has_next"`
	NextCursor *int64    `json:"next_cursor"`
}
