package models

import (
	"strings"
	"time"
)

type RoomKind string

const (
	RoomDirect RoomKind = "DIRECT"
	RoomGroup  RoomKind = "GROUP"
)

func (k RoomKind) Valid() bool {
	return k == RoomDirect || k == RoomGroup
}

// Room is a chat room. Name is nil for DIRECT rooms.
type Room struct {
	ID        int64     `json:"id"`
	Name      *string   `json:"name"`
	Kind      RoomKind  `json:"type"`
	CreatedAt time.Time `json:"created_at"`
}

// DisplayName returns the room name or an empty string for unnamed rooms.
func (r Room) DisplayName() string {
	if r.Name == nil {
		return ""
	}
	return strings.TrimSpace(*r.Name)
}

type Membership struct {
	RoomID   int64     `json:"room_id"`
	UserID   int64     `json:"user_id"`
	JoinedAt time.Time `json:"joined_at"`
}

// RoomSummary is a room with the aggregate data the room list and room view need.
type RoomSummary struct {
	Room
	MemberCount int   `json:"member_count"`
	UnreadCount int64 `json:"unread_count"`
}
