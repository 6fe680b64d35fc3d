package messaging

import (
	"context"

	"github.com/umar/roomrelay/internal/events"
	"github.com/umar/roomrelay/internal/models"
)

// RoomStore is the durable room and membership record. Lookups return
// (nil, nil) when the row does not exist.
type RoomStore interface {
	GetRoomByID(ctx context.Context, roomID int64) (*models.Room, error)
	// CreateRoom inserts room and its memberships in one transaction, filling
	// in room.ID and room.CreatedAt.
	CreateRoom(ctx context.Context, room *models.Room, memberIDs []int64) error
	IsRoomMember(ctx context.Context, roomID, userID int64) (bool, error)
	// AddRoomMember reports false when the membership already existed.
	AddRoomMember(ctx context.Context, roomID, userID int64) (bool, error)
	RemoveRoomMember(ctx context.Context, roomID, userID int64) (bool, error)
	ListRoomMemberIDs(ctx context.Context, roomID int64) ([]int64, error)
	CountRoomMembers(ctx context.Context, roomID int64) (int, error)
	// CountMembersByRoom counts members of many rooms in one query. Rooms
	// without members are absent from the result.
	CountMembersByRoom(ctx context.Context, roomIDs []int64) (map[int64]int, error)
	ListRoomsForUser(ctx context.Context, userID int64) ([]models.Room, error)
}

// MessageLog is the append-only message history. AppendMessage assigns the
// monotonic ID and SentAt. ListMessages returns at most limit messages with
// ID < before (or the newest when before is 0), in descending ID order, with
// SenderNickname resolved.
type MessageLog interface {
	AppendMessage(ctx context.Context, msg *models.Message) error
	ListMessages(ctx context.Context, roomID, before int64, limit int) ([]models.Message, error)
}

type UserDirectory interface {
	GetUserByID(ctx context.Context, userID int64) (*models.User, error)
}

// UnreadCounter keeps per (room, user) unread counts. A missing counter reads
// as zero.
type UnreadCounter interface {
	Increment(ctx context.Context, roomID, senderID int64, memberIDs []int64) error
	Reset(ctx context.Context, roomID, userID int64) error
	Count(ctx context.Context, roomID, userID int64) (int64, error)
	Counts(ctx context.Context, userID int64, roomIDs []int64) (map[int64]int64, error)
}

type PresenceTracker interface {
	MarkOnline(ctx context.Context, userID int64) error
	MarkOffline(ctx context.Context, userID int64) error
	IsOnline(ctx context.Context, userID int64) (bool, error)
	ListOnline(ctx context.Context) ([]int64, error)
}

type EventPublisher interface {
	Publish(ctx context.Context, roomID int64, ev events.Event) error
}

type TopicAttacher interface {
	Attach(ctx context.Context, roomID int64) error
}
