// Package messaging authorizes room actions and turns them into persisted,
// counted and fanned-out events.
package messaging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/umar/roomrelay/internal/apperror"
	"github.com/umar/roomrelay/internal/events"
	"github.com/umar/roomrelay/internal/models"
)

const (
	DefaultPageSize = 30
	MaxPageSize     = 100

	unknownNickname = "unknown"
)

// ErrPublishFailed marks an operation whose durable effect happened but whose
// event never reached the bus.
var ErrPublishFailed = errors.New("event not published")

type Deps struct {
	Rooms     RoomStore
	Messages  MessageLog
	Users     UserDirectory
	Unread    UnreadCounter
	Publisher EventPublisher
	Topics    TopicAttacher
	Logger    *slog.Logger
}

type MessageService struct {
	rooms     RoomStore
	messages  MessageLog
	users     UserDirectory
	unread    UnreadCounter
	publisher EventPublisher
	topics    TopicAttacher
	logger    *slog.Logger
	now       func() time.Time
}

func NewMessageService(d Deps) *MessageService {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &MessageService{
		rooms:     d.Rooms,
		messages:  d.Messages,
		users:     d.Users,
		unread:    d.Unread,
		publisher: d.Publisher,
		topics:    d.Topics,
		logger:    logger,
		now:       time.Now,
	}
}

// authorize checks, in order, that the room exists, the user exists and the
// user is a member of the room.
func (s *MessageService) authorize(ctx context.Context, userID, roomID int64) (*models.Room, *models.User, error) {
	room, err := s.rooms.GetRoomByID(ctx, roomID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load room %d: %w", roomID, err)
	}
	if room == nil {
		return nil, nil, apperror.ErrRoomNotFound
	}

	user, err := s.users.GetUserByID(ctx, userID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load user %d: %w", userID, err)
	}
	if user == nil {
		return nil, nil, apperror.ErrUserNotFound
	}

	member, err := s.rooms.IsRoomMember(ctx, roomID, userID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to check membership: %w", err)
	}
	if !member {
		return nil, nil, apperror.ErrNotRoomMember
	}
	return room, user, nil
}

// AuthorizeMember returns the user when they may act on the room.
func (s *MessageService) AuthorizeMember(ctx context.Context, userID, roomID int64) (*models.User, error) {
	_, user, err := s.authorize(ctx, userID, roomID)
	return user, err
}

// SendMessage authorizes the sender before validating the payload.
func (s *MessageService) SendMessage(ctx context.Context, senderID, roomID int64, content string, typ models.MessageType) (events.Message, error) {
	_, sender, err := s.authorize(ctx, senderID, roomID)
	if err != nil {
		return events.Message{}, err
	}

	if typ == "" {
		typ = models.MessageText
	}
	if !typ.Valid() || typ == models.MessageSystem {
		return events.Message{}, fmt.Errorf("%w: unsupported message type %q", apperror.ErrInvalidInput, typ)
	}
	if strings.TrimSpace(content) == "" {
		return events.Message{}, fmt.Errorf("%w: content is required", apperror.ErrInvalidInput)
	}

	msg := &models.Message{
		RoomID:   roomID,
		SenderID: &senderID,
		Content:  content,
		Type:     typ,
	}
	if err := s.messages.AppendMessage(ctx, msg); err != nil {
		return events.Message{}, fmt.Errorf("failed to save message: %w", err)
	}
	nickname := sender.Nickname
	msg.SenderNickname = &nickname
	ev := events.FromMessage(*msg)

	// The message is durable from here on; counter drift is tolerated.
	s.countUnread(ctx, roomID, senderID)

	if err := s.publisher.Publish(ctx, roomID, ev); err != nil {
		return ev, fmt.Errorf("%w: message %d: %w", ErrPublishFailed, msg.ID, err)
	}
	return ev, nil
}

func (s *MessageService) countUnread(ctx context.Context, roomID, senderID int64) {
	memberIDs, err := s.rooms.ListRoomMemberIDs(ctx, roomID)
	if err != nil {
		s.logger.Warn("unread counts skipped", "room_id", roomID, "error", err)
		return
	}
	if err := s.unread.Increment(ctx, roomID, senderID, memberIDs); err != nil {
		s.logger.Warn("unread increment failed", "room_id", roomID, "error", err)
	}
}

func normalizeLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultPageSize
	case limit > MaxPageSize:
		return MaxPageSize
	}
	return limit
}

// GetMessages returns one page of history, newest first. Pass the previous
// page's NextCursor to continue with older messages.
func (s *MessageService) GetMessages(ctx context.Context, userID, roomID int64, cursor *int64, limit int) (models.MessagePage, error) {
	if cursor != nil && *cursor <= 0 {
		return models.MessagePage{}, fmt.Errorf("%w: cursor must be positive", apperror.ErrInvalidInput)
	}
	if _, _, err := s.authorize(ctx, userID, roomID); err != nil {
		return models.MessagePage{}, err
	}

	limit = normalizeLimit(limit)
	var before int64
	if cursor != nil {
		before = *cursor
	}

	msgs, err := s.messages.ListMessages(ctx, roomID, before, limit+1)
	if err != nil {
		return models.MessagePage{}, fmt.Errorf("failed to list messages: %w", err)
	}

	page := models.MessagePage{Messages: msgs}
	if len(msgs) > limit {
		page.Messages = msgs[:limit]
		page.HasNext = true
		next := page.Messages[limit-1].ID
		page.NextCursor = &next
	}
	if page.Messages == nil {
		page.Messages = []models.Message{}
	}
	return page, nil
}

func (s *MessageService) MarkAsRead(ctx context.Context, userID, roomID int64) (events.ReadAck, error) {
	if _, _, err := s.authorize(ctx, userID, roomID); err != nil {
		return events.ReadAck{}, err
	}

	if err := s.unread.Reset(ctx, roomID, userID); err != nil {
		return events.ReadAck{}, fmt.Errorf("failed to reset unread count: %w", err)
	}
	if err := s.topics.Attach(ctx, roomID); err != nil {
		s.logger.Warn("room topic attach failed", "room_id", roomID, "error", err)
	}

	ack := events.ReadAck{RoomID: roomID, UserID: userID, ReadAt: s.now().UTC()}
	if err := s.publisher.Publish(ctx, roomID, ack); err != nil {
		return ack, fmt.Errorf("%w: read ack: %w", ErrPublishFailed, err)
	}
	return ack, nil
}

// SaveSystemMessage persists a sender-less SYSTEM message. It neither checks
// membership nor touches unread counters.
func (s *MessageService) SaveSystemMessage(ctx context.Context, roomID int64, content string) (events.Message, error) {
	msg := &models.Message{
		RoomID:  roomID,
		Content: content,
		Type:    models.MessageSystem,
	}
	if err := s.messages.AppendMessage(ctx, msg); err != nil {
		return events.Message{}, fmt.Errorf("failed to save system message: %w", err)
	}
	return events.FromMessage(*msg), nil
}

// AnnounceSystem saves a system message and publishes it to the room.
func (s *MessageService) AnnounceSystem(ctx context.Context, roomID int64, content string) (events.Message, error) {
	ev, err := s.SaveSystemMessage(ctx, roomID, content)
	if err != nil {
		return events.Message{}, err
	}
	if err := s.publisher.Publish(ctx, roomID, ev); err != nil {
		return ev, fmt.Errorf("%w: system message %d: %w", ErrPublishFailed, ev.MessageID, err)
	}
	return ev, nil
}

// EnterRoom runs the side effects of a session's first subscription to a
// room: the reader's unread counter is cleared, the room topic is attached on
// this instance and a join notice is announced.
func (s *MessageService) EnterRoom(ctx context.Context, user *models.User, roomID int64) error {
	if user != nil {
		if err := s.unread.Reset(ctx, roomID, user.ID); err != nil {
			s.logger.Warn("unread reset on enter failed", "room_id", roomID, "user_id", user.ID, "error", err)
		}
	}
	if err := s.topics.Attach(ctx, roomID); err != nil {
		return fmt.Errorf("failed to attach room %d: %w", roomID, err)
	}
	if _, err := s.AnnounceSystem(ctx, roomID, nicknameOf(user)+" joined the room"); err != nil {
		return err
	}
	return nil
}

func nicknameOf(u *models.User) string {
	if u == nil || strings.TrimSpace(u.Nickname) == "" {
		return unknownNickname
	}
	return u.Nickname
}
