package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/umar/roomrelay/internal/apperror"
	"github.com/umar/roomrelay/internal/models"
)

type CreateRoomRequest struct {
	Name       *string
	Kind       models.RoomKind
	InviteeIDs []int64
}

type RoomService struct {
	rooms    RoomStore
	users    UserDirectory
	unread   UnreadCounter
	messages *MessageService
	logger   *slog.Logger
}

func NewRoomService(d Deps, messages *MessageService) *RoomService {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &RoomService{
		rooms:    d.Rooms,
		users:    d.Users,
		unread:   d.Unread,
		messages: messages,
		logger:   logger,
	}
}

// CreateRoom validates the request shape and every participant before any
// row is written. The creator becomes the first member.
func (s *RoomService) CreateRoom(ctx context.Context, creatorID int64, req CreateRoomRequest) (models.RoomSummary, error) {
	invitees, err := validateCreate(creatorID, &req)
	if err != nil {
		return models.RoomSummary{}, err
	}

	for _, id := range append([]int64{creatorID}, invitees...) {
		user, err := s.users.GetUserByID(ctx, id)
		if err != nil {
			return models.RoomSummary{}, fmt.Errorf("failed to load user %d: %w", id, err)
		}
		if user == nil {
			return models.RoomSummary{}, apperror.ErrUserNotFound
		}
	}

	room := &models.Room{Name: req.Name, Kind: req.Kind}
	members := append([]int64{creatorID}, invitees...)
	if err := s.rooms.CreateRoom(ctx, room, members); err != nil {
		return models.RoomSummary{}, fmt.Errorf("failed to create room: %w", err)
	}

	s.logger.Info("room created", "room_id", room.ID, "type", room.Kind, "user_id", creatorID, "members", len(members))
	return models.RoomSummary{Room: *room, MemberCount: len(members)}, nil
}

func validateCreate(creatorID int64, req *CreateRoomRequest) ([]int64, error) {
	if !req.Kind.Valid() {
		return nil, fmt.Errorf("%w: room type must be DIRECT or GROUP", apperror.ErrInvalidInput)
	}

	var invitees []int64
	for _, id := range req.InviteeIDs {
		if id <= 0 {
			return nil, fmt.Errorf("%w: invalid invitee id %d", apperror.ErrInvalidInput, id)
		}
		if id == creatorID {
			return nil, fmt.Errorf("%w: cannot invite yourself", apperror.ErrInvalidInput)
		}
		if !slices.Contains(invitees, id) {
			invitees = append(invitees, id)
		}
	}

	switch req.Kind {
	case models.RoomDirect:
		// counted before de-duplication: [5, 5] is two invitees
		if len(req.InviteeIDs) != 1 {
			return nil, fmt.Errorf("%w: a direct room needs exactly one invitee", apperror.ErrInvalidInput)
		}
		req.Name = nil
	case models.RoomGroup:
		if req.Name == nil || strings.TrimSpace(*req.Name) == "" {
			return nil, fmt.Errorf("%w: a group room needs a name", apperror.ErrInvalidInput)
		}
		if len(invitees) == 0 {
			return nil, fmt.Errorf("%w: a group room needs at least one invitee", apperror.ErrInvalidInput)
		}
		name := strings.TrimSpace(*req.Name)
		req.Name = &name
	}
	return invitees, nil
}

// LeaveRoom removes the caller's membership, clears their unread counter and
// announces the departure to the remaining members.
func (s *RoomService) LeaveRoom(ctx context.Context, userID, roomID int64) error {
	room, err := s.rooms.GetRoomByID(ctx, roomID)
	if err != nil {
		return fmt.Errorf("failed to load room %d: %w", roomID, err)
	}
	if room == nil {
		return apperror.ErrRoomNotFound
	}
	user, err := s.users.GetUserByID(ctx, userID)
	if err != nil {
		return fmt.Errorf("failed to load user %d: %w", userID, err)
	}
	if user == nil {
		return apperror.ErrUserNotFound
	}

	removed, err := s.rooms.RemoveRoomMember(ctx, roomID, userID)
	if err != nil {
		return fmt.Errorf("failed to leave room: %w", err)
	}
	if !removed {
		return apperror.ErrNotRoomMember
	}

	if err := s.unread.Reset(ctx, roomID, userID); err != nil {
		s.logger.Warn("unread reset on leave failed", "room_id", roomID, "user_id", userID, "error", err)
	}
	if _, err := s.messages.AnnounceSystem(ctx, roomID, nicknameOf(user)+" left the room"); err != nil {
		s.logger.Warn("leave notice failed", "room_id", roomID, "user_id", userID, "error", err)
	}
	return nil
}

func (s *RoomService) InviteMember(ctx context.Context, requesterID, roomID, inviteeID int64) error {
	room, _, err := s.messages.authorize(ctx, requesterID, roomID)
	if err != nil {
		return err
	}
	if room.Kind == models.RoomDirect {
		return fmt.Errorf("%w: direct rooms cannot take new members", apperror.ErrInvalidInput)
	}

	invitee, err := s.users.GetUserByID(ctx, inviteeID)
	if err != nil {
		return fmt.Errorf("failed to load user %d: %w", inviteeID, err)
	}
	if invitee == nil {
		return apperror.ErrUserNotFound
	}

	added, err := s.rooms.AddRoomMember(ctx, roomID, inviteeID)
	if err != nil {
		return fmt.Errorf("failed to add member: %w", err)
	}
	if !added {
		return apperror.ErrAlreadyJoinedRoom
	}

	s.logger.Info("member invited", "room_id", roomID, "user_id", inviteeID, "invited_by", requesterID)
	return nil
}

func (s *RoomService) GetRoom(ctx context.Context, userID, roomID int64) (models.RoomSummary, error) {
	room, _, err := s.messages.authorize(ctx, userID, roomID)
	if err != nil {
		return models.RoomSummary{}, err
	}

	count, err := s.rooms.CountRoomMembers(ctx, roomID)
	if err != nil {
		return models.RoomSummary{}, fmt.Errorf("failed to count members: %w", err)
	}
	unread, err := s.unread.Count(ctx, roomID, userID)
	if err != nil {
		s.logger.Warn("unread count unavailable", "room_id", roomID, "user_id", userID, "error", err)
		unread = 0
	}
	return models.RoomSummary{Room: *room, MemberCount: count, UnreadCount: unread}, nil
}

// ListMyRooms returns the caller's rooms, each annotated with member count and
// the caller's unread count.
func (s *RoomService) ListMyRooms(ctx context.Context, userID int64) ([]models.RoomSummary, error) {
	user, err := s.users.GetUserByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load user %d: %w", userID, err)
	}
	if user == nil {
		return nil, apperror.ErrUserNotFound
	}

	rooms, err := s.rooms.ListRoomsForUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list rooms: %w", err)
	}

	ids := make([]int64, len(rooms))
	for i, r := range rooms {
		ids[i] = r.ID
	}
	counts, err := s.unread.Counts(ctx, userID, ids)
	if err != nil {
		s.logger.Warn("unread counts unavailable", "user_id", userID, "error", err)
		counts = map[int64]int64{}
	}

	members, err := s.rooms.CountMembersByRoom(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to count room members: %w", err)
	}

	out := make([]models.RoomSummary, 0, len(rooms))
	for _, r := range rooms {
		out = append(out, models.RoomSummary{Room: r, MemberCount: members[r.ID], UnreadCount: counts[r.ID]})
	}
	return out, nil
}
