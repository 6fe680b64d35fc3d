package storetest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/umar/roomrelay/internal/apperror"
	"github.com/umar/roomrelay/internal/messaging"
	"github.com/umar/roomrelay/internal/models"
)

// DurableStore is the full set of durable collaborators a database backend
// provides.
type DurableStore interface {
	messaging.RoomStore
	messaging.MessageLog
	messaging.UserDirectory
	CreateUser(ctx context.Context, u *models.User) error
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	UpdateProfile(ctx context.Context, u *models.User) error
}

type DurableFactory func(t *testing.T) DurableStore

func RunDurableTests(t *testing.T, factory DurableFactory) {
	t.Run("Users", func(t *testing.T) {
		s := factory(t)
		ctx := context.Background()

		u := &models.User{Email: "alice@example.com", Nickname: "alice", PasswordHash: "hash"}
		require.NoError(t, s.CreateUser(ctx, u))
		assert.NotZero(t, u.ID)

		err := s.CreateUser(ctx, &models.User{Email: "alice@example.com", Nickname: "other", PasswordHash: "hash"})
		assert.ErrorIs(t, err, apperror.ErrEmailTaken)

		got, err := s.GetUserByEmail(ctx, "alice@example.com")
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, u.ID, got.ID)
		assert.Equal(t, "hash", got.PasswordHash)

		got, err = s.GetUserByID(ctx, u.ID+1000)
		require.NoError(t, err)
		assert.Nil(t, got)
	})

	t.Run("Profile", func(t *testing.T) {
		s := factory(t)
		ctx := context.Background()
		id := seedUser(t, s, "bob")

		got, err := s.GetUserByID(ctx, id)
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Nil(t, got.ProfileImageURL)

		img := "https://cdn.example.com/bob.png"
		got.Nickname = "bobby"
		got.ProfileImageURL = &img
		require.NoError(t, s.UpdateProfile(ctx, got))

		got, err = s.GetUserByID(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, "bobby", got.Nickname)
		require.NotNil(t, got.ProfileImageURL)
		assert.Equal(t, img, *got.ProfileImageURL)
		assert.Equal(t, "x", got.PasswordHash)

		got.ProfileImageURL = nil
		require.NoError(t, s.UpdateProfile(ctx, got))
		got, err = s.GetUserByID(ctx, id)
		require.NoError(t, err)
		assert.Nil(t, got.ProfileImageURL)

		err = s.UpdateProfile(ctx, &models.User{ID: id + 1000, Nickname: "ghost"})
		assert.ErrorIs(t, err, apperror.ErrUserNotFound)
	})

	t.Run("RoomsAndMembership", func(t *testing.T) {
		s := factory(t)
		ctx := context.Background()
		a, b, c := seedUser(t, s, "a"), seedUser(t, s, "b"), seedUser(t, s, "c")

		name := "general"
		room := &models.Room{Name: &name, Kind: models.RoomGroup}
		require.NoError(t, s.CreateRoom(ctx, room, []int64{a, b}))
		assert.NotZero(t, room.ID)
		assert.False(t, room.CreatedAt.IsZero())

		got, err := s.GetRoomByID(ctx, room.ID)
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, "general", got.DisplayName())
		assert.Equal(t, models.RoomGroup, got.Kind)

		missing, err := s.GetRoomByID(ctx, room.ID+1000)
		require.NoError(t, err)
		assert.Nil(t, missing)

		ok, err := s.IsRoomMember(ctx, room.ID, b)
		require.NoError(t, err)
		assert.True(t, ok)
		ok, err = s.IsRoomMember(ctx, room.ID, c)
		require.NoError(t, err)
		assert.False(t, ok)

		added, err := s.AddRoomMember(ctx, room.ID, c)
		require.NoError(t, err)
		assert.True(t, added)
		added, err = s.AddRoomMember(ctx, room.ID, c)
		require.NoError(t, err)
		assert.False(t, added, "duplicate membership must not be added")

		ids, err := s.ListRoomMemberIDs(ctx, room.ID)
		require.NoError(t, err)
		assert.Equal(t, []int64{a, b, c}, ids)

		n, err := s.CountRoomMembers(ctx, room.ID)
		require.NoError(t, err)
		assert.Equal(t, 3, n)

		counts, err := s.CountMembersByRoom(ctx, []int64{room.ID, room.ID + 1000})
		require.NoError(t, err)
		assert.Equal(t, map[int64]int{room.ID: 3}, counts)

		counts, err = s.CountMembersByRoom(ctx, nil)
		require.NoError(t, err)
		assert.Empty(t, counts)

		removed, err := s.RemoveRoomMember(ctx, room.ID, b)
		require.NoError(t, err)
		assert.True(t, removed)
		removed, err = s.RemoveRoomMember(ctx, room.ID, b)
		require.NoError(t, err)
		assert.False(t, removed)

		direct := &models.Room{Kind: models.RoomDirect}
		require.NoError(t, s.CreateRoom(ctx, direct, []int64{a, c}))

		counts, err = s.CountMembersByRoom(ctx, []int64{room.ID, direct.ID})
		require.NoError(t, err)
		assert.Equal(t, map[int64]int{room.ID: 2, direct.ID: 2}, counts)

		rooms, err := s.ListRoomsForUser(ctx, a)
		require.NoError(t, err)
		require.Len(t, rooms, 2)
		assert.Equal(t, room.ID, rooms[0].ID)
		assert.Equal(t, direct.ID, rooms[1].ID)
		assert.Nil(t, rooms[1].Name)

		rooms, err = s.ListRoomsForUser(ctx, b)
		require.NoError(t, err)
		assert.Empty(t, rooms)
	})

	t.Run("MessageLog", func(t *testing.T) {
		s := factory(t)
		ctx := context.Background()
		a := seedUser(t, s, "writer")

		name := "log"
		room := &models.Room{Name: &name, Kind: models.RoomGroup}
		require.NoError(t, s.CreateRoom(ctx, room, []int64{a}))

		var ids []int64
		for i := 0; i < 5; i++ {
			msg := &models.Message{RoomID: room.ID, SenderID: &a, Content: "m" + string(rune('0'+i)), Type: models.MessageText}
			require.NoError(t, s.AppendMessage(ctx, msg))
			assert.False(t, msg.SentAt.IsZero())
			ids = append(ids, msg.ID)
		}
		sys := &models.Message{RoomID: room.ID, Content: "writer joined the room", Type: models.MessageSystem}
		require.NoError(t, s.AppendMessage(ctx, sys))
		ids = append(ids, sys.ID)

		for i := 1; i < len(ids); i++ {
			assert.Greater(t, ids[i], ids[i-1], "message ids must increase")
		}

		page, err := s.ListMessages(ctx, room.ID, 0, 3)
		require.NoError(t, err)
		require.Len(t, page, 3)
		assert.Equal(t, sys.ID, page[0].ID)
		assert.Nil(t, page[0].SenderID)
		assert.Nil(t, page[0].SenderNickname)
		assert.Equal(t, models.MessageSystem, page[0].Type)
		require.NotNil(t, page[1].SenderNickname)
		assert.Equal(t, "writer", *page[1].SenderNickname)

		older, err := s.ListMessages(ctx, room.ID, page[2].ID, 10)
		require.NoError(t, err)
		require.Len(t, older, 3)
		assert.Equal(t, ids[2], older[0].ID)
		assert.Equal(t, ids[0], older[2].ID)

		other, err := s.ListMessages(ctx, room.ID+1000, 0, 10)
		require.NoError(t, err)
		assert.Empty(t, other)
	})
}

func seedUser(t *testing.T, s DurableStore, nick string) int64 {
	t.Helper()
	u := &models.User{Email: nick + "@example.com", Nickname: nick, PasswordHash: "x"}
	require.NoError(t, s.CreateUser(context.Background(), u))
	return u.ID
}
