package messaging

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/umar/roomrelay/internal/apperror"
	"github.com/umar/roomrelay/internal/events"
	"github.com/umar/roomrelay/internal/gormstore"
	"github.com/umar/roomrelay/internal/memory"
	"github.com/umar/roomrelay/internal/models"
	"github.com/umar/roomrelay/internal/relay"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
	fail   error
}

func (p *recordingPublisher) Publish(ctx context.Context, roomID int64, ev events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fail != nil {
		return p.fail
	}
	p.events = append(p.events, ev)
	return nil
}

func (p *recordingPublisher) published() []events.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]events.Event(nil), p.events...)
}

type failingUnread struct {
	mock.Mock
	*memory.UnreadStore
}

func (f *failingUnread) Increment(ctx context.Context, roomID, senderID int64, memberIDs []int64) error {
	return f.Called(roomID, senderID, memberIDs).Error(0)
}

type fixture struct {
	store     *gormstore.Store
	unread    *memory.UnreadStore
	registry  *relay.Registry
	publisher *recordingPublisher
	messages  *MessageService
	rooms     *RoomService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store, err := gormstore.Open("sqlite", "file:"+uuid.NewString()+"?mode=memory&cache=shared")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	f := &fixture{
		store:     store,
		unread:    memory.NewUnreadStore(),
		registry:  relay.NewRegistry(memory.NewBus(), nil),
		publisher: &recordingPublisher{},
	}
	d := f.deps()
	f.messages = NewMessageService(d)
	f.rooms = NewRoomService(d, f.messages)
	return f
}

func (f *fixture) deps() Deps {
	return Deps{
		Rooms:     f.store,
		Messages:  f.store,
		Users:     f.store,
		Unread:    f.unread,
		Publisher: f.publisher,
		Topics:    f.registry,
	}
}

func (f *fixture) user(t *testing.T, nick string) int64 {
	t.Helper()
	u := &models.User{Email: nick + "@example.com", Nickname: nick, PasswordHash: "x"}
	require.NoError(t, f.store.CreateUser(context.Background(), u))
	return u.ID
}

func (f *fixture) group(t *testing.T, creator int64, invitees ...int64) int64 {
	t.Helper()
	name := "room"
	sum, err := f.rooms.CreateRoom(context.Background(), creator, CreateRoomRequest{
		Name: &name, Kind: models.RoomGroup, InviteeIDs: invitees,
	})
	require.NoError(t, err)
	return sum.ID
}

func (f *fixture) count(t *testing.T, roomID, userID int64) int64 {
	t.Helper()
	n, err := f.unread.Count(context.Background(), roomID, userID)
	require.NoError(t, err)
	return n
}

func TestSendMessageCountsAndPublishes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u1, u2, u3 := f.user(t, "alice"), f.user(t, "bob"), f.user(t, "carol")
	room := f.group(t, u1, u2, u3)

	ev, err := f.messages.SendMessage(ctx, u1, room, "hi", "")
	require.NoError(t, err)
	assert.NotZero(t, ev.MessageID)
	assert.Equal(t, room, ev.RoomID)
	require.NotNil(t, ev.SenderID)
	assert.Equal(t, u1, *ev.SenderID)
	require.NotNil(t, ev.SenderNickname)
	assert.Equal(t, "alice", *ev.SenderNickname)
	assert.Equal(t, models.MessageText, ev.Type)

	assert.Equal(t, int64(0), f.count(t, room, u1))
	assert.Equal(t, int64(1), f.count(t, room, u2))
	assert.Equal(t, int64(1), f.count(t, room, u3))

	pub := f.publisher.published()
	require.Len(t, pub, 1)
	assert.Equal(t, ev, pub[0])

	next, err := f.messages.SendMessage(ctx, u2, room, "hey", models.MessageImage)
	require.NoError(t, err)
	assert.Greater(t, next.MessageID, ev.MessageID)
	assert.Equal(t, int64(1), f.count(t, room, u1))
	assert.Equal(t, int64(1), f.count(t, room, u2))
	assert.Equal(t, int64(2), f.count(t, room, u3))
}

func TestSendMessageRejections(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u1, u2, outsider := f.user(t, "alice"), f.user(t, "bob"), f.user(t, "mallory")
	room := f.group(t, u1, u2)

	tcases := []struct {
		name    string
		sender  int64
		room    int64
		content string
		typ     models.MessageType
		want    error
	}{
		{name: "missing room", sender: u1, room: room + 100, content: "hi", want: apperror.ErrRoomNotFound},
		{name: "missing sender", sender: u1 + 100, room: room, content: "hi", want: apperror.ErrUserNotFound},
		{name: "not a member", sender: outsider, room: room, content: "hi", want: apperror.ErrNotRoomMember},
		{name: "not a member with blank content", sender: outsider, room: room, content: "  ", want: apperror.ErrNotRoomMember},
		{name: "missing room with system type", sender: u1, room: room + 100, content: "hi", typ: models.MessageSystem, want: apperror.ErrRoomNotFound},
		{name: "blank content", sender: u1, room: room, content: "   ", want: apperror.ErrInvalidInput},
		{name: "system type", sender: u1, room: room, content: "hi", typ: models.MessageSystem, want: apperror.ErrInvalidInput},
		{name: "unknown type", sender: u1, room: room, content: "hi", typ: "VIDEO", want: apperror.ErrInvalidInput},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.messages.SendMessage(ctx, tc.sender, tc.room, tc.content, tc.typ)
			assert.ErrorIs(t, err, tc.want)
		})
	}

	msgs, err := f.store.ListMessages(ctx, room, 0, 10)
	require.NoError(t, err)
	assert.Empty(t, msgs)
	assert.Zero(t, f.count(t, room, u1))
	assert.Zero(t, f.count(t, room, u2))
	assert.Empty(t, f.publisher.published())
}

func TestSendMessageToleratesUnreadFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u1, u2 := f.user(t, "alice"), f.user(t, "bob")
	room := f.group(t, u1, u2)

	unread := &failingUnread{UnreadStore: f.unread}
	unread.On("Increment", room, u1, []int64{u1, u2}).Return(errors.New("redis down"))
	d := f.deps()
	d.Unread = unread
	svc := NewMessageService(d)

	ev, err := svc.SendMessage(ctx, u1, room, "still delivered", "")
	require.NoError(t, err)
	unread.AssertExpectations(t)
	assert.Len(t, f.publisher.published(), 1)

	msgs, err := f.store.ListMessages(ctx, room, 0, 10)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, ev.MessageID, msgs[0].ID)
}

func TestSendMessagePublishFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u1, u2 := f.user(t, "alice"), f.user(t, "bob")
	room := f.group(t, u1, u2)
	f.publisher.fail = errors.New("bus unavailable")

	ev, err := f.messages.SendMessage(ctx, u1, room, "hi", "")
	require.ErrorIs(t, err, ErrPublishFailed)
	assert.NotZero(t, ev.MessageID, "message is persisted before publishing")
	assert.Equal(t, int64(1), f.count(t, room, u2))
}

func TestGetMessagesPagination(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u1, u2 := f.user(t, "alice"), f.user(t, "bob")
	room := f.group(t, u1, u2)

	var all []int64
	for i := 0; i < 23; i++ {
		sender := u1
		if i%2 == 1 {
			sender = u2
		}
		ev, err := f.messages.SendMessage(ctx, sender, room, "msg", "")
		require.NoError(t, err)
		all = append(all, ev.MessageID)
	}

	for _, limit := range []int{1, 5, 7, 23, 30} {
		t.Run("limit", func(t *testing.T) {
			var seen []int64
			var cursor *int64
			for {
				page, err := f.messages.GetMessages(ctx, u2, room, cursor, limit)
				require.NoError(t, err)
				require.LessOrEqual(t, len(page.Messages), limit)

				for i := 1; i < len(page.Messages); i++ {
					require.Greater(t, page.Messages[i-1].ID, page.Messages[i].ID)
				}
				for _, m := range page.Messages {
					seen = append(seen, m.ID)
				}

				if !page.HasNext {
					assert.Nil(t, page.NextCursor)
					break
				}
				require.NotNil(t, page.NextCursor)
				assert.Equal(t, page.Messages[len(page.Messages)-1].ID, *page.NextCursor)
				cursor = page.NextCursor
			}

			require.Len(t, seen, len(all))
			for i, id := range seen {
				assert.Equal(t, all[len(all)-1-i], id)
			}
		})
	}
}

func TestGetMessagesLimitAndCursor(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u1, u2, outsider := f.user(t, "alice"), f.user(t, "bob"), f.user(t, "eve")
	room := f.group(t, u1, u2)

	for _i := 0; _i < 35; _i++ {
		_, err := f.messages.SendMessage(ctx, u1, room, "x", "")
		require.NoError(t, err)
	}

	page, err := f.messages.GetMessages(ctx, u1, room, nil, 0)
	require.NoError(t, err)
	assert.Len(t, page.Messages, DefaultPageSize)
	assert.True(t, page.HasNext)

	page, err = f.messages.GetMessages(ctx, u1, room, nil, 1000)
	require.NoError(t, err)
	assert.Len(t, page.Messages, 35)
	assert.False(t, page.HasNext)

	zero := int64(0)
	_, err = f.messages.GetMessages(ctx, u1, room, &zero, 10)
	assert.ErrorIs(t, err, apperror.ErrInvalidInput)

	_, err = f.messages.GetMessages(ctx, outsider, room, nil, 10)
	assert.ErrorIs(t, err, apperror.ErrNotRoomMember)

	empty := f.group(t, u1, u2)
	page, err = f.messages.GetMessages(ctx, u1, empty, nil, 10)
	require.NoError(t, err)
	assert.NotNil(t, page.Messages)
	assert.Empty(t, page.Messages)
	assert.False(t, page.HasNext)
	assert.Nil(t, page.NextCursor)
}

func TestMarkAsRead(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u1, u2, u3 := f.user(t, "alice"), f.user(t, "bob"), f.user(t, "carol")
	room := f.group(t, u1, u2, u3)

	for _i := 0; _i < 3; _i++ {
		_, err := f.messages.SendMessage(ctx, u1, room, "hi", "")
		require.NoError(t, err)
	}
	require.Equal(t, int64(3), f.count(t, room, u2))

	ack, err := f.messages.MarkAsRead(ctx, u2, room)
	require.NoError(t, err)
	assert.Equal(t, room, ack.RoomID)
	assert.Equal(t, u2, ack.UserID)
	assert.False(t, ack.ReadAt.IsZero())

	assert.Zero(t, f.count(t, room, u2))
	assert.Equal(t, int64(3), f.count(t, room, u3))
	assert.True(t, f.registry.IsAttached(room))

	pub := f.publisher.published()
	require.Len(t, pub, 4)
	assert.Equal(t, ack, pub[3])

	_, err = f.messages.MarkAsRead(ctx, f.user(t, "dave"), room)
	assert.ErrorIs(t, err, apperror.ErrNotRoomMember)
}

func TestSystemMessages(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u1, u2 := f.user(t, "alice"), f.user(t, "bob")
	room := f.group(t, u1, u2)

	ev, err := f.messages.SaveSystemMessage(ctx, room, "maintenance at noon")
	require.NoError(t, err)
	assert.Nil(t, ev.SenderID)
	assert.Equal(t, models.MessageSystem, ev.Type)
	assert.Zero(t, f.count(t, room, u1))
	assert.Zero(t, f.count(t, room, u2))
	assert.Empty(t, f.publisher.published())

	_, err = f.messages.AnnounceSystem(ctx, room, "welcome")
	require.NoError(t, err)
	assert.Len(t, f.publisher.published(), 1)
}

func TestEnterRoom(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u1, u2 := f.user(t, "alice"), f.user(t, "bob")
	room := f.group(t, u1, u2)

	_, err := f.messages.SendMessage(ctx, u1, room, "hi", "")
	require.NoError(t, err)
	require.Equal(t, int64(1), f.count(t, room, u2))

	bob, err := f.messages.AuthorizeMember(ctx, u2, room)
	require.NoError(t, err)
	require.NoError(t, f.messages.EnterRoom(ctx, bob, room))

	assert.Zero(t, f.count(t, room, u2))
	assert.True(t, f.registry.IsAttached(room))

	pub := f.publisher.published()
	require.Len(t, pub, 2)
	notice, ok := pub[1].(events.Message)
	require.True(t, ok)
	assert.Equal(t, "bob joined the room", notice.Content)
	assert.Equal(t, models.MessageSystem, notice.Type)
	assert.Nil(t, notice.SenderID)

	require.NoError(t, f.messages.EnterRoom(ctx, nil, room))
	pub = f.publisher.published()
	assert.Equal(t, "unknown joined the room", pub[2].(events.Message).Content)
}
