package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/umar/roomrelay/internal/auth"
	"github.com/umar/roomrelay/internal/gormstore"
	"github.com/umar/roomrelay/internal/handlers"
	"github.com/umar/roomrelay/internal/memory"
	"github.com/umar/roomrelay/internal/messaging"
	"github.com/umar/roomrelay/internal/models"
	"github.com/umar/roomrelay/internal/relay"
)

type env struct {
	store    *gormstore.Store
	unread   *memory.UnreadStore
	presence *memory.PresenceStore
	tokens   *auth.TokenService
	messages *messaging.MessageService
	handler  http.Handler
}

func newEnv(t *testing.T, checks map[string]handlers.Check) *env {
	t.Helper()
	store, err := gormstore.Open("sqlite", "file:"+uuid.NewString()+"?mode=memory&cache=shared")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	bus := memory.NewBus()
	e := &env{
		store:    store,
		unread:   memory.NewUnreadStore(),
		presence: memory.NewPresenceStore(),
		tokens:   auth.NewTokenService("secret", time.Hour),
	}
	d := messaging.Deps{
		Rooms:     store,
		Messages:  store,
		Users:     store,
		Unread:    e.unread,
		Publisher: relay.NewPublisher(bus),
		Topics:    relay.NewRegistry(bus, nil),
	}
	e.messages = messaging.NewMessageService(d)
	e.handler = handlers.NewRouter(handlers.API{
		Rooms:       messaging.NewRoomService(d, e.messages),
		Messages:    e.messages,
		Presence:    e.presence,
		Users:       store,
		Tokens:      e.tokens,
		Checks:      checks,
		CORSOrigins: []string{"http://localhost:5173"},
	})
	return e
}

func (e *env) user(t *testing.T, nick string) (int64, string) {
	t.Helper()
	u := &models.User{Email: nick + "@example.com", Nickname: nick, PasswordHash: "x"}
	require.NoError(t, e.store.CreateUser(context.Background(), u))
	token, err := e.tokens.GenerateToken(u)
	require.NoError(t, err)
	return u.ID, token
}

func (e *env) do(t *testing.T, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func code(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	return decode[map[string]string](t, rec)["code"]
}

func roomPath(id int64, suffix string) string {
	return "/api/rooms/" + strconv.FormatInt(id, 10) + suffix
}

func (e *env) createGroup(t *testing.T, token string, invitees ...int64) int64 {
	t.Helper()
	rec := e.do(t, http.MethodPost, "/api/rooms", token, map[string]interface{}{
		"name": "general", "type": "GROUP", "invitee_ids": invitees,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decode[models.RoomSummary](t, rec).ID
}

func TestHealth(t *testing.T) {
	e := newEnv(t, map[string]handlers.Check{
		"database": func(ctx context.Context) error { return nil },
	})
	rec := e.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "healthy", decode[map[string]interface{}](t, rec)["status"])

	e = newEnv(t, map[string]handlers.Check{
		"redis": func(ctx context.Context) error { return errors.New("dial tcp: refused") },
	})
	rec = e.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	body := decode[map[string]interface{}](t, rec)
	assert.Equal(t, "degraded", body["status"])
	assert.Equal(t, map[string]interface{}{"redis": "unavailable"}, body["dependencies"])
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	e := newEnv(t, nil)

	rec := e.do(t, http.MethodGet, "/api/rooms", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "UNAUTHORIZED", code(t, rec))

	rec = e.do(t, http.MethodGet, "/api/rooms", "garbage", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "INVALID_TOKEN", code(t, rec))
}

func TestUnknownRoute(t *testing.T) {
	e := newEnv(t, nil)
	rec := e.do(t, http.MethodGet, "/nope", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "NOT_FOUND", code(t, rec))
}

func TestRoomLifecycle(t *testing.T) {
	e := newEnv(t, nil)
	_, aliceToken := e.user(t, "alice")
	bob, bobToken := e.user(t, "bob")
	carol, carolToken := e.user(t, "carol")

	room := e.createGroup(t, aliceToken, bob)

	rec := e.do(t, http.MethodGet, roomPath(room, ""), bobToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	summary := decode[models.RoomSummary](t, rec)
	assert.Equal(t, 2, summary.MemberCount)
	assert.Equal(t, "general", summary.DisplayName())

	rec = e.do(t, http.MethodGet, roomPath(room, ""), carolToken, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "NOT_ROOM_MEMBER", code(t, rec))

	rec = e.do(t, http.MethodPost, roomPath(room, "/members"), aliceToken, map[string]int64{"user_id": carol})
	assert.Equal(t, http.StatusCreated, rec.Code)

	rec = e.do(t, http.MethodPost, roomPath(room, "/members"), aliceToken, map[string]int64{"user_id": carol})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "ALREADY_JOINED_ROOM", code(t, rec))

	rec = e.do(t, http.MethodDelete, roomPath(room, "/members/me"), carolToken, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = e.do(t, http.MethodDelete, roomPath(room, "/members/me"), carolToken, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = e.do(t, http.MethodGet, roomPath(room+50, ""), aliceToken, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "CHAT_ROOM_NOT_FOUND", code(t, rec))
}

func TestCreateRoomRejections(t *testing.T) {
	e := newEnv(t, nil)
	_, token := e.user(t, "alice")
	bob, _ := e.user(t, "bob")

	tcases := []struct {
		name   string
		body   interface{}
		status int
		code   string
	}{
		{name: "not json", body: "x", status: http.StatusBadRequest, code: "INVALID_INPUT"},
		{name: "unknown type", body: map[string]interface{}{"type": "CHANNEL", "invitee_ids": []int64{bob}}, status: http.StatusBadRequest, code: "INVALID_INPUT"},
		{name: "group without name", body: map[string]interface{}{"type": "GROUP", "invitee_ids": []int64{bob}}, status: http.StatusBadRequest, code: "INVALID_INPUT"},
		{name: "direct with two", body: map[string]interface{}{"type": "DIRECT", "invitee_ids": []int64{bob, bob + 1}}, status: http.StatusBadRequest, code: "INVALID_INPUT"},
		{name: "unknown invitee", body: map[string]interface{}{"type": "DIRECT", "invitee_ids": []int64{bob + 99}}, status: http.StatusNotFound, code: "USER_NOT_FOUND"},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			rec := e.do(t, http.MethodPost, "/api/rooms", token, tc.body)
			assert.Equal(t, tc.status, rec.Code, rec.Body.String())
			assert.Equal(t, tc.code, code(t, rec))
		})
	}
}

func TestMessagesAndUnread(t *testing.T) {
	e := newEnv(t, nil)
	ctx := context.Background()
	alice, aliceToken := e.user(t, "alice")
	bob, bobToken := e.user(t, "bob")
	room := e.createGroup(t, aliceToken, bob)

	for i := 0; i < 5; i++ {
		_, err := e.messages.SendMessage(ctx, alice, room, "m"+strconv.Itoa(i), models.MessageText)
		require.NoError(t, err)
	}

	rec := e.do(t, http.MethodGet, "/api/rooms", bobToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[[]models.RoomSummary](t, rec)
	require.Len(t, list, 1)
	assert.Equal(t, int64(5), list[0].UnreadCount)

	rec = e.do(t, http.MethodGet, roomPath(room, "/messages?limit=3"), bobToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	page := decode[models.MessagePage](t, rec)
	require.Len(t, page.Messages, 3)
	assert.Equal(t, "m4", page.Messages[0].Content)
	assert.True(t, page.HasNext)
	require.NotNil(t, page.NextCursor)

	rec = e.do(t, http.MethodGet, roomPath(room, "/messages?limit=3&cursor="+strconv.FormatInt(*page.NextCursor, 10)), bobToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	page = decode[models.MessagePage](t, rec)
	require.Len(t, page.Messages, 2)
	assert.Equal(t, "m1", page.Messages[0].Content)
	assert.False(t, page.HasNext)
	assert.Nil(t, page.NextCursor)

	rec = e.do(t, http.MethodGet, roomPath(room, "/messages?cursor=abc"), bobToken, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = e.do(t, http.MethodPost, roomPath(room, "/messages/read"), bobToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	ack := decode[map[string]interface{}](t, rec)
	assert.EqualValues(t, bob, ack["user_id"])

	n, err := e.unread.Count(ctx, room, bob)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestPresence(t *testing.T) {
	e := newEnv(t, nil)
	alice, token := e.user(t, "alice")
	require.NoError(t, e.presence.MarkOnline(context.Background(), alice))

	rec := e.do(t, http.MethodGet, "/api/presence", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []int64{alice}, decode[map[string][]int64](t, rec)["user_ids"])

	rec = e.do(t, http.MethodGet, "/api/presence/"+strconv.FormatInt(alice+1, 10), token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, false, decode[map[string]interface{}](t, rec)["online"])
}

func TestAuthRoutes(t *testing.T) {
	e := newEnv(t, nil)

	rec := e.do(t, http.MethodPost, "/api/auth/register", "", map[string]string{
		"email": "dana@example.com", "nickname": "dana", "password": "hunter22",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	token := decode[map[string]interface{}](t, rec)["token"].(string)

	rec = e.do(t, http.MethodGet, "/api/auth/me", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "dana", decode[map[string]interface{}](t, rec)["nickname"])
}

func TestUserProfile(t *testing.T) {
	e := newEnv(t, nil)
	alice, token := e.user(t, "alice")
	room := e.createGroup(t, token)

	rec := e.do(t, http.MethodPatch, "/api/users/me", token, map[string]string{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "INVALID_INPUT", code(t, rec))

	rec = e.do(t, http.MethodPatch, "/api/users/me", token, map[string]string{"profile_image_url": "not a url"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = e.do(t, http.MethodPatch, "/api/users/me", token, map[string]string{
		"nickname": "ally", "profile_image_url": "https://cdn.example.com/ally.png",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = e.do(t, http.MethodGet, "/api/users/me", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	me := decode[models.User](t, rec)
	assert.Equal(t, alice, me.ID)
	assert.Equal(t, "ally", me.Nickname)
	require.NotNil(t, me.ProfileImageURL)
	assert.Equal(t, "https://cdn.example.com/ally.png", *me.ProfileImageURL)

	msg, err := e.messages.SendMessage(context.Background(), alice, room, "hi", models.MessageText)
	require.NoError(t, err)
	require.NotNil(t, msg.SenderNickname)
	assert.Equal(t, "ally", *msg.SenderNickname)
}

func TestCORSPreflight(t *testing.T) {
	e := newEnv(t, nil)
	req := httptest.NewRequest(http.MethodOptions, "/api/rooms", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "http://localhost:5173", rec.Header().Get("Access-Control-Allow-Origin"))
}
