package events

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/umar/roomrelay/internal/models"
)

func TestEncodeTagsVariant(t *testing.T) {
	sender := int64(1)
	nick := "alice"
	data, err := Encode(Message{
		MessageID:      7,
		RoomID:         42,
		SenderID:       &sender,
		SenderNickname: &nick,
		Content:        "hi",
		Type:           models.MessageText,
		SentAt:         time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	})
	require.NoError(t, err)

	var raw map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.JSONEq(t, `"MESSAGE"`, string(raw["event_type"]))
	assert.JSONEq(t, `{
		"message_id": 7,
		"room_id": 42,
		"sender_id": 1,
		"sender_nickname": "alice",
		"content": "hi",
		"type": "TEXT",
		"sent_at": "2026-01-02T03:04:05Z"
	}`, string(raw["payload"]))

	data, err = Encode(ReadAck{RoomID: 42, UserID: 2, ReadAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)})
	require.NoError(t, err)
	assert.JSONEq(t, `{"event_type":"READ_ACK","payload":{"room_id":42,"user_id":2,"read_at":"2026-01-02T03:04:05Z"}}`, string(data))
}

func TestDecodeByDiscriminant(t *testing.T) {
	msg := Message{MessageID: 3, RoomID: 9, Content: "system notice", Type: models.MessageSystem, SentAt: time.Now().UTC()}
	data, err := Encode(msg)
	require.NoError(t, err)

	ev, err := Decode(data)
	require.NoError(t, err)
	got, ok := ev.(Message)
	require.True(t, ok, "expected Message variant, got %T", ev)
	assert.Nil(t, got.SenderID)
	assert.Equal(t, int64(9), got.Room())
	assert.Equal(t, msg.Content, got.Content)

	ev, err = Decode([]byte(`{"event_type":"READ_ACK","payload":{"room_id":5,"user_id":6,"read_at":"2026-01-02T03:04:05Z"}}`))
	require.NoError(t, err)
	ack, ok := ev.(ReadAck)
	require.True(t, ok, "expected ReadAck variant, got %T", ev)
	assert.Equal(t, int64(5), ack.RoomID)
	assert.Equal(t, int64(6), ack.UserID)
}

func TestDecodeFailures(t *testing.T) {
	tcases := []struct {
		name    string
		data    string
		unknown bool
	}{
		{name: "not json", data: "garbage"},
		{name: "unknown type", data: `{"event_type":"TYPING","payload":{}}`, unknown: true},
		{name: "missing type", data: `{"payload":{}}`, unknown: true},
		{name: "bad payload", data: `{"event_type":"MESSAGE","payload":{"room_id":"x"}}`},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Decode([]byte(tc.data))
			require.Error(t, err)
			if tc.unknown {
				assert.ErrorIs(t, err, ErrUnknownEventType)
			}
		})
	}
}

func TestTopicAndDestination(t *testing.T) {
	assert.Equal(t, "chat:room:42", Topic(42))
	assert.Equal(t, "/sub/room/42", Destination(42))

	id, ok := RoomFromTopic("chat:room:42")
	assert.True(t, ok)
	assert.Equal(t, int64(42), id)

	_, ok = RoomFromTopic("chat:user:42")
	assert.False(t, ok)

	id, err := ParseDestination("/sub/room/17")
	require.NoError(t, err)
	assert.Equal(t, int64(17), id)

	for _, bad := range []string{"", "/sub/room/", "/sub/room/abc", "/sub/room/-1", "/topic/17"} {
		_, err := ParseDestination(bad)
		assert.ErrorIs(t, err, ErrInvalidDestination, "destination %q", bad)
	}
}
