package protocol_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/table-talk25/TableTalk-app-sub000/pkg/protocol"
)

func TestEncodeDecodeEnvelope(t *testing.T) {
	frame, err := protocol.Encode(protocol.EventJoinChat, protocol.ChatRef{ChatID: "c1"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"event":"join_chat","payload":{"chatId":"c1"}}`, string(frame))

	env, err := protocol.Decode(frame)
	require.NoError(t, err)
	assert.Equal(t, protocol.EventJoinChat, env.Event)
	assert.JSONEq(t, `{"chatId":"c1"}`, string(env.Payload))
}

func TestEncodeWithoutPayload(t *testing.T) {
	frame, err := protocol.Encode("ping", nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{"event":"ping"}`, string(frame))

	_, err = protocol.Encode("", nil)
	assert.ErrorIs(t, err, protocol.ErrMissingEvent)
}

func TestDecodeRejectsBadFrames(t *testing.T) {
	_, err := protocol.Decode([]byte(`not json`))
	assert.Error(t, err)

	_, err = protocol.Decode([]byte(`{"payload":{}}`))
	assert.ErrorIs(t, err, protocol.ErrMissingEvent)
}

func TestDecodeMessageCanonical(t *testing.T) {
	raw := []byte(`{"id":"m1","chatId":"c1","senderId":"u1","senderDisplayName":"Ada","body":"hi","sentAt":"2025-01-02T03:04:05Z"}`)
	m, err := protocol.DecodeMessage(raw)
	require.NoError(t, err)
	assert.Equal(t, protocol.Message{
		ID:                "m1",
		ChatID:            "c1",
		SenderID:          "u1",
		SenderDisplayName: "Ada",
		Body:              "hi",
		SentAt:            time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC),
	}, m)
}

func TestDecodeMessageLegacyShape(t *testing.T) {
	raw := []byte(`{"_id":"m2","chatId":"c1","sender":{"_id":"u2","nickname":"Bob"},"content":"yo","timestamp":"2025-01-02T03:04:05Z"}`)
	m, err := protocol.DecodeMessage(raw)
	require.NoError(t, err)
	assert.Equal(t, "m2", m.ID)
	assert.Equal(t, "u2", m.SenderID)
	assert.Equal(t, "Bob", m.SenderDisplayName)
	assert.Equal(t, "yo", m.Body)
	assert.False(t, m.SentAt.IsZero())
}

func TestDecodeMessageRequiresSender(t *testing.T) {
	_, err := protocol.DecodeMessage([]byte(`{"id":"m1","body":"x"}`))
	assert.ErrorIs(t, err, protocol.ErrInvalidPayload)

	_, err = protocol.DecodeMessage([]byte(`[1,2]`))
	assert.ErrorIs(t, err, protocol.ErrInvalidPayload)
}

func TestDecodeMessagesSkipsInvalid(t *testing.T) {
	raw := []byte(`[{"id":"a","senderId":"u1","body":"1"},{"id":"b"},{"id":"c","userId":"u2","content":"3"}]`)
	msgs := protocol.DecodeMessages(raw)
	require.Len(t, msgs, 2)
	assert.Equal(t, "a", msgs[0].ID)
	assert.Equal(t, "c", msgs[1].ID)
}

func TestDecodeTyping(t *testing.T) {
	ev, err := protocol.DecodeTyping([]byte(`{"chatId":"c1","userId":"u1","username":"Ada"}`))
	require.NoError(t, err)
	assert.Equal(t, protocol.TypingEvent{ChatID: "c1", UserID: "u1", Username: "Ada"}, ev)

	ev, err = protocol.DecodeTyping([]byte(`{"user":{"_id":"u2","nickname":"Bob"},"isTyping":true}`))
	require.NoError(t, err)
	assert.Equal(t, "u2", ev.UserID)
	assert.Equal(t, "Bob", ev.Username)

	_, err = protocol.DecodeTyping([]byte(`{}`))
	assert.ErrorIs(t, err, protocol.ErrInvalidPayload)
}

func TestDecodeNotification(t *testing.T) {
	raw := []byte(`{"id":"n1","type":"invitation_accepted","message":"Ada accepted","data":{"chatId":"c9"},"createdAt":"2025-03-01T10:00:00Z"}`)
	n, err := protocol.DecodeNotification(raw)
	require.NoError(t, err)
	assert.Equal(t, protocol.NotificationInvitationAccepted, n.Type)
	assert.False(t, n.Read)
	require.NotNil(t, n.Data)
	assert.Equal(t, "c9", n.Data.ChatID)
	assert.Equal(t, time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC), n.CreatedAt)
}

func TestDecodeNotificationFallbacks(t *testing.T) {
	n, err := protocol.DecodeNotification([]byte(`{"type":"meal_reminder","message":"soon","date":"2025-03-01T10:00:00Z"}`))
	require.NoError(t, err)
	assert.Equal(t, protocol.NotificationGeneric, n.Type)
	assert.Nil(t, n.Data)
	assert.False(t, n.CreatedAt.IsZero())
}

func TestDecodeChatPopulated(t *testing.T) {
	raw := []byte(`{
		"_id": "c1",
		"meal": {"_id": "meal-9", "title": "Pizza"},
		"participants": [{"_id": "u1", "nickname": "Ann"}, "u2", {}],
		"messages": [
			{"_id": "m1", "sender": {"_id": "u1"}, "content": "hi", "timestamp": "2024-05-01T10:00:00Z"},
			{"content": "no sender"}
		]
	}`)

	c, err := protocol.DecodeChat(raw)
	require.NoError(t, err)
	assert.Equal(t, "c1", c.ID)
	assert.Equal(t, "meal-9", c.MealID)
	assert.Equal(t, []string{"u1", "u2"}, c.Participants)
	require.Len(t, c.Messages, 1)
	assert.Equal(t, "c1", c.Messages[0].ChatID)
	assert.Equal(t, "hi", c.Messages[0].Body)
}

func TestDecodeChatRequiresID(t *testing.T) {
	_, err := protocol.DecodeChat([]byte(`{"participants": []}`))
	assert.ErrorIs(t, err, protocol.ErrInvalidPayload)

	c, err := protocol.DecodeChat([]byte(`{"id": "c2", "meal": "meal-1"}`))
	require.NoError(t, err)
	assert.Equal(t, "meal-1", c.MealID)
	assert.Empty(t, c.Messages)
}
