package server

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/table-talk25/TableTalk-app-sub000/internal/server/middleware"
	"github.com/table-talk25/TableTalk-app-sub000/internal/store"
	"github.com/table-talk25/TableTalk-app-sub000/pkg/config"
	"github.com/table-talk25/TableTalk-app-sub000/pkg/logging"
	"github.com/table-talk25/TableTalk-app-sub000/pkg/protocol"
	"github.com/table-talk25/TableTalk-app-sub000/pkg/transport"
)

const testSecret = "relay-secret"

type relay struct {
	srv   *httptest.Server
	store *store.Memory
}

func startRelay(t *testing.T) *relay {
	t.Helper()
	cfg := &config.Config{
		Server: config.ServerConfig{
			Auth:            config.AuthConfig{JWTSecret: testSecret},
			ConnectionLimit: config.ConnectionLimitConfig{MaxPerUser: 3, Mode: "reject"},
		},
		Events: config.DefaultEvents(),
	}
	st := store.NewMemory()
	app, err := NewApp(logging.Discard(), context.Background(), cfg, st, clock.New())
	require.NoError(t, err)

	srv := httptest.NewServer(app.Handler())
	t.Cleanup(func() {
		app.CloseConnections()
		srv.Close()
	})
	return &relay{srv: srv, store: st}
}

func token(t *testing.T, userID string) string {
	t.Helper()
	tok, err := middleware.SignToken(testSecret, userID, strings.ToUpper(userID[:1])+userID[1:], nil, time.Hour)
	require.NoError(t, err)
	return tok
}

type peer struct {
	conn   *transport.Connection
	frames chan protocol.Envelope
}

func (r *relay) dial(t *testing.T, userID string) *peer {
	t.Helper()
	p := &peer{frames: make(chan protocol.Envelope, 64)}
	conn, err := transport.Dial(context.Background(),
		transport.DialConfig{URL: "ws" + strings.TrimPrefix(r.srv.URL, "http") + "/ws"},
		token(t, userID),
		func(_ context.Context, _ uuid.UUID, msg []byte) {
			env, err := protocol.Decode(msg)
			if err == nil {
				p.frames <- env
			}
		},
		nil,
		logging.Discard(),
	)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close(nil) })
	p.conn = conn

	hello := p.next(t)
	require.Equal(t, protocol.EventSession, hello.Event)
	assert.Equal(t, userID, gjson.GetBytes(hello.Payload, "userId").String())
	assert.NotEmpty(t, gjson.GetBytes(hello.Payload, "socketId").String())
	return p
}

func (p *peer) emit(t *testing.T, event string, payload any) {
	t.Helper()
	frame, err := protocol.Encode(event, payload)
	require.NoError(t, err)
	require.NoError(t, p.conn.Send(frame))
}

func (p *peer) next(t *testing.T) protocol.Envelope {
	t.Helper()
	select {
	case env := <-p.frames:
		return env
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a frame")
		return protocol.Envelope{}
	}
}

// sync round-trips an unknown event. Frames of one connection are handled
// in order, so everything sent before has been processed when the error
// comes back.
func (p *peer) sync(t *testing.T) {
	t.Helper()
	p.emit(t, "sync_probe", nil)
	env := p.next(t)
	require.Equal(t, protocol.EventError, env.Event)
	require.Equal(t, "sync_probe", gjson.GetBytes(env.Payload, "event").String())
}

func (p *peer) quiet(t *testing.T) {
	t.Helper()
	select {
	case env := <-p.frames:
		t.Fatalf("unexpected frame %s %s", env.Event, env.Payload)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestChatRoundTrip(t *testing.T) {
	r := startRelay(t)
	chat, err := r.store.CreateChat(protocol.Chat{Participants: []string{"alice", "bob"}})
	require.NoError(t, err)

	alice := r.dial(t, "alice")
	bob := r.dial(t, "bob")
	for _, p := range []*peer{alice, bob} {
		p.emit(t, protocol.EventJoinChat, protocol.ChatRef{ChatID: chat.ID})
		p.sync(t)
	}

	alice.emit(t, protocol.EventTyping, protocol.ChatRef{ChatID: chat.ID})
	typing := bob.next(t)
	require.Equal(t, protocol.EventTyping, typing.Event)
	ev, err := protocol.DecodeTyping(typing.Payload)
	require.NoError(t, err)
	assert.Equal(t, protocol.TypingEvent{ChatID: chat.ID, UserID: "alice", Username: "Alice"}, ev)

	alice.emit(t, protocol.EventSendMessage, protocol.SendMessage{ChatID: chat.ID, Content: " <b>hello</b> ", Timestamp: time.Now()})
	for _, p := range []*peer{alice, bob} {
		env := p.next(t)
		require.Equal(t, protocol.EventMessage, env.Event)
		msg, err := protocol.DecodeMessage(env.Payload)
		require.NoError(t, err)
		assert.Equal(t, "hello", msg.Body)
		assert.Equal(t, "alice", msg.SenderID)
		assert.Equal(t, "Alice", msg.SenderDisplayName)
		assert.Equal(t, chat.ID, msg.ChatID)
	}

	stored, err := r.store.GetChat(chat.ID)
	require.NoError(t, err)
	require.Len(t, stored.Messages, 1)

	bob.emit(t, protocol.EventLeaveChat, protocol.ChatRef{ChatID: chat.ID})
	bob.sync(t)
	alice.emit(t, protocol.EventStopTyping, protocol.ChatRef{ChatID: chat.ID})
	alice.sync(t)
	bob.quiet(t)
}

func TestRejectedEvents(t *testing.T) {
	r := startRelay(t)
	chat, err := r.store.CreateChat(protocol.Chat{Participants: []string{"alice"}})
	require.NoError(t, err)
	mallory := r.dial(t, "mallory")

	expectError := func(event string) {
		t.Helper()
		env := mallory.next(t)
		require.Equal(t, protocol.EventError, env.Event)
		assert.Equal(t, event, gjson.GetBytes(env.Payload, "event").String())
		assert.NotEmpty(t, gjson.GetBytes(env.Payload, "error").String())
	}

	mallory.emit(t, protocol.EventJoinChat, protocol.ChatRef{ChatID: chat.ID})
	expectError(protocol.EventJoinChat)

	mallory.emit(t, protocol.EventSendMessage, protocol.SendMessage{ChatID: chat.ID, Content: "hi"})
	expectError(protocol.EventSendMessage)

	mallory.emit(t, protocol.EventJoinChat, map[string]string{})
	expectError(protocol.EventJoinChat)

	require.NoError(t, mallory.conn.Send([]byte("not json")))
	expectError("")
}

func TestSendRateLimit(t *testing.T) {
	r := startRelay(t)
	chat, err := r.store.CreateChat(protocol.Chat{Participants: []string{"alice"}})
	require.NoError(t, err)
	alice := r.dial(t, "alice")
	alice.emit(t, protocol.EventJoinChat, protocol.ChatRef{ChatID: chat.ID})
	alice.sync(t)

	for i := 0; i < 5; i++ {
		alice.emit(t, protocol.EventSendMessage, protocol.SendMessage{ChatID: chat.ID, Content: "spam"})
		require.Equal(t, protocol.EventMessage, alice.next(t).Event)
	}
	alice.emit(t, protocol.EventSendMessage, protocol.SendMessage{ChatID: chat.ID, Content: "spam"})
	env := alice.next(t)
	require.Equal(t, protocol.EventError, env.Event)
	assert.Contains(t, gjson.GetBytes(env.Payload, "error").String(), "rate limit")
}

func TestInvitationPushesNotification(t *testing.T) {
	r := startRelay(t)
	bob := r.dial(t, "bob")

	body := []byte(`{"toUserId":"bob","mealId":"meal-9"}`)
	req, err := http.NewRequest(http.MethodPost, r.srv.URL+"/api/invitations", bytes.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+token(t, "alice"))
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	env := bob.next(t)
	require.Equal(t, protocol.EventNewNotification, env.Event)
	n, err := protocol.DecodeNotification(env.Payload)
	require.NoError(t, err)
	assert.Equal(t, protocol.NotificationNewInvitation, n.Type)
	require.NotNil(t, n.Data)
	assert.Equal(t, "meal-9", n.Data.MealID)
}

func TestHandshakeRejectsBadToken(t *testing.T) {
	r := startRelay(t)
	_, err := transport.Dial(context.Background(),
		transport.DialConfig{URL: "ws" + strings.TrimPrefix(r.srv.URL, "http") + "/ws"},
		"garbage", nil, nil, logging.Discard())
	assert.ErrorIs(t, err, transport.ErrUnauthorized)
}

func TestConnectionLimitRejects(t *testing.T) {
	r := startRelay(t)
	for i := 0; i < 3; i++ {
		r.dial(t, "alice")
	}
	_, err := transport.Dial(context.Background(),
		transport.DialConfig{URL: "ws" + strings.TrimPrefix(r.srv.URL, "http") + "/ws"},
		token(t, "alice"), nil, nil, logging.Discard())
	require.Error(t, err)
	assert.NotErrorIs(t, err, transport.ErrUnauthorized)
}
