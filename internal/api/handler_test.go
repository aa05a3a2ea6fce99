package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/table-talk25/TableTalk-app-sub000/internal/server/middleware"
	"github.com/table-talk25/TableTalk-app-sub000/internal/store"
	"github.com/table-talk25/TableTalk-app-sub000/pkg/config"
	"github.com/table-talk25/TableTalk-app-sub000/pkg/logging"
	"github.com/table-talk25/TableTalk-app-sub000/pkg/protocol"
)

const secret = "api-secret"

type pushed struct {
	userID string
	n      protocol.Notification
}

type fakeRelay struct {
	mu     sync.Mutex
	pushes []pushed
	leaves []string
}

func (f *fakeRelay) PushNotification(userID string, n protocol.Notification) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pushes = append(f.pushes, pushed{userID, n})
}

func (f *fakeRelay) LeaveRoom(userID, chatID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.leaves = append(f.leaves, userID+"@"+chatID)
}

type harness struct {
	router http.Handler
	store  *store.Memory
	relay  *fakeRelay
}

func newHarness() *harness {
	st := store.NewMemory()
	relay := &fakeRelay{}
	h := New(st, relay, logging.Discard())
	h.now = func() time.Time { return time.Date(2025, 6, 1, 19, 0, 0, 0, time.UTC) }

	r := chi.NewRouter()
	r.Use(middleware.RequestMetadataMiddleware())
	r.Use(middleware.NewAuthMiddleware(logging.Discard(), secret, config.CompilePermissions))
	h.RegisterRoutes(r)
	return &harness{router: r, store: st, relay: relay}
}

// call performs a request as userID and returns the status and the parsed
// response envelope.
func (h *harness) call(t *testing.T, userID, method, path string, body any) (int, gjson.Result) {
	t.Helper()
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		require.NoError(t, err)
	}
	req := httptest.NewRequest(method, path, bytes.NewReader(payload))
	if userID != "" {
		token, err := middleware.SignToken(secret, userID, "User "+userID, nil, time.Hour)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.router.ServeHTTP(rec, req)
	return rec.Code, gjson.ParseBytes(rec.Body.Bytes())
}

func TestChatEndpoints(t *testing.T) {
	h := newHarness()

	code, res := h.call(t, "alice", http.MethodPost, "/chats", protocol.CreateChat{MealID: "meal-1", Participants: []string{"bob"}})
	require.Equal(t, http.StatusCreated, code)
	require.True(t, res.Get("success").Bool())
	chatID := res.Get("data.id").String()
	require.NotEmpty(t, chatID)
	assert.Equal(t, `["alice","bob"]`, res.Get("data.participants").Raw)

	_, err := h.store.AppendMessage(protocol.Message{ChatID: chatID, SenderID: "bob", Body: "hi"})
	require.NoError(t, err)

	code, res = h.call(t, "bob", http.MethodGet, "/chats/"+chatID, nil)
	require.Equal(t, http.StatusOK, code)
	chat, err := protocol.DecodeChat([]byte(res.Get("data").Raw))
	require.NoError(t, err)
	require.Len(t, chat.Messages, 1)
	assert.Equal(t, "hi", chat.Messages[0].Body)

	code, res = h.call(t, "mallory", http.MethodGet, "/chats/"+chatID, nil)
	assert.Equal(t, http.StatusForbidden, code)
	assert.False(t, res.Get("success").Bool())
	assert.NotEmpty(t, res.Get("error").String())

	code, _ = h.call(t, "alice", http.MethodGet, "/chats/missing", nil)
	assert.Equal(t, http.StatusNotFound, code)

	code, _ = h.call(t, "bob", http.MethodDelete, "/chats/"+chatID+"/participants", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, []string{"bob@" + chatID}, h.relay.leaves)
	code, _ = h.call(t, "bob", http.MethodGet, "/chats/"+chatID, nil)
	assert.Equal(t, http.StatusForbidden, code)
}

func TestRequiresToken(t *testing.T) {
	h := newHarness()
	code, _ := h.call(t, "", http.MethodGet, "/notifications", nil)
	assert.Equal(t, http.StatusUnauthorized, code)
}

func TestInvitationFlow(t *testing.T) {
	h := newHarness()
	_, res := h.call(t, "alice", http.MethodPost, "/chats", protocol.CreateChat{MealID: "meal-1"})
	chatID := res.Get("data.id").String()

	code, _ := h.call(t, "alice", http.MethodPost, "/invitations", protocol.Invitation{ToUserID: "bob", ChatID: chatID, MealID: "meal-1"})
	require.Equal(t, http.StatusCreated, code)
	require.Len(t, h.relay.pushes, 1)
	invite := h.relay.pushes[0]
	assert.Equal(t, "bob", invite.userID)
	assert.Equal(t, protocol.NotificationNewInvitation, invite.n.Type)
	assert.Equal(t, "User alice invited you to a meal", invite.n.Message)
	assert.NotEmpty(t, invite.n.ID)

	code, _ = h.call(t, "alice", http.MethodPost, "/invitations", protocol.Invitation{ToUserID: "alice"})
	assert.Equal(t, http.StatusBadRequest, code)

	code, res = h.call(t, "bob", http.MethodPost, "/invitations/accept", protocol.InvitationAccept{FromUserID: "alice", ChatID: chatID})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, `["alice","bob"]`, res.Get("data.participants").Raw)
	require.Len(t, h.relay.pushes, 2)
	accepted := h.relay.pushes[1]
	assert.Equal(t, "alice", accepted.userID)
	assert.Equal(t, protocol.NotificationInvitationAccepted, accepted.n.Type)
	require.NotNil(t, accepted.n.Data)
	assert.Equal(t, chatID, accepted.n.Data.ChatID)

	code, _ = h.call(t, "bob", http.MethodPost, "/invitations/accept", protocol.InvitationAccept{FromUserID: "alice", ChatID: "missing"})
	assert.Equal(t, http.StatusNotFound, code)
}

func TestNotificationEndpoints(t *testing.T) {
	h := newHarness()
	first, _ := h.store.AddNotification("bob", protocol.Notification{Type: protocol.NotificationGeneric, Message: "one"})
	h.store.AddNotification("bob", protocol.Notification{Type: protocol.NotificationGeneric, Message: "two"})

	code, res := h.call(t, "bob", http.MethodGet, "/notifications", nil)
	require.Equal(t, http.StatusOK, code)
	list := protocol.DecodeNotifications([]byte(res.Get("data").Raw))
	require.Len(t, list, 2)
	assert.Equal(t, "two", list[0].Message)

	code, _ = h.call(t, "bob", http.MethodPost, "/notifications/"+first.ID+"/mark-as-read", nil)
	require.Equal(t, http.StatusOK, code)
	code, _ = h.call(t, "bob", http.MethodPost, "/notifications/nope/mark-as-read", nil)
	assert.Equal(t, http.StatusNotFound, code)

	code, _ = h.call(t, "bob", http.MethodPost, "/notifications/read", nil)
	require.Equal(t, http.StatusOK, code)
	stored, _ := h.store.ListNotifications("bob")
	for _, n := range stored {
		assert.True(t, n.Read)
	}

	code, res = h.call(t, "carol", http.MethodGet, "/notifications", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "[]", res.Get("data").Raw)
}
