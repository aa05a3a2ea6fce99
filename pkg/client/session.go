package client

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/benbjohnson/clock"

	"github.com/table-talk25/TableTalk-app-sub000/pkg/api"
	"github.com/table-talk25/TableTalk-app-sub000/pkg/chat"
	"github.com/table-talk25/TableTalk-app-sub000/pkg/config"
	"github.com/table-talk25/TableTalk-app-sub000/pkg/notify"
	"github.com/table-talk25/TableTalk-app-sub000/pkg/protocol"
	"github.com/table-talk25/TableTalk-app-sub000/pkg/session"
	"github.com/table-talk25/TableTalk-app-sub000/pkg/typing"
)

// Session is one logged-in user.
type Session struct {
	UserID      string
	DisplayName string

	manager       *session.Manager
	api           *api.Client
	notifications *notify.Center
	cfg           config.ClientConfig
	clock         clock.Clock
	logger        *slog.Logger

	// openMu serializes OpenChat so a chat is never opened twice.
	openMu  sync.Mutex
	mu      sync.Mutex
	rooms   map[string]*chat.Room
	detach  []func()
	release func()
	closed  bool
}

// ChatOptions are the view callbacks of an open chat.
type ChatOptions struct {
	OnMessage func(protocol.Message)
	OnTyping  func(peers []typing.Peer)
}

func (s *Session) Manager() *session.Manager { return s.manager }

func (s *Session) API() *api.Client { return s.api }

func (s *Session) Notifications() *notify.Center { return s.notifications }

// OpenChat opens a chat view. Opening a chat that is already open returns
// the existing room.
func (s *Session) OpenChat(ctx context.Context, chatID string, opts ChatOptions) (*chat.Room, error) {
	s.openMu.Lock()
	defer s.openMu.Unlock()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrNotLoggedIn
	}
	if room, ok := s.rooms[chatID]; ok {
		s.mu.Unlock()
		return room, nil
	}
	s.mu.Unlock()

	room, err := chat.Open(ctx, s.manager, s.api, chatID, chat.Options{
		SelfID:        s.UserID,
		TypingIdle:    s.cfg.TypingIdle,
		PeerTypingTTL: s.cfg.PeerTypingTTL,
		Clock:         s.clock,
		OnMessage:     opts.OnMessage,
		OnTyping:      opts.OnTyping,
	}, s.logger)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		room.Close()
		return nil, ErrNotLoggedIn
	}
	s.rooms[chatID] = room
	return room, nil
}

// Watch subscribes to a chat without opening it. Its messages surface as
// generic notifications.
func (s *Session) Watch(chatID string) error {
	return s.manager.Join(chatID)
}

// CloseChat closes the view of chatID if it is open.
func (s *Session) CloseChat(chatID string) {
	s.mu.Lock()
	room, ok := s.rooms[chatID]
	delete(s.rooms, chatID)
	s.mu.Unlock()
	if ok {
		room.Close()
	}
}

// LeaveChat removes the user from the chat participants and closes its view.
func (s *Session) LeaveChat(ctx context.Context, chatID string) error {
	s.CloseChat(chatID)
	if err := s.api.LeaveChat(ctx, chatID); err != nil {
		return fmt.Errorf("client: leave chat %s: %w", chatID, err)
	}
	return nil
}

// handleMessage turns messages of chats that are not open into generic
// notifications.
func (s *Session) handleMessage(payload json.RawMessage) {
	msg, err := protocol.DecodeMessage(payload)
	if err != nil || msg.SenderID == s.UserID {
		return
	}
	s.mu.Lock()
	_, open := s.rooms[msg.ChatID]
	closed := s.closed
	s.mu.Unlock()
	if open || closed {
		return
	}

	sender := msg.SenderDisplayName
	if sender == "" {
		sender = msg.SenderID
	}
	s.notifications.Deliver(protocol.Notification{
		ID:        "message:" + msg.ID,
		Type:      protocol.NotificationGeneric,
		Message:   fmt.Sprintf("New message from %s", sender),
		CreatedAt: msg.SentAt,
		Data:      &protocol.NotificationData{ChatID: msg.ChatID},
	})
}

func (s *Session) close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	rooms := s.rooms
	s.rooms = make(map[string]*chat.Room)
	detach := s.detach
	s.detach = nil
	s.mu.Unlock()

	for _, room := range rooms {
		room.Close()
	}
	for _, fn := range detach {
		fn()
	}
	s.notifications.Close()
	s.release()
	s.manager.Close()
	s.logger.Info("Logged out")
}
