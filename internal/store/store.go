// Package store persists what the relay must remember across connections:
// chats with their participants and history, and per user notifications.
package store

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/google/uuid"

	"github.com/table-talk25/TableTalk-app-sub000/pkg/config"
	"github.com/table-talk25/TableTalk-app-sub000/pkg/protocol"
)

var (
	ErrNotFound       = errors.New("store: not found")
	ErrUnknownDriver  = errors.New("store: unknown driver")
	ErrNoParticipants = errors.New("store: chat needs at least one participant")
)

type Store interface {
	// CreateChat stores a chat, assigning an id when it has none.
	CreateChat(chat protocol.Chat) (protocol.Chat, error)
	// GetChat returns the chat with its full history in send order.
	GetChat(chatID string) (protocol.Chat, error)
	AddParticipant(chatID, userID string) error
	RemoveParticipant(chatID, userID string) error
	// AppendMessage adds a message to an existing chat, assigning an id
	// when it has none.
	AppendMessage(msg protocol.Message) (protocol.Message, error)

	AddNotification(userID string, n protocol.Notification) (protocol.Notification, error)
	// ListNotifications returns the user's notifications newest first.
	ListNotifications(userID string) ([]protocol.Notification, error)
	MarkAllRead(userID string) error
	MarkRead(userID, notificationID string) error

	Close() error
}

// Open builds the backend named by cfg.Driver.
func Open(cfg config.StorageConfig, logger *slog.Logger) (Store, error) {
	switch cfg.Driver {
	case "", "memory":
		return NewMemory(), nil
	case "pebble":
		return OpenPebble(cfg.Path, nil, logger)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, cfg.Driver)
	}
}

// newID returns a time ordered id so keys sort in insertion order.
func newID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// IsParticipant reports whether userID takes part in chat.
func IsParticipant(chat protocol.Chat, userID string) bool {
	return slices.Contains(chat.Participants, userID)
}
