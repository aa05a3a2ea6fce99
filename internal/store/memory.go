package store

import (
	"slices"
	"sync"

	"github.com/table-talk25/TableTalk-app-sub000/pkg/protocol"
)

type Memory struct {
	mu            sync.RWMutex
	chats         map[string]*protocol.Chat
	notifications map[string][]protocol.Notification // oldest first
}

func NewMemory() *Memory {
	return &Memory{
		chats:         make(map[string]*protocol.Chat),
		notifications: make(map[string][]protocol.Notification),
	}
}

var _ Store = (*Memory)(nil)

func (m *Memory) CreateChat(chat protocol.Chat) (protocol.Chat, error) {
	if len(chat.Participants) == 0 {
		return protocol.Chat{}, ErrNoParticipants
	}
	if chat.ID == "" {
		chat.ID = newID()
	}
	stored := protocol.Chat{
		ID:           chat.ID,
		MealID:       chat.MealID,
		Participants: slices.Clone(chat.Participants),
	}

	m.mu.Lock()
	m.chats[chat.ID] = &stored
	m.mu.Unlock()
	return cloneChat(&stored), nil
}

func (m *Memory) GetChat(chatID string) (protocol.Chat, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	chat, ok := m.chats[chatID]
	if !ok {
		return protocol.Chat{}, ErrNotFound
	}
	return cloneChat(chat), nil
}

func (m *Memory) AddParticipant(chatID, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	chat, ok := m.chats[chatID]
	if !ok {
		return ErrNotFound
	}
	if !slices.Contains(chat.Participants, userID) {
		chat.Participants = append(chat.Participants, userID)
	}
	return nil
}

func (m *Memory) RemoveParticipant(chatID, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	chat, ok := m.chats[chatID]
	if !ok {
		return ErrNotFound
	}
	chat.Participants = slices.DeleteFunc(chat.Participants, func(p string) bool { return p == userID })
	return nil
}

func (m *Memory) AppendMessage(msg protocol.Message) (protocol.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	chat, ok := m.chats[msg.ChatID]
	if !ok {
		return protocol.Message{}, ErrNotFound
	}
	if msg.ID == "" {
		msg.ID = newID()
	}
	chat.Messages = append(chat.Messages, msg)
	return msg, nil
}

func (m *Memory) AddNotification(userID string, n protocol.Notification) (protocol.Notification, error) {
	if n.ID == "" {
		n.ID = newID()
	}
	m.mu.Lock()
	m.notifications[userID] = append(m.notifications[userID], n)
	m.mu.Unlock()
	return n, nil
}

func (m *Memory) ListNotifications(userID string) ([]protocol.Notification, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	list := slices.Clone(m.notifications[userID])
	slices.Reverse(list)
	return list, nil
}

func (m *Memory) MarkAllRead(userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.notifications[userID] {
		m.notifications[userID][i].Read = true
	}
	return nil
}

func (m *Memory) MarkRead(userID, notificationID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, n := range m.notifications[userID] {
		if n.ID == notificationID {
			m.notifications[userID][i].Read = true
			return nil
		}
	}
	return ErrNotFound
}

func (m *Memory) Close() error { return nil }

func cloneChat(c *protocol.Chat) protocol.Chat {
	return protocol.Chat{
		ID:           c.ID,
		MealID:       c.MealID,
		Participants: slices.Clone(c.Participants),
		Messages:     slices.Clone(c.Messages),
	}
}
