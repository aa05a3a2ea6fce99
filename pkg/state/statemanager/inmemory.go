// Package statemanager holds the relay state of a single process.
package statemanager

import (
	"errors"
	"log/slog"
	"maps"
	"slices"
	"sync"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"

	"github.com/table-talk25/TableTalk-app-sub000/pkg/state"
	"github.com/table-talk25/TableTalk-app-sub000/pkg/transport"
)

var (
	ErrUserNotFound      = errors.New("user not found")
	ErrRoomNotFound      = errors.New("room not found")
	ErrNotMember         = errors.New("user is not a member of this room")
	ErrAlreadyRegistered = errors.New("connection is already registered")
	ErrUnknownConnection = errors.New("connection is not registered")
)

type Option func(*InMemoryManager)

// WithClock stamps connections with clk instead of the wall clock.
func WithClock(clk clock.Clock) Option {
	return func(m *InMemoryManager) { m.clock = clk }
}

// InMemoryManager keeps users, connections and rooms in maps.
// Lock order: connMu, userMu, roomMu, modMu.
type InMemoryManager struct {
	conns     map[uuid.UUID]*state.Connection
	users     map[string]*state.User
	rooms     map[string]*state.Room
	modifiers map[modifierKey]*state.ModifierState

	connMu sync.RWMutex
	userMu sync.RWMutex
	roomMu sync.RWMutex
	modMu  sync.Mutex

	clock  clock.Clock
	logger *slog.Logger
}

var _ state.Manager = (*InMemoryManager)(nil)

func NewInMemoryManager(logger *slog.Logger, opts ...Option) *InMemoryManager {
	m := &InMemoryManager{
		conns:     make(map[uuid.UUID]*state.Connection),
		users:     make(map[string]*state.User),
		rooms:     make(map[string]*state.Room),
		modifiers: make(map[modifierKey]*state.ModifierState),
		clock:     clock.New(),
		logger:    logger.With(slog.String("component", "state")),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *InMemoryManager) RegisterConnection(conn *transport.Connection, ipAddr string) (*state.Connection, error) {
	m.connMu.Lock()
	defer m.connMu.Unlock()

	id := conn.ID()
	if _, dup := m.conns[id]; dup {
		return nil, ErrAlreadyRegistered
	}
	c := &state.Connection{ID: id, IPAddress: ipAddr, Transport: conn, CreatedAt: m.clock.Now()}
	m.conns[id] = c
	m.logger.Debug("Connection registered", slog.String("connID", id.String()), slog.String("ip", ipAddr))
	return c, nil
}

func (m *InMemoryManager) DeregisterConnection(connID uuid.UUID) error {
	m.connMu.Lock()
	conn, ok := m.conns[connID]
	delete(m.conns, connID)
	m.connMu.Unlock()
	if !ok || conn.User == nil {
		return nil
	}

	m.userMu.Lock()
	defer m.userMu.Unlock()
	user := conn.User
	delete(user.Connections, connID)
	if len(user.Connections) > 0 {
		m.logger.Debug("Connection detached", slog.String("connID", connID.String()), slog.String("userID", user.ID))
		return nil
	}

	// An offline user keeps no memberships.
	m.roomMu.Lock()
	for roomID := range user.Grants {
		m.removeMemberLocked(roomID, user.ID)
	}
	m.roomMu.Unlock()
	delete(m.users, user.ID)
	m.logger.Debug("User went offline", slog.String("userID", user.ID))
	return nil
}

func (m *InMemoryManager) GetConnection(connID uuid.UUID) (*state.Connection, bool) {
	m.connMu.RLock()
	defer m.connMu.RUnlock()
	conn, ok := m.conns[connID]
	return conn, ok
}

func (m *InMemoryManager) FindOldestUserConnection(userID string) (*state.Connection, bool) {
	m.userMu.RLock()
	defer m.userMu.RUnlock()
	user, ok := m.users[userID]
	if !ok || len(user.Connections) == 0 {
		return nil, false
	}
	return slices.MinFunc(slices.Collect(maps.Values(user.Connections)), func(a, b *state.Connection) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	}), true
}

func (m *InMemoryManager) AssociateUser(connID uuid.UUID, userID, displayName string, globalPerms state.Permission) (*state.User, error) {
	m.connMu.Lock()
	defer m.connMu.Unlock()
	m.userMu.Lock()
	defer m.userMu.Unlock()

	conn, ok := m.conns[connID]
	if !ok {
		return nil, ErrUnknownConnection
	}
	user, ok := m.users[userID]
	if !ok {
		user = &state.User{
			ID:          userID,
			Connections: make(map[uuid.UUID]*state.Connection),
			Grants:      make(map[string]*state.Grant),
		}
		m.users[userID] = user
	}
	if displayName != "" {
		user.DisplayName = displayName
	}
	user.GlobalPermissions = globalPerms
	user.Connections[connID] = conn
	conn.User = user

	m.logger.Debug("User associated",
		slog.String("connID", connID.String()),
		slog.String("userID", userID),
		slog.Int("connections", len(user.Connections)),
	)
	return user, nil
}

func (m *InMemoryManager) FindUser(userID string) (*state.User, bool) {
	m.userMu.RLock()
	defer m.userMu.RUnlock()
	user, ok := m.users[userID]
	return user, ok
}

func (m *InMemoryManager) GetUserConnections(userID string) ([]*transport.Connection, error) {
	m.userMu.RLock()
	defer m.userMu.RUnlock()
	user, ok := m.users[userID]
	if !ok {
		return nil, ErrUserNotFound
	}
	conns := make([]*transport.Connection, 0, len(user.Connections))
	for _, c := range user.Connections {
		conns = append(conns, c.Transport)
	}
	return conns, nil
}

// GetUserConnectionCount reports zero for unknown users.
func (m *InMemoryManager) GetUserConnectionCount(userID string) (int, error) {
	m.userMu.RLock()
	defer m.userMu.RUnlock()
	if user, ok := m.users[userID]; ok {
		return len(user.Connections), nil
	}
	return 0, nil
}

func (m *InMemoryManager) GetAllUsers() ([]*state.User, error) {
	m.userMu.RLock()
	defer m.userMu.RUnlock()
	return slices.Collect(maps.Values(m.users)), nil
}

func (m *InMemoryManager) Join(userID, roomID string, perms state.Permission) (*state.Grant, error) {
	m.userMu.Lock()
	defer m.userMu.Unlock()
	m.roomMu.Lock()
	defer m.roomMu.Unlock()

	user, ok := m.users[userID]
	if !ok {
		return nil, ErrUserNotFound
	}
	if grant, ok := user.Grants[roomID]; ok {
		return grant, nil
	}
	room, ok := m.rooms[roomID]
	if !ok {
		room = &state.Room{ID: roomID, Members: make(map[string]*state.User)}
		m.rooms[roomID] = room
	}
	grant := &state.Grant{User: user, Room: room, Permissions: perms}
	user.Grants[roomID] = grant
	room.Members[userID] = user

	m.logger.Debug("User joined room", slog.String("userID", userID), slog.String("roomID", roomID), slog.String("perms", perms.String()))
	return grant, nil
}

// Leave is a no-op for unknown users and rooms.
func (m *InMemoryManager) Leave(userID, roomID string) error {
	m.userMu.Lock()
	defer m.userMu.Unlock()
	m.roomMu.Lock()
	defer m.roomMu.Unlock()

	if user, ok := m.users[userID]; ok {
		delete(user.Grants, roomID)
	}
	if m.removeMemberLocked(roomID, userID) {
		m.logger.Debug("User left room", slog.String("userID", userID), slog.String("roomID", roomID))
	}
	return nil
}

// removeMemberLocked drops userID from the room and the room once it is
// empty. roomMu must be held.
func (m *InMemoryManager) removeMemberLocked(roomID, userID string) bool {
	room, ok := m.rooms[roomID]
	if !ok {
		return false
	}
	_, member := room.Members[userID]
	delete(room.Members, userID)
	if len(room.Members) == 0 {
		delete(m.rooms, roomID)
	}
	return member
}

func (m *InMemoryManager) GetRoomMembers(roomID string) ([]*state.User, error) {
	m.roomMu.RLock()
	defer m.roomMu.RUnlock()
	room, ok := m.rooms[roomID]
	if !ok {
		return nil, ErrRoomNotFound
	}
	return slices.Collect(maps.Values(room.Members)), nil
}

func (m *InMemoryManager) FindRoom(roomID string) (*state.Room, bool) {
	m.roomMu.RLock()
	defer m.roomMu.RUnlock()
	room, ok := m.rooms[roomID]
	return room, ok
}

func (m *InMemoryManager) GetGrant(userID, roomID string) (*state.Grant, bool) {
	m.userMu.RLock()
	defer m.userMu.RUnlock()
	grant, err := m.grantLocked(userID, roomID)
	return grant, err == nil
}

// Grants hang off the user, so userMu is enough for the setters.

func (m *InMemoryManager) SetPermissions(userID, roomID string, perms state.Permission) error {
	m.userMu.Lock()
	defer m.userMu.Unlock()
	grant, err := m.grantLocked(userID, roomID)
	if err != nil {
		return err
	}
	grant.Permissions = perms
	return nil
}

func (m *InMemoryManager) UpdatePermissions(userID, roomID string, add, remove state.Permission) error {
	m.userMu.Lock()
	defer m.userMu.Unlock()
	grant, err := m.grantLocked(userID, roomID)
	if err != nil {
		return err
	}
	grant.Permissions = (grant.Permissions | add) &^ remove
	return nil
}

func (m *InMemoryManager) grantLocked(userID, roomID string) (*state.Grant, error) {
	user, ok := m.users[userID]
	if !ok {
		return nil, ErrUserNotFound
	}
	grant, ok := user.Grants[roomID]
	if !ok {
		return nil, ErrNotMember
	}
	return grant, nil
}

type modifierKey struct {
	modifier, user, event string
}

func (m *InMemoryManager) GetModifierState(modifierName, userID, eventName string) (*state.ModifierState, bool) {
	m.modMu.Lock()
	defer m.modMu.Unlock()
	s, ok := m.modifiers[modifierKey{modifierName, userID, eventName}]
	return s, ok
}

func (m *InMemoryManager) SetModifierState(modifierName, userID, eventName string, s *state.ModifierState) {
	m.modMu.Lock()
	defer m.modMu.Unlock()
	key := modifierKey{modifierName, userID, eventName}
	if prev, ok := m.modifiers[key]; ok && prev != s {
		stopTimer(prev)
	}
	m.modifiers[key] = s
}

func (m *InMemoryManager) DeleteModifierState(modifierName, userID, eventName string) {
	m.modMu.Lock()
	defer m.modMu.Unlock()
	key := modifierKey{modifierName, userID, eventName}
	if s, ok := m.modifiers[key]; ok {
		stopTimer(s)
	}
	delete(m.modifiers, key)
}

func stopTimer(s *state.ModifierState) {
	if s.Timer != nil {
		s.Timer.Stop()
	}
}
