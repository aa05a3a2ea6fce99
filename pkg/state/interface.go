// Package state tracks who is connected to the relay, which rooms they are
// in and what they may do there.
package state

import (
	"github.com/google/uuid"

	"github.com/table-talk25/TableTalk-app-sub000/pkg/transport"
)

type Manager interface {
	// RegisterConnection tracks a new socket. It has no user until
	// AssociateUser is called.
	RegisterConnection(conn *transport.Connection, ipAddr string) (*Connection, error)
	// DeregisterConnection drops the connection. A user left without
	// connections leaves every room and is forgotten.
	DeregisterConnection(connID uuid.UUID) error
	GetConnection(connID uuid.UUID) (*Connection, bool)
	FindOldestUserConnection(userID string) (*Connection, bool)

	// AssociateUser links a connection to userID, creating the user on its
	// first connection.
	AssociateUser(connID uuid.UUID, userID, displayName string, globalPerms Permission) (*User, error)
	FindUser(userID string) (*User, bool)
	GetUserConnections(userID string) ([]*transport.Connection, error)
	GetUserConnectionCount(userID string) (int, error)
	GetAllUsers() ([]*User, error)

	// Join adds a user to a room, creating the room on demand. Joining
	// again keeps the existing grant.
	Join(userID, roomID string, perms Permission) (*Grant, error)
	// Leave removes the user and deletes the room once it is empty.
	Leave(userID, roomID string) error
	GetRoomMembers(roomID string) ([]*User, error)
	FindRoom(roomID string) (*Room, bool)

	SetPermissions(userID, roomID string, perms Permission) error
	UpdatePermissions(userID, roomID string, add, remove Permission) error
	GetGrant(userID, roomID string) (*Grant, bool)

	GetModifierState(modifierName, userID, eventName string) (state *ModifierState, found bool)
	// SetModifierState sets or replaces an entry, stopping the cleanup
	// timer of the entry it replaces.
	SetModifierState(modifierName, userID, eventName string, state *ModifierState)
	// DeleteModifierState is usually called by the entry's own timer.
	DeleteModifierState(modifierName, userID, eventName string)
}
