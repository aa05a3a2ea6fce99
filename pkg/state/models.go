package state

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"

	"github.com/table-talk25/TableTalk-app-sub000/pkg/transport"
)

// Connection is one live socket of a user.
type Connection struct {
	ID        uuid.UUID
	IPAddress string
	Transport *transport.Connection
	// User is nil until the handshake identity is associated.
	User      *User
	CreatedAt time.Time
}

// User aggregates every connection of one account. Room membership and
// grants belong to the user, not to a single socket.
type User struct {
	ID                string
	DisplayName       string
	Connections       map[uuid.UUID]*Connection
	Grants            map[string]*Grant // by room id
	GlobalPermissions Permission
}

// Room is a chat room or a personal "user:<id>" room.
type Room struct {
	ID      string
	Members map[string]*User // by user id
}

// Grant links a member to a room with the permissions it holds there.
type Grant struct {
	User        *User
	Room        *Room
	Permissions Permission
}

// ModifierState is per user and event data kept by a pipeline modifier
// between messages. Mu guards Value.
type ModifierState struct {
	Mu    sync.Mutex
	Value any
	Timer *clock.Timer
}
