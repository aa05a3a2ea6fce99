package engine

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/table-talk25/TableTalk-app-sub000/pkg/pipeline"
	"github.com/table-talk25/TableTalk-app-sub000/pkg/state"
	"github.com/table-talk25/TableTalk-app-sub000/pkg/transport"
)

const userRoomPrefix = "user:"

// UserRoom names the personal room reaching every connection of a user.
func UserRoom(userID string) string {
	return userRoomPrefix + userID
}

// ConnectionsFor resolves a room name to live connections. Personal rooms
// resolve to the user's connections.
func ConnectionsFor(sm state.Manager, roomID, exceptUserID string, logger *slog.Logger) ([]*transport.Connection, error) {
	if userID, ok := strings.CutPrefix(roomID, userRoomPrefix); ok {
		if userID == exceptUserID {
			return nil, nil
		}
		userConns, err := sm.GetUserConnections(userID)
		if err != nil {
			return nil, fmt.Errorf("failed to get connections for user room '%s': %w", roomID, err)
		}
		return userConns, nil
	}

	members, err := sm.GetRoomMembers(roomID)
	if err != nil {
		return nil, fmt.Errorf("failed to get members for room '%s': %w", roomID, err)
	}
	conns := make(map[uuid.UUID]*transport.Connection)
	for _, member := range members {
		if member.ID == exceptUserID {
			continue
		}
		memberConns, err := sm.GetUserConnections(member.ID)
		if err != nil {
			// The member may have just gone offline.
			logger.Warn("Failed to get connections for room member", slog.String("roomID", roomID), slog.String("userID", member.ID), slog.Any("error", err))
			continue
		}
		for _, conn := range memberConns {
			conns[conn.ID()] = conn
		}
	}
	connList := make([]*transport.Connection, 0, len(conns))
	for _, conn := range conns {
		connList = append(connList, conn)
	}
	return connList, nil
}

func getConnectionsForRoom(pctx *pipeline.Cargo, roomID, exceptUserID string) ([]*transport.Connection, error) {
	return ConnectionsFor(pctx.StateManager, roomID, exceptUserID, pctx.Logger)
}
