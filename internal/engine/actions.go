package engine

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/table-talk25/TableTalk-app-sub000/internal/store"
	"github.com/table-talk25/TableTalk-app-sub000/pkg/chat"
	"github.com/table-talk25/TableTalk-app-sub000/pkg/pipeline"
	"github.com/table-talk25/TableTalk-app-sub000/pkg/protocol"
	"github.com/table-talk25/TableTalk-app-sub000/pkg/state"
)

var (
	ErrNotParticipant = errors.New("user is not a participant of this chat")
	ErrInvalidPayload = errors.New("payload is not valid JSON")
)

// _join only admits participants of a stored chat. They receive read and
// write on the room.
func (e *Registry) actionJoinChat(pctx *pipeline.Cargo, params ...string) error {
	if len(params) != 2 {
		return errors.New("_join requires 2 parameters: [userid, chatid]")
	}
	userID := params[0]
	chatID := params[1]
	if chatID == "" {
		return errors.New("_join: chat id is empty")
	}

	stored, err := e.store.GetChat(chatID)
	if err != nil {
		return fmt.Errorf("failed to load chat '%s': %w", chatID, err)
	}
	if !store.IsParticipant(stored, userID) {
		return ErrNotParticipant
	}

	if _, err := pctx.StateManager.Join(userID, chatID, state.PermParticipant); err != nil {
		return fmt.Errorf("failed to join user '%s' to room '%s': %w", userID, chatID, err)
	}
	pctx.Logger.Info("User joined chat", slog.String("userID", userID), slog.String("chatID", chatID))
	return nil
}

func actionLeaveRoom(pctx *pipeline.Cargo, params ...string) error {
	if len(params) != 2 {
		return errors.New("_leave requires 2 parameters: [userid, roomid]")
	}
	userID := params[0]
	roomID := params[1]
	err := pctx.StateManager.Leave(userID, roomID)
	if err != nil {
		return fmt.Errorf("failed to leave user '%s' from room '%s': %w", userID, roomID, err)
	}
	pctx.Logger.Info("User left room", slog.String("userID", userID), slog.String("roomID", roomID))
	return nil
}

// _message sanitizes, stores and broadcasts a chat message to every member
// of the room, sender included.
func (e *Registry) actionMessage(pctx *pipeline.Cargo, params ...string) error {
	if len(params) != 2 {
		return errors.New("_message requires 2 parameters: [chatid, content]")
	}
	chatID := params[0]
	body, err := chat.Sanitize(params[1])
	if err != nil {
		return err
	}

	msg, err := e.store.AppendMessage(protocol.Message{
		ChatID:            chatID,
		SenderID:          pctx.User.ID,
		SenderDisplayName: pctx.User.DisplayName,
		Body:              body,
		SentAt:            e.clock.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("failed to store message: %w", err)
	}

	frame, err := protocol.Encode(protocol.EventMessage, msg)
	if err != nil {
		return err
	}
	broadcast(pctx, chatID, frame, "")
	return nil
}

func actionLog(pctx *pipeline.Cargo, params ...string) error {
	if len(params) != 1 {
		return errors.New("_log requires exactly 1 parameter: [message]")
	}
	pctx.Logger.Info(params[0], slog.String("component", "action_log"), slog.String("userID", pctx.User.ID))
	return nil
}

// _notify_origin reaches every connection of the sending user.
func actionNotifyOrigin(pctx *pipeline.Cargo, params ...string) error {
	if len(params) != 2 {
		return errors.New("_notify_origin requires exactly 2 parameters: [eventName, payload]")
	}
	return notifyRoom(pctx, UserRoom(pctx.User.ID), params[0], params[1], "")
}

func actionNotifyRoom(pctx *pipeline.Cargo, params ...string) error {
	if len(params) != 2 {
		return errors.New("_notify_room requires 2 parameters: [eventName, payload]")
	}
	return notifyRoom(pctx, pctx.TargetID, params[0], params[1], "")
}

// _notify_others skips the sending user, as typing indicators need.
func actionNotifyOthers(pctx *pipeline.Cargo, params ...string) error {
	if len(params) != 2 {
		return errors.New("_notify_others requires 2 parameters: [eventName, payload]")
	}
	return notifyRoom(pctx, pctx.TargetID, params[0], params[1], pctx.User.ID)
}

func notifyRoom(pctx *pipeline.Cargo, roomID, eventName, payload, exceptUserID string) error {
	if !json.Valid([]byte(payload)) {
		return fmt.Errorf("%w: %s", ErrInvalidPayload, eventName)
	}
	msgBytes, err := protocol.Encode(eventName, json.RawMessage(payload))
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}
	broadcast(pctx, roomID, msgBytes, exceptUserID)
	return nil
}

func broadcast(pctx *pipeline.Cargo, roomID string, frame []byte, exceptUserID string) {
	targetConns, err := getConnectionsForRoom(pctx, roomID, exceptUserID)
	if err != nil {
		// Usually the room is simply empty.
		pctx.Logger.Debug("Could not resolve room to connections", slog.String("roomID", roomID), slog.Any("error", err))
		return
	}

	for _, conn := range targetConns {
		if err := conn.Send(frame); err != nil {
			pctx.Logger.Debug("Dropped frame for closed connection", slog.String("connID", conn.ID().String()))
		}
	}
	pctx.Logger.Debug("Notified room", slog.String("roomID", roomID), slog.Int("connection_count", len(targetConns)))
}
