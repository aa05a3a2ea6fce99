package router

import (
	"log/slog"

	"github.com/table-talk25/TableTalk-app-sub000/pkg/protocol"
	"github.com/table-talk25/TableTalk-app-sub000/pkg/state"
)

// notifyOrigin reports a rejected event to the connection that sent it.
func (r *EventRouter) notifyOrigin(conn *state.Connection, event string, cause error) {
	if conn == nil || conn.Transport == nil {
		return
	}
	frame, err := protocol.Encode(protocol.EventError, protocol.ErrorEvent{Event: event, Error: cause.Error()})
	if err != nil {
		r.logger.Error("Failed to encode error event", slog.Any("error", err))
		return
	}
	if err := conn.Transport.Send(frame); err != nil {
		r.logger.Debug("Could not deliver error event", slog.String("connID", conn.ID.String()), slog.Any("error", err))
	}
}
