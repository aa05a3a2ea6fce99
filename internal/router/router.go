package router

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/table-talk25/TableTalk-app-sub000/pkg/pipeline"
	"github.com/table-talk25/TableTalk-app-sub000/pkg/protocol"
	"github.com/table-talk25/TableTalk-app-sub000/pkg/state"
)

type EventRouter struct {
	logger       *slog.Logger
	stateManager state.Manager
	pipelines    map[string]*pipeline.Pipeline
	resolver     ParamResolver
}

func NewEventRouter(logger *slog.Logger, stateManager state.Manager, pipelines map[string]*pipeline.Pipeline, resolver ParamResolver) *EventRouter {
	return &EventRouter{
		logger:       logger.With(slog.String("component", "event_router")),
		stateManager: stateManager,
		pipelines:    pipelines,
		resolver:     resolver,
	}
}

// HandleMessage is the transport message handler of every relay
// connection. Frames of one connection arrive here in wire order.
func (r *EventRouter) HandleMessage(ctx context.Context, connID uuid.UUID, msg []byte) {
	conn, ok := r.stateManager.GetConnection(connID)
	if !ok || conn.User == nil {
		r.logger.Error("Could not find connection profile for active connection", slog.String("connID", connID.String()), slog.Any("error", ErrUnknownConnection))
		return
	}

	env, err := protocol.Decode(msg)
	if err != nil {
		r.logger.Warn("Failed to decode client frame", slog.String("connID", connID.String()), slog.Any("error", err))
		r.notifyOrigin(conn, "", err)
		return
	}

	pipe, ok := r.pipelines[env.Event]
	if !ok {
		r.logger.Warn("Received unknown event", slog.String("event", env.Event), slog.String("connID", connID.String()))
		r.notifyOrigin(conn, env.Event, fmt.Errorf("%w '%s'", ErrUnknownEvent, env.Event))
		return
	}

	pctx := &pipeline.Cargo{
		Logger: r.logger.With(
			slog.String("event", env.Event),
			slog.String("userID", conn.User.ID),
			slog.String("connID", connID.String()),
		),
		Ctx:          ctx,
		User:         conn.User,
		Connection:   conn,
		StateManager: r.stateManager,
		EventName:    env.Event,
		Payload:      env.Payload,
	}
	pctx.Logger.Debug("Executing event pipeline")
	if err := r.execute(pctx, pipe); err != nil {
		r.notifyOrigin(conn, env.Event, err)
	}
}
