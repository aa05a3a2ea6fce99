package session

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/table-talk25/TableTalk-app-sub000/pkg/transport"
)

// ErrUnauthorized marks a handshake rejected by the server. Dialers must
// wrap it so the manager can stop retrying.
var ErrUnauthorized = transport.ErrUnauthorized

// Link is one live transport connection.
type Link interface {
	Send(frame []byte) error
	Close(err error)
	Done() <-chan struct{}
}

// Callbacks are invoked by a link for every inbound frame and once when it
// closes. OnFrame is called from a single goroutine in wire order.
type Callbacks struct {
	OnFrame func(frame []byte)
	OnClose func(err error)
}

type Dialer interface {
	Dial(ctx context.Context, token string, cb Callbacks) (Link, error)
}

// WebSocketDialer dials the relay with coder/websocket.
type WebSocketDialer struct {
	Config transport.DialConfig
	Logger *slog.Logger
}

func NewWebSocketDialer(cfg transport.DialConfig, logger *slog.Logger) *WebSocketDialer {
	return &WebSocketDialer{
		Config: cfg,
		Logger: logger.With(slog.String("component", "ws_dialer")),
	}
}

func (d *WebSocketDialer) Dial(ctx context.Context, token string, cb Callbacks) (Link, error) {
	conn, err := transport.Dial(ctx, d.Config, token,
		func(_ context.Context, _ uuid.UUID, msg []byte) {
			if cb.OnFrame != nil {
				cb.OnFrame(msg)
			}
		},
		func(_ uuid.UUID, err error) {
			if cb.OnClose != nil {
				cb.OnClose(err)
			}
		},
		d.Logger,
	)
	if err != nil {
		return nil, err
	}
	return conn, nil
}
