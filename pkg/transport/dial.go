package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/coder/websocket"
)

// ErrUnauthorized is returned when the server rejects the handshake token.
var ErrUnauthorized = errors.New("transport: handshake rejected")

type DialConfig struct {
	URL        string
	Connection ConnectionConfig
	HTTPClient *http.Client
}

// Dial opens a client connection authenticated with a bearer token and
// starts its pumps. The returned connection is already running.
func Dial(ctx context.Context, cfg DialConfig, token string, onMessage MessageHandler, onClose OnCloseHandler, logger *slog.Logger) (*Connection, error) {
	header := http.Header{}
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	}

	wsConn, resp, err := websocket.Dial(ctx, cfg.URL, &websocket.DialOptions{
		HTTPHeader: header,
		HTTPClient: cfg.HTTPClient,
	})
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return nil, fmt.Errorf("%w: status %d", ErrUnauthorized, resp.StatusCode)
		}
		return nil, fmt.Errorf("failed to dial %s: %w", cfg.URL, err)
	}

	// The dial context only bounds the handshake.
	conn := NewConnection(context.Background(), nil, wsConn, cfg.Connection, onMessage, onClose, logger)
	conn.Run()
	return conn, nil
}
