// Package client is the entry point of the realtime layer. A Session is
// created on login and torn down on logout; it owns the connection manager,
// the REST client, the notification center and the open chat rooms.
package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/benbjohnson/clock"
	"github.com/golang-jwt/jwt/v5"

	"github.com/table-talk25/TableTalk-app-sub000/pkg/api"
	"github.com/table-talk25/TableTalk-app-sub000/pkg/chat"
	"github.com/table-talk25/TableTalk-app-sub000/pkg/config"
	"github.com/table-talk25/TableTalk-app-sub000/pkg/notify"
	"github.com/table-talk25/TableTalk-app-sub000/pkg/protocol"
	"github.com/table-talk25/TableTalk-app-sub000/pkg/session"
	"github.com/table-talk25/TableTalk-app-sub000/pkg/transport"
)

var (
	ErrAlreadyLoggedIn = errors.New("client: a session is already active")
	ErrNotLoggedIn     = errors.New("client: no active session")
	ErrInvalidToken    = errors.New("client: token has no subject")
)

type Options struct {
	Config     config.ClientConfig
	HTTPClient *http.Client
	Clock      clock.Clock
	// Dialer replaces the WebSocket dialer, mostly in tests.
	Dialer session.Dialer

	Toaster         func(notify.Toast)
	OnNotifications func(list []protocol.Notification, unread int)
	OnStateChange   func(session.Transition)
}

// Client allows one logged-in Session at a time.
type Client struct {
	opts   Options
	logger *slog.Logger

	mu      sync.Mutex
	current *Session
}

func New(opts Options, logger *slog.Logger) *Client {
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	return &Client{opts: opts, logger: logger.With(slog.String("component", "client"))}
}

type claims struct {
	Name string `json:"name"`
	jwt.RegisteredClaims
}

// identify reads the user from the token without verifying it; the server
// does that at the handshake.
func identify(token string) (userID, name string, err error) {
	var c claims
	if _, _, err := jwt.NewParser().ParseUnverified(token, &c); err != nil {
		return "", "", fmt.Errorf("client: malformed token: %w", err)
	}
	if c.Subject == "" {
		return "", "", ErrInvalidToken
	}
	return c.Subject, c.Name, nil
}

// Login connects with token and loads the notification list. A failed
// connect leaves nothing behind.
func (c *Client) Login(ctx context.Context, token string) (*Session, error) {
	if token == "" {
		return nil, session.ErrEmptyToken
	}
	userID, name, err := identify(token)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	if c.current != nil {
		c.mu.Unlock()
		return nil, ErrAlreadyLoggedIn
	}
	s, err := c.newSession(token, userID, name)
	if err != nil {
		c.mu.Unlock()
		return nil, err
	}
	c.current = s
	c.mu.Unlock()

	if err := s.manager.Connect(ctx, token); err != nil {
		c.logout(s)
		return nil, fmt.Errorf("client: login failed: %w", err)
	}
	if err := s.notifications.Load(ctx); err != nil {
		s.logger.Warn("Could not load notifications", slog.Any("error", err))
	}
	s.logger.Info("Logged in")
	return s, nil
}

// Logout tears the current session down. It is safe without a session.
func (c *Client) Logout() {
	c.mu.Lock()
	s := c.current
	c.mu.Unlock()
	if s != nil {
		c.logout(s)
	}
}

// Session returns the active session or nil.
func (c *Client) Session() *Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

func (c *Client) logout(s *Session) {
	s.close()
	c.mu.Lock()
	if c.current == s {
		c.current = nil
	}
	c.mu.Unlock()
}

func (c *Client) newSession(token, userID, name string) (*Session, error) {
	cfg := c.opts.Config
	logger := c.logger.With(slog.String("userID", userID))

	rest, err := api.New(api.Config{BaseURL: cfg.APIURL, Timeout: cfg.ConnectTimeout}, token, c.opts.HTTPClient, logger)
	if err != nil {
		return nil, err
	}

	dialer := c.opts.Dialer
	if dialer == nil {
		dialer = session.NewWebSocketDialer(transport.DialConfig{URL: cfg.ServerURL, HTTPClient: c.opts.HTTPClient}, logger)
	}
	opts := session.Options{ConnectTimeout: cfg.ConnectTimeout, Clock: c.opts.Clock}
	if cfg.ReconnectDelay > 0 {
		opts.NewBackOff = session.FixedDelay(cfg.ReconnectDelay)
	}
	manager := session.NewManager(dialer, opts, logger)

	s := &Session{
		UserID:      userID,
		DisplayName: name,
		manager:     manager,
		api:         rest,
		cfg:         cfg,
		clock:       c.opts.Clock,
		rooms:       make(map[string]*chat.Room),
		logger:      logger.With(slog.String("component", "login_session")),
	}
	s.notifications = notify.NewCenter(rest, notify.Options{
		Toaster:     c.opts.Toaster,
		OnChange:    c.opts.OnNotifications,
		SyncTimeout: cfg.NotificationSyncTimeout,
	}, logger)
	s.notifications.Attach(manager)
	s.detach = append(s.detach, manager.Subscribe(protocol.EventMessage, s.handleMessage))
	if c.opts.OnStateChange != nil {
		s.detach = append(s.detach, manager.OnStateChange(c.opts.OnStateChange))
	}
	// The session is a consumer itself so the connection outlives rooms.
	s.release = manager.Acquire()
	return s, nil
}
