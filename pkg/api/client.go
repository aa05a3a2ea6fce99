// Package api is the REST client for the chat, notification and invitation
// endpoints the realtime layer depends on.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/table-talk25/TableTalk-app-sub000/pkg/protocol"
)

var (
	ErrStatus       = errors.New("api: request failed")
	ErrUnauthorized = errors.New("api: unauthorized")
)

type Config struct {
	BaseURL string        `mapstructure:"baseURL"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// Client calls the REST API on behalf of one logged-in user.
type Client struct {
	base   *url.URL
	token  string
	http   *http.Client
	logger *slog.Logger
}

func New(cfg Config, token string, httpClient *http.Client, logger *slog.Logger) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid api base url %q: %w", cfg.BaseURL, err)
	}
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	return &Client{
		base:   base,
		token:  token,
		http:   httpClient,
		logger: logger.With(slog.String("component", "api_client")),
	}, nil
}

func (c *Client) CreateChat(ctx context.Context, req protocol.CreateChat) (protocol.Chat, error) {
	data, err := c.do(ctx, http.MethodPost, "/chats", req)
	if err != nil {
		return protocol.Chat{}, err
	}
	return protocol.DecodeChat([]byte(data.Raw))
}

func (c *Client) GetChat(ctx context.Context, chatID string) (protocol.Chat, error) {
	data, err := c.do(ctx, http.MethodGet, "/chats/"+url.PathEscape(chatID), nil)
	if err != nil {
		return protocol.Chat{}, err
	}
	return protocol.DecodeChat([]byte(data.Raw))
}

// FetchHistory returns the stored messages of a chat.
func (c *Client) FetchHistory(ctx context.Context, chatID string) ([]protocol.Message, error) {
	chat, err := c.GetChat(ctx, chatID)
	if err != nil {
		return nil, err
	}
	return chat.Messages, nil
}

// LeaveChat removes the caller from the chat participants.
func (c *Client) LeaveChat(ctx context.Context, chatID string) error {
	_, err := c.do(ctx, http.MethodDelete, "/chats/"+url.PathEscape(chatID)+"/participants", nil)
	return err
}

func (c *Client) ListNotifications(ctx context.Context) ([]protocol.Notification, error) {
	data, err := c.do(ctx, http.MethodGet, "/notifications", nil)
	if err != nil {
		return nil, err
	}
	return protocol.DecodeNotifications([]byte(data.Raw)), nil
}

func (c *Client) MarkAllNotificationsRead(ctx context.Context) error {
	_, err := c.do(ctx, http.MethodPost, "/notifications/read", nil)
	return err
}

func (c *Client) MarkNotificationRead(ctx context.Context, id string) error {
	_, err := c.do(ctx, http.MethodPost, "/notifications/"+url.PathEscape(id)+"/mark-as-read", nil)
	return err
}

func (c *Client) SendInvitation(ctx context.Context, inv protocol.Invitation) error {
	_, err := c.do(ctx, http.MethodPost, "/invitations", inv)
	return err
}

func (c *Client) AcceptInvitation(ctx context.Context, accept protocol.InvitationAccept) (protocol.Chat, error) {
	data, err := c.do(ctx, http.MethodPost, "/invitations/accept", accept)
	if err != nil {
		return protocol.Chat{}, err
	}
	return protocol.DecodeChat([]byte(data.Raw))
}

// do sends one request and unwraps the {success, data, error} envelope.
func (c *Client) do(ctx context.Context, method, path string, body any) (gjson.Result, error) {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return gjson.Result{}, fmt.Errorf("failed to encode %s %s: %w", method, path, err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base.String()+path, reader)
	if err != nil {
		return gjson.Result{}, err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return gjson.Result{}, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return gjson.Result{}, fmt.Errorf("%s %s: failed to read response: %w", method, path, err)
	}

	env := gjson.ParseBytes(raw)
	if resp.StatusCode == http.StatusUnauthorized {
		return gjson.Result{}, fmt.Errorf("%w: %s %s", ErrUnauthorized, method, path)
	}
	if resp.StatusCode >= 300 || (env.Get("success").Exists() && !env.Get("success").Bool()) {
		msg := first(env, "error", "message").String()
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		c.logger.Debug("Request failed", slog.String("method", method), slog.String("path", path), slog.Int("status", resp.StatusCode))
		return gjson.Result{}, fmt.Errorf("%w: %s %s: %d %s", ErrStatus, method, path, resp.StatusCode, msg)
	}
	return env.Get("data"), nil
}

func first(r gjson.Result, paths ...string) gjson.Result {
	for _, p := range paths {
		if v := r.Get(p); v.Exists() {
			return v
		}
	}
	return gjson.Result{}
}
