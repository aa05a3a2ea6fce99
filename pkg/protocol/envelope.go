// Package protocol defines the realtime event contract shared by the client
// session layer and the relay: event names, the frame envelope and payloads.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Client → server events.
const (
	EventJoinChat    = "join_chat"
	EventLeaveChat   = "leave_chat"
	EventSendMessage = "send_message"
	EventTyping      = "typing"
	EventStopTyping  = "stop_typing"
)

// Server → client events. Typing events reuse the client names.
const (
	EventSession         = "session"
	EventMessage         = "message"
	EventNewNotification = "new_notification"
	EventError           = "error"
)

var ErrMissingEvent = errors.New("protocol: frame has no event name")

// Envelope is a single text frame on the wire.
type Envelope struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Encode marshals payload and wraps it in an envelope frame.
// A nil payload produces a frame without a payload field.
func Encode(event string, payload any) ([]byte, error) {
	if event == "" {
		return nil, ErrMissingEvent
	}
	env := Envelope{Event: event}
	switch p := payload.(type) {
	case nil:
	case json.RawMessage:
		env.Payload = p
	default:
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal %s payload: %w", event, err)
		}
		env.Payload = raw
	}
	return json.Marshal(env)
}

// Decode parses a frame.
func Decode(frame []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return Envelope{}, fmt.Errorf("protocol: malformed frame: %w", err)
	}
	if env.Event == "" {
		return Envelope{}, ErrMissingEvent
	}
	return env, nil
}

// ChatRef is the payload of join_chat, leave_chat, typing and stop_typing.
type ChatRef struct {
	ChatID string `json:"chatId"`
}

// SessionInfo is sent by the server right after the handshake.
type SessionInfo struct {
	SocketID string `json:"socketId"`
	UserID   string `json:"userId"`
}

// ErrorEvent reports a rejected client event.
type ErrorEvent struct {
	Event string `json:"event"`
	Error string `json:"error"`
}
