package protocol

import (
	"errors"
	"time"

	"github.com/tidwall/gjson"
)

var ErrInvalidPayload = errors.New("protocol: invalid payload")

// Message is an immutable chat message.
type Message struct {
	ID                string    `json:"id"`
	ChatID            string    `json:"chatId"`
	SenderID          string    `json:"senderId"`
	SenderDisplayName string    `json:"senderDisplayName,omitempty"`
	Body              string    `json:"body"`
	SentAt            time.Time `json:"sentAt"`
}

// SendMessage is the payload of send_message.
type SendMessage struct {
	ChatID    string    `json:"chatId"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// TypingEvent is the server → client typing payload.
type TypingEvent struct {
	ChatID   string `json:"chatId"`
	UserID   string `json:"userId"`
	Username string `json:"username"`
}

// DecodeMessage reads a message payload. Field names used by older servers
// are accepted too: content for body, sender._id or userId for senderId,
// sender.nickname or username for the display name and timestamp or
// createdAt for sentAt.
func DecodeMessage(raw []byte) (Message, error) {
	if !gjson.ValidBytes(raw) {
		return Message{}, ErrInvalidPayload
	}
	return messageFrom(gjson.ParseBytes(raw))
}

// DecodeMessages reads a JSON array of messages, skipping invalid entries.
func DecodeMessages(raw []byte) []Message {
	if !gjson.ValidBytes(raw) {
		return nil
	}
	var out []Message
	gjson.ParseBytes(raw).ForEach(func(_, value gjson.Result) bool {
		if m, err := messageFrom(value); err == nil {
			out = append(out, m)
		}
		return true
	})
	return out
}

func messageFrom(r gjson.Result) (Message, error) {
	if !r.IsObject() {
		return Message{}, ErrInvalidPayload
	}
	m := Message{
		ID:                first(r, "id", "_id").String(),
		ChatID:            r.Get("chatId").String(),
		SenderID:          first(r, "senderId", "sender._id", "sender.id", "userId").String(),
		SenderDisplayName: first(r, "senderDisplayName", "sender.nickname", "username").String(),
		Body:              first(r, "body", "content").String(),
	}
	if ts := first(r, "sentAt", "timestamp", "createdAt"); ts.Exists() {
		m.SentAt = ts.Time()
	}
	if m.SenderID == "" {
		return Message{}, ErrInvalidPayload
	}
	return m, nil
}

// DecodeTyping reads a typing or stop_typing payload. The nested
// {user: {_id, nickname}} shape is accepted as well.
func DecodeTyping(raw []byte) (TypingEvent, error) {
	if !gjson.ValidBytes(raw) {
		return TypingEvent{}, ErrInvalidPayload
	}
	r := gjson.ParseBytes(raw)
	ev := TypingEvent{
		ChatID:   r.Get("chatId").String(),
		UserID:   first(r, "userId", "user._id", "user.id").String(),
		Username: first(r, "username", "user.nickname").String(),
	}
	if ev.UserID == "" {
		return TypingEvent{}, ErrInvalidPayload
	}
	return ev, nil
}

// first returns the first existing value among paths.
func first(r gjson.Result, paths ...string) gjson.Result {
	for _, p := range paths {
		if v := r.Get(p); v.Exists() {
			return v
		}
	}
	return gjson.Result{}
}
