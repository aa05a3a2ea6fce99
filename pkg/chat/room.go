// Package chat implements the open chat view: history, the live
// transcript, peer typing state and gated sending.
package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/table-talk25/TableTalk-app-sub000/pkg/protocol"
	"github.com/table-talk25/TableTalk-app-sub000/pkg/session"
	"github.com/table-talk25/TableTalk-app-sub000/pkg/typing"
)

var (
	ErrSendDisabled = errors.New("chat: sending is disabled while offline")
	ErrRoomClosed   = errors.New("chat: room is closed")
)

// Session is the part of the connection manager a room depends on.
type Session interface {
	Subscribe(event string, handler session.Handler) (unsubscribe func())
	Emit(event string, payload any) error
	Join(chatID string) error
	Leave(chatID string) error
	State() session.State
	Acquire() (release func())
}

// History loads the messages of a chat that predate the live stream.
type History interface {
	FetchHistory(ctx context.Context, chatID string) ([]protocol.Message, error)
}

type Options struct {
	// SelfID is the logged-in user; its own typing echoes are ignored.
	SelfID string
	// TypingIdle ends a local typing burst; PeerTypingTTL expires peers.
	TypingIdle    time.Duration
	PeerTypingTTL time.Duration
	Clock         clock.Clock

	OnMessage        func(protocol.Message)
	OnForeignMessage func(protocol.Message)
	OnTyping         func(peers []typing.Peer)
}

// Room is one open chat. It is created by Open and must be closed when the
// view goes away.
type Room struct {
	chatID     string
	opts       Options
	session    Session
	transcript *Transcript
	debouncer  *typing.Debouncer
	tracker    *typing.Tracker
	logger     *slog.Logger

	unsubscribe []func()
	release     func()
	closeOnce   sync.Once
	closed      chan struct{}
}

// Open fetches the chat history, then subscribes to the live stream and
// joins the room. A failed fetch leaves no subscriptions behind.
func Open(ctx context.Context, sess Session, history History, chatID string, opts Options, logger *slog.Logger) (*Room, error) {
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}

	seed, err := history.FetchHistory(ctx, chatID)
	if err != nil {
		return nil, fmt.Errorf("failed to load chat %s: %w", chatID, err)
	}

	r := &Room{
		chatID:     chatID,
		opts:       opts,
		session:    sess,
		transcript: NewTranscript(seed),
		logger:     logger.With(slog.String("component", "chat_room"), slog.String("chat_id", chatID)),
		closed:     make(chan struct{}),
	}
	r.debouncer = typing.NewDebouncer(sess, typing.Options{Idle: opts.TypingIdle, Clock: opts.Clock}, logger)
	r.tracker = typing.NewTracker(typing.TrackerOptions{
		TTL:   opts.PeerTypingTTL,
		Clock: opts.Clock,
		OnChange: func(id string, peers []typing.Peer) {
			if id == chatID && opts.OnTyping != nil {
				opts.OnTyping(peers)
			}
		},
	})

	r.release = sess.Acquire()
	r.unsubscribe = []func(){
		sess.Subscribe(protocol.EventMessage, r.handleMessage),
		sess.Subscribe(protocol.EventTyping, r.handleTyping),
		sess.Subscribe(protocol.EventStopTyping, r.handleStopTyping),
	}
	if err := sess.Join(chatID); err != nil {
		// The room stays in the rejoin set and is joined on reconnect.
		r.logger.Warn("Failed to join chat", slog.Any("error", err))
	}

	r.logger.Debug("Chat opened", slog.Int("history", len(seed)))
	return r, nil
}

func (r *Room) ChatID() string { return r.chatID }

// Messages returns the transcript in arrival order.
func (r *Room) Messages() []protocol.Message {
	return r.transcript.Messages()
}

// Typing returns the peers currently typing, oldest first.
func (r *Room) Typing() []typing.Peer {
	return r.tracker.Peers(r.chatID)
}

// CanSend reports whether the send control should be enabled.
func (r *Room) CanSend() bool {
	return !r.isClosed() && r.session.State() == session.StateConnected
}

// Send sanitizes content and emits it once. Nothing is appended locally:
// the message enters the transcript when the server echoes it back.
func (r *Room) Send(content string) error {
	if r.isClosed() {
		return ErrRoomClosed
	}
	if r.session.State() != session.StateConnected {
		return ErrSendDisabled
	}

	body, err := Sanitize(content)
	if err != nil {
		return err
	}

	err = r.session.Emit(protocol.EventSendMessage, protocol.SendMessage{
		ChatID:    r.chatID,
		Content:   body,
		Timestamp: r.opts.Clock.Now().UTC(),
	})
	if errors.Is(err, session.ErrNotConnected) {
		return ErrSendDisabled
	}
	if err != nil {
		return err
	}

	r.debouncer.Stop(r.chatID)
	return nil
}

// Keystroke feeds the typing debouncer. It is silent while offline.
func (r *Room) Keystroke() {
	if !r.CanSend() {
		return
	}
	if err := r.debouncer.Keystroke(r.chatID); err != nil {
		r.logger.Debug("Failed to send typing", slog.Any("error", err))
	}
}

// Close removes every listener, ends typing, leaves the room and drops the
// transcript. It is idempotent.
func (r *Room) Close() {
	r.closeOnce.Do(func() {
		close(r.closed)
		for _, unsubscribe := range r.unsubscribe {
			unsubscribe()
		}
		r.debouncer.Close()
		r.tracker.Close()
		if err := r.session.Leave(r.chatID); err != nil {
			r.logger.Debug("Failed to leave chat", slog.Any("error", err))
		}
		r.transcript.reset()
		r.release()
		r.logger.Debug("Chat closed")
	})
}

func (r *Room) isClosed() bool {
	select {
	case <-r.closed:
		return true
	default:
		return false
	}
}

func (r *Room) handleMessage(payload json.RawMessage) {
	if r.isClosed() {
		return
	}
	msg, err := protocol.DecodeMessage(payload)
	if err != nil {
		r.logger.Debug("Dropping undecodable message", slog.Any("error", err))
		return
	}
	if msg.ChatID != r.chatID {
		if r.opts.OnForeignMessage != nil {
			r.opts.OnForeignMessage(msg)
		}
		return
	}

	r.transcript.Append(msg)
	if r.opts.OnMessage != nil {
		r.opts.OnMessage(msg)
	}
}

func (r *Room) handleTyping(payload json.RawMessage) {
	ev, ok := r.typingEvent(payload)
	if !ok {
		return
	}
	r.tracker.Start(r.chatID, typing.Peer{UserID: ev.UserID, DisplayName: ev.Username})
}

func (r *Room) handleStopTyping(payload json.RawMessage) {
	ev, ok := r.typingEvent(payload)
	if !ok {
		return
	}
	r.tracker.Stop(r.chatID, ev.UserID)
}

func (r *Room) typingEvent(payload json.RawMessage) (protocol.TypingEvent, bool) {
	if r.isClosed() {
		return protocol.TypingEvent{}, false
	}
	ev, err := protocol.DecodeTyping(payload)
	// Payloads without a chatId belong to the open chat.
	if err != nil || (ev.ChatID != "" && ev.ChatID != r.chatID) || ev.UserID == r.opts.SelfID {
		return protocol.TypingEvent{}, false
	}
	return ev, true
}
