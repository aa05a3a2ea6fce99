// Package session owns the single realtime connection of a logged-in user:
// the authenticated handshake, automatic reconnection, room rejoin and the
// fan-out of inbound events to subscribers.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/cenkalti/backoff/v4"

	"github.com/table-talk25/TableTalk-app-sub000/pkg/protocol"
)

var (
	ErrEmptyToken      = errors.New("session: empty auth token")
	ErrNotConnected    = errors.New("session: not connected")
	ErrSessionActive   = errors.New("session: already active with a different token")
	ErrRetriesExceeded = errors.New("session: reconnect attempts exhausted")
)

// State is the UI-facing connection state.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateConnected
	StateDisconnected
	StateError
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDisconnected:
		return "disconnected"
	case StateError:
		return "error"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Transition describes one state change. Err is set when entering
// disconnected or error.
type Transition struct {
	From State
	To   State
	Err  error
}

type Options struct {
	// ConnectTimeout bounds every dial, including reconnect attempts.
	ConnectTimeout time.Duration
	// NewBackOff builds the pacing policy for one outage. Returning
	// backoff.Stop ends reconnection with an error state.
	NewBackOff func() backoff.BackOff
	Clock      clock.Clock
}

// FixedDelay retries forever with the same pause between attempts.
func FixedDelay(d time.Duration) func() backoff.BackOff {
	return func() backoff.BackOff {
		return backoff.NewConstantBackOff(d)
	}
}

func (o Options) withDefaults() Options {
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = 10 * time.Second
	}
	if o.NewBackOff == nil {
		o.NewBackOff = FixedDelay(2 * time.Second)
	}
	if o.Clock == nil {
		o.Clock = clock.New()
	}
	return o
}

type stateListener struct {
	id uint64
	fn func(Transition)
}

// Manager is the only writer on the shared connection. Consumers subscribe
// to the events they need and never close the connection themselves.
type Manager struct {
	dialer Dialer
	opts   Options
	logger *slog.Logger
	bus    *Bus

	mu        sync.Mutex
	state     State
	err       error
	token     string
	link      Link
	attempt   uint64 // newest dial attempt; frames from older attempts are dropped
	live      uint64 // attempt that owns link
	socketID  string
	rooms     []string
	stopRetry context.CancelFunc
	refs      int
	retries   sync.WaitGroup

	pending      []Transition
	flushing     bool
	listeners    []stateListener
	nextListener uint64
}

func NewManager(dialer Dialer, opts Options, logger *slog.Logger) *Manager {
	return &Manager{
		dialer: dialer,
		opts:   opts.withDefaults(),
		logger: logger.With(slog.String("component", "session_manager")),
		bus:    NewBus(),
	}
}

// Connect opens the connection and blocks until the first attempt succeeds
// or fails. An auth rejection leaves the manager in StateError without
// retrying. Calling Connect again with the same token while a connection is
// live, pending or being re-established does nothing.
func (m *Manager) Connect(ctx context.Context, token string) error {
	// An empty token is a caller error; the current session is untouched.
	if token == "" {
		return ErrEmptyToken
	}
	m.mu.Lock()
	switch m.state {
	case StateConnecting, StateConnected, StateDisconnected:
		same := m.token == token
		m.mu.Unlock()
		if same {
			return nil
		}
		return ErrSessionActive
	}
	// Never dial while a previous link is still installed.
	stale := m.link
	m.link = nil
	m.token = token
	m.attempt++
	attempt := m.attempt
	m.setStateLocked(StateConnecting, nil)
	m.mu.Unlock()
	m.flush()
	if stale != nil {
		stale.Close(nil)
	}

	dialCtx, cancel := context.WithTimeout(ctx, m.opts.ConnectTimeout)
	link, err := m.dialer.Dial(dialCtx, token, m.callbacks(attempt))
	cancel()

	m.mu.Lock()
	if m.attempt != attempt || m.state != StateConnecting {
		m.mu.Unlock()
		if link != nil {
			link.Close(nil)
		}
		if err != nil {
			return err
		}
		return ErrNotConnected
	}
	if err != nil {
		m.setStateLocked(StateError, err)
		m.mu.Unlock()
		m.flush()
		m.logger.Warn("Connect failed", slog.Any("error", err))
		return err
	}
	frames := m.installLocked(link, attempt)
	m.mu.Unlock()
	m.flush()

	m.logger.Info("Connected")
	m.afterInstall(link, attempt, frames)
	return nil
}

// Disconnect closes the connection and stops any reconnection. It is safe
// to call at any time and any number of times.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	link := m.link
	stop := m.stopRetry
	m.link = nil
	m.live = 0
	m.attempt++
	m.stopRetry = nil
	m.socketID = ""
	m.token = ""
	m.rooms = nil
	if m.state != StateIdle {
		m.setStateLocked(StateIdle, nil)
	}
	m.mu.Unlock()

	if stop != nil {
		stop()
	}
	if link != nil {
		link.Close(nil)
	}
	m.flush()
}

// Close disconnects and waits for background reconnect work to exit. It
// must not be called from a state listener.
func (m *Manager) Close() {
	m.Disconnect()
	m.retries.Wait()
}

// Emit sends one event. It fails with ErrNotConnected unless connected.
func (m *Manager) Emit(event string, payload any) error {
	frame, err := protocol.Encode(event, payload)
	if err != nil {
		return err
	}

	m.mu.Lock()
	link := m.link
	connected := m.state == StateConnected
	m.mu.Unlock()
	if !connected || link == nil {
		return ErrNotConnected
	}
	if err := link.Send(frame); err != nil {
		return fmt.Errorf("session: emit %s: %w", event, err)
	}
	return nil
}

// Join records chatID in the rejoin set and subscribes the connection to
// it now if connected, otherwise on the next successful connect.
func (m *Manager) Join(chatID string) error {
	m.mu.Lock()
	if !slices.Contains(m.rooms, chatID) {
		m.rooms = append(m.rooms, chatID)
	}
	connected := m.state == StateConnected
	m.mu.Unlock()

	if !connected {
		return nil
	}
	return m.Emit(protocol.EventJoinChat, protocol.ChatRef{ChatID: chatID})
}

func (m *Manager) Leave(chatID string) error {
	m.mu.Lock()
	m.rooms = slices.DeleteFunc(m.rooms, func(id string) bool { return id == chatID })
	connected := m.state == StateConnected
	m.mu.Unlock()

	if !connected {
		return nil
	}
	return m.Emit(protocol.EventLeaveChat, protocol.ChatRef{ChatID: chatID})
}

// Subscribe registers handler for an inbound event. Handlers run on the
// connection's reader goroutine, in wire order.
func (m *Manager) Subscribe(event string, handler Handler) (unsubscribe func()) {
	return m.bus.Subscribe(event, handler)
}

// OnStateChange registers fn for every transition. Transitions are
// delivered in order without holding the manager lock.
func (m *Manager) OnStateChange(fn func(Transition)) (unsubscribe func()) {
	m.mu.Lock()
	m.nextListener++
	id := m.nextListener
	m.listeners = append(m.listeners, stateListener{id: id, fn: fn})
	m.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			m.listeners = slices.DeleteFunc(m.listeners, func(l stateListener) bool { return l.id == id })
			m.mu.Unlock()
		})
	}
}

// Acquire registers a consumer of the connection. When the last consumer
// releases, the manager disconnects.
func (m *Manager) Acquire() (release func()) {
	m.mu.Lock()
	m.refs++
	m.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			m.refs--
			last := m.refs == 0
			m.mu.Unlock()
			if last {
				m.logger.Debug("Last consumer released, disconnecting")
				m.Disconnect()
			}
		})
	}
}

func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Err returns the error that caused the current disconnected or error state.
func (m *Manager) Err() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.err
}

// SocketID returns the server-assigned id of the live connection.
func (m *Manager) SocketID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.socketID
}

// Rooms returns the chat rooms rejoined on every connect.
func (m *Manager) Rooms() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.rooms)
}

func (m *Manager) callbacks(attempt uint64) Callbacks {
	return Callbacks{
		OnFrame: func(frame []byte) { m.handleFrame(attempt, frame) },
		OnClose: func(err error) { m.handleClose(attempt, err) },
	}
}

func (m *Manager) handleFrame(attempt uint64, frame []byte) {
	env, err := protocol.Decode(frame)
	if err != nil {
		m.logger.Warn("Dropping malformed frame", slog.Any("error", err))
		return
	}

	m.mu.Lock()
	if attempt != m.attempt {
		m.mu.Unlock()
		return
	}
	if env.Event == protocol.EventSession {
		var info protocol.SessionInfo
		if err := json.Unmarshal(env.Payload, &info); err == nil {
			m.socketID = info.SocketID
		}
	}
	m.mu.Unlock()

	if n := m.bus.Publish(env.Event, env.Payload); n == 0 {
		m.logger.Debug("No subscribers for event", slog.String("event", env.Event))
	}
}

func (m *Manager) handleClose(attempt uint64, err error) {
	m.mu.Lock()
	if attempt != m.live || m.link == nil {
		m.mu.Unlock()
		return
	}
	m.link = nil
	m.live = 0
	m.socketID = ""
	if err == nil {
		err = ErrNotConnected
	}
	m.setStateLocked(StateDisconnected, err)
	ctx, cancel := context.WithCancel(context.Background())
	m.stopRetry = cancel
	token := m.token
	m.retries.Add(1)
	m.mu.Unlock()
	m.flush()

	m.logger.Info("Connection dropped, reconnecting", slog.Any("error", err))
	go m.reconnect(ctx, cancel, token)
}

func (m *Manager) reconnect(ctx context.Context, cancel context.CancelFunc, token string) {
	defer m.retries.Done()
	defer cancel()

	policy := m.opts.NewBackOff()
	policy.Reset()
	for {
		delay := policy.NextBackOff()
		if delay == backoff.Stop {
			m.mu.Lock()
			if ctx.Err() == nil {
				m.stopRetry = nil
				m.setStateLocked(StateError, ErrRetriesExceeded)
			}
			m.mu.Unlock()
			m.flush()
			return
		}

		timer := m.opts.Clock.Timer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		m.mu.Lock()
		if ctx.Err() != nil {
			m.mu.Unlock()
			return
		}
		m.attempt++
		attempt := m.attempt
		m.mu.Unlock()

		dialCtx, cancelDial := context.WithTimeout(ctx, m.opts.ConnectTimeout)
		link, err := m.dialer.Dial(dialCtx, token, m.callbacks(attempt))
		cancelDial()

		m.mu.Lock()
		if ctx.Err() != nil || m.attempt != attempt {
			m.mu.Unlock()
			if link != nil {
				link.Close(nil)
			}
			return
		}
		if err != nil {
			if errors.Is(err, ErrUnauthorized) {
				m.stopRetry = nil
				m.setStateLocked(StateError, err)
				m.mu.Unlock()
				m.flush()
				m.logger.Warn("Reconnect rejected, giving up", slog.Any("error", err))
				return
			}
			m.err = err
			m.mu.Unlock()
			m.logger.Debug("Reconnect attempt failed", slog.Any("error", err))
			continue
		}
		m.stopRetry = nil
		frames := m.installLocked(link, attempt)
		m.mu.Unlock()
		m.flush()

		m.logger.Info("Reconnected")
		m.afterInstall(link, attempt, frames)
		return
	}
}

// installLocked makes link the live connection and returns the join frames
// for the rejoin set.
func (m *Manager) installLocked(link Link, attempt uint64) [][]byte {
	m.link = link
	m.live = attempt
	m.setStateLocked(StateConnected, nil)

	frames := make([][]byte, 0, len(m.rooms))
	for _, chatID := range m.rooms {
		frame, err := protocol.Encode(protocol.EventJoinChat, protocol.ChatRef{ChatID: chatID})
		if err != nil {
			continue
		}
		frames = append(frames, frame)
	}
	return frames
}

func (m *Manager) afterInstall(link Link, attempt uint64, frames [][]byte) {
	for _, frame := range frames {
		if err := link.Send(frame); err != nil {
			m.logger.Warn("Failed to rejoin room", slog.Any("error", err))
			break
		}
	}
	// A link that died before it was installed had its close ignored.
	select {
	case <-link.Done():
		m.handleClose(attempt, ErrNotConnected)
	default:
	}
}

func (m *Manager) setStateLocked(next State, err error) {
	prev := m.state
	m.state = next
	m.err = err
	if prev != next {
		m.pending = append(m.pending, Transition{From: prev, To: next, Err: err})
	}
}

// flush delivers queued transitions. Only one goroutine delivers at a time,
// so listeners observe transitions in the order they happened.
func (m *Manager) flush() {
	m.mu.Lock()
	if m.flushing {
		m.mu.Unlock()
		return
	}
	m.flushing = true
	for len(m.pending) > 0 {
		batch := m.pending
		m.pending = nil
		listeners := slices.Clone(m.listeners)
		m.mu.Unlock()
		for _, t := range batch {
			for _, l := range listeners {
				l.fn(t)
			}
		}
		m.mu.Lock()
	}
	m.flushing = false
	m.mu.Unlock()
}
