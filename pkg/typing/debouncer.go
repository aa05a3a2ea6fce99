// Package typing turns local keystrokes into typing signals and keeps the
// set of peers currently typing in a chat.
package typing

import (
	"log/slog"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/table-talk25/TableTalk-app-sub000/pkg/protocol"
)

// DefaultIdle is the silence after which a burst ends.
const DefaultIdle = time.Second

// Emitter sends one event on the shared connection.
type Emitter interface {
	Emit(event string, payload any) error
}

type burst struct {
	seq   uint64
	timer *clock.Timer
}

// Debouncer coalesces keystrokes into one typing and one stop_typing per
// burst, with an independent idle timer per chat.
type Debouncer struct {
	emitter Emitter
	idle    time.Duration
	clock   clock.Clock
	logger  *slog.Logger

	mu     sync.Mutex
	bursts map[string]*burst
	closed bool
}

type Options struct {
	Idle  time.Duration
	Clock clock.Clock
}

func NewDebouncer(emitter Emitter, opts Options, logger *slog.Logger) *Debouncer {
	if opts.Idle <= 0 {
		opts.Idle = DefaultIdle
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	return &Debouncer{
		emitter: emitter,
		idle:    opts.Idle,
		clock:   opts.Clock,
		logger:  logger.With(slog.String("component", "typing_debouncer")),
		bursts:  make(map[string]*burst),
	}
}

// Keystroke starts a burst for chatID or extends the current one. If the
// typing signal cannot be sent no burst is recorded, so the next keystroke
// tries again.
func (d *Debouncer) Keystroke(chatID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return nil
	}

	b, ok := d.bursts[chatID]
	if !ok {
		if err := d.emitter.Emit(protocol.EventTyping, protocol.ChatRef{ChatID: chatID}); err != nil {
			return err
		}
		b = &burst{}
		d.bursts[chatID] = b
	} else {
		b.timer.Stop()
	}

	b.seq++
	seq := b.seq
	b.timer = d.clock.AfterFunc(d.idle, func() { d.expire(chatID, seq) })
	return nil
}

// Stop ends the burst for chatID now, if one is running.
func (d *Debouncer) Stop(chatID string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if b, ok := d.bursts[chatID]; ok {
		b.timer.Stop()
		d.endLocked(chatID)
	}
}

// Active reports whether a burst is running for chatID.
func (d *Debouncer) Active(chatID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.bursts[chatID]
	return ok
}

// Close ends every running burst and ignores later keystrokes.
func (d *Debouncer) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return
	}
	d.closed = true
	for chatID, b := range d.bursts {
		b.timer.Stop()
		d.endLocked(chatID)
	}
}

func (d *Debouncer) expire(chatID string, seq uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()

	b, ok := d.bursts[chatID]
	if !ok || b.seq != seq {
		return
	}
	d.endLocked(chatID)
}

func (d *Debouncer) endLocked(chatID string) {
	delete(d.bursts, chatID)
	if err := d.emitter.Emit(protocol.EventStopTyping, protocol.ChatRef{ChatID: chatID}); err != nil {
		d.logger.Debug("Failed to send stop_typing", slog.String("chat_id", chatID), slog.Any("error", err))
	}
}
