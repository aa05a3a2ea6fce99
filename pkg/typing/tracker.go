package typing

import (
	"cmp"
	"slices"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// Peer is someone else typing in a chat.
type Peer struct {
	UserID      string
	DisplayName string
}

type peerEntry struct {
	peer  Peer
	order uint64
	seq   uint64
	timer *clock.Timer
}

type TrackerOptions struct {
	// TTL is how long a peer stays listed after its last typing signal.
	TTL   time.Duration
	Clock clock.Clock
	// OnChange receives the new peer list of a chat after every change.
	OnChange func(chatID string, peers []Peer)
}

// Tracker holds the typing state of every chat. Entries expire on their own
// when a peer goes quiet without sending stop_typing.
type Tracker struct {
	ttl      time.Duration
	clock    clock.Clock
	onChange func(chatID string, peers []Peer)

	mu     sync.Mutex
	chats  map[string]map[string]*peerEntry
	order  uint64
	closed bool
}

func NewTracker(opts TrackerOptions) *Tracker {
	if opts.TTL <= 0 {
		opts.TTL = DefaultIdle
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	return &Tracker{
		ttl:      opts.TTL,
		clock:    opts.Clock,
		onChange: opts.OnChange,
		chats:    make(map[string]map[string]*peerEntry),
	}
}

// Start marks peer as typing in chatID and refreshes its expiry.
func (t *Tracker) Start(chatID string, peer Peer) {
	if peer.UserID == "" {
		return
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	peers, ok := t.chats[chatID]
	if !ok {
		peers = make(map[string]*peerEntry)
		t.chats[chatID] = peers
	}
	e, existed := peers[peer.UserID]
	if existed {
		e.timer.Stop()
		e.peer = peer
	} else {
		t.order++
		e = &peerEntry{peer: peer, order: t.order}
		peers[peer.UserID] = e
	}
	e.seq++
	seq := e.seq
	userID := peer.UserID
	e.timer = t.clock.AfterFunc(t.ttl, func() { t.expire(chatID, userID, seq) })
	snapshot := t.snapshotLocked(chatID)
	t.mu.Unlock()

	if !existed {
		t.notify(chatID, snapshot)
	}
}

// Stop removes userID from chatID.
func (t *Tracker) Stop(chatID, userID string) {
	t.mu.Lock()
	if !t.removeLocked(chatID, userID, 0) {
		t.mu.Unlock()
		return
	}
	snapshot := t.snapshotLocked(chatID)
	t.mu.Unlock()

	t.notify(chatID, snapshot)
}

// Peers lists who is typing in chatID, oldest first.
func (t *Tracker) Peers(chatID string) []Peer {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snapshotLocked(chatID)
}

// Forget drops the state of one chat without notifying.
func (t *Tracker) Forget(chatID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, e := range t.chats[chatID] {
		e.timer.Stop()
	}
	delete(t.chats, chatID)
}

func (t *Tracker) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	for _, peers := range t.chats {
		for _, e := range peers {
			e.timer.Stop()
		}
	}
	t.chats = make(map[string]map[string]*peerEntry)
}

func (t *Tracker) expire(chatID, userID string, seq uint64) {
	t.mu.Lock()
	if !t.removeLocked(chatID, userID, seq) {
		t.mu.Unlock()
		return
	}
	snapshot := t.snapshotLocked(chatID)
	t.mu.Unlock()

	t.notify(chatID, snapshot)
}

// removeLocked deletes the entry; a non-zero seq must match the entry's
// current timer.
func (t *Tracker) removeLocked(chatID, userID string, seq uint64) bool {
	peers := t.chats[chatID]
	e, ok := peers[userID]
	if !ok || (seq != 0 && e.seq != seq) {
		return false
	}
	e.timer.Stop()
	delete(peers, userID)
	if len(peers) == 0 {
		delete(t.chats, chatID)
	}
	return true
}

func (t *Tracker) snapshotLocked(chatID string) []Peer {
	entries := make([]*peerEntry, 0, len(t.chats[chatID]))
	for _, e := range t.chats[chatID] {
		entries = append(entries, e)
	}
	slices.SortFunc(entries, func(a, b *peerEntry) int {
		return cmp.Compare(a.order, b.order)
	})
	out := make([]Peer, len(entries))
	for i, e := range entries {
		out[i] = e.peer
	}
	return out
}

func (t *Tracker) notify(chatID string, peers []Peer) {
	if t.onChange != nil {
		t.onChange(chatID, peers)
	}
}
