package chat

import (
	"sync"

	"github.com/table-talk25/TableTalk-app-sub000/pkg/protocol"
)

// Transcript is the append-only message list of one open chat. Messages
// keep arrival order and are never reordered or deduplicated.
type Transcript struct {
	mu       sync.RWMutex
	messages []protocol.Message
}

func NewTranscript(seed []protocol.Message) *Transcript {
	return &Transcript{messages: append([]protocol.Message(nil), seed...)}
}

func (t *Transcript) Append(m protocol.Message) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.messages = append(t.messages, m)
}

// Messages returns a copy of the transcript.
func (t *Transcript) Messages() []protocol.Message {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return append([]protocol.Message(nil), t.messages...)
}

func (t *Transcript) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.messages)
}

func (t *Transcript) reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.messages = nil
}
