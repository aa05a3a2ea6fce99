package store

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"sync"

	"github.com/cockroachdb/pebble/v2"
	"github.com/cockroachdb/pebble/v2/vfs"

	"github.com/table-talk25/TableTalk-app-sub000/pkg/protocol"
)

// Key layout:
//
//	chat/<chatID>              chat header (id, mealId, participants)
//	msg/<chatID>/<messageID>   one message, ids sort by time
//	notif/<userID>/<notifID>   one notification, ids sort by time
type Pebble struct {
	db *pebble.DB
	// mu serializes read-modify-write cycles on chat headers and
	// notifications.
	mu     sync.Mutex
	logger *slog.Logger
}

var _ Store = (*Pebble)(nil)

// OpenPebble opens or creates a database at path. fs may be nil for the
// real filesystem; tests pass vfs.NewMem().
func OpenPebble(path string, fs vfs.FS, logger *slog.Logger) (*Pebble, error) {
	logger = logger.With(slog.String("component", "store_pebble"))
	opts := &pebble.Options{Logger: pebbleLogger{logger}}
	if fs != nil {
		opts.FS = fs
	}
	db, err := pebble.Open(path, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open pebble at %q: %w", path, err)
	}
	logger.Info("Opened message store", slog.String("path", path))
	return &Pebble{db: db, logger: logger}, nil
}

func chatKey(chatID string) []byte { return []byte("chat/" + chatID) }

func msgPrefix(chatID string) []byte { return []byte("msg/" + chatID + "/") }

func notifPrefix(userID string) []byte { return []byte("notif/" + userID + "/") }

// upperBound returns the smallest key greater than every key with prefix.
func upperBound(prefix []byte) []byte {
	end := slices.Clone(prefix)
	end[len(end)-1]++
	return end
}

func (p *Pebble) get(key []byte, into any) error {
	val, closer, err := p.db.Get(key)
	if err == pebble.ErrNotFound {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	defer closer.Close()
	return json.Unmarshal(val, into)
}

func (p *Pebble) put(key []byte, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return p.db.Set(key, raw, pebble.Sync)
}

func (p *Pebble) CreateChat(chat protocol.Chat) (protocol.Chat, error) {
	if len(chat.Participants) == 0 {
		return protocol.Chat{}, ErrNoParticipants
	}
	if chat.ID == "" {
		chat.ID = newID()
	}
	chat.Messages = nil

	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.put(chatKey(chat.ID), chat); err != nil {
		return protocol.Chat{}, fmt.Errorf("failed to store chat: %w", err)
	}
	return chat, nil
}

func (p *Pebble) GetChat(chatID string) (protocol.Chat, error) {
	var chat protocol.Chat
	if err := p.get(chatKey(chatID), &chat); err != nil {
		return protocol.Chat{}, err
	}

	prefix := msgPrefix(chatID)
	iter, err := p.db.NewIter(&pebble.IterOptions{LowerBound: prefix, UpperBound: upperBound(prefix)})
	if err != nil {
		return protocol.Chat{}, err
	}
	defer iter.Close()
	for iter.First(); iter.Valid(); iter.Next() {
		var msg protocol.Message
		if err := json.Unmarshal(iter.Value(), &msg); err != nil {
			p.logger.Warn("Skipping corrupt message", slog.String("key", string(iter.Key())), slog.Any("error", err))
			continue
		}
		chat.Messages = append(chat.Messages, msg)
	}
	return chat, nil
}

func (p *Pebble) updateChat(chatID string, fn func(*protocol.Chat)) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	var chat protocol.Chat
	if err := p.get(chatKey(chatID), &chat); err != nil {
		return err
	}
	fn(&chat)
	return p.put(chatKey(chatID), chat)
}

func (p *Pebble) AddParticipant(chatID, userID string) error {
	return p.updateChat(chatID, func(c *protocol.Chat) {
		if !slices.Contains(c.Participants, userID) {
			c.Participants = append(c.Participants, userID)
		}
	})
}

func (p *Pebble) RemoveParticipant(chatID, userID string) error {
	return p.updateChat(chatID, func(c *protocol.Chat) {
		c.Participants = slices.DeleteFunc(c.Participants, func(id string) bool { return id == userID })
	})
}

func (p *Pebble) AppendMessage(msg protocol.Message) (protocol.Message, error) {
	var chat protocol.Chat
	if err := p.get(chatKey(msg.ChatID), &chat); err != nil {
		return protocol.Message{}, err
	}
	if msg.ID == "" {
		msg.ID = newID()
	}
	key := append(msgPrefix(msg.ChatID), msg.ID...)
	if err := p.put(key, msg); err != nil {
		return protocol.Message{}, fmt.Errorf("failed to store message: %w", err)
	}
	return msg, nil
}

func (p *Pebble) AddNotification(userID string, n protocol.Notification) (protocol.Notification, error) {
	if n.ID == "" {
		n.ID = newID()
	}
	key := append(notifPrefix(userID), n.ID...)
	if err := p.put(key, n); err != nil {
		return protocol.Notification{}, fmt.Errorf("failed to store notification: %w", err)
	}
	return n, nil
}

func (p *Pebble) ListNotifications(userID string) ([]protocol.Notification, error) {
	prefix := notifPrefix(userID)
	iter, err := p.db.NewIter(&pebble.IterOptions{LowerBound: prefix, UpperBound: upperBound(prefix)})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	list := []protocol.Notification{}
	for iter.Last(); iter.Valid(); iter.Prev() {
		var n protocol.Notification
		if err := json.Unmarshal(iter.Value(), &n); err != nil {
			p.logger.Warn("Skipping corrupt notification", slog.String("key", string(iter.Key())), slog.Any("error", err))
			continue
		}
		list = append(list, n)
	}
	return list, nil
}

func (p *Pebble) MarkAllRead(userID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	list, err := p.ListNotifications(userID)
	if err != nil {
		return err
	}
	batch := p.db.NewBatch()
	defer batch.Close()
	for _, n := range list {
		if n.Read {
			continue
		}
		n.Read = true
		raw, err := json.Marshal(n)
		if err != nil {
			return err
		}
		if err := batch.Set(append(notifPrefix(userID), n.ID...), raw, nil); err != nil {
			return err
		}
	}
	return batch.Commit(pebble.Sync)
}

func (p *Pebble) MarkRead(userID, notificationID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	key := append(notifPrefix(userID), notificationID...)
	var n protocol.Notification
	if err := p.get(key, &n); err != nil {
		return err
	}
	if n.Read {
		return nil
	}
	n.Read = true
	return p.put(key, n)
}

func (p *Pebble) Close() error {
	return p.db.Close()
}

// pebbleLogger routes the engine's own logs into slog.
type pebbleLogger struct {
	l *slog.Logger
}

func (p pebbleLogger) Infof(format string, args ...any) {
	p.l.Debug(fmt.Sprintf(format, args...))
}

func (p pebbleLogger) Errorf(format string, args ...any) {
	p.l.Error(fmt.Sprintf(format, args...))
}

func (p pebbleLogger) Fatalf(format string, args ...any) {
	p.l.Error(fmt.Sprintf(format, args...))
	os.Exit(1)
}
