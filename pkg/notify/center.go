// Package notify keeps the notification list of the logged-in user, raises
// toasts for live notifications and syncs read state to the server.
package notify

import (
	"context"
	"encoding/json"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/table-talk25/TableTalk-app-sub000/pkg/protocol"
	"github.com/table-talk25/TableTalk-app-sub000/pkg/session"
)

type ToastLevel string

const (
	ToastInfo    ToastLevel = "info"
	ToastSuccess ToastLevel = "success"
)

// Toast is a transient UI hint raised for a live notification.
type Toast struct {
	Level   ToastLevel
	Message string
	Link    string
}

// Classify maps a notification to its toast.
func Classify(n protocol.Notification) Toast {
	t := Toast{Level: ToastInfo, Message: n.Message}
	switch n.Type {
	case protocol.NotificationNewInvitation:
		t.Link = "/invitations"
	case protocol.NotificationInvitationAccepted:
		if n.Data != nil && n.Data.ChatID != "" {
			t.Level = ToastSuccess
			t.Link = "/chat/" + n.Data.ChatID
		}
	}
	return t
}

// Backend is the REST side of notifications.
type Backend interface {
	ListNotifications(ctx context.Context) ([]protocol.Notification, error)
	MarkAllNotificationsRead(ctx context.Context) error
	MarkNotificationRead(ctx context.Context, id string) error
}

type Subscriber interface {
	Subscribe(event string, handler session.Handler) (unsubscribe func())
}

type Options struct {
	Toaster func(Toast)
	// OnChange receives the list and unread count after every change.
	OnChange func(list []protocol.Notification, unread int)
	// SyncTimeout bounds each background read-state sync.
	SyncTimeout time.Duration
}

type Center struct {
	backend Backend
	opts    Options
	logger  *slog.Logger

	mu     sync.Mutex
	list   []protocol.Notification
	detach []func()
	closed bool

	syncs sync.WaitGroup
}

func NewCenter(backend Backend, opts Options, logger *slog.Logger) *Center {
	if opts.SyncTimeout <= 0 {
		opts.SyncTimeout = 10 * time.Second
	}
	return &Center{
		backend: backend,
		opts:    opts,
		logger:  logger.With(slog.String("component", "notification_center")),
	}
}

// Attach starts listening for new_notification on sub.
func (c *Center) Attach(sub Subscriber) {
	unsubscribe := sub.Subscribe(protocol.EventNewNotification, c.handle)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		unsubscribe()
		return
	}
	c.detach = append(c.detach, unsubscribe)
}

// Load replaces the list with the server's copy.
func (c *Center) Load(ctx context.Context) error {
	list, err := c.backend.ListNotifications(ctx)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.list = slices.Clone(list)
	snapshot, unread := c.snapshotLocked()
	c.mu.Unlock()

	c.changed(snapshot, unread)
	return nil
}

// Deliver prepends n and raises its toast.
func (c *Center) Deliver(n protocol.Notification) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.list = slices.Insert(c.list, 0, n)
	snapshot, unread := c.snapshotLocked()
	c.mu.Unlock()

	if c.opts.Toaster != nil {
		c.opts.Toaster(Classify(n))
	}
	c.changed(snapshot, unread)
}

// List returns the notifications, newest first.
func (c *Center) List() []protocol.Notification {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.list)
}

func (c *Center) UnreadCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return unreadIn(c.list)
}

// MarkAllRead marks every notification read locally, then tells the
// server in the background. A failed sync is logged and not rolled back.
func (c *Center) MarkAllRead() {
	c.mu.Lock()
	for i := range c.list {
		c.list[i].Read = true
	}
	snapshot, unread := c.snapshotLocked()
	c.mu.Unlock()

	c.changed(snapshot, unread)
	c.sync("mark all read", func(ctx context.Context) error {
		return c.backend.MarkAllNotificationsRead(ctx)
	})
}

// MarkRead marks one notification read. Unknown or already read ids do
// nothing.
func (c *Center) MarkRead(id string) {
	c.mu.Lock()
	i := slices.IndexFunc(c.list, func(n protocol.Notification) bool { return n.ID == id })
	if i < 0 || c.list[i].Read {
		c.mu.Unlock()
		return
	}
	c.list[i].Read = true
	snapshot, unread := c.snapshotLocked()
	c.mu.Unlock()

	c.changed(snapshot, unread)
	c.sync("mark read", func(ctx context.Context) error {
		return c.backend.MarkNotificationRead(ctx, id)
	})
}

// Close stops listening and waits for pending syncs.
func (c *Center) Close() {
	c.mu.Lock()
	c.closed = true
	detach := c.detach
	c.detach = nil
	c.mu.Unlock()

	for _, unsubscribe := range detach {
		unsubscribe()
	}
	c.syncs.Wait()
}

func (c *Center) handle(payload json.RawMessage) {
	n, err := protocol.DecodeNotification(payload)
	if err != nil {
		c.logger.Debug("Dropping undecodable notification", slog.Any("error", err))
		return
	}
	c.Deliver(n)
}

func (c *Center) sync(op string, fn func(ctx context.Context) error) {
	c.syncs.Add(1)
	go func() {
		defer c.syncs.Done()
		ctx, cancel := context.WithTimeout(context.Background(), c.opts.SyncTimeout)
		defer cancel()
		if err := fn(ctx); err != nil {
			c.logger.Warn("Notification sync failed", slog.String("op", op), slog.Any("error", err))
		}
	}()
}

func (c *Center) snapshotLocked() ([]protocol.Notification, int) {
	return slices.Clone(c.list), unreadIn(c.list)
}

func (c *Center) changed(list []protocol.Notification, unread int) {
	if c.opts.OnChange != nil {
		c.opts.OnChange(list, unread)
	}
}

func unreadIn(list []protocol.Notification) int {
	n := 0
	for _, item := range list {
		if !item.Read {
			n++
		}
	}
	return n
}
