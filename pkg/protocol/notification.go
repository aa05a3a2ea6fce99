package protocol

import (
	"time"

	"github.com/tidwall/gjson"
)

type NotificationType string

const (
	NotificationNewInvitation      NotificationType = "new_invitation"
	NotificationInvitationAccepted NotificationType = "invitation_accepted"
	NotificationGeneric            NotificationType = "generic"
)

// NotificationData carries the optional links of a notification.
type NotificationData struct {
	ChatID string `json:"chatId,omitempty"`
	MealID string `json:"mealId,omitempty"`
}

type Notification struct {
	ID        string            `json:"id"`
	Type      NotificationType  `json:"type"`
	Message   string            `json:"message"`
	Read      bool              `json:"read"`
	CreatedAt time.Time         `json:"createdAt"`
	Data      *NotificationData `json:"data,omitempty"`
}

// DecodeNotification reads a new_notification payload. Unknown types are
// kept as generic; a missing createdAt falls back to date.
func DecodeNotification(raw []byte) (Notification, error) {
	if !gjson.ValidBytes(raw) {
		return Notification{}, ErrInvalidPayload
	}
	return notificationFrom(gjson.ParseBytes(raw))
}

// DecodeNotifications reads a JSON array of notifications.
func DecodeNotifications(raw []byte) []Notification {
	if !gjson.ValidBytes(raw) {
		return nil
	}
	var out []Notification
	gjson.ParseBytes(raw).ForEach(func(_, value gjson.Result) bool {
		if n, err := notificationFrom(value); err == nil {
			out = append(out, n)
		}
		return true
	})
	return out
}

func notificationFrom(r gjson.Result) (Notification, error) {
	if !r.IsObject() {
		return Notification{}, ErrInvalidPayload
	}
	n := Notification{
		ID:      first(r, "id", "_id").String(),
		Type:    normalizeType(r.Get("type").String()),
		Message: r.Get("message").String(),
		Read:    r.Get("read").Bool(),
	}
	if ts := first(r, "createdAt", "date"); ts.Exists() {
		n.CreatedAt = ts.Time()
	}
	chatID := first(r, "data.chatId", "chatId").String()
	mealID := first(r, "data.mealId", "mealId").String()
	if chatID != "" || mealID != "" {
		n.Data = &NotificationData{ChatID: chatID, MealID: mealID}
	}
	return n, nil
}

func normalizeType(t string) NotificationType {
	switch NotificationType(t) {
	case NotificationNewInvitation, NotificationInvitationAccepted:
		return NotificationType(t)
	default:
		return NotificationGeneric
	}
}
