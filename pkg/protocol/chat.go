package protocol

import (
	"github.com/tidwall/gjson"
)

// Chat is the REST view of a chat with its history.
type Chat struct {
	ID           string    `json:"id"`
	MealID       string    `json:"mealId,omitempty"`
	Participants []string  `json:"participants"`
	Messages     []Message `json:"messages"`
}

// CreateChat is the body of POST /chats.
type CreateChat struct {
	MealID       string   `json:"mealId,omitempty"`
	Participants []string `json:"participants"`
}

// Invitation is the body of POST /invitations.
type Invitation struct {
	ToUserID string `json:"toUserId"`
	ChatID   string `json:"chatId,omitempty"`
	MealID   string `json:"mealId,omitempty"`
	Message  string `json:"message,omitempty"`
}

// InvitationAccept is the body of POST /invitations/accept.
type InvitationAccept struct {
	FromUserID string `json:"fromUserId"`
	ChatID     string `json:"chatId"`
}

// DecodeChat reads a chat. Participants may be plain ids or populated user
// objects.
func DecodeChat(raw []byte) (Chat, error) {
	if !gjson.ValidBytes(raw) {
		return Chat{}, ErrInvalidPayload
	}
	r := gjson.ParseBytes(raw)
	if !r.IsObject() {
		return Chat{}, ErrInvalidPayload
	}

	c := Chat{
		ID:     first(r, "id", "_id").String(),
		MealID: first(r, "mealId", "meal._id", "meal.id").String(),
	}
	if meal := r.Get("meal"); c.MealID == "" && meal.Type == gjson.String {
		c.MealID = meal.String()
	}
	r.Get("participants").ForEach(func(_, p gjson.Result) bool {
		id := p.String()
		if p.IsObject() {
			id = first(p, "id", "_id").String()
		}
		if id != "" {
			c.Participants = append(c.Participants, id)
		}
		return true
	})
	if msgs := r.Get("messages"); msgs.IsArray() {
		c.Messages = DecodeMessages([]byte(msgs.Raw))
	}
	for i := range c.Messages {
		if c.Messages[i].ChatID == "" {
			c.Messages[i].ChatID = c.ID
		}
	}
	if c.ID == "" {
		return Chat{}, ErrInvalidPayload
	}
	return c, nil
}
