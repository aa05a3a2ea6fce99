package chat

import (
	"errors"
	"html"
	"strings"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
)

// MaxMessageRunes bounds an outgoing message after sanitization.
const MaxMessageRunes = 1000

var (
	ErrEmptyMessage   = errors.New("chat: message is empty")
	ErrMessageTooLong = errors.New("chat: message is too long")
)

var strict = bluemonday.StrictPolicy()

// Sanitize strips all markup from content and trims it. Entities are decoded
// before the policy runs, so encoded tags are stripped like literal ones.
// The result is returned as plain text only when decoding it cannot yield
// markup again; otherwise the escaped form is kept.
func Sanitize(content string) (string, error) {
	escaped := strict.Sanitize(html.UnescapeString(content))
	body := html.UnescapeString(escaped)
	if strict.Sanitize(body) != escaped {
		body = escaped
	}
	body = strings.TrimSpace(body)
	if body == "" {
		return "", ErrEmptyMessage
	}
	if utf8.RuneCountInString(body) > MaxMessageRunes {
		return "", ErrMessageTooLong
	}
	return body, nil
}
