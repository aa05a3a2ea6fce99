package config

const typingPayload = `{"chatId":"{$target.id}","userId":"{$user.id}","username":"{$user.name}"}`

// DefaultEvents is the event contract of the chat relay. A config file that
// declares its own events replaces it entirely.
func DefaultEvents() map[string]EventConfig {
	return map[string]EventConfig{
		"join_chat": {
			Target: "{.payload.chatId}",
			Actions: []ActionConfig{
				{Name: "_join", Params: []string{"{$user.id}", "{$target.id}"}},
			},
		},
		"leave_chat": {
			Target: "{.payload.chatId}",
			Actions: []ActionConfig{
				{Name: "_leave", Params: []string{"{$user.id}", "{$target.id}"}},
			},
		},
		"send_message": {
			Target: "{.payload.chatId}",
			Modifiers: []ActionConfig{
				{Name: "_require", Params: []string{"write"}},
				{Name: "rate_limit", Params: []string{"5/10s"}},
			},
			Actions: []ActionConfig{
				{Name: "_message", Params: []string{"{$target.id}", "{.payload.content}"}},
			},
		},
		"typing": {
			Target: "{.payload.chatId}",
			Modifiers: []ActionConfig{
				{Name: "_require", Params: []string{"read"}},
				{Name: "rate_limit", Params: []string{"20/5s"}},
			},
			Actions: []ActionConfig{
				{Name: "_notify_others", Params: []string{"typing", typingPayload}},
			},
		},
		"stop_typing": {
			Target: "{.payload.chatId}",
			Modifiers: []ActionConfig{
				{Name: "_require", Params: []string{"read"}},
				{Name: "rate_limit", Params: []string{"20/5s"}},
			},
			Actions: []ActionConfig{
				{Name: "_notify_others", Params: []string{"stop_typing", typingPayload}},
			},
		},
	}
}
