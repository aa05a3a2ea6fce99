package pipeline

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/table-talk25/TableTalk-app-sub000/pkg/state"
)

/*
 * The purpose of this is to detach the implementation of actions and modifiers
 * from the actual router
 */

type Cargo struct {
	Logger       *slog.Logger
	Ctx          context.Context
	User         *state.User
	Connection   *state.Connection
	StateManager state.Manager
	EventName    string
	Payload      json.RawMessage
	// TargetID is the resolved target of the event, usually a chat id.
	TargetID string
}

// simple, testable functions that receive a Cargo and resolved string parameters
type ActionFunc func(pctx *Cargo, params ...string) error

// ModifierFunc guards a pipeline. Returning an error halts it before any
// action runs.
type ModifierFunc func(pctx *Cargo, params ...string) error

// represents one step in an execution pipeline
type Step struct {
	Name     string
	Function ActionFunc
	Params   []string // Raw template strings from YAML
}

type Guard struct {
	Name     string
	Function ModifierFunc
	Params   []string
}

// Pipeline is the compiled form of one event's configuration.
type Pipeline struct {
	Event  string
	Target string // template resolved into Cargo.TargetID
	Guards []Guard
	Steps  []Step
}
