package engine

import (
	"log/slog"

	"github.com/benbjohnson/clock"

	"github.com/table-talk25/TableTalk-app-sub000/internal/store"
	"github.com/table-talk25/TableTalk-app-sub000/pkg/pipeline"
)

type Options struct {
	// Store persists chat messages and answers membership checks.
	Store store.Store
	// Clock drives rate limit windows and message timestamps.
	Clock clock.Clock
}

// New creates and initializes a new Registry with the core actions,
// modifiers and params registered.
func New(logger *slog.Logger, opts Options) *Registry {
	if opts.Store == nil {
		opts.Store = store.NewMemory()
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	e := &Registry{
		actions:   make(map[string]pipeline.ActionFunc),
		modifiers: make(map[string]pipeline.ModifierFunc),
		params:    make(map[string]ResolverFunc),
		store:     opts.Store,
		clock:     opts.Clock,
		logger:    logger.With(slog.String("component", "engine")),
	}
	e.registerCoreParams()
	e.registerCoreActions()
	e.registerCoreModifiers()
	return e
}

func (e *Registry) registerCoreActions() {
	e.RegisterAction("_log", actionLog)
	e.RegisterAction("_join", e.actionJoinChat)
	e.RegisterAction("_leave", actionLeaveRoom)
	e.RegisterAction("_message", e.actionMessage)

	e.RegisterAction("_notify_origin", actionNotifyOrigin)
	e.RegisterAction("_notify_room", actionNotifyRoom)
	e.RegisterAction("_notify_others", actionNotifyOthers)
	e.logger.Debug("Registered core actions", slog.Int("count", len(e.actions)))
}

func (e *Registry) registerCoreModifiers() {
	e.RegisterModifier("rate_limit", newRateLimitModifier(e.logger, e.clock))
	e.RegisterModifier("_require", modifierRequire)
	e.logger.Debug("Registered core modifiers", slog.Int("count", len(e.modifiers)))
}

func (e *Registry) registerCoreParams() {
	e.RegisterParams("target.id", _target)
	e.RegisterParams("conn.id", _connID)
	e.RegisterParams("user.id", _userID)
	e.RegisterParams("user.name", _userName)
	e.logger.Debug("Registered core params", slog.Int("count", len(e.params)))
}
