package engine

import (
	"log/slog"
	"sync"

	"github.com/benbjohnson/clock"

	"github.com/table-talk25/TableTalk-app-sub000/internal/store"
	"github.com/table-talk25/TableTalk-app-sub000/pkg/pipeline"
)

/*
* The central registry for all executable and context-aware components.
* It is a single, stateful object that holds all registered actions, modifiers, and parameters.
 */
type Registry struct {
	logger *slog.Logger
	store  store.Store
	clock  clock.Clock

	actions  map[string]pipeline.ActionFunc
	actionMu sync.RWMutex

	modifiers  map[string]pipeline.ModifierFunc
	modifierMu sync.RWMutex

	params   map[string]ResolverFunc
	paramsMu sync.RWMutex
}

// --- Action Methods ---
func (e *Registry) RegisterAction(name string, fn pipeline.ActionFunc) {
	e.actionMu.Lock()
	defer e.actionMu.Unlock()
	if _, exists := e.actions[name]; exists {
		panic("action function already registered: " + name)
	}
	e.actions[name] = fn
}

func (e *Registry) GetActionFunc(name string) (pipeline.ActionFunc, bool) {
	e.actionMu.RLock()
	defer e.actionMu.RUnlock()
	fn, ok := e.actions[name]
	return fn, ok
}

// --- Modifier Methods ---

func (e *Registry) RegisterModifier(name string, fn pipeline.ModifierFunc) {
	e.modifierMu.Lock()
	defer e.modifierMu.Unlock()
	if _, exists := e.modifiers[name]; exists {
		panic("modifier function already registered: " + name)
	}
	e.modifiers[name] = fn
}

func (e *Registry) GetModifierFunc(name string) (pipeline.ModifierFunc, bool) {
	e.modifierMu.RLock()
	defer e.modifierMu.RUnlock()
	fn, ok := e.modifiers[name]
	return fn, ok
}

// --- Params Methods ---

func (e *Registry) RegisterParams(name string, resolver ResolverFunc) {
	e.paramsMu.Lock()
	defer e.paramsMu.Unlock()
	if _, exists := e.params[name]; exists {
		panic("Param already registered: " + name)
	}
	e.params[name] = resolver
}

func (e *Registry) GetParamResolver(name string) (ResolverFunc, bool) {
	e.paramsMu.RLock()
	defer e.paramsMu.RUnlock()
	resolver, ok := e.params[name]
	return resolver, ok
}

// GetAllRegisteredParams returns all registered variable names for validation.
func (e *Registry) GetAllRegisteredParams() []string {
	e.paramsMu.RLock()
	defer e.paramsMu.RUnlock()
	keys := make([]string, 0, len(e.params))
	for k := range e.params {
		keys = append(keys, k)
	}
	return keys
}
