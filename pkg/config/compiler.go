package config

import (
	"fmt"

	"github.com/table-talk25/TableTalk-app-sub000/pkg/pipeline"
)

type ActionFuncProvider func(name string) (pipeline.ActionFunc, bool)

type ModifierFuncProvider func(name string) (pipeline.ModifierFunc, bool)

// CompilePipelines resolves every configured action and modifier name to
// its function. Unknown names fail the whole configuration.
func CompilePipelines(cfg *Config, actions ActionFuncProvider, modifiers ModifierFuncProvider) error {
	cfg.Pipelines = make(map[string]*pipeline.Pipeline, len(cfg.Events))
	for eventName, eventCfg := range cfg.Events {
		pipe := &pipeline.Pipeline{
			Event:  eventName,
			Target: eventCfg.Target,
			Guards: make([]pipeline.Guard, 0, len(eventCfg.Modifiers)),
			Steps:  make([]pipeline.Step, 0, len(eventCfg.Actions)),
		}
		for _, modCfg := range eventCfg.Modifiers {
			fn, ok := modifiers(modCfg.Name)
			if !ok {
				return fmt.Errorf("unknown modifier '%s' in event '%s'", modCfg.Name, eventName)
			}
			pipe.Guards = append(pipe.Guards, pipeline.Guard{Name: modCfg.Name, Function: fn, Params: modCfg.Params})
		}
		for _, actionCfg := range eventCfg.Actions {
			fn, ok := actions(actionCfg.Name)
			if !ok {
				return fmt.Errorf("unknown action '%s' in event '%s'", actionCfg.Name, eventName)
			}
			pipe.Steps = append(pipe.Steps, pipeline.Step{Name: actionCfg.Name, Function: fn, Params: actionCfg.Params})
		}
		if len(pipe.Steps) == 0 {
			return fmt.Errorf("event '%s' has no actions", eventName)
		}
		cfg.Pipelines[eventName] = pipe
	}
	return nil
}
