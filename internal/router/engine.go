package router

import (
	"fmt"
	"log/slog"

	"github.com/table-talk25/TableTalk-app-sub000/pkg/pipeline"
)

// execute runs the guards and then the steps of a pipeline. The first
// failure halts it.
func (r *EventRouter) execute(pctx *pipeline.Cargo, pipe *pipeline.Pipeline) error {
	if pipe.Target != "" {
		target, err := r.resolver.ResolveParam(pctx, pipe.Target)
		if err != nil {
			return fmt.Errorf("failed to resolve target: %w", err)
		}
		if target == "" {
			return ErrMissingTarget
		}
		pctx.TargetID = target
	}

	for _, guard := range pipe.Guards {
		params, err := r.resolver.ResolveParams(pctx, guard.Params)
		if err != nil {
			return err
		}
		if err := guard.Function(pctx, params...); err != nil {
			pctx.Logger.Info("Modifier rejected event", slog.String("modifier", guard.Name), slog.Any("error", err))
			return err
		}
	}

	for _, step := range pipe.Steps {
		params, err := r.resolver.ResolveParams(pctx, step.Params)
		if err != nil {
			return err
		}
		pctx.Logger.Debug("Executing action", slog.String("action", step.Name))
		if err := step.Function(pctx, params...); err != nil {
			pctx.Logger.Error("Action failed, halting pipeline", slog.String("action", step.Name), slog.Any("error", err))
			return err
		}
	}
	return nil
}
