package engine

import (
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/table-talk25/TableTalk-app-sub000/pkg/config"
	"github.com/table-talk25/TableTalk-app-sub000/pkg/pipeline"
	"github.com/table-talk25/TableTalk-app-sub000/pkg/state"
)

var (
	ErrRateLimited = errors.New("rate limit exceeded")
	ErrForbidden   = errors.New("missing permission")
)

type rateLimitState struct {
	Requests int
}

// parseRate reads "N/window". The window is a Go duration ("10s") or a bare
// unit ("s", "m", "h") meaning one of it.
func parseRate(rate string) (int, time.Duration, error) {
	count, window, ok := strings.Cut(rate, "/")
	if !ok {
		return 0, 0, fmt.Errorf("invalid rate_limit format: %s", rate)
	}
	limit, err := strconv.Atoi(count)
	if err != nil || limit <= 0 {
		return 0, 0, fmt.Errorf("invalid rate_limit count: %s", count)
	}

	if d, err := time.ParseDuration(window); err == nil && d > 0 {
		return limit, d, nil
	}
	switch strings.ToLower(window) {
	case "s":
		return limit, time.Second, nil
	case "m":
		return limit, time.Minute, nil
	case "h":
		return limit, time.Hour, nil
	default:
		return 0, 0, fmt.Errorf("invalid rate_limit duration unit: %s", window)
	}
}

// newRateLimitModifier counts events per user and event name in a fixed
// window that starts with the first event and is cleaned up by a timer.
func newRateLimitModifier(logger *slog.Logger, clk clock.Clock) pipeline.ModifierFunc {
	return func(pctx *pipeline.Cargo, params ...string) error {
		if len(params) != 1 {
			return errors.New("'rate_limit' modifier requires exactly one parameter (e.g., '10/m')")
		}
		limit, window, err := parseRate(params[0])
		if err != nil {
			return err
		}

		modifierName := "rate_limit"
		userID := pctx.User.ID
		eventName := pctx.EventName
		sm := pctx.StateManager

		existing, found := sm.GetModifierState(modifierName, userID, eventName)
		if !found {
			fresh := &state.ModifierState{Value: &rateLimitState{Requests: 1}}
			fresh.Timer = clk.AfterFunc(window, func() {
				logger.Debug("Auto-cleaning expired rate_limit state", slog.String("user", userID), slog.String("event", eventName))
				sm.DeleteModifierState(modifierName, userID, eventName)
			})
			sm.SetModifierState(modifierName, userID, eventName, fresh)
			return nil
		}

		existing.Mu.Lock()
		defer existing.Mu.Unlock()
		current := existing.Value.(*rateLimitState)
		if current.Requests < limit {
			current.Requests++
			return nil
		}
		return fmt.Errorf("%w for event '%s'", ErrRateLimited, eventName)
	}
}

// modifierRequire checks the user's grant on the target room.
func modifierRequire(pctx *pipeline.Cargo, params ...string) error {
	if len(params) == 0 {
		return errors.New("'_require' modifier needs at least one permission name")
	}
	want, err := config.CompilePermissions(params)
	if err != nil {
		return err
	}
	grant, ok := pctx.StateManager.GetGrant(pctx.User.ID, pctx.TargetID)
	if !ok {
		return fmt.Errorf("%w: not a member of '%s'", ErrForbidden, pctx.TargetID)
	}
	if !grant.Permissions.Has(want) {
		return fmt.Errorf("%w: %s on '%s'", ErrForbidden, strings.Join(params, ","), pctx.TargetID)
	}
	return nil
}
