package engine

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/table-talk25/TableTalk-app-sub000/pkg/pipeline"
)

type ResolverFunc func(pctx *pipeline.Cargo) (string, error)

// func for param "{$user.id}"
func _userID(pctx *pipeline.Cargo) (string, error) {
	if pctx.User == nil {
		return "", errors.New("param variable 'user.id' is unavailable")
	}
	return pctx.User.ID, nil
}

// func for param "{$user.name}"
func _userName(pctx *pipeline.Cargo) (string, error) {
	if pctx.User == nil {
		return "", errors.New("param variable 'user.name' is unavailable")
	}
	return pctx.User.DisplayName, nil
}

// func for param "{$conn.id}"
func _connID(pctx *pipeline.Cargo) (string, error) {
	if pctx.Connection == nil {
		return "", errors.New("param variable 'connection.id' is unavailable")
	}
	return pctx.Connection.ID.String(), nil
}

// func for param "{$target.id}"
func _target(pctx *pipeline.Cargo) (string, error) {
	return pctx.TargetID, nil
}

// placeholder matches {$variable} and {.payload.path}.
var placeholder = regexp.MustCompile(`\{(\$[A-Za-z0-9_.]+|\.payload(?:\.[A-Za-z0-9_.\-]+)?)\}`)

// ResolveParam expands a template. A template that is exactly one
// placeholder yields the raw value; placeholders inside a larger template
// are JSON string escaped so JSON payload templates stay valid.
func (e *Registry) ResolveParam(pctx *pipeline.Cargo, tpl string) (string, error) {
	if m := placeholder.FindStringSubmatchIndex(tpl); m != nil && m[0] == 0 && m[1] == len(tpl) {
		return e.resolveOne(pctx, tpl[m[2]:m[3]])
	}

	var firstErr error
	out := placeholder.ReplaceAllStringFunc(tpl, func(match string) string {
		val, err := e.resolveOne(pctx, match[1:len(match)-1])
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			return ""
		}
		return jsonEscape(val)
	})
	if firstErr != nil {
		return "", firstErr
	}
	return out, nil
}

// ResolveParams expands every template of a step.
func (e *Registry) ResolveParams(pctx *pipeline.Cargo, templates []string) ([]string, error) {
	resolved := make([]string, len(templates))
	for i, tpl := range templates {
		val, err := e.ResolveParam(pctx, tpl)
		if err != nil {
			return nil, err
		}
		resolved[i] = val
	}
	return resolved, nil
}

func (e *Registry) resolveOne(pctx *pipeline.Cargo, ref string) (string, error) {
	if name, ok := strings.CutPrefix(ref, "$"); ok {
		resolver, found := e.GetParamResolver(name)
		if !found {
			return "", fmt.Errorf("unknown param variable '%s'", name)
		}
		return resolver(pctx)
	}

	path := strings.TrimPrefix(ref, ".payload")
	if path == "" {
		// {.payload} is the raw payload
		return string(pctx.Payload), nil
	}
	value := gjson.GetBytes(pctx.Payload, strings.TrimPrefix(path, "."))
	if !value.Exists() {
		return "", nil
	}
	return value.String(), nil
}

func jsonEscape(s string) string {
	raw, _ := json.Marshal(s)
	return string(raw[1 : len(raw)-1])
}
