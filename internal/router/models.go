package router

import (
	"errors"

	"github.com/table-talk25/TableTalk-app-sub000/pkg/pipeline"
)

var (
	ErrUnknownEvent      = errors.New("unknown event")
	ErrUnknownConnection = errors.New("connection is not registered")
	ErrMissingTarget     = errors.New("event target is empty")
)

// ParamResolver expands the templates of a pipeline against a cargo.
type ParamResolver interface {
	ResolveParam(pctx *pipeline.Cargo, tpl string) (string, error)
	ResolveParams(pctx *pipeline.Cargo, templates []string) ([]string, error)
}
