package router

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/table-talk25/TableTalk-app-sub000/pkg/logging"
	"github.com/table-talk25/TableTalk-app-sub000/pkg/pipeline"
	"github.com/table-talk25/TableTalk-app-sub000/pkg/protocol"
	"github.com/table-talk25/TableTalk-app-sub000/pkg/state"
	"github.com/table-talk25/TableTalk-app-sub000/pkg/state/statemanager"
	"github.com/table-talk25/TableTalk-app-sub000/pkg/transport"
)

// payloadResolver understands "{.payload.<path>}" and literals.
type payloadResolver struct{}

func (payloadResolver) ResolveParam(pctx *pipeline.Cargo, tpl string) (string, error) {
	if path, ok := strings.CutPrefix(tpl, "{.payload."); ok {
		return gjson.GetBytes(pctx.Payload, strings.TrimSuffix(path, "}")).String(), nil
	}
	if tpl == "{$target.id}" {
		return pctx.TargetID, nil
	}
	return tpl, nil
}

func (r payloadResolver) ResolveParams(pctx *pipeline.Cargo, templates []string) ([]string, error) {
	out := make([]string, len(templates))
	for i, tpl := range templates {
		v, err := r.ResolveParam(pctx, tpl)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

type recorder struct {
	mu    sync.Mutex
	calls []string
}

func (rec *recorder) step(name string, fail error) pipeline.ActionFunc {
	return func(pctx *pipeline.Cargo, params ...string) error {
		rec.mu.Lock()
		defer rec.mu.Unlock()
		rec.calls = append(rec.calls, name+":"+strings.Join(params, ","))
		return fail
	}
}

func (rec *recorder) get() []string {
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return append([]string(nil), rec.calls...)
}

func setup(t *testing.T, pipes map[string]*pipeline.Pipeline) (*EventRouter, *state.Connection) {
	t.Helper()
	sm := statemanager.NewInMemoryManager(logging.Discard())
	var wg sync.WaitGroup
	tc := transport.NewConnection(context.Background(), &wg, nil, transport.ConnectionConfig{}, nil, nil, logging.Discard())
	t.Cleanup(func() { tc.Close(nil) })
	conn, err := sm.RegisterConnection(tc, "127.0.0.1")
	require.NoError(t, err)
	_, err = sm.AssociateUser(conn.ID, "u1", "User One", state.PermCanRead)
	require.NoError(t, err)
	conn, ok := sm.GetConnection(conn.ID)
	require.True(t, ok)
	return NewEventRouter(logging.Discard(), sm, pipes, payloadResolver{}), conn
}

func frame(t *testing.T, event string, payload any) []byte {
	t.Helper()
	b, err := protocol.Encode(event, payload)
	require.NoError(t, err)
	return b
}

func TestHandleMessageRunsGuardsThenSteps(t *testing.T) {
	rec := &recorder{}
	pipes := map[string]*pipeline.Pipeline{
		protocol.EventSendMessage: {
			Event:  protocol.EventSendMessage,
			Target: "{.payload.chatId}",
			Guards: []pipeline.Guard{{Name: "guard", Function: pipeline.ModifierFunc(rec.step("guard", nil))}},
			Steps: []pipeline.Step{
				{Name: "first", Function: rec.step("first", nil), Params: []string{"{$target.id}", "{.payload.content}"}},
				{Name: "second", Function: rec.step("second", nil)},
			},
		},
	}
	r, conn := setup(t, pipes)

	r.HandleMessage(context.Background(), conn.ID, frame(t, protocol.EventSendMessage, protocol.SendMessage{ChatID: "c1", Content: "hi"}))
	assert.Equal(t, []string{"guard:", "first:c1,hi", "second:"}, rec.get())
}

func TestExecuteHaltsOnFailure(t *testing.T) {
	rec := &recorder{}
	denied := errors.New("denied")
	pipe := &pipeline.Pipeline{
		Event:  "x",
		Guards: []pipeline.Guard{{Name: "no", Function: pipeline.ModifierFunc(rec.step("no", denied))}},
		Steps:  []pipeline.Step{{Name: "never", Function: rec.step("never", nil)}},
	}
	r, conn := setup(t, nil)
	pctx := &pipeline.Cargo{Logger: logging.Discard(), Ctx: context.Background(), User: conn.User, Connection: conn}

	assert.ErrorIs(t, r.execute(pctx, pipe), denied)
	assert.Equal(t, []string{"no:"}, rec.get())

	rec = &recorder{}
	boom := errors.New("boom")
	pipe = &pipeline.Pipeline{
		Event: "x",
		Steps: []pipeline.Step{
			{Name: "a", Function: rec.step("a", boom)},
			{Name: "b", Function: rec.step("b", nil)},
		},
	}
	assert.ErrorIs(t, r.execute(pctx, pipe), boom)
	assert.Equal(t, []string{"a:"}, rec.get())
}

func TestExecuteRequiresTarget(t *testing.T) {
	rec := &recorder{}
	pipe := &pipeline.Pipeline{
		Event:  protocol.EventJoinChat,
		Target: "{.payload.chatId}",
		Steps:  []pipeline.Step{{Name: "join", Function: rec.step("join", nil)}},
	}
	r, conn := setup(t, nil)
	pctx := &pipeline.Cargo{Logger: logging.Discard(), Ctx: context.Background(), User: conn.User, Connection: conn, Payload: []byte(`{}`)}

	assert.ErrorIs(t, r.execute(pctx, pipe), ErrMissingTarget)
	assert.Empty(t, rec.get())
}

func TestHandleMessageIgnoresUnknownInput(t *testing.T) {
	rec := &recorder{}
	pipes := map[string]*pipeline.Pipeline{
		"known": {Event: "known", Steps: []pipeline.Step{{Name: "s", Function: rec.step("s", nil)}}},
	}
	r, conn := setup(t, pipes)

	r.HandleMessage(context.Background(), conn.ID, []byte("not json"))
	r.HandleMessage(context.Background(), conn.ID, frame(t, "unknown", nil))
	r.HandleMessage(context.Background(), uuid.New(), frame(t, "known", nil))
	assert.Empty(t, rec.get())

	r.HandleMessage(context.Background(), conn.ID, frame(t, "known", nil))
	assert.Equal(t, []string{"s:"}, rec.get())
}
