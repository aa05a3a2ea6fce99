package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/table-talk25/TableTalk-app-sub000/pkg/logging"
	"github.com/table-talk25/TableTalk-app-sub000/pkg/pipeline"
	"github.com/table-talk25/TableTalk-app-sub000/pkg/state"
)

func TestLoadDefaultsWithoutFile(t *testing.T) {
	cfg, err := Load(logging.Discard(), filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, ":8080", cfg.Server.Address)
	assert.Equal(t, 5, cfg.Server.ConnectionLimit.MaxPerUser)
	assert.Equal(t, "cycle", cfg.Server.ConnectionLimit.Mode)
	assert.Equal(t, 10*time.Second, cfg.Client.ConnectTimeout)
	assert.Equal(t, time.Second, cfg.Client.PeerTypingTTL)
	assert.Equal(t, 256, cfg.Transport.SendQueue)
	assert.Equal(t, "memory", cfg.Storage.Driver)
	assert.Equal(t, DefaultEvents(), cfg.Events)
}

func TestLoadFileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "relay.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
logLevel: debug
server:
  address: ":9090"
  connectionLimit:
    maxPerUser: 2
    mode: reject
client:
  typingIdle: 750ms
storage:
  driver: pebble
  path: /var/lib/tabletalk
permissions:
  - moderate
events:
  ping:
    target: "{$user.id}"
    actions:
      - name: _log
        params: ["{.payload}"]
`), 0o600))
	t.Setenv("TABLETALK_SERVER_AUTH_JWTSECRET", "from-env")

	cfg, err := Load(logging.Discard(), path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, ":9090", cfg.Server.Address)
	assert.Equal(t, "from-env", cfg.Server.Auth.JWTSecret)
	assert.Equal(t, "reject", cfg.Server.ConnectionLimit.Mode)
	assert.Equal(t, 750*time.Millisecond, cfg.Client.TypingIdle)
	assert.Equal(t, "pebble", cfg.Storage.Driver)
	require.Len(t, cfg.Events, 1, "declared events replace the defaults")
	assert.Equal(t, "{$user.id}", cfg.Events["ping"].Target)

	_, err = CompilePermissions([]string{"moderate", "write"})
	assert.NoError(t, err)

	// Loading twice must not trip over the already registered permission.
	_, err = Load(logging.Discard(), path)
	assert.NoError(t, err)
}

func TestLoadRejectsBrokenFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server: [unterminated"), 0o600))
	_, err := Load(logging.Discard(), path)
	assert.Error(t, err)
}

func nopAction(*pipeline.Cargo, ...string) error { return nil }

func providers(known ...string) (ActionFuncProvider, ModifierFuncProvider) {
	set := make(map[string]bool, len(known))
	for _, k := range known {
		set[k] = true
	}
	actions := func(name string) (pipeline.ActionFunc, bool) {
		return nopAction, set[name]
	}
	modifiers := func(name string) (pipeline.ModifierFunc, bool) {
		return nopAction, set[name]
	}
	return actions, modifiers
}

func TestCompileDefaultEvents(t *testing.T) {
	cfg := &Config{Events: DefaultEvents()}
	actions, modifiers := providers("_join", "_leave", "_message", "_notify_others", "_require", "rate_limit")
	require.NoError(t, CompilePipelines(cfg, actions, modifiers))

	require.Len(t, cfg.Pipelines, len(cfg.Events))
	send := cfg.Pipelines["send_message"]
	require.NotNil(t, send)
	assert.Equal(t, "{.payload.chatId}", send.Target)
	require.Len(t, send.Guards, 2)
	assert.Equal(t, "_require", send.Guards[0].Name)
	assert.Equal(t, []string{"5/10s"}, send.Guards[1].Params)
	require.Len(t, send.Steps, 1)
	assert.Equal(t, "_message", send.Steps[0].Name)
}

func TestCompileRejectsBadEvents(t *testing.T) {
	actions, modifiers := providers("_log")

	cases := map[string]map[string]EventConfig{
		"unknown action": {
			"x": {Actions: []ActionConfig{{Name: "_explode"}}},
		},
		"unknown modifier": {
			"x": {Modifiers: []ActionConfig{{Name: "secure"}}, Actions: []ActionConfig{{Name: "_log"}}},
		},
		"no actions": {
			"x": {},
		},
	}
	for name, events := range cases {
		t.Run(name, func(t *testing.T) {
			err := CompilePipelines(&Config{Events: events}, actions, modifiers)
			assert.Error(t, err)
		})
	}
}

func TestPermissionRegistry(t *testing.T) {
	require.NoError(t, RegisterPermission("host"))
	assert.ErrorIs(t, RegisterPermission("host"), ErrPermissionExists)
	assert.ErrorIs(t, RegisterPermission("write"), ErrPermissionReserved)

	host, err := CompilePermissions([]string{"host"})
	require.NoError(t, err)
	assert.False(t, host.Has(state.PermCanRead|state.PermCanWrite), "custom bits follow the built-in ones")

	both, err := CompilePermissions([]string{"read", "write"})
	require.NoError(t, err)
	assert.Equal(t, state.PermParticipant, both)

	_, err = CompilePermissions([]string{"fly"})
	assert.ErrorIs(t, err, ErrUnknownPermission)
	assert.Contains(t, GetAllRegistered(), "host")
}
