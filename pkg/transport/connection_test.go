package transport_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/table-talk25/TableTalk-app-sub000/pkg/logging"
	"github.com/table-talk25/TableTalk-app-sub000/pkg/transport"
)

func echoServer(t *testing.T, wantToken string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer "+wantToken {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		c, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer c.CloseNow()
		for {
			typ, msg, err := c.Read(r.Context())
			if err != nil {
				return
			}
			if err := c.Write(r.Context(), typ, msg); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestDialEcho(t *testing.T) {
	srv := echoServer(t, "secret")

	received := make(chan string, 1)
	closed := make(chan error, 1)
	conn, err := transport.Dial(context.Background(),
		transport.DialConfig{URL: wsURL(srv)},
		"secret",
		func(_ context.Context, _ uuid.UUID, msg []byte) { received <- string(msg) },
		func(_ uuid.UUID, err error) { closed <- err },
		logging.Discard(),
	)
	require.NoError(t, err)

	require.NoError(t, conn.Send([]byte(`{"event":"ping"}`)))
	select {
	case got := <-received:
		assert.Equal(t, `{"event":"ping"}`, got)
	case <-time.After(2 * time.Second):
		t.Fatal("no echo received")
	}
	assert.Equal(t, transport.Stats{Received: 1, Sent: 1}, conn.Stats())

	conn.Close(nil)
	select {
	case err := <-closed:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("close handler not called")
	}
	<-conn.Done()
	assert.ErrorIs(t, conn.Send([]byte("late")), transport.ErrClosed)
}

func TestDialUnauthorized(t *testing.T) {
	srv := echoServer(t, "secret")

	_, err := transport.Dial(context.Background(), transport.DialConfig{URL: wsURL(srv)}, "wrong", nil, nil, logging.Discard())
	require.Error(t, err)
	assert.ErrorIs(t, err, transport.ErrUnauthorized)
}

func TestDialUnreachable(t *testing.T) {
	srv := echoServer(t, "secret")
	url := wsURL(srv)
	srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := transport.Dial(ctx, transport.DialConfig{URL: url}, "secret", nil, nil, logging.Discard())
	require.Error(t, err)
	assert.NotErrorIs(t, err, transport.ErrUnauthorized)
}

func TestCloseRunsOnce(t *testing.T) {
	var wg sync.WaitGroup
	var calls atomic.Int32
	conn := transport.NewConnection(context.Background(), &wg, nil, transport.ConnectionConfig{}, nil,
		func(uuid.UUID, error) { calls.Add(1) }, logging.Discard())

	conn.Close(nil)
	conn.Close(nil)
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
	select {
	case <-conn.Done():
	default:
		t.Fatal("done channel not closed")
	}
}

func TestPeerCloseReportsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		c.Close(websocket.StatusGoingAway, "bye")
	}))
	defer srv.Close()

	closed := make(chan error, 1)
	_, err := transport.Dial(context.Background(), transport.DialConfig{URL: wsURL(srv)}, "", nil,
		func(_ uuid.UUID, err error) { closed <- err }, logging.Discard())
	require.NoError(t, err)

	select {
	case err := <-closed:
		assert.Equal(t, websocket.StatusGoingAway, websocket.CloseStatus(err))
	case <-time.After(2 * time.Second):
		t.Fatal("close handler not called after peer close")
	}
}
