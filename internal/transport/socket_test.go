package transport

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/storefront/livesync/internal/wire"
)

var upgrader = websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func fastOptions(endpoints ...string) Options {
	opts := DefaultOptions()
	opts.Endpoints = endpoints
	opts.Timeout = time.Second
	opts.ReconnectionDelay = time.Millisecond
	opts.ReconnectionDelayMax = 5 * time.Millisecond
	return opts
}

func waitFor[T any](t *testing.T, ch <-chan T, what string) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(3 * time.Second):
		t.Fatalf("timed out waiting for %s", what)
		var zero T
		return zero
	}
}

func TestBackoff(t *testing.T) {
	floor, ceiling := time.Second, 5*time.Second
	assert.Equal(t, time.Second, Backoff(0, floor, ceiling))
	assert.Equal(t, 2*time.Second, Backoff(1, floor, ceiling))
	assert.Equal(t, 4*time.Second, Backoff(2, floor, ceiling))
	assert.Equal(t, 5*time.Second, Backoff(3, floor, ceiling))
	assert.Equal(t, 5*time.Second, Backoff(10, floor, ceiling))
}

func TestDefaultOptions(t *testing.T) {
	opts := DefaultOptions()
	assert.Equal(t, 10*time.Second, opts.Timeout)
	assert.True(t, opts.Reconnection)
	assert.Equal(t, 5, opts.ReconnectionAttempts)
	assert.Equal(t, time.Second, opts.ReconnectionDelay)
	assert.Equal(t, 5*time.Second, opts.ReconnectionDelayMax)
}

func TestDial_NoEndpoints(t *testing.T) {
	_, err := NewDialer(Options{}, nil).Dial("abc", Handlers{})
	assert.ErrorIs(t, err, ErrNoEndpoints)
}

func TestDial_ConnectsWithBearerAndDeliversEvents(t *testing.T) {
	authCh := make(chan string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authCh <- r.Header.Get("Authorization")
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		_ = conn.WriteJSON(wire.Envelope{Event: wire.EventNewOrder, Seq: 1, Data: json.RawMessage(`{"id":"O1"}`)})
		_, _, _ = conn.ReadMessage()
	}))
	defer srv.Close()

	connected := make(chan struct{}, 1)
	events := make(chan string, 1)
	sock, err := NewDialer(fastOptions(wsURL(srv)), zap.NewNop()).Dial("abc", Handlers{
		OnConnect: func() { connected <- struct{}{} },
		OnEvent: func(name string, payload json.RawMessage) {
			events <- name + " " + string(payload)
		},
	})
	require.NoError(t, err)
	defer sock.Close()

	assert.Equal(t, "Bearer abc", waitFor(t, authCh, "handshake"))
	waitFor(t, connected, "connect")
	assert.Equal(t, `newOrder {"id":"O1"}`, waitFor(t, events, "event"))
	assert.True(t, sock.Connected())
	assert.Equal(t, "abc", sock.Token())
	assert.Equal(t, uint64(1), sock.LastSeq())
}

func TestDial_InitialFailureIsNotRetried(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.Error(w, "unauthorized", http.StatusUnauthorized)
	}))
	defer srv.Close()

	errCh := make(chan error, 1)
	var reconnects atomic.Int32
	sock, err := NewDialer(fastOptions(wsURL(srv)), nil).Dial("bad", Handlers{
		OnConnectError:   func(err error) { errCh <- err },
		OnReconnectError: func(error) { reconnects.Add(1) },
	})
	require.NoError(t, err)
	defer sock.Close()

	connErr := waitFor(t, errCh, "connect error")
	assert.Contains(t, connErr.Error(), "status 401")
	waitFor(t, sock.Done(), "socket exit")
	assert.Equal(t, int32(1), hits.Load())
	assert.Zero(t, reconnects.Load())
	assert.False(t, sock.Connected())
}

func TestDial_FallsBackToNextEndpoint(t *testing.T) {
	dead := httptest.NewServer(http.NotFoundHandler())
	deadURL := wsURL(dead)
	dead.Close()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		_, _, _ = conn.ReadMessage()
	}))
	defer srv.Close()

	connected := make(chan struct{}, 1)
	sock, err := NewDialer(fastOptions(deadURL, wsURL(srv)), nil).Dial("abc", Handlers{
		OnConnect: func() { connected <- struct{}{} },
	})
	require.NoError(t, err)
	defer sock.Close()

	waitFor(t, connected, "connect")
	assert.Equal(t, wsURL(srv), sock.Endpoint())
}

func TestReconnect_StopsAfterCeiling(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) > 1 {
			http.Error(w, "down", http.StatusServiceUnavailable)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		_ = conn.Close()
	}))
	defer srv.Close()

	var reconnectErrors atomic.Int32
	disconnected := make(chan string, 1)
	failed := make(chan struct{}, 1)
	sock, err := NewDialer(fastOptions(wsURL(srv)), nil).Dial("abc", Handlers{
		OnDisconnect:      func(reason string) { disconnected <- reason },
		OnReconnectError:  func(error) { reconnectErrors.Add(1) },
		OnReconnectFailed: func() { failed <- struct{}{} },
	})
	require.NoError(t, err)
	defer sock.Close()

	assert.Equal(t, ReasonTransportClose, waitFor(t, disconnected, "disconnect"))
	waitFor(t, failed, "reconnect failed")
	waitFor(t, sock.Done(), "socket exit")

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(5), reconnectErrors.Load())
	assert.Equal(t, int32(6), hits.Load(), "one initial dial plus five retries")
}

func TestReconnect_RecoversAfterDrop(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := hits.Add(1)
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		if n == 1 {
			return
		}
		_, _, _ = conn.ReadMessage()
	}))
	defer srv.Close()

	connects := make(chan struct{}, 2)
	reconnected := make(chan int, 1)
	sock, err := NewDialer(fastOptions(wsURL(srv)), nil).Dial("abc", Handlers{
		OnConnect:   func() { connects <- struct{}{} },
		OnReconnect: func(attempt int) { reconnected <- attempt },
	})
	require.NoError(t, err)
	defer sock.Close()

	waitFor(t, connects, "first connect")
	assert.Equal(t, 1, waitFor(t, reconnected, "reconnect"))
	waitFor(t, connects, "second connect")
	assert.True(t, sock.Connected())
}

func TestReconnect_DisabledStopsAtDisconnect(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		_ = conn.Close()
	}))
	defer srv.Close()

	opts := fastOptions(wsURL(srv))
	opts.Reconnection = false
	disconnected := make(chan string, 1)
	sock, err := NewDialer(opts, nil).Dial("abc", Handlers{
		OnDisconnect: func(reason string) { disconnected <- reason },
	})
	require.NoError(t, err)
	defer sock.Close()

	waitFor(t, disconnected, "disconnect")
	waitFor(t, sock.Done(), "socket exit")
	assert.Equal(t, int32(1), hits.Load())
}

func TestClose_IsIdempotentAndSendsCloseFrame(t *testing.T) {
	closeCode := make(chan int, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		_, _, err = conn.ReadMessage()
		var ce *websocket.CloseError
		if errors.As(err, &ce) {
			closeCode <- ce.Code
		} else {
			closeCode <- -1
		}
	}))
	defer srv.Close()

	connected := make(chan struct{}, 1)
	var disconnects atomic.Int32
	sock, err := NewDialer(fastOptions(wsURL(srv)), nil).Dial("abc", Handlers{
		OnConnect:    func() { connected <- struct{}{} },
		OnDisconnect: func(string) { disconnects.Add(1) },
	})
	require.NoError(t, err)
	waitFor(t, connected, "connect")

	sock.Close()
	sock.Close()

	assert.Equal(t, websocket.CloseNormalClosure, waitFor(t, closeCode, "close frame"))
	waitFor(t, sock.Done(), "socket exit")
	assert.False(t, sock.Connected())
	assert.Zero(t, disconnects.Load())
}

func TestClose_BeforeHandshakeSuppressesCallbacks(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		_ = conn.Close()
	}))
	defer srv.Close()
	defer close(release)

	var calls atomic.Int32
	sock, err := NewDialer(fastOptions(wsURL(srv)), nil).Dial("abc", Handlers{
		OnConnect:      func() { calls.Add(1) },
		OnConnectError: func(error) { calls.Add(1) },
	})
	require.NoError(t, err)

	sock.Close()
	waitFor(t, sock.Done(), "socket exit")
	assert.Zero(t, calls.Load())
}
