// Package transport is the websocket link to the relay: authenticated dial,
// keep-alive pings, named-event delivery and bounded automatic reconnection.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/storefront/livesync/internal/wire"
)

const writeTimeout = 10 * time.Second

// Disconnect reasons passed to Handlers.OnDisconnect.
const (
	ReasonClientClose    = "io client disconnect"
	ReasonServerClose    = "io server disconnect"
	ReasonPingTimeout    = "ping timeout"
	ReasonTransportClose = "transport close"
)

var ErrNoEndpoints = errors.New("transport: no endpoints configured")

// Handlers receive socket lifecycle callbacks. All of them run on the
// socket's own goroutine, one at a time, and never after the socket has been
// closed locally. A successful reconnect fires OnReconnect followed by
// OnConnect. Nil handlers are skipped.
type Handlers struct {
	OnConnect         func()
	OnDisconnect      func(reason string)
	OnConnectError    func(err error)
	OnReconnect       func(attempt int)
	OnReconnectError  func(err error)
	OnReconnectFailed func()
	OnEvent           func(name string, payload json.RawMessage)
}

// Dialer opens Sockets with a fixed set of Options.
type Dialer struct {
	opts Options
	log  *zap.Logger
}

// NewDialer returns a Dialer. A nil logger discards logs.
func NewDialer(opts Options, log *zap.Logger) *Dialer {
	if log == nil {
		log = zap.NewNop()
	}
	return &Dialer{opts: opts.withDefaults(), log: log}
}

// Options returns the effective options.
func (d *Dialer) Options() Options { return d.opts }

// Dial starts connecting with token and returns the handle immediately. The
// outcome arrives through h. The only error is a missing endpoint list.
func (d *Dialer) Dial(token string, h Handlers) (*Socket, error) {
	if len(d.opts.Endpoints) == 0 {
		return nil, ErrNoEndpoints
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Socket{
		opts:   d.opts,
		token:  token,
		h:      h,
		log:    d.log,
		ws:     &websocket.Dialer{HandshakeTimeout: d.opts.Timeout, Proxy: http.ProxyFromEnvironment},
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go s.run()
	return s, nil
}

// Socket is one authenticated link. It is never re-pointed at another token.
type Socket struct {
	opts  Options
	token string
	h     Handlers
	log   *zap.Logger
	ws    *websocket.Dialer

	mu        sync.Mutex
	writeMu   sync.Mutex // serialises control frame writes
	conn      *websocket.Conn
	connected bool
	endpoint  string
	seq       uint64

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
	done      chan struct{}
}

// Token returns the access token the socket authenticated with.
func (s *Socket) Token() string { return s.token }

// Connected reports whether the link is currently up.
func (s *Socket) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

// Endpoint returns the URL of the current or last connection.
func (s *Socket) Endpoint() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.endpoint
}

// LastSeq returns the sequence number of the last event received.
func (s *Socket) LastSeq() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.seq
}

// Done is closed once the socket goroutine has exited.
func (s *Socket) Done() <-chan struct{} { return s.done }

// Close tears the link down and cancels any pending retry. Safe to call more
// than once and from any goroutine, including inside a handler.
func (s *Socket) Close() {
	s.closeOnce.Do(func() {
		s.cancel()

		s.mu.Lock()
		conn := s.conn
		s.conn = nil
		s.connected = false
		s.mu.Unlock()

		if conn != nil {
			s.writeMu.Lock()
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeTimeout))
			s.writeMu.Unlock()
			_ = conn.Close()
		}
	})
}

func (s *Socket) closed() bool { return s.ctx.Err() != nil }

func (s *Socket) run() {
	defer close(s.done)

	conn, err := s.connect()
	if err != nil {
		if !s.closed() {
			s.log.Warn("socket handshake failed", zap.Error(err))
			s.fireConnectError(err)
		}
		return
	}
	s.fireConnect()

	for {
		reason := s.serve(conn)
		if s.closed() {
			return
		}
		s.log.Info("socket disconnected", zap.String("reason", reason))
		s.fireDisconnect(reason)
		if !s.opts.Reconnection {
			return
		}

		conn = s.reconnect()
		if conn == nil {
			return
		}
	}
}

// reconnect retries with capped exponential backoff. It returns nil when the
// attempts ran out or the socket was closed.
func (s *Socket) reconnect() *websocket.Conn {
	for attempt := 1; s.opts.ReconnectionAttempts <= 0 || attempt <= s.opts.ReconnectionAttempts; attempt++ {
		delay := Backoff(attempt-1, s.opts.ReconnectionDelay, s.opts.ReconnectionDelayMax)
		select {
		case <-s.ctx.Done():
			return nil
		case <-time.After(delay):
		}

		conn, err := s.connect()
		if err != nil {
			if s.closed() {
				return nil
			}
			s.log.Debug("reconnect attempt failed", zap.Int("attempt", attempt), zap.Error(err))
			s.fireReconnectError(err)
			continue
		}
		s.log.Info("socket reconnected", zap.Int("attempt", attempt))
		s.fireReconnect(attempt)
		s.fireConnect()
		return conn
	}
	s.log.Warn("reconnection attempts exhausted", zap.Int("attempts", s.opts.ReconnectionAttempts))
	s.fireReconnectFailed()
	return nil
}

// connect tries every endpoint in order and installs the first live
// connection.
func (s *Socket) connect() (*websocket.Conn, error) {
	header := http.Header{}
	if s.token != "" {
		header.Set("Authorization", "Bearer "+s.token)
	}

	var errs []error
	for _, endpoint := range s.opts.Endpoints {
		conn, resp, err := s.ws.DialContext(s.ctx, endpoint, header)
		if err != nil {
			if resp != nil {
				err = fmt.Errorf("dial %s: %w (status %d)", endpoint, err, resp.StatusCode)
			} else {
				err = fmt.Errorf("dial %s: %w", endpoint, err)
			}
			errs = append(errs, err)
			if s.closed() {
				break
			}
			continue
		}

		s.mu.Lock()
		if s.closed() {
			s.mu.Unlock()
			_ = conn.Close()
			return nil, context.Canceled
		}
		s.conn = conn
		s.connected = true
		s.endpoint = endpoint
		s.seq = 0
		s.mu.Unlock()
		return conn, nil
	}
	return nil, errors.Join(errs...)
}

// serve reads events until the connection fails and returns the disconnect
// reason.
func (s *Socket) serve(conn *websocket.Conn) string {
	pingCtx, stopPing := context.WithCancel(s.ctx)
	defer stopPing()
	go s.pingLoop(pingCtx, conn)

	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(s.opts.PongTimeout))
	})
	_ = conn.SetReadDeadline(time.Now().Add(s.opts.PongTimeout))

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			s.mu.Lock()
			if s.conn == conn {
				s.conn = nil
				s.connected = false
			}
			s.mu.Unlock()
			_ = conn.Close()
			return disconnectReason(err)
		}

		var env wire.Envelope
		if err := json.Unmarshal(data, &env); err != nil || env.Event == "" {
			s.log.Debug("dropping malformed frame", zap.Int("bytes", len(data)))
			continue
		}

		s.mu.Lock()
		if s.seq != 0 && env.Seq > s.seq+1 {
			s.log.Warn("event sequence gap", zap.Uint64("last", s.seq), zap.Uint64("got", env.Seq))
		}
		s.seq = env.Seq
		s.mu.Unlock()

		if s.closed() {
			return ReasonClientClose
		}
		if s.h.OnEvent != nil {
			s.h.OnEvent(env.Event, env.Data)
		}
	}
}

func (s *Socket) pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(s.opts.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.writeMu.Lock()
			err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout))
			s.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

func disconnectReason(err error) string {
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		return ReasonServerClose
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return ReasonPingTimeout
	}
	return ReasonTransportClose
}

func (s *Socket) fireConnect() {
	if s.h.OnConnect != nil && !s.closed() {
		s.h.OnConnect()
	}
}

func (s *Socket) fireDisconnect(reason string) {
	if s.h.OnDisconnect != nil {
		s.h.OnDisconnect(reason)
	}
}

func (s *Socket) fireConnectError(err error) {
	if s.h.OnConnectError != nil {
		s.h.OnConnectError(err)
	}
}

func (s *Socket) fireReconnect(attempt int) {
	if s.h.OnReconnect != nil && !s.closed() {
		s.h.OnReconnect(attempt)
	}
}

func (s *Socket) fireReconnectError(err error) {
	if s.h.OnReconnectError != nil {
		s.h.OnReconnectError(err)
	}
}

func (s *Socket) fireReconnectFailed() {
	if s.h.OnReconnectFailed != nil {
		s.h.OnReconnectFailed()
	}
}
