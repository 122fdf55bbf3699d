// Package connection owns the single authenticated socket of a session and
// drives it through connect, reconnect and teardown as the session and its
// access token change.
package connection

import (
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/storefront/livesync/internal/auth"
	"github.com/storefront/livesync/internal/metrics"
	"github.com/storefront/livesync/internal/transport"
)

// Socket is the part of a transport handle the manager relies on.
type Socket interface {
	Connected() bool
	Token() string
	Close()
}

// DialFunc opens a socket for token and reports its lifecycle through h. It
// must return without waiting for the handshake.
type DialFunc func(token string, h transport.Handlers) (Socket, error)

// FromTransport adapts a transport.Dialer.
func FromTransport(d *transport.Dialer) DialFunc {
	return func(token string, h transport.Handlers) (Socket, error) {
		s, err := d.Dial(token, h)
		if err != nil {
			return nil, err
		}
		return s, nil
	}
}

// EventFunc receives named events from the live socket.
type EventFunc func(name string, payload json.RawMessage)

// Config wires a Manager.
type Config struct {
	Dial   DialFunc
	Tokens auth.TokenStore
	// Reconnection mirrors the transport setting; with it off a dropped
	// link ends in Disconnected instead of Reconnecting.
	Reconnection bool
	Logger       *zap.Logger
	Metrics      metrics.Recorder
	Now          func() time.Time
}

// Manager keeps at most one socket per session. It never returns transport
// errors to callers; they become state transitions and log lines.
type Manager struct {
	dial         DialFunc
	tokens       auth.TokenStore
	reconnection bool
	log          *zap.Logger
	metrics      metrics.Recorder
	now          func() time.Time

	mu      sync.Mutex
	session *auth.Session
	sock    Socket
	token   string
	gen     uint64
	state   State
	seq     uint64
	// halted records that the socket for token ended for good (initial
	// handshake error or retries exhausted). Only a session transition or a
	// new token dials again.
	halted bool
	closed bool

	listeners map[int]func(Status)
	nextID    int
	events    []EventFunc

	notifyMu    sync.Mutex
	lastEmitted uint64
}

// New creates a Manager in the Disconnected state.
func New(cfg Config) *Manager {
	m := &Manager{
		dial:         cfg.Dial,
		tokens:       cfg.Tokens,
		reconnection: cfg.Reconnection,
		log:          cfg.Logger,
		metrics:      cfg.Metrics,
		now:          cfg.Now,
		listeners:    make(map[int]func(Status)),
	}
	if m.log == nil {
		m.log = zap.NewNop()
	}
	if m.metrics == nil {
		m.metrics = metrics.Nop{}
	}
	if m.now == nil {
		m.now = time.Now
	}
	return m
}

// Status returns the current snapshot.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.statusLocked()
}

// Subscribe registers fn for every published transition. Notifications are
// delivered outside the manager lock in Seq order; a listener must not call
// SetSession, Reevaluate or Close synchronously.
func (m *Manager) Subscribe(fn func(Status)) (cancel func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextID
	m.nextID++
	m.listeners[id] = fn
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.listeners, id)
	}
}

// OnEvent registers fn for domain events from the current socket. Events
// from a replaced socket are never delivered.
func (m *Manager) OnEvent(fn EventFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, fn)
}

// SetSession records the active session (nil when logged out) and
// re-evaluates the connection.
func (m *Manager) SetSession(s *auth.Session) {
	m.mu.Lock()
	if !sameSession(m.session, s) {
		m.halted = false
	}
	m.session = s
	m.mu.Unlock()
	m.Reevaluate()
}

// Reevaluate re-runs the connect decision against the current session and
// token. Token store changes should call it.
func (m *Manager) Reevaluate() {
	m.mu.Lock()
	stale, st, publish := m.reevaluateLocked()
	m.mu.Unlock()

	if stale != nil {
		stale.Close()
	}
	if publish {
		m.emit(st)
	}
}

// Close drops the session and tears down any socket. Later calls to
// SetSession are ignored.
func (m *Manager) Close() {
	m.mu.Lock()
	m.session = nil
	stale, st, publish := m.reevaluateLocked()
	m.closed = true
	m.mu.Unlock()

	if stale != nil {
		stale.Close()
	}
	if publish {
		m.emit(st)
	}
}

func (m *Manager) reevaluateLocked() (stale Socket, st Status, publish bool) {
	if m.closed {
		return nil, Status{}, false
	}

	if m.session == nil {
		stale = m.dropSocketLocked()
		m.token = ""
		m.halted = false
		publish = m.setStateLocked(Disconnected) || stale != nil
		return stale, m.statusLocked(), publish
	}

	token, ok := m.tokens.AccessToken()
	if !ok {
		m.log.Warn("session active but no access token available; not connecting",
			zap.String("user_id", m.session.UserID))
		stale = m.dropSocketLocked()
		m.token = ""
		publish = m.setStateLocked(Disconnected) || stale != nil
		return stale, m.statusLocked(), publish
	}

	if token == m.token && (m.sock != nil || m.halted) {
		return nil, m.statusLocked(), m.resyncLocked()
	}

	if info, err := auth.Inspect(token); err == nil && info.Expired(m.now()) {
		m.log.Warn("access token already expired; the relay may reject it",
			zap.Time("expires_at", info.ExpiresAt))
	}

	stale = m.dropSocketLocked()
	m.token = token
	m.halted = false
	m.setStateLocked(Connecting)

	sock, err := m.dial(token, m.handlers(m.gen))
	if err != nil {
		m.log.Error("socket dial failed", zap.Error(err))
		m.halted = true
		m.setStateLocked(Disconnected)
	} else {
		m.sock = sock
	}
	return stale, m.statusLocked(), true
}

// resyncLocked refreshes the published status from the existing handle
// without creating another one.
func (m *Manager) resyncLocked() bool {
	if m.sock == nil || !m.sock.Connected() {
		return false
	}
	if m.state == Connecting || m.state == Reconnecting {
		return m.setStateLocked(Connected)
	}
	return false
}

// dropSocketLocked forgets the current handle and invalidates its callbacks.
func (m *Manager) dropSocketLocked() Socket {
	m.gen++
	s := m.sock
	m.sock = nil
	return s
}

func (m *Manager) setStateLocked(next State) bool {
	if m.state == next {
		return false
	}
	m.log.Info("connection state",
		zap.Stringer("from", m.state),
		zap.Stringer("to", next))
	m.metrics.ConnectionTransition(m.state.String(), next.String())
	m.state = next
	m.seq++
	return true
}

func (m *Manager) statusLocked() Status {
	st := Status{State: m.state, Seq: m.seq}
	if m.sock != nil {
		st.Socket = m.sock
		st.IsConnected = m.state == Connected && m.sock.Connected()
	}
	return st
}

func (m *Manager) handlers(gen uint64) transport.Handlers {
	return transport.Handlers{
		OnConnect: func() {
			m.transition(gen, func() (State, bool) { return Connected, false })
		},
		OnConnectError: func(err error) {
			m.log.Warn("socket handshake failed; waiting for a session change", zap.Error(err))
			m.transition(gen, func() (State, bool) { return Disconnected, true })
		},
		OnDisconnect: func(reason string) {
			if reason == transport.ReasonClientClose {
				return
			}
			m.log.Info("socket link lost", zap.String("reason", reason))
			m.transition(gen, func() (State, bool) {
				if m.reconnection {
					return Reconnecting, false
				}
				return Disconnected, true
			})
		},
		OnReconnect: func(attempt int) {
			m.log.Info("socket reconnected", zap.Int("attempt", attempt))
			m.transition(gen, func() (State, bool) { return Connected, false })
		},
		OnReconnectError: func(err error) {
			m.log.Debug("reconnect attempt failed", zap.Error(err))
		},
		OnReconnectFailed: func() {
			m.log.Error("socket reconnection attempts exhausted")
			m.transition(gen, func() (State, bool) { return Failed, true })
		},
		OnEvent: func(name string, payload json.RawMessage) {
			m.mu.Lock()
			if gen != m.gen {
				m.mu.Unlock()
				return
			}
			handlers := append([]EventFunc(nil), m.events...)
			m.mu.Unlock()
			for _, fn := range handlers {
				fn(name, payload)
			}
		},
	}
}

// transition applies a socket callback if gen is still current. When
// terminal is true the handle is released and no redial happens for the
// same session and token.
func (m *Manager) transition(gen uint64, next func() (State, bool)) {
	m.mu.Lock()
	if gen != m.gen || m.closed {
		m.mu.Unlock()
		return
	}
	state, terminal := next()
	var stale Socket
	if terminal {
		stale = m.dropSocketLocked()
		m.halted = true
	}
	changed := m.setStateLocked(state)
	st := m.statusLocked()
	m.mu.Unlock()

	if stale != nil {
		stale.Close()
	}
	if changed || stale != nil {
		m.emit(st)
	}
}

func (m *Manager) emit(st Status) {
	m.notifyMu.Lock()
	defer m.notifyMu.Unlock()
	if st.Seq < m.lastEmitted {
		return
	}
	m.lastEmitted = st.Seq

	m.mu.Lock()
	listeners := make([]func(Status), 0, len(m.listeners))
	for id := 0; id < m.nextID; id++ {
		if fn, ok := m.listeners[id]; ok {
			listeners = append(listeners, fn)
		}
	}
	m.mu.Unlock()

	for _, fn := range listeners {
		fn(st)
	}
}

func sameSession(a, b *auth.Session) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.UserID == b.UserID
}
