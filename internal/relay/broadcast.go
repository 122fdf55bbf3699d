package relay

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/storefront/livesync/internal/metrics"
	"github.com/storefront/livesync/internal/wire"
)

var (
	// ErrTooManyConnections is returned by AddClient when the connection
	// limit is reached.
	ErrTooManyConnections = errors.New("too many connections")
	// ErrStopped is returned by AddClient after Stop.
	ErrStopped = errors.New("broadcaster stopped")
)

const writeWait = 10 * time.Second

type client struct {
	conn *websocket.Conn
	b    *Broadcaster
	send chan []byte
}

func (c *client) writePump() {
	defer c.conn.Close()
	for msg := range c.send {
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			c.b.RemoveClient(c)
			// Drain until RemoveClient closes send.
			for range c.send {
			}
			return
		}
	}
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseGoingAway, "relay closing"),
		time.Now().Add(time.Second))
}

// Broadcaster fans envelopes out to every connected socket. Each client has a
// bounded send queue; a client whose queue is full is disconnected.
type Broadcaster struct {
	mu         sync.RWMutex
	clients    map[*client]bool
	maxConns   int
	sendBuffer int
	stopped    bool

	// pubMu orders publishers so envelopes are queued in Seq order.
	pubMu sync.Mutex
	seq   atomic.Uint64

	log     *zap.Logger
	metrics metrics.RelayRecorder
}

// NewBroadcaster creates a Broadcaster. maxConns <= 0 means unlimited.
func NewBroadcaster(maxConns, sendBuffer int, log *zap.Logger, rec metrics.RelayRecorder) *Broadcaster {
	if sendBuffer <= 0 {
		sendBuffer = 64
	}
	if log == nil {
		log = zap.NewNop()
	}
	if rec == nil {
		rec = metrics.Nop{}
	}
	return &Broadcaster{
		clients:    make(map[*client]bool),
		maxConns:   maxConns,
		sendBuffer: sendBuffer,
		log:        log,
		metrics:    rec,
	}
}

// AddClient registers conn and starts its write pump.
func (b *Broadcaster) AddClient(conn *websocket.Conn) (*client, error) {
	b.mu.Lock()
	if b.stopped {
		b.mu.Unlock()
		return nil, ErrStopped
	}
	if b.maxConns > 0 && len(b.clients) >= b.maxConns {
		b.mu.Unlock()
		b.metrics.ConnectionRejected("limit")
		return nil, ErrTooManyConnections
	}
	c := &client{conn: conn, b: b, send: make(chan []byte, b.sendBuffer)}
	b.clients[c] = true
	b.mu.Unlock()

	b.metrics.ClientConnected()
	go c.writePump()
	return c, nil
}

func (b *Broadcaster) RemoveClient(c *client) {
	b.mu.Lock()
	_, ok := b.clients[c]
	if ok {
		delete(b.clients, c)
		close(c.send)
	}
	b.mu.Unlock()
	if ok {
		b.metrics.ClientDisconnected()
	}
}

// Publish marshals payload and broadcasts it as event.
func (b *Broadcaster) Publish(event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", event, err)
	}
	return b.PublishRaw(event, data)
}

// PublishRaw broadcasts an already encoded payload. Every envelope gets the
// next sequence number, whether or not anybody is listening, and every client
// receives envelopes in sequence order.
func (b *Broadcaster) PublishRaw(event string, data json.RawMessage) error {
	b.pubMu.Lock()
	defer b.pubMu.Unlock()

	seq := b.seq.Load() + 1
	msg, err := json.Marshal(wire.Envelope{Event: event, Seq: seq, Data: data})
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	b.seq.Store(seq)

	b.mu.RLock()
	clients := make([]*client, 0, len(b.clients))
	for c := range b.clients {
		clients = append(clients, c)
	}
	b.mu.RUnlock()

	b.metrics.Broadcast(event)
	for _, c := range clients {
		if !b.offer(c, msg) {
			b.log.Warn("ws client too slow, disconnecting", zap.String("event", event))
			b.metrics.SlowClientEvicted()
			b.RemoveClient(c)
		}
	}
	return nil
}

// offer queues msg without blocking. The read lock keeps RemoveClient from
// closing send underneath the write.
func (b *Broadcaster) offer(c *client, msg []byte) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if !b.clients[c] {
		return true
	}
	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

// Seq returns the sequence number of the last published envelope.
func (b *Broadcaster) Seq() uint64 { return b.seq.Load() }

func (b *Broadcaster) ClientCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}

// Stop disconnects every client and rejects new ones.
func (b *Broadcaster) Stop() {
	b.mu.Lock()
	b.stopped = true
	clients := b.clients
	b.clients = make(map[*client]bool)
	for c := range clients {
		close(c.send)
	}
	b.mu.Unlock()
	for range clients {
		b.metrics.ClientDisconnected()
	}
}
