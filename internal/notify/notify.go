// Package notify keeps the short-lived toast messages raised by socket
// events.
package notify

import (
	"sync"
	"time"

	"github.com/storefront/livesync/internal/clock"
)

// Level is the severity of a toast.
type Level int

const (
	Info Level = iota
	Success
	Warn
	Error
)

func (l Level) String() string {
	switch l {
	case Success:
		return "success"
	case Warn:
		return "warn"
	case Error:
		return "error"
	default:
		return "info"
	}
}

// Toast is one notification.
type Toast struct {
	ID        uint64
	Level     Level
	Message   string
	CreatedAt time.Time
	ExpiresAt time.Time
}

const (
	DefaultTTL = 4 * time.Second
	DefaultMax = 5
)

// Center is a bounded toast queue. The oldest toast is evicted when full.
type Center struct {
	clock clock.Clock
	ttl   time.Duration
	limit int

	mu     sync.Mutex
	nextID uint64
	toasts []Toast
	notify func()
}

// NewCenter returns a Center. Non-positive ttl or limit use the defaults.
func NewCenter(c clock.Clock, ttl time.Duration, limit int) *Center {
	if c == nil {
		c = clock.Real()
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if limit <= 0 {
		limit = DefaultMax
	}
	return &Center{clock: c, ttl: ttl, limit: limit}
}

// OnPush registers fn to run after every Push, outside the lock.
func (c *Center) OnPush(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.notify = fn
}

// Push adds a toast and returns it.
func (c *Center) Push(level Level, msg string) Toast {
	now := c.clock.Now()

	c.mu.Lock()
	c.nextID++
	t := Toast{ID: c.nextID, Level: level, Message: msg, CreatedAt: now, ExpiresAt: now.Add(c.ttl)}
	c.toasts = append(c.toasts, t)
	if len(c.toasts) > c.limit {
		c.toasts = append([]Toast(nil), c.toasts[len(c.toasts)-c.limit:]...)
	}
	fn := c.notify
	c.mu.Unlock()

	if fn != nil {
		fn()
	}
	return t
}

func (c *Center) Info(msg string) Toast    { return c.Push(Info, msg) }
func (c *Center) Success(msg string) Toast { return c.Push(Success, msg) }
func (c *Center) Warn(msg string) Toast    { return c.Push(Warn, msg) }
func (c *Center) Error(msg string) Toast   { return c.Push(Error, msg) }

// Active drops expired toasts and returns the rest, newest first.
func (c *Center) Active() []Toast {
	now := c.clock.Now()

	c.mu.Lock()
	defer c.mu.Unlock()
	live := c.toasts[:0]
	for _, t := range c.toasts {
		if now.Before(t.ExpiresAt) {
			live = append(live, t)
		}
	}
	c.toasts = live

	out := make([]Toast, len(live))
	for i, t := range live {
		out[len(live)-1-i] = t
	}
	return out
}

// Dismiss removes the toast with id.
func (c *Center) Dismiss(id uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, t := range c.toasts {
		if t.ID == id {
			c.toasts = append(c.toasts[:i], c.toasts[i+1:]...)
			return
		}
	}
}
