// Package dispatch routes named socket events to their handlers.
package dispatch

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/storefront/livesync/internal/metrics"
)

// ErrMalformedPayload wraps payload decode failures.
var ErrMalformedPayload = errors.New("malformed payload")

// HandlerFunc handles one event payload.
type HandlerFunc func(payload json.RawMessage) error

// Router is a registry of handlers keyed by event name. Dispatch is
// synchronous so events are applied in arrival order.
type Router struct {
	log     *zap.Logger
	metrics metrics.Recorder

	mu        sync.RWMutex
	handlers  map[string][]HandlerFunc
	observers []func(name string, payload json.RawMessage)
}

// NewRouter returns an empty Router.
func NewRouter(log *zap.Logger, rec metrics.Recorder) *Router {
	if log == nil {
		log = zap.NewNop()
	}
	if rec == nil {
		rec = metrics.Nop{}
	}
	return &Router{log: log, metrics: rec, handlers: make(map[string][]HandlerFunc)}
}

// Handle registers h for name. Several handlers per name run in
// registration order.
func (r *Router) Handle(name string, h HandlerFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[name] = append(r.handlers[name], h)
}

// Observe registers fn to see every event before handlers run.
func (r *Router) Observe(fn func(name string, payload json.RawMessage)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.observers = append(r.observers, fn)
}

// Events returns the names with at least one handler.
func (r *Router) Events() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Dispatch runs the handlers for name. Handler errors and panics are logged
// and never propagate.
func (r *Router) Dispatch(name string, payload json.RawMessage) {
	r.mu.RLock()
	handlers := r.handlers[name]
	observers := r.observers
	r.mu.RUnlock()

	r.metrics.EventReceived(name)
	for _, fn := range observers {
		fn(name, payload)
	}

	if len(handlers) == 0 {
		r.log.Debug("no handler for event", zap.String("event", name))
		r.metrics.EventDropped(name, "unhandled")
		return
	}
	for _, h := range handlers {
		if err := r.invoke(name, h, payload); err != nil {
			reason := "handler_error"
			if errors.Is(err, ErrMalformedPayload) {
				reason = "malformed"
			}
			r.metrics.EventDropped(name, reason)
			r.log.Warn("event handler failed",
				zap.String("event", name),
				zap.Error(err),
			)
		}
	}
}

func (r *Router) invoke(name string, h HandlerFunc, payload json.RawMessage) (err error) {
	defer func() {
		if p := recover(); p != nil {
			r.log.Error("event handler panicked",
				zap.String("event", name),
				zap.Any("panic", p),
			)
			err = fmt.Errorf("handler panic: %v", p)
		}
	}()
	return h(payload)
}

// On registers a handler that receives the payload decoded into T.
func On[T any](r *Router, name string, fn func(T) error) {
	r.Handle(name, func(payload json.RawMessage) error {
		var v T
		if err := json.Unmarshal(payload, &v); err != nil {
			return fmt.Errorf("%w: %s: %v", ErrMalformedPayload, name, err)
		}
		return fn(v)
	})
}
