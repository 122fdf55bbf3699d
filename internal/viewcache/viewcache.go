// Package viewcache keeps a view's entity list eventually consistent with
// the server: socket events patch the list immediately, mark the touched
// entity as in flight for a short window, and invalidate the backing query
// so a refetch can reconcile the list with server truth.
package viewcache

import (
	"errors"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/storefront/livesync/internal/clock"
)

// DefaultMarkerTTL is how long an entity stays marked as in flight.
const DefaultMarkerTTL = 2 * time.Second

var (
	ErrMissingQueryKey       = errors.New("viewcache: query key is required")
	ErrMissingID             = errors.New("viewcache: id function is required")
	ErrMissingStatusSetter   = errors.New("viewcache: status setter is required")
	ErrMissingTerminalStatus = errors.New("viewcache: terminal status is required")
	ErrMissingInvalidator    = errors.New("viewcache: invalidator is required")
)

// Invalidator marks a server-state query stale. It must not block on the
// refetch it triggers.
type Invalidator interface {
	Invalidate(key string)
}

// InvalidatorFunc adapts a function to Invalidator.
type InvalidatorFunc func(key string)

func (f InvalidatorFunc) Invalidate(key string) { f(key) }

// Config describes one view. QueryKey, ID, SetStatus, TerminalStatus and
// Invalidator are required.
type Config[T any] struct {
	QueryKey string
	ID       func(T) string
	// SetStatus returns a copy of the entity with its status replaced.
	SetStatus      func(T, string) T
	TerminalStatus string
	// MaxLen bounds the list; creates beyond it drop the oldest entries.
	// Zero means unbounded.
	MaxLen    int
	MarkerTTL time.Duration

	Invalidator Invalidator
	Clock       clock.Clock
	// OnChange runs after every change to the list or the markers, outside
	// the cache lock.
	OnChange func()
	Logger   *zap.Logger
}

type marker struct {
	at    time.Time
	timer clock.Timer
}

// Cache is one view's reconciled list. All methods are safe for concurrent
// use; mutations are applied in call order.
type Cache[T any] struct {
	cfg Config[T]
	log *zap.Logger

	mu    sync.Mutex
	items []T
	// touched holds when each id was last changed by a local patch.
	touched map[string]time.Time
	// created holds ids created locally that no refetch has confirmed yet.
	created map[string]time.Time
	markers map[string]*marker
	closed  bool
}

// New validates cfg and returns an empty Cache.
func New[T any](cfg Config[T]) (*Cache[T], error) {
	switch {
	case cfg.QueryKey == "":
		return nil, ErrMissingQueryKey
	case cfg.ID == nil:
		return nil, ErrMissingID
	case cfg.SetStatus == nil:
		return nil, ErrMissingStatusSetter
	case cfg.TerminalStatus == "":
		return nil, ErrMissingTerminalStatus
	case cfg.Invalidator == nil:
		return nil, ErrMissingInvalidator
	}
	if cfg.MarkerTTL <= 0 {
		cfg.MarkerTTL = DefaultMarkerTTL
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Cache[T]{
		cfg:     cfg,
		log:     log.With(zap.String("view", cfg.QueryKey)),
		touched: make(map[string]time.Time),
		created: make(map[string]time.Time),
		markers: make(map[string]*marker),
	}, nil
}

// QueryKey returns the key this view invalidates.
func (c *Cache[T]) QueryKey() string { return c.cfg.QueryKey }

// ApplyCreate puts entity at the head of the list and invalidates the
// query. An entity already listed under the same id is moved to the head.
func (c *Cache[T]) ApplyCreate(entity T) {
	id := c.cfg.ID(entity)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	now := c.cfg.Clock.Now()
	if i := c.indexLocked(id); i >= 0 {
		c.items = append(c.items[:i], c.items[i+1:]...)
	}
	c.items = append([]T{entity}, c.items...)
	c.created[id] = now
	c.touched[id] = now
	c.trimLocked()
	c.mu.Unlock()

	c.cfg.Invalidator.Invalidate(c.cfg.QueryKey)
	c.changed()
}

// ApplyStatusPatch sets the status of id in place and marks it in flight.
// An id that is not listed is left alone; the query is invalidated either
// way.
func (c *Cache[T]) ApplyStatusPatch(id, status string) {
	c.patch(id, func(e T) T { return c.cfg.SetStatus(e, status) }, true)
}

// ApplyPatch applies fn to the listed entity with id and marks it in flight.
func (c *Cache[T]) ApplyPatch(id string, fn func(T) T) {
	c.patch(id, fn, true)
}

// ApplyRemoveOrDelete sets the terminal status on id in place and marks it
// in flight. The entity keeps its position and the list length is unchanged.
func (c *Cache[T]) ApplyRemoveOrDelete(id string) {
	c.patch(id, func(e T) T { return c.cfg.SetStatus(e, c.cfg.TerminalStatus) }, true)
}

func (c *Cache[T]) patch(id string, fn func(T) T, mark bool) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	i := c.indexLocked(id)
	if i >= 0 {
		now := c.cfg.Clock.Now()
		c.items[i] = fn(c.items[i])
		c.touched[id] = now
		if mark {
			c.markLocked(id, now)
		}
	} else {
		c.log.Debug("patch for unlisted entity", zap.String("id", id))
	}
	c.mu.Unlock()

	c.cfg.Invalidator.Invalidate(c.cfg.QueryKey)
	if i >= 0 {
		c.changed()
	}
}

// Refresh only invalidates the query.
func (c *Cache[T]) Refresh() {
	c.cfg.Invalidator.Invalidate(c.cfg.QueryKey)
}

// ReconcileFromServer merges a freshly fetched list into the view.
// requestedAt is when the fetch was requested; the zero time means unknown.
//
// For ids present on both sides the server copy wins unless the local copy
// was patched after requestedAt. Local creates missing from the server list
// are kept, ahead of the server entries, when they were observed after
// requestedAt (or requestedAt is unknown); otherwise the fetch contradicts
// them and they are dropped. Every other local entry is replaced.
func (c *Cache[T]) ReconcileFromServer(list []T, requestedAt time.Time) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	newer := func(t time.Time) bool { return !requestedAt.IsZero() && t.After(requestedAt) }

	local := make(map[string]T, len(c.items))
	for _, it := range c.items {
		local[c.cfg.ID(it)] = it
	}

	onServer := make(map[string]struct{}, len(list))
	merged := make([]T, 0, len(list))
	for _, s := range list {
		id := c.cfg.ID(s)
		if _, dup := onServer[id]; dup {
			continue
		}
		onServer[id] = struct{}{}
		delete(c.created, id)

		if l, ok := local[id]; ok && newer(c.touched[id]) {
			merged = append(merged, l)
			continue
		}
		delete(c.touched, id)
		merged = append(merged, s)
	}

	var kept []T
	for _, it := range c.items {
		id := c.cfg.ID(it)
		if _, ok := onServer[id]; ok {
			continue
		}
		createdAt, isLocal := c.created[id]
		if isLocal && (requestedAt.IsZero() || createdAt.After(requestedAt)) {
			kept = append(kept, it)
			continue
		}
		if isLocal {
			c.log.Debug("refetch contradicts local create", zap.String("id", id))
		}
		delete(c.created, id)
		delete(c.touched, id)
	}

	c.items = append(kept, merged...)
	c.trimLocked()
	c.mu.Unlock()

	c.changed()
}

// Items returns a copy of the list, newest first.
func (c *Cache[T]) Items() []T {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]T(nil), c.items...)
}

// Len returns the number of listed entities.
func (c *Cache[T]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// Get returns the listed entity with id.
func (c *Cache[T]) Get(id string) (T, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if i := c.indexLocked(id); i >= 0 {
		return c.items[i], true
	}
	var zero T
	return zero, false
}

// InFlight reports whether id carries an in-flight marker.
func (c *Cache[T]) InFlight(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.markers[id]
	return ok
}

// InFlightIDs returns the marked ids in sorted order.
func (c *Cache[T]) InFlightIDs() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	ids := make([]string, 0, len(c.markers))
	for id := range c.markers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Close stops pending marker timers. Later calls are ignored.
func (c *Cache[T]) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	for id, m := range c.markers {
		m.timer.Stop()
		delete(c.markers, id)
	}
}

// markLocked sets or restarts the in-flight marker for id.
func (c *Cache[T]) markLocked(id string, now time.Time) {
	if old, ok := c.markers[id]; ok {
		old.timer.Stop()
	}
	m := &marker{at: now}
	m.timer = c.cfg.Clock.AfterFunc(c.cfg.MarkerTTL, func() { c.expire(id, m) })
	c.markers[id] = m
}

func (c *Cache[T]) expire(id string, m *marker) {
	c.mu.Lock()
	if c.markers[id] != m {
		c.mu.Unlock()
		return
	}
	delete(c.markers, id)
	c.mu.Unlock()
	c.changed()
}

func (c *Cache[T]) indexLocked(id string) int {
	for i, it := range c.items {
		if c.cfg.ID(it) == id {
			return i
		}
	}
	return -1
}

func (c *Cache[T]) trimLocked() {
	if c.cfg.MaxLen <= 0 || len(c.items) <= c.cfg.MaxLen {
		return
	}
	for _, it := range c.items[c.cfg.MaxLen:] {
		id := c.cfg.ID(it)
		delete(c.created, id)
		delete(c.touched, id)
	}
	c.items = c.items[:c.cfg.MaxLen:c.cfg.MaxLen]
}

func (c *Cache[T]) changed() {
	if c.cfg.OnChange != nil {
		c.cfg.OnChange()
	}
}
