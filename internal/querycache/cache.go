// Package querycache is the server-state cache behind the reconciled views:
// keyed fetchers, invalidation-triggered refetch with latest-wins semantics,
// local cache writes and change subscriptions.
package querycache

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/storefront/livesync/internal/clock"
	"github.com/storefront/livesync/internal/metrics"
)

// Fetcher loads the authoritative value for a key.
type Fetcher func(ctx context.Context) (any, error)

// Source tells subscribers where a Result came from.
type Source int

const (
	SourceFetch Source = iota
	SourceLocal
)

// Result is a snapshot of one key.
type Result struct {
	Key    string
	Value  any
	Source Source
	// Err is the error of the most recent fetch; Value then still holds the
	// last good value.
	Err error
	// RequestedAt is when the invalidation that produced this result was
	// issued; ReceivedAt when the fetch completed.
	RequestedAt time.Time
	ReceivedAt  time.Time
	Generation  uint64
}

// Typed extracts a Result value of type T.
func Typed[T any](r Result) (T, bool) {
	v, ok := r.Value.(T)
	return v, ok
}

// Config wires a Cache.
type Config struct {
	Logger  *zap.Logger
	Metrics metrics.Recorder
	Clock   clock.Clock
	// FetchTimeout bounds one fetch. Defaults to 15s.
	FetchTimeout time.Duration
}

type entry struct {
	fetch       Fetcher
	gen         uint64
	cancel      context.CancelFunc
	value       any
	hasValue    bool
	err         error
	requestedAt time.Time
	receivedAt  time.Time
	subs        map[int]func(Result)
	nextSub     int

	// deliverMu serialises fetch results to subscribers; delivered is the
	// newest generation handed out.
	deliverMu sync.Mutex
	delivered uint64
}

// Cache is safe for concurrent use. Subscribers run on the goroutine that
// completed the fetch, outside the cache lock. Fetch results for one key
// reach subscribers one at a time and never in decreasing Generation.
type Cache struct {
	log     *zap.Logger
	metrics metrics.Recorder
	clock   clock.Clock
	timeout time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	entries map[string]*entry
	closed  bool
}

// New creates an empty Cache.
func New(cfg Config) *Cache {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Cache{
		log:     cfg.Logger,
		metrics: cfg.Metrics,
		clock:   cfg.Clock,
		timeout: cfg.FetchTimeout,
		ctx:     ctx,
		cancel:  cancel,
		entries: make(map[string]*entry),
	}
	if c.log == nil {
		c.log = zap.NewNop()
	}
	if c.metrics == nil {
		c.metrics = metrics.Nop{}
	}
	if c.clock == nil {
		c.clock = clock.Real()
	}
	if c.timeout <= 0 {
		c.timeout = 15 * time.Second
	}
	return c
}

func (c *Cache) entryLocked(key string) *entry {
	e, ok := c.entries[key]
	if !ok {
		e = &entry{subs: make(map[int]func(Result))}
		c.entries[key] = e
	}
	return e
}

// Register sets the fetcher for key. It does not fetch.
func (c *Cache) Register(key string, fetch Fetcher) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entryLocked(key).fetch = fetch
}

// Invalidate marks key stale and starts a refetch. A fetch still running
// for the key is cancelled and its result discarded.
func (c *Cache) Invalidate(key string) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	e := c.entryLocked(key)
	e.gen++
	e.requestedAt = c.clock.Now()
	if e.cancel != nil {
		e.cancel()
		e.cancel = nil
	}
	c.metrics.Invalidation(key)

	if e.fetch == nil {
		c.mu.Unlock()
		c.log.Debug("invalidated key without fetcher", zap.String("key", key))
		return
	}
	ctx, cancel := context.WithTimeout(c.ctx, c.timeout)
	e.cancel = cancel
	gen, fetch, requestedAt := e.gen, e.fetch, e.requestedAt
	c.wg.Add(1)
	c.mu.Unlock()

	go c.run(ctx, cancel, key, gen, fetch, requestedAt)
}

func (c *Cache) run(ctx context.Context, cancel context.CancelFunc, key string, gen uint64, fetch Fetcher, requestedAt time.Time) {
	defer c.wg.Done()
	defer cancel()

	started := c.clock.Now()
	value, err := fetch(ctx)
	received := c.clock.Now()

	c.mu.Lock()
	e := c.entries[key]
	if c.closed || e.gen != gen {
		c.mu.Unlock()
		c.log.Debug("discarding superseded fetch", zap.String("key", key), zap.Uint64("generation", gen))
		return
	}
	e.cancel = nil
	e.err = err
	if err == nil {
		e.value = value
		e.hasValue = true
		e.receivedAt = received
	}
	res := c.resultLocked(key, e)
	res.Source = SourceFetch
	res.RequestedAt = requestedAt
	res.ReceivedAt = received
	subs := subscribers(e)
	c.mu.Unlock()

	c.metrics.Refetch(key, err, received.Sub(started))
	if err != nil {
		c.log.Warn("refetch failed", zap.String("key", key), zap.Error(err))
	}

	e.deliverMu.Lock()
	defer e.deliverMu.Unlock()
	if gen < e.delivered {
		c.log.Debug("discarding result overtaken during delivery", zap.String("key", key), zap.Uint64("generation", gen))
		return
	}
	e.delivered = gen
	for _, fn := range subs {
		fn(res)
	}
}

// SetCachedValue replaces the value of key with updater(old). old is nil
// when nothing is cached. Subscribers see a SourceLocal result.
func (c *Cache) SetCachedValue(key string, updater func(old any) any) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	e := c.entryLocked(key)
	e.value = updater(e.value)
	e.hasValue = true
	res := c.resultLocked(key, e)
	res.Source = SourceLocal
	subs := subscribers(e)
	c.mu.Unlock()

	for _, fn := range subs {
		fn(res)
	}
}

// Get returns the cached state of key and whether a value is present.
func (c *Cache) Get(key string) (Result, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return Result{Key: key}, false
	}
	return c.resultLocked(key, e), e.hasValue
}

// Subscribe registers fn for every applied result of key.
func (c *Cache) Subscribe(key string, fn func(Result)) (cancel func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e := c.entryLocked(key)
	id := e.nextSub
	e.nextSub++
	e.subs[id] = fn
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(e.subs, id)
	}
}

// Close cancels running fetches and waits for them to return.
func (c *Cache) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()

	c.cancel()
	c.wg.Wait()
}

func (c *Cache) resultLocked(key string, e *entry) Result {
	return Result{
		Key:         key,
		Value:       e.value,
		Err:         e.err,
		RequestedAt: e.requestedAt,
		ReceivedAt:  e.receivedAt,
		Generation:  e.gen,
	}
}

func subscribers(e *entry) []func(Result) {
	out := make([]func(Result), 0, len(e.subs))
	for id := 0; id < e.nextSub; id++ {
		if fn, ok := e.subs[id]; ok {
			out = append(out, fn)
		}
	}
	return out
}
