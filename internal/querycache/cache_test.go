package querycache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestCache(t *testing.T) *Cache {
	t.Helper()
	c := New(Config{Logger: zap.NewNop()})
	t.Cleanup(c.Close)
	return c
}

func collect(c *Cache, key string) (<-chan Result, func()) {
	ch := make(chan Result, 16)
	cancel := c.Subscribe(key, func(r Result) { ch <- r })
	return ch, cancel
}

func next(t *testing.T, ch <-chan Result) Result {
	t.Helper()
	select {
	case r := <-ch:
		return r
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for result")
		return Result{}
	}
}

func TestInvalidate_FetchesAndPublishes(t *testing.T) {
	c := newTestCache(t)
	c.Register("orders", func(context.Context) (any, error) { return []string{"O1"}, nil })
	ch, _ := collect(c, "orders")

	before := time.Now()
	c.Invalidate("orders")
	r := next(t, ch)

	require.NoError(t, r.Err)
	assert.Equal(t, SourceFetch, r.Source)
	assert.Equal(t, []string{"O1"}, r.Value)
	assert.False(t, r.RequestedAt.Before(before))
	assert.False(t, r.ReceivedAt.Before(r.RequestedAt))

	got, ok := c.Get("orders")
	assert.True(t, ok)
	v, ok := Typed[[]string](got)
	assert.True(t, ok)
	assert.Equal(t, []string{"O1"}, v)
}

func TestInvalidate_LatestWins(t *testing.T) {
	c := newTestCache(t)
	release := []chan struct{}{make(chan struct{}), make(chan struct{})}
	var calls atomic.Int32
	c.Register("orders", func(ctx context.Context) (any, error) {
		n := calls.Add(1) - 1
		<-release[n]
		return int(n), nil
	})
	ch, _ := collect(c, "orders")

	c.Invalidate("orders")
	require.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, time.Millisecond)
	c.Invalidate("orders")
	require.Eventually(t, func() bool { return calls.Load() == 2 }, time.Second, time.Millisecond)

	close(release[1])
	r := next(t, ch)
	assert.Equal(t, 1, r.Value)
	assert.Equal(t, uint64(2), r.Generation)

	// The first fetch resolves late and must not overwrite the newer value.
	close(release[0])
	select {
	case r := <-ch:
		t.Fatalf("superseded result was published: %+v", r)
	case <-time.After(50 * time.Millisecond):
	}
	got, _ := c.Get("orders")
	assert.Equal(t, 1, got.Value)
}

func TestInvalidate_DeliveryNeverGoesBackwards(t *testing.T) {
	c := newTestCache(t)
	var calls atomic.Int32
	c.Register("orders", func(context.Context) (any, error) {
		return int(calls.Add(1)), nil
	})

	// The first subscriber stalls on the first result it sees.
	stalled := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	c.Subscribe("orders", func(Result) {
		once.Do(func() {
			close(stalled)
			<-release
		})
	})

	var mu sync.Mutex
	var seen []uint64
	c.Subscribe("orders", func(r Result) {
		mu.Lock()
		seen = append(seen, r.Generation)
		mu.Unlock()
	})

	c.Invalidate("orders")
	<-stalled
	c.Invalidate("orders")
	require.Eventually(t, func() bool { return calls.Load() == 2 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(release)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) > 0 && seen[len(seen)-1] == 2
	}, time.Second, time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	for i := 1; i < len(seen); i++ {
		assert.Greater(t, seen[i], seen[i-1], "generations delivered: %v", seen)
	}
}

func TestInvalidate_CancelsSupersededFetch(t *testing.T) {
	c := newTestCache(t)
	cancelled := make(chan struct{})
	var calls atomic.Int32
	c.Register("orders", func(ctx context.Context) (any, error) {
		if calls.Add(1) == 1 {
			<-ctx.Done()
			close(cancelled)
			return nil, ctx.Err()
		}
		return "fresh", nil
	})

	c.Invalidate("orders")
	require.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, time.Millisecond)
	c.Invalidate("orders")

	select {
	case <-cancelled:
	case <-time.After(time.Second):
		t.Fatal("first fetch was not cancelled")
	}
}

func TestInvalidate_ErrorKeepsPreviousValue(t *testing.T) {
	c := newTestCache(t)
	var fail atomic.Bool
	c.Register("orders", func(context.Context) (any, error) {
		if fail.Load() {
			return nil, errors.New("503")
		}
		return "good", nil
	})
	ch, _ := collect(c, "orders")

	c.Invalidate("orders")
	next(t, ch)
	fail.Store(true)
	c.Invalidate("orders")
	r := next(t, ch)

	assert.EqualError(t, r.Err, "503")
	assert.Equal(t, "good", r.Value)
}

func TestInvalidate_UnregisteredKeyIsHarmless(t *testing.T) {
	c := newTestCache(t)
	assert.NotPanics(t, func() { c.Invalidate("nothing") })
	r, ok := c.Get("nothing")
	assert.False(t, ok)
	assert.Equal(t, uint64(1), r.Generation)
}

func TestSetCachedValue(t *testing.T) {
	c := newTestCache(t)
	ch, cancel := collect(c, "analytics")

	c.SetCachedValue("analytics", func(old any) any {
		assert.Nil(t, old)
		return 1
	})
	c.SetCachedValue("analytics", func(old any) any { return old.(int) + 1 })

	assert.Equal(t, 1, next(t, ch).Value)
	r := next(t, ch)
	assert.Equal(t, 2, r.Value)
	assert.Equal(t, SourceLocal, r.Source)

	cancel()
	c.SetCachedValue("analytics", func(any) any { return 3 })
	assert.Empty(t, ch)
}

func TestClose_WaitsForFetches(t *testing.T) {
	c := New(Config{})
	var wg sync.WaitGroup
	wg.Add(1)
	done := atomic.Bool{}
	c.Register("orders", func(ctx context.Context) (any, error) {
		wg.Done()
		<-ctx.Done()
		done.Store(true)
		return nil, ctx.Err()
	})
	c.Invalidate("orders")
	wg.Wait()

	c.Close()
	assert.True(t, done.Load())

	c.Invalidate("orders")
	c.Close()
}
