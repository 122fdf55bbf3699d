package relay

import (
	"context"
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/storefront/livesync/internal/wire"
)

type rawRecorder struct {
	events chan wire.Envelope
}

func (r *rawRecorder) PublishRaw(event string, data json.RawMessage) error {
	r.events <- wire.Envelope{Event: event, Data: data}
	return nil
}

func TestRedisSource_HandleAppliesThenPublishes(t *testing.T) {
	store := NewStore()
	rec := &rawRecorder{events: make(chan wire.Envelope, 1)}
	src := NewRedisSource(nil, "events", store, rec, nil)

	err := src.handle(`{"event":"newOrder","data":{"id":"o1","status":"pending"}}`)
	require.NoError(t, err)

	_, ok := store.Order("o1")
	assert.True(t, ok)
	env := <-rec.events
	assert.Equal(t, wire.EventNewOrder, env.Event)
	assert.JSONEq(t, `{"id":"o1","status":"pending"}`, string(env.Data))
}

func TestRedisSource_HandleRejects(t *testing.T) {
	rec := &rawRecorder{events: make(chan wire.Envelope, 1)}
	src := NewRedisSource(nil, "events", NewStore(), rec, nil)

	for _, payload := range []string{
		`not json`,
		`{"data":{}}`,
		`{"event":"newOrder","data":{"status":"pending"}}`,
	} {
		assert.Error(t, src.handle(payload), payload)
	}
	assert.Empty(t, rec.events)
}

func TestRedisSource_EventWithoutData(t *testing.T) {
	rec := &rawRecorder{events: make(chan wire.Envelope, 1)}
	src := NewRedisSource(nil, "events", NewStore(), rec, nil)

	require.NoError(t, src.handle(`{"event":"analytics:updated"}`))
	assert.Equal(t, "{}", string((<-rec.events).Data))
}

// TestRedisRoundTrip needs a live server: LIVESYNC_TEST_REDIS_ADDR=127.0.0.1:6379.
func TestRedisRoundTrip(t *testing.T) {
	addr := os.Getenv("LIVESYNC_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("LIVESYNC_TEST_REDIS_ADDR not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := NewRedisClient(ctx, RedisConfig{Addr: addr})
	require.NoError(t, err)
	defer client.Close()

	channel := "livesync-test:" + t.Name()
	store := NewStore()
	rec := &rawRecorder{events: make(chan wire.Envelope, 1)}
	src := NewRedisSource(client, channel, store, rec, nil)

	runCtx, stop := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() { done <- src.Run(runCtx) }()

	require.Eventually(t, func() bool {
		n, err := client.PubSubNumSub(ctx, channel).Result()
		return err == nil && n[channel] > 0
	}, 5*time.Second, 20*time.Millisecond)

	pub := NewRedisPublisher(client, channel)
	require.NoError(t, pub.Publish(ctx, wire.EventProductCreated, wire.Product{ID: "p1", Name: "Lamp"}))

	select {
	case env := <-rec.events:
		assert.Equal(t, wire.EventProductCreated, env.Event)
	case <-time.After(5 * time.Second):
		t.Fatal("event not relayed")
	}
	_, ok := store.Product("p1")
	assert.True(t, ok)

	stop()
	assert.ErrorIs(t, <-done, context.Canceled)
}

func TestNewRedisClient_Unreachable(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := NewRedisClient(ctx, RedisConfig{Addr: "127.0.0.1:1"})
	assert.Error(t, err)
}
