package dispatch

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"github.com/storefront/livesync/internal/metrics"
)

type ref struct {
	ID string `json:"id"`
}

func TestDispatch_TypedHandler(t *testing.T) {
	r := NewRouter(zap.NewNop(), nil)
	var got []string
	On(r, "product:deleted", func(p ref) error {
		got = append(got, p.ID)
		return nil
	})

	r.Dispatch("product:deleted", json.RawMessage(`{"id":"P1"}`))
	r.Dispatch("product:deleted", json.RawMessage(`{"id":"P2"}`))

	assert.Equal(t, []string{"P1", "P2"}, got)
	assert.Equal(t, []string{"product:deleted"}, r.Events())
}

func TestDispatch_MalformedPayloadIsDropped(t *testing.T) {
	reg := prometheus.NewRegistry()
	r := NewRouter(zap.NewNop(), metrics.NewCollector(reg))
	called := false
	On(r, "newOrder", func(ref) error {
		called = true
		return nil
	})

	assert.NotPanics(t, func() { r.Dispatch("newOrder", json.RawMessage(`{"id":`)) })
	assert.False(t, called)

	families, err := reg.Gather()
	assert.NoError(t, err)
	found := false
	for _, mf := range families {
		if mf.GetName() != "livesync_events_dropped_total" {
			continue
		}
		for _, m := range mf.GetMetric() {
			for _, l := range m.GetLabel() {
				if l.GetName() == "reason" && l.GetValue() == "malformed" {
					found = true
				}
			}
		}
	}
	assert.True(t, found, "malformed drop should be counted")
}

func TestDispatch_PanicAndErrorDoNotStopOtherHandlers(t *testing.T) {
	r := NewRouter(nil, nil)
	var ran []string
	r.Handle("x", func(json.RawMessage) error { panic("boom") })
	r.Handle("x", func(json.RawMessage) error { ran = append(ran, "second"); return errors.New("nope") })
	r.Handle("x", func(json.RawMessage) error { ran = append(ran, "third"); return nil })

	assert.NotPanics(t, func() { r.Dispatch("x", nil) })
	assert.Equal(t, []string{"second", "third"}, ran)
}

func TestDispatch_ObserversSeeUnhandledEvents(t *testing.T) {
	r := NewRouter(nil, nil)
	var seen []string
	r.Observe(func(name string, _ json.RawMessage) { seen = append(seen, name) })

	r.Dispatch("mystery", json.RawMessage(`{}`))

	assert.Equal(t, []string{"mystery"}, seen)
}
