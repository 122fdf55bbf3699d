// Package metrics exposes Prometheus collectors for the dashboard sync layer
// and the relay.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder is the client-side metrics surface used by the connection
// manager, the event router and the query cache.
type Recorder interface {
	ConnectionTransition(from, to string)
	EventReceived(name string)
	EventDropped(name, reason string)
	Invalidation(key string)
	Refetch(key string, err error, took time.Duration)
}

// RelayRecorder is the relay-side metrics surface.
type RelayRecorder interface {
	ClientConnected()
	ClientDisconnected()
	ConnectionRejected(reason string)
	Broadcast(event string)
	SlowClientEvicted()
}

// Nop discards everything.
type Nop struct{}

func (Nop) ConnectionTransition(string, string)  {}
func (Nop) EventReceived(string)                 {}
func (Nop) EventDropped(string, string)          {}
func (Nop) Invalidation(string)                  {}
func (Nop) Refetch(string, error, time.Duration) {}
func (Nop) ClientConnected()                     {}
func (Nop) ClientDisconnected()                  {}
func (Nop) ConnectionRejected(string)            {}
func (Nop) Broadcast(string)                     {}
func (Nop) SlowClientEvicted()                   {}

// Collector implements Recorder and RelayRecorder on Prometheus metrics.
type Collector struct {
	transitions    *prometheus.CounterVec
	state          *prometheus.GaugeVec
	events         *prometheus.CounterVec
	dropped        *prometheus.CounterVec
	invalidations  *prometheus.CounterVec
	refetches      *prometheus.CounterVec
	refetchLatency *prometheus.HistogramVec

	clients    prometheus.Gauge
	rejected   *prometheus.CounterVec
	broadcasts *prometheus.CounterVec
	evicted    prometheus.Counter
}

// NewCollector creates a Collector and registers it with reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "livesync_connection_transitions_total",
			Help: "Connection state transitions.",
		}, []string{"from", "to"}),
		state: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "livesync_connection_state",
			Help: "1 for the current connection state, 0 otherwise.",
		}, []string{"state"}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "livesync_events_received_total",
			Help: "Named events received from the socket.",
		}, []string{"event"}),
		dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "livesync_events_dropped_total",
			Help: "Events that were not applied.",
		}, []string{"event", "reason"}),
		invalidations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "livesync_cache_invalidations_total",
			Help: "Query cache invalidations by key.",
		}, []string{"key"}),
		refetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "livesync_refetch_total",
			Help: "Completed refetches by key and result.",
		}, []string{"key", "result"}),
		refetchLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "livesync_refetch_latency_seconds",
			Help:    "Refetch latency in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"key"}),
		clients: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "livesync_relay_clients",
			Help: "Connected relay sockets.",
		}),
		rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "livesync_relay_rejected_total",
			Help: "Rejected socket upgrades by reason.",
		}, []string{"reason"}),
		broadcasts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "livesync_relay_broadcasts_total",
			Help: "Events fanned out by the relay.",
		}, []string{"event"}),
		evicted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "livesync_relay_slow_clients_evicted_total",
			Help: "Clients dropped because their send buffer was full.",
		}),
	}

	reg.MustRegister(
		c.transitions,
		c.state,
		c.events,
		c.dropped,
		c.invalidations,
		c.refetches,
		c.refetchLatency,
		c.clients,
		c.rejected,
		c.broadcasts,
		c.evicted,
	)
	return c
}

func (c *Collector) ConnectionTransition(from, to string) {
	c.transitions.WithLabelValues(from, to).Inc()
	c.state.WithLabelValues(from).Set(0)
	c.state.WithLabelValues(to).Set(1)
}

func (c *Collector) EventReceived(name string) {
	c.events.WithLabelValues(name).Inc()
}

func (c *Collector) EventDropped(name, reason string) {
	c.dropped.WithLabelValues(name, reason).Inc()
}

func (c *Collector) Invalidation(key string) {
	c.invalidations.WithLabelValues(key).Inc()
}

func (c *Collector) Refetch(key string, err error, took time.Duration) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	c.refetches.WithLabelValues(key, result).Inc()
	c.refetchLatency.WithLabelValues(key).Observe(took.Seconds())
}

func (c *Collector) ClientConnected()    { c.clients.Inc() }
func (c *Collector) ClientDisconnected() { c.clients.Dec() }

func (c *Collector) ConnectionRejected(reason string) {
	c.rejected.WithLabelValues(reason).Inc()
}

func (c *Collector) Broadcast(event string) {
	c.broadcasts.WithLabelValues(event).Inc()
}

func (c *Collector) SlowClientEvicted() { c.evicted.Inc() }

// Handler returns the scrape handler for gatherer.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
