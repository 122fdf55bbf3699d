package transport

import "time"

// Options configures a Dialer. Zero durations fall back to DefaultOptions;
// start from DefaultOptions to keep Reconnection enabled.
type Options struct {
	// Endpoints are socket URLs tried in preference order on every
	// connection attempt.
	Endpoints []string

	// Timeout bounds a single handshake.
	Timeout time.Duration

	// Reconnection enables automatic retry after an established link drops.
	// Initial handshake failures are never retried.
	Reconnection bool
	// ReconnectionAttempts caps the retries per drop. Zero or less retries
	// forever.
	ReconnectionAttempts int
	ReconnectionDelay    time.Duration
	ReconnectionDelayMax time.Duration

	PingInterval time.Duration
	PongTimeout  time.Duration
}

// DefaultOptions returns the stock transport settings.
func DefaultOptions() Options {
	return Options{
		Timeout:              10 * time.Second,
		Reconnection:         true,
		ReconnectionAttempts: 5,
		ReconnectionDelay:    time.Second,
		ReconnectionDelayMax: 5 * time.Second,
		PingInterval:         30 * time.Second,
		PongTimeout:          60 * time.Second,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.Timeout <= 0 {
		o.Timeout = d.Timeout
	}
	if o.ReconnectionDelay <= 0 {
		o.ReconnectionDelay = d.ReconnectionDelay
	}
	if o.ReconnectionDelayMax < o.ReconnectionDelay {
		o.ReconnectionDelayMax = max(d.ReconnectionDelayMax, o.ReconnectionDelay)
	}
	if o.PingInterval <= 0 {
		o.PingInterval = d.PingInterval
	}
	if o.PongTimeout <= 0 {
		o.PongTimeout = d.PongTimeout
	}
	return o
}

// Backoff returns the wait before retry number attempt (zero based): floor
// doubled per attempt and capped at ceiling.
func Backoff(attempt int, floor, ceiling time.Duration) time.Duration {
	delay := floor
	for i := 0; i < attempt; i++ {
		delay *= 2
		if delay >= ceiling {
			return ceiling
		}
	}
	return min(delay, ceiling)
}
