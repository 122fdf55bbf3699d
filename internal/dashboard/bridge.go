package dashboard

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/storefront/livesync/internal/clock"
	"github.com/storefront/livesync/internal/connection"
)

// StatusMsg carries a connection transition.
type StatusMsg struct {
	Status connection.Status
}

// ViewsChangedMsg reports that a list, marker or the aggregate changed.
type ViewsChangedMsg struct{}

// EventMsg reports a named event received from the socket.
type EventMsg struct {
	Name string
	Size int
	At   time.Time
}

// ToastsChangedMsg reports a new toast.
type ToastsChangedMsg struct{}

// Bridge turns callbacks from socket, timer and fetch goroutines into
// messages for a running program. Posting never blocks the caller, so it is
// safe from inside Update. Messages posted before Attach are dropped; the
// model reads current state when it starts.
type Bridge struct {
	clock clock.Clock

	mu   sync.RWMutex
	send func(tea.Msg)

	// viewsPending coalesces bursts of view changes into one message.
	viewsPending atomic.Bool
}

// NewBridge returns an unattached Bridge.
func NewBridge(c clock.Clock) *Bridge {
	if c == nil {
		c = clock.Real()
	}
	return &Bridge{clock: c}
}

// Attach starts forwarding to send, usually (*tea.Program).Send.
func (b *Bridge) Attach(send func(tea.Msg)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.send = send
}

func (b *Bridge) sender() func(tea.Msg) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.send
}

func (b *Bridge) post(msg tea.Msg) {
	if send := b.sender(); send != nil {
		go send(msg)
	}
}

// Status is a connection.Manager listener.
func (b *Bridge) Status(st connection.Status) {
	b.post(StatusMsg{Status: st})
}

// ViewsChanged is the admin.Views change hook.
func (b *Bridge) ViewsChanged() {
	send := b.sender()
	if send == nil || !b.viewsPending.CompareAndSwap(false, true) {
		return
	}
	go func() {
		send(ViewsChangedMsg{})
		b.viewsPending.Store(false)
	}()
}

// Event is a dispatch.Router observer.
func (b *Bridge) Event(name string, payload json.RawMessage) {
	b.post(EventMsg{Name: name, Size: len(payload), At: b.clock.Now()})
}

// ToastPushed is the notify.Center push hook.
func (b *Bridge) ToastPushed() {
	b.post(ToastsChangedMsg{})
}
