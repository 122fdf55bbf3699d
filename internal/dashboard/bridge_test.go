package dashboard

import (
	"encoding/json"
	"sync/atomic"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/storefront/livesync/internal/clock"
	"github.com/storefront/livesync/internal/connection"
)

func receive(t *testing.T, ch <-chan tea.Msg) tea.Msg {
	t.Helper()
	select {
	case msg := <-ch:
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("no message forwarded")
		return nil
	}
}

func TestBridge_DropsBeforeAttach(t *testing.T) {
	b := NewBridge(nil)
	b.Status(connection.Status{State: connection.Connecting})
	b.ViewsChanged()
	b.ToastPushed()
	b.Event("newOrder", nil)
}

func TestBridge_Forwards(t *testing.T) {
	clk := clock.NewFake(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
	b := NewBridge(clk)
	ch := make(chan tea.Msg, 4)
	b.Attach(func(msg tea.Msg) { ch <- msg })

	b.Status(connection.Status{State: connection.Connected, Seq: 2})
	assert.Equal(t, StatusMsg{Status: connection.Status{State: connection.Connected, Seq: 2}}, receive(t, ch))

	b.Event("coupon:used", json.RawMessage(`{"couponId":"c1"}`))
	assert.Equal(t, EventMsg{Name: "coupon:used", Size: 17, At: clk.Now()}, receive(t, ch))

	b.ToastPushed()
	assert.Equal(t, ToastsChangedMsg{}, receive(t, ch))
}

func TestBridge_CoalescesViewChanges(t *testing.T) {
	b := NewBridge(nil)
	release := make(chan struct{})
	var sent atomic.Int32
	b.Attach(func(tea.Msg) {
		sent.Add(1)
		<-release
	})

	for i := 0; i < 5; i++ {
		b.ViewsChanged()
	}
	require.Eventually(t, func() bool { return sent.Load() == 1 }, 2*time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(1), sent.Load(), "pending change already queued")

	close(release)
	require.Eventually(t, func() bool { return !b.viewsPending.Load() }, 2*time.Second, 5*time.Millisecond)
	b.ViewsChanged()
	require.Eventually(t, func() bool { return sent.Load() == 2 }, 2*time.Second, 5*time.Millisecond)
}
