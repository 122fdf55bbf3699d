package eventlog

import (
	"strings"
	"testing"
	"time"
)

var t0 = time.Date(2024, 5, 1, 9, 30, 0, 0, time.UTC)

func TestAddEntry(t *testing.T) {
	m := New()
	m.Add(t0, KindEvent, "newOrder")
	if len(m.Entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(m.Entries))
	}
	if m.Entries[0].Kind != KindEvent {
		t.Errorf("expected kind %q, got %q", KindEvent, m.Entries[0].Kind)
	}
}

func TestMaxEntries(t *testing.T) {
	m := New()
	for i := 0; i < maxEntries+50; i++ {
		m.Add(t0, KindEvent, "msg")
	}
	if len(m.Entries) != maxEntries {
		t.Errorf("expected %d entries, got %d", maxEntries, len(m.Entries))
	}
	if m.Total() != maxEntries+50 {
		t.Errorf("expected total %d, got %d", maxEntries+50, m.Total())
	}
}

func TestScrollUpDown(t *testing.T) {
	m := New()
	for i := 0; i < 20; i++ {
		m.Add(t0, KindEvent, "msg")
	}

	m.ScrollUp(5)
	if m.Offset != 5 {
		t.Errorf("expected offset 5, got %d", m.Offset)
	}
	m.ScrollDown(3)
	if m.Offset != 2 {
		t.Errorf("expected offset 2, got %d", m.Offset)
	}
	m.ScrollDown(10)
	if m.Offset != 0 {
		t.Errorf("expected offset 0, got %d", m.Offset)
	}
}

func TestScrollUpCapped(t *testing.T) {
	m := New()
	for i := 0; i < 5; i++ {
		m.Add(t0, KindEvent, "msg")
	}
	m.ScrollUp(100)
	if m.Offset != 4 {
		t.Errorf("expected offset 4, got %d", m.Offset)
	}

	empty := New()
	empty.ScrollUp(3)
	if empty.Offset != 0 {
		t.Errorf("empty log cannot scroll, got offset %d", empty.Offset)
	}
}

func TestAddResetsScroll(t *testing.T) {
	m := New()
	for i := 0; i < 10; i++ {
		m.Add(t0, KindEvent, "msg")
	}
	m.ScrollUp(5)
	m.Add(t0, KindConn, "reconnecting")
	if m.Offset != 0 {
		t.Error("adding entry should reset scroll to 0")
	}
}

func TestViewEmpty(t *testing.T) {
	if v := New().View(80, 20); !strings.Contains(v, "No events") {
		t.Error("empty view should show 'No events' message")
	}
}

func TestViewWithEntries(t *testing.T) {
	m := New()
	m.Add(t0, KindConn, "connected")
	m.Add(t0.Add(time.Second), KindError, "orders refetch failed")
	v := m.View(100, 20)
	for _, want := range []string{"connected", "orders refetch failed", "09:30:01.000"} {
		if !strings.Contains(v, want) {
			t.Errorf("view should contain %q", want)
		}
	}
}

func TestViewScrolledHidesNewest(t *testing.T) {
	m := New()
	for i := 0; i < 10; i++ {
		m.Add(t0, KindEvent, "old")
	}
	m.Add(t0, KindEvent, "newest")
	m.ScrollUp(1)
	v := m.View(80, 9)
	if strings.Contains(v, "newest") {
		t.Error("scrolled view should not show the newest entry")
	}
	if !strings.Contains(v, "1 more") {
		t.Error("scrolled view should show the scroll indicator")
	}
}
