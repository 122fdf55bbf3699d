package status

import (
	"strings"
	"testing"

	"github.com/storefront/livesync/internal/connection"
)

func TestViewShowsEveryState(t *testing.T) {
	tests := []struct {
		state connection.State
		want  string
	}{
		{connection.Disconnected, "Disconnected"},
		{connection.Connecting, "Connecting..."},
		{connection.Connected, "Connected"},
		{connection.Reconnecting, "Reconnecting…"},
		{connection.Failed, "Failed"},
	}
	for _, tt := range tests {
		t.Run(tt.state.String(), func(t *testing.T) {
			m := New()
			m.Width = 120
			m.State = tt.state
			if out := m.View(); !strings.Contains(out, tt.want) {
				t.Errorf("View() missing %q:\n%s", tt.want, out)
			}
		})
	}
}

func TestViewLoggedOut(t *testing.T) {
	m := New()
	m.Width = 120
	if out := m.View(); !strings.Contains(out, "logged out") {
		t.Errorf("expected logged out marker, got:\n%s", out)
	}

	m.User = "ops@example.com"
	if out := m.View(); !strings.Contains(out, "ops@example.com") {
		t.Errorf("expected user, got:\n%s", out)
	}
}

func TestViewCounts(t *testing.T) {
	m := New()
	m.Width = 160
	m.SetCounts(3, 4, 5, 0)
	out := m.View()
	if !strings.Contains(out, "3 orders  4 products  5 coupons") {
		t.Errorf("counts missing:\n%s", out)
	}
	if strings.Contains(out, "updating") {
		t.Errorf("no rows are updating:\n%s", out)
	}

	m.SetCounts(3, 4, 5, 2)
	if out := m.View(); !strings.Contains(out, "2 updating") {
		t.Errorf("updating count missing:\n%s", out)
	}
}

func TestNarrowWidthClamped(t *testing.T) {
	m := New()
	m.Width = 5
	if m.View() == "" {
		t.Error("expected a rendered bar")
	}
}
