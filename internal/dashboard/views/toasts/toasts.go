// Package toasts renders the notification stack. New toasts slide in from
// the right on a damped spring.
package toasts

import (
	"math"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/harmonica"
	"github.com/charmbracelet/lipgloss"

	"github.com/storefront/livesync/internal/dashboard/theme"
	"github.com/storefront/livesync/internal/notify"
)

const (
	fps = 60
	// slideDistance is how far right of its resting place a new toast starts.
	slideDistance = 24.0
	settleEpsilon = 0.5
	boxWidth      = 44
)

// FrameMsg advances the slide animation by one frame.
type FrameMsg struct{}

type item struct {
	toast notify.Toast
	x     float64
	vel   float64
}

func (it item) settled() bool {
	return math.Abs(it.x) < settleEpsilon && math.Abs(it.vel) < settleEpsilon
}

// Model holds the visible toasts and their animation state.
type Model struct {
	spring    harmonica.Spring
	items     []item
	animating bool
	Width     int
}

// New creates an empty stack.
func New() Model {
	return Model{spring: harmonica.NewSpring(harmonica.FPS(fps), 8.0, 0.8)}
}

// Sync replaces the stack with active, newest first. Toasts already shown
// keep their animation state; new ones start off to the right. It returns
// a frame command when an animation needs to start.
func (m *Model) Sync(active []notify.Toast) tea.Cmd {
	prev := make(map[uint64]item, len(m.items))
	for _, it := range m.items {
		prev[it.toast.ID] = it
	}
	m.items = m.items[:0]
	for _, t := range active {
		it, ok := prev[t.ID]
		if !ok {
			it = item{x: slideDistance}
		}
		it.toast = t
		m.items = append(m.items, it)
	}
	return m.kick()
}

// Update steps the springs on FrameMsg.
func (m *Model) Update(msg tea.Msg) tea.Cmd {
	if _, ok := msg.(FrameMsg); !ok {
		return nil
	}
	m.animating = false
	for i := range m.items {
		it := &m.items[i]
		if it.x == 0 && it.vel == 0 {
			continue
		}
		it.x, it.vel = m.spring.Update(it.x, it.vel, 0)
		if it.settled() {
			it.x, it.vel = 0, 0
		}
	}
	return m.kick()
}

// Animating reports whether a frame loop is running.
func (m Model) Animating() bool { return m.animating }

// Len returns the number of toasts shown.
func (m Model) Len() int { return len(m.items) }

func (m *Model) kick() tea.Cmd {
	if m.animating {
		return nil
	}
	for _, it := range m.items {
		if !it.settled() {
			m.animating = true
			return frame()
		}
	}
	return nil
}

func frame() tea.Cmd {
	return tea.Tick(time.Second/fps, func(time.Time) tea.Msg { return FrameMsg{} })
}

// View renders the stack, right-aligned within Width.
func (m Model) View() string {
	if len(m.items) == 0 {
		return ""
	}
	width := m.Width
	if width < boxWidth+int(slideDistance) {
		width = boxWidth + int(slideDistance)
	}

	var rows []string
	for _, it := range m.items {
		box := lipgloss.NewStyle().
			Width(boxWidth).
			Padding(0, 1).
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(levelColor(it.toast.Level)).
			Render(levelGlyph(it.toast.Level) + " " + it.toast.Message)

		shift := int(math.Round(it.x))
		if shift < 0 {
			shift = 0
		}
		pad := width - lipgloss.Width(box) - int(slideDistance) + shift
		if pad < 0 {
			pad = 0
		}
		rows = append(rows, indent(box, pad))
	}
	return lipgloss.JoinVertical(lipgloss.Left, rows...)
}

func indent(block string, n int) string {
	prefix := strings.Repeat(" ", n)
	lines := strings.Split(block, "\n")
	for i, l := range lines {
		lines[i] = prefix + l
	}
	return strings.Join(lines, "\n")
}

func levelColor(l notify.Level) lipgloss.Color {
	switch l {
	case notify.Success:
		return theme.ColorHealthy
	case notify.Warn:
		return theme.ColorWarning
	case notify.Error:
		return theme.ColorDanger
	default:
		return theme.ColorAccent
	}
}

func levelGlyph(l notify.Level) string {
	switch l {
	case notify.Success:
		return "✓"
	case notify.Warn:
		return "!"
	case notify.Error:
		return "✗"
	default:
		return "•"
	}
}
