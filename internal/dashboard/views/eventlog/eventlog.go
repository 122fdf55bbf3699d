// Package eventlog provides the scrollable overlay listing socket events,
// connection transitions and refetch errors as they happen.
package eventlog

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/storefront/livesync/internal/dashboard/theme"
)

const maxEntries = 200

// Entry kinds.
const (
	KindEvent = "evt"
	KindConn  = "conn"
	KindError = "err"
	KindUser  = "user"
)

// Entry is a single log line.
type Entry struct {
	Time    time.Time
	Kind    string
	Message string
}

// Model holds the log state.
type Model struct {
	Entries []Entry
	Offset  int // scroll offset (from bottom)
	// total counts every entry ever added, including those trimmed.
	total int
}

// New creates an empty log.
func New() Model {
	return Model{}
}

// Add appends an entry and caps the buffer.
func (m *Model) Add(at time.Time, kind, message string) {
	m.Entries = append(m.Entries, Entry{Time: at, Kind: kind, Message: message})
	if len(m.Entries) > maxEntries {
		m.Entries = m.Entries[len(m.Entries)-maxEntries:]
	}
	m.total++
	// Reset scroll to bottom on new entry.
	m.Offset = 0
}

// Total returns the number of entries ever added.
func (m Model) Total() int { return m.total }

// ScrollUp moves the viewport up.
func (m *Model) ScrollUp(n int) {
	m.Offset += n
	limit := len(m.Entries) - 1
	if limit < 0 {
		limit = 0
	}
	if m.Offset > limit {
		m.Offset = limit
	}
}

// ScrollDown moves the viewport down.
func (m *Model) ScrollDown(n int) {
	m.Offset -= n
	if m.Offset < 0 {
		m.Offset = 0
	}
}

func panelStyle(width int) lipgloss.Style {
	return lipgloss.NewStyle().
		Width(width).
		Padding(1, 2).
		BorderStyle(lipgloss.DoubleBorder()).
		BorderForeground(theme.ColorBorder)
}

// View renders the log as an overlay panel.
func (m Model) View(width, height int) string {
	innerW := width - 4
	if innerW < 20 {
		innerW = 20
	}
	visibleLines := height - 6
	if visibleLines < 3 {
		visibleLines = 3
	}

	title := theme.StyleHeader.Render(" EVENT LOG ")
	help := theme.StyleDimmed.Render(fmt.Sprintf("j/k:scroll  esc:close  %d shown  %d total", len(m.Entries), m.total))

	if len(m.Entries) == 0 {
		body := theme.StyleDimmed.Render("  No events received yet.")
		content := lipgloss.JoinVertical(lipgloss.Left, title, "", body, "", help)
		return panelStyle(innerW).Render(content)
	}

	end := len(m.Entries) - m.Offset
	start := end - visibleLines
	if start < 0 {
		start = 0
	}

	lines := make([]string, 0, end-start)
	for _, e := range m.Entries[start:end] {
		ts := theme.StyleDimmed.Render(e.Time.Format("15:04:05.000"))
		kind := lipgloss.NewStyle().Foreground(kindColor(e.Kind)).Width(5).Render(e.Kind)
		msg := e.Message
		if room := innerW - 20; room > 3 && len(msg) > room {
			msg = msg[:room-3] + "..."
		}
		lines = append(lines, fmt.Sprintf("%s %s %s", ts, kind, msg))
	}

	scroll := ""
	if m.Offset > 0 {
		scroll = theme.StyleDimmed.Render(fmt.Sprintf(" ↓ %d more", m.Offset))
	}

	content := lipgloss.JoinVertical(lipgloss.Left, title, strings.Join(lines, "\n"), scroll, help)
	return panelStyle(innerW).Render(content)
}

func kindColor(kind string) lipgloss.Color {
	switch kind {
	case KindEvent:
		return theme.ColorAccent
	case KindConn:
		return theme.ColorWarning
	case KindError:
		return theme.ColorDanger
	case KindUser:
		return theme.ColorBright
	default:
		return theme.ColorDimmed
	}
}
