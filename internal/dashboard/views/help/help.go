// Package help renders the key reference overlay from markdown.
package help

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"

	"github.com/storefront/livesync/internal/dashboard/theme"
)

const stateTable = `
## Connection states

| State | Meaning |
|---|---|
| Disconnected | logged out, no token, or the first handshake failed |
| Connecting | handshake in progress |
| Connected | events are live |
| Reconnecting | link dropped, retrying with backoff |
| Failed | retries exhausted; log in again or rotate the token |

Rows marked with a spinner were patched from an event and are waiting for
the server copy.
`

// Model caches the rendered overlay for one width.
type Model struct {
	style    string
	width    int
	rendered string
	err      error
}

// New returns a help overlay using a glamour standard style such as "dark",
// "light" or "notty".
func New(style string) Model {
	if style == "" {
		style = "dark"
	}
	return Model{style: style}
}

// Markdown builds the overlay source for bindings.
func Markdown(bindings []key.Binding) string {
	var b strings.Builder
	b.WriteString("# livesync dashboard\n\n")
	b.WriteString("| Key | Action |\n|---|---|\n")
	for _, kb := range bindings {
		h := kb.Help()
		if h.Key == "" {
			continue
		}
		fmt.Fprintf(&b, "| `%s` | %s |\n", h.Key, h.Desc)
	}
	b.WriteString(stateTable)
	return b.String()
}

// SetContent renders bindings at width, reusing the previous render when
// nothing changed.
func (m *Model) SetContent(width int, bindings []key.Binding) {
	if width < 40 {
		width = 40
	}
	if width == m.width && m.rendered != "" {
		return
	}
	r, err := glamour.NewTermRenderer(
		glamour.WithStandardStyle(m.style),
		glamour.WithWordWrap(width-8),
	)
	if err != nil {
		m.err = err
		return
	}
	out, err := r.Render(Markdown(bindings))
	if err != nil {
		m.err = err
		return
	}
	m.width, m.rendered, m.err = width, out, nil
}

// View renders the overlay panel.
func (m Model) View() string {
	body := m.rendered
	if m.err != nil {
		body = theme.StyleDimmed.Render("help unavailable: " + m.err.Error())
	}
	return lipgloss.NewStyle().
		Padding(0, 1).
		BorderStyle(lipgloss.DoubleBorder()).
		BorderForeground(theme.ColorBorder).
		Render(body + "\n" + theme.StyleDimmed.Render("esc:close"))
}
