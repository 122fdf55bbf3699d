package status

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"

	"github.com/storefront/livesync/internal/connection"
	"github.com/storefront/livesync/internal/dashboard/theme"
)

// Model holds the status bar state.
type Model struct {
	State connection.State
	// User is empty while logged out.
	User     string
	Orders   int
	Products int
	Coupons  int
	Updating int
	Events   int
	Width    int
}

// New creates a status bar model.
func New() Model {
	return Model{}
}

// SetCounts updates the list sizes and the number of rows awaiting
// confirmation.
func (m *Model) SetCounts(orders, products, coupons, updating int) {
	m.Orders = orders
	m.Products = products
	m.Coupons = coupons
	m.Updating = updating
}

// Label returns the glyph and text shown for a connection state.
func Label(s connection.State) (string, lipgloss.Color) {
	switch s {
	case connection.Connected:
		return "● Connected", theme.ColorHealthy
	case connection.Connecting:
		return "◌ Connecting...", theme.ColorWarning
	case connection.Reconnecting:
		return "◌ Reconnecting…", theme.ColorWarning
	case connection.Failed:
		return "✗ Failed", theme.ColorDanger
	default:
		return "○ Disconnected", theme.ColorDimmed
	}
}

// View renders the status bar.
func (m Model) View() string {
	width := m.Width
	if width < 40 {
		width = 40
	}

	label, color := Label(m.State)
	connStr := lipgloss.NewStyle().Foreground(color).Render(label)

	user := theme.StyleDimmed.Render("logged out")
	if m.User != "" {
		user = m.User
	}

	counts := fmt.Sprintf("%d orders  %d products  %d coupons", m.Orders, m.Products, m.Coupons)

	sep := lipgloss.NewStyle().Foreground(theme.ColorBorder).Render(" | ")
	content := connStr + sep + user + sep + counts
	if m.Updating > 0 {
		content += sep + lipgloss.NewStyle().Foreground(theme.ColorAccent).Render(fmt.Sprintf("%d updating", m.Updating))
	}
	content += sep + theme.StyleDimmed.Render(fmt.Sprintf("%d events", m.Events))

	return lipgloss.NewStyle().
		Width(width).
		Padding(0, 1).
		BorderStyle(lipgloss.DoubleBorder()).
		BorderForeground(theme.ColorBorder).
		Render(content)
}
