// Package theme provides the Lip Gloss color palette and reusable styles
// for the livesync dashboard. It is a leaf package with no internal imports
// to avoid import cycles.
package theme

import "github.com/charmbracelet/lipgloss"

// Status colors.
var (
	ColorPending    = lipgloss.Color("#d97706")
	ColorProcessing = lipgloss.Color("#2563eb")
	ColorShipped    = lipgloss.Color("#7c3aed")
	ColorDelivered  = lipgloss.Color("#16a34a")
	ColorCancelled  = lipgloss.Color("#dc2626")
	ColorDefault    = lipgloss.Color("#9ca3af")
)

// UI chrome colors.
var (
	ColorBorder  = lipgloss.Color("#4b5563")
	ColorDimmed  = lipgloss.Color("#6b7280")
	ColorBright  = lipgloss.Color("#f9fafb")
	ColorAccent  = lipgloss.Color("#06b6d4")
	ColorHealthy = lipgloss.Color("#22c55e")
	ColorWarning = lipgloss.Color("#d97706")
	ColorDanger  = lipgloss.Color("#dc2626")
)

// StatusColor returns the color for an entity status string. Orders,
// products and coupons share it.
func StatusColor(status string) lipgloss.Color {
	switch status {
	case "pending", "draft":
		return ColorPending
	case "processing":
		return ColorProcessing
	case "shipped":
		return ColorShipped
	case "delivered", "active":
		return ColorDelivered
	case "cancelled", "archived", "disabled", "expired":
		return ColorCancelled
	default:
		return ColorDefault
	}
}

// Reusable styles.
var (
	StyleBorder = lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(ColorBorder)

	StyleHeader = lipgloss.NewStyle().
			Bold(true).
			Foreground(ColorBright)

	StyleDimmed = lipgloss.NewStyle().
			Foreground(ColorDimmed)

	StyleSelected = lipgloss.NewStyle().
			Bold(true).
			Foreground(ColorBright)

	StyleActiveTab = lipgloss.NewStyle().
			Bold(true).
			Foreground(ColorAccent).
			Underline(true)
)
