package dashboard

import "github.com/charmbracelet/bubbles/key"

// KeyMap defines all keyboard bindings for the dashboard.
type KeyMap struct {
	Up      key.Binding
	Down    key.Binding
	Tab     key.Binding
	Orders  key.Binding
	Product key.Binding
	Coupons key.Binding
	Login   key.Binding
	Logout  key.Binding
	Rotate  key.Binding
	Refresh key.Binding
	Events  key.Binding
	Help    key.Binding
	Escape  key.Binding
	Quit    key.Binding
}

// DefaultKeyMap returns the default key bindings.
func DefaultKeyMap() KeyMap {
	return KeyMap{
		Up: key.NewBinding(
			key.WithKeys("k", "up"),
			key.WithHelp("k/↑", "previous row"),
		),
		Down: key.NewBinding(
			key.WithKeys("j", "down"),
			key.WithHelp("j/↓", "next row"),
		),
		Tab: key.NewBinding(
			key.WithKeys("tab"),
			key.WithHelp("tab", "next list"),
		),
		Orders: key.NewBinding(
			key.WithKeys("1"),
			key.WithHelp("1", "orders"),
		),
		Product: key.NewBinding(
			key.WithKeys("2"),
			key.WithHelp("2", "products"),
		),
		Coupons: key.NewBinding(
			key.WithKeys("3"),
			key.WithHelp("3", "coupons"),
		),
		Login: key.NewBinding(
			key.WithKeys("L"),
			key.WithHelp("L", "log in"),
		),
		Logout: key.NewBinding(
			key.WithKeys("O"),
			key.WithHelp("O", "log out"),
		),
		Rotate: key.NewBinding(
			key.WithKeys("t"),
			key.WithHelp("t", "rotate access token"),
		),
		Refresh: key.NewBinding(
			key.WithKeys("r"),
			key.WithHelp("r", "refetch all lists"),
		),
		Events: key.NewBinding(
			key.WithKeys("e"),
			key.WithHelp("e", "event log"),
		),
		Help: key.NewBinding(
			key.WithKeys("?"),
			key.WithHelp("?", "help"),
		),
		Escape: key.NewBinding(
			key.WithKeys("esc"),
			key.WithHelp("esc", "close overlay"),
		),
		Quit: key.NewBinding(
			key.WithKeys("q", "ctrl+c"),
			key.WithHelp("q", "quit"),
		),
	}
}

// Bindings lists every binding in help order.
func (k KeyMap) Bindings() []key.Binding {
	return []key.Binding{
		k.Up, k.Down, k.Tab, k.Orders, k.Product, k.Coupons,
		k.Login, k.Logout, k.Rotate, k.Refresh, k.Events, k.Help, k.Escape, k.Quit,
	}
}
