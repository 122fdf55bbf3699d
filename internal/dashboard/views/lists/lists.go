// Package lists renders the reconciled order, product and coupon lists as
// tables. Rows awaiting server confirmation carry a spinner.
package lists

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/storefront/livesync/internal/dashboard/theme"
	"github.com/storefront/livesync/internal/wire"
)

// Column is a table header with a fixed width.
type Column struct {
	Title string
	Width int
}

// Row is one rendered entity.
type Row struct {
	ID       string
	Cells    []string
	Status   string
	Updating bool
}

// Model is a scrollable table.
type Model struct {
	Title    string
	Columns  []Column
	Rows     []Row
	Selected int
	Width    int
	Height   int
	// Err is the last refetch error for this list, shown under the table.
	Err error

	spinner  spinner.Model
	spinning bool
}

// New creates an empty table.
func New(title string, cols []Column) Model {
	return Model{
		Title:   title,
		Columns: cols,
		spinner: spinner.New(spinner.WithSpinner(spinner.MiniDot)),
	}
}

// SetRows replaces the rows and clamps the selection. It returns the
// spinner's first tick when a row starts updating.
func (m *Model) SetRows(rows []Row) tea.Cmd {
	m.Rows = rows
	if m.Selected >= len(rows) {
		m.Selected = len(rows) - 1
	}
	if m.Selected < 0 {
		m.Selected = 0
	}
	if m.updating() && !m.spinning {
		m.spinning = true
		return m.spinner.Tick
	}
	return nil
}

// Update advances the spinner. The tick loop stops once no row is updating.
func (m *Model) Update(msg tea.Msg) tea.Cmd {
	if _, ok := msg.(spinner.TickMsg); !ok {
		return nil
	}
	if !m.updating() {
		m.spinning = false
		return nil
	}
	var cmd tea.Cmd
	m.spinner, cmd = m.spinner.Update(msg)
	return cmd
}

// Spinning reports whether the spinner tick loop is running.
func (m Model) Spinning() bool { return m.spinning }

// Up moves the selection up.
func (m *Model) Up() {
	if m.Selected > 0 {
		m.Selected--
	}
}

// Down moves the selection down.
func (m *Model) Down() {
	if m.Selected < len(m.Rows)-1 {
		m.Selected++
	}
}

func (m Model) updating() bool {
	for _, r := range m.Rows {
		if r.Updating {
			return true
		}
	}
	return false
}

// View renders the table.
func (m Model) View() string {
	visible := m.Height - 3
	if visible < 3 {
		visible = 3
	}

	var lines []string
	lines = append(lines, theme.StyleHeader.Render(m.header()))

	if len(m.Rows) == 0 {
		lines = append(lines, theme.StyleDimmed.Render("  Nothing here yet."))
	}

	start := 0
	if m.Selected >= visible {
		start = m.Selected - visible + 1
	}
	end := start + visible
	if end > len(m.Rows) {
		end = len(m.Rows)
	}
	for i := start; i < end; i++ {
		lines = append(lines, m.renderRow(i))
	}
	if len(m.Rows) > visible {
		lines = append(lines, theme.StyleDimmed.Render(fmt.Sprintf("  %d-%d of %d", start+1, end, len(m.Rows))))
	}
	if m.Err != nil {
		lines = append(lines, lipgloss.NewStyle().Foreground(theme.ColorDanger).Render("  refetch failed: "+m.Err.Error()))
	}
	return lipgloss.JoinVertical(lipgloss.Left, lines...)
}

func (m Model) header() string {
	var b strings.Builder
	b.WriteString("    ")
	for _, c := range m.Columns {
		b.WriteString(pad(c.Title, c.Width))
	}
	return b.String()
}

func (m Model) renderRow(i int) string {
	r := m.Rows[i]
	prefix := "  "
	if i == m.Selected {
		prefix = "> "
	}
	mark := "  "
	if r.Updating {
		mark = m.spinner.View() + " "
	}

	var b strings.Builder
	for j, c := range m.Columns {
		cell := ""
		if j < len(r.Cells) {
			cell = r.Cells[j]
		}
		cell = pad(cell, c.Width)
		if j == len(m.Columns)-1 && r.Status != "" {
			cell = lipgloss.NewStyle().Foreground(theme.StatusColor(r.Status)).Render(cell)
		}
		b.WriteString(cell)
	}
	line := prefix + mark + b.String()
	if i == m.Selected {
		return theme.StyleSelected.Render(line)
	}
	return line
}

// pad truncates or right-pads s to width runes plus a gap.
func pad(s string, width int) string {
	r := []rune(s)
	if len(r) > width {
		if width > 1 {
			r = append(r[:width-1], '…')
		} else {
			r = r[:width]
		}
	}
	return string(r) + strings.Repeat(" ", width-len(r)+1)
}

// Columns for each entity.
var (
	OrderColumns = []Column{
		{"Order", 10}, {"Customer", 20}, {"Items", 5}, {"Total", 10}, {"Status", 10},
	}
	ProductColumns = []Column{
		{"Name", 24}, {"SKU", 10}, {"Price", 9}, {"Stock", 5}, {"Status", 8},
	}
	CouponColumns = []Column{
		{"Code", 14}, {"Discount", 9}, {"Used", 9}, {"Status", 8},
	}
)

// OrderRows converts orders; inFlight holds the ids with a live marker.
func OrderRows(orders []wire.Order, inFlight map[string]bool) []Row {
	rows := make([]Row, 0, len(orders))
	for _, o := range orders {
		label := o.OrderNumber
		if label == "" {
			label = o.ID
		}
		rows = append(rows, Row{
			ID:       o.ID,
			Status:   string(o.Status),
			Updating: inFlight[o.ID],
			Cells: []string{
				"#" + strings.TrimPrefix(label, "#"),
				o.Customer,
				fmt.Sprint(len(o.Items)),
				o.Total.StringFixed(2),
				string(o.Status),
			},
		})
	}
	return rows
}

// ProductRows converts products.
func ProductRows(products []wire.Product, inFlight map[string]bool) []Row {
	rows := make([]Row, 0, len(products))
	for _, p := range products {
		rows = append(rows, Row{
			ID:       p.ID,
			Status:   string(p.Status),
			Updating: inFlight[p.ID],
			Cells: []string{
				p.Name,
				p.SKU,
				p.Price.StringFixed(2),
				fmt.Sprint(p.Stock),
				string(p.Status),
			},
		})
	}
	return rows
}

// CouponRows converts coupons.
func CouponRows(coupons []wire.Coupon, inFlight map[string]bool) []Row {
	rows := make([]Row, 0, len(coupons))
	for _, c := range coupons {
		discount := c.Value.String()
		if c.DiscountType == "percent" {
			discount += "%"
		}
		used := fmt.Sprint(c.UsedCount)
		if c.UsageLimit > 0 {
			used = fmt.Sprintf("%d/%d", c.UsedCount, c.UsageLimit)
		}
		rows = append(rows, Row{
			ID:       c.ID,
			Status:   string(c.Status),
			Updating: inFlight[c.ID],
			Cells:    []string{c.Code, discount, used, string(c.Status)},
		})
	}
	return rows
}
