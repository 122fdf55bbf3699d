// Package dashboard is the Bubble Tea front end of the admin console. It
// drives the connection manager from login, logout and token keys and
// renders the reconciled lists as they change.
package dashboard

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"go.uber.org/zap"

	"github.com/storefront/livesync/internal/admin"
	"github.com/storefront/livesync/internal/api"
	"github.com/storefront/livesync/internal/auth"
	"github.com/storefront/livesync/internal/clock"
	"github.com/storefront/livesync/internal/connection"
	"github.com/storefront/livesync/internal/dashboard/theme"
	"github.com/storefront/livesync/internal/dashboard/views/eventlog"
	"github.com/storefront/livesync/internal/dashboard/views/help"
	"github.com/storefront/livesync/internal/dashboard/views/lists"
	"github.com/storefront/livesync/internal/dashboard/views/status"
	"github.com/storefront/livesync/internal/dashboard/views/toasts"
	"github.com/storefront/livesync/internal/wire"
)

// Overlay identifies which modal is active.
type Overlay int

const (
	OverlayNone Overlay = iota
	OverlayEvents
	OverlayHelp
)

// Tab is the list shown in the main area.
type Tab int

const (
	TabOrders Tab = iota
	TabProducts
	TabCoupons
	tabCount
)

var tabKeys = [tabCount]string{api.KeyOrders, api.KeyProducts, api.KeyCoupons}

// Deps are the long-lived collaborators the model drives.
type Deps struct {
	Manager *connection.Manager
	Views   *admin.Views
	Tokens  *auth.MemoryTokenStore
	// Identity is the session the login key starts.
	Identity auth.Session
	// Session is the session to start with; nil starts logged out.
	Session *auth.Session
	// Signer mints tokens for login and rotation. Optional.
	Signer    *auth.Issuer
	Clock     clock.Clock
	Logger    *zap.Logger
	HelpStyle string
}

// tickMsg refreshes toast expiry and the list snapshot.
type tickMsg time.Time

// noteMsg is the outcome of a background action, shown in the event log.
type noteMsg struct {
	kind string
	text string
}

// Model is the root Bubble Tea model.
type Model struct {
	deps Deps
	keys KeyMap

	width  int
	height int

	overlay Overlay
	tab     Tab

	session *auth.Session
	connSeq uint64

	statusBar status.Model
	lists     [tabCount]lists.Model
	toasts    toasts.Model
	events    eventlog.Model
	help      help.Model
	analytics *wire.Analytics
	// fetchErrs holds the last refetch error already logged, per query key.
	fetchErrs map[string]string
}

// New creates the root model.
func New(deps Deps) Model {
	if deps.Clock == nil {
		deps.Clock = clock.Real()
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	m := Model{
		deps:      deps,
		keys:      DefaultKeyMap(),
		session:   deps.Session,
		statusBar: status.New(),
		toasts:    toasts.New(),
		events:    eventlog.New(),
		help:      help.New(deps.HelpStyle),
		fetchErrs: make(map[string]string),
	}
	m.lists[TabOrders] = lists.New("Orders", lists.OrderColumns)
	m.lists[TabProducts] = lists.New("Products", lists.ProductColumns)
	m.lists[TabCoupons] = lists.New("Coupons", lists.CouponColumns)
	m.statusBar.User = userLabel(deps.Session)
	return m
}

// Init applies the starting session and begins the refresh tick.
func (m Model) Init() tea.Cmd {
	cmds := []tea.Cmd{
		tick(),
		func() tea.Msg { return ViewsChangedMsg{} },
		func() tea.Msg { return StatusMsg{Status: m.deps.Manager.Status()} },
	}
	if m.session != nil {
		s := *m.session
		mgr := m.deps.Manager
		cmds = append(cmds, func() tea.Msg {
			mgr.SetSession(&s)
			return noteMsg{kind: eventlog.KindUser, text: "session restored for " + s.UserID}
		})
	}
	return tea.Batch(cmds...)
}

func tick() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg { return tickMsg(t) })
}

// Update handles messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.statusBar.Width = msg.Width
		m.toasts.Width = msg.Width
		for i := range m.lists {
			m.lists[i].Width = msg.Width
			m.lists[i].Height = msg.Height - 10
		}
		m.help.SetContent(msg.Width, m.keys.Bindings())
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)

	case StatusMsg:
		// Transitions are posted from separate goroutines; drop any that
		// arrive after a newer one.
		if m.connSeq > 0 && msg.Status.Seq <= m.connSeq {
			return m, nil
		}
		m.connSeq = msg.Status.Seq
		if m.statusBar.State != msg.Status.State {
			m.events.Add(m.deps.Clock.Now(), eventlog.KindConn, msg.Status.State.String())
		}
		m.statusBar.State = msg.Status.State
		return m, nil

	case ViewsChangedMsg:
		return m, m.syncViews()

	case EventMsg:
		m.events.Add(msg.At, eventlog.KindEvent, fmt.Sprintf("%s (%d bytes)", msg.Name, msg.Size))
		m.statusBar.Events++
		return m, nil

	case ToastsChangedMsg:
		return m, m.toasts.Sync(m.deps.Views.Toasts().Active())

	case tickMsg:
		return m, tea.Batch(tick(), m.toasts.Sync(m.deps.Views.Toasts().Active()), m.syncViews())

	case toasts.FrameMsg:
		return m, m.toasts.Update(msg)

	case spinner.TickMsg:
		var cmds []tea.Cmd
		for i := range m.lists {
			cmds = append(cmds, m.lists[i].Update(msg))
		}
		return m, tea.Batch(cmds...)

	case noteMsg:
		m.events.Add(m.deps.Clock.Now(), msg.kind, msg.text)
		if msg.kind == eventlog.KindError {
			m.deps.Views.Toasts().Error(msg.text)
		}
		return m, nil
	}

	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if key.Matches(msg, m.keys.Quit) {
		return m, tea.Quit
	}

	if m.overlay != OverlayNone {
		switch {
		case key.Matches(msg, m.keys.Escape):
			m.overlay = OverlayNone
		case m.overlay == OverlayEvents && key.Matches(msg, m.keys.Up):
			m.events.ScrollUp(1)
		case m.overlay == OverlayEvents && key.Matches(msg, m.keys.Down):
			m.events.ScrollDown(1)
		}
		return m, nil
	}

	switch {
	case key.Matches(msg, m.keys.Down):
		m.lists[m.tab].Down()
	case key.Matches(msg, m.keys.Up):
		m.lists[m.tab].Up()
	case key.Matches(msg, m.keys.Tab):
		m.tab = (m.tab + 1) % tabCount
	case key.Matches(msg, m.keys.Orders):
		m.tab = TabOrders
	case key.Matches(msg, m.keys.Product):
		m.tab = TabProducts
	case key.Matches(msg, m.keys.Coupons):
		m.tab = TabCoupons
	case key.Matches(msg, m.keys.Events):
		m.overlay = OverlayEvents
	case key.Matches(msg, m.keys.Help):
		m.help.SetContent(m.width, m.keys.Bindings())
		m.overlay = OverlayHelp
	case key.Matches(msg, m.keys.Login):
		return m.login()
	case key.Matches(msg, m.keys.Logout):
		return m.logout()
	case key.Matches(msg, m.keys.Rotate):
		return m, m.rotate()
	case key.Matches(msg, m.keys.Refresh):
		views := m.deps.Views
		return m, func() tea.Msg {
			views.Load()
			return noteMsg{kind: eventlog.KindUser, text: "refetch requested"}
		}
	}
	return m, nil
}

// login starts the configured identity. Without a stored token it signs one
// when a signer is configured; otherwise the manager stays Disconnected and
// says why in its log.
func (m Model) login() (tea.Model, tea.Cmd) {
	if m.session != nil {
		return m, note(eventlog.KindUser, "already logged in as "+m.session.UserID)
	}
	s := m.deps.Identity
	m.session = &s
	m.statusBar.User = userLabel(&s)

	mgr, tokens, signer := m.deps.Manager, m.deps.Tokens, m.deps.Signer
	return m, func() tea.Msg {
		if _, ok := tokens.AccessToken(); !ok && signer != nil {
			token, _, err := signer.Issue(s)
			if err != nil {
				return noteMsg{kind: eventlog.KindError, text: "sign access token: " + err.Error()}
			}
			tokens.Set(token)
		}
		mgr.SetSession(&s)
		if _, ok := tokens.AccessToken(); !ok {
			return noteMsg{kind: eventlog.KindError, text: "logged in without an access token"}
		}
		return noteMsg{kind: eventlog.KindUser, text: "logged in as " + s.UserID}
	}
}

func (m Model) logout() (tea.Model, tea.Cmd) {
	if m.session == nil {
		return m, note(eventlog.KindUser, "not logged in")
	}
	m.session = nil
	m.statusBar.User = ""
	mgr := m.deps.Manager
	return m, func() tea.Msg {
		mgr.SetSession(nil)
		return noteMsg{kind: eventlog.KindUser, text: "logged out"}
	}
}

// rotate replaces the stored token. The token store's change hook makes
// the manager drop the old socket and dial with the new token.
func (m Model) rotate() tea.Cmd {
	if m.deps.Signer == nil {
		return note(eventlog.KindError, "token rotation needs auth.secret")
	}
	tokens, signer, s := m.deps.Tokens, m.deps.Signer, m.deps.Identity
	if m.session != nil {
		s = *m.session
	}
	return func() tea.Msg {
		token, _, err := signer.Issue(s)
		if err != nil {
			return noteMsg{kind: eventlog.KindError, text: "sign access token: " + err.Error()}
		}
		tokens.Set(token)
		return noteMsg{kind: eventlog.KindUser, text: "access token rotated"}
	}
}

func note(kind, text string) tea.Cmd {
	return func() tea.Msg { return noteMsg{kind: kind, text: text} }
}

// syncViews copies the current lists, markers and aggregate into the model.
func (m *Model) syncViews() tea.Cmd {
	v := m.deps.Views
	cmds := []tea.Cmd{
		m.lists[TabOrders].SetRows(lists.OrderRows(v.Orders.Items(), idSet(v.Orders.InFlightIDs()))),
		m.lists[TabProducts].SetRows(lists.ProductRows(v.Products.Items(), idSet(v.Products.InFlightIDs()))),
		m.lists[TabCoupons].SetRows(lists.CouponRows(v.Coupons.Items(), idSet(v.Coupons.InFlightIDs()))),
	}

	for tab, k := range tabKeys {
		m.lists[tab].Err = v.FetchError(k)
	}
	for _, k := range append(tabKeys[:], api.KeyAnalytics) {
		m.logFetchError(k, v.FetchError(k))
	}
	m.analytics = v.Analytics()

	updating := 0
	for i := range m.lists {
		for _, r := range m.lists[i].Rows {
			if r.Updating {
				updating++
			}
		}
	}
	m.statusBar.SetCounts(len(m.lists[TabOrders].Rows), len(m.lists[TabProducts].Rows), len(m.lists[TabCoupons].Rows), updating)
	return tea.Batch(cmds...)
}

func (m *Model) logFetchError(k string, err error) {
	if err == nil {
		delete(m.fetchErrs, k)
		return
	}
	if m.fetchErrs[k] == err.Error() {
		return
	}
	m.fetchErrs[k] = err.Error()
	m.events.Add(m.deps.Clock.Now(), eventlog.KindError, k+" refetch failed: "+err.Error())
}

func idSet(ids []string) map[string]bool {
	set := make(map[string]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	return set
}

func userLabel(s *auth.Session) string {
	if s == nil {
		return ""
	}
	if s.Email != "" {
		return s.Email
	}
	return s.UserID
}

// View renders the full TUI.
func (m Model) View() string {
	if m.width == 0 || m.height == 0 {
		return "Initializing..."
	}

	switch m.overlay {
	case OverlayEvents:
		return lipgloss.JoinVertical(lipgloss.Left,
			m.statusBar.View(),
			m.events.View(m.width, m.height-3),
		)
	case OverlayHelp:
		return lipgloss.JoinVertical(lipgloss.Left,
			m.statusBar.View(),
			m.help.View(),
		)
	}

	sections := []string{
		m.statusBar.View(),
		m.renderAnalytics(),
		m.renderTabs(),
		m.lists[m.tab].View(),
	}
	if t := m.toasts.View(); t != "" {
		sections = append(sections, t)
	}
	sections = append(sections,
		theme.StyleDimmed.Render("  j/k:move  tab:list  L:login  O:logout  t:rotate token  r:refetch  e:events  ?:help  q:quit"))

	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

func (m Model) renderTabs() string {
	titles := [tabCount]string{"Orders", "Products", "Coupons"}
	parts := make([]string, 0, tabCount)
	for i, title := range titles {
		label := fmt.Sprintf(" %d %s (%d) ", i+1, title, len(m.lists[i].Rows))
		if Tab(i) == m.tab {
			parts = append(parts, theme.StyleActiveTab.Render(label))
		} else {
			parts = append(parts, theme.StyleDimmed.Render(label))
		}
	}
	return strings.Join(parts, " ")
}

func (m Model) renderAnalytics() string {
	a := m.analytics
	if a == nil {
		return theme.StyleDimmed.Render("  Analytics loading...")
	}

	statStyle := lipgloss.NewStyle().Padding(0, 1)
	stats := []string{
		statStyle.Foreground(theme.ColorBright).Render("Revenue: " + a.Revenue.StringFixed(2)),
		statStyle.Render(fmt.Sprintf("Orders: %d", a.OrderCount)),
		statStyle.Foreground(theme.ColorHealthy).Render(fmt.Sprintf("Active products: %d", a.ActiveProducts)),
		statStyle.Foreground(theme.ColorWarning).Render(fmt.Sprintf("Low stock: %d", a.LowStock)),
		statStyle.Render(fmt.Sprintf("Coupon uses: %d", a.CouponUses)),
	}

	statuses := make([]string, 0, len(a.OrdersByStatus))
	for s := range a.OrdersByStatus {
		statuses = append(statuses, string(s))
	}
	sort.Strings(statuses)
	var byStatus []string
	for _, s := range statuses {
		byStatus = append(byStatus, lipgloss.NewStyle().Foreground(theme.StatusColor(s)).
			Render(fmt.Sprintf("%s %d", s, a.OrdersByStatus[wire.OrderStatus(s)])))
	}

	row := lipgloss.JoinHorizontal(lipgloss.Top, stats...)
	if len(byStatus) > 0 {
		row = lipgloss.JoinVertical(lipgloss.Left, row, "  "+strings.Join(byStatus, "  "))
	}
	return row
}
