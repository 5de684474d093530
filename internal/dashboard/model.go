// Package dashboard provides the Bubble Tea analytics dashboard.
package dashboard

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/verte-zerg/panier/internal/export"
	"github.com/verte-zerg/panier/internal/logging"
	"github.com/verte-zerg/panier/internal/model"
	"github.com/verte-zerg/panier/internal/session"
	"github.com/verte-zerg/panier/internal/stats"
	"github.com/verte-zerg/panier/internal/view"
)

const plotHeight = 10

var (
	activeNavStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#F0F0F0")).
			Bold(true).
			Padding(0, 1).
			Border(lipgloss.RoundedBorder(), true).
			BorderForeground(lipgloss.Color("#C89A3A"))
	inactiveNavStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("#B0B0B0")).
				Padding(0, 1).
				Border(lipgloss.RoundedBorder(), true).
				BorderForeground(lipgloss.Color("#4A4A4A"))
	headerStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#6E6E6E"))
	errorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF4D4F"))
	statusStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#C89A3A"))
	cardStyle   = lipgloss.NewStyle().
			Padding(0, 1).
			Border(lipgloss.RoundedBorder(), true).
			BorderForeground(lipgloss.Color("#4A4A4A"))
	compareCardStyle = cardStyle.BorderForeground(lipgloss.Color("#C89A3A"))
	cardTitleStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#8C8C8C"))
	cardValueStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#F0F0F0")).Bold(true)
	tableMutedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#B8B8B8"))
	modalStyle       = lipgloss.NewStyle().
				Border(lipgloss.RoundedBorder(), true).
				BorderForeground(lipgloss.Color("#C89A3A")).
				Padding(1, 2)
)

// Controller is the view state the dashboard drives. *view.Controller
// implements it.
type Controller interface {
	Kind() view.Kind
	Location() *time.Location
	Load(ctx context.Context) (view.Snapshot, error)
	Submit(ctx context.Context, spec model.FilterSpec) (view.Snapshot, error)
	SetYear(year int) (view.Snapshot, error)
	Spec() model.FilterSpec
	Filtered() []model.Purchase
}

// Gate logs the user in and out.
type Gate interface {
	Login(ctx context.Context, username, password string) error
	Logout(ctx context.Context) error
	Username(ctx context.Context) string
}

// ExportRecorder keeps the export history.
type ExportRecorder interface {
	InsertExport(ctx context.Context, rec model.ExportRecord) (int64, error)
}

// Config wires the dashboard to its collaborators.
type Config struct {
	Controllers  []Controller
	Gate         Gate
	Exports      ExportRecorder
	ExportDir    string
	ExportFormat export.Format
	Formatter    stats.Formatter
	Logger       *slog.Logger
	Context      context.Context
	Initial      view.Kind
}

type tab struct {
	ctrl    Controller
	snap    view.Snapshot
	loaded  bool
	loading bool
	vp      viewport.Model
}

type loadedMsg struct {
	index int
	snap  view.Snapshot
	err   error
}

type exportedMsg struct {
	rec model.ExportRecord
	err error
}

type loginMsg struct {
	username string
	err      error
}

type logoutMsg struct {
	err error
}

// Model implements the Bubble Tea dashboard.
type Model struct {
	cfg    Config
	ctx    context.Context
	logger *slog.Logger

	tabs      []*tab
	activeTab int

	width  int
	height int

	errMsg    string
	statusMsg string

	filterMode   bool
	filterInputs []textinput.Model
	filterIndex  int
	filterError  string

	loginMode   bool
	loginInputs []textinput.Model
	loginIndex  int
	loginError  string
	loggingIn   bool
	username    string

	tableMode     bool
	records       table.Model
	recordsLayout tableLayout
}

// NewModel constructs the dashboard with one tab per controller.
func NewModel(cfg Config) *Model {
	if cfg.Context == nil {
		cfg.Context = context.Background()
	}
	// The alt screen owns the terminal.
	if cfg.Logger == nil {
		cfg.Logger = logging.Discard()
	}
	if cfg.ExportFormat == "" {
		cfg.ExportFormat = export.XLSX
	}
	if cfg.Formatter.IsZero() {
		cfg.Formatter = stats.NewFormatter(stats.DefaultLocale)
	}
	m := &Model{
		cfg:     cfg,
		ctx:     cfg.Context,
		logger:  cfg.Logger,
		records: newRecordTable(),
	}
	for i, ctrl := range cfg.Controllers {
		m.tabs = append(m.tabs, &tab{ctrl: ctrl, vp: viewport.New(0, 0)})
		if ctrl.Kind() == cfg.Initial {
			m.activeTab = i
		}
	}
	if cfg.Gate != nil {
		m.username = cfg.Gate.Username(m.ctx)
	}
	m.initInputs()
	return m
}

// Init implements tea.Model.
func (m *Model) Init() tea.Cmd {
	return m.loadActive(false)
}

// Update implements tea.Model.
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.updateLayout()
		m.renderTabContents()
		return m, nil
	case loadedMsg:
		return m.handleLoaded(msg)
	case exportedMsg:
		if msg.err != nil {
			m.errMsg = msg.err.Error()
			return m, nil
		}
		m.errMsg = ""
		m.statusMsg = fmt.Sprintf("Exporté : %s (%d lignes)", msg.rec.Path, msg.rec.Rows)
		return m, nil
	case loginMsg:
		m.loggingIn = false
		if msg.err != nil {
			m.loginError = msg.err.Error()
			return m, nil
		}
		m.loginMode = false
		m.loginError = ""
		m.username = msg.username
		m.statusMsg = fmt.Sprintf("Connecté : %s", msg.username)
		return m, m.loadActive(true)
	case logoutMsg:
		if msg.err != nil {
			m.logger.Warn("logout failed", "err", msg.err)
		}
		for _, t := range m.tabs {
			t.loaded = false
			t.snap = view.Snapshot{}
		}
		m.username = ""
		m.renderTabContents()
		return m.startLogin()
	case tea.KeyMsg:
		if msg.Type == tea.KeyCtrlC {
			return m, tea.Quit
		}
		if m.loginMode {
			return m.updateLogin(msg)
		}
		if m.filterMode {
			return m.updateFilter(msg)
		}
		return m.updateKeys(msg)
	}
	return m, nil
}

func (m *Model) updateKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q":
		return m, tea.Quit
	case "left", "h":
		m.moveTab(-1)
		return m, tea.Batch(tea.ClearScreen, m.loadActive(false))
	case "right", "l":
		m.moveTab(1)
		return m, tea.Batch(tea.ClearScreen, m.loadActive(false))
	case "/":
		return m.startFilter()
	case "r":
		return m, m.loadActive(true)
	case "x":
		return m, m.exportActive()
	case "t":
		m.tableMode = !m.tableMode
		m.refreshRecords()
		return m, nil
	case "[":
		m.shiftYear(1)
		return m, nil
	case "]":
		m.shiftYear(-1)
		return m, nil
	case "L":
		return m, m.logout()
	case "g", "home":
		if m.tableMode {
			m.records.GotoTop()
		} else if t := m.active(); t != nil {
			t.vp.GotoTop()
		}
		return m, nil
	case "G", "end":
		if m.tableMode {
			m.records.GotoBottom()
		} else if t := m.active(); t != nil {
			t.vp.GotoBottom()
		}
		return m, nil
	}
	if m.tableMode {
		var cmd tea.Cmd
		m.records, cmd = m.records.Update(msg)
		return m, cmd
	}
	t := m.active()
	if t == nil {
		return m, nil
	}
	var cmd tea.Cmd
	t.vp, cmd = t.vp.Update(msg)
	return m, cmd
}

// View implements tea.Model.
func (m *Model) View() string {
	if m.width == 0 || m.height == 0 {
		return ""
	}
	if m.loginMode {
		return fitLines(m.renderLoginModal(), m.width, m.height)
	}
	headerHeight, bodyHeight, footerHeight := m.layoutHeights()
	header := fitLines(m.renderHeader(), m.width, headerHeight)
	body := fitLines(m.renderBody(bodyHeight), m.width, bodyHeight)
	footer := fitLines(m.renderFooter(), m.width, footerHeight)
	return strings.Join([]string{header, body, footer}, "\n")
}

func (m *Model) active() *tab {
	if m.activeTab < 0 || m.activeTab >= len(m.tabs) {
		return nil
	}
	return m.tabs[m.activeTab]
}

func (m *Model) handleLoaded(msg loadedMsg) (tea.Model, tea.Cmd) {
	if msg.index < 0 || msg.index >= len(m.tabs) {
		return m, nil
	}
	// A newer load for this tab is in flight and will report.
	if errors.Is(msg.err, view.ErrSuperseded) {
		return m, nil
	}
	t := m.tabs[msg.index]
	t.loading = false
	m.statusMsg = ""
	if msg.err != nil {
		if errors.Is(msg.err, session.ErrNotAuthenticated) {
			m.logger.Info("session required", "view", string(t.ctrl.Kind()), "err", msg.err)
			return m.startLogin()
		}
		m.logger.Error("view load failed", "view", string(t.ctrl.Kind()), "err", msg.err)
		m.errMsg = msg.err.Error()
		return m, nil
	}
	m.errMsg = ""
	t.snap = msg.snap
	t.loaded = true
	m.renderTab(t)
	if msg.index == m.activeTab {
		m.refreshRecords()
	}
	return m, nil
}

// loadActive fetches the active tab. Without force a loaded or loading tab
// is left alone.
func (m *Model) loadActive(force bool) tea.Cmd {
	t := m.active()
	if t == nil {
		return nil
	}
	if !force && (t.loaded || t.loading) {
		return nil
	}
	t.loading = true
	m.statusMsg = "Chargement…"
	idx := m.activeTab
	ctrl := t.ctrl
	ctx := m.ctx
	return func() tea.Msg {
		snap, err := ctrl.Load(ctx)
		return loadedMsg{index: idx, snap: snap, err: err}
	}
}

func (m *Model) submit(spec model.FilterSpec, year int) tea.Cmd {
	t := m.active()
	if t == nil {
		return nil
	}
	if _, err := t.ctrl.SetYear(year); err != nil && !errors.Is(err, view.ErrNotLoaded) {
		m.errMsg = err.Error()
		return nil
	}
	t.loading = true
	m.statusMsg = "Chargement…"
	idx := m.activeTab
	ctrl := t.ctrl
	ctx := m.ctx
	return func() tea.Msg {
		snap, err := ctrl.Submit(ctx, spec)
		if errors.Is(err, view.ErrNotLoaded) {
			snap, err = ctrl.Load(ctx)
		}
		return loadedMsg{index: idx, snap: snap, err: err}
	}
}

// shiftYear steps the overview year through the years present in the
// records. Years are newest first; a positive delta goes back in time.
func (m *Model) shiftYear(delta int) {
	t := m.active()
	if t == nil || !t.loaded || t.ctrl.Kind() != view.Overview || len(t.snap.Years) == 0 {
		return
	}
	years := t.snap.Years
	idx := -1
	for i, y := range years {
		if y == t.snap.Year {
			idx = i
			break
		}
	}
	next := 0
	if idx >= 0 {
		next = idx + delta
	}
	if next < 0 || next >= len(years) {
		return
	}
	snap, err := t.ctrl.SetYear(years[next])
	if err != nil {
		m.errMsg = err.Error()
		return
	}
	t.snap = snap
	m.renderTab(t)
}

func (m *Model) exportActive() tea.Cmd {
	t := m.active()
	if t == nil {
		return nil
	}
	if !t.loaded {
		m.errMsg = "Rien à exporter : la vue n'est pas chargée."
		return nil
	}
	kind := t.ctrl.Kind()
	format := m.cfg.ExportFormat
	records := t.ctrl.Filtered()
	path := filepath.Join(m.cfg.ExportDir, export.DefaultFilename(string(kind), format))
	recorder := m.cfg.Exports
	logger := m.logger
	ctx := m.ctx
	m.statusMsg = "Export en cours…"
	return func() tea.Msg {
		n, err := export.WriteFile(path, format, records)
		if err != nil {
			return exportedMsg{err: fmt.Errorf("failed to export %s: %w", kind, err)}
		}
		rec := model.ExportRecord{
			View:       string(kind),
			Format:     string(format),
			Path:       path,
			Rows:       n,
			ExportedAt: time.Now(),
		}
		if recorder != nil {
			if _, err := recorder.InsertExport(ctx, rec); err != nil {
				logger.Warn("failed to record export", "path", path, "err", err)
			}
		}
		logger.Info("export written", "view", string(kind), "path", path, "rows", n)
		return exportedMsg{rec: rec}
	}
}

func (m *Model) login(username, password string) tea.Cmd {
	gate := m.cfg.Gate
	ctx := m.ctx
	return func() tea.Msg {
		if gate == nil {
			return loginMsg{err: errors.New("no session gate configured")}
		}
		if err := gate.Login(ctx, username, password); err != nil {
			return loginMsg{err: err}
		}
		return loginMsg{username: username}
	}
}

func (m *Model) logout() tea.Cmd {
	gate := m.cfg.Gate
	ctx := m.ctx
	return func() tea.Msg {
		if gate == nil {
			return logoutMsg{}
		}
		return logoutMsg{err: gate.Logout(ctx)}
	}
}

func (m *Model) layoutHeights() (headerHeight, bodyHeight, footerHeight int) {
	tabsHeight := lipgloss.Height(activeNavStyle.Render("X"))
	if tabsHeight < 1 {
		tabsHeight = 1
	}
	headerHeight = tabsHeight + 1
	footerHeight = 2
	if !m.filterMode && (m.errMsg != "" || m.statusMsg != "") {
		footerHeight++
	}
	bodyHeight = m.height - headerHeight - footerHeight
	if bodyHeight < 1 {
		bodyHeight = 1
	}
	return headerHeight, bodyHeight, footerHeight
}

func (m *Model) updateLayout() {
	if m.width <= 0 || m.height <= 0 {
		return
	}
	_, vpHeight, _ := m.layoutHeights()
	for _, t := range m.tabs {
		t.vp.Width = m.width
		t.vp.Height = vpHeight
	}
	m.setRecordTableSize(m.width, vpHeight)
	for i := range m.filterInputs {
		promptWidth := lipgloss.Width(m.filterInputs[i].Prompt)
		m.filterInputs[i].Width = maxInt(10, m.width-promptWidth-2)
	}
	for i := range m.loginInputs {
		promptWidth := lipgloss.Width(m.loginInputs[i].Prompt)
		m.loginInputs[i].Width = maxInt(10, modalInnerWidth(m.width)-promptWidth)
	}
}

func (m *Model) moveTab(delta int) {
	count := len(m.tabs)
	if count == 0 {
		return
	}
	next := m.activeTab + delta
	if next < 0 {
		next = count - 1
	}
	if next >= count {
		next = 0
	}
	m.activeTab = next
	m.errMsg = ""
	m.refreshRecords()
}

func (m *Model) refreshRecords() {
	t := m.active()
	if !m.tableMode || t == nil {
		return
	}
	var records []model.Purchase
	if t.loaded {
		records = t.ctrl.Filtered()
	}
	_, bodyHeight, _ := m.layoutHeights()
	m.setRecords(records, maxInt(m.width, 80), bodyHeight)
	m.records.Focus()
}

func (m *Model) renderTabContents() {
	for _, t := range m.tabs {
		m.renderTab(t)
	}
}

func (m *Model) renderTab(t *tab) {
	if !t.loaded {
		t.vp.SetContent("Chargement…")
		return
	}
	width := m.width
	if width <= 0 {
		width = 80
	}
	t.vp.SetContent(renderSnapshot(t.snap, width, m.cfg.Formatter))
}

func renderSnapshot(snap view.Snapshot, width int, f stats.Formatter) string {
	cards := renderSummaryCards(snap, width, f)
	var buf bytes.Buffer
	opts := stats.RenderOptions{Width: width, PlotHeight: plotHeight, Color: true, Formatter: f}
	if err := stats.RenderSnapshot(&buf, snap, opts); err != nil {
		return fmt.Sprintf("Échec de l'affichage : %v", err)
	}
	return strings.TrimRight(cards+"\n\n"+buf.String(), "\n")
}

// renderSummaryCards shows the primary totals, and the comparison totals
// below them when a comparison period is active.
func renderSummaryCards(snap view.Snapshot, width int, f stats.Formatter) string {
	rows := []string{cardRow(cardStyle, snap.Selected, snap.Primary.Total, width, f)}
	if snap.ComparisonActive && snap.Comparison != nil {
		rows = append(rows, cardRow(compareCardStyle, snap.ComparisonSelected, snap.Comparison.Total, width, f))
	}
	return lipgloss.JoinVertical(lipgloss.Left, rows...)
}

func cardRow(style lipgloss.Style, selected int, total model.Totals, width int, f stats.Formatter) string {
	cards := []string{
		metricCard(style, "Lignes", fmt.Sprintf("%d", selected)),
		metricCard(style, "Montant total", f.Amount(total.Amount)),
		metricCard(style, "Articles", f.Count(total.Quantity)),
		metricCard(style, "Panier moyen", f.Amount(total.Average())),
	}
	if width < 80 {
		return strings.Join(cards, "\n")
	}
	return lipgloss.JoinHorizontal(lipgloss.Top, cards...)
}

func metricCard(style lipgloss.Style, label, value string) string {
	content := fmt.Sprintf("%s\n%s", cardTitleStyle.Render(label), cardValueStyle.Render(value))
	return style.Render(content)
}

func (m *Model) renderTabs() string {
	parts := make([]string, 0, len(m.tabs))
	for i, t := range m.tabs {
		title := t.ctrl.Kind().Title()
		if i == m.activeTab {
			parts = append(parts, activeNavStyle.Render(title))
		} else {
			parts = append(parts, inactiveNavStyle.Render(title))
		}
	}
	return lipgloss.JoinHorizontal(lipgloss.Top, parts...)
}

func (m *Model) renderHeader() string {
	tabs := padLines(m.renderTabs(), m.width)
	return tabs + "\n" + padLines(m.renderSummary(), m.width)
}

func (m *Model) renderSummary() string {
	parts := []string{}
	if m.username != "" {
		parts = append(parts, "Connecté : "+m.username)
	}
	if t := m.active(); t != nil {
		summary := stats.FilterSummary(t.ctrl.Spec())
		if summary == "" {
			summary = "aucun"
		}
		parts = append(parts, "Filtre : "+summary)
		if t.ctrl.Kind() == view.Overview && t.loaded {
			year := "toutes"
			if t.snap.Year > 0 {
				year = fmt.Sprintf("%d", t.snap.Year)
			}
			parts = append(parts, "Année : "+year)
		}
	}
	return headerStyle.Render(truncateLine(strings.Join(parts, "  ·  "), m.width))
}

func (m *Model) renderHelp() string {
	help := "Vues : ←/→  Défiler : ↑/↓  Filtre : /  Recharger : r  Exporter : x  Lignes : t  Déconnexion : L  Quitter : q"
	if t := m.active(); t != nil && t.ctrl.Kind() == view.Overview {
		help = "Vues : ←/→  Année : [/]  Filtre : /  Recharger : r  Exporter : x  Lignes : t  Déconnexion : L  Quitter : q"
	}
	return headerStyle.Render(truncateLine(help, m.width))
}

func (m *Model) renderFooter() string {
	if m.filterMode {
		return headerStyle.Render("tab/shift+tab : champ suivant  entrée : appliquer  échap : annuler")
	}
	lines := []string{m.renderSelected(), m.renderHelp()}
	if m.errMsg != "" {
		lines = append(lines, errorStyle.Render(truncateLine(m.errMsg, m.width)))
	} else if m.statusMsg != "" {
		lines = append(lines, statusStyle.Render(truncateLine(m.statusMsg, m.width)))
	}
	return strings.Join(lines, "\n")
}

func (m *Model) renderSelected() string {
	t := m.active()
	if t == nil || !t.loaded {
		return ""
	}
	line := fmt.Sprintf("Nombre de lignes sélectionnées : %d", t.snap.Selected)
	if t.snap.ComparisonActive {
		line += fmt.Sprintf("  ·  comparaison : %d", t.snap.ComparisonSelected)
	}
	if t.snap.AverageMode {
		line += "  ·  moyenne journalière"
	}
	return line
}

func (m *Model) renderBody(height int) string {
	if m.filterMode {
		return fitLines(m.renderFilterForm(), m.width, height)
	}
	t := m.active()
	if t == nil {
		return fitLines("Aucune vue configurée.", m.width, height)
	}
	if m.tableMode {
		if !t.loaded {
			return fitLines("Chargement…", m.width, height)
		}
		if m.recordsLayout.rowCount == 0 {
			return fitLines("Aucune ligne sélectionnée.", m.width, height)
		}
		return fitLines(tableMutedStyle.Render(m.records.View()), m.width, height)
	}
	return fitLines(t.vp.View(), m.width, height)
}
