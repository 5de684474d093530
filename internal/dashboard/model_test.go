package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/verte-zerg/panier/internal/export"
	"github.com/verte-zerg/panier/internal/model"
	"github.com/verte-zerg/panier/internal/session"
	"github.com/verte-zerg/panier/internal/view"
)

type fakeController struct {
	kind      view.Kind
	snap      view.Snapshot
	loadErr   error
	loads     int
	spec      model.FilterSpec
	year      int
	submitted []model.FilterSpec
	records   []model.Purchase
}

func (c *fakeController) Kind() view.Kind          { return c.kind }
func (c *fakeController) Location() *time.Location { return time.UTC }
func (c *fakeController) Spec() model.FilterSpec   { return c.spec }
func (c *fakeController) Filtered() []model.Purchase {
	return c.records
}

func (c *fakeController) Load(context.Context) (view.Snapshot, error) {
	c.loads++
	if c.loadErr != nil {
		return view.Snapshot{}, c.loadErr
	}
	c.snap.Kind = c.kind
	c.snap.Spec = c.spec
	c.snap.Year = c.year
	return c.snap, nil
}

func (c *fakeController) Submit(ctx context.Context, spec model.FilterSpec) (view.Snapshot, error) {
	c.spec = spec
	c.submitted = append(c.submitted, spec)
	return c.Load(ctx)
}

func (c *fakeController) SetYear(year int) (view.Snapshot, error) {
	c.year = year
	c.snap.Year = year
	return c.snap, nil
}

type fakeGate struct {
	user    string
	logins  []string
	logouts int
}

func (g *fakeGate) Login(_ context.Context, username, password string) error {
	if password != "secret" {
		return errors.New("invalid credentials")
	}
	g.user = username
	g.logins = append(g.logins, username)
	return nil
}

func (g *fakeGate) Logout(context.Context) error {
	g.logouts++
	g.user = ""
	return nil
}

func (g *fakeGate) Username(context.Context) string { return g.user }

type fakeRecorder struct {
	records []model.ExportRecord
}

func (r *fakeRecorder) InsertExport(_ context.Context, rec model.ExportRecord) (int64, error) {
	r.records = append(r.records, rec)
	return int64(len(r.records)), nil
}

func newTestModel(ctrls ...Controller) (*Model, *fakeGate) {
	gate := &fakeGate{user: "alice"}
	m := NewModel(Config{Controllers: ctrls, Gate: gate})
	m.Update(tea.WindowSizeMsg{Width: 120, Height: 40})
	return m, gate
}

func runCmd(t *testing.T, m *Model, cmd tea.Cmd) {
	t.Helper()
	if cmd == nil {
		t.Fatalf("expected a command")
	}
	m.Update(cmd())
}

func keyRunes(s string) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func TestInitLoadsActiveTab(t *testing.T) {
	ctrl := &fakeController{kind: view.CSPByCategory, snap: view.Snapshot{Selected: 3}}
	m, _ := newTestModel(ctrl)
	runCmd(t, m, m.Init())

	if ctrl.loads != 1 {
		t.Fatalf("expected one load, got %d", ctrl.loads)
	}
	out := m.View()
	if !strings.Contains(out, "Nombre de lignes sélectionnées : 3") {
		t.Fatalf("footer missing selected count:\n%s", out)
	}
	if !strings.Contains(out, "Connecté : alice") {
		t.Fatalf("header missing user:\n%s", out)
	}
	if cmd := m.loadActive(false); cmd != nil {
		t.Fatalf("loaded tab should not reload without force")
	}
}

func TestNotAuthenticatedOpensLogin(t *testing.T) {
	ctrl := &fakeController{
		kind:    view.Overview,
		loadErr: fmt.Errorf("stored token expired: %w", session.ErrNotAuthenticated),
	}
	m, gate := newTestModel(ctrl)
	runCmd(t, m, m.Init())
	if !m.loginMode {
		t.Fatalf("expected login mode after auth failure")
	}
	if !strings.Contains(m.View(), "Connexion") {
		t.Fatalf("expected login modal")
	}

	ctrl.loadErr = nil
	m.loginInputs[0].SetValue("bob")
	m.loginInputs[1].SetValue("secret")
	m.loginIndex = 1
	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	if cmd == nil {
		t.Fatalf("expected login command")
	}
	_, reload := m.Update(cmd())
	if m.loginMode {
		t.Fatalf("expected login mode to close after success")
	}
	if len(gate.logins) != 1 || gate.logins[0] != "bob" {
		t.Fatalf("unexpected logins %v", gate.logins)
	}
	runCmd(t, m, reload)
	if ctrl.loads != 2 {
		t.Fatalf("expected reload after login, got %d loads", ctrl.loads)
	}
}

func TestLoginErrorStaysInForm(t *testing.T) {
	ctrl := &fakeController{kind: view.Overview, loadErr: session.ErrNotAuthenticated}
	m, _ := newTestModel(ctrl)
	runCmd(t, m, m.Init())
	m.loginInputs[0].SetValue("bob")
	m.loginInputs[1].SetValue("wrong")
	m.loginIndex = 1
	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	m.Update(cmd())
	if !m.loginMode || m.loginError != "invalid credentials" {
		t.Fatalf("expected login error, got mode=%v err=%q", m.loginMode, m.loginError)
	}
}

func TestLoadErrorKeepsSnapshot(t *testing.T) {
	ctrl := &fakeController{kind: view.AverageBasket, snap: view.Snapshot{Selected: 5}}
	m, _ := newTestModel(ctrl)
	runCmd(t, m, m.Init())

	ctrl.loadErr = errors.New("failed to fetch transactions: boom")
	_, cmd := m.Update(keyRunes("r"))
	runCmd(t, m, cmd)
	if m.errMsg == "" {
		t.Fatalf("expected error message")
	}
	if got := m.active().snap.Selected; got != 5 {
		t.Fatalf("expected previous snapshot kept, got %d", got)
	}
}

func TestSupersededLoadIsIgnored(t *testing.T) {
	ctrl := &fakeController{kind: view.PeakTimes}
	m, _ := newTestModel(ctrl)
	m.active().loading = true
	m.Update(loadedMsg{index: 0, err: view.ErrSuperseded})
	if !m.active().loading || m.errMsg != "" {
		t.Fatalf("superseded load should leave the tab loading without error")
	}
}

func TestFilterFormSubmits(t *testing.T) {
	ctrl := &fakeController{kind: view.CSPByCategory, snap: view.Snapshot{Selected: 3}}
	m, _ := newTestModel(ctrl)
	runCmd(t, m, m.Init())

	m.Update(keyRunes("/"))
	if !m.filterMode {
		t.Fatalf("expected filter mode")
	}
	m.filterInputs[fieldCSP].SetValue("Employes, Etudiants")
	m.filterInputs[fieldStart].SetValue("2023-01-01")
	m.filterInputs[fieldEnd].SetValue("2023-01-31")
	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	runCmd(t, m, cmd)

	if m.filterMode {
		t.Fatalf("expected filter mode to close")
	}
	if len(ctrl.submitted) != 1 {
		t.Fatalf("expected one submit, got %d", len(ctrl.submitted))
	}
	spec := ctrl.submitted[0]
	if len(spec.CSPs) != 2 || spec.CSPs[1] != "Etudiants" {
		t.Fatalf("unexpected CSPs %v", spec.CSPs)
	}
	if spec.Start == nil || spec.End == nil || spec.CompareStart != nil {
		t.Fatalf("unexpected dates %+v", spec)
	}
	if !strings.Contains(m.View(), "Filtre : CSP Employes, Etudiants") {
		t.Fatalf("header missing filter summary:\n%s", m.View())
	}
}

func TestFilterFormRejectsBadDate(t *testing.T) {
	ctrl := &fakeController{kind: view.CSPByCategory}
	m, _ := newTestModel(ctrl)
	runCmd(t, m, m.Init())

	m.Update(keyRunes("/"))
	m.filterInputs[fieldStart].SetValue("01/02/2023")
	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	if cmd != nil {
		t.Fatalf("expected no command for invalid input")
	}
	if !m.filterMode || !strings.Contains(m.filterError, "invalid start date") {
		t.Fatalf("expected form error, got %q", m.filterError)
	}
	if len(ctrl.submitted) != 0 {
		t.Fatalf("invalid filter was submitted")
	}
}

func TestFilterFormYear(t *testing.T) {
	ctrl := &fakeController{kind: view.Overview, year: 2024}
	m, _ := newTestModel(ctrl)
	runCmd(t, m, m.Init())

	m.Update(keyRunes("/"))
	if got := m.filterInputs[fieldYear].Value(); got != "2024" {
		t.Fatalf("expected year prefilled, got %q", got)
	}
	m.filterInputs[fieldYear].SetValue("")
	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	runCmd(t, m, cmd)
	if ctrl.year != 0 {
		t.Fatalf("expected all years, got %d", ctrl.year)
	}
}

func TestShiftYear(t *testing.T) {
	ctrl := &fakeController{kind: view.Overview, year: 2024, snap: view.Snapshot{Years: []int{2024, 2023, 2022}}}
	m, _ := newTestModel(ctrl)
	runCmd(t, m, m.Init())

	m.Update(keyRunes("["))
	if ctrl.year != 2023 {
		t.Fatalf("expected 2023, got %d", ctrl.year)
	}
	m.Update(keyRunes("]"))
	m.Update(keyRunes("]"))
	if ctrl.year != 2024 {
		t.Fatalf("expected to stop at newest year, got %d", ctrl.year)
	}
}

func TestTabsLoadLazily(t *testing.T) {
	first := &fakeController{kind: view.Overview}
	second := &fakeController{kind: view.PeakTimes}
	m, _ := newTestModel(first, second)
	runCmd(t, m, m.Init())
	if second.loads != 0 {
		t.Fatalf("inactive tab loaded early")
	}
	_, cmd := m.Update(keyRunes("l"))
	if m.activeTab != 1 {
		t.Fatalf("expected second tab active")
	}
	if cmd == nil {
		t.Fatalf("expected load command")
	}
	if !m.active().loading {
		t.Fatalf("expected second tab loading")
	}
}

func TestExportWritesActiveRows(t *testing.T) {
	raw := model.RawFields{
		"id_collecte":   json.RawMessage(`"a1"`),
		"montant_achat": json.RawMessage(`50`),
	}
	ctrl := &fakeController{
		kind:    view.AverageBasket,
		records: []model.Purchase{{ID: "a1", Amount: 50, Raw: raw}},
	}
	recorder := &fakeRecorder{}
	dir := t.TempDir()
	m := NewModel(Config{
		Controllers:  []Controller{ctrl},
		Exports:      recorder,
		ExportDir:    dir,
		ExportFormat: export.CSV,
	})
	m.Update(tea.WindowSizeMsg{Width: 120, Height: 40})

	if cmd := m.exportActive(); cmd != nil {
		t.Fatalf("export should wait for the first load")
	}
	runCmd(t, m, m.Init())
	_, cmd := m.Update(keyRunes("x"))
	runCmd(t, m, cmd)

	path := filepath.Join(dir, "average-basket_data.csv")
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read export: %v", err)
	}
	if !strings.Contains(string(data), "a1") {
		t.Fatalf("export missing record: %q", data)
	}
	if len(recorder.records) != 1 || recorder.records[0].Rows != 1 || recorder.records[0].Path != path {
		t.Fatalf("unexpected export history %+v", recorder.records)
	}
	if !strings.Contains(m.statusMsg, "Exporté") {
		t.Fatalf("expected export status, got %q", m.statusMsg)
	}
}

func TestLogoutResetsTabs(t *testing.T) {
	ctrl := &fakeController{kind: view.Overview}
	m, gate := newTestModel(ctrl)
	runCmd(t, m, m.Init())
	_, cmd := m.Update(keyRunes("L"))
	runCmd(t, m, cmd)
	if gate.logouts != 1 {
		t.Fatalf("expected logout")
	}
	if !m.loginMode || m.active().loaded {
		t.Fatalf("expected login mode with unloaded tabs")
	}
}

func TestRecordTableMode(t *testing.T) {
	ctrl := &fakeController{
		kind: view.CSPByCategory,
		records: []model.Purchase{
			{ID: "a1", CSP: "Employes", Category: "1", Amount: 100, Quantity: 2, CollectedAt: time.Date(2023, 1, 5, 10, 0, 0, 0, time.UTC)},
		},
	}
	m, _ := newTestModel(ctrl)
	runCmd(t, m, m.Init())
	m.Update(keyRunes("t"))
	if !m.tableMode || m.recordsLayout.rowCount != 1 {
		t.Fatalf("expected one record row, got %d", m.recordsLayout.rowCount)
	}
	if !strings.Contains(m.View(), "2023-01-05 10:00") {
		t.Fatalf("record table missing date:\n%s", m.View())
	}
}

func TestRenderSnapshotComparisonPane(t *testing.T) {
	f := NewModel(Config{}).cfg.Formatter
	snap := view.Snapshot{Kind: view.AverageBasket, Selected: 2, Primary: view.Report{Total: model.Totals{Amount: 100, Quantity: 2}}}
	if strings.Contains(renderSnapshot(snap, 100, f), "Période de comparaison") {
		t.Fatalf("comparison pane rendered without comparison")
	}
	start := time.Date(2022, 1, 1, 0, 0, 0, 0, time.UTC)
	snap.ComparisonActive = true
	snap.Bounds = model.Bounds{CompareStart: &start, CompareEnd: &start}
	snap.Comparison = &view.Report{Total: model.Totals{Amount: 30, Quantity: 1}}
	if !strings.Contains(renderSnapshot(snap, 100, f), "Période de comparaison") {
		t.Fatalf("comparison pane missing")
	}
}

func TestNewModelDoesNotLogToTerminalByDefault(t *testing.T) {
	m := NewModel(Config{Controllers: []Controller{&fakeController{kind: view.Overview}}})
	if m.logger == nil {
		t.Fatalf("expected a logger")
	}
	if m.logger.Handler() == slog.Default().Handler() {
		t.Fatalf("default logger would write over the alt screen")
	}
}
