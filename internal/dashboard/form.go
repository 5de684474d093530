package dashboard

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/charmbracelet/bubbles/cursor"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/verte-zerg/panier/internal/filter"
	"github.com/verte-zerg/panier/internal/model"
)

const (
	fieldCSP = iota
	fieldCategories
	fieldStart
	fieldEnd
	fieldCompareStart
	fieldCompareEnd
	fieldYear
)

func newInput(prompt string) textinput.Model {
	input := textinput.New()
	input.Prompt = prompt
	input.CharLimit = 0
	input.Cursor.SetMode(cursor.CursorBlink)
	return input
}

func (m *Model) initInputs() {
	m.filterInputs = []textinput.Model{
		newInput("CSP : "),
		newInput("Catégories : "),
		newInput("Début (AAAA-MM-JJ) : "),
		newInput("Fin (AAAA-MM-JJ) : "),
		newInput("Début comparaison : "),
		newInput("Fin comparaison : "),
		newInput("Année : "),
	}
	m.filterInputs[fieldCSP].Placeholder = "Employes,Etudiants"
	m.filterInputs[fieldCategories].Placeholder = "1,2"

	user := newInput("Utilisateur : ")
	password := newInput("Mot de passe : ")
	password.EchoMode = textinput.EchoPassword
	password.EchoCharacter = '•'
	m.loginInputs = []textinput.Model{user, password}
}

func (m *Model) setInputsFromSpec() {
	tab := m.active()
	in := filter.FormatInput(tab.ctrl.Spec())
	m.filterInputs[fieldCSP].SetValue(in.CSPs)
	m.filterInputs[fieldCategories].SetValue(in.Categories)
	m.filterInputs[fieldStart].SetValue(in.Start)
	m.filterInputs[fieldEnd].SetValue(in.End)
	m.filterInputs[fieldCompareStart].SetValue(in.CompareStart)
	m.filterInputs[fieldCompareEnd].SetValue(in.CompareEnd)
	year := ""
	if tab.loaded && tab.snap.Year > 0 {
		year = strconv.Itoa(tab.snap.Year)
	}
	m.filterInputs[fieldYear].SetValue(year)
}

func (m *Model) startFilter() (tea.Model, tea.Cmd) {
	m.filterMode = true
	m.filterError = ""
	m.setInputsFromSpec()
	return m, focusInputs(m.filterInputs, &m.filterIndex, 0)
}

func (m *Model) updateFilter(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyEsc:
		m.filterMode = false
		m.filterError = ""
		return m, nil
	case tea.KeyEnter:
		spec, year, err := m.parseFilter()
		if err != nil {
			m.filterError = err.Error()
			return m, nil
		}
		m.filterMode = false
		m.filterError = ""
		return m, m.submit(spec, year)
	case tea.KeyTab, tea.KeyDown:
		return m, focusInputs(m.filterInputs, &m.filterIndex, m.filterIndex+1)
	case tea.KeyShiftTab, tea.KeyUp:
		return m, focusInputs(m.filterInputs, &m.filterIndex, m.filterIndex-1)
	}
	var cmd tea.Cmd
	m.filterInputs[m.filterIndex], cmd = m.filterInputs[m.filterIndex].Update(msg)
	return m, cmd
}

// parseFilter reads the form. An empty year selects every year.
func (m *Model) parseFilter() (model.FilterSpec, int, error) {
	in := filter.Input{
		CSPs:         m.filterInputs[fieldCSP].Value(),
		Categories:   m.filterInputs[fieldCategories].Value(),
		Start:        m.filterInputs[fieldStart].Value(),
		End:          m.filterInputs[fieldEnd].Value(),
		CompareStart: m.filterInputs[fieldCompareStart].Value(),
		CompareEnd:   m.filterInputs[fieldCompareEnd].Value(),
	}
	spec, err := filter.ParseSpec(in, m.active().ctrl.Location())
	if err != nil {
		return model.FilterSpec{}, 0, err
	}
	year := 0
	if raw := strings.TrimSpace(m.filterInputs[fieldYear].Value()); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			return model.FilterSpec{}, 0, fmt.Errorf("invalid year %q", raw)
		}
		year = parsed
	}
	return spec, year, nil
}

func (m *Model) renderFilterForm() string {
	title := fmt.Sprintf("Filtre : %s (entrée pour appliquer, échap pour annuler)", m.active().ctrl.Kind().Title())
	lines := []string{title}
	for _, input := range m.filterInputs {
		lines = append(lines, input.View())
	}
	if m.filterError != "" {
		lines = append(lines, errorStyle.Render(m.filterError))
	}
	return strings.Join(lines, "\n")
}

func (m *Model) startLogin() (tea.Model, tea.Cmd) {
	m.loginMode = true
	m.filterMode = false
	m.loginInputs[0].SetValue(m.username)
	m.loginInputs[1].SetValue("")
	start := 0
	if m.username != "" {
		start = 1
	}
	return m, focusInputs(m.loginInputs, &m.loginIndex, start)
}

func (m *Model) updateLogin(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if m.loggingIn {
		return m, nil
	}
	switch msg.Type {
	case tea.KeyEsc:
		return m, tea.Quit
	case tea.KeyEnter:
		if m.loginIndex == 0 {
			return m, focusInputs(m.loginInputs, &m.loginIndex, 1)
		}
		username := strings.TrimSpace(m.loginInputs[0].Value())
		password := m.loginInputs[1].Value()
		if username == "" || password == "" {
			m.loginError = "Veuillez saisir l'utilisateur et le mot de passe."
			return m, nil
		}
		m.loginError = ""
		m.loggingIn = true
		return m, m.login(username, password)
	case tea.KeyTab, tea.KeyDown:
		return m, focusInputs(m.loginInputs, &m.loginIndex, m.loginIndex+1)
	case tea.KeyShiftTab, tea.KeyUp:
		return m, focusInputs(m.loginInputs, &m.loginIndex, m.loginIndex-1)
	}
	var cmd tea.Cmd
	m.loginInputs[m.loginIndex], cmd = m.loginInputs[m.loginIndex].Update(msg)
	return m, cmd
}

func (m *Model) renderLoginModal() string {
	body := []string{cardValueStyle.Render("Connexion")}
	for _, input := range m.loginInputs {
		body = append(body, input.View())
	}
	hint := "Entrée pour valider / Échap pour quitter"
	if m.loggingIn {
		hint = "Connexion en cours…"
	}
	body = append(body, headerStyle.Render(hint))
	if m.loginError != "" {
		body = append(body, errorStyle.Render(wrapText(m.loginError, modalInnerWidth(m.width))))
	}
	box := modalStyle.Width(modalWidth(m.width)).Render(strings.Join(body, "\n"))
	return lipgloss.Place(m.width, m.height, lipgloss.Center, lipgloss.Center, box)
}

// focusInputs focuses inputs[idx], wrapping around, and blurs the others.
func focusInputs(inputs []textinput.Model, index *int, idx int) tea.Cmd {
	count := len(inputs)
	if count == 0 {
		return nil
	}
	if idx < 0 {
		idx = count - 1
	}
	if idx >= count {
		idx = 0
	}
	*index = idx
	var cmd tea.Cmd
	for i := range inputs {
		if i == idx {
			cmd = inputs[i].Focus()
		} else {
			inputs[i].Blur()
		}
	}
	return cmd
}
