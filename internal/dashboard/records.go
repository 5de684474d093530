package dashboard

import (
	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/lipgloss"

	"github.com/verte-zerg/panier/internal/model"
	"github.com/verte-zerg/panier/internal/stats"
)

const recordTimeLayout = "2006-01-02 15:04"

type tableLayout struct {
	width    int
	height   int
	rowCount int
}

func recordColumns() []table.Column {
	return []table.Column{
		{Title: "Id", Width: 12},
		{Title: "CSP", Width: 13},
		{Title: "Catégorie", Width: 12},
		{Title: "Montant", Width: 12},
		{Title: "Qté", Width: 6},
		{Title: "Date", Width: 16},
	}
}

func recordRows(records []model.Purchase, f stats.Formatter) []table.Row {
	rows := make([]table.Row, 0, len(records))
	for _, r := range records {
		date := ""
		if r.HasCollectedAt() {
			date = r.CollectedAt.Format(recordTimeLayout)
		}
		rows = append(rows, table.Row{
			r.ID,
			model.CSPLabel(r.CSP),
			model.CategoryLabel(r.Category),
			f.Amount(r.Amount),
			f.Count(r.Quantity),
			date,
		})
	}
	return rows
}

func newRecordTable() table.Model {
	t := table.New(
		table.WithColumns(recordColumns()),
		table.WithHeight(1),
	)
	t.SetStyles(recordTableStyles())
	return t
}

func recordTableStyles() table.Styles {
	styles := table.DefaultStyles()
	styles.Header = styles.Header.
		Border(lipgloss.NormalBorder(), false, false, true, false).
		BorderForeground(lipgloss.Color("#4A4A4A")).
		Foreground(lipgloss.Color("#C0C0C0")).
		Bold(true).
		Padding(0, 1).
		PaddingLeft(0)
	styles.Cell = styles.Cell.
		Padding(0, 1).
		PaddingLeft(0)
	styles.Selected = styles.Cell.
		Foreground(lipgloss.Color("#F0F0F0")).
		Bold(true)
	return styles
}

// setRecords replaces the table rows and resizes it to the body.
func (m *Model) setRecords(records []model.Purchase, width, height int) {
	rows := recordRows(records, m.cfg.Formatter)
	m.records.SetRows(rows)
	m.records.GotoTop()
	m.recordsLayout.rowCount = len(rows)
	m.recordsLayout.width = 0
	m.setRecordTableSize(width, height)
}

func (m *Model) setRecordTableSize(width, height int) {
	viewportHeight := maxInt(1, height-1)
	if m.recordsLayout.width == width && m.recordsLayout.height == viewportHeight {
		return
	}
	m.recordsLayout.width = width
	m.recordsLayout.height = viewportHeight
	m.records.SetWidth(width)
	m.records.SetHeight(viewportHeight)
	viewportHeight = m.adjustRecordTableHeight(height)
	if m.recordsLayout.height != viewportHeight {
		m.recordsLayout.height = viewportHeight
		m.records.SetHeight(viewportHeight)
	}
}

// adjustRecordTableHeight corrects the table height so the rendered view,
// header and border included, fills exactly bodyHeight lines.
func (m *Model) adjustRecordTableHeight(bodyHeight int) int {
	target := maxInt(1, bodyHeight)
	height := m.records.Height()
	viewHeight := lipgloss.Height(m.records.View())
	if viewHeight == target {
		return height
	}
	height += target - viewHeight
	if height < 1 {
		height = 1
	}
	m.records.SetHeight(height)
	viewHeight = lipgloss.Height(m.records.View())
	if viewHeight == target {
		return height
	}
	height += target - viewHeight
	if height < 1 {
		height = 1
	}
	return height
}
