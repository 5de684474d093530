package stats

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/verte-zerg/panier/internal/filter"
	"github.com/verte-zerg/panier/internal/model"
	"github.com/verte-zerg/panier/internal/view"
)

// RenderOptions controls report rendering.
type RenderOptions struct {
	Width      int
	PlotHeight int
	Color      bool
	NoCharts   bool
	Formatter  Formatter
}

// stickyWriter keeps the first write error so rendering code stays linear.
type stickyWriter struct {
	w   io.Writer
	err error
}

func (s *stickyWriter) Write(p []byte) (int, error) {
	if s.err != nil {
		return 0, s.err
	}
	n, err := s.w.Write(p)
	s.err = err
	return n, err
}

func (s *stickyWriter) line(format string, args ...any) {
	_, _ = fmt.Fprintf(s, format+"\n", args...)
}

func (s *stickyWriter) lines(lines []string) {
	for _, l := range lines {
		s.line("%s", l)
	}
	s.line("")
}

// RenderSnapshot writes the text report of a view snapshot.
func RenderSnapshot(w io.Writer, snap view.Snapshot, opts RenderOptions) error {
	if opts.Formatter.IsZero() {
		opts.Formatter = NewFormatter(DefaultLocale)
	}
	sw := &stickyWriter{w: w}
	sw.line("%s", snap.Kind.Title())
	if summary := FilterSummary(snap.Spec); summary != "" {
		sw.line("Filtre : %s", summary)
	}
	sw.line("Nombre de lignes sélectionnées : %d", snap.Selected)
	if snap.Rejected > 0 {
		sw.line("Lignes rejetées à l'import : %d", snap.Rejected)
	}
	sw.line("")

	if err := renderReport(sw, snap, snap.Primary, opts); err != nil {
		return err
	}
	if snap.ComparisonActive && snap.Comparison != nil {
		sw.line("Période de comparaison : %s → %s (%d lignes)",
			formatBound(snap.Bounds.CompareStart), formatBound(snap.Bounds.CompareEnd), snap.ComparisonSelected)
		sw.line("")
		if err := renderComparison(sw, snap, opts); err != nil {
			return err
		}
	}
	return sw.err
}

// FilterSummary describes a filter on one line, or "" when it is empty.
func FilterSummary(spec model.FilterSpec) string {
	parts := []string{}
	if len(spec.CSPs) > 0 {
		parts = append(parts, "CSP "+strings.Join(spec.CSPs, ", "))
	}
	if len(spec.Categories) > 0 {
		parts = append(parts, "catégories "+strings.Join(spec.Categories, ", "))
	}
	if spec.Start != nil || spec.End != nil {
		parts = append(parts, fmt.Sprintf("période %s → %s", formatBound(spec.Start), formatBound(spec.End)))
	}
	if spec.CompareStart != nil || spec.CompareEnd != nil {
		parts = append(parts, fmt.Sprintf("comparaison %s → %s", formatBound(spec.CompareStart), formatBound(spec.CompareEnd)))
	}
	return strings.Join(parts, " · ")
}

func formatBound(t *time.Time) string {
	if t == nil {
		return "…"
	}
	return t.Format(filter.DateLayout)
}

func renderReport(sw *stickyWriter, snap view.Snapshot, r view.Report, opts RenderOptions) error {
	f := opts.Formatter
	switch snap.Kind {
	case view.Overview:
		renderOverview(sw, r, opts)
	case view.CSPByCategory, view.CategoryByCSP:
		sw.lines(CrossTabLines(r.Table, f, false))
		if top := TopByAmount(r.Rows, 1); len(top) == 1 {
			sw.line("En tête : %s (%s)", keyLabel(r.Table.Primary, top[0].Key, f), f.Amount(top[0].AmountTotal))
			sw.line("")
		}
		renderRowBars(sw, r.Table.Primary, "Montant total", r.Rows, func(row model.AggregateRow) float64 { return row.AmountTotal }, opts)
	case view.AverageBasket:
		sw.line("Panier moyen global : %s", f.Amount(r.Total.Average()))
		sw.line("")
		sw.lines(AggregateLines(model.DimCSP, r.Rows, f))
		sw.lines(AggregateLines(model.DimMonth, r.Monthly, f))
		renderRowBars(sw, model.DimCSP, "Panier moyen par CSP", r.Rows, func(row model.AggregateRow) float64 { return row.AverageBasket }, opts)
	case view.PeakTimes:
		renderPeak(sw, r, opts)
	default:
		return fmt.Errorf("unknown view %q", snap.Kind)
	}
	return sw.err
}

func renderOverview(sw *stickyWriter, r view.Report, opts RenderOptions) {
	if r.Overview == nil {
		return
	}
	f := opts.Formatter
	ov := r.Overview
	if ov.Year != 0 {
		sw.line("Année : %d", ov.Year)
	}
	totals := make([]float64, len(ov.Months))
	labels := make([]string, len(ov.Months))
	headers := []string{"Mois", "Montant", "Qté", "Panier moyen"}
	for _, csp := range ov.CSPs {
		headers = append(headers, model.CSPLabel(csp))
	}
	rows := make([][]string, 0, len(ov.Months))
	for i, m := range ov.Months {
		totals[i] = m.Totals.Amount
		labels[i] = f.ShortMonth(m.Month)
		row := []string{f.Month(m.Month), f.Amount(m.Totals.Amount), f.Count(m.Totals.Quantity), f.Amount(m.Totals.Average())}
		for _, v := range m.ByCSP {
			row = append(row, f.Amount(v))
		}
		rows = append(rows, row)
	}
	sw.line("Tendance : %s", Sparkline(totals))
	sw.line("")
	sw.lines(FormatTable(headers, rows, rightAlignFrom(1, len(headers))))
	if opts.NoCharts {
		return
	}
	_ = RenderBars(sw, BarChart{
		Title:  "Montant par mois",
		Labels: labels,
		Series: []Series{{Name: "Montant", Values: totals}},
		Format: f.Amount,
	}, opts.Width, opts.Color)
}

func renderPeak(sw *stickyWriter, r view.Report, opts RenderOptions) {
	if r.Peak == nil {
		return
	}
	f := opts.Formatter
	peak := r.Peak
	if peak.AverageMode {
		sw.line("Moyenne journalière sur %d jours", peak.Days)
	}
	if h := PeakHour(peak.Hours); h >= 0 {
		sw.line("Heure de pointe : %dh", h)
	}
	sw.line("")

	headers := []string{"Heure", "Chiffre d'affaires"}
	for _, csp := range peak.CSPs {
		headers = append(headers, model.CSPLabel(csp))
	}
	rows := make([][]string, 0, len(peak.Hours))
	xLabels := make([]string, len(peak.Hours))
	visits := make([]Series, len(peak.CSPs))
	for i, csp := range peak.CSPs {
		visits[i] = Series{Name: model.CSPLabel(csp), Values: make([]float64, len(peak.Hours))}
	}
	for i, h := range peak.Hours {
		row := []string{fmt.Sprintf("%dh", h.Hour), f.Amount(h.Revenue)}
		for ci, v := range h.Visits {
			row = append(row, f.Count(v))
			visits[ci].Values[i] = v
		}
		rows = append(rows, row)
		if h.Hour%6 == 0 {
			xLabels[i] = fmt.Sprintf("%dh", h.Hour)
		}
	}
	sw.lines(FormatTable(headers, rows, rightAlignFrom(1, len(headers))))
	if !opts.NoCharts {
		active := visits[:0:0]
		for _, s := range visits {
			for _, v := range s.Values {
				if v > 0 {
					active = append(active, s)
					break
				}
			}
		}
		_ = RenderLines(sw, LineChart{
			Title:   "Affluence par heure",
			XLabels: xLabels,
			Series:  active,
			Format:  f.Count,
		}, opts.Width, opts.PlotHeight, opts.Color)
	}
	sw.line("CSP × catégorie (totaux)")
	sw.lines(CrossTabLines(peak.CrossTab, f, false))
}

func renderRowBars(sw *stickyWriter, dim, title string, rows []model.AggregateRow, value func(model.AggregateRow) float64, opts RenderOptions) {
	if opts.NoCharts || len(rows) == 0 {
		return
	}
	labels := make([]string, len(rows))
	values := make([]float64, len(rows))
	for i, row := range rows {
		labels[i] = keyLabel(dim, row.Key, opts.Formatter)
		values[i] = value(row)
	}
	_ = RenderBars(sw, BarChart{
		Title:  title,
		Labels: labels,
		Series: []Series{{Name: title, Values: values}},
		Format: opts.Formatter.Amount,
	}, opts.Width, opts.Color)
}

func renderComparison(sw *stickyWriter, snap view.Snapshot, opts RenderOptions) error {
	f := opts.Formatter
	cmp := *snap.Comparison
	switch snap.Kind {
	case view.Overview:
		renderOverview(sw, cmp, opts)
		return sw.err
	case view.PeakTimes:
		renderPeak(sw, cmp, opts)
		return sw.err
	}

	dim := model.DimCSP
	if snap.Kind == view.CategoryByCSP {
		dim = model.DimCategory
	}
	value := func(row model.AggregateRow) float64 { return row.AmountTotal }
	if snap.Kind == view.AverageBasket {
		value = func(row model.AggregateRow) float64 { return row.AverageBasket }
	}
	sw.lines(ComparisonLines(dim, snap.Primary.Rows, cmp.Rows, value, f))
	if snap.Kind != view.AverageBasket {
		sw.lines(CrossTabLines(cmp.Table, f, false))
	}
	if opts.NoCharts {
		return sw.err
	}
	labels, primary, secondary := alignRows(snap.Primary.Rows, cmp.Rows, value)
	for i := range labels {
		labels[i] = keyLabel(dim, labels[i], f)
	}
	_ = RenderBars(sw, BarChart{
		Title:  "Comparaison",
		Labels: labels,
		Series: []Series{{Name: "Période", Values: primary}, {Name: "Comparaison", Values: secondary}},
		Format: f.Amount,
	}, opts.Width, opts.Color)
	return sw.err
}

// ComparisonLines renders a key | period | comparison | change table.
func ComparisonLines(dim string, primary, comparison []model.AggregateRow, value func(model.AggregateRow) float64, f Formatter) []string {
	keys, a, b := alignRows(primary, comparison, value)
	rows := make([][]string, len(keys))
	for i, key := range keys {
		change := "–"
		if pct, ok := Change(b[i], a[i]); ok {
			change = fmt.Sprintf("%+.1f%%", pct*100)
		}
		rows[i] = []string{keyLabel(dim, key, f), f.Amount(a[i]), f.Amount(b[i]), change}
	}
	return FormatTable([]string{dimTitle(dim), "Période", "Comparaison", "Écart"}, rows, map[int]bool{1: true, 2: true, 3: true})
}

func alignRows(primary, comparison []model.AggregateRow, value func(model.AggregateRow) float64) ([]string, []float64, []float64) {
	index := map[string]int{}
	var keys []string
	var a, b []float64
	add := func(key string) int {
		if i, ok := index[key]; ok {
			return i
		}
		index[key] = len(keys)
		keys = append(keys, key)
		a = append(a, 0)
		b = append(b, 0)
		return len(keys) - 1
	}
	for _, row := range primary {
		a[add(row.Key)] = value(row)
	}
	for _, row := range comparison {
		b[add(row.Key)] = value(row)
	}
	return keys, a, b
}

// AggregateLines renders single-dimension rows as a table.
func AggregateLines(dim string, rows []model.AggregateRow, f Formatter) []string {
	table := make([][]string, len(rows))
	for i, row := range rows {
		table[i] = []string{
			keyLabel(dim, row.Key, f),
			f.Amount(row.AmountTotal),
			f.Count(row.QuantityTotal),
			f.Amount(row.AverageBasket),
		}
	}
	return FormatTable([]string{dimTitle(dim), "Montant", "Qté", "Panier moyen"}, table, map[int]bool{1: true, 2: true, 3: true})
}

// CrossTabLines renders a cross-tab with one amount column per secondary key
// and a total column. With averages set, cells show the average basket.
func CrossTabLines(table model.CrossTab, f Formatter, averages bool) []string {
	headers := []string{dimTitle(table.Primary)}
	for _, col := range table.Columns {
		headers = append(headers, keyLabel(table.Secondary, col, f))
	}
	headers = append(headers, "Total")
	cell := func(t model.Totals) string {
		if averages {
			return f.Amount(t.Average())
		}
		return f.Amount(t.Amount)
	}
	rows := make([][]string, len(table.Rows))
	for i, row := range table.Rows {
		line := []string{keyLabel(table.Primary, row.Key, f)}
		for _, col := range table.Columns {
			c, _ := table.Cell(row, col)
			line = append(line, cell(c))
		}
		rows[i] = append(line, cell(row.Total))
	}
	return FormatTable(headers, rows, rightAlignFrom(1, len(headers)))
}

func keyLabel(dim, key string, f Formatter) string {
	switch dim {
	case model.DimCategory:
		return model.CategoryLabel(key)
	case model.DimCSP:
		return model.CSPLabel(key)
	case model.DimMonth:
		var m int
		if _, err := fmt.Sscanf(key, "%d", &m); err == nil {
			return f.Month(m)
		}
	case model.DimHour:
		return key + "h"
	}
	return key
}

func dimTitle(dim string) string {
	switch dim {
	case model.DimCSP:
		return "CSP"
	case model.DimCategory:
		return "Catégorie"
	case model.DimMonth:
		return "Mois"
	case model.DimHour:
		return "Heure"
	}
	return dim
}

func rightAlignFrom(first, count int) map[int]bool {
	out := make(map[int]bool, count)
	for i := first; i < count; i++ {
		out[i] = true
	}
	return out
}

// RenderExports prints the export history.
func RenderExports(w io.Writer, records []model.ExportRecord) error {
	if len(records) == 0 {
		_, err := fmt.Fprintln(w, "No exports found.")
		return err
	}
	rows := make([][]string, len(records))
	for i, r := range records {
		rows[i] = []string{
			r.ExportedAt.Local().Format("2006-01-02 15:04"),
			r.View,
			r.Format,
			fmt.Sprintf("%d", r.Rows),
			r.Path,
		}
	}
	sw := &stickyWriter{w: w}
	for _, line := range FormatTable([]string{"Date", "View", "Format", "Rows", "Path"}, rows, map[int]bool{3: true}) {
		sw.line("%s", line)
	}
	return sw.err
}
