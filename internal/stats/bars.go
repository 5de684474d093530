package stats

import (
	"fmt"
	"io"
	"math"
	"strings"
)

const (
	minBarWidth   = 10
	maxLabelWidth = 22
)

var barEighths = []rune(" ▏▎▍▌▋▊▉█")

// Series is a named sequence of values.
type Series struct {
	Name   string
	Values []float64
}

// BarChart is a horizontal bar chart with one bar per series for each label.
type BarChart struct {
	Title  string
	Labels []string
	Series []Series
	Format func(float64) string
}

// RenderBars writes chart to w within width display cells. A width of zero
// uses the terminal width.
func RenderBars(w io.Writer, chart BarChart, width int, useColor bool) error {
	if len(chart.Labels) == 0 || len(chart.Series) == 0 {
		return nil
	}
	if width <= 0 {
		width = TerminalWidth()
	}
	format := chart.Format
	if format == nil {
		format = func(v float64) string { return fmt.Sprintf("%.2f", v) }
	}

	labelWidth := 0
	for _, label := range chart.Labels {
		if w := displayWidth(label); w > labelWidth {
			labelWidth = w
		}
	}
	if labelWidth > maxLabelWidth {
		labelWidth = maxLabelWidth
	}
	maxVal := 0.0
	valueWidth := 0
	for _, s := range chart.Series {
		for _, v := range s.Values {
			if !math.IsNaN(v) && v > maxVal {
				maxVal = v
			}
			if w := displayWidth(format(v)); w > valueWidth {
				valueWidth = w
			}
		}
	}
	barWidth := width - labelWidth - valueWidth - 4
	if barWidth < minBarWidth {
		barWidth = minBarWidth
	}

	if chart.Title != "" {
		if _, err := fmt.Fprintln(w, chart.Title); err != nil {
			return err
		}
	}
	for i, label := range chart.Labels {
		for si, s := range chart.Series {
			v := math.NaN()
			if i < len(s.Values) {
				v = s.Values[i]
			}
			name := ""
			if si == 0 {
				name = Truncate(label, labelWidth)
			}
			bar := barString(v, maxVal, barWidth)
			colorIdx := -1
			if len(chart.Series) > 1 {
				colorIdx = si
			}
			line := fmt.Sprintf("%s │%s %s",
				padCell(name, labelWidth, false),
				colorize(bar, colorIdx, useColor),
				format(v),
			)
			if _, err := fmt.Fprintln(w, line); err != nil {
				return err
			}
		}
	}
	if len(chart.Series) > 1 {
		if _, err := fmt.Fprintln(w, barLegend(chart.Series, useColor)); err != nil {
			return err
		}
	}
	_, err := fmt.Fprintln(w, "")
	return err
}

// barString renders v as a bar of at most width cells, using eighth blocks
// for the fractional cell.
func barString(v, maxVal float64, width int) string {
	if math.IsNaN(v) || v <= 0 || maxVal <= 0 {
		return strings.Repeat(" ", width)
	}
	eighths := int(math.Round(v / maxVal * float64(width*8)))
	if eighths > width*8 {
		eighths = width * 8
	}
	full := eighths / 8
	var b strings.Builder
	b.WriteString(strings.Repeat(string(barEighths[8]), full))
	cells := full
	if rem := eighths % 8; rem > 0 {
		b.WriteRune(barEighths[rem])
		cells++
	}
	b.WriteString(strings.Repeat(" ", width-cells))
	return b.String()
}

func barLegend(series []Series, useColor bool) string {
	parts := make([]string, 0, len(series))
	for i, s := range series {
		parts = append(parts, colorize(string(barEighths[8])+" "+s.Name, i, useColor))
	}
	return "Légende : " + strings.Join(parts, "  ")
}
