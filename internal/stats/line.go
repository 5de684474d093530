package stats

import (
	"fmt"
	"io"
	"math"
	"strings"
)

const (
	defaultPlotHeight = 8
	minPlotWidth      = 12
	axisSeparator     = " ┤"
)

type lineStyle struct {
	name   string
	period int
	on     int
}

var lineStyles = []lineStyle{
	{name: "plein", period: 1, on: 1},
	{name: "tirets", period: 6, on: 3},
	{name: "pointillé", period: 4, on: 1},
	{name: "mixte", period: 8, on: 3},
}

// LineChart is a braille line plot of several series sharing one value axis.
type LineChart struct {
	Title   string
	XLabels []string
	Series  []Series
	Format  func(float64) string
}

// RenderLines writes chart to w. Width and height are in terminal cells; zero
// width uses the terminal width and zero height a default.
func RenderLines(w io.Writer, chart LineChart, width, height int, useColor bool) error {
	series := make([]Series, 0, len(chart.Series))
	points := 0
	for _, s := range chart.Series {
		if len(s.Values) == 0 {
			continue
		}
		series = append(series, s)
		if len(s.Values) > points {
			points = len(s.Values)
		}
	}
	if len(series) == 0 {
		return nil
	}
	format := chart.Format
	if format == nil {
		format = func(v float64) string { return fmt.Sprintf("%.1f", v) }
	}
	if height <= 0 {
		height = defaultPlotHeight
	}

	minVal, maxVal := 0.0, math.Inf(-1)
	for _, s := range series {
		for _, v := range s.Values {
			if !math.IsNaN(v) && v > maxVal {
				maxVal = v
			}
			if !math.IsNaN(v) && v < minVal {
				minVal = v
			}
		}
	}
	if math.IsInf(maxVal, -1) || maxVal-minVal < 1e-9 {
		maxVal = minVal + 1
	}

	topLabel := format(maxVal)
	bottomLabel := format(minVal)
	axisWidth := displayWidth(topLabel)
	if bw := displayWidth(bottomLabel); bw > axisWidth {
		axisWidth = bw
	}
	if width <= 0 {
		width = TerminalWidth()
	}
	plotWidth := width - axisWidth - displayWidth(axisSeparator)
	if plotWidth < minPlotWidth {
		plotWidth = minPlotWidth
	}

	cells := make([][][]uint8, len(series))
	for si, s := range series {
		cells[si] = makeCells(height, plotWidth)
		values := resampleSeries(s.Values, plotWidth)
		style := lineStyles[si%len(lineStyles)]
		prevX, prevY := -1, -1
		for x, v := range values {
			if math.IsNaN(v) {
				prevX, prevY = -1, -1
				continue
			}
			px := x * 2
			py := valueToRow(v, minVal, maxVal, height*4)
			if prevX >= 0 {
				drawLine(prevX, prevY, px, py, func(dx, dy int) {
					if style.shouldPlot(dx) {
						setBrailleDot(cells[si], dx, dy)
					}
				})
			} else {
				setBrailleDot(cells[si], px, py)
			}
			prevX, prevY = px, py
		}
	}

	if chart.Title != "" {
		if _, err := fmt.Fprintln(w, chart.Title); err != nil {
			return err
		}
	}
	for y := 0; y < height; y++ {
		label := ""
		switch y {
		case 0:
			label = topLabel
		case height - 1:
			label = bottomLabel
		}
		var row strings.Builder
		row.WriteString(padCell(label, axisWidth, true))
		row.WriteString(axisSeparator)
		for x := 0; x < plotWidth; x++ {
			mask, colorIdx := composeCell(cells, x, y)
			ch := string(brailleFromMask(mask))
			if len(series) > 1 {
				ch = colorize(ch, colorIdx, useColor)
			}
			row.WriteString(ch)
		}
		if _, err := fmt.Fprintln(w, row.String()); err != nil {
			return err
		}
	}
	if axis := xAxis(chart.XLabels, points, plotWidth); axis != "" {
		if _, err := fmt.Fprintln(w, strings.Repeat(" ", axisWidth+displayWidth(axisSeparator))+axis); err != nil {
			return err
		}
	}
	if _, err := fmt.Fprintln(w, lineLegend(series, useColor)); err != nil {
		return err
	}
	_, err := fmt.Fprintln(w, "")
	return err
}

// xAxis places labels under the plot at the columns of their points,
// skipping labels that would overlap.
func xAxis(labels []string, points, width int) string {
	if len(labels) == 0 || points == 0 {
		return ""
	}
	line := []rune(strings.Repeat(" ", width))
	next := 0
	for i, label := range labels {
		if i >= points {
			break
		}
		col := 0
		if points > 1 {
			col = int(math.Round(float64(i) * float64(width-1) / float64(points-1)))
		}
		runes := []rune(label)
		if col < next || col+len(runes) > width {
			continue
		}
		copy(line[col:], runes)
		next = col + len(runes) + 1
	}
	return strings.TrimRight(string(line), " ")
}

func lineLegend(series []Series, useColor bool) string {
	parts := make([]string, 0, len(series))
	marker := string(brailleFromMask(0x01 | 0x08))
	for i, s := range series {
		label := fmt.Sprintf("%s %s (%s)", marker, s.Name, lineStyles[i%len(lineStyles)].name)
		if len(series) > 1 {
			label = colorize(label, i, useColor)
		}
		parts = append(parts, label)
	}
	return "Légende : " + strings.Join(parts, "  ")
}

func makeCells(height, width int) [][]uint8 {
	cells := make([][]uint8, height)
	for y := range cells {
		cells[y] = make([]uint8, width)
	}
	return cells
}

func composeCell(seriesCells [][][]uint8, x, y int) (uint8, int) {
	var mask uint8
	colorIdx := -1
	for i, cells := range seriesCells {
		if y < 0 || y >= len(cells) || x < 0 || x >= len(cells[y]) {
			continue
		}
		if cells[y][x] == 0 {
			continue
		}
		if colorIdx == -1 {
			colorIdx = i
		}
		mask |= cells[y][x]
	}
	return mask, colorIdx
}

func (ls lineStyle) shouldPlot(x int) bool {
	if ls.period <= 1 {
		return true
	}
	if x < 0 {
		x = -x
	}
	return x%ls.period < ls.on
}

// resampleSeries stretches or averages values onto width columns.
func resampleSeries(values []float64, width int) []float64 {
	if len(values) == 0 || width <= 0 {
		return nil
	}
	out := make([]float64, width)
	if len(values) > width {
		for i := 0; i < width; i++ {
			start := i * len(values) / width
			end := (i + 1) * len(values) / width
			if end <= start {
				end = start + 1
			}
			var sum float64
			for _, v := range values[start:end] {
				sum += v
			}
			out[i] = sum / float64(end-start)
		}
		return out
	}
	if len(values) == 1 || width == 1 {
		for i := range out {
			out[i] = values[0]
		}
		return out
	}
	for i := 0; i < width; i++ {
		pos := float64(i) * float64(len(values)-1) / float64(width-1)
		idx := int(math.Floor(pos))
		if idx >= len(values)-1 {
			out[i] = values[len(values)-1]
			continue
		}
		frac := pos - float64(idx)
		out[i] = values[idx]*(1-frac) + values[idx+1]*frac
	}
	return out
}

func valueToRow(v, minVal, maxVal float64, height int) int {
	if height <= 1 {
		return 0
	}
	pos := (v - minVal) / (maxVal - minVal)
	row := int(math.Round((1 - pos) * float64(height-1)))
	if row < 0 {
		return 0
	}
	if row >= height {
		return height - 1
	}
	return row
}

func drawLine(x0, y0, x1, y1 int, plot func(x, y int)) {
	dx := abs(x1 - x0)
	dy := -abs(y1 - y0)
	sx, sy := -1, -1
	if x0 < x1 {
		sx = 1
	}
	if y0 < y1 {
		sy = 1
	}
	err := dx + dy
	for {
		plot(x0, y0)
		if x0 == x1 && y0 == y1 {
			return
		}
		e2 := 2 * err
		if e2 >= dy {
			err += dy
			x0 += sx
		}
		if e2 <= dx {
			err += dx
			y0 += sy
		}
	}
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

func setBrailleDot(cells [][]uint8, x, y int) {
	cellY, cellX := y/4, x/2
	if y < 0 || x < 0 || cellY >= len(cells) || cellX >= len(cells[cellY]) {
		return
	}
	cells[cellY][cellX] |= brailleDotMask(x%2, y%4)
}

// brailleDotMask maps a dot position in a 2x4 braille cell to its bit.
func brailleDotMask(x, y int) uint8 {
	left := [4]uint8{0x01, 0x02, 0x04, 0x40}
	right := [4]uint8{0x08, 0x10, 0x20, 0x80}
	if y < 0 || y > 3 {
		return 0
	}
	if x == 0 {
		return left[y]
	}
	if x == 1 {
		return right[y]
	}
	return 0
}

func brailleFromMask(mask uint8) rune {
	return rune(0x2800 + int(mask))
}
