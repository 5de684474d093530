package stats

import (
	"math"
	"strings"
)

const sparkChars = " ▁▂▃▄▅▆▇█"

// Sparkline renders a single-line sparkline for the values. NaN values render as gaps.
func Sparkline(values []float64) string {
	if len(values) == 0 {
		return ""
	}
	chars := []rune(sparkChars)
	minVal, maxVal := math.Inf(1), math.Inf(-1)
	for _, v := range values {
		if math.IsNaN(v) {
			continue
		}
		minVal = math.Min(minVal, v)
		maxVal = math.Max(maxVal, v)
	}
	if math.IsInf(minVal, 1) {
		return strings.Repeat(" ", len(values))
	}
	var b strings.Builder
	for _, v := range values {
		if math.IsNaN(v) {
			b.WriteRune(' ')
			continue
		}
		if math.Abs(maxVal-minVal) < 1e-9 {
			b.WriteRune(chars[len(chars)/2])
			continue
		}
		pos := (v - minVal) / (maxVal - minVal)
		idx := 1 + int(math.Round(pos*float64(len(chars)-2)))
		if idx >= len(chars) {
			idx = len(chars) - 1
		}
		b.WriteRune(chars[idx])
	}
	return b.String()
}

// Change returns the relative change from base to current, and false when
// base is zero or either value is not finite.
func Change(base, current float64) (float64, bool) {
	if base == 0 || math.IsNaN(base) || math.IsNaN(current) || math.IsInf(base, 0) || math.IsInf(current, 0) {
		return 0, false
	}
	return (current - base) / math.Abs(base), true
}
