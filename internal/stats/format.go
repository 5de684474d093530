package stats

import (
	"math"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// DefaultLocale is used when no display locale is configured.
const DefaultLocale = "fr"

var frenchMonths = []string{
	"janvier", "février", "mars", "avril", "mai", "juin",
	"juillet", "août", "septembre", "octobre", "novembre", "décembre",
}

// Formatter formats numbers and month names for a locale.
type Formatter struct {
	tag     language.Tag
	printer *message.Printer
	title   cases.Caser
}

// NewFormatter returns a Formatter for a BCP 47 locale such as "fr" or "en-GB".
// Unknown locales fall back to DefaultLocale.
func NewFormatter(locale string) Formatter {
	if strings.TrimSpace(locale) == "" {
		locale = DefaultLocale
	}
	tag, err := language.Parse(locale)
	if err != nil {
		tag = language.French
	}
	return Formatter{
		tag:     tag,
		printer: message.NewPrinter(tag),
		title:   cases.Title(tag),
	}
}

// IsZero reports whether f was built without NewFormatter.
func (f Formatter) IsZero() bool {
	return f.printer == nil
}

// Amount formats a monetary amount with two decimals and locale grouping.
func (f Formatter) Amount(v float64) string {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return "NaN"
	}
	return f.printer.Sprintf("%.2f", v)
}

// Count formats a quantity. Whole values print without decimals.
func (f Formatter) Count(v float64) string {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return "NaN"
	}
	if v == math.Trunc(v) {
		return f.printer.Sprintf("%d", int64(v))
	}
	return f.printer.Sprintf("%.1f", v)
}

// Month returns the display name of month m (1-12).
func (f Formatter) Month(m int) string {
	if m < 1 || m > 12 {
		return ""
	}
	base, _ := f.tag.Base()
	if base.String() == "fr" {
		return f.title.String(frenchMonths[m-1])
	}
	return time.Month(m).String()
}

// ShortMonth returns the first three letters of the month name.
func (f Formatter) ShortMonth(m int) string {
	name := []rune(f.Month(m))
	if len(name) > 3 {
		name = name[:3]
	}
	return string(name)
}
