package filter

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/verte-zerg/panier/internal/ingest"
	"github.com/verte-zerg/panier/internal/model"
)

// DateLayout is the layout of filter dates.
const DateLayout = "2006-01-02"

// Input carries raw filter values from a form, flags or query string.
type Input struct {
	CSPs         string
	Categories   string
	Start        string
	End          string
	CompareStart string
	CompareEnd   string
}

// ParseSpec builds a FilterSpec from raw input. Lists are comma separated.
func ParseSpec(in Input, loc *time.Location) (model.FilterSpec, error) {
	if loc == nil {
		loc = time.Local
	}
	spec := model.FilterSpec{
		CSPs:       SplitList(in.CSPs),
		Categories: normalizeCategories(SplitList(in.Categories)),
	}
	fields := []struct {
		name   string
		value  string
		target **time.Time
	}{
		{"start date", in.Start, &spec.Start},
		{"end date", in.End, &spec.End},
		{"comparison start date", in.CompareStart, &spec.CompareStart},
		{"comparison end date", in.CompareEnd, &spec.CompareEnd},
	}
	for _, f := range fields {
		value := strings.TrimSpace(f.value)
		if value == "" {
			continue
		}
		parsed, err := time.ParseInLocation(DateLayout, value, loc)
		if err != nil {
			return model.FilterSpec{}, fmt.Errorf("invalid %s %q (expected YYYY-MM-DD)", f.name, value)
		}
		*f.target = &parsed
	}
	return spec, nil
}

// FormatInput renders a spec back into raw input values.
func FormatInput(spec model.FilterSpec) Input {
	return Input{
		CSPs:         strings.Join(spec.CSPs, ","),
		Categories:   strings.Join(spec.Categories, ","),
		Start:        formatDate(spec.Start),
		End:          formatDate(spec.End),
		CompareStart: formatDate(spec.CompareStart),
		CompareEnd:   formatDate(spec.CompareEnd),
	}
}

// SplitList splits a comma separated list and drops empty items.
func SplitList(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		out = append(out, part)
	}
	return out
}

// DayCount returns the inclusive number of calendar days of the primary
// range, or 1 when either bound is missing.
func DayCount(spec model.FilterSpec) int {
	return dayCount(spec.Start, spec.End)
}

// ComparisonDayCount is DayCount for the comparison range.
func ComparisonDayCount(spec model.FilterSpec) int {
	return dayCount(spec.CompareStart, spec.CompareEnd)
}

func dayCount(start, end *time.Time) int {
	if start == nil || end == nil {
		return 1
	}
	days := int(civilDay(*end).Sub(civilDay(*start)).Hours()/24) + 1
	if days < 1 {
		return 1
	}
	return days
}

// ServerQuery maps a spec to the transactions endpoint's filter parameters.
// When both comparison bounds are set, the date window is widened to cover
// the comparison range too; an open primary bound stays open.
func ServerQuery(spec model.FilterSpec) url.Values {
	params := url.Values{}
	if len(spec.CSPs) > 0 {
		params.Set("id_client__id_csp__csp_lbl", strings.Join(spec.CSPs, ","))
	}
	if len(spec.Categories) > 0 {
		params.Set("id_article__categorie_achat", strings.Join(spec.Categories, ","))
	}
	start, end := spec.Start, spec.End
	if spec.CompareStart != nil && spec.CompareEnd != nil {
		if start != nil && spec.CompareStart.Before(*start) {
			start = spec.CompareStart
		}
		if end != nil && spec.CompareEnd.After(*end) {
			end = spec.CompareEnd
		}
	}
	if start != nil {
		params.Set("date_collecte__gte", start.Format(DateLayout))
	}
	if end != nil {
		params.Set("date_collecte__lte", end.Format(DateLayout))
	}
	return params
}

func civilDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func formatDate(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format(DateLayout)
}

func normalizeCategories(values []string) []string {
	for i, v := range values {
		values[i] = ingest.NormalizeCategory(v)
	}
	return values
}
