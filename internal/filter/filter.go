// Package filter narrows purchase records by CSP, category and date ranges.
package filter

import (
	"sync"
	"time"

	"github.com/verte-zerg/panier/internal/model"
)

// Result holds the primary and comparison subsets of one Apply call.
type Result struct {
	Primary    []model.Purchase
	Comparison []model.Purchase
}

// Engine applies filter specs and remembers the last applied bounds.
type Engine struct {
	loc *time.Location

	mu   sync.Mutex
	last model.Bounds
}

// New returns an Engine that interprets dates in loc (time.Local when nil).
func New(loc *time.Location) *Engine {
	if loc == nil {
		loc = time.Local
	}
	return &Engine{loc: loc}
}

// Location returns the engine's time zone.
func (e *Engine) Location() *time.Location {
	return e.loc
}

// Apply returns the primary and comparison subsets for spec.
// CSP and category constraints apply to both subsets; the two date ranges
// are applied independently to that same base and may overlap.
func (e *Engine) Apply(records []model.Purchase, spec model.FilterSpec) Result {
	bounds := e.Normalize(spec)

	e.mu.Lock()
	e.last = bounds
	e.mu.Unlock()

	cspSet := toSet(spec.CSPs)
	catSet := toSet(spec.Categories)

	base := make([]model.Purchase, 0, len(records))
	for _, r := range records {
		if cspSet != nil {
			if r.CSP == "" {
				continue
			}
			if _, ok := cspSet[r.CSP]; !ok {
				continue
			}
		}
		if catSet != nil {
			if r.Category == "" {
				continue
			}
			if _, ok := catSet[r.Category]; !ok {
				continue
			}
		}
		base = append(base, r)
	}

	return Result{
		Primary:    byRange(base, bounds.Start, bounds.End),
		Comparison: byRange(base, bounds.CompareStart, bounds.CompareEnd),
	}
}

// LastBounds returns the bounds retained from the last Apply.
func (e *Engine) LastBounds() model.Bounds {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.last
}

// ComparisonActive reports whether the last Apply set both comparison bounds.
func (e *Engine) ComparisonActive() bool {
	return e.LastBounds().ComparisonSet()
}

// Normalize moves start bounds to 00:00:00.000 and end bounds to
// 23:59:59.999 of their day in the engine's location.
func (e *Engine) Normalize(spec model.FilterSpec) model.Bounds {
	return model.Bounds{
		Start:        e.startOfDay(spec.Start),
		End:          e.endOfDay(spec.End),
		CompareStart: e.startOfDay(spec.CompareStart),
		CompareEnd:   e.endOfDay(spec.CompareEnd),
	}
}

func (e *Engine) startOfDay(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	local := t.In(e.loc)
	out := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, e.loc)
	return &out
}

func (e *Engine) endOfDay(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	local := t.In(e.loc)
	out := time.Date(local.Year(), local.Month(), local.Day(), 23, 59, 59, int(999*time.Millisecond), e.loc)
	return &out
}

func byRange(records []model.Purchase, start, end *time.Time) []model.Purchase {
	if start == nil && end == nil {
		out := make([]model.Purchase, len(records))
		copy(out, records)
		return out
	}
	out := make([]model.Purchase, 0, len(records))
	for _, r := range records {
		if !r.HasCollectedAt() {
			continue
		}
		if start != nil && r.CollectedAt.Before(*start) {
			continue
		}
		if end != nil && r.CollectedAt.After(*end) {
			continue
		}
		out = append(out, r)
	}
	return out
}

func toSet(values []string) map[string]struct{} {
	if len(values) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		set[v] = struct{}{}
	}
	return set
}
