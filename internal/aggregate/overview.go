package aggregate

import (
	"sort"

	"github.com/verte-zerg/panier/internal/model"
)

// Overview builds the yearly home view: twelve monthly rows with the total,
// the amount per CSP and the amount per category. A zero year keeps every
// record regardless of its year. Records without a timestamp are skipped.
func (e *Engine) Overview(records []model.Purchase, year int) model.Overview {
	inYear := make([]model.Purchase, 0, len(records))
	for _, r := range records {
		if !r.HasCollectedAt() {
			continue
		}
		if year != 0 && r.CollectedAt.In(e.loc).Year() != year {
			continue
		}
		inYear = append(inYear, r)
	}

	csps := newKeySet(e.csps)
	categories := newKeySet(e.categories)
	for _, r := range inYear {
		csps.add(r.CSP)
		categories.add(r.Category)
	}

	months := make([]model.MonthOverview, 12)
	for i := range months {
		months[i] = model.MonthOverview{
			Month:      i + 1,
			ByCSP:      make([]float64, len(csps.order)),
			ByCategory: make([]float64, len(categories.order)),
		}
	}
	for _, r := range inYear {
		m := &months[int(r.CollectedAt.In(e.loc).Month())-1]
		m.Totals.Add(r)
		m.ByCSP[csps.index[r.CSP]] += r.Amount
		m.ByCategory[categories.index[r.Category]] += r.Amount
	}

	return model.Overview{
		Year:       year,
		CSPs:       csps.order,
		Categories: categories.order,
		Months:     months,
	}
}

// Years lists the distinct years present in records, newest first.
func (e *Engine) Years(records []model.Purchase) []int {
	seen := make(map[int]struct{})
	var years []int
	for _, r := range records {
		if !r.HasCollectedAt() {
			continue
		}
		y := r.CollectedAt.In(e.loc).Year()
		if _, ok := seen[y]; ok {
			continue
		}
		seen[y] = struct{}{}
		years = append(years, y)
	}
	sort.Sort(sort.Reverse(sort.IntSlice(years)))
	return years
}
