package aggregate

import (
	"github.com/verte-zerg/panier/internal/model"
)

// HoursPerDay is the number of hour buckets of the peak-times view.
const HoursPerDay = 24

// Hourly builds the peak-times view. Each hour carries the revenue and, per
// CSP, the number of distinct transaction ids seen in that hour. When days is
// greater than one, revenue and visits are daily averages over that many days.
// The CSP x category table is never averaged.
func (e *Engine) Hourly(records []model.Purchase, days int) (model.PeakTimes, error) {
	csps := newKeySet(e.csps)
	for _, r := range records {
		if r.HasCollectedAt() {
			csps.add(r.CSP)
		}
	}

	type bucket struct {
		revenue float64
		seen    []map[string]struct{}
		visits  []float64
	}
	buckets := make([]bucket, HoursPerDay)
	for i := range buckets {
		buckets[i].seen = make([]map[string]struct{}, len(csps.order))
		buckets[i].visits = make([]float64, len(csps.order))
	}

	for _, r := range records {
		if !r.HasCollectedAt() {
			continue
		}
		b := &buckets[r.CollectedAt.In(e.loc).Hour()]
		b.revenue += r.Amount

		ci := csps.index[r.CSP]
		if r.ID == "" {
			b.visits[ci]++
			continue
		}
		if b.seen[ci] == nil {
			b.seen[ci] = make(map[string]struct{})
		}
		if _, ok := b.seen[ci][r.ID]; ok {
			continue
		}
		b.seen[ci][r.ID] = struct{}{}
		b.visits[ci]++
	}

	if days < 1 {
		days = 1
	}
	averaged := days > 1
	hours := make([]model.HourRow, HoursPerDay)
	for h, b := range buckets {
		row := model.HourRow{Hour: h, Revenue: b.revenue, Visits: b.visits}
		if averaged {
			row.Revenue /= float64(days)
			for i := range row.Visits {
				row.Visits[i] /= float64(days)
			}
		}
		hours[h] = row
	}

	table, err := e.CrossTab(records, CSP, Category)
	if err != nil {
		return model.PeakTimes{}, err
	}

	return model.PeakTimes{
		CSPs:        csps.order,
		Hours:       hours,
		Days:        days,
		AverageMode: averaged,
		CrossTab:    table,
	}, nil
}
