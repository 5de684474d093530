package stats

import (
	"math"
	"sort"

	"github.com/verte-zerg/panier/internal/model"
)

// TopByAmount returns the n rows with the largest amount total. Ties keep
// key order; NaN totals rank last.
func TopByAmount(rows []model.AggregateRow, n int) []model.AggregateRow {
	if n <= 0 || len(rows) == 0 {
		return nil
	}
	items := make([]model.AggregateRow, len(rows))
	copy(items, rows)
	sort.SliceStable(items, func(i, j int) bool {
		a, b := items[i].AmountTotal, items[j].AmountTotal
		if math.IsNaN(a) || math.IsNaN(b) {
			return !math.IsNaN(a) && math.IsNaN(b)
		}
		if a == b {
			return items[i].Key < items[j].Key
		}
		return a > b
	})
	if n > len(items) {
		n = len(items)
	}
	return items[:n]
}

// PeakHour returns the hour with the largest revenue, or -1 when every hour is empty.
func PeakHour(hours []model.HourRow) int {
	best := -1
	bestRevenue := 0.0
	for _, h := range hours {
		if !math.IsNaN(h.Revenue) && h.Revenue > bestRevenue {
			best = h.Hour
			bestRevenue = h.Revenue
		}
	}
	return best
}
