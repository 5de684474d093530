// Package aggregate groups purchase records into sums, averages and cross-tabs.
package aggregate

import (
	"fmt"
	"strconv"
	"time"

	"github.com/verte-zerg/panier/internal/model"
)

// Dimension selects the grouping key of an aggregate.
type Dimension string

const (
	CSP      Dimension = model.DimCSP
	Category Dimension = model.DimCategory
	Month    Dimension = model.DimMonth
	Hour     Dimension = model.DimHour
)

// ParseDimension validates a dimension name.
func ParseDimension(s string) (Dimension, error) {
	switch d := Dimension(s); d {
	case CSP, Category, Month, Hour:
		return d, nil
	default:
		return "", fmt.Errorf("unknown dimension %q", s)
	}
}

// Engine computes aggregates against a fixed catalog of CSPs and categories.
type Engine struct {
	csps       []string
	categories []string
	loc        *time.Location
}

// New returns an Engine configured by opts.
func New(opts ...Option) *Engine {
	return applyOptions(opts)
}

// By groups records by one dimension and sums amount and quantity per group.
//
// CSP rows follow first occurrence. Category rows list the known codes first,
// then unknown codes in first occurrence. Month and Hour always yield 12 and
// 24 rows; records without a timestamp are skipped for those two.
func (e *Engine) By(records []model.Purchase, dim Dimension) ([]model.AggregateRow, error) {
	if _, err := ParseDimension(string(dim)); err != nil {
		return nil, err
	}
	keys := newKeySet(e.seed(dim))
	totals := make([]model.Totals, len(keys.order))
	for _, r := range records {
		key, ok := e.keyOf(r, dim)
		if !ok {
			continue
		}
		idx := keys.add(key)
		if idx == len(totals) {
			totals = append(totals, model.Totals{})
		}
		totals[idx].Add(r)
	}

	rows := make([]model.AggregateRow, len(keys.order))
	for i, key := range keys.order {
		rows[i] = model.AggregateRow{
			Key:           key,
			AmountTotal:   totals[i].Amount,
			QuantityTotal: totals[i].Quantity,
			AverageBasket: totals[i].Average(),
		}
	}
	return rows, nil
}

// CrossTab groups records by primary, then by secondary within each primary
// group. Columns are the known secondary keys followed by observed extras,
// and every row carries a cell for every column.
func (e *Engine) CrossTab(records []model.Purchase, primary, secondary Dimension) (model.CrossTab, error) {
	if _, err := ParseDimension(string(primary)); err != nil {
		return model.CrossTab{}, err
	}
	if _, err := ParseDimension(string(secondary)); err != nil {
		return model.CrossTab{}, err
	}

	columns := newKeySet(e.columnSeed(secondary))
	for _, r := range records {
		if _, ok := e.keyOf(r, primary); !ok {
			continue
		}
		if key, ok := e.keyOf(r, secondary); ok {
			columns.add(key)
		}
	}

	rowKeys := newKeySet(e.seed(primary))
	var rows []model.CrossTabRow
	for range rowKeys.order {
		rows = append(rows, model.CrossTabRow{Cells: make([]model.Totals, len(columns.order))})
	}
	for _, r := range records {
		pk, ok := e.keyOf(r, primary)
		if !ok {
			continue
		}
		sk, ok := e.keyOf(r, secondary)
		if !ok {
			continue
		}
		idx := rowKeys.add(pk)
		if idx == len(rows) {
			rows = append(rows, model.CrossTabRow{Cells: make([]model.Totals, len(columns.order))})
		}
		rows[idx].Cells[columns.index[sk]].Add(r)
		rows[idx].Total.Add(r)
	}
	for i, key := range rowKeys.order {
		rows[i].Key = key
	}

	return model.CrossTab{
		Primary:   string(primary),
		Secondary: string(secondary),
		Columns:   columns.order,
		Rows:      rows,
	}, nil
}

// Total sums every record.
func Total(records []model.Purchase) model.Totals {
	var t model.Totals
	for _, r := range records {
		t.Add(r)
	}
	return t
}

func (e *Engine) keyOf(r model.Purchase, dim Dimension) (string, bool) {
	switch dim {
	case CSP:
		return r.CSP, true
	case Category:
		return r.Category, true
	case Month:
		if !r.HasCollectedAt() {
			return "", false
		}
		return strconv.Itoa(int(r.CollectedAt.In(e.loc).Month())), true
	case Hour:
		if !r.HasCollectedAt() {
			return "", false
		}
		return strconv.Itoa(r.CollectedAt.In(e.loc).Hour()), true
	}
	return "", false
}

// seed returns the row keys always present for dim.
func (e *Engine) seed(dim Dimension) []string {
	switch dim {
	case Category:
		return e.categories
	case Month:
		return numberKeys(1, 12)
	case Hour:
		return numberKeys(0, 23)
	}
	return nil
}

// columnSeed returns the column keys always present when dim is secondary.
func (e *Engine) columnSeed(dim Dimension) []string {
	if dim == CSP {
		return e.csps
	}
	return e.seed(dim)
}

func numberKeys(from, to int) []string {
	out := make([]string, 0, to-from+1)
	for i := from; i <= to; i++ {
		out = append(out, strconv.Itoa(i))
	}
	return out
}

type keySet struct {
	order []string
	index map[string]int
}

func newKeySet(seed []string) *keySet {
	ks := &keySet{index: make(map[string]int, len(seed))}
	for _, key := range seed {
		ks.add(key)
	}
	return ks
}

func (ks *keySet) add(key string) int {
	if idx, ok := ks.index[key]; ok {
		return idx
	}
	ks.order = append(ks.order, key)
	ks.index[key] = len(ks.order) - 1
	return len(ks.order) - 1
}
