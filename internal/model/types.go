// Package model defines shared data structures.
package model

import (
	"encoding/json"
	"time"
)

// Purchase is one purchase event as returned by the transactions endpoint.
type Purchase struct {
	ID          string
	CSP         string
	Category    string
	Amount      float64
	Quantity    float64
	CollectedAt time.Time
	Raw         RawFields
}

// HasCollectedAt reports whether the record carries a timestamp.
func (p Purchase) HasCollectedAt() bool {
	return !p.CollectedAt.IsZero()
}

// RawFields keeps the JSON fields of a record exactly as received.
type RawFields map[string]json.RawMessage

// FilterSpec describes one user-submitted filter action.
// Nil dates leave that side of a range open.
type FilterSpec struct {
	CSPs         []string
	Categories   []string
	Start        *time.Time
	End          *time.Time
	CompareStart *time.Time
	CompareEnd   *time.Time
}

// Bounds holds normalized inclusive date bounds.
type Bounds struct {
	Start        *time.Time
	End          *time.Time
	CompareStart *time.Time
	CompareEnd   *time.Time
}

// ComparisonSet reports whether both comparison bounds are present.
func (b Bounds) ComparisonSet() bool {
	return b.CompareStart != nil && b.CompareEnd != nil
}

// Totals accumulates purchase amount and article quantity.
type Totals struct {
	Amount   float64
	Quantity float64
}

// Add accumulates a purchase into the totals.
func (t *Totals) Add(p Purchase) {
	t.Amount += p.Amount
	t.Quantity += p.Quantity
}

// Average returns the average basket, or 0 when no articles were bought.
func (t Totals) Average() float64 {
	if t.Quantity == 0 {
		return 0
	}
	return t.Amount / t.Quantity
}

// AggregateRow is one group of a single-dimension aggregate.
type AggregateRow struct {
	Key           string
	AmountTotal   float64
	QuantityTotal float64
	AverageBasket float64
}

// CrossTab is a two-dimension aggregate. Every row has one cell per column.
type CrossTab struct {
	Primary   string
	Secondary string
	Columns   []string
	Rows      []CrossTabRow
}

// CrossTabRow is one primary group of a cross-tab.
type CrossTabRow struct {
	Key   string
	Cells []Totals
	Total Totals
}

// Cell returns the totals for a column key.
func (c CrossTab) Cell(row CrossTabRow, column string) (Totals, bool) {
	for i, col := range c.Columns {
		if col == column && i < len(row.Cells) {
			return row.Cells[i], true
		}
	}
	return Totals{}, false
}

// HourRow is one hour-of-day bucket of the peak-times view.
type HourRow struct {
	Hour    int
	Revenue float64
	Visits  []float64
}

// PeakTimes is the peak-times view: hourly affluence per CSP plus a CSP x category table.
type PeakTimes struct {
	CSPs        []string
	Hours       []HourRow
	Days        int
	AverageMode bool
	CrossTab    CrossTab
}

// MonthOverview summarizes one month of the home view.
type MonthOverview struct {
	Month      int
	Totals     Totals
	ByCSP      []float64
	ByCategory []float64
}

// Overview is the yearly home view.
type Overview struct {
	Year       int
	CSPs       []string
	Categories []string
	Months     []MonthOverview
}

// Credentials stores the tokens issued by the API.
type Credentials struct {
	Username     string
	AccessToken  string
	RefreshToken string
	SavedAt      time.Time
}

// ExportRecord describes a completed spreadsheet export.
type ExportRecord struct {
	ID         int64
	View       string
	Format     string
	Path       string
	Rows       int
	ExportedAt time.Time
}
