package server

import (
	"math"
	"strconv"
	"time"

	"github.com/verte-zerg/panier/internal/filter"
	"github.com/verte-zerg/panier/internal/model"
	"github.com/verte-zerg/panier/internal/view"
)

// number encodes NaN and infinities as null, which encoding/json rejects.
type number float64

func (n number) MarshalJSON() ([]byte, error) {
	v := float64(n)
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return []byte("null"), nil
	}
	return strconv.AppendFloat(nil, v, 'f', -1, 64), nil
}

func numbers(values []float64) []number {
	out := make([]number, len(values))
	for i, v := range values {
		out[i] = number(v)
	}
	return out
}

type viewResponse struct {
	View               string     `json:"view"`
	Title              string     `json:"title"`
	Filter             filterDTO  `json:"filter"`
	Year               int        `json:"year,omitempty"`
	Years              []int      `json:"years,omitempty"`
	Records            int        `json:"records"`
	Rejected           int        `json:"rejected,omitempty"`
	Selected           int        `json:"selected"`
	ComparisonSelected int        `json:"comparison_selected,omitempty"`
	ComparisonActive   bool       `json:"comparison_active"`
	AverageMode        bool       `json:"average_mode,omitempty"`
	LoadedAt           string     `json:"loaded_at"`
	Primary            reportDTO  `json:"primary"`
	Comparison         *reportDTO `json:"comparison,omitempty"`
}

type filterDTO struct {
	CSP          []string `json:"csp,omitempty"`
	Category     []string `json:"category,omitempty"`
	Start        string   `json:"start,omitempty"`
	End          string   `json:"end,omitempty"`
	StartCompare string   `json:"start_compare,omitempty"`
	EndCompare   string   `json:"end_compare,omitempty"`
}

type totalsDTO struct {
	Amount   number `json:"amount"`
	Quantity number `json:"quantity"`
	Average  number `json:"average_basket"`
}

type rowDTO struct {
	Key      string `json:"key"`
	Amount   number `json:"amount"`
	Quantity number `json:"quantity"`
	Average  number `json:"average_basket"`
}

type crossTabDTO struct {
	Primary   string        `json:"primary"`
	Secondary string        `json:"secondary"`
	Columns   []string      `json:"columns"`
	Rows      []crossRowDTO `json:"rows"`
}

type crossRowDTO struct {
	Key   string      `json:"key"`
	Cells []totalsDTO `json:"cells"`
	Total totalsDTO   `json:"total"`
}

type hourDTO struct {
	Hour    int      `json:"hour"`
	Revenue number   `json:"revenue"`
	Visits  []number `json:"visits"`
}

type peakDTO struct {
	CSPs        []string  `json:"csps"`
	Days        int       `json:"days"`
	AverageMode bool      `json:"average_mode"`
	Hours       []hourDTO `json:"hours"`
}

type monthDTO struct {
	Month      int       `json:"month"`
	Totals     totalsDTO `json:"totals"`
	ByCSP      []number  `json:"by_csp"`
	ByCategory []number  `json:"by_category"`
}

type overviewDTO struct {
	Year       int        `json:"year"`
	CSPs       []string   `json:"csps"`
	Categories []string   `json:"categories"`
	Months     []monthDTO `json:"months"`
}

type reportDTO struct {
	Total    totalsDTO    `json:"total"`
	Rows     []rowDTO     `json:"rows,omitempty"`
	Monthly  []rowDTO     `json:"monthly,omitempty"`
	Table    *crossTabDTO `json:"table,omitempty"`
	Peak     *peakDTO     `json:"peak,omitempty"`
	Overview *overviewDTO `json:"overview,omitempty"`
}

func newViewResponse(snap view.Snapshot) viewResponse {
	in := filter.FormatInput(snap.Spec)
	resp := viewResponse{
		View:  string(snap.Kind),
		Title: snap.Kind.Title(),
		Filter: filterDTO{
			CSP:          snap.Spec.CSPs,
			Category:     snap.Spec.Categories,
			Start:        in.Start,
			End:          in.End,
			StartCompare: in.CompareStart,
			EndCompare:   in.CompareEnd,
		},
		Year:               snap.Year,
		Years:              snap.Years,
		Records:            snap.Records,
		Rejected:           snap.Rejected,
		Selected:           snap.Selected,
		ComparisonSelected: snap.ComparisonSelected,
		ComparisonActive:   snap.ComparisonActive,
		AverageMode:        snap.AverageMode,
		LoadedAt:           snap.LoadedAt.Format(time.RFC3339),
		Primary:            newReportDTO(snap.Primary),
	}
	if snap.ComparisonActive && snap.Comparison != nil {
		cmp := newReportDTO(*snap.Comparison)
		resp.Comparison = &cmp
	}
	return resp
}

func newTotalsDTO(t model.Totals) totalsDTO {
	return totalsDTO{Amount: number(t.Amount), Quantity: number(t.Quantity), Average: number(t.Average())}
}

func newRows(rows []model.AggregateRow) []rowDTO {
	if len(rows) == 0 {
		return nil
	}
	out := make([]rowDTO, len(rows))
	for i, r := range rows {
		out[i] = rowDTO{
			Key:      r.Key,
			Amount:   number(r.AmountTotal),
			Quantity: number(r.QuantityTotal),
			Average:  number(r.AverageBasket),
		}
	}
	return out
}

func newCrossTabDTO(c model.CrossTab) *crossTabDTO {
	if len(c.Rows) == 0 && len(c.Columns) == 0 {
		return nil
	}
	out := &crossTabDTO{
		Primary:   c.Primary,
		Secondary: c.Secondary,
		Columns:   c.Columns,
		Rows:      make([]crossRowDTO, len(c.Rows)),
	}
	for i, row := range c.Rows {
		cells := make([]totalsDTO, len(row.Cells))
		for j, cell := range row.Cells {
			cells[j] = newTotalsDTO(cell)
		}
		out.Rows[i] = crossRowDTO{Key: row.Key, Cells: cells, Total: newTotalsDTO(row.Total)}
	}
	return out
}

func newReportDTO(r view.Report) reportDTO {
	out := reportDTO{
		Total:   newTotalsDTO(r.Total),
		Rows:    newRows(r.Rows),
		Monthly: newRows(r.Monthly),
		Table:   newCrossTabDTO(r.Table),
	}
	if r.Peak != nil {
		hours := make([]hourDTO, len(r.Peak.Hours))
		for i, h := range r.Peak.Hours {
			hours[i] = hourDTO{Hour: h.Hour, Revenue: number(h.Revenue), Visits: numbers(h.Visits)}
		}
		out.Peak = &peakDTO{CSPs: r.Peak.CSPs, Days: r.Peak.Days, AverageMode: r.Peak.AverageMode, Hours: hours}
	}
	if r.Overview != nil {
		months := make([]monthDTO, len(r.Overview.Months))
		for i, m := range r.Overview.Months {
			months[i] = monthDTO{
				Month:      m.Month,
				Totals:     newTotalsDTO(m.Totals),
				ByCSP:      numbers(m.ByCSP),
				ByCategory: numbers(m.ByCategory),
			}
		}
		out.Overview = &overviewDTO{
			Year:       r.Overview.Year,
			CSPs:       r.Overview.CSPs,
			Categories: r.Overview.Categories,
			Months:     months,
		}
	}
	return out
}
