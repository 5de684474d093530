package stats

import (
	"math"
	"testing"

	"github.com/verte-zerg/panier/internal/model"
)

func TestTopByAmount(t *testing.T) {
	rows := []model.AggregateRow{
		{Key: "Etudiants", AmountTotal: 30},
		{Key: "Autres", AmountTotal: math.NaN()},
		{Key: "Employes", AmountTotal: 150},
		{Key: "Agriculteurs", AmountTotal: 30},
	}
	top := TopByAmount(rows, 3)
	if len(top) != 3 {
		t.Fatalf("expected 3 rows, got %d", len(top))
	}
	if top[0].Key != "Employes" || top[1].Key != "Agriculteurs" || top[2].Key != "Etudiants" {
		t.Fatalf("unexpected order: %v", top)
	}
	if rows[0].Key != "Etudiants" {
		t.Fatalf("input was reordered")
	}
	if got := TopByAmount(rows, 0); got != nil {
		t.Fatalf("expected nil for n=0")
	}
}

func TestPeakHour(t *testing.T) {
	hours := make([]model.HourRow, 24)
	for i := range hours {
		hours[i].Hour = i
	}
	if got := PeakHour(hours); got != -1 {
		t.Fatalf("expected -1 for empty hours, got %d", got)
	}
	hours[12].Revenue = 40
	hours[18].Revenue = 55
	if got := PeakHour(hours); got != 18 {
		t.Fatalf("expected 18, got %d", got)
	}
}
