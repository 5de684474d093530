package aggregate

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/verte-zerg/panier/internal/model"
)

func cspIndex(p model.PeakTimes, csp string) int {
	for i, c := range p.CSPs {
		if c == csp {
			return i
		}
	}
	return -1
}

func TestHourlyDedupsTransactionIDs(t *testing.T) {
	records := []model.Purchase{
		rec("42", "Employes", "1", 10, 1, at(2023, 1, 1, 9)),
		rec("42", "Employes", "3", 15, 2, at(2023, 1, 1, 9)),
		rec("43", "Employes", "1", 5, 1, at(2023, 1, 1, 9)),
		rec("42", "Etudiants", "1", 1, 1, at(2023, 1, 1, 9)),
	}
	peak, err := newEngine().Hourly(records, 1)
	require.NoError(t, err)
	require.Len(t, peak.Hours, 24)
	assert.False(t, peak.AverageMode)

	nine := peak.Hours[9]
	assert.Equal(t, 9, nine.Hour)
	assert.InDelta(t, 31, nine.Revenue, 1e-9)
	assert.InDelta(t, 2, nine.Visits[cspIndex(peak, "Employes")], 1e-9)
	assert.InDelta(t, 1, nine.Visits[cspIndex(peak, "Etudiants")], 1e-9)
	assert.Zero(t, peak.Hours[10].Revenue)
}

func TestHourlyCountsRecordsWithoutID(t *testing.T) {
	records := []model.Purchase{
		rec("", "Autres", "1", 1, 1, at(2023, 1, 1, 18)),
		rec("", "Autres", "1", 1, 1, at(2023, 1, 1, 18)),
	}
	peak, err := newEngine().Hourly(records, 1)
	require.NoError(t, err)
	assert.InDelta(t, 2, peak.Hours[18].Visits[cspIndex(peak, "Autres")], 1e-9)
}

func TestHourlyAveragesButCrossTabStaysRaw(t *testing.T) {
	records := []model.Purchase{
		rec("1", "Employes", "2", 40, 2, at(2023, 1, 1, 12)),
		rec("2", "Employes", "2", 20, 1, at(2023, 1, 2, 12)),
	}
	peak, err := newEngine().Hourly(records, 4)
	require.NoError(t, err)
	assert.True(t, peak.AverageMode)
	assert.Equal(t, 4, peak.Days)
	assert.InDelta(t, 15, peak.Hours[12].Revenue, 1e-9)
	assert.InDelta(t, 0.5, peak.Hours[12].Visits[cspIndex(peak, "Employes")], 1e-9)

	cell, ok := peak.CrossTab.Cell(peak.CrossTab.Rows[0], "2")
	require.True(t, ok)
	assert.InDelta(t, 60, cell.Amount, 1e-9)
}

func TestHourlySkipsMissingTimestampAndUnknownCSP(t *testing.T) {
	records := []model.Purchase{
		rec("1", "Inconnu", "1", 8, 1, at(2023, 1, 1, 0)),
		rec("2", "Employes", "1", 3, 1, time.Time{}),
	}
	peak, err := newEngine().Hourly(records, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, peak.Days)
	assert.Equal(t, "Inconnu", peak.CSPs[len(peak.CSPs)-1])
	assert.InDelta(t, 8, peak.Hours[0].Revenue, 1e-9)

	var revenue float64
	for _, h := range peak.Hours {
		revenue += h.Revenue
	}
	assert.InDelta(t, 8, revenue, 1e-9)
	// The cross-tab keeps undated records.
	assert.Len(t, peak.CrossTab.Rows, 2)
}
