package aggregate

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/verte-zerg/panier/internal/model"
)

func at(y int, m time.Month, d, h int) time.Time {
	return time.Date(y, m, d, h, 0, 0, 0, time.UTC)
}

func rec(id, csp, cat string, amount, qty float64, when time.Time) model.Purchase {
	return model.Purchase{ID: id, CSP: csp, Category: cat, Amount: amount, Quantity: qty, CollectedAt: when}
}

func mixedRecords() []model.Purchase {
	return []model.Purchase{
		rec("1", "Retraites", "4", 460, 20, at(2022, 1, 2, 2)),
		rec("2", "Employes", "1", 12.5, 1, at(2022, 3, 5, 14)),
		rec("3", "Employes", "2", 30, 3, at(2022, 3, 6, 14)),
		rec("4", "", "9", 7, 0, at(2022, 12, 31, 23)),
		rec("5", "Autres", "", 3.25, 1, time.Time{}),
	}
}

func newEngine() *Engine {
	return New(WithLocation(time.UTC))
}

func sumAmount(records []model.Purchase) float64 {
	var total float64
	for _, r := range records {
		total += r.Amount
	}
	return total
}

func TestByCSPScenario(t *testing.T) {
	records := []model.Purchase{
		rec("a", "Employes", "1", 100, 2, at(2023, 1, 1, 0)),
		rec("b", "Employes", "1", 50, 1, at(2023, 1, 2, 0)),
	}
	rows, err := newEngine().By(records, CSP)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "Employes", rows[0].Key)
	assert.InDelta(t, 150, rows[0].AmountTotal, 1e-9)
	assert.InDelta(t, 3, rows[0].QuantityTotal, 1e-9)
	assert.InDelta(t, 50, rows[0].AverageBasket, 1e-9)
}

func TestByConservesAmount(t *testing.T) {
	records := mixedRecords()
	want := sumAmount(records)
	for _, dim := range []Dimension{CSP, Category} {
		rows, err := newEngine().By(records, dim)
		require.NoError(t, err)
		var got float64
		for _, row := range rows {
			got += row.AmountTotal
		}
		assert.InDeltaf(t, want, got, 1e-9, "dimension %s", dim)
	}

	// Month and hour skip the record without a timestamp.
	dated := records[:4]
	for _, dim := range []Dimension{Month, Hour} {
		rows, err := newEngine().By(records, dim)
		require.NoError(t, err)
		var got float64
		for _, row := range rows {
			got += row.AmountTotal
		}
		assert.InDeltaf(t, sumAmount(dated), got, 1e-9, "dimension %s", dim)
	}
}

func TestByFirstOccurrenceOrder(t *testing.T) {
	rows, err := newEngine().By(mixedRecords(), CSP)
	require.NoError(t, err)
	keys := make([]string, len(rows))
	for i, row := range rows {
		keys[i] = row.Key
	}
	assert.Equal(t, []string{"Retraites", "Employes", "", "Autres"}, keys)
}

func TestByZeroFill(t *testing.T) {
	e := newEngine()

	months, err := e.By(nil, Month)
	require.NoError(t, err)
	assert.Len(t, months, 12)
	assert.Equal(t, "1", months[0].Key)
	assert.Equal(t, "12", months[11].Key)

	hours, err := e.By(nil, Hour)
	require.NoError(t, err)
	assert.Len(t, hours, 24)
	assert.Equal(t, "0", hours[0].Key)
	assert.Equal(t, "23", hours[23].Key)

	cats, err := e.By([]model.Purchase{rec("1", "Employes", "3", 5, 1, at(2023, 1, 1, 9))}, Category)
	require.NoError(t, err)
	require.Len(t, cats, 5)
	assert.InDelta(t, 5, cats[2].AmountTotal, 1e-9)
	assert.Zero(t, cats[0].AmountTotal)
	assert.Zero(t, cats[0].AverageBasket)
}

func TestByUnknownCategoryAppended(t *testing.T) {
	rows, err := newEngine().By(mixedRecords(), Category)
	require.NoError(t, err)
	require.Len(t, rows, 7)
	assert.Equal(t, "9", rows[5].Key)
	assert.Equal(t, "", rows[6].Key)
	// Zero quantity yields a zero average.
	assert.Zero(t, rows[5].AverageBasket)
}

func TestAverageBasketIdentity(t *testing.T) {
	records := []model.Purchase{
		rec("1", "Etudiants", "1", 19.99, 3, at(2023, 4, 1, 10)),
		rec("2", "Etudiants", "2", 5.01, 2, at(2023, 4, 2, 11)),
		rec("3", "Etudiants", "5", 75, 5, at(2023, 4, 3, 12)),
	}
	rows, err := newEngine().By(records, CSP)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.InDelta(t, 100.0/10.0, rows[0].AverageBasket, 1e-9)
}

func TestNaNPropagates(t *testing.T) {
	records := []model.Purchase{
		rec("1", "Employes", "1", math.NaN(), 1, at(2023, 1, 1, 0)),
		rec("2", "Employes", "1", 5, 1, at(2023, 1, 1, 0)),
	}
	rows, err := newEngine().By(records, CSP)
	require.NoError(t, err)
	assert.True(t, math.IsNaN(rows[0].AmountTotal))
}

func TestByUnknownDimension(t *testing.T) {
	_, err := newEngine().By(nil, Dimension("weekday"))
	assert.Error(t, err)
}

func TestCrossTabFillsEveryColumn(t *testing.T) {
	table, err := newEngine().CrossTab(mixedRecords(), CSP, Category)
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "2", "3", "4", "5", "9", ""}, table.Columns)
	require.Len(t, table.Rows, 4)
	for _, row := range table.Rows {
		assert.Len(t, row.Cells, len(table.Columns))
	}

	employes := table.Rows[1]
	assert.Equal(t, "Employes", employes.Key)
	cell, ok := table.Cell(employes, "2")
	require.True(t, ok)
	assert.InDelta(t, 30, cell.Amount, 1e-9)
	cell, ok = table.Cell(employes, "4")
	require.True(t, ok)
	assert.Zero(t, cell.Amount)
	assert.InDelta(t, 42.5, employes.Total.Amount, 1e-9)
	assert.InDelta(t, 4, employes.Total.Quantity, 1e-9)
}

func TestCrossTabCategoryByCSP(t *testing.T) {
	table, err := newEngine().CrossTab(mixedRecords(), Category, CSP)
	require.NoError(t, err)
	assert.Equal(t, model.DefaultCSPs, table.Columns[:len(model.DefaultCSPs)])
	assert.Equal(t, "", table.Columns[len(table.Columns)-1])
	assert.Equal(t, "1", table.Rows[0].Key)
	assert.Len(t, table.Rows, 7)
}

func TestCrossTabMonthPrimaryZeroFilled(t *testing.T) {
	table, err := newEngine().CrossTab(mixedRecords(), Month, CSP)
	require.NoError(t, err)
	require.Len(t, table.Rows, 12)
	assert.InDelta(t, 42.5, table.Rows[2].Total.Amount, 1e-9)
	assert.Zero(t, table.Rows[5].Total.Amount)
}

func TestTotal(t *testing.T) {
	total := Total(mixedRecords())
	assert.InDelta(t, 512.75, total.Amount, 1e-9)
	assert.InDelta(t, 25, total.Quantity, 1e-9)
}

func TestOptionsOverrideCatalog(t *testing.T) {
	e := New(WithCategories([]string{"A", "B"}), WithCSPs([]string{"X"}), WithLocation(time.UTC))
	assert.Equal(t, []string{"A", "B"}, e.categories)
	assert.Equal(t, []string{"X"}, e.csps)

	rows, err := e.By(nil, Category)
	require.NoError(t, err)
	assert.Len(t, rows, 2)
}
