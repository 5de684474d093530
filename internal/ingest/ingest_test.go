package ingest

import (
	"encoding/json"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/verte-zerg/panier/internal/model"
)

const samplePayload = `[
	{
		"id_collecte": 1,
		"cat_achat": 4,
		"prix_categorie": "23.00",
		"date_collecte": "2022-01-02T02:49:00Z",
		"montant_achat": "460.00",
		"qte_article": 20,
		"csp_lbl": "Retraites",
		"description": "Asos_Foulard_Vert"
	},
	{
		"id_collecte": "2",
		"cat_achat": "1",
		"date_collecte": "2023-01-01",
		"montant_achat": "abc",
		"qte_article": "2",
		"csp_lbl": null
	}
]`

func decodeRaws(t *testing.T, payload string) []model.RawFields {
	t.Helper()
	var raws []model.RawFields
	require.NoError(t, json.Unmarshal([]byte(payload), &raws))
	return raws
}

func TestFromRawLenientKeepsMalformedAsNaN(t *testing.T) {
	records, err := FromRaw(decodeRaws(t, samplePayload), Options{Location: time.UTC})
	require.NoError(t, err)
	require.Len(t, records, 2)

	first := records[0]
	assert.Equal(t, "1", first.ID)
	assert.Equal(t, "Retraites", first.CSP)
	assert.Equal(t, "4", first.Category)
	assert.InDelta(t, 460.0, first.Amount, 1e-9)
	assert.InDelta(t, 20.0, first.Quantity, 1e-9)
	assert.True(t, first.CollectedAt.Equal(time.Date(2022, 1, 2, 2, 49, 0, 0, time.UTC)))
	assert.Contains(t, first.Raw, "description")

	second := records[1]
	assert.Equal(t, "2", second.ID)
	assert.Equal(t, "", second.CSP)
	assert.Equal(t, "1", second.Category)
	assert.True(t, math.IsNaN(second.Amount))
	assert.InDelta(t, 2.0, second.Quantity, 1e-9)
	assert.True(t, second.CollectedAt.Equal(time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)))
}

func TestFromRawStrictRejectsMalformed(t *testing.T) {
	records, err := FromRaw(decodeRaws(t, samplePayload), Options{Policy: Strict, Location: time.UTC})
	require.Error(t, err)
	var rejectErr *RejectError
	require.True(t, errors.As(err, &rejectErr))
	assert.Equal(t, []string{"2"}, rejectErr.IDs)
	require.Len(t, records, 1)
	assert.Equal(t, "1", records[0].ID)
}

func TestFromRawEmpty(t *testing.T) {
	records, err := FromRaw(nil, Options{})
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestNormalizeCategory(t *testing.T) {
	assert.Equal(t, "4", NormalizeCategory("4"))
	assert.Equal(t, "4", NormalizeCategory(" 4.0 "))
	assert.Equal(t, "Deco", NormalizeCategory("Deco"))
	assert.Equal(t, "", NormalizeCategory(""))
}

func TestParseTimestampLayouts(t *testing.T) {
	loc := time.FixedZone("test", 3600)
	got, err := ParseTimestamp("2023-05-04T10:30:00", loc)
	require.NoError(t, err)
	assert.Equal(t, 10, got.Hour())
	assert.Equal(t, loc, got.Location())

	got, err = ParseTimestamp("2023-05-04T10:30:00.250+02:00", loc)
	require.NoError(t, err)
	assert.Equal(t, 250*int(time.Millisecond), got.Nanosecond())

	_, err = ParseTimestamp("yesterday", loc)
	assert.Error(t, err)
}

func TestQuantityTruncatesFraction(t *testing.T) {
	records, err := FromRaw(decodeRaws(t, `[{"montant_achat": "10", "qte_article": "2.7"}]`), Options{})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.InDelta(t, 2.0, records[0].Quantity, 1e-9)
	assert.False(t, records[0].HasCollectedAt())
}
