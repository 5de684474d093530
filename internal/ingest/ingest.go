// Package ingest decodes transaction payloads into purchase records.
package ingest

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/verte-zerg/panier/internal/model"
)

// JSON field names of the transactions endpoint.
const (
	FieldID          = "id_collecte"
	FieldCSP         = "csp_lbl"
	FieldCategory    = "cat_achat"
	FieldAmount      = "montant_achat"
	FieldQuantity    = "qte_article"
	FieldCollectedAt = "date_collecte"
)

// CanonicalFields lists the record fields in export order.
var CanonicalFields = []string{
	FieldID,
	FieldCSP,
	FieldCategory,
	FieldAmount,
	FieldQuantity,
	FieldCollectedAt,
}

// Policy selects how malformed amounts and quantities are handled.
type Policy int

const (
	// Lenient keeps malformed records; their unparsable values become NaN.
	Lenient Policy = iota
	// Strict rejects records whose amount or quantity does not parse.
	Strict
)

// ParsePolicy maps a config value to a Policy.
func ParsePolicy(strict bool) Policy {
	if strict {
		return Strict
	}
	return Lenient
}

// Options configures decoding.
type Options struct {
	Policy   Policy
	Location *time.Location
}

// RejectError lists the records dropped under the strict policy.
type RejectError struct {
	IDs     []string
	Reasons []string
}

func (e *RejectError) Error() string {
	if len(e.IDs) == 1 {
		return fmt.Sprintf("rejected 1 record (id %s): %s", e.IDs[0], e.Reasons[0])
	}
	return fmt.Sprintf("rejected %d records with malformed amount or quantity", len(e.IDs))
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// FromRaw converts decoded transaction objects. Under the strict policy,
// rejected records are reported with a *RejectError alongside the accepted ones.
func FromRaw(raws []model.RawFields, opts Options) ([]model.Purchase, error) {
	out := make([]model.Purchase, 0, len(raws))
	var rejected *RejectError
	for _, raw := range raws {
		p, err := Parse(raw, opts)
		if err != nil {
			if rejected == nil {
				rejected = &RejectError{}
			}
			rejected.IDs = append(rejected.IDs, p.ID)
			rejected.Reasons = append(rejected.Reasons, err.Error())
			continue
		}
		out = append(out, p)
	}
	if rejected != nil {
		return out, rejected
	}
	return out, nil
}

// Parse converts one raw record. It only returns an error under the strict policy.
func Parse(raw model.RawFields, opts Options) (model.Purchase, error) {
	loc := opts.Location
	if loc == nil {
		loc = time.Local
	}
	p := model.Purchase{Raw: raw}
	p.ID, _ = rawString(raw[FieldID])
	p.CSP, _ = rawString(raw[FieldCSP])
	p.Category = normalizeCategory(raw[FieldCategory])

	amount, amountErr := parseAmount(raw[FieldAmount])
	quantity, quantityErr := parseQuantity(raw[FieldQuantity])
	if opts.Policy == Strict {
		if amountErr != nil {
			return p, fmt.Errorf("%s: %w", FieldAmount, amountErr)
		}
		if quantityErr != nil {
			return p, fmt.Errorf("%s: %w", FieldQuantity, quantityErr)
		}
	}
	p.Amount = amount
	p.Quantity = quantity

	if s, ok := rawString(raw[FieldCollectedAt]); ok {
		if t, err := ParseTimestamp(s, loc); err == nil {
			p.CollectedAt = t
		}
	}
	return p, nil
}

// ParseTimestamp accepts RFC 3339 timestamps and zone-less local date-times or dates.
func ParseTimestamp(s string, loc *time.Location) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("empty timestamp")
	}
	for _, layout := range timeLayouts {
		var (
			t   time.Time
			err error
		)
		if layout == time.RFC3339Nano {
			t, err = time.Parse(layout, s)
		} else {
			t, err = time.ParseInLocation(layout, s, loc)
		}
		if err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}

func parseAmount(msg json.RawMessage) (float64, error) {
	d, err := parseDecimal(msg)
	if err != nil {
		return math.NaN(), err
	}
	f, _ := d.Float64()
	return f, nil
}

func parseQuantity(msg json.RawMessage) (float64, error) {
	d, err := parseDecimal(msg)
	if err != nil {
		return math.NaN(), err
	}
	// Article counts are whole numbers; fractional input is truncated.
	return float64(d.IntPart()), nil
}

func parseDecimal(msg json.RawMessage) (decimal.Decimal, error) {
	s, ok := rawString(msg)
	if !ok {
		return decimal.Decimal{}, fmt.Errorf("missing value")
	}
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("invalid number %q", s)
	}
	return d, nil
}

// rawString returns a JSON string's content or a scalar literal's text.
func rawString(msg json.RawMessage) (string, bool) {
	trimmed := strings.TrimSpace(string(msg))
	if trimmed == "" || trimmed == "null" {
		return "", false
	}
	if strings.HasPrefix(trimmed, `"`) {
		var s string
		if err := json.Unmarshal(msg, &s); err != nil {
			return "", false
		}
		return s, true
	}
	return trimmed, true
}

func normalizeCategory(msg json.RawMessage) string {
	s, ok := rawString(msg)
	if !ok {
		return ""
	}
	return NormalizeCategory(s)
}

// NormalizeCategory maps numeric spellings ("4", "4.0", " 4 ") to one key.
func NormalizeCategory(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	if d, err := decimal.NewFromString(s); err == nil && d.Equal(d.Truncate(0)) {
		return d.Truncate(0).String()
	}
	return s
}
