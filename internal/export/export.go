// Package export writes filtered purchase records to spreadsheet files.
package export

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/verte-zerg/panier/internal/ingest"
	"github.com/verte-zerg/panier/internal/model"
)

// SheetName is the worksheet written to xlsx files.
const SheetName = "Sheet1"

// Format is a spreadsheet file format.
type Format string

const (
	XLSX Format = "xlsx"
	CSV  Format = "csv"
)

// ParseFormat validates a format name. An empty name selects xlsx.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimPrefix(strings.TrimSpace(s), ".")) {
	case "", "xlsx":
		return XLSX, nil
	case "csv":
		return CSV, nil
	}
	return "", fmt.Errorf("unsupported export format %q (expected xlsx or csv)", s)
}

// ContentType returns the MIME type of the format.
func (f Format) ContentType() string {
	if f == CSV {
		return "text/csv; charset=utf-8"
	}
	return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
}

// DefaultFilename returns the file name used when none is given.
func DefaultFilename(view string, f Format) string {
	return fmt.Sprintf("%s_data.%s", view, f)
}

// Option configures a Write call.
type Option func(*options)

type options struct {
	progress func(done, total int)
}

// WithProgress reports the number of written rows after each row.
func WithProgress(fn func(done, total int)) Option {
	return func(o *options) {
		o.progress = fn
	}
}

// Columns returns the header of an export: the canonical record fields that
// occur in records, followed by every other field name in sorted order.
func Columns(records []model.Purchase) []string {
	seen := map[string]struct{}{}
	for _, r := range records {
		for key := range r.Raw {
			seen[key] = struct{}{}
		}
	}
	if len(seen) == 0 {
		return append([]string(nil), ingest.CanonicalFields...)
	}
	columns := make([]string, 0, len(seen))
	for _, field := range ingest.CanonicalFields {
		if _, ok := seen[field]; ok {
			columns = append(columns, field)
			delete(seen, field)
		}
	}
	extras := make([]string, 0, len(seen))
	for key := range seen {
		extras = append(extras, key)
	}
	sort.Strings(extras)
	return append(columns, extras...)
}

// Write writes records to w and returns the number of data rows written.
func Write(w io.Writer, format Format, records []model.Purchase, opts ...Option) (int, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	switch format {
	case XLSX:
		return writeXLSX(w, records, o)
	case CSV:
		return writeCSV(w, records, o)
	}
	return 0, fmt.Errorf("unsupported export format %q", format)
}

// WriteFile writes records to path, creating parent directories.
func WriteFile(path string, format Format, records []model.Purchase, opts ...Option) (n int, err error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return 0, fmt.Errorf("failed to create export dir: %w", err)
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return 0, fmt.Errorf("failed to create export file: %w", err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("failed to close export file: %w", cerr)
		}
	}()
	return Write(f, format, records, opts...)
}

func writeXLSX(w io.Writer, records []model.Purchase, o options) (int, error) {
	f := excelize.NewFile()
	defer func() {
		if cerr := f.Close(); cerr != nil {
			// Best-effort workbook close.
			_ = cerr
		}
	}()

	sw, err := f.NewStreamWriter(SheetName)
	if err != nil {
		return 0, fmt.Errorf("failed to open worksheet: %w", err)
	}
	columns := Columns(records)
	header := make([]any, len(columns))
	for i, c := range columns {
		header[i] = c
	}
	if err := sw.SetRow("A1", header); err != nil {
		return 0, fmt.Errorf("failed to write header: %w", err)
	}

	for i, r := range records {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return i, err
		}
		row := make([]any, len(columns))
		for j, c := range columns {
			row[j] = cellValue(r.Raw[c])
		}
		if err := sw.SetRow(cell, row); err != nil {
			return i, fmt.Errorf("failed to write row %d: %w", i+1, err)
		}
		if o.progress != nil {
			o.progress(i+1, len(records))
		}
	}
	if err := sw.Flush(); err != nil {
		return len(records), fmt.Errorf("failed to flush worksheet: %w", err)
	}
	if err := f.Write(w); err != nil {
		return len(records), fmt.Errorf("failed to write workbook: %w", err)
	}
	return len(records), nil
}

func writeCSV(w io.Writer, records []model.Purchase, o options) (int, error) {
	cw := csv.NewWriter(w)
	columns := Columns(records)
	if err := cw.Write(columns); err != nil {
		return 0, fmt.Errorf("failed to write header: %w", err)
	}
	row := make([]string, len(columns))
	for i, r := range records {
		for j, c := range columns {
			row[j] = textValue(r.Raw[c])
		}
		if err := cw.Write(row); err != nil {
			return i, fmt.Errorf("failed to write row %d: %w", i+1, err)
		}
		if o.progress != nil {
			o.progress(i+1, len(records))
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return len(records), fmt.Errorf("failed to flush csv: %w", err)
	}
	return len(records), nil
}

// cellValue keeps JSON strings as text and JSON numbers as numbers.
func cellValue(msg json.RawMessage) any {
	v, ok := decodeScalar(msg)
	if !ok {
		return strings.TrimSpace(string(msg))
	}
	if n, isNum := v.(json.Number); isNum {
		if f, err := strconv.ParseFloat(n.String(), 64); err == nil {
			return f
		}
		return n.String()
	}
	return v
}

func textValue(msg json.RawMessage) string {
	v, ok := decodeScalar(msg)
	if !ok {
		return strings.TrimSpace(string(msg))
	}
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case json.Number:
		return val.String()
	case bool:
		return strconv.FormatBool(val)
	}
	return fmt.Sprint(v)
}

// decodeScalar returns nil for missing or null values and false for objects and arrays.
func decodeScalar(msg json.RawMessage) (any, bool) {
	trimmed := bytes.TrimSpace(msg)
	if len(trimmed) == 0 {
		return nil, true
	}
	if trimmed[0] == '{' || trimmed[0] == '[' {
		return nil, false
	}
	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, false
	}
	return v, true
}
