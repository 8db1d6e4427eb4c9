package table

import (
	"encoding/csv"
	"encoding/gob"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/aetriusgx/openet/internal/models"
)

// Format is a serialization format for a ResultTable.
type Format string

const (
	FormatCSV    Format = "csv"
	FormatPickle Format = "pkl"
	FormatJSON   Format = "json"
)

// ParseFormat matches a format token case-insensitively.
func ParseFormat(s string) (Format, bool) {
	switch f := Format(strings.ToLower(s)); f {
	case FormatCSV, FormatPickle, FormatJSON:
		return f, true
	}
	return "", false
}

// JSON layouts.
const (
	OrientRecords = "records"
	OrientColumns = "columns"
)

// ExportOptions tunes the encoders. Options that do not apply to the chosen
// format are ignored.
type ExportOptions struct {
	Delimiter  rune
	OmitHeader bool
	Orient     string
	Indent     string
}

type ExportOption func(*ExportOptions)

// WithDelimiter sets the CSV field delimiter.
func WithDelimiter(r rune) ExportOption {
	return func(o *ExportOptions) { o.Delimiter = r }
}

// WithoutHeader drops the CSV header line.
func WithoutHeader() ExportOption {
	return func(o *ExportOptions) { o.OmitHeader = true }
}

// WithOrient selects the JSON layout, OrientRecords or OrientColumns.
func WithOrient(orient string) ExportOption {
	return func(o *ExportOptions) { o.Orient = orient }
}

// WithIndent pretty-prints JSON output.
func WithIndent(indent string) ExportOption {
	return func(o *ExportOptions) { o.Indent = indent }
}

// Encode writes the table to w in the given format.
func (t *ResultTable) Encode(w io.Writer, f Format, opts ...ExportOption) error {
	o := ExportOptions{Delimiter: ',', Orient: OrientRecords}
	for _, opt := range opts {
		opt(&o)
	}
	switch f {
	case FormatCSV:
		return t.encodeCSV(w, o)
	case FormatJSON:
		return t.encodeJSON(w, o)
	case FormatPickle:
		return gob.NewEncoder(w).Encode(gobTable{Columns: Columns, Rows: t.rows})
	}
	return fmt.Errorf("unsupported format: %s", f)
}

type gobTable struct {
	Columns []string
	Rows    []models.ResultRow
}

func (t *ResultTable) encodeCSV(w io.Writer, o ExportOptions) error {
	cw := csv.NewWriter(w)
	cw.Comma = o.Delimiter
	if !o.OmitHeader {
		if err := cw.Write(Columns); err != nil {
			return err
		}
	}
	for _, r := range t.rows {
		if err := cw.Write(record(r)); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func record(r models.ResultRow) []string {
	return []string{r.Date, formatValue(r.Value), r.Model, r.Variable, r.Overpass, r.Reference, r.Units}
}

func formatValue(v float64) string {
	if math.IsNaN(v) {
		return ""
	}
	return strconv.FormatFloat(v, 'g', -1, 64)
}

func jsonValue(v float64) any {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return v
}

func (t *ResultTable) encodeJSON(w io.Writer, o ExportOptions) error {
	var doc any
	switch o.Orient {
	case OrientRecords, "":
		recs := make([]*orderedmap.OrderedMap[string, any], 0, len(t.rows))
		for _, r := range t.rows {
			recs = append(recs, fields(r))
		}
		doc = recs
	case OrientColumns:
		cols := orderedmap.New[string, *orderedmap.OrderedMap[string, any]]()
		for _, c := range Columns {
			cols.Set(c, orderedmap.New[string, any]())
		}
		for i, r := range t.rows {
			key := strconv.Itoa(i)
			for p := fields(r).Oldest(); p != nil; p = p.Next() {
				col, _ := cols.Get(p.Key)
				col.Set(key, p.Value)
			}
		}
		doc = cols
	default:
		return fmt.Errorf("unsupported json orient: %s", o.Orient)
	}
	enc := json.NewEncoder(w)
	if o.Indent != "" {
		enc.SetIndent("", o.Indent)
	}
	return enc.Encode(doc)
}

func fields(r models.ResultRow) *orderedmap.OrderedMap[string, any] {
	m := orderedmap.New[string, any](len(Columns))
	m.Set("date", r.Date)
	m.Set("value", jsonValue(r.Value))
	m.Set("model", r.Model)
	m.Set("variable", r.Variable)
	m.Set("overpass", r.Overpass)
	m.Set("reference", r.Reference)
	m.Set("units", r.Units)
	return m
}

var ErrSchemaMismatch = errors.New("header does not match result table schema")

// ReadCSV parses a table previously written with the CSV encoder and a
// header line.
func ReadCSV(r io.Reader) (*ResultTable, error) {
	cr := csv.NewReader(r)
	header, err := cr.Read()
	if err == io.EOF {
		return nil, fmt.Errorf("%w: empty input", ErrSchemaMismatch)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}
	if strings.Join(header, ",") != strings.Join(Columns, ",") {
		return nil, fmt.Errorf("%w: %v", ErrSchemaMismatch, header)
	}

	t := NewResultTable()
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		value := math.NaN()
		if rec[1] != "" {
			if value, err = strconv.ParseFloat(rec[1], 64); err != nil {
				return nil, fmt.Errorf("line %d: invalid value %q: %w", line, rec[1], err)
			}
		}
		t.Append(models.ResultRow{
			Date:      rec[0],
			Value:     value,
			Model:     rec[2],
			Variable:  rec[3],
			Overpass:  rec[4],
			Reference: rec[5],
			Units:     rec[6],
		})
	}
	return t, nil
}
