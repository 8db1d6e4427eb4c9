package table

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"maps"
	"path/filepath"
	"slices"
	"sort"
	"strings"

	"github.com/spf13/afero"
)

// DefaultGeometryColumn is the column consulted when no geometry column is
// named explicitly.
const DefaultGeometryColumn = "geometry"

// Geometry is a GeoJSON geometry object.
type Geometry struct {
	Type        string `json:"type"`
	Coordinates any    `json:"coordinates"`
}

// Coordinates extracts the coordinates member of a geometry value. Values
// without one yield nil.
func Coordinates(v any) any {
	switch g := v.(type) {
	case Geometry:
		return g.Coordinates
	case *Geometry:
		if g == nil {
			return nil
		}
		return g.Coordinates
	case map[string]any:
		return g["coordinates"]
	}
	return nil
}

// GeometryRow is one feature of a GeometryTable.
type GeometryRow struct {
	Index  any
	Fields map[string]any
}

// GeometryTable is an indexed table of features. The index is not one of
// the Columns.
type GeometryTable struct {
	IndexName string
	Columns   []string
	Rows      []GeometryRow
}

// NewGeometryTable returns an empty table with the given columns.
func NewGeometryTable(columns ...string) *GeometryTable {
	return &GeometryTable{Columns: columns}
}

// AddRow appends a row. Fields outside Columns are kept but never consulted.
func (t *GeometryTable) AddRow(index any, fields map[string]any) {
	t.Rows = append(t.Rows, GeometryRow{Index: index, Fields: fields})
}

// HasColumn reports whether name is one of the table columns.
func (t *GeometryTable) HasColumn(name string) bool {
	return slices.Contains(t.Columns, name)
}

// Len returns the number of rows.
func (t *GeometryTable) Len() int {
	return len(t.Rows)
}

// Copy returns a copy that shares no rows or field maps with t.
func (t *GeometryTable) Copy() *GeometryTable {
	c := &GeometryTable{
		IndexName: t.IndexName,
		Columns:   slices.Clone(t.Columns),
		Rows:      make([]GeometryRow, len(t.Rows)),
	}
	for i, r := range t.Rows {
		c.Rows[i] = GeometryRow{Index: r.Index, Fields: maps.Clone(r.Fields)}
	}
	return c
}

// Reindex returns a copy indexed by column. The current index is first
// moved into a column of its own (named "index" when unnamed), then column
// is taken out of the columns and becomes the index.
func (t *GeometryTable) Reindex(column string) (*GeometryTable, error) {
	c := t.Copy()

	reset := c.IndexName
	if reset == "" {
		reset = "index"
	}
	if !c.HasColumn(reset) {
		c.Columns = append([]string{reset}, c.Columns...)
		for i := range c.Rows {
			if c.Rows[i].Fields == nil {
				c.Rows[i].Fields = map[string]any{}
			}
			c.Rows[i].Fields[reset] = c.Rows[i].Index
		}
	}

	if !c.HasColumn(column) {
		return nil, fmt.Errorf("column %s not found", column)
	}
	c.Columns = slices.DeleteFunc(c.Columns, func(s string) bool { return s == column })
	for i := range c.Rows {
		c.Rows[i].Index = c.Rows[i].Fields[column]
		delete(c.Rows[i].Fields, column)
	}
	c.IndexName = column
	return c, nil
}

var ErrNotGeoJSON = errors.New("expected geojson")

// ParseGeometryColumn decodes a column of GeoJSON strings in place. Values
// that are already geometries are left untouched.
func ParseGeometryColumn(t *GeometryTable, column string) error {
	if !t.HasColumn(column) {
		return fmt.Errorf("column %s not found", column)
	}
	for i, r := range t.Rows {
		var raw []byte
		switch v := r.Fields[column].(type) {
		case Geometry, *Geometry:
			continue
		case string:
			raw = []byte(v)
		case []byte:
			raw = v
		default:
			return fmt.Errorf("%w, got %T instead", ErrNotGeoJSON, v)
		}
		var g Geometry
		if err := json.Unmarshal(raw, &g); err != nil {
			return fmt.Errorf("%w, got %T instead: row %d: %v", ErrNotGeoJSON, r.Fields[column], i, err)
		}
		t.Rows[i].Fields[column] = g
	}
	return nil
}

// ReadGeometryCSV reads a CSV file with a header line whose geometry column
// holds GeoJSON strings. Rows are indexed by position.
func ReadGeometryCSV(r io.Reader, geometryColumn string) (*GeometryTable, error) {
	if geometryColumn == "" {
		geometryColumn = DefaultGeometryColumn
	}
	cr := csv.NewReader(r)
	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}
	t := NewGeometryTable(header...)
	for i := 0; ; i++ {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i, err)
		}
		fields := make(map[string]any, len(header))
		for j, name := range header {
			fields[name] = rec[j]
		}
		t.AddRow(i, fields)
	}
	if err := ParseGeometryColumn(t, geometryColumn); err != nil {
		return nil, err
	}
	return t, nil
}

type featureCollection struct {
	Type     string    `json:"type"`
	Features []feature `json:"features"`
}

type feature struct {
	ID         any            `json:"id"`
	Geometry   *Geometry      `json:"geometry"`
	Properties map[string]any `json:"properties"`
}

// ReadGeoJSON loads a FeatureCollection. Properties become columns, in
// sorted order, followed by the geometry column. When every feature carries
// an id the table is indexed by it under the name "id"; otherwise rows are
// indexed by position.
func ReadGeoJSON(r io.Reader) (*GeometryTable, error) {
	var fc featureCollection
	if err := json.NewDecoder(r).Decode(&fc); err != nil {
		return nil, fmt.Errorf("failed to decode feature collection: %w", err)
	}
	if fc.Type != "FeatureCollection" {
		return nil, fmt.Errorf("%w feature collection, got type %q", ErrNotGeoJSON, fc.Type)
	}

	seen := map[string]bool{}
	var columns []string
	ids := true
	for _, f := range fc.Features {
		keys := make([]string, 0, len(f.Properties))
		for k := range f.Properties {
			if !seen[k] && k != DefaultGeometryColumn {
				seen[k] = true
				keys = append(keys, k)
			}
		}
		sort.Strings(keys)
		columns = append(columns, keys...)
		if f.ID == nil {
			ids = false
		}
	}

	t := NewGeometryTable(append(columns, DefaultGeometryColumn)...)
	if ids && len(fc.Features) > 0 {
		t.IndexName = "id"
	}
	for i, f := range fc.Features {
		fields := make(map[string]any, len(f.Properties)+1)
		for k, v := range f.Properties {
			fields[k] = v
		}
		if f.Geometry != nil {
			fields[DefaultGeometryColumn] = *f.Geometry
		} else {
			fields[DefaultGeometryColumn] = nil
		}
		var index any = i
		if t.IndexName != "" {
			index = f.ID
		}
		t.AddRow(index, fields)
	}
	return t, nil
}

// OpenGeometries reads a geometry table from path: GeoJSON for .geojson and
// .json files, CSV with a GeoJSON geometry column for .csv files.
func OpenGeometries(fs afero.Fs, path, geometryColumn string) (*GeometryTable, error) {
	f, err := fs.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".geojson", ".json":
		return ReadGeoJSON(f)
	case ".csv":
		return ReadGeometryCSV(f, geometryColumn)
	default:
		return nil, fmt.Errorf("unsupported geometry file extension %q", ext)
	}
}
