// Package table holds the tabular data a job works with: the caller-supplied
// geometry table and the fixed-schema result table a run produces.
package table

import (
	"slices"

	"github.com/aetriusgx/openet/internal/models"
)

// Columns is the fixed schema of every ResultTable.
var Columns = []string{"date", "value", "model", "variable", "overpass", "reference", "units"}

// ResultTable is an append-only sequence of result rows sharing the schema
// in Columns. Row order is insertion order.
type ResultTable struct {
	rows []models.ResultRow
}

// NewResultTable returns an empty table.
func NewResultTable() *ResultTable {
	return &ResultTable{}
}

// Reset discards every row.
func (t *ResultTable) Reset() {
	t.rows = nil
}

// Append adds rows at the end of the table.
func (t *ResultTable) Append(rows ...models.ResultRow) {
	t.rows = append(t.rows, rows...)
}

// Len returns the number of rows.
func (t *ResultTable) Len() int {
	return len(t.rows)
}

// Rows returns a copy of the rows in order.
func (t *ResultTable) Rows() []models.ResultRow {
	return slices.Clone(t.rows)
}

// Columns returns the table schema.
func (t *ResultTable) Columns() []string {
	return slices.Clone(Columns)
}
