// Package job runs data-fetching jobs against the raster API and holds the
// table each run produces.
package job

import (
	"bytes"
	"fmt"

	"github.com/spf13/afero"

	"github.com/aetriusgx/openet/internal/table"
)

// Job owns an API key and the result table of its latest run.
type Job struct {
	apiKey string
	table  *table.ResultTable
	fs     afero.Fs
}

// Table returns the result table, or nil if no run has started.
func (j *Job) Table() *table.ResultTable {
	return j.table
}

// Export serializes the result table as csv, pkl or json (case-insensitive).
// With an empty path the encoded bytes are only returned; otherwise they are
// also written to path.
//
// An empty table exports fine; only a job that never ran has no data.
func (j *Job) Export(path, format string, opts ...table.ExportOption) ([]byte, error) {
	f, ok := table.ParseFormat(format)
	if !ok {
		return nil, &UnsupportedFormatError{Format: format}
	}
	if j.table == nil {
		return nil, ErrNoData
	}

	var buf bytes.Buffer
	if err := j.table.Encode(&buf, f, opts...); err != nil {
		return nil, fmt.Errorf("failed to encode table: %w", err)
	}
	if path != "" {
		if err := afero.WriteFile(j.filesystem(), path, buf.Bytes(), 0o644); err != nil {
			return nil, fmt.Errorf("failed to write %s: %w", path, err)
		}
	}
	return buf.Bytes(), nil
}

// Fs is the filesystem Export writes to.
func (j *Job) Fs() afero.Fs {
	return j.filesystem()
}

func (j *Job) filesystem() afero.Fs {
	if j.fs == nil {
		return afero.NewOsFs()
	}
	return j.fs
}

// reset replaces the result table with an empty one.
func (j *Job) reset() *table.ResultTable {
	j.table = table.NewResultTable()
	return j.table
}
