// Package params builds the query parameter records sent to the raster
// time series API.
//
// A RasterConfig lists the candidate values for each option; a Sequence walks
// their cartesian product lazily and can be iterated any number of times.
package params

import (
	"fmt"
	"iter"
	"maps"
)

// Option names as sent to the API.
const (
	KeyModel      = "model"
	KeyVariable   = "variable"
	KeyReference  = "reference"
	KeyUnits      = "units"
	KeyOverpass   = "overpass"
	KeyFileFormat = "file_format"
	KeyInterval   = "interval"
	KeyReducer    = "reducer"
	KeyDateRange  = "date_range"
	KeyGeometry   = "geometry"
)

// Record is one combination of query options.
type Record map[string]any

// KV returns a copy of the record that callers may mutate freely.
func (r Record) KV() map[string]any {
	return maps.Clone(map[string]any(r))
}

// String returns the option value for key, or "" when it is absent.
func (r Record) String(key string) string {
	v, ok := r[key]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

// RasterConfig lists the values to combine for a raster time series job.
type RasterConfig struct {
	Polygon     bool     `mapstructure:"polygon" yaml:"polygon"`
	Interval    string   `mapstructure:"interval" yaml:"interval"`
	Reducer     string   `mapstructure:"reducer" yaml:"reducer"`
	Models      []string `mapstructure:"models" yaml:"models"`
	Variables   []string `mapstructure:"variables" yaml:"variables"`
	References  []string `mapstructure:"references" yaml:"references"`
	Units       []string `mapstructure:"units" yaml:"units"`
	Overpass    []string `mapstructure:"overpass" yaml:"overpass"`
	FileFormats []string `mapstructure:"file_formats" yaml:"file_formats"`
}

var (
	validIntervals = map[string]bool{"daily": true, "monthly": true}
	validReducers  = map[string]bool{"mean": true, "min": true, "max": true, "median": true, "sum": true}
)

// Validate checks the scalar options. File formats are not checked here:
// an unknown format only surfaces when a response cannot be parsed.
func (c RasterConfig) Validate() error {
	if c.Interval != "" && !validIntervals[c.Interval] {
		return fmt.Errorf("invalid interval: %s", c.Interval)
	}
	if c.Reducer != "" {
		if !c.Polygon {
			return fmt.Errorf("reducer %s requires polygon mode", c.Reducer)
		}
		if !validReducers[c.Reducer] {
			return fmt.Errorf("invalid reducer: %s", c.Reducer)
		}
	}
	return nil
}

type dimension struct {
	key    string
	values []string
}

// Sequence is the lazy cartesian product of a RasterConfig.
type Sequence struct {
	config RasterConfig
	dims   []dimension
}

// NewSequence validates the config and returns its sequence. Options are
// nested in the order model, variable, reference, units, overpass,
// file_format, with file_format varying fastest.
func NewSequence(config RasterConfig) (*Sequence, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	s := &Sequence{config: config}
	for _, d := range []dimension{
		{KeyModel, config.Models},
		{KeyVariable, config.Variables},
		{KeyReference, config.References},
		{KeyUnits, config.Units},
		{KeyOverpass, config.Overpass},
		{KeyFileFormat, config.FileFormats},
	} {
		if len(d.values) > 0 {
			s.dims = append(s.dims, d)
		}
	}
	return s, nil
}

// Polygon reports whether the configured geometries are polygons.
func (s *Sequence) Polygon() bool {
	return s.config.Polygon
}

// Config returns the configuration the sequence was built from.
func (s *Sequence) Config() RasterConfig {
	return s.config
}

// Len is the number of records All yields.
func (s *Sequence) Len() int {
	n := 1
	for _, d := range s.dims {
		n *= len(d.values)
	}
	return n
}

// All yields every record in order. Each yielded record is a fresh map.
func (s *Sequence) All() iter.Seq[Record] {
	return func(yield func(Record) bool) {
		pos := make([]int, len(s.dims))
		for {
			if !yield(s.record(pos)) {
				return
			}
			// Odometer increment, rightmost dimension first.
			i := len(pos) - 1
			for ; i >= 0; i-- {
				pos[i]++
				if pos[i] < len(s.dims[i].values) {
					break
				}
				pos[i] = 0
			}
			if i < 0 {
				return
			}
		}
	}
}

func (s *Sequence) record(pos []int) Record {
	r := make(Record, len(s.dims)+2)
	if s.config.Interval != "" {
		r[KeyInterval] = s.config.Interval
	}
	if s.config.Reducer != "" {
		r[KeyReducer] = s.config.Reducer
	}
	for i, d := range s.dims {
		r[d.key] = d.values[pos[i]]
	}
	return r
}
