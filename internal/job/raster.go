package job

import (
	"context"
	"fmt"
	"io"
	"iter"
	"maps"
	"math"

	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"github.com/spf13/cast"
	"golang.org/x/sync/errgroup"

	"github.com/aetriusgx/openet/internal/api"
	"github.com/aetriusgx/openet/internal/models"
	"github.com/aetriusgx/openet/internal/params"
	"github.com/aetriusgx/openet/internal/table"
)

// Requester issues a single API request.
type Requester interface {
	Send(ctx context.Context, endpoint string, params map[string]any, apiKey string) (*api.Response, error)
}

// ParameterSequence yields the parameter records of a job.
type ParameterSequence interface {
	Polygon() bool
	All() iter.Seq[params.Record]
}

// Option configures a RasterTimeseries.
type Option func(*settings)

type settings struct {
	index, geometry   string
	client            Requester
	point, polygon    string
	pointValueField   string
	polygonValueField string
	resolved          bool
	workers           int
	fs                afero.Fs
}

// WithIndex names the column used as the geometry table index.
func WithIndex(column string) Option {
	return func(s *settings) { s.index = column }
}

// WithGeometry names the geometry column, "geometry" by default.
func WithGeometry(column string) Option {
	return func(s *settings) { s.geometry = column }
}

// WithClient sets the requester. Defaults to an api.Client with no timeout.
func WithClient(c Requester) Option {
	return func(s *settings) { s.client = c }
}

// WithEndpoints overrides the point and polygon endpoint URLs. Empty values
// keep the defaults.
func WithEndpoints(point, polygon string) Option {
	return func(s *settings) {
		if point != "" {
			s.point = point
		}
		if polygon != "" {
			s.polygon = polygon
		}
	}
}

// WithValueFields names the response field holding the value for each
// endpoint kind. When empty, the second field of each row is used.
func WithValueFields(point, polygon string) Option {
	return func(s *settings) {
		s.pointValueField = point
		s.polygonValueField = polygon
	}
}

// WithResolvedEndpoint makes requests go to Endpoint(). By default every
// request goes to the point endpoint, whatever the geometry kind.
func WithResolvedEndpoint(enabled bool) Option {
	return func(s *settings) { s.resolved = enabled }
}

// WithWorkers allows up to n requests in flight for the geometry rows of one
// parameter record. Rows are still appended in sequential order.
func WithWorkers(n int) Option {
	return func(s *settings) { s.workers = n }
}

// WithFs sets the filesystem Export writes to.
func WithFs(fs afero.Fs) Option {
	return func(s *settings) { s.fs = fs }
}

// RasterTimeseries fetches a raster time series for every pair of parameter
// record and geometry row.
type RasterTimeseries struct {
	Job

	seq        ParameterSequence
	geometries *table.GeometryTable
	index      string
	geometry   string
	endpoint   string
	point      string
	valueField string
	workers    int
	client     Requester
}

// NewRasterTimeseries validates the geometry table and builds a job. The
// table is copied; later changes by the caller do not affect the job.
func NewRasterTimeseries(seq ParameterSequence, apiKey string, geometries *table.GeometryTable, opts ...Option) (*RasterTimeseries, error) {
	s := settings{
		point:   api.PointEndpoint,
		polygon: api.PolygonEndpoint,
		workers: 1,
	}
	for _, opt := range opts {
		opt(&s)
	}

	if s.geometry == "" && !geometries.HasColumn(table.DefaultGeometryColumn) {
		return nil, &ConfigurationError{Role: "geometry"}
	}
	if s.geometry != "" && !geometries.HasColumn(s.geometry) {
		return nil, &ConfigurationError{Role: "geometry", Column: s.geometry}
	}
	if s.index != "" && !geometries.HasColumn(s.index) {
		return nil, &ConfigurationError{Role: "index", Column: s.index}
	}

	r := &RasterTimeseries{
		Job:      Job{apiKey: apiKey, fs: s.fs},
		seq:      seq,
		index:    s.index,
		geometry: s.geometry,
		endpoint: s.point,
		point:    s.point,
		workers:  s.workers,
		client:   s.client,
	}
	if seq.Polygon() {
		r.endpoint = s.polygon
	}
	if r.geometry == "" {
		r.geometry = table.DefaultGeometryColumn
	}
	if r.index == "" {
		r.index = geometries.IndexName
	}

	if r.index != "" {
		reindexed, err := geometries.Reindex(r.index)
		if err != nil {
			return nil, &ConfigurationError{Role: "index", Column: r.index}
		}
		r.geometries = reindexed
	} else {
		r.geometries = geometries.Copy()
	}

	// The value field follows the endpoint requests are actually sent to.
	r.valueField = s.pointValueField
	if s.resolved {
		r.point = r.endpoint
		if seq.Polygon() {
			r.valueField = s.polygonValueField
		}
	}

	if r.client == nil {
		c, err := api.NewClient(api.Config{}, nil, nil)
		if err != nil {
			return nil, err
		}
		r.client = c
	}
	return r, nil
}

// Endpoint is the endpoint matching the geometry kind of the parameter
// sequence.
func (r *RasterTimeseries) Endpoint() string {
	return r.endpoint
}

// RequestEndpoint is the endpoint requests are sent to.
func (r *RasterTimeseries) RequestEndpoint() string {
	return r.point
}

// Geometries returns the job's own copy of the geometry table.
func (r *RasterTimeseries) Geometries() *table.GeometryTable {
	return r.geometries
}

type outcome struct {
	ok   bool
	rows []models.ResultRow
	err  error
}

// Run fetches every parameter record for every geometry row and rebuilds
// the result table. Requests that fail to get a response or are rejected by
// the server count as failures and the run carries on. A successful
// response that cannot be parsed into rows aborts the run with ErrFormat;
// rows appended up to that point stay in the table.
func (r *RasterTimeseries) Run(ctx context.Context, dates models.DateRange, logger *logrus.Entry) (int, int, error) {
	if logger == nil {
		logger = discardLogger()
	}
	logger = logger.WithField("date_range", dates.String())

	results := r.reset()
	var success, failure int
	tally := func(o outcome) error {
		if !o.ok {
			failure++
			return nil
		}
		success++
		if o.err != nil {
			return o.err
		}
		results.Append(o.rows...)
		return nil
	}

	for rec := range r.seq.All() {
		kv := rec.KV()
		kv[params.KeyDateRange] = dates.Params()
		recLogger := logger.WithFields(logrus.Fields{
			"model":    kv[params.KeyModel],
			"variable": kv[params.KeyVariable],
		})

		if r.workers > 1 {
			if err := ctx.Err(); err != nil {
				return success, failure, err
			}
			for _, o := range r.fetchConcurrently(ctx, kv, recLogger) {
				if err := tally(o); err != nil {
					return success, failure, err
				}
			}
			continue
		}

		for _, row := range r.geometries.Rows {
			if err := ctx.Err(); err != nil {
				return success, failure, err
			}
			if err := tally(r.fetch(ctx, kv, row, recLogger)); err != nil {
				return success, failure, err
			}
		}
	}

	logger.WithFields(logrus.Fields{
		"success": success,
		"failure": failure,
		"rows":    results.Len(),
	}).Info("Raster time series run finished")
	return success, failure, nil
}

func (r *RasterTimeseries) fetchConcurrently(ctx context.Context, kv map[string]any, logger *logrus.Entry) []outcome {
	outcomes := make([]outcome, len(r.geometries.Rows))
	var g errgroup.Group
	g.SetLimit(r.workers)
	for i, row := range r.geometries.Rows {
		g.Go(func() error {
			outcomes[i] = r.fetch(ctx, kv, row, logger)
			return nil
		})
	}
	_ = g.Wait()
	return outcomes
}

// fetch issues the request for one geometry row. kv is never mutated.
func (r *RasterTimeseries) fetch(ctx context.Context, kv map[string]any, row table.GeometryRow, logger *logrus.Entry) outcome {
	p := maps.Clone(kv)
	p[params.KeyGeometry] = table.Coordinates(row.Fields[r.geometry])
	logger = logger.WithField("geometry_index", row.Index)

	resp, err := r.client.Send(ctx, r.point, p, r.apiKey)
	if err != nil {
		logger.WithError(err).Warn("Request failed")
		return outcome{}
	}
	if !resp.IsSuccess() {
		logger.WithField("status", resp.StatusCode).Warn("Request rejected")
		return outcome{}
	}

	rows, err := r.parse(resp, params.Record(p))
	if err != nil {
		logger.WithError(err).Error("Could not format response")
	}
	return outcome{ok: true, rows: rows, err: err}
}

func (r *RasterTimeseries) parse(resp *api.Response, rec params.Record) ([]models.ResultRow, error) {
	var (
		data []*api.Row
		err  error
	)
	format := rec.String(params.KeyFileFormat)
	switch format {
	case "csv":
		data, err = api.FormatCSV(resp)
	case "json":
		data, err = api.FormatJSON(resp)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFormat, err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: no rows for file_format %q", ErrFormat, format)
	}

	rows := make([]models.ResultRow, 0, len(data))
	for i, d := range data {
		row, err := r.resultRow(d, rec)
		if err != nil {
			return nil, fmt.Errorf("%w: row %d: %v", ErrFormat, i, err)
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func (r *RasterTimeseries) resultRow(d *api.Row, rec params.Record) (models.ResultRow, error) {
	date, ok := d.Get("time")
	if !ok {
		return models.ResultRow{}, fmt.Errorf("missing time field")
	}

	var raw any
	if r.valueField != "" {
		if raw, ok = d.Get(r.valueField); !ok {
			return models.ResultRow{}, fmt.Errorf("missing value field %s", r.valueField)
		}
	} else if _, raw, ok = api.FieldAt(d, 1); !ok {
		return models.ResultRow{}, fmt.Errorf("missing value field")
	}
	value, err := toValue(raw)
	if err != nil {
		return models.ResultRow{}, err
	}

	return models.ResultRow{
		Date:      cast.ToString(date),
		Value:     value,
		Model:     rec.String(params.KeyModel),
		Variable:  rec.String(params.KeyVariable),
		Overpass:  rec.String(params.KeyOverpass),
		Reference: rec.String(params.KeyReference),
		Units:     rec.String(params.KeyUnits),
	}, nil
}

// toValue converts a response cell to a float. Blank cells are NaN.
func toValue(v any) (float64, error) {
	if v == nil {
		return math.NaN(), nil
	}
	if s, ok := v.(string); ok && s == "" {
		return math.NaN(), nil
	}
	f, err := cast.ToFloat64E(v)
	if err != nil {
		return 0, fmt.Errorf("invalid value %v: %w", v, err)
	}
	return f, nil
}

func discardLogger() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}
