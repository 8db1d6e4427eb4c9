package job

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"math"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aetriusgx/openet/internal/api"
	"github.com/aetriusgx/openet/internal/models"
	"github.com/aetriusgx/openet/internal/params"
	"github.com/aetriusgx/openet/internal/table"
)

type fakeSeq struct {
	polygon bool
	records []params.Record
}

func (f fakeSeq) Polygon() bool { return f.polygon }

func (f fakeSeq) All() iter.Seq[params.Record] {
	return func(yield func(params.Record) bool) {
		for _, r := range f.records {
			if !yield(r) {
				return
			}
		}
	}
}

type call struct {
	endpoint string
	params   map[string]any
}

type fakeClient struct {
	mu      sync.Mutex
	calls   []call
	respond func(endpoint string, p map[string]any) (*api.Response, error)
}

func (c *fakeClient) Send(_ context.Context, endpoint string, p map[string]any, apiKey string) (*api.Response, error) {
	c.mu.Lock()
	c.calls = append(c.calls, call{endpoint: endpoint, params: p})
	c.mu.Unlock()
	return c.respond(endpoint, p)
}

// csvFor answers with one row whose value is the x coordinate of the
// requested point.
func csvFor(_ string, p map[string]any) (*api.Response, error) {
	x := p[params.KeyGeometry].([]float64)[0]
	return &api.Response{StatusCode: http.StatusOK, Body: []byte(fmt.Sprintf("time,et\n2023-01-01,%g\n", x))}, nil
}

func points(n int) *table.GeometryTable {
	t := table.NewGeometryTable("name", "geometry")
	for i := 0; i < n; i++ {
		t.AddRow(i, map[string]any{
			"name":     fmt.Sprintf("field-%d", i),
			"geometry": table.Geometry{Type: "Point", Coordinates: []float64{float64(i), 36}},
		})
	}
	return t
}

func twoRecords() fakeSeq {
	return fakeSeq{records: []params.Record{
		{params.KeyModel: "Ensemble", params.KeyVariable: "ET", params.KeyUnits: "mm", params.KeyFileFormat: "csv"},
		{params.KeyModel: "SSEBop", params.KeyVariable: "ET", params.KeyUnits: "mm", params.KeyFileFormat: "csv"},
	}}
}

func mustDates(t *testing.T) models.DateRange {
	r, err := models.ParseDateRange("2023-01-01", "2023-12-31")
	require.NoError(t, err)
	return r
}

func TestNewRasterTimeseriesEndpoint(t *testing.T) {
	point, err := NewRasterTimeseries(fakeSeq{}, "key", points(1))
	require.NoError(t, err)
	assert.Equal(t, api.PointEndpoint, point.Endpoint())
	assert.Equal(t, api.PointEndpoint, point.RequestEndpoint())

	polygon, err := NewRasterTimeseries(fakeSeq{polygon: true}, "key", points(1))
	require.NoError(t, err)
	assert.Equal(t, api.PolygonEndpoint, polygon.Endpoint())
	assert.Equal(t, api.PointEndpoint, polygon.RequestEndpoint(), "requests go to the point endpoint unless told otherwise")

	resolved, err := NewRasterTimeseries(fakeSeq{polygon: true}, "key", points(1),
		WithEndpoints("http://p", "http://poly"), WithResolvedEndpoint(true))
	require.NoError(t, err)
	assert.Equal(t, "http://poly", resolved.Endpoint())
	assert.Equal(t, "http://poly", resolved.RequestEndpoint())
}

func TestNewRasterTimeseriesValidation(t *testing.T) {
	noGeometry := table.NewGeometryTable("name", "geom")

	tests := []struct {
		name       string
		table      *table.GeometryTable
		opts       []Option
		errMessage string
	}{
		{
			name:       "no geometry column",
			table:      noGeometry,
			errMessage: "missing column: no geometry column found in table",
		},
		{
			name:       "explicit geometry column absent",
			table:      points(1),
			opts:       []Option{WithGeometry("shape")},
			errMessage: "missing column: geometry column shape not found in table",
		},
		{
			name:       "explicit index column absent",
			table:      points(1),
			opts:       []Option{WithIndex("field_id")},
			errMessage: "missing column: index column field_id not found in table",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := &fakeClient{respond: csvFor}
			_, err := NewRasterTimeseries(twoRecords(), "key", tt.table, append(tt.opts, WithClient(client))...)
			require.Error(t, err)
			assert.EqualError(t, err, tt.errMessage)
			assert.ErrorIs(t, err, ErrMissingColumn)
			var cfgErr *ConfigurationError
			assert.True(t, errors.As(err, &cfgErr))
			assert.Empty(t, client.calls)
		})
	}

	_, err := NewRasterTimeseries(fakeSeq{}, "key", noGeometry, WithGeometry("geom"))
	assert.NoError(t, err, "explicit geometry column present")
}

func TestNewRasterTimeseriesCopiesTable(t *testing.T) {
	src := points(2)
	j, err := NewRasterTimeseries(fakeSeq{}, "key", src, WithIndex("name"))
	require.NoError(t, err)

	src.Rows[0].Fields["geometry"] = nil
	src.AddRow(2, map[string]any{})

	assert.Equal(t, 2, j.Geometries().Len())
	assert.Equal(t, "name", j.Geometries().IndexName)
	assert.Equal(t, "field-0", j.Geometries().Rows[0].Index)
	assert.NotNil(t, j.Geometries().Rows[0].Fields["geometry"])
}

func TestRunAllSucceed(t *testing.T) {
	client := &fakeClient{respond: csvFor}
	j, err := NewRasterTimeseries(twoRecords(), "secret", points(3), WithClient(client))
	require.NoError(t, err)

	success, failure, err := j.Run(context.Background(), mustDates(t), nil)
	require.NoError(t, err)
	assert.Equal(t, 6, success)
	assert.Equal(t, 0, failure)
	require.Equal(t, 6, j.Table().Len())

	var got []string
	for _, r := range j.Table().Rows() {
		got = append(got, fmt.Sprintf("%s/%g", r.Model, r.Value))
		assert.Equal(t, "2023-01-01", r.Date)
		assert.Equal(t, "ET", r.Variable)
		assert.Equal(t, "mm", r.Units)
		assert.Equal(t, "", r.Reference)
		assert.Equal(t, "", r.Overpass)
	}
	assert.Equal(t, []string{
		"Ensemble/0", "Ensemble/1", "Ensemble/2",
		"SSEBop/0", "SSEBop/1", "SSEBop/2",
	}, got)

	require.Len(t, client.calls, 6)
	for _, c := range client.calls {
		assert.Equal(t, api.PointEndpoint, c.endpoint)
		assert.Equal(t, []string{"2023-01-01", "2023-12-31"}, c.params[params.KeyDateRange])
	}
	// Each request gets its own parameter map.
	assert.Equal(t, []float64{0, 36}, client.calls[0].params[params.KeyGeometry])
	assert.Equal(t, []float64{1, 36}, client.calls[1].params[params.KeyGeometry])
}

func TestRunOneRejectedRequest(t *testing.T) {
	client := &fakeClient{respond: func(endpoint string, p map[string]any) (*api.Response, error) {
		if p[params.KeyModel] == "SSEBop" && p[params.KeyGeometry].([]float64)[0] == 1 {
			return &api.Response{StatusCode: http.StatusUnauthorized, Body: []byte("bad key")}, nil
		}
		return csvFor(endpoint, p)
	}}
	j, err := NewRasterTimeseries(twoRecords(), "key", points(3), WithClient(client))
	require.NoError(t, err)

	success, failure, err := j.Run(context.Background(), mustDates(t), nil)
	require.NoError(t, err)
	assert.Equal(t, 5, success)
	assert.Equal(t, 1, failure)
	assert.Equal(t, 5, j.Table().Len())
}

func TestRunTransportFailure(t *testing.T) {
	client := &fakeClient{respond: func(endpoint string, p map[string]any) (*api.Response, error) {
		if p[params.KeyGeometry].([]float64)[0] == 0 {
			return nil, api.ErrRequest
		}
		return csvFor(endpoint, p)
	}}
	j, err := NewRasterTimeseries(twoRecords(), "key", points(3), WithClient(client))
	require.NoError(t, err)

	success, failure, err := j.Run(context.Background(), mustDates(t), nil)
	require.NoError(t, err)
	assert.Equal(t, 4, success)
	assert.Equal(t, 2, failure)
	assert.Equal(t, 4, j.Table().Len())
	assert.Len(t, client.calls, 6, "failures never stop the run")
}

func TestRunCountsCoverCrossProduct(t *testing.T) {
	// Geometry i answers with i rows; odd geometries are rejected.
	client := &fakeClient{respond: func(_ string, p map[string]any) (*api.Response, error) {
		i := int(p[params.KeyGeometry].([]float64)[0])
		if i%2 == 1 {
			return &api.Response{StatusCode: http.StatusBadRequest}, nil
		}
		body := "time,et\n"
		for k := 0; k <= i; k++ {
			body += fmt.Sprintf("2023-01-%02d,%d\n", k+1, k)
		}
		return &api.Response{StatusCode: http.StatusOK, Body: []byte(body)}, nil
	}}
	seq := fakeSeq{records: []params.Record{
		{params.KeyFileFormat: "csv", params.KeyModel: "a"},
		{params.KeyFileFormat: "csv", params.KeyModel: "b"},
		{params.KeyFileFormat: "csv", params.KeyModel: "c"},
	}}
	j, err := NewRasterTimeseries(seq, "key", points(5), WithClient(client))
	require.NoError(t, err)

	success, failure, err := j.Run(context.Background(), mustDates(t), nil)
	require.NoError(t, err)
	assert.Equal(t, 3*5, success+failure)
	assert.Equal(t, 9, success)
	// Geometries 0, 2 and 4 yield 1, 3 and 5 rows per record.
	assert.Equal(t, 3*(1+3+5), j.Table().Len())
}

func TestRunEmptyResponseAborts(t *testing.T) {
	client := &fakeClient{respond: func(endpoint string, p map[string]any) (*api.Response, error) {
		if p[params.KeyModel] == "SSEBop" {
			return &api.Response{StatusCode: http.StatusOK, Body: []byte("time,et\n")}, nil
		}
		return csvFor(endpoint, p)
	}}
	j, err := NewRasterTimeseries(twoRecords(), "key", points(3), WithClient(client))
	require.NoError(t, err)

	_, _, err = j.Run(context.Background(), mustDates(t), nil)
	require.ErrorIs(t, err, ErrFormat)
	assert.Len(t, client.calls, 4, "no request is issued after the format error")
	assert.Equal(t, 3, j.Table().Len(), "rows appended before the error are kept")
}

func TestRunUnknownFileFormat(t *testing.T) {
	client := &fakeClient{respond: csvFor}
	seq := fakeSeq{records: []params.Record{{params.KeyFileFormat: "xlsx"}}}
	j, err := NewRasterTimeseries(seq, "key", points(2), WithClient(client))
	require.NoError(t, err)

	success, failure, err := j.Run(context.Background(), mustDates(t), nil)
	assert.ErrorIs(t, err, ErrFormat)
	assert.Equal(t, 1, success)
	assert.Equal(t, 0, failure)
	assert.Len(t, client.calls, 1)
}

func TestRunInvalidValueAborts(t *testing.T) {
	client := &fakeClient{respond: func(string, map[string]any) (*api.Response, error) {
		return &api.Response{StatusCode: http.StatusOK, Body: []byte("time,et\n2023-01-01,n/a\n")}, nil
	}}
	j, err := NewRasterTimeseries(twoRecords(), "key", points(1), WithClient(client))
	require.NoError(t, err)

	_, _, err = j.Run(context.Background(), mustDates(t), nil)
	assert.ErrorIs(t, err, ErrFormat)
}

func TestRunJSONValueExtraction(t *testing.T) {
	body := `[{"time":"2023-01-01","et_mean":1.5,"count":9},{"time":"2023-02-01","et_mean":null,"count":9}]`
	client := &fakeClient{respond: func(string, map[string]any) (*api.Response, error) {
		return &api.Response{StatusCode: http.StatusOK, Body: []byte(body)}, nil
	}}
	seq := fakeSeq{records: []params.Record{{params.KeyFileFormat: "json", params.KeyModel: "eeMETRIC"}}}

	positional, err := NewRasterTimeseries(seq, "key", points(1), WithClient(client))
	require.NoError(t, err)
	_, _, err = positional.Run(context.Background(), mustDates(t), nil)
	require.NoError(t, err)
	rows := positional.Table().Rows()
	require.Len(t, rows, 2)
	assert.Equal(t, 1.5, rows[0].Value)
	assert.True(t, math.IsNaN(rows[1].Value))
	assert.Equal(t, "eeMETRIC", rows[0].Model)

	named, err := NewRasterTimeseries(seq, "key", points(1), WithClient(client), WithValueFields("count", ""))
	require.NoError(t, err)
	_, _, err = named.Run(context.Background(), mustDates(t), nil)
	require.NoError(t, err)
	assert.Equal(t, 9.0, named.Table().Rows()[0].Value)

	missing, err := NewRasterTimeseries(seq, "key", points(1), WithClient(client), WithValueFields("et", ""))
	require.NoError(t, err)
	_, _, err = missing.Run(context.Background(), mustDates(t), nil)
	assert.ErrorIs(t, err, ErrFormat)
}

func TestRunPolygonValueFieldFollowsRequestEndpoint(t *testing.T) {
	client := &fakeClient{respond: func(string, map[string]any) (*api.Response, error) {
		return &api.Response{StatusCode: http.StatusOK, Body: []byte("time,et,et_mean\n2023-01-01,1,2\n")}, nil
	}}
	seq := fakeSeq{polygon: true, records: []params.Record{{params.KeyFileFormat: "csv"}}}

	j, err := NewRasterTimeseries(seq, "key", points(1), WithClient(client),
		WithValueFields("et", "et_mean"), WithResolvedEndpoint(true))
	require.NoError(t, err)
	_, _, err = j.Run(context.Background(), mustDates(t), nil)
	require.NoError(t, err)
	assert.Equal(t, 2.0, j.Table().Rows()[0].Value)
	assert.Equal(t, api.PolygonEndpoint, client.calls[0].endpoint)
}

func TestRunResetsTable(t *testing.T) {
	client := &fakeClient{respond: csvFor}
	j, err := NewRasterTimeseries(twoRecords(), "key", points(2), WithClient(client))
	require.NoError(t, err)
	assert.Nil(t, j.Table())

	_, _, err = j.Run(context.Background(), mustDates(t), nil)
	require.NoError(t, err)
	first := j.Table()
	assert.Equal(t, 4, first.Len())

	_, _, err = j.Run(context.Background(), mustDates(t), nil)
	require.NoError(t, err)
	assert.Equal(t, 4, j.Table().Len())
	assert.NotSame(t, first, j.Table())
}

func TestRunNoGeometryCoordinates(t *testing.T) {
	client := &fakeClient{respond: func(string, map[string]any) (*api.Response, error) {
		return &api.Response{StatusCode: http.StatusOK, Body: []byte("time,et\n2023-01-01,1\n")}, nil
	}}
	tbl := table.NewGeometryTable("geometry")
	tbl.AddRow(0, map[string]any{"geometry": "not a geometry"})

	j, err := NewRasterTimeseries(fakeSeq{records: []params.Record{{params.KeyFileFormat: "csv"}}}, "key", tbl, WithClient(client))
	require.NoError(t, err)
	_, _, err = j.Run(context.Background(), mustDates(t), nil)
	require.NoError(t, err)
	v, ok := client.calls[0].params[params.KeyGeometry]
	assert.True(t, ok)
	assert.Nil(t, v)
}

func TestRunCanceled(t *testing.T) {
	client := &fakeClient{respond: csvFor}
	j, err := NewRasterTimeseries(twoRecords(), "key", points(3), WithClient(client))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, _, err = j.Run(ctx, mustDates(t), nil)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, client.calls)
}

func TestRunConcurrentMatchesSequential(t *testing.T) {
	respond := func(endpoint string, p map[string]any) (*api.Response, error) {
		if p[params.KeyGeometry].([]float64)[0] == 3 {
			return &api.Response{StatusCode: http.StatusServiceUnavailable}, nil
		}
		return csvFor(endpoint, p)
	}

	sequential, err := NewRasterTimeseries(twoRecords(), "key", points(8), WithClient(&fakeClient{respond: respond}))
	require.NoError(t, err)
	s1, f1, err := sequential.Run(context.Background(), mustDates(t), nil)
	require.NoError(t, err)

	concurrent, err := NewRasterTimeseries(twoRecords(), "key", points(8), WithClient(&fakeClient{respond: respond}), WithWorkers(4))
	require.NoError(t, err)
	s2, f2, err := concurrent.Run(context.Background(), mustDates(t), nil)
	require.NoError(t, err)

	assert.Equal(t, s1, s2)
	assert.Equal(t, f1, f2)
	assert.Equal(t, sequential.Table().Rows(), concurrent.Table().Rows())
}

func TestRunConcurrentFormatError(t *testing.T) {
	client := &fakeClient{respond: func(endpoint string, p map[string]any) (*api.Response, error) {
		if p[params.KeyGeometry].([]float64)[0] == 2 {
			return &api.Response{StatusCode: http.StatusOK}, nil
		}
		return csvFor(endpoint, p)
	}}
	j, err := NewRasterTimeseries(twoRecords(), "key", points(5), WithClient(client), WithWorkers(3))
	require.NoError(t, err)

	success, failure, err := j.Run(context.Background(), mustDates(t), nil)
	assert.ErrorIs(t, err, ErrFormat)
	assert.Equal(t, 3, success)
	assert.Equal(t, 0, failure)
	assert.Equal(t, 2, j.Table().Len(), "only rows ordered before the failing pair are kept")
}

func TestRunAgainstHTTPServer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "secret" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		w.Write([]byte(`[{"time":"2023-01-01","et":3.25}]`))
	}))
	defer srv.Close()

	client, err := api.NewClient(api.Config{}, nil, nil)
	require.NoError(t, err)
	seq, err := params.NewSequence(params.RasterConfig{
		Models:      []string{"Ensemble", "PTJPL"},
		FileFormats: []string{"json"},
	})
	require.NoError(t, err)

	j, err := NewRasterTimeseries(seq, "secret", points(2), WithClient(client), WithEndpoints(srv.URL, ""))
	require.NoError(t, err)
	success, failure, err := j.Run(context.Background(), mustDates(t), nil)
	require.NoError(t, err)
	assert.Equal(t, 4, success)
	assert.Equal(t, 0, failure)
	assert.Equal(t, 3.25, j.Table().Rows()[3].Value)
	assert.Equal(t, "PTJPL", j.Table().Rows()[3].Model)

	wrongKey, err := NewRasterTimeseries(seq, "nope", points(2), WithClient(client), WithEndpoints(srv.URL, ""))
	require.NoError(t, err)
	success, failure, err = wrongKey.Run(context.Background(), mustDates(t), nil)
	require.NoError(t, err)
	assert.Equal(t, 0, success)
	assert.Equal(t, 4, failure)
	assert.Equal(t, 0, wrongKey.Table().Len())
}
