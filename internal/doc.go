// Package openet fetches OpenET raster time series for a set of geometries.
//
// # Architecture
//
// The module is structured into several key packages:
//   - api: HTTP client for the raster endpoints and response formatters
//   - params: Cartesian parameter sequence built from the configured lists
//   - table: Result table, geometry table and their file formats
//   - job: The raster time series job and its export
//   - storage: Google Cloud Storage and local sinks for exported tables
//   - database: TimescaleDB sink and aggregations
//   - pipeline: One job run followed by the configured sinks
//   - scheduler: Cron driven pipeline runs over a trailing window
//   - health: gRPC health service of the scheduler daemon
//   - config: YAML and environment configuration
//
// Key Features
//
//   - Requests:
//     One request per parameter record and geometry, in sequential order
//     or with a bounded number of workers; failed requests are counted and
//     skipped.
//
//   - Results:
//     A fixed seven column table (date, value, model, variable, overpass,
//     reference, units) exported as csv, pkl or json.
//
// Example Usage
//
//	seq, _ := params.NewSequence(params.RasterConfig{
//	    Models:      []string{"Ensemble"},
//	    Variables:   []string{"ET"},
//	    FileFormats: []string{"csv"},
//	})
//	j, err := job.NewRasterTimeseries(seq, apiKey, geometries)
//	success, failure, err := j.Run(ctx, dates, logger)
//	data, err := j.Export("et.csv", "csv")
package openet
