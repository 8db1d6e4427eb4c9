package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"github.com/aetriusgx/openet/internal/api"
	"github.com/aetriusgx/openet/internal/config"
	"github.com/aetriusgx/openet/internal/database"
	"github.com/aetriusgx/openet/internal/job"
	"github.com/aetriusgx/openet/internal/params"
	"github.com/aetriusgx/openet/internal/pipeline"
	"github.com/aetriusgx/openet/internal/storage"
	"github.com/aetriusgx/openet/internal/table"
)

// app builds the components of a command from the loaded configuration.
type app struct {
	cfg    *config.Config
	logger *logrus.Logger
	fs     afero.Fs

	closers []func() error
}

func (a *app) newClient(reg prometheus.Registerer) (*api.Client, error) {
	var metrics *api.Metrics
	if reg != nil {
		m, err := api.NewMetrics(reg)
		if err != nil {
			return nil, fmt.Errorf("failed to register metrics: %w", err)
		}
		metrics = m
	}
	return api.NewClient(api.Config{
		Timeout:        a.cfg.API.Timeout,
		RateLimit:      a.cfg.API.RateLimit,
		RateLimitBurst: a.cfg.API.RateLimitBurst,
		CacheSize:      a.cfg.API.CacheSize,
	}, logrus.NewEntry(a.logger), metrics)
}

func (a *app) newJob(client job.Requester) (*job.RasterTimeseries, error) {
	seq, err := params.NewSequence(a.cfg.Parameters)
	if err != nil {
		return nil, err
	}
	if a.cfg.Geometry.Path == "" {
		return nil, errors.New("geometry.path is required")
	}
	geometries, err := table.OpenGeometries(a.fs, a.cfg.Geometry.Path, a.cfg.Geometry.Column)
	if err != nil {
		return nil, fmt.Errorf("failed to read geometries: %w", err)
	}

	jc := a.cfg.Job
	opts := []job.Option{
		job.WithClient(client),
		job.WithEndpoints(a.cfg.API.PointEndpoint, a.cfg.API.PolygonEndpoint),
		job.WithValueFields(jc.ValueField.Point, jc.ValueField.Polygon),
		job.WithResolvedEndpoint(jc.UseResolvedEndpoint),
		job.WithWorkers(jc.Workers),
		job.WithFs(a.fs),
	}
	if jc.Index != "" {
		opts = append(opts, job.WithIndex(jc.Index))
	}
	geometryColumn := jc.Geometry
	if geometryColumn == "" && a.cfg.Geometry.Column != table.DefaultGeometryColumn {
		geometryColumn = a.cfg.Geometry.Column
	}
	if geometryColumn != "" {
		opts = append(opts, job.WithGeometry(geometryColumn))
	}
	return job.NewRasterTimeseries(seq, a.cfg.API.Key, geometries, opts...)
}

func (a *app) newStorage(ctx context.Context) (storage.Adapter, error) {
	sc := a.cfg.Storage
	switch sc.Kind {
	case config.StorageGCS:
		bucket, err := storage.NewBucket(ctx, sc.ProjectID, sc.Bucket, storage.Credentials{
			File: sc.CredentialsFile,
			JSON: []byte(sc.CredentialsJSON),
		})
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, bucket.Close)
		a.logger.WithFields(logrus.Fields{
			"bucket":        sc.Bucket,
			"authenticated": bucket.Authenticated(),
		}).Debug("Connected to bucket")
		return bucket, nil
	case config.StorageLocal:
		return storage.NewLocal(a.fs, sc.Dir), nil
	}
	return nil, nil
}

func (a *app) newRepository(ctx context.Context) (database.ResultRepository, error) {
	if !a.cfg.Database.Enabled {
		return nil, nil
	}
	repo, err := database.NewPostgresRepo(a.cfg.Database.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	a.closers = append(a.closers, repo.Close)
	if err := repo.EnsureSchema(ctx); err != nil {
		return nil, err
	}
	return repo, nil
}

// newPipeline wires the job to whichever sinks are configured.
func (a *app) newPipeline(ctx context.Context, reg prometheus.Registerer) (*pipeline.Pipeline, error) {
	client, err := a.newClient(reg)
	if err != nil {
		return nil, err
	}
	j, err := a.newJob(client)
	if err != nil {
		return nil, err
	}

	p := &pipeline.Pipeline{
		Job:        j,
		ObjectName: a.cfg.Storage.ObjectName,
		LocalDir:   a.cfg.Storage.LocalDir,
		Parents:    a.cfg.Storage.Parents,
		Logger:     logrus.NewEntry(a.logger),
	}
	adapter, err := a.newStorage(ctx)
	if err != nil {
		return nil, err
	}
	if adapter != nil {
		p.Storage = adapter
	}
	repo, err := a.newRepository(ctx)
	if err != nil {
		return nil, err
	}
	if repo != nil {
		p.Repository = repo
	}
	return p, nil
}

func (a *app) close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	a.closers = nil
	return errors.Join(errs...)
}
