// Package pipeline runs a raster job and hands its table to the configured
// sinks.
package pipeline

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/aetriusgx/openet/internal/database"
	"github.com/aetriusgx/openet/internal/models"
	"github.com/aetriusgx/openet/internal/storage"
	"github.com/aetriusgx/openet/internal/table"
)

// DefaultObjectName is used when Pipeline.ObjectName is empty.
const DefaultObjectName = "openet/{start}_{end}"

// Runner is a job that fills a result table.
type Runner interface {
	storage.Exporter
	Run(ctx context.Context, dates models.DateRange, logger *logrus.Entry) (int, int, error)
	Table() *table.ResultTable
}

// Pipeline runs Job, then uploads the table to Storage and inserts its rows
// into Repository. Nil sinks are skipped.
type Pipeline struct {
	Job        Runner
	Storage    storage.Adapter
	Repository database.ResultRepository

	// ObjectName may reference {start}, {end} and {run_id}.
	ObjectName string
	LocalDir   string
	Parents    bool

	Logger *logrus.Entry
}

// Summary reports one execution.
type Summary struct {
	RunID   string
	Success int
	Failure int
	Rows    int
	Object  *storage.Object
}

// Execute runs the job over dates and feeds the sinks. The summary carries
// whatever completed before an error.
func (p *Pipeline) Execute(ctx context.Context, dates models.DateRange) (Summary, error) {
	if err := dates.Validate(); err != nil {
		return Summary{}, err
	}

	sum := Summary{RunID: uuid.NewString()}
	logger := p.Logger
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	logger = logger.WithField("run_id", sum.RunID)

	success, failure, err := p.Job.Run(ctx, dates, logger)
	sum.Success, sum.Failure = success, failure
	if t := p.Job.Table(); t != nil {
		sum.Rows = t.Len()
	}
	if err != nil {
		return sum, fmt.Errorf("run failed: %w", err)
	}

	if p.Storage != nil {
		obj, err := storage.SaveJob(ctx, p.Storage, p.Job, p.objectName(dates, sum.RunID), p.LocalDir, p.Parents, logger)
		if err != nil {
			return sum, err
		}
		sum.Object = &obj
	}

	if p.Repository != nil && sum.Rows > 0 {
		if err := p.Repository.BatchInsert(ctx, sum.RunID, p.Job.Table().Rows()); err != nil {
			logger.WithError(err).Error("Failed to store rows")
			return sum, fmt.Errorf("failed to store rows: %w", err)
		}
	}

	logger.WithFields(logrus.Fields{
		"success": sum.Success,
		"failure": sum.Failure,
		"rows":    sum.Rows,
	}).Info("Pipeline finished")
	return sum, nil
}

func (p *Pipeline) objectName(dates models.DateRange, runID string) string {
	name := p.ObjectName
	if name == "" {
		name = DefaultObjectName
	}
	bounds := dates.Params()
	return strings.NewReplacer(
		"{start}", bounds[0],
		"{end}", bounds[1],
		"{run_id}", runID,
	).Replace(name)
}
