package scheduler

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/aetriusgx/openet/internal/models"
	"github.com/aetriusgx/openet/internal/pipeline"
)

// Executor runs one pipeline pass.
type Executor interface {
	Execute(ctx context.Context, dates models.DateRange) (pipeline.Summary, error)
}

type Scheduler struct {
	ctx      context.Context
	executor Executor
	logger   *logrus.Logger
	cron     *cron.Cron

	spec     string
	lookback int
	timeout  time.Duration
	now      func() time.Time
}

// NewScheduler runs executor on spec over the trailing lookback days.
// A zero timeout lets a pass run until ctx is done.
func NewScheduler(ctx context.Context, executor Executor, logger *logrus.Logger, spec string, lookback int, timeout time.Duration) *Scheduler {
	return &Scheduler{
		ctx:      ctx,
		executor: executor,
		logger:   logger,
		cron:     cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		spec:     spec,
		lookback: lookback,
		timeout:  timeout,
		now:      time.Now,
	}
}

// Start the scheduler
func (s *Scheduler) Start() error {
	_, err := s.cron.AddFunc(s.spec, s.collectData)
	if err != nil {
		return err
	}
	s.cron.Start()
	return nil
}

// collectData runs one pipeline pass over the trailing window.
func (s *Scheduler) collectData() {
	ctx := s.ctx
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	dates := models.Trailing(s.now().UTC(), s.lookback)
	sum, err := s.executor.Execute(ctx, dates)
	entry := s.logger.WithFields(logrus.Fields{
		"run_id":     sum.RunID,
		"date_range": dates.String(),
	})
	if err != nil {
		entry.WithError(err).Error("Failed to collect data")
		return
	}
	entry.WithField("rows", sum.Rows).Info("Collected data")
}

// Stop the scheduler and wait for a running pass to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}
