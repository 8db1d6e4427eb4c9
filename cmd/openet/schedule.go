package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/aetriusgx/openet/internal/health"
	"github.com/aetriusgx/openet/internal/models"
	"github.com/aetriusgx/openet/internal/pipeline"
	"github.com/aetriusgx/openet/internal/scheduler"
)

type scheduleOptions struct {
	runNow bool
}

func newScheduleCommand(a *app) *cobra.Command {
	opts := &scheduleOptions{}
	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Run the pipeline on a cron schedule over a trailing window",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSchedule(cmd.Context(), a, opts)
		},
	}
	cmd.Flags().BoolVar(&opts.runNow, "run-now", false, "Run one pass before waiting for the schedule")
	return cmd
}

// observedExecutor reports every pass to the health checker.
type observedExecutor struct {
	pipeline *pipeline.Pipeline
	checker  *health.HealthChecker
}

func (e *observedExecutor) Execute(ctx context.Context, dates models.DateRange) (pipeline.Summary, error) {
	sum, err := e.pipeline.Execute(ctx, dates)
	e.checker.Observe(err)
	return sum, err
}

func runSchedule(ctx context.Context, a *app, opts *scheduleOptions) error {
	logger := a.logger
	reg := prometheus.NewRegistry()

	defer a.close()
	p, err := a.newPipeline(ctx, reg)
	if err != nil {
		return err
	}

	checker := health.NewHealthChecker()
	srv, err := health.SetupServer(checker, logger, reg, health.ServerConfig{
		RateLimit:      a.cfg.Health.RateLimit,
		RateLimitBurst: a.cfg.Health.RateLimitBurst,
	})
	if err != nil {
		return fmt.Errorf("failed to setup health server: %w", err)
	}
	lis, err := net.Listen("tcp", fmt.Sprintf("0.0.0.0:%d", a.cfg.Health.Port))
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}

	metricsServer := &http.Server{
		Addr:              a.cfg.Metrics.Address,
		Handler:           promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		ReadHeaderTimeout: 5 * time.Second,
	}

	executor := &observedExecutor{pipeline: p, checker: checker}
	sched := scheduler.NewScheduler(ctx, executor, logger, a.cfg.Schedule.Spec, a.cfg.Schedule.LookbackDays, a.cfg.Schedule.Timeout)

	errChan := make(chan error, 2)
	go func() {
		if err := srv.Serve(lis); err != nil {
			errChan <- fmt.Errorf("health server error: %w", err)
		}
	}()
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- fmt.Errorf("metrics server error: %w", err)
		}
	}()

	if opts.runNow {
		dates := models.Trailing(time.Now().UTC(), a.cfg.Schedule.LookbackDays)
		if _, err := executor.Execute(ctx, dates); err != nil {
			logger.WithError(err).Error("Initial pass failed")
		}
	}
	if err := sched.Start(); err != nil {
		return fmt.Errorf("scheduler error: %w", err)
	}
	logger.WithFields(logrus.Fields{
		"spec":        a.cfg.Schedule.Spec,
		"health_port": a.cfg.Health.Port,
		"metrics":     a.cfg.Metrics.Address,
	}).Info("Scheduler started")

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("Context canceled, initiating shutdown")
	case runErr = <-errChan:
		logger.WithError(runErr).Error("Service error, initiating shutdown")
	}

	checker.Shutdown()
	sched.Stop()
	srv.GracefulStop()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Warn("Failed to stop metrics server")
	}
	logger.Info("Scheduler stopped")
	return runErr
}
