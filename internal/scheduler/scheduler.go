// Package scheduler runs the periodic maintenance jobs of the pipeline.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/openbuilders/tip-engine/internal/recovery"

	"github.com/robfig/cron/v3"
)

type Config struct {
	RecoverySpec   string
	StuckCheckSpec string
	ReportSpec     string
	RetentionSpec  string
	// RetentionPeriod is how long failed transactions are kept.
	RetentionPeriod time.Duration
	JobTimeout      time.Duration
}

type Recovery interface {
	RecoverAllPendingTransactions(ctx context.Context) (*recovery.BatchResult, error)
	CheckForStuckTransactions(ctx context.Context) (*recovery.StuckReport, error)
	GenerateRecoveryReport(ctx context.Context) (*recovery.Report, error)
}

type Retention interface {
	DeleteFailedBefore(ctx context.Context, before time.Time) (int64, error)
}

type Scheduler struct {
	config    *Config
	recovery  Recovery
	retention Retention
	now       func() time.Time
	log       *slog.Logger
}

func New(config *Config, recovery Recovery, retention Retention) *Scheduler {
	return &Scheduler{
		config:    config,
		recovery:  recovery,
		retention: retention,
		now:       time.Now,
		log:       slog.With("component", "scheduler"),
	}
}

type job struct {
	name string
	spec string
	run  func(ctx context.Context) error
}

func (s *Scheduler) jobs() []job {
	return []job{
		{name: "recovery", spec: s.config.RecoverySpec, run: s.recover},
		{name: "stuck-check", spec: s.config.StuckCheckSpec, run: s.checkStuck},
		{name: "recovery-report", spec: s.config.ReportSpec, run: s.report},
		{name: "retention", spec: s.config.RetentionSpec, run: s.purgeFailed},
	}
}

// Start registers every job with a non-empty spec and blocks until ctx is
// cancelled. Running jobs are waited for before it returns.
func (s *Scheduler) Start(ctx context.Context) error {
	logger := cronLogger{log: s.log}

	c := cron.New(
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)

	for _, j := range s.jobs() {
		if j.spec == "" {
			s.log.Info("Job disabled", "job", j.name)
			continue
		}

		if _, err := c.AddFunc(j.spec, s.wrap(ctx, j)); err != nil {
			return fmt.Errorf("couldn't schedule %s: %w", j.name, err)
		}

		s.log.Info("Job scheduled", "job", j.name, "spec", j.spec)
	}

	c.Start()
	s.log.Info("Starting scheduler...")

	<-ctx.Done()

	s.log.Info("Stopping scheduler...")
	<-c.Stop().Done()

	return nil
}

func (s *Scheduler) wrap(ctx context.Context, j job) func() {
	return func() {
		jobCtx, cancel := context.WithTimeout(ctx, s.config.JobTimeout)
		defer cancel()

		started := s.now()
		if err := j.run(jobCtx); err != nil {
			s.log.Error("Job failed", "job", j.name, "error", err)
			return
		}

		s.log.Debug("Job finished", "job", j.name, "took", s.now().Sub(started))
	}
}

func (s *Scheduler) recover(ctx context.Context) error {
	result, err := s.recovery.RecoverAllPendingTransactions(ctx)
	if err != nil {
		return err
	}

	for _, r := range result.Results {
		if r.Action == recovery.ActionRefund && r.StatusChanged {
			s.log.Warn("Refund required", "transaction", r.TransactionID)
		}
	}

	return nil
}

func (s *Scheduler) checkStuck(ctx context.Context) error {
	_, err := s.recovery.CheckForStuckTransactions(ctx)
	return err
}

func (s *Scheduler) report(ctx context.Context) error {
	report, err := s.recovery.GenerateRecoveryReport(ctx)
	if err != nil {
		return err
	}

	if len(report.RecommendedActions) > 0 {
		s.log.Warn(
			"Recovery report",
			"pending", report.TotalPending,
			"average_pending_seconds", report.AveragePendingTime,
			"recommendations", report.RecommendedActions,
		)
	}

	return nil
}

func (s *Scheduler) purgeFailed(ctx context.Context) error {
	before := s.now().Add(-s.config.RetentionPeriod)

	deleted, err := s.retention.DeleteFailedBefore(ctx, before)
	if err != nil {
		return fmt.Errorf("retention: %w", err)
	}

	if deleted > 0 {
		s.log.Info("Purged failed transactions", "deleted", deleted, "before", before)
	}

	return nil
}

// cronLogger routes cron's own logging to slog.
type cronLogger struct {
	log *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error(msg, append(keysAndValues, "error", err)...)
}
