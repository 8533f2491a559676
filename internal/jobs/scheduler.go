package jobs

import (
	"context"

	"github.com/fleetpay/treasury/internal/config"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// cronLogger adapts zap to the cron.Logger interface.
type cronLogger struct {
	log *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.log.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.log.Errorw(msg, append(keysAndValues, "error", err)...)
}

// Scheduler manages the cron jobs.
type Scheduler struct {
	cron   *cron.Cron
	jobs   *Jobs
	logger *zap.Logger
	config config.JobsConfig
}

func NewScheduler(jobs *Jobs, logger *zap.Logger, cfg config.JobsConfig) *Scheduler {
	c := cron.New(cron.WithChain(
		cron.Recover(cronLogger{log: logger.Sugar()}),
		cron.SkipIfStillRunning(cronLogger{log: logger.Sugar()}),
	))

	return &Scheduler{
		cron:   c,
		jobs:   jobs,
		logger: logger,
		config: cfg,
	}
}

// Start registers the jobs and starts the cron scheduler. A job whose
// schedule does not parse is logged and left out.
func (s *Scheduler) Start() {
	if _, err := s.cron.AddFunc(s.config.KeySweepSchedule, s.jobs.SweepExpiredKeys); err != nil {
		s.logger.Error("failed to schedule key sweep job", zap.Error(err))
	} else {
		s.logger.Info("scheduled key sweep job", zap.String("schedule", s.config.KeySweepSchedule))
	}

	if s.config.PurgeEnabled {
		if _, err := s.cron.AddFunc(s.config.PurgeSchedule, s.jobs.RunMaintenancePurge); err != nil {
			s.logger.Error("failed to schedule maintenance purge job", zap.Error(err))
		} else {
			s.logger.Info("scheduled maintenance purge job", zap.String("schedule", s.config.PurgeSchedule))
		}
	}

	s.cron.Start()
}

// Stop stops the scheduler. The returned context is done once running jobs finish.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}

// Entries reports how many jobs are registered.
func (s *Scheduler) Entries() int {
	return len(s.cron.Entries())
}
