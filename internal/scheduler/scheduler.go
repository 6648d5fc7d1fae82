// Package scheduler runs the periodic labcore maintenance jobs on cron
// schedules.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"labcore/internal/config"
	"labcore/internal/core"
	"labcore/pkg/domain"
)

// Job names, used as the job label on metrics and in logs.
const (
	JobOverdueScan   = "overdue_scan"
	JobGaugeRefresh  = "gauge_refresh"
	JobBackfill      = "backfill"
	JobOrphanCleanup = "orphan_cleanup"
)

const defaultJobTimeout = 5 * time.Minute

// Recorder receives job outcomes and snapshots. *metrics.Metrics satisfies
// it.
type Recorder interface {
	ObserveJob(job string, err error)
	SetDashboard(d core.Dashboard)
	ObserveBackfill(r core.BackfillReport)
}

type nopRecorder struct{}

func (nopRecorder) ObserveJob(string, error)            {}
func (nopRecorder) SetDashboard(core.Dashboard)         {}
func (nopRecorder) ObserveBackfill(core.BackfillReport) {}

// Scheduler manages scheduled tasks.
type Scheduler struct {
	cron    *cron.Cron
	svc     *core.Service
	cfg     config.SchedulerConfig
	actor   domain.Actor
	metrics Recorder
	logger  *zap.Logger
}

// New creates a scheduler whose jobs act as actor. Cron specs are read in
// loc so "30 2 * * *" means 02:30 lab time.
func New(cfg config.SchedulerConfig, svc *core.Service, actor domain.Actor, loc *time.Location, rec Recorder, logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if rec == nil {
		rec = nopRecorder{}
	}
	if loc == nil {
		loc = time.UTC
	}
	logger = logger.Named("scheduler")
	cl := cronLogger{log: logger.Sugar()}
	c := cron.New(
		cron.WithLocation(loc),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	return &Scheduler{cron: c, svc: svc, cfg: cfg, actor: actor, metrics: rec, logger: logger}
}

// Register adds every job with a non-empty spec. It fails on the first
// spec cron cannot parse.
func (s *Scheduler) Register() error {
	jobs := []struct {
		name string
		spec string
		run  func(context.Context) error
	}{
		{JobOverdueScan, s.cfg.OverdueScan, s.OverdueScan},
		{JobGaugeRefresh, s.cfg.GaugeRefresh, s.RefreshGauges},
		{JobBackfill, s.cfg.Backfill, s.Backfill},
		{JobOrphanCleanup, s.cfg.OrphanCleanup, s.CleanupOrphans},
	}
	for _, j := range jobs {
		if j.spec == "" {
			s.logger.Info("job disabled", zap.String("job", j.name))
			continue
		}
		if _, err := s.cron.AddFunc(j.spec, s.wrap(j.name, j.run)); err != nil {
			return fmt.Errorf("schedule %s %q: %w", j.name, j.spec, err)
		}
		s.logger.Info("job scheduled", zap.String("job", j.name), zap.String("spec", j.spec))
	}
	return nil
}

// Entries reports how many jobs are scheduled.
func (s *Scheduler) Entries() int { return len(s.cron.Entries()) }

// Run starts the cron loop and blocks until ctx is done, then waits for
// running jobs to finish.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.Info("starting scheduler", zap.Int("jobs", s.Entries()))
	s.cron.Start()
	<-ctx.Done()
	s.logger.Info("stopping scheduler")
	<-s.cron.Stop().Done()
	return nil
}

func (s *Scheduler) wrap(name string, run func(context.Context) error) func() {
	return func() {
		timeout := s.cfg.JobTimeout
		if timeout <= 0 {
			timeout = defaultJobTimeout
		}
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		start := time.Now()
		err := run(ctx)
		s.metrics.ObserveJob(name, err)
		if err != nil {
			s.logger.Error("job failed", zap.String("job", name), zap.Duration("duration", time.Since(start)), zap.Error(err))
			return
		}
		s.logger.Debug("job finished", zap.String("job", name), zap.Duration("duration", time.Since(start)))
	}
}

// OverdueScan logs every incubation past its planned end.
func (s *Scheduler) OverdueScan(ctx context.Context) error {
	overdue, err := s.svc.OverdueIncubations(ctx)
	if err != nil {
		return err
	}
	for _, m := range overdue {
		fields := []zap.Field{
			zap.String("media_id", m.Media.ID),
			zap.String("analysis_id", m.Media.AnalysisID),
			zap.String("equipment_id", m.Media.EquipmentID),
		}
		if m.Overrun != nil {
			fields = append(fields, zap.String("overrun", m.Overrun.String()))
		}
		s.logger.Warn("incubation overdue", fields...)
	}
	return nil
}

// RefreshGauges copies the dashboard counters into the recorder.
func (s *Scheduler) RefreshGauges(ctx context.Context) error {
	d, err := s.svc.Dashboard(ctx)
	if err != nil {
		return err
	}
	s.metrics.SetDashboard(d)
	return nil
}

// Backfill folds new incubation and equipment history into the usage
// ledger for every equipment unit.
func (s *Scheduler) Backfill(ctx context.Context) error {
	report, _, err := s.svc.BackfillHistory(ctx, s.actor, "")
	if err != nil {
		return err
	}
	s.metrics.ObserveBackfill(report)
	s.logger.Info("backfill finished",
		zap.Int("equipment", len(report.EquipmentIDs)),
		zap.Int("created", report.Created),
		zap.Int("updated", report.Updated),
		zap.Int("skipped", report.Skipped),
	)
	return nil
}

// CleanupOrphans removes analyses whose sample reception no longer knows.
func (s *Scheduler) CleanupOrphans(ctx context.Context) error {
	out, _, err := s.svc.CleanupOrphans(ctx, s.actor)
	if err != nil {
		return err
	}
	if len(out.Deleted) > 0 || len(out.Kept) > 0 {
		s.logger.Info("orphan cleanup finished", zap.Strings("deleted", out.Deleted), zap.Strings("kept", out.Kept))
	}
	return nil
}

// cronLogger adapts zap to cron.Logger.
type cronLogger struct {
	log *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.log.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.log.Errorw(msg, append(keysAndValues, "error", err)...)
}
