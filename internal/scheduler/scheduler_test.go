package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"labcore/internal/config"
	"labcore/internal/core"
	"labcore/pkg/domain"
)

var (
	labZone = time.FixedZone("PDT", -7*3600)
	now     = time.Date(2024, 7, 4, 9, 0, 0, 0, labZone)
	analyst = domain.Actor{Name: "Ana Ruiz", Position: "Microbiologist", Verified: true}
	system  = domain.SystemActor("System (scheduler)")
)

type fixedClock struct{}

func (fixedClock) Now() time.Time { return now.UTC() }

type recorder struct {
	jobs      map[string][]error
	dashboard *core.Dashboard
	backfills []core.BackfillReport
}

func newRecorder() *recorder { return &recorder{jobs: map[string][]error{}} }

func (r *recorder) ObserveJob(job string, err error) { r.jobs[job] = append(r.jobs[job], err) }
func (r *recorder) SetDashboard(d core.Dashboard)    { r.dashboard = &d }
func (r *recorder) ObserveBackfill(b core.BackfillReport) {
	r.backfills = append(r.backfills, b)
}

type goneSamples struct{}

func (goneSamples) Sample(_ context.Context, id string) (core.SampleSheet, error) {
	return core.SampleSheet{}, domain.NotFound("intake_sample", domain.EntityAnalysis, id)
}

func (goneSamples) Exists(context.Context, string) (bool, error) { return false, nil }

func seeded(t *testing.T) *core.Service {
	t.Helper()
	svc := core.NewInMemoryService(nil,
		core.WithClock(fixedClock{}), core.WithLocation(labZone), core.WithSampleIntake(goneSamples{}))
	ctx := context.Background()
	a, _, err := svc.CreateAnalysis(ctx, analyst, core.SampleSheet{
		SampleID:   "S-1",
		Parameters: []core.ParameterTemplate{{Name: "Salmonella", Category: "microbiological"}},
	})
	require.NoError(t, err)
	detail, err := svc.GetAnalysis(ctx, a.ID)
	require.NoError(t, err)

	start, planned := now.Add(-48*time.Hour), now.Add(-24*time.Hour)
	_, _, err = svc.AddMedia(ctx, analyst, core.MediaInput{
		ParameterID: detail.Parameters[0].ID, Stage: "pre_enrichment", RequiresIncubation: true,
		EquipmentID: "INC-1", Start: &start, PlannedEnd: &planned,
	})
	require.NoError(t, err)
	return svc
}

func newScheduler(t *testing.T, cfg config.SchedulerConfig) (*Scheduler, *recorder, *observer.ObservedLogs) {
	t.Helper()
	obs, logs := observer.New(zapcore.DebugLevel)
	rec := newRecorder()
	return New(cfg, seeded(t), system, labZone, rec, zap.New(obs)), rec, logs
}

func TestOverdueScanLogsEachIncubation(t *testing.T) {
	s, _, logs := newScheduler(t, config.SchedulerConfig{})
	require.NoError(t, s.OverdueScan(context.Background()))

	overdue := logs.FilterMessage("incubation overdue").All()
	require.Len(t, overdue, 1)
	assert.Equal(t, "INC-1", overdue[0].ContextMap()["equipment_id"])
	assert.Equal(t, "scheduler", overdue[0].LoggerName)
}

func TestRefreshGaugesAndBackfill(t *testing.T) {
	s, rec, _ := newScheduler(t, config.SchedulerConfig{})
	ctx := context.Background()

	require.NoError(t, s.RefreshGauges(ctx))
	require.NotNil(t, rec.dashboard)
	assert.Equal(t, 1, rec.dashboard.Total)
	assert.Equal(t, 1, rec.dashboard.OverdueIncubations)

	require.NoError(t, s.Backfill(ctx))
	require.NoError(t, s.Backfill(ctx))
	require.Len(t, rec.backfills, 2)
	assert.Contains(t, rec.backfills[0].EquipmentIDs, "INC-1")
	assert.Zero(t, rec.backfills[1].Created, "a second run only revisits existing logs")
}

func TestCleanupOrphansDeletesUnreportedAnalyses(t *testing.T) {
	s, _, logs := newScheduler(t, config.SchedulerConfig{})
	require.NoError(t, s.CleanupOrphans(context.Background()))
	require.Equal(t, 1, logs.FilterMessage("orphan cleanup finished").Len())

	list, err := s.svc.ListAnalyses(context.Background())
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestRegisterSkipsEmptySpecsAndRejectsBadOnes(t *testing.T) {
	s, _, logs := newScheduler(t, config.SchedulerConfig{OverdueScan: "*/15 * * * *", Backfill: "30 2 * * *"})
	require.NoError(t, s.Register())
	assert.Equal(t, 2, s.Entries())
	assert.Equal(t, 2, logs.FilterMessage("job disabled").Len())

	bad, _, _ := newScheduler(t, config.SchedulerConfig{GaugeRefresh: "every minute"})
	err := bad.Register()
	require.Error(t, err)
	assert.Contains(t, err.Error(), JobGaugeRefresh)
}

func TestWrapRecordsOutcome(t *testing.T) {
	s, rec, logs := newScheduler(t, config.SchedulerConfig{JobTimeout: time.Second})
	boom := errors.New("boom")
	s.wrap("sample_job", func(ctx context.Context) error {
		deadline, ok := ctx.Deadline()
		assert.True(t, ok)
		assert.WithinDuration(t, time.Now().Add(time.Second), deadline, time.Second)
		return boom
	})()
	s.wrap("sample_job", func(context.Context) error { return nil })()

	assert.Equal(t, []error{boom, nil}, rec.jobs["sample_job"])
	assert.Equal(t, 1, logs.FilterMessage("job failed").Len())
}

func TestRunStopsOnCancel(t *testing.T) {
	s, _, logs := newScheduler(t, config.SchedulerConfig{GaugeRefresh: "* * * * *"})
	require.NoError(t, s.Register())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()
	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop")
	}
	assert.Equal(t, 1, logs.FilterMessage("stopping scheduler").Len())
}
