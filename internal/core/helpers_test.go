package core_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"labcore/internal/core"
	"labcore/pkg/domain"
)

var labZone = time.FixedZone("PDT", -7*3600)

// day0 is Thursday 2024-07-04 09:00 in the lab timezone.
var day0 = time.Date(2024, 7, 4, 9, 0, 0, 0, labZone)

var analyst = domain.Actor{ID: "u-1", Name: "Ana Ruiz", Position: "Microbiologist", Verified: true}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now.UTC()
}

func (c *testClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type auditSink struct {
	mu      sync.Mutex
	entries []core.AuditEntry
}

func (a *auditSink) Record(_ context.Context, entry core.AuditEntry) {
	a.mu.Lock()
	a.entries = append(a.entries, entry)
	a.mu.Unlock()
}

func (a *auditSink) last(t *testing.T) core.AuditEntry {
	t.Helper()
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.entries) == 0 {
		t.Fatalf("no audit entries recorded")
	}
	return a.entries[len(a.entries)-1]
}

func newTestService(t *testing.T, opts ...core.ServiceOption) (*core.Service, *testClock) {
	t.Helper()
	clock := &testClock{now: day0}
	base := []core.ServiceOption{core.WithClock(clock), core.WithLocation(labZone)}
	return core.NewInMemoryService(nil, append(base, opts...)...), clock
}

func sheet(sampleID string, names ...string) core.SampleSheet {
	out := core.SampleSheet{SampleID: sampleID, SampleCode: "M-" + sampleID}
	for _, name := range names {
		out.Parameters = append(out.Parameters, core.ParameterTemplate{Name: name, Category: "microbiological", Unit: "CFU/g"})
	}
	return out
}

// createAnalysis seeds an analysis and returns it with its parameters in
// sequence order.
func createAnalysis(t *testing.T, svc *core.Service, sampleID string, names ...string) (domain.Analysis, []domain.ParameterAnalysis) {
	t.Helper()
	a, _, err := svc.CreateAnalysis(context.Background(), analyst, sheet(sampleID, names...))
	if err != nil {
		t.Fatalf("create analysis: %v", err)
	}
	detail, err := svc.GetAnalysis(context.Background(), a.ID)
	if err != nil {
		t.Fatalf("get analysis: %v", err)
	}
	return detail.Analysis, detail.Parameters
}

func finalize(t *testing.T, svc *core.Service, parameterID, value string) domain.ParameterAnalysis {
	t.Helper()
	progress := string(domain.ProgressFinalized)
	p, _, err := svc.UpdateParameter(context.Background(), analyst, parameterID, core.ParameterUpdate{Progress: &progress, ResultValue: &value})
	if err != nil {
		t.Fatalf("finalize %s: %v", parameterID, err)
	}
	return p
}

func setProgress(t *testing.T, svc *core.Service, parameterID string, progress domain.AnalysisProgress) domain.ParameterAnalysis {
	t.Helper()
	p, _, err := svc.SetProgress(context.Background(), analyst, parameterID, string(progress), 0)
	if err != nil {
		t.Fatalf("set progress %s: %v", parameterID, err)
	}
	return p
}

func parameterStatuses(t *testing.T, svc *core.Service, analysisID string) []domain.ReportStatus {
	t.Helper()
	detail, err := svc.GetAnalysis(context.Background(), analysisID)
	if err != nil {
		t.Fatalf("get analysis: %v", err)
	}
	out := make([]domain.ReportStatus, 0, len(detail.Parameters))
	for _, p := range detail.Parameters {
		out = append(out, p.ReportStatus)
	}
	return out
}

func requireKind(t *testing.T, err error, kind domain.ErrorKind) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %s error, got nil", kind)
	}
	if got := domain.KindOf(err); got != kind {
		t.Fatalf("expected %s error, got %s (%v)", kind, got, err)
	}
}

func requireSentinel(t *testing.T, err, sentinel error) {
	t.Helper()
	if !errors.Is(err, sentinel) {
		t.Fatalf("expected %v, got %v", sentinel, err)
	}
}

func checkReadinessInvariants(t *testing.T, r domain.Readiness) {
	t.Helper()
	if r.AllReady && !r.HasReady {
		t.Fatalf("all_ready without has_ready: %+v", r)
	}
	if r.TotalCount == 0 && (r.HasReady || r.AllReady) {
		t.Fatalf("empty analysis reports readiness: %+v", r)
	}
	if r.ReadyCount > r.TotalCount {
		t.Fatalf("ready count exceeds total: %+v", r)
	}
}
