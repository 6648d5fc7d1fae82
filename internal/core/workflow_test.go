package core_test

import (
	"context"
	"testing"

	"labcore/internal/core"
	"labcore/pkg/domain"
)

func TestSignPromotesFinalizedParameters(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	a, params := createAnalysis(t, svc, "S-1", "Aerobic count", "Yeasts", "Molds")

	finalize(t, svc, params[0].ID, "120 CFU/g")
	finalize(t, svc, params[1].ID, "< 10 CFU/g")
	setProgress(t, svc, params[2].ID, domain.ProgressInProgress)

	signed, _, err := svc.Sign(ctx, analyst, a.ID)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if signed.SignatureState != domain.SignatureSigned {
		t.Fatalf("expected signed, got %s", signed.SignatureState)
	}
	if signed.Signature.SignedBy != analyst.Name || signed.Signature.Position != analyst.Position || signed.Signature.SignedAt == nil {
		t.Fatalf("signer metadata not recorded: %+v", signed.Signature)
	}
	want := domain.Readiness{ReadyCount: 2, TotalCount: 3, HasReady: true, AllReady: false}
	if signed.Readiness != want {
		t.Fatalf("unexpected readiness %+v, want %+v", signed.Readiness, want)
	}
	checkReadinessInvariants(t, signed.Readiness)
	statuses := parameterStatuses(t, svc, a.ID)
	if statuses[0] != domain.ReportReady || statuses[1] != domain.ReportReady || statuses[2] != domain.ReportDraft {
		t.Fatalf("unexpected statuses after sign: %v", statuses)
	}
}

func TestSignRequiresFinalizedParameter(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	a, params := createAnalysis(t, svc, "S-2", "pH", "Humidity")
	setProgress(t, svc, params[0].ID, domain.ProgressInProgress)

	_, _, err := svc.Sign(ctx, analyst, a.ID)
	requireKind(t, err, domain.KindPreconditionUnmet)
	requireSentinel(t, err, domain.ErrNoFinalizedParameters)
	if reason := domain.ReasonOf(err); reason != "no finalized parameters to sign" {
		t.Fatalf("unexpected reason %q", reason)
	}

	got, err := svc.GetAnalysis(ctx, a.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Analysis.SignatureState != domain.SignatureNotSigned {
		t.Fatalf("failed sign must not change state, got %s", got.Analysis.SignatureState)
	}
}

func TestSignWithFinalizedParameterMissingResult(t *testing.T) {
	sink := &auditSink{}
	svc, _ := newTestService(t, core.WithAuditRecorder(sink))
	ctx := context.Background()
	a, params := createAnalysis(t, svc, "S-2b", "pH", "Salmonella")
	finalize(t, svc, params[0].ID, "7.0")
	setProgress(t, svc, params[1].ID, domain.ProgressFinalized)

	signed, _, err := svc.Sign(ctx, analyst, a.ID)
	if err != nil {
		t.Fatalf("sign with one resulted parameter: %v", err)
	}
	if signed.SignatureState != domain.SignatureSigned {
		t.Fatalf("expected signed, got %s", signed.SignatureState)
	}
	statuses := parameterStatuses(t, svc, a.ID)
	if statuses[0] != domain.ReportReady || statuses[1] != domain.ReportDraft {
		t.Fatalf("only the resulted parameter becomes ready, got %v", statuses)
	}
	want := domain.Readiness{ReadyCount: 1, TotalCount: 2, HasReady: true}
	if signed.Readiness != want {
		t.Fatalf("unexpected readiness %+v", signed.Readiness)
	}
	skipped, ok := sink.last(t).Details["finalized_without_result"].([]string)
	if !ok || len(skipped) != 1 || skipped[0] != params[1].ID {
		t.Fatalf("unresulted parameter not recorded: %+v", sink.last(t).Details)
	}
}

func TestSignRejectsShortSignerAndSecondSignature(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	a, params := createAnalysis(t, svc, "S-3", "Coliforms")
	finalize(t, svc, params[0].ID, "Absence")

	short := domain.Actor{Name: "Al", Position: "QA", Verified: true}
	_, _, err := svc.Sign(ctx, short, a.ID)
	requireKind(t, err, domain.KindValidation)

	if _, _, err := svc.Sign(ctx, analyst, a.ID); err != nil {
		t.Fatalf("sign: %v", err)
	}
	_, _, err = svc.Sign(ctx, analyst, a.ID)
	requireKind(t, err, domain.KindInvalidTransition)
	requireSentinel(t, err, domain.ErrAlreadySigned)
}

func TestCancelSignatureRevertsReadyKeepsReported(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	a, params := createAnalysis(t, svc, "S-4", "Aerobic count", "Yeasts", "Molds")
	finalize(t, svc, params[0].ID, "120 CFU/g")
	finalize(t, svc, params[1].ID, "30 CFU/g")
	if _, _, err := svc.Sign(ctx, analyst, a.ID); err != nil {
		t.Fatalf("sign: %v", err)
	}
	if n, _, err := svc.MarkAsReported(ctx, analyst, []string{params[0].ID}); err != nil || n != 1 {
		t.Fatalf("mark reported: n=%d err=%v", n, err)
	}

	cancelled, _, err := svc.CancelSignature(ctx, analyst, a.ID, "revision needed")
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if cancelled.SignatureState != domain.SignatureCancelled {
		t.Fatalf("expected cancelled, got %s", cancelled.SignatureState)
	}
	if cancelled.Cancellation.Reason != "revision needed" || cancelled.Cancellation.CancelledBy != analyst.Name {
		t.Fatalf("cancellation metadata missing: %+v", cancelled.Cancellation)
	}
	statuses := parameterStatuses(t, svc, a.ID)
	want := []domain.ReportStatus{domain.ReportReported, domain.ReportDraft, domain.ReportDraft}
	for i := range want {
		if statuses[i] != want[i] {
			t.Fatalf("status[%d] = %s, want %s", i, statuses[i], want[i])
		}
	}
	if cancelled.Readiness.ReadyCount != 0 || cancelled.Readiness.HasReady {
		t.Fatalf("readiness not recomputed: %+v", cancelled.Readiness)
	}
}

func TestCancelSignatureRequiresSigned(t *testing.T) {
	svc, _ := newTestService(t)
	a, _ := createAnalysis(t, svc, "S-5", "pH")
	_, _, err := svc.CancelSignature(context.Background(), analyst, a.ID, "not yet")
	requireKind(t, err, domain.KindInvalidTransition)
	requireSentinel(t, err, domain.ErrNotSigned)
}

func TestUndoCancellationErasesMetadataIntoAudit(t *testing.T) {
	sink := &auditSink{}
	svc, _ := newTestService(t, core.WithAuditRecorder(sink))
	ctx := context.Background()
	a, params := createAnalysis(t, svc, "S-6", "pH")
	finalize(t, svc, params[0].ID, "6.8 pH")

	_, _, err := svc.UndoCancellation(ctx, analyst, a.ID)
	requireKind(t, err, domain.KindInvalidTransition)
	requireSentinel(t, err, domain.ErrNotCancelled)

	if _, _, err := svc.Sign(ctx, analyst, a.ID); err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, _, err := svc.CancelSignature(ctx, analyst, a.ID, "wrong dilution"); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	reopened, _, err := svc.UndoCancellation(ctx, analyst, a.ID)
	if err != nil {
		t.Fatalf("undo: %v", err)
	}
	if reopened.SignatureState != domain.SignatureNotSigned {
		t.Fatalf("expected not_signed, got %s", reopened.SignatureState)
	}
	if reopened.Cancellation != (domain.Cancellation{}) || reopened.Signature != (domain.Signature{}) {
		t.Fatalf("metadata not erased: %+v %+v", reopened.Cancellation, reopened.Signature)
	}

	entry := sink.last(t)
	if entry.Operation != core.OpUndoCancellation || entry.Status != core.AuditStatusSuccess {
		t.Fatalf("unexpected audit entry %+v", entry)
	}
	erased, ok := entry.Details["erased_cancellation"].(domain.Cancellation)
	if !ok || erased.Reason != "wrong dilution" {
		t.Fatalf("erased cancellation not audited: %+v", entry.Details)
	}
	signer, ok := entry.Details["erased_signature"].(domain.Signature)
	if !ok || signer.SignedBy != analyst.Name {
		t.Fatalf("erased signature not audited: %+v", entry.Details)
	}

	// The reopened analysis can be signed again.
	if _, _, err := svc.Sign(ctx, analyst, a.ID); err != nil {
		t.Fatalf("re-sign: %v", err)
	}
}

func TestMarkAsReportedIsIdempotent(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	a, params := createAnalysis(t, svc, "S-7", "Aerobic count", "Yeasts")
	finalize(t, svc, params[0].ID, "120 CFU/g")
	finalize(t, svc, params[1].ID, "30 CFU/g")
	if _, _, err := svc.Sign(ctx, analyst, a.ID); err != nil {
		t.Fatalf("sign: %v", err)
	}
	ids := []string{params[0].ID, params[1].ID}

	n, _, err := svc.MarkAsReported(ctx, analyst, ids)
	if err != nil || n != 2 {
		t.Fatalf("first mark: n=%d err=%v", n, err)
	}
	n, _, err = svc.MarkAsReported(ctx, analyst, ids)
	if err != nil {
		t.Fatalf("second mark should be a no-op, got %v", err)
	}
	if n != 0 {
		t.Fatalf("second mark marked %d parameters", n)
	}
	detail, err := svc.GetAnalysis(ctx, a.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	for _, p := range detail.Parameters {
		if p.ReportStatus != domain.ReportReported || p.ReportedBy != analyst.Name || p.ReportedAt == nil {
			t.Fatalf("parameter not frozen: %+v", p)
		}
	}
	if detail.Analysis.Readiness.ReadyCount != 0 || detail.Analysis.Readiness.TotalCount != 2 {
		t.Fatalf("unexpected readiness after reporting: %+v", detail.Analysis.Readiness)
	}
}

func TestMarkAsReportedPreconditions(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	a, params := createAnalysis(t, svc, "S-8", "Aerobic count", "Yeasts")
	finalize(t, svc, params[0].ID, "120 CFU/g")

	// Ready but unsigned.
	_, _, err := svc.MarkAsReported(ctx, analyst, []string{params[0].ID})
	requireKind(t, err, domain.KindInvalidTransition)
	requireSentinel(t, err, domain.ErrNotSigned)

	if _, _, err := svc.Sign(ctx, analyst, a.ID); err != nil {
		t.Fatalf("sign: %v", err)
	}
	// Signed but nothing ready or reported in the request.
	_, _, err = svc.MarkAsReported(ctx, analyst, []string{params[1].ID})
	requireKind(t, err, domain.KindPreconditionUnmet)
	requireSentinel(t, err, domain.ErrNoReadyParameters)

	_, _, err = svc.MarkAsReported(ctx, analyst, []string{"missing"})
	requireKind(t, err, domain.KindNotFound)

	_, _, err = svc.MarkAsReported(ctx, analyst, nil)
	requireKind(t, err, domain.KindValidation)
}

func TestMarkAnalysesAsReportedCountsAcrossAnalyses(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	var ids []string
	for _, sample := range []string{"S-9", "S-10"} {
		a, params := createAnalysis(t, svc, sample, "Aerobic count", "Yeasts")
		finalize(t, svc, params[0].ID, "10 CFU/g")
		finalize(t, svc, params[1].ID, "20 CFU/g")
		if _, _, err := svc.Sign(ctx, analyst, a.ID); err != nil {
			t.Fatalf("sign: %v", err)
		}
		ids = append(ids, a.ID)
	}
	n, _, err := svc.MarkAnalysesAsReported(ctx, analyst, ids)
	if err != nil || n != 4 {
		t.Fatalf("mark analyses: n=%d err=%v", n, err)
	}
}

func TestReportedParameterIsFrozen(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	a, params := createAnalysis(t, svc, "S-11", "Aerobic count")
	finalize(t, svc, params[0].ID, "120 CFU/g")
	if _, _, err := svc.Sign(ctx, analyst, a.ID); err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, _, err := svc.MarkAsReported(ctx, analyst, []string{params[0].ID}); err != nil {
		t.Fatalf("mark: %v", err)
	}

	_, _, err := svc.SetProgress(ctx, analyst, params[0].ID, string(domain.ProgressInProgress), 0)
	requireKind(t, err, domain.KindInvalidTransition)
	requireSentinel(t, err, domain.ErrReportedLocked)
	_, _, err = svc.RecordResult(ctx, analyst, params[0].ID, "", 0)
	requireKind(t, err, domain.KindInvalidTransition)
	_, err = svc.DeleteParameter(ctx, analyst, params[0].ID)
	requireKind(t, err, domain.KindInvalidTransition)

	if _, _, err := svc.CancelSignature(ctx, analyst, a.ID, "client asked"); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if _, _, err := svc.UndoCancellation(ctx, analyst, a.ID); err != nil {
		t.Fatalf("undo: %v", err)
	}
	if got := parameterStatuses(t, svc, a.ID); got[0] != domain.ReportReported {
		t.Fatalf("reported parameter moved to %s", got[0])
	}
}

func TestCreateRevisionCopiesGenerationAsDraft(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	a, params := createAnalysis(t, svc, "S-12", "Aerobic count", "Yeasts", "Molds")
	for _, p := range params {
		finalize(t, svc, p.ID, "10 CFU/g")
	}
	start := day0
	if _, _, err := svc.AddMedia(ctx, analyst, core.MediaInput{
		ParameterID: params[0].ID, Stage: "quantitative", RequiresIncubation: true, Start: &start,
	}); err != nil {
		t.Fatalf("add media: %v", err)
	}
	if _, _, err := svc.Sign(ctx, analyst, a.ID); err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, _, err := svc.MarkAsReported(ctx, analyst, []string{params[0].ID}); err != nil {
		t.Fatalf("mark: %v", err)
	}

	_, _, err := svc.CreateRevision(ctx, analyst, a.ID, "too short")
	requireKind(t, err, domain.KindValidation)

	out, _, err := svc.CreateRevision(ctx, analyst, a.ID, "client disputed result")
	if err != nil {
		t.Fatalf("create revision: %v", err)
	}
	if out.Source.SignatureState != domain.SignatureCancelled || out.Source.Cancellation.Reason != "client disputed result" {
		t.Fatalf("source not cancelled: %+v", out.Source)
	}
	source := parameterStatuses(t, svc, a.ID)
	if source[0] != domain.ReportReported || source[1] != domain.ReportDraft || source[2] != domain.ReportDraft {
		t.Fatalf("unexpected source statuses %v", source)
	}

	rev := out.Revision
	if rev.RevisionNumber != a.RevisionNumber+1 || !rev.IsRevision || rev.OriginalAnalysisID != a.ID {
		t.Fatalf("unexpected lineage %+v", rev)
	}
	if rev.SignatureState != domain.SignatureNotSigned || rev.Revision.Reason != "client disputed result" {
		t.Fatalf("unexpected revision state %+v", rev)
	}
	detail, err := svc.GetAnalysis(ctx, rev.ID)
	if err != nil {
		t.Fatalf("get revision: %v", err)
	}
	if len(detail.Parameters) != 3 {
		t.Fatalf("expected 3 copied parameters, got %d", len(detail.Parameters))
	}
	for _, p := range detail.Parameters {
		if p.ReportStatus != domain.ReportDraft {
			t.Fatalf("copied parameter %s is %s", p.Name, p.ReportStatus)
		}
		if p.Progress != domain.ProgressFinalized || p.ResultValue != "10 CFU/g" {
			t.Fatalf("copied parameter lost its work: %+v", p)
		}
		if p.ReportedAt != nil || p.ReportedBy != "" {
			t.Fatalf("copied parameter kept report stamp: %+v", p)
		}
	}
	if detail.Analysis.Readiness != (domain.Readiness{TotalCount: 3}) {
		t.Fatalf("unexpected revision readiness %+v", detail.Analysis.Readiness)
	}

	count, err := svc.RevisionCount(ctx, a.ID)
	if err != nil || count != 1 {
		t.Fatalf("revision count: %d %v", count, err)
	}
	lineage, err := svc.Lineage(ctx, rev.ID)
	if err != nil {
		t.Fatalf("lineage: %v", err)
	}
	if len(lineage) != 2 || lineage[0].ID != a.ID || lineage[1].ID != rev.ID {
		t.Fatalf("unexpected lineage %+v", lineage)
	}
}

func TestCreateRevisionRequiresSigned(t *testing.T) {
	svc, _ := newTestService(t)
	a, _ := createAnalysis(t, svc, "S-13", "pH")
	_, _, err := svc.CreateRevision(context.Background(), analyst, a.ID, "client disputed result")
	requireKind(t, err, domain.KindInvalidTransition)
	requireSentinel(t, err, domain.ErrNotSigned)
}

func TestSecondGenerationRevisionNumbers(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	a, params := createAnalysis(t, svc, "S-14", "pH")
	finalize(t, svc, params[0].ID, "7.0 pH")
	if _, _, err := svc.Sign(ctx, analyst, a.ID); err != nil {
		t.Fatalf("sign: %v", err)
	}
	first, _, err := svc.CreateRevision(ctx, analyst, a.ID, "client disputed result")
	if err != nil {
		t.Fatalf("first revision: %v", err)
	}
	// Copied work is draft; re-finalizing derives ready again.
	revParams := mustParameters(t, svc, first.Revision.ID)
	finalize(t, svc, revParams[0].ID, "7.1 pH")
	if _, _, err := svc.Sign(ctx, analyst, first.Revision.ID); err != nil {
		t.Fatalf("sign revision: %v", err)
	}
	second, _, err := svc.CreateRevision(ctx, analyst, first.Revision.ID, "second client dispute")
	if err != nil {
		t.Fatalf("second revision: %v", err)
	}
	if second.Revision.RevisionNumber != 2 || second.Revision.OriginalAnalysisID != first.Revision.ID {
		t.Fatalf("unexpected second generation %+v", second.Revision)
	}
	lineage, err := svc.Lineage(ctx, second.Revision.ID)
	if err != nil || len(lineage) != 3 {
		t.Fatalf("lineage: %d %v", len(lineage), err)
	}
}

func mustParameters(t *testing.T, svc *core.Service, analysisID string) []domain.ParameterAnalysis {
	t.Helper()
	detail, err := svc.GetAnalysis(context.Background(), analysisID)
	if err != nil {
		t.Fatalf("get analysis: %v", err)
	}
	return detail.Parameters
}
