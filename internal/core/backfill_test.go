package core_test

import (
	"context"
	"slices"
	"testing"
	"time"

	"labcore/internal/core"
	"labcore/pkg/domain"
)

// seedMedia writes a media record directly, as legacy data without a ledger
// row would look.
func seedMedia(t *testing.T, svc *core.Service, m domain.AnalysisMedia) domain.AnalysisMedia {
	t.Helper()
	var created domain.AnalysisMedia
	_, err := svc.Store().RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		var err error
		created, err = tx.CreateMedia(m)
		return err
	})
	if err != nil {
		t.Fatalf("seed media: %v", err)
	}
	return created
}

func setRealEnd(t *testing.T, svc *core.Service, mediaID string, end time.Time) {
	t.Helper()
	_, err := svc.Store().RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		_, err := tx.UpdateMedia(mediaID, func(m *domain.AnalysisMedia) error {
			m.RealEnd = &end
			return nil
		})
		return err
	})
	if err != nil {
		t.Fatalf("set real end: %v", err)
	}
}

func incubated(p domain.ParameterAnalysis, equipmentID string, start time.Time, realEnd *time.Time) domain.AnalysisMedia {
	planned := start.Add(24 * time.Hour)
	return domain.AnalysisMedia{
		ParameterID:        p.ID,
		AnalysisID:         p.AnalysisID,
		Stage:              domain.StageQuantitative,
		Usage:              domain.StageQuantitative.DefaultUsage(),
		Source:             domain.SourceInternal,
		RequiresIncubation: true,
		EquipmentID:        equipmentID,
		Start:              &start,
		PlannedEnd:         &planned,
		RealEnd:            realEnd,
	}
}

func TestBackfillHistoryIsIdempotent(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	_, params := createAnalysis(t, svc, "S-30", "Aerobic count")
	p := params[0]

	open := seedMedia(t, svc, incubated(p, "INC-9", at(0, 8, 0).UTC(), nil))
	closedEnd := at(1, 9, 0).UTC()
	closed := seedMedia(t, svc, incubated(p, "INC-9", at(0, 10, 0).UTC(), &closedEnd))

	uses := []domain.EquipmentUse{
		{EquipmentID: "BAL-1", UsedOn: at(0, 0, 0)},
		{EquipmentID: "BAL-1", UsedOn: at(1, 0, 0), UsedAt: "14:30"},
		{EquipmentID: "PH-1", UsedOn: at(0, 0, 0), UsedAt: "noon"},
	}
	if _, _, err := svc.UpdateParameter(ctx, analyst, p.ID, core.ParameterUpdate{EquipmentUsed: &uses}); err != nil {
		t.Fatalf("record equipment: %v", err)
	}

	report, _, err := svc.BackfillHistory(ctx, analyst, "")
	if err != nil {
		t.Fatalf("backfill: %v", err)
	}
	if report.Created != 5 || report.Updated != 0 || report.Skipped != 0 {
		t.Fatalf("unexpected first run %+v", report)
	}
	if !slices.Equal(report.EquipmentIDs, []string{"BAL-1", "INC-9", "PH-1"}) {
		t.Fatalf("unexpected equipment ids %v", report.EquipmentIDs)
	}

	balance, err := svc.EquipmentLedger(ctx, "BAL-1")
	if err != nil || len(balance) != 2 {
		t.Fatalf("balance ledger: %+v %v", balance, err)
	}
	var starts []time.Time
	for _, row := range balance {
		if row.Log.UsageType != domain.UsageOther || row.Log.Notes != "Usage: Aerobic count" || !row.Log.Historical {
			t.Fatalf("unexpected equipment use row %+v", row.Log)
		}
		starts = append(starts, row.Log.Start)
	}
	if !slices.ContainsFunc(starts, at(0, 12, 0).Equal) || !slices.ContainsFunc(starts, at(1, 14, 30).Equal) {
		t.Fatalf("unexpected equipment use starts %v", starts)
	}
	ph, err := svc.EquipmentLedger(ctx, "PH-1")
	if err != nil || len(ph) != 1 || !ph[0].Log.Start.Equal(at(0, 12, 0)) {
		t.Fatalf("unreadable time should fall back to noon: %+v %v", ph, err)
	}

	incubators, err := svc.EquipmentLedger(ctx, "INC-9")
	if err != nil || len(incubators) != 2 {
		t.Fatalf("incubator ledger: %+v %v", incubators, err)
	}
	for _, row := range incubators {
		l := row.Log
		if l.UsedBy != "System (historical)" || l.Notes != "Historical sync - Media" || l.UsageType != domain.UsageIncubation {
			t.Fatalf("unexpected historical row %+v", l)
		}
		switch l.MediaID {
		case open.ID:
			if l.End != nil {
				t.Fatalf("open incubation got an end: %+v", l)
			}
		case closed.ID:
			if l.End == nil || !l.End.Equal(closedEnd) {
				t.Fatalf("closed incubation lost its end: %+v", l)
			}
		default:
			t.Fatalf("row linked to unknown media %s", l.MediaID)
		}
	}

	again, _, err := svc.BackfillHistory(ctx, analyst, "")
	if err != nil {
		t.Fatalf("second backfill: %v", err)
	}
	if again.Created != 0 || again.Updated != 0 || again.Skipped != 5 {
		t.Fatalf("second run not idempotent: %+v", again)
	}

	setRealEnd(t, svc, open.ID, at(1, 7, 0).UTC())
	third, _, err := svc.BackfillHistory(ctx, analyst, "INC-9")
	if err != nil {
		t.Fatalf("third backfill: %v", err)
	}
	if third.Created != 0 || third.Updated != 1 || third.Skipped != 1 {
		t.Fatalf("expected the new end to be filled in: %+v", third)
	}
	if !slices.Equal(third.EquipmentIDs, []string{"INC-9"}) {
		t.Fatalf("filter ignored: %v", third.EquipmentIDs)
	}
	summary, err := svc.EquipmentSummary(ctx, "INC-9")
	if err != nil || summary.InUse {
		t.Fatalf("incubator should be idle after backfill: %+v %v", summary, err)
	}
}

func TestBackfillLinksExistingIncubationLogByMedia(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	_, params := createAnalysis(t, svc, "S-31", "Yeasts")
	start := at(0, 8, 0)
	m, _, err := svc.AddMedia(ctx, analyst, core.MediaInput{
		ParameterID: params[0].ID, Stage: "quantitative", RequiresIncubation: true, EquipmentID: "INC-3", Start: &start,
	})
	if err != nil {
		t.Fatalf("add media: %v", err)
	}

	report, _, err := svc.BackfillHistory(ctx, analyst, "INC-3")
	if err != nil {
		t.Fatalf("backfill: %v", err)
	}
	if report.Created != 0 || report.Skipped != 1 {
		t.Fatalf("live log should be reused: %+v", report)
	}

	// A real end recorded without closing the live log is folded in.
	setRealEnd(t, svc, m.ID, at(1, 8, 0).UTC())
	report, _, err = svc.BackfillHistory(ctx, analyst, "INC-3")
	if err != nil {
		t.Fatalf("backfill: %v", err)
	}
	if report.Updated != 1 {
		t.Fatalf("expected end update: %+v", report)
	}
	ledger, err := svc.EquipmentLedger(ctx, "INC-3")
	if err != nil || len(ledger) != 1 || ledger[0].Log.End == nil || ledger[0].Log.Historical {
		t.Fatalf("unexpected ledger %+v %v", ledger, err)
	}
}

func TestBackfillSkipsMediaWithoutIncubationData(t *testing.T) {
	svc, _ := newTestService(t)
	_, params := createAnalysis(t, svc, "S-32", "Molds")
	m := incubated(params[0], "", at(0, 8, 0).UTC(), nil)
	seedMedia(t, svc, m)
	noStart := incubated(params[0], "INC-4", at(0, 8, 0).UTC(), nil)
	noStart.Start = nil
	seedMedia(t, svc, noStart)

	report, _, err := svc.BackfillHistory(context.Background(), analyst, "")
	if err != nil {
		t.Fatalf("backfill: %v", err)
	}
	if report.Created != 0 || len(report.EquipmentIDs) != 0 {
		t.Fatalf("nothing should be backfilled: %+v", report)
	}
}
