package memory

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"labcore/pkg/domain"
)

var fixedNow = time.Date(2024, 7, 4, 16, 0, 0, 0, time.UTC)

func newTestStore(opts ...Option) *Store {
	seq := 0
	opts = append([]Option{
		WithNow(func() time.Time { return fixedNow }),
		WithIDGenerator(func() string { seq++; return fmt.Sprintf("id-%02d", seq) }),
	}, opts...)
	return NewStore(nil, opts...)
}

// seed creates an analysis with two parameters, one media and one QC record.
func seed(t *testing.T, store *Store) (analysisID string, paramIDs []string, mediaID string) {
	t.Helper()
	_, err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		a, err := tx.CreateAnalysis(domain.Analysis{SampleID: "S-1"})
		if err != nil {
			return err
		}
		analysisID = a.ID
		for i, name := range []string{"pH", "Salmonella"} {
			p, err := tx.CreateParameter(domain.ParameterAnalysis{AnalysisID: a.ID, Name: name, Sequence: i + 1})
			if err != nil {
				return err
			}
			paramIDs = append(paramIDs, p.ID)
		}
		m, err := tx.CreateMedia(domain.AnalysisMedia{ParameterID: paramIDs[1], Stage: domain.StagePreEnrichment, RequiresIncubation: true})
		if err != nil {
			return err
		}
		mediaID = m.ID
		_, err = tx.CreateExecutedQC(domain.ExecutedQC{AnalysisID: a.ID, QCType: "negative control"})
		return err
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	return analysisID, paramIDs, mediaID
}

func TestStoreRunInTransactionAndSnapshots(t *testing.T) {
	store := newTestStore()
	analysisID, paramIDs, mediaID := seed(t, store)

	err := store.View(context.Background(), func(view domain.TransactionView) error {
		a, ok := view.FindAnalysis(analysisID)
		if !ok || a.SignatureState != domain.SignatureNotSigned || a.Version != 1 {
			t.Fatalf("unexpected analysis %+v", a)
		}
		params := view.ParametersOf(analysisID)
		if len(params) != 2 || params[0].Name != "pH" {
			t.Fatalf("expected parameters ordered by sequence, got %+v", params)
		}
		if params[0].Category != domain.CategoryOther || params[0].Progress != domain.ProgressUnprocessed || params[0].ReportStatus != domain.ReportDraft {
			t.Fatalf("expected parameter defaults, got %+v", params[0])
		}
		m, ok := view.FindMedia(mediaID)
		if !ok || m.AnalysisID != analysisID || m.Usage != domain.UsageEnrichment || m.Source != domain.SourceInternal {
			t.Fatalf("unexpected media %+v", m)
		}
		if len(view.QCOf(analysisID)) != 1 || view.QCOf(analysisID)[0].Status != domain.ControlPending {
			t.Fatalf("expected pending QC snapshot")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("view: %v", err)
	}

	snapshot := store.ExportState()
	store.ImportState(Snapshot{})
	_ = store.View(context.Background(), func(view domain.TransactionView) error {
		if len(view.ListAnalyses()) != 0 {
			t.Fatalf("expected cleared state")
		}
		return nil
	})
	store.ImportState(snapshot)
	_ = store.View(context.Background(), func(view domain.TransactionView) error {
		if _, ok := view.FindParameter(paramIDs[0]); !ok {
			t.Fatalf("expected restored state")
		}
		return nil
	})
	if store.RulesEngine() == nil || store.NowFunc() == nil {
		t.Fatalf("expected engine and clock")
	}
}

func TestStoreUpdateBumpsVersionAndKeepsOwnership(t *testing.T) {
	store := newTestStore()
	analysisID, paramIDs, _ := seed(t, store)
	_, err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		updated, err := tx.UpdateParameter(paramIDs[0], func(p *domain.ParameterAnalysis) error {
			p.AnalysisID = "elsewhere"
			p.ResultValue = "7.0 pH"
			return nil
		})
		if err != nil {
			return err
		}
		if updated.Version != 2 || updated.AnalysisID != analysisID || !updated.UpdatedAt.Equal(tx.Now()) {
			t.Fatalf("unexpected update result %+v", updated)
		}
		if _, err := tx.UpdateParameter("missing", func(*domain.ParameterAnalysis) error { return nil }); domain.KindOf(err) != domain.KindNotFound {
			t.Fatalf("expected not found, got %v", err)
		}
		_, err = tx.UpdateParameter(paramIDs[0], func(*domain.ParameterAnalysis) error { return errors.New("boom") })
		if err == nil {
			t.Fatalf("expected mutator error")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("transaction: %v", err)
	}
}

func TestStoreCascadeDeleteKeepsWeakReferences(t *testing.T) {
	store := newTestStore()
	analysisID, paramIDs, mediaID := seed(t, store)
	_, err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		_, err := tx.CreateUsageLog(domain.EquipmentUsageLog{
			EquipmentID: "INC-01", UsageType: domain.UsageIncubation, ParameterID: paramIDs[1],
			AnalysisID: analysisID, MediaID: mediaID, Start: fixedNow,
		})
		return err
	})
	if err != nil {
		t.Fatalf("create usage log: %v", err)
	}

	var deleted []domain.EntityType
	hookStore := store
	hookStore.hooks = append(hookStore.hooks, func(_ context.Context, c Commit) error {
		for _, change := range c.Changes {
			if change.Action == domain.ActionDelete {
				deleted = append(deleted, change.Entity)
			}
		}
		return nil
	})
	_, err = store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		return tx.DeleteAnalysis(analysisID)
	})
	if err != nil {
		t.Fatalf("delete analysis: %v", err)
	}
	if len(deleted) != 5 {
		t.Fatalf("expected analysis, two parameters, media and QC deletes, got %v", deleted)
	}
	_ = store.View(context.Background(), func(view domain.TransactionView) error {
		if len(view.ListParameters()) != 0 || len(view.ListMedia()) != 0 || len(view.QCOf(analysisID)) != 0 {
			t.Fatalf("expected owned records to cascade")
		}
		logs := view.UsageLogsFor("INC-01")
		if len(logs) != 1 || logs[0].ParameterID != paramIDs[1] {
			t.Fatalf("usage log must survive as a weak reference, got %+v", logs)
		}
		return nil
	})
}

func TestStoreRejectsOrphanChildren(t *testing.T) {
	store := newTestStore()
	_, err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		_, err := tx.CreateParameter(domain.ParameterAnalysis{AnalysisID: "ghost", Name: "pH"})
		return err
	})
	if domain.KindOf(err) != domain.KindReferentialGap {
		t.Fatalf("expected referential gap, got %v", err)
	}
	_, err = store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		_, err := tx.CreateMedia(domain.AnalysisMedia{ParameterID: "ghost", Stage: domain.StageQuantitative})
		return err
	})
	if domain.KindOf(err) != domain.KindReferentialGap {
		t.Fatalf("expected referential gap for media, got %v", err)
	}
}

func TestStoreUsageKeyIsUnique(t *testing.T) {
	store := newTestStore()
	local := time.FixedZone("PDT", -7*3600)
	log := domain.EquipmentUsageLog{EquipmentID: "INC-01", ParameterID: "p1", UsageType: domain.UsageIncubation, Start: fixedNow}
	_, err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		_, err := tx.CreateUsageLog(log)
		return err
	})
	if err != nil {
		t.Fatalf("first insert: %v", err)
	}
	dup := log
	dup.Start = fixedNow.In(local)
	_, err = store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		_, err := tx.CreateUsageLog(dup)
		return err
	})
	if !errors.Is(err, domain.ErrDuplicateUsage) || !domain.IsRetryable(err) {
		t.Fatalf("expected retryable duplicate usage conflict, got %v", err)
	}
	_ = store.View(context.Background(), func(view domain.TransactionView) error {
		found, ok := view.FindUsageLogByKey(domain.UsageKey{EquipmentID: "INC-01", ParameterID: "p1", UsageType: domain.UsageIncubation, Start: fixedNow.In(local)})
		if !ok || found.EquipmentID != "INC-01" {
			t.Fatalf("expected key lookup to match across locations")
		}
		return nil
	})

	_, err = store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		_, err := tx.CreateUsageLog(domain.EquipmentUsageLog{EquipmentID: "INC-01", UsageType: "borrowed", Start: fixedNow})
		return err
	})
	if domain.KindOf(err) != domain.KindValidation {
		t.Fatalf("expected validation error for unknown usage type, got %v", err)
	}
}

func TestStoreRuleViolationRollsBack(t *testing.T) {
	store := NewStore(domain.NewRulesEngine())
	store.RulesEngine().Register(blockingRule{})
	_, err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		_, e := tx.CreateAnalysis(domain.Analysis{SampleID: "S-9"})
		return e
	})
	var violation domain.RuleViolationError
	if !errors.As(err, &violation) {
		t.Fatalf("expected rule violation error, got %v", err)
	}
	_ = store.View(context.Background(), func(view domain.TransactionView) error {
		if len(view.ListAnalyses()) != 0 {
			t.Fatalf("blocked transaction must not commit")
		}
		return nil
	})
}

func TestStoreCommitHookFailureAborts(t *testing.T) {
	hookErr := errors.New("disk unavailable")
	store := newTestStore(WithCommitHook(func(context.Context, Commit) error { return hookErr }))
	_, err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		_, e := tx.CreateAnalysis(domain.Analysis{SampleID: "S-1"})
		return e
	})
	if !errors.Is(err, hookErr) {
		t.Fatalf("expected hook error, got %v", err)
	}
	if len(store.ExportState().Analyses) != 0 {
		t.Fatalf("failed hook must leave committed state untouched")
	}
}

func TestMigrateSnapshotDropsOrphansAndRecomputes(t *testing.T) {
	store := newTestStore()
	store.ImportState(Snapshot{
		Analyses: map[string]domain.Analysis{"a1": {Base: domain.Base{ID: "a1"}, SampleID: "S"}},
		Parameters: map[string]domain.ParameterAnalysis{
			"p1": {Base: domain.Base{ID: "p1"}, AnalysisID: "a1", Name: "pH", Progress: domain.ProgressFinalized, ResultValue: "7"},
			"p2": {Base: domain.Base{ID: "p2"}, AnalysisID: "gone", Name: "Lead"},
		},
		Media: map[string]domain.AnalysisMedia{"m1": {Base: domain.Base{ID: "m1"}, ParameterID: "p2"}},
	})
	snap := store.ExportState()
	if _, ok := snap.Parameters["p2"]; ok {
		t.Fatalf("expected orphan parameter to be dropped")
	}
	if len(snap.Media) != 0 {
		t.Fatalf("expected media of dropped parameter to be dropped")
	}
	a := snap.Analyses["a1"]
	if a.SignatureState != domain.SignatureNotSigned || a.Readiness.TotalCount != 1 || a.Readiness.ReadyCount != 1 {
		t.Fatalf("expected defaults and recomputed readiness, got %+v", a)
	}
}

type blockingRule struct{}

func (blockingRule) Name() string { return "block" }

func (blockingRule) Evaluate(context.Context, domain.RuleView, []domain.Change) (domain.Result, error) {
	return domain.Result{Violations: []domain.Violation{{Rule: "block", Severity: domain.SeverityBlock}}}, nil
}
