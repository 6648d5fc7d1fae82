package core

import (
	"context"
	"fmt"

	"labcore/pkg/domain"
)

// ReadinessConsistencyRule blocks a commit that changed an analysis'
// parameters without recomputing its stored readiness aggregate.
func ReadinessConsistencyRule() domain.Rule {
	return readinessConsistencyRule{}
}

type readinessConsistencyRule struct{}

const readinessConsistencyName = "readiness_consistency"

func (readinessConsistencyRule) Name() string { return readinessConsistencyName }

func (readinessConsistencyRule) Evaluate(_ context.Context, view domain.RuleView, changes []domain.Change) (domain.Result, error) {
	res := domain.Result{}
	for analysisID := range touchedAnalyses(changes) {
		analysis, ok := view.FindAnalysis(analysisID)
		if !ok {
			// Cascade delete removed the owner along with the parameters.
			continue
		}
		want := domain.ComputeReadiness(view.ParametersOf(analysisID))
		if analysis.Readiness != want {
			res.Violations = append(res.Violations, blockViolation(readinessConsistencyName, domain.KindConcurrencyConflict, domain.EntityAnalysis, analysisID,
				fmt.Sprintf("analysis %s readiness %d/%d is stale, owned set holds %d/%d",
					analysisID, analysis.Readiness.ReadyCount, analysis.Readiness.TotalCount, want.ReadyCount, want.TotalCount)))
		}
	}
	return res, nil
}
