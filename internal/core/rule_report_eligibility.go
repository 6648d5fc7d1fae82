package core

import (
	"context"
	"fmt"

	"labcore/pkg/domain"
)

// ReportEligibilityRule keeps ready parameters backed by a finalized result
// and only lets a parameter become reported while its analysis is signed.
func ReportEligibilityRule() domain.Rule {
	return reportEligibilityRule{}
}

type reportEligibilityRule struct{}

const reportEligibilityName = "report_eligibility"

func (reportEligibilityRule) Name() string { return reportEligibilityName }

func (reportEligibilityRule) Evaluate(_ context.Context, view domain.RuleView, changes []domain.Change) (domain.Result, error) {
	res := domain.Result{}
	for _, change := range changes {
		if change.Entity != domain.EntityParameter || change.After.Empty() {
			continue
		}
		after, ok := domain.DecodePayload[domain.ParameterAnalysis](change.After)
		if !ok {
			continue
		}
		before, hadBefore := domain.DecodePayload[domain.ParameterAnalysis](change.Before)

		if after.ReportStatus == domain.ReportReady && (after.Progress != domain.ProgressFinalized || !after.HasResult()) {
			res.Violations = append(res.Violations, blockViolation(reportEligibilityName, domain.KindPreconditionUnmet, domain.EntityParameter, after.ID,
				fmt.Sprintf("parameter %q cannot be ready without a finalized result", after.Name)))
		}

		becameReported := after.ReportStatus == domain.ReportReported && (!hadBefore || before.ReportStatus != domain.ReportReported)
		if !becameReported {
			continue
		}
		analysis, ok := view.FindAnalysis(after.AnalysisID)
		if !ok {
			res.Violations = append(res.Violations, blockViolation(reportEligibilityName, domain.KindReferentialGap, domain.EntityParameter, after.ID,
				fmt.Sprintf("parameter %q belongs to missing analysis %s", after.Name, after.AnalysisID)))
			continue
		}
		if analysis.SignatureState != domain.SignatureSigned {
			res.Violations = append(res.Violations, blockViolation(reportEligibilityName, domain.KindInvalidTransition, domain.EntityParameter, after.ID,
				fmt.Sprintf("parameter %q cannot be reported while analysis %s is %s", after.Name, analysis.ID, analysis.SignatureState)))
		}
	}
	return res, nil
}
