package core

import (
	"context"
	"fmt"

	"labcore/pkg/domain"
)

// RevisionLineageRule checks that revision generations chain correctly. The
// original_analysis_id is a weak reference, so a missing original is not an
// error; only inconsistent numbering against an existing original is.
func RevisionLineageRule() domain.Rule {
	return revisionLineageRule{}
}

type revisionLineageRule struct{}

const revisionLineageName = "revision_lineage"

func (revisionLineageRule) Name() string { return revisionLineageName }

func (revisionLineageRule) Evaluate(_ context.Context, view domain.RuleView, changes []domain.Change) (domain.Result, error) {
	res := domain.Result{}
	for _, change := range changes {
		if change.Entity != domain.EntityAnalysis || change.After.Empty() {
			continue
		}
		a, ok := domain.DecodePayload[domain.Analysis](change.After)
		if !ok {
			continue
		}
		evaluateRevision(&res, a, view)
	}
	return res, nil
}

func lineageViolation(id, message string) domain.Violation {
	return blockViolation(revisionLineageName, domain.KindPreconditionUnmet, domain.EntityAnalysis, id, message)
}

func evaluateRevision(res *domain.Result, a domain.Analysis, view domain.RuleView) {
	if a.RevisionNumber < 0 {
		res.Violations = append(res.Violations, lineageViolation(a.ID, fmt.Sprintf("analysis %s has negative revision number %d", a.ID, a.RevisionNumber)))
		return
	}
	if !a.IsRevision {
		if a.OriginalAnalysisID != "" || a.RevisionNumber != 0 {
			res.Violations = append(res.Violations, lineageViolation(a.ID, fmt.Sprintf("analysis %s carries revision lineage without being a revision", a.ID)))
		}
		return
	}
	if a.OriginalAnalysisID == "" {
		res.Violations = append(res.Violations, lineageViolation(a.ID, fmt.Sprintf("revision %s does not name its original analysis", a.ID)))
		return
	}
	if a.OriginalAnalysisID == a.ID {
		res.Violations = append(res.Violations, lineageViolation(a.ID, fmt.Sprintf("revision %s references itself", a.ID)))
		return
	}
	original, ok := view.FindAnalysis(a.OriginalAnalysisID)
	if !ok {
		return
	}
	if a.RevisionNumber <= original.RevisionNumber {
		res.Violations = append(res.Violations, lineageViolation(a.ID,
			fmt.Sprintf("revision %s number %d must exceed original %s number %d", a.ID, a.RevisionNumber, original.ID, original.RevisionNumber)))
	}
	if original.SampleID != a.SampleID {
		res.Violations = append(res.Violations, lineageViolation(a.ID,
			fmt.Sprintf("revision %s sample %s differs from original sample %s", a.ID, a.SampleID, original.SampleID)))
	}
}
