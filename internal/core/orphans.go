package core

import (
	"context"

	"labcore/pkg/domain"
)

// OrphanFinding is an analysis whose sample no longer exists in reception.
type OrphanFinding struct {
	AnalysisID string `json:"analysis_id"`
	SampleID   string `json:"sample_id"`
	// Reported is set when the analysis already delivered results; cleanup
	// keeps those.
	Reported bool  `json:"reported"`
	Err      error `json:"-"`
}

// OrphanCleanup lists what CleanupOrphans removed and what it kept.
type OrphanCleanup struct {
	Deleted []string `json:"deleted"`
	Kept    []string `json:"kept,omitempty"`
}

// DetectOrphans asks the sample intake for every referenced sample and
// returns a ReferentialGap finding for each analysis whose sample is gone.
func (s *Service) DetectOrphans(ctx context.Context) ([]OrphanFinding, error) {
	if s.intake == nil {
		return nil, domain.Invalid("detect_orphans", "no sample intake configured")
	}
	type candidate struct {
		analysis domain.Analysis
		reported bool
	}
	var candidates []candidate
	err := s.view(ctx, func(view domain.TransactionView) error {
		for _, a := range view.ListAnalyses() {
			c := candidate{analysis: a}
			for _, p := range view.ParametersOf(a.ID) {
				if p.ReportStatus == domain.ReportReported {
					c.reported = true
					break
				}
			}
			candidates = append(candidates, c)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	exists := make(map[string]bool)
	var findings []OrphanFinding
	for _, c := range candidates {
		sampleID := c.analysis.SampleID
		found, checked := exists[sampleID]
		if !checked {
			if found, err = s.intake.Exists(ctx, sampleID); err != nil {
				return nil, err
			}
			exists[sampleID] = found
		}
		if found {
			continue
		}
		gap := domain.ReferentialGap("detect_orphans", domain.EntityAnalysis, c.analysis.ID, "sample %s no longer exists", sampleID)
		gap.Err = domain.ErrOrphanedAnalysis
		findings = append(findings, OrphanFinding{
			AnalysisID: c.analysis.ID,
			SampleID:   sampleID,
			Reported:   c.reported,
			Err:        gap,
		})
	}
	return findings, nil
}

// CleanupOrphans deletes orphaned analyses with everything they own. Analyses
// that already reported results are kept and listed.
func (s *Service) CleanupOrphans(ctx context.Context, actor domain.Actor) (OrphanCleanup, domain.Result, error) {
	findings, err := s.DetectOrphans(ctx)
	if err != nil {
		return OrphanCleanup{}, domain.Result{}, err
	}
	op := newOperation(OpCleanupOrphans, actor)
	var out OrphanCleanup
	res, err := s.run(ctx, op, func(tx domain.Transaction) error {
		out = OrphanCleanup{}
		for _, f := range findings {
			if f.Reported {
				out.Kept = append(out.Kept, f.AnalysisID)
				continue
			}
			a, ok := tx.FindAnalysis(f.AnalysisID)
			if !ok || a.SampleID != f.SampleID {
				continue
			}
			if err := tx.DeleteAnalysis(a.ID); err != nil {
				return err
			}
			out.Deleted = append(out.Deleted, a.ID)
		}
		op.detail("deleted", out.Deleted)
		op.detail("kept", out.Kept)
		return nil
	})
	return out, res, err
}
