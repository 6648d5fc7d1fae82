package core

import (
	"context"
	"strings"

	"labcore/pkg/domain"
)

// AnalysisDetail is an analysis with its owned records.
type AnalysisDetail struct {
	Analysis   domain.Analysis            `json:"analysis"`
	Parameters []domain.ParameterAnalysis `json:"parameters"`
	QC         []domain.ExecutedQC        `json:"executed_qc"`
	Revisions  int                        `json:"revision_count"`
}

func parameterFromTemplate(op string, analysisID string, seq int, tpl ParameterTemplate) (domain.ParameterAnalysis, error) {
	name := strings.TrimSpace(tpl.Name)
	if name == "" {
		return domain.ParameterAnalysis{}, domain.Invalid(op, "parameter %d has no name", seq)
	}
	category, err := domain.ParseParameterCategory(tpl.Category)
	if err != nil {
		return domain.ParameterAnalysis{}, err
	}
	kind, err := domain.ParseResultKind(tpl.ResultKind)
	if err != nil {
		return domain.ParameterAnalysis{}, err
	}
	return domain.ParameterAnalysis{
		AnalysisID:    analysisID,
		Sequence:      seq,
		Name:          name,
		Method:        strings.TrimSpace(tpl.Method),
		Unit:          strings.TrimSpace(tpl.Unit),
		Microorganism: strings.TrimSpace(tpl.Microorganism),
		Category:      category,
		ResultKind:    kind,
		Progress:      domain.ProgressUnprocessed,
		ReportStatus:  domain.ReportDraft,
	}, nil
}

// CreateAnalysis seeds a new analysis from a sample sheet: one parameter per
// template and one pending QC record per expectation.
func (s *Service) CreateAnalysis(ctx context.Context, actor domain.Actor, sheet SampleSheet) (domain.Analysis, domain.Result, error) {
	op := newOperation(OpCreateAnalysis, actor)
	var created domain.Analysis
	res, err := s.run(ctx, op, func(tx domain.Transaction) error {
		if strings.TrimSpace(sheet.SampleID) == "" {
			return domain.Invalid(OpCreateAnalysis, "sample id is required")
		}
		started := s.now()
		a, err := tx.CreateAnalysis(domain.Analysis{
			SampleID:       strings.TrimSpace(sheet.SampleID),
			SampleCode:     strings.TrimSpace(sheet.SampleCode),
			SignatureState: domain.SignatureNotSigned,
			StartedOn:      &started,
			CreatedBy:      actor.Label(),
		})
		if err != nil {
			return err
		}
		op.entityID = a.ID
		for i, tpl := range sheet.Parameters {
			p, err := parameterFromTemplate(OpCreateAnalysis, a.ID, i+1, tpl)
			if err != nil {
				return err
			}
			if _, err := tx.CreateParameter(p); err != nil {
				return err
			}
		}
		for i, qc := range sheet.QC {
			if strings.TrimSpace(qc.QCType) == "" {
				continue
			}
			if _, err := tx.CreateExecutedQC(domain.ExecutedQC{
				AnalysisID:     a.ID,
				Sequence:       i + 1,
				QCType:         strings.TrimSpace(qc.QCType),
				ExpectedResult: strings.TrimSpace(qc.ExpectedResult),
				Status:         domain.ControlPending,
			}); err != nil {
				return err
			}
		}
		created, err = recomputeReadiness(tx, a.ID)
		op.detail("sample_id", created.SampleID)
		op.detail("parameters", len(sheet.Parameters))
		return err
	})
	return created, res, err
}

// CreateAnalysisFromIntake fetches the sample sheet from the intake
// collaborator and creates the analysis from it.
func (s *Service) CreateAnalysisFromIntake(ctx context.Context, actor domain.Actor, sampleID string) (domain.Analysis, domain.Result, error) {
	if s.intake == nil {
		return domain.Analysis{}, domain.Result{}, domain.Invalid(OpCreateAnalysis, "no sample intake configured")
	}
	sheet, err := s.intake.Sample(ctx, sampleID)
	if err != nil {
		return domain.Analysis{}, domain.Result{}, err
	}
	if sheet.SampleID == "" {
		sheet.SampleID = sampleID
	}
	return s.CreateAnalysis(ctx, actor, sheet)
}

// GetAnalysis returns an analysis with its parameters, QC and revision count.
func (s *Service) GetAnalysis(ctx context.Context, id string) (AnalysisDetail, error) {
	var detail AnalysisDetail
	err := s.view(ctx, func(view domain.TransactionView) error {
		a, err := findAnalysis("get_analysis", view, id)
		if err != nil {
			return err
		}
		detail = AnalysisDetail{
			Analysis:   a,
			Parameters: view.ParametersOf(id),
			QC:         view.QCOf(id),
			Revisions:  len(view.RevisionsOf(id)),
		}
		return nil
	})
	return detail, err
}

// ListAnalyses returns every analysis ordered by creation.
func (s *Service) ListAnalyses(ctx context.Context) ([]domain.Analysis, error) {
	var out []domain.Analysis
	err := s.view(ctx, func(view domain.TransactionView) error {
		out = view.ListAnalyses()
		return nil
	})
	return out, err
}

// DeleteAnalysis discards an unsigned analysis created by mistake, together
// with everything it owns. Anything that was signed, reported or revised is
// kept; orphan cleanup is the only other path that removes analyses.
func (s *Service) DeleteAnalysis(ctx context.Context, actor domain.Actor, id string) (domain.Result, error) {
	op := newOperation(OpDeleteAnalysis, actor)
	return s.run(ctx, op, func(tx domain.Transaction) error {
		op.entityID = id
		a, err := findAnalysis(OpDeleteAnalysis, tx, id)
		if err != nil {
			return err
		}
		if err := domain.CheckDeletable(a, tx.ParametersOf(id), tx.RevisionsOf(id)); err != nil {
			return err
		}
		return tx.DeleteAnalysis(id)
	})
}

// AddParameter appends a parameter to an existing analysis.
func (s *Service) AddParameter(ctx context.Context, actor domain.Actor, analysisID string, tpl ParameterTemplate) (domain.ParameterAnalysis, domain.Result, error) {
	op := newOperation(OpAddParameter, actor)
	var created domain.ParameterAnalysis
	res, err := s.run(ctx, op, func(tx domain.Transaction) error {
		if _, err := findAnalysis(OpAddParameter, tx, analysisID); err != nil {
			return err
		}
		seq := 1
		for _, existing := range tx.ParametersOf(analysisID) {
			if existing.Sequence >= seq {
				seq = existing.Sequence + 1
			}
		}
		p, err := parameterFromTemplate(OpAddParameter, analysisID, seq, tpl)
		if err != nil {
			return err
		}
		if created, err = tx.CreateParameter(p); err != nil {
			return err
		}
		op.entityID = created.ID
		_, err = recomputeReadiness(tx, analysisID)
		return err
	})
	return created, res, err
}

// DeleteParameter removes a parameter and its media. Usage logs that point at
// it are weak references and stay in the ledger.
func (s *Service) DeleteParameter(ctx context.Context, actor domain.Actor, id string) (domain.Result, error) {
	op := newOperation(OpDeleteParameter, actor)
	return s.run(ctx, op, func(tx domain.Transaction) error {
		op.entityID = id
		p, err := findParameter(OpDeleteParameter, tx, id)
		if err != nil {
			return err
		}
		if p.ReportStatus == domain.ReportReported {
			return domain.InvalidTransition(OpDeleteParameter, domain.EntityParameter, id, domain.ErrReportedLocked,
				"parameter %q was already delivered in a report", p.Name)
		}
		if err := tx.DeleteParameter(id); err != nil {
			return err
		}
		_, err = recomputeReadiness(tx, p.AnalysisID)
		return err
	})
}

// RecordQC stores the outcome of an executed quality-control check.
func (s *Service) RecordQC(ctx context.Context, actor domain.Actor, qcID, status, notes string) (domain.ExecutedQC, domain.Result, error) {
	op := newOperation(OpRecordQC, actor)
	var updated domain.ExecutedQC
	res, err := s.run(ctx, op, func(tx domain.Transaction) error {
		op.entityID = qcID
		parsed, err := domain.ParseControlStatus(status)
		if err != nil {
			return err
		}
		updated, err = tx.UpdateExecutedQC(qcID, func(qc *domain.ExecutedQC) error {
			qc.Status = parsed
			if trimmed := strings.TrimSpace(notes); trimmed != "" {
				qc.Notes = trimmed
			}
			return nil
		})
		return err
	})
	return updated, res, err
}
