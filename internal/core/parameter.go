package core

import (
	"context"
	"strings"

	"labcore/pkg/domain"
)

// ParameterUpdate carries the analyst-editable fields of a parameter. Nil
// fields are left untouched. Result, when set, is composed into the result
// value and wins over ResultValue.
type ParameterUpdate struct {
	Progress        *string                `json:"analysis_progress,omitempty"`
	ResultValue     *string                `json:"result_value,omitempty"`
	Result          *domain.ResultInput    `json:"result,omitempty"`
	Analyst         *string                `json:"analyst,omitempty"`
	EquipmentUsed   *[]domain.EquipmentUse `json:"equipment_used,omitempty"`
	ExpectedVersion int64                  `json:"expected_version,omitempty"`
}

// SetProgress moves a parameter through unprocessed, in_progress and
// finalized, re-deriving its report status.
func (s *Service) SetProgress(ctx context.Context, actor domain.Actor, parameterID, progress string, expectedVersion int64) (domain.ParameterAnalysis, domain.Result, error) {
	return s.UpdateParameter(ctx, actor, parameterID, ParameterUpdate{Progress: &progress, ExpectedVersion: expectedVersion})
}

// RecordResult stores a result value typed by the analyst.
func (s *Service) RecordResult(ctx context.Context, actor domain.Actor, parameterID, value string, expectedVersion int64) (domain.ParameterAnalysis, domain.Result, error) {
	return s.UpdateParameter(ctx, actor, parameterID, ParameterUpdate{ResultValue: &value, ExpectedVersion: expectedVersion})
}

// UpdateParameter applies upd, re-runs the report-eligibility rule and
// recomputes the owning analysis' aggregates in the same transaction.
// Reported parameters are frozen.
func (s *Service) UpdateParameter(ctx context.Context, actor domain.Actor, parameterID string, upd ParameterUpdate) (domain.ParameterAnalysis, domain.Result, error) {
	op := newOperation(OpUpdateParameter, actor)
	var updated domain.ParameterAnalysis
	res, err := s.run(ctx, op, func(tx domain.Transaction) error {
		op.entityID = parameterID
		var progress domain.AnalysisProgress
		if upd.Progress != nil {
			parsed, err := domain.ParseAnalysisProgress(*upd.Progress)
			if err != nil {
				return err
			}
			progress = parsed
		}
		current, err := findParameter(OpUpdateParameter, tx, parameterID)
		if err != nil {
			return err
		}
		if err := checkVersion(OpUpdateParameter, domain.EntityParameter, parameterID, upd.ExpectedVersion, current.Version); err != nil {
			return err
		}
		if current.ReportStatus == domain.ReportReported {
			return domain.InvalidTransition(OpUpdateParameter, domain.EntityParameter, parameterID, domain.ErrReportedLocked,
				"parameter %q was already delivered in a report", current.Name)
		}
		before := current.ReportStatus
		updated, err = tx.UpdateParameter(parameterID, func(p *domain.ParameterAnalysis) error {
			if progress != "" {
				p.Progress = progress
			}
			switch {
			case upd.Result != nil:
				p.ResultValue = domain.ComposeResultValue(p.ResultKind, *upd.Result)
			case upd.ResultValue != nil:
				p.ResultValue = strings.TrimSpace(*upd.ResultValue)
			}
			if upd.Analyst != nil {
				p.Analyst = strings.TrimSpace(*upd.Analyst)
			} else if p.Analyst == "" && progress == domain.ProgressFinalized {
				p.Analyst = actor.Label()
			}
			if upd.EquipmentUsed != nil {
				p.EquipmentUsed = append([]domain.EquipmentUse(nil), (*upd.EquipmentUsed)...)
			}
			p.ReportStatus = domain.DeriveReportStatus(*p)
			return nil
		})
		if err != nil {
			return err
		}
		if before != updated.ReportStatus {
			op.detail("report_status", string(updated.ReportStatus))
		}
		_, err = recomputeReadiness(tx, updated.AnalysisID)
		return err
	})
	return updated, res, err
}
