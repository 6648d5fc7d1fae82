package core

import (
	"context"
	"fmt"

	"labcore/pkg/domain"
)

// EnumValidityRule blocks any write that leaves a closed-set field holding a
// value outside its set.
func EnumValidityRule() domain.Rule {
	return enumValidityRule{}
}

type enumValidityRule struct{}

const enumValidityName = "enum_validity"

type enumCheck struct {
	field string
	value string
	valid bool
}

func (enumValidityRule) Name() string { return enumValidityName }

func (enumValidityRule) Evaluate(_ context.Context, _ domain.RuleView, changes []domain.Change) (domain.Result, error) {
	res := domain.Result{}
	for _, change := range changes {
		if change.After.Empty() {
			continue
		}
		id, checks := enumChecks(change)
		for _, check := range checks {
			if check.valid {
				continue
			}
			res.Violations = append(res.Violations, blockViolation(enumValidityName, domain.KindValidation, change.Entity, id,
				fmt.Sprintf("%s %s has invalid %s %q", change.Entity, id, check.field, check.value)))
		}
	}
	return res, nil
}

func enumChecks(change domain.Change) (string, []enumCheck) {
	switch change.Entity {
	case domain.EntityAnalysis:
		a, ok := domain.DecodePayload[domain.Analysis](change.After)
		if !ok {
			return "", nil
		}
		return a.ID, []enumCheck{
			{field: "signature_state", value: string(a.SignatureState), valid: a.SignatureState.Valid()},
		}
	case domain.EntityParameter:
		p, ok := domain.DecodePayload[domain.ParameterAnalysis](change.After)
		if !ok {
			return "", nil
		}
		return p.ID, []enumCheck{
			{field: "category", value: string(p.Category), valid: p.Category.Valid()},
			{field: "result_kind", value: string(p.ResultKind), valid: p.ResultKind.Valid()},
			{field: "analysis_progress", value: string(p.Progress), valid: p.Progress.Valid()},
			{field: "report_status", value: string(p.ReportStatus), valid: p.ReportStatus.Valid()},
		}
	case domain.EntityMedia:
		m, ok := domain.DecodePayload[domain.AnalysisMedia](change.After)
		if !ok {
			return "", nil
		}
		return m.ID, []enumCheck{
			{field: "process_stage", value: string(m.Stage), valid: m.Stage.Valid()},
			{field: "media_usage", value: string(m.Usage), valid: m.Usage.Valid()},
			{field: "media_source", value: string(m.Source), valid: m.Source.Valid()},
		}
	case domain.EntityExecutedQC:
		qc, ok := domain.DecodePayload[domain.ExecutedQC](change.After)
		if !ok {
			return "", nil
		}
		return qc.ID, []enumCheck{
			{field: "control_status", value: string(qc.Status), valid: qc.Status.Valid()},
		}
	case domain.EntityUsageLog:
		l, ok := domain.DecodePayload[domain.EquipmentUsageLog](change.After)
		if !ok {
			return "", nil
		}
		return l.ID, []enumCheck{
			{field: "usage_type", value: string(l.UsageType), valid: l.UsageType.Valid()},
		}
	}
	return "", nil
}
