package core

import (
	"time"

	"labcore/pkg/domain"
)

// NewDefaultRulesEngine builds a rules engine with the built-in policy set.
// now feeds the advisory incubation rule; nil uses the wall clock.
func NewDefaultRulesEngine(now func() time.Time) *domain.RulesEngine {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	engine := domain.NewRulesEngine()
	engine.Register(EnumValidityRule())
	engine.Register(LifecycleTransitionRule())
	engine.Register(ReportEligibilityRule())
	engine.Register(ReadinessConsistencyRule())
	engine.Register(RevisionLineageRule())
	engine.Register(EquipmentOverlapRule())
	engine.Register(IncubationOverdueRule(now))
	return engine
}

func toSet(values ...string) map[string]struct{} {
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		set[v] = struct{}{}
	}
	return set
}

func blockViolation(rule string, kind domain.ErrorKind, entity domain.EntityType, id, message string) domain.Violation {
	return domain.Violation{
		Rule:     rule,
		Severity: domain.SeverityBlock,
		Kind:     kind,
		Message:  message,
		Entity:   entity,
		EntityID: id,
	}
}

func warnViolation(rule string, entity domain.EntityType, id, message string) domain.Violation {
	return domain.Violation{
		Rule:     rule,
		Severity: domain.SeverityWarn,
		Message:  message,
		Entity:   entity,
		EntityID: id,
	}
}

// touchedAnalyses collects the analyses whose owned parameter set changed.
func touchedAnalyses(changes []domain.Change) map[string]struct{} {
	out := make(map[string]struct{})
	for _, change := range changes {
		if change.Entity != domain.EntityParameter {
			continue
		}
		for _, payload := range []domain.ChangePayload{change.Before, change.After} {
			if p, ok := domain.DecodePayload[domain.ParameterAnalysis](payload); ok && p.AnalysisID != "" {
				out[p.AnalysisID] = struct{}{}
			}
		}
	}
	return out
}
