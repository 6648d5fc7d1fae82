package core

import (
	"context"
	"fmt"

	"labcore/pkg/domain"
)

// LifecycleTransitionRule blocks illegal state transitions on the analysis
// signature and the parameter report status.
func LifecycleTransitionRule() domain.Rule {
	return lifecycleTransitionRule{}
}

type lifecycleTransitionRule struct{}

const lifecycleTransitionName = "lifecycle_transition"

type lifecycleMachine struct {
	label     string
	edges     map[string]map[string]struct{}
	terminal  map[string]struct{}
	extractor func(payload domain.ChangePayload) (id string, state string, ok bool)
}

func (m lifecycleMachine) allows(from, to string) bool {
	if from == to {
		return true
	}
	_, ok := m.edges[from][to]
	return ok
}

var lifecycleMachines = map[domain.EntityType]lifecycleMachine{
	domain.EntityAnalysis: {
		label: "analysis signature",
		edges: map[string]map[string]struct{}{
			string(domain.SignatureNotSigned): toSet(string(domain.SignatureSigned)),
			string(domain.SignatureSigned):    toSet(string(domain.SignatureCancelled)),
			string(domain.SignatureCancelled): toSet(string(domain.SignatureNotSigned)),
		},
		extractor: func(payload domain.ChangePayload) (string, string, bool) {
			a, ok := domain.DecodePayload[domain.Analysis](payload)
			if !ok {
				return "", "", false
			}
			return a.ID, string(a.SignatureState), true
		},
	},
	domain.EntityParameter: {
		label: "parameter report status",
		edges: map[string]map[string]struct{}{
			string(domain.ReportDraft): toSet(string(domain.ReportReady)),
			string(domain.ReportReady): toSet(string(domain.ReportDraft), string(domain.ReportReported)),
		},
		terminal: toSet(string(domain.ReportReported)),
		extractor: func(payload domain.ChangePayload) (string, string, bool) {
			p, ok := domain.DecodePayload[domain.ParameterAnalysis](payload)
			if !ok {
				return "", "", false
			}
			return p.ID, string(p.ReportStatus), true
		},
	},
}

func (lifecycleTransitionRule) Name() string { return lifecycleTransitionName }

func (lifecycleTransitionRule) Evaluate(_ context.Context, _ domain.RuleView, changes []domain.Change) (domain.Result, error) {
	res := domain.Result{}
	for _, change := range changes {
		if change.Action != domain.ActionUpdate {
			continue
		}
		machine, ok := lifecycleMachines[change.Entity]
		if !ok {
			continue
		}
		id, from, ok := machine.extractor(change.Before)
		if !ok {
			continue
		}
		_, to, ok := machine.extractor(change.After)
		if !ok || from == to {
			continue
		}
		if _, terminal := machine.terminal[from]; terminal {
			res.Violations = append(res.Violations, blockViolation(lifecycleTransitionName, domain.KindInvalidTransition, change.Entity, id,
				fmt.Sprintf("cannot move %s %s out of terminal state %s", machine.label, id, from)))
			continue
		}
		if !machine.allows(from, to) {
			res.Violations = append(res.Violations, blockViolation(lifecycleTransitionName, domain.KindInvalidTransition, change.Entity, id,
				fmt.Sprintf("cannot move %s %s from %s to %s", machine.label, id, from, to)))
		}
	}
	return res, nil
}
