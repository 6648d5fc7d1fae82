package core

import (
	"context"
	"fmt"
	"time"

	"labcore/pkg/domain"
	"labcore/pkg/timewindow"
)

// IncubationOverdueRule warns when a write leaves incubated media past its
// planned end without a real end. It never blocks the workflow.
func IncubationOverdueRule(now func() time.Time) domain.Rule {
	return incubationOverdueRule{now: now}
}

type incubationOverdueRule struct {
	now func() time.Time
}

const incubationOverdueName = "incubation_overdue"

func (incubationOverdueRule) Name() string { return incubationOverdueName }

func (r incubationOverdueRule) Evaluate(_ context.Context, _ domain.RuleView, changes []domain.Change) (domain.Result, error) {
	res := domain.Result{}
	now := r.now()
	for _, change := range changes {
		if change.Entity != domain.EntityMedia || change.After.Empty() {
			continue
		}
		m, ok := domain.DecodePayload[domain.AnalysisMedia](change.After)
		if !ok || m.IncubationStatus(now) != timewindow.StatusOverdue {
			continue
		}
		overrun, _ := m.Window().Overrun(now)
		res.Violations = append(res.Violations, warnViolation(incubationOverdueName, domain.EntityMedia, m.ID,
			fmt.Sprintf("incubation of media %s is overdue by %s", m.ID, overrun)))
	}
	return res, nil
}
