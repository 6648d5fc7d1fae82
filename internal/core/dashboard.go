package core

import (
	"context"

	"labcore/pkg/domain"
	"labcore/pkg/timewindow"
)

// Dashboard is the lab-wide work summary. Day and week boundaries follow the
// lab timezone.
type Dashboard struct {
	Total              int `json:"total"`
	AllReady           int `json:"all_ready"`
	InProcess          int `json:"in_process"`
	Completed          int `json:"completed"`
	Signed             int `json:"signed"`
	Pending            int `json:"pending"`
	CreatedThisWeek    int `json:"created_this_week"`
	CreatedToday       int `json:"created_today"`
	ActiveIncubations  int `json:"active_incubations"`
	OverdueIncubations int `json:"overdue_incubations"`
	EquipmentInUse     int `json:"equipment_in_use"`
}

// Dashboard counts analyses by workflow state along with incubation and
// equipment activity.
func (s *Service) Dashboard(ctx context.Context) (Dashboard, error) {
	var out Dashboard
	clock := s.LabClock()
	now := clock.Now()
	today, week := clock.StartOfDay(now), clock.StartOfWeek(now)
	err := s.view(ctx, func(view domain.TransactionView) error {
		for _, a := range view.ListAnalyses() {
			out.Total++
			if a.Readiness.AllReady {
				out.AllReady++
			}
			if analysisCompleted(view.ParametersOf(a.ID)) {
				out.Completed++
			} else {
				out.InProcess++
			}
			if a.SignatureState == domain.SignatureSigned {
				out.Signed++
			} else {
				out.Pending++
			}
			if !a.CreatedAt.Before(week) {
				out.CreatedThisWeek++
			}
			if !a.CreatedAt.Before(today) {
				out.CreatedToday++
			}
		}
		for _, m := range view.ListMedia() {
			switch m.IncubationStatus(now) {
			case timewindow.StatusActive:
				out.ActiveIncubations++
			case timewindow.StatusOverdue:
				out.OverdueIncubations++
			}
		}
		inUse := make(map[string]struct{})
		for _, l := range view.ListUsageLogs() {
			if l.IsActive() {
				inUse[l.EquipmentID] = struct{}{}
			}
		}
		out.EquipmentInUse = len(inUse)
		return nil
	})
	return out, err
}

// analysisCompleted reports whether every parameter is finalized. An analysis
// without parameters is still in process.
func analysisCompleted(params []domain.ParameterAnalysis) bool {
	if len(params) == 0 {
		return false
	}
	for _, p := range params {
		if p.Progress != domain.ProgressFinalized {
			return false
		}
	}
	return true
}
