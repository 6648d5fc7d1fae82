package core

import (
	"context"
	"math"
	"strings"
	"time"

	"labcore/pkg/domain"
	"labcore/pkg/timewindow"
)

// UsageInput opens an equipment usage log. Related ids are weak references
// and are stored as given.
type UsageInput struct {
	EquipmentID    string     `json:"equipment_id"`
	UsageType      string     `json:"usage_type"`
	ProcessContext string     `json:"process_context,omitempty"`
	AnalysisID     string     `json:"analysis_id,omitempty"`
	ParameterID    string     `json:"parameter_id,omitempty"`
	MediaID        string     `json:"media_id,omitempty"`
	Start          *time.Time `json:"start,omitempty"`
	PlannedEnd     *time.Time `json:"planned_end,omitempty"`
	Notes          string     `json:"notes,omitempty"`
}

// FinishInput closes one or more active logs at a civil date and time in the
// lab timezone. A zero EndDate means today.
type FinishInput struct {
	LogIDs  []string  `json:"log_ids"`
	EndDate time.Time `json:"end_date,omitempty"`
	EndTime string    `json:"end_time"`
	Notes   string    `json:"notes,omitempty"`
}

// UsageStatus is the derived view of one ledger row.
type UsageStatus struct {
	Log           domain.EquipmentUsageLog `json:"log"`
	Status        timewindow.Status        `json:"status"`
	Active        bool                     `json:"is_active_use"`
	DurationHours float64                  `json:"duration_hours"`
	Elapsed       *timewindow.Span         `json:"elapsed,omitempty"`
	Remaining     *timewindow.Span         `json:"remaining,omitempty"`
}

// EquipmentSummary aggregates the ledger of one equipment item.
type EquipmentSummary struct {
	EquipmentID  string                    `json:"equipment_id"`
	LogCount     int                       `json:"log_count"`
	TotalHours   float64                   `json:"total_hours"`
	InUse        bool                      `json:"in_use"`
	Current      *domain.EquipmentUsageLog `json:"current,omitempty"`
	StatusCounts map[timewindow.Status]int `json:"status_counts"`
	ByUsageType  map[domain.UsageType]int  `json:"by_usage_type"`
}

func usageStatusAt(l domain.EquipmentUsageLog, now time.Time) UsageStatus {
	out := UsageStatus{Log: l, Status: l.Status(now), Active: l.IsActive(), DurationHours: l.DurationHours()}
	w := l.Window()
	if span, ok := w.Elapsed(now); ok {
		out.Elapsed = &span
	}
	if span, ok := w.Remaining(now); ok {
		out.Remaining = &span
	}
	return out
}

// StartUsage opens an active usage log. Overlapping active logs on the same
// equipment are reported as rule warnings and never block.
func (s *Service) StartUsage(ctx context.Context, actor domain.Actor, in UsageInput) (domain.EquipmentUsageLog, domain.Result, error) {
	op := newOperation(OpStartUsage, actor)
	var created domain.EquipmentUsageLog
	res, err := s.run(ctx, op, func(tx domain.Transaction) error {
		usageType, err := domain.ParseUsageType(in.UsageType)
		if err != nil {
			return err
		}
		start := s.now()
		if in.Start != nil {
			start = *in.Start
		}
		log := domain.EquipmentUsageLog{
			EquipmentID:    strings.TrimSpace(in.EquipmentID),
			UsageType:      usageType,
			ProcessContext: strings.TrimSpace(in.ProcessContext),
			AnalysisID:     in.AnalysisID,
			ParameterID:    in.ParameterID,
			MediaID:        in.MediaID,
			Start:          start.UTC(),
			PlannedEnd:     utcPtr(in.PlannedEnd),
			UsedBy:         actor.Label(),
			Notes:          strings.TrimSpace(in.Notes),
		}
		if log.PlannedEnd != nil && log.PlannedEnd.Before(log.Start) {
			return domain.Invalid(OpStartUsage, "planned end precedes the usage start")
		}
		if log.AnalysisID == "" && log.ParameterID != "" {
			if p, ok := tx.FindParameter(log.ParameterID); ok {
				log.AnalysisID = p.AnalysisID
			}
		}
		if existing, ok := tx.FindUsageLogByKey(log.Key()); ok {
			return domain.PreconditionUnmet(OpStartUsage, domain.EntityUsageLog, existing.ID, domain.ErrDuplicateUsage,
				"equipment %s already has a %s log starting %s", log.EquipmentID, log.UsageType, log.Start.Format(time.RFC3339))
		}
		if created, err = tx.CreateUsageLog(log); err != nil {
			return err
		}
		op.entityID = created.ID
		op.detail("equipment_id", created.EquipmentID)
		return nil
	})
	return created, res, err
}

// FinishUsage closes the selected active logs. The end is the civil date and
// HH:MM time combined in the lab timezone; notes are appended as
// "Finished: <notes>". Incubation logs propagate the end to their media.
func (s *Service) FinishUsage(ctx context.Context, actor domain.Actor, in FinishInput) ([]domain.EquipmentUsageLog, domain.Result, error) {
	op := newOperation(OpFinishUsage, actor)
	var finished []domain.EquipmentUsageLog
	res, err := s.run(ctx, op, func(tx domain.Transaction) error {
		finished = nil
		ids := dedupe(in.LogIDs)
		if len(ids) == 0 {
			return domain.Invalid(OpFinishUsage, "select at least one usage log")
		}
		if strings.TrimSpace(in.EndTime) == "" {
			return domain.Invalid(OpFinishUsage, "end time is required")
		}
		clock := s.LabClock()
		day := in.EndDate
		if day.IsZero() {
			day = clock.Now()
		}
		end, err := clock.Combine(day, in.EndTime, "")
		if err != nil {
			return domain.Invalid(OpFinishUsage, "%v", err)
		}
		end = end.UTC()
		notes := strings.TrimSpace(in.Notes)

		for _, id := range ids {
			current, ok := tx.FindUsageLog(id)
			if !ok {
				return domain.NotFound(OpFinishUsage, domain.EntityUsageLog, id)
			}
			if !current.IsActive() {
				return domain.InvalidTransition(OpFinishUsage, domain.EntityUsageLog, id, domain.ErrInvalidValue,
					"usage log already finished")
			}
			if end.Before(current.Start) {
				return domain.Invalid(OpFinishUsage, "end %s precedes the start of log %s", end.Format(time.RFC3339), id)
			}
			updated, err := tx.UpdateUsageLog(id, func(l *domain.EquipmentUsageLog) error {
				l.End = &end
				if notes != "" {
					l.Notes = appendNote(l.Notes, "Finished: "+notes)
				}
				return nil
			})
			if err != nil {
				return err
			}
			if err := propagateIncubationEnd(tx, updated, end); err != nil {
				return err
			}
			finished = append(finished, updated)
		}
		op.entityID = strings.Join(ids, ",")
		op.detail("end", end)
		return nil
	})
	return finished, res, err
}

func propagateIncubationEnd(tx domain.Transaction, log domain.EquipmentUsageLog, end time.Time) error {
	if log.UsageType != domain.UsageIncubation || log.MediaID == "" {
		return nil
	}
	m, ok := tx.FindMedia(log.MediaID)
	if !ok || m.RealEnd != nil {
		return nil
	}
	if m.Start != nil && end.Before(*m.Start) {
		return nil
	}
	_, err := tx.UpdateMedia(m.ID, func(stored *domain.AnalysisMedia) error {
		stored.RealEnd = &end
		return nil
	})
	return err
}

func appendNote(existing, note string) string {
	if strings.TrimSpace(existing) == "" {
		return note
	}
	return existing + "\n" + note
}

// UsageStatus derives the status of one ledger row.
func (s *Service) UsageStatus(ctx context.Context, logID string) (UsageStatus, error) {
	var out UsageStatus
	err := s.view(ctx, func(view domain.TransactionView) error {
		l, ok := view.FindUsageLog(logID)
		if !ok {
			return domain.NotFound("usage_status", domain.EntityUsageLog, logID)
		}
		out = usageStatusAt(l, s.now())
		return nil
	})
	return out, err
}

// EquipmentLedger lists an equipment's usage logs, newest first.
func (s *Service) EquipmentLedger(ctx context.Context, equipmentID string) ([]UsageStatus, error) {
	var out []UsageStatus
	now := s.now()
	err := s.view(ctx, func(view domain.TransactionView) error {
		for _, l := range view.UsageLogsFor(equipmentID) {
			out = append(out, usageStatusAt(l, now))
		}
		return nil
	})
	return out, err
}

// EquipmentSummary aggregates an equipment's ledger: log count, closed hours
// and the current active log.
func (s *Service) EquipmentSummary(ctx context.Context, equipmentID string) (EquipmentSummary, error) {
	out := EquipmentSummary{
		EquipmentID:  equipmentID,
		StatusCounts: make(map[timewindow.Status]int),
		ByUsageType:  make(map[domain.UsageType]int),
	}
	now := s.now()
	err := s.view(ctx, func(view domain.TransactionView) error {
		for _, l := range view.UsageLogsFor(equipmentID) {
			out.LogCount++
			out.TotalHours += l.DurationHours()
			out.StatusCounts[l.Status(now)]++
			out.ByUsageType[l.UsageType]++
			if l.IsActive() && out.Current == nil {
				current := l
				out.Current = &current
			}
		}
		return nil
	})
	out.TotalHours = math.Round(out.TotalHours*100) / 100
	out.InUse = out.Current != nil
	return out, err
}
