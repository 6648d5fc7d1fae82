package core

import (
	"context"
	"slices"
	"strings"
	"time"

	"labcore/pkg/domain"
	"labcore/pkg/timewindow"
)

// MediaInput describes a culture media step added to a parameter. Enumerated
// fields are raw strings parsed at this boundary.
type MediaInput struct {
	ParameterID        string     `json:"parameter_id"`
	Stage              string     `json:"process_stage"`
	Usage              string     `json:"media_usage,omitempty"`
	Source             string     `json:"media_source,omitempty"`
	MediaName          string     `json:"media_name,omitempty"`
	BatchCode          string     `json:"batch_code,omitempty"`
	ExternalCode       string     `json:"external_code,omitempty"`
	RequiresIncubation bool       `json:"requires_incubation"`
	EquipmentID        string     `json:"equipment_id,omitempty"`
	Start              *time.Time `json:"start,omitempty"`
	PlannedEnd         *time.Time `json:"planned_end,omitempty"`
	// Civil alternatives to Start and PlannedEnd, combined in the lab
	// timezone. Missing times default to 00:00 and 23:59.
	StartDate      *time.Time `json:"start_date,omitempty"`
	StartTime      string     `json:"start_time,omitempty"`
	PlannedEndDate *time.Time `json:"planned_end_date,omitempty"`
	PlannedEndTime string     `json:"planned_end_time,omitempty"`
}

const (
	defaultIncubationStart = "00:00"
	defaultIncubationEnd   = "23:59"
	defaultEquipmentUse    = "12:00"
)

// civilInstant returns instant when set, otherwise date combined with hhmm in
// the lab timezone.
func civilInstant(clock timewindow.Clock, instant, date *time.Time, hhmm, fallback string) (*time.Time, error) {
	if instant != nil {
		return utcPtr(instant), nil
	}
	if date == nil {
		return nil, nil
	}
	combined, err := clock.Combine(*date, hhmm, fallback)
	if err != nil {
		return nil, err
	}
	return utcPtr(&combined), nil
}

// MediaStatus is the derived incubation view of a media record.
type MediaStatus struct {
	Media     domain.AnalysisMedia `json:"media"`
	Status    timewindow.Status    `json:"incubation_status"`
	Remaining *timewindow.Span     `json:"remaining,omitempty"`
	Elapsed   *timewindow.Span     `json:"elapsed,omitempty"`
	Overrun   *timewindow.Span     `json:"overrun,omitempty"`
}

func mediaStatusAt(m domain.AnalysisMedia, now time.Time) MediaStatus {
	out := MediaStatus{Media: m, Status: m.IncubationStatus(now)}
	if !m.RequiresIncubation {
		return out
	}
	w := m.Window()
	if span, ok := w.Remaining(now); ok {
		out.Remaining = &span
	}
	if span, ok := w.Elapsed(now); ok {
		out.Elapsed = &span
	}
	if span, ok := w.Overrun(now); ok {
		out.Overrun = &span
	}
	return out
}

func (in MediaInput) toMedia(op string, clock timewindow.Clock, analysisID string) (domain.AnalysisMedia, error) {
	stage, err := domain.ParseProcessStage(in.Stage)
	if err != nil {
		return domain.AnalysisMedia{}, err
	}
	usage, err := domain.ParseMediaUsage(in.Usage)
	if err != nil {
		return domain.AnalysisMedia{}, err
	}
	if usage == "" {
		usage = stage.DefaultUsage()
	}
	source, err := domain.ParseMediaSource(in.Source)
	if err != nil {
		return domain.AnalysisMedia{}, err
	}
	start, err := civilInstant(clock, in.Start, in.StartDate, in.StartTime, defaultIncubationStart)
	if err != nil {
		return domain.AnalysisMedia{}, domain.Invalid(op, "incubation start: %v", err)
	}
	plannedEnd, err := civilInstant(clock, in.PlannedEnd, in.PlannedEndDate, in.PlannedEndTime, defaultIncubationEnd)
	if err != nil {
		return domain.AnalysisMedia{}, domain.Invalid(op, "planned end: %v", err)
	}
	if start != nil && plannedEnd != nil && plannedEnd.Before(*start) {
		return domain.AnalysisMedia{}, domain.Invalid(op, "planned end precedes the incubation start")
	}
	m := domain.AnalysisMedia{
		ParameterID:        in.ParameterID,
		AnalysisID:         analysisID,
		Stage:              stage,
		Usage:              usage,
		Source:             source,
		MediaName:          strings.TrimSpace(in.MediaName),
		RequiresIncubation: in.RequiresIncubation,
		EquipmentID:        strings.TrimSpace(in.EquipmentID),
		Start:              start,
		PlannedEnd:         plannedEnd,
	}
	if source == domain.SourceExternal {
		m.ExternalCode = strings.TrimSpace(in.ExternalCode)
	} else {
		m.BatchCode = strings.TrimSpace(in.BatchCode)
	}
	return m, nil
}

// AddMedia attaches a media step to a parameter. An incubated media with an
// equipment and a start also opens an incubation usage log on that equipment.
func (s *Service) AddMedia(ctx context.Context, actor domain.Actor, in MediaInput) (domain.AnalysisMedia, domain.Result, error) {
	op := newOperation(OpAddMedia, actor)
	var created domain.AnalysisMedia
	res, err := s.run(ctx, op, func(tx domain.Transaction) error {
		p, err := findParameter(OpAddMedia, tx, in.ParameterID)
		if err != nil {
			return err
		}
		m, err := in.toMedia(OpAddMedia, s.LabClock(), p.AnalysisID)
		if err != nil {
			return err
		}
		if created, err = tx.CreateMedia(m); err != nil {
			return err
		}
		op.entityID = created.ID
		if !created.RequiresIncubation || created.EquipmentID == "" || created.Start == nil {
			return nil
		}
		log := domain.EquipmentUsageLog{
			EquipmentID:    created.EquipmentID,
			UsageType:      domain.UsageIncubation,
			ProcessContext: string(created.Stage),
			AnalysisID:     created.AnalysisID,
			ParameterID:    created.ParameterID,
			MediaID:        created.ID,
			Start:          *created.Start,
			PlannedEnd:     created.PlannedEnd,
			UsedBy:         actor.Label(),
		}
		if existing, ok := tx.FindUsageLogByKey(log.Key()); ok {
			op.detail("usage_log_id", existing.ID)
			return nil
		}
		opened, err := tx.CreateUsageLog(log)
		if err != nil {
			return err
		}
		op.detail("usage_log_id", opened.ID)
		return nil
	})
	return created, res, err
}

// CompleteIncubation records the real end of an incubation, now when end is
// nil, and closes the open incubation log tied to the media.
func (s *Service) CompleteIncubation(ctx context.Context, actor domain.Actor, mediaID string, end *time.Time) (domain.AnalysisMedia, domain.Result, error) {
	op := newOperation(OpCompleteIncubation, actor)
	var updated domain.AnalysisMedia
	res, err := s.run(ctx, op, func(tx domain.Transaction) error {
		op.entityID = mediaID
		m, ok := tx.FindMedia(mediaID)
		if !ok {
			return domain.NotFound(OpCompleteIncubation, domain.EntityMedia, mediaID)
		}
		if !m.RequiresIncubation || m.Start == nil {
			return domain.PreconditionUnmet(OpCompleteIncubation, domain.EntityMedia, mediaID, domain.ErrInvalidValue,
				"media has no incubation in progress")
		}
		if m.RealEnd != nil {
			return domain.InvalidTransition(OpCompleteIncubation, domain.EntityMedia, mediaID, domain.ErrInvalidValue,
				"incubation already ended at %s", m.RealEnd.Format(time.RFC3339))
		}
		at := s.now()
		if end != nil {
			at = *end
		}
		at = at.UTC()
		if at.Before(*m.Start) {
			return domain.Invalid(OpCompleteIncubation, "incubation end precedes its start")
		}
		var err error
		updated, err = tx.UpdateMedia(mediaID, func(stored *domain.AnalysisMedia) error {
			stored.RealEnd = &at
			return nil
		})
		if err != nil {
			return err
		}
		for _, log := range tx.UsageLogsFor(m.EquipmentID) {
			if log.MediaID != mediaID || log.UsageType != domain.UsageIncubation || !log.IsActive() {
				continue
			}
			if _, err := tx.UpdateUsageLog(log.ID, func(l *domain.EquipmentUsageLog) error {
				l.End = &at
				return nil
			}); err != nil {
				return err
			}
			op.detail("usage_log_id", log.ID)
		}
		return nil
	})
	return updated, res, err
}

// MediaStatus derives the incubation status of one media record.
func (s *Service) MediaStatus(ctx context.Context, mediaID string) (MediaStatus, error) {
	var out MediaStatus
	err := s.view(ctx, func(view domain.TransactionView) error {
		m, ok := view.FindMedia(mediaID)
		if !ok {
			return domain.NotFound("media_status", domain.EntityMedia, mediaID)
		}
		out = mediaStatusAt(m, s.now())
		return nil
	})
	return out, err
}

// OverdueIncubations lists incubated media past their planned end without a
// real end, most overdue first.
func (s *Service) OverdueIncubations(ctx context.Context) ([]MediaStatus, error) {
	var out []MediaStatus
	now := s.now()
	err := s.view(ctx, func(view domain.TransactionView) error {
		for _, m := range view.ListMedia() {
			if st := mediaStatusAt(m, now); st.Status == timewindow.StatusOverdue {
				out = append(out, st)
			}
		}
		return nil
	})
	slices.SortStableFunc(out, func(a, b MediaStatus) int {
		return a.Media.PlannedEnd.Compare(*b.Media.PlannedEnd)
	})
	return out, err
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := t.UTC()
	return &v
}
