package core

import (
	"context"
	"slices"
	"strings"

	"labcore/pkg/domain"
	"labcore/pkg/timewindow"
)

const historicalUser = "System (historical)"

// BackfillReport counts what a historical backfill did.
type BackfillReport struct {
	EquipmentIDs []string `json:"equipment_ids"`
	Created      int      `json:"created"`
	Updated      int      `json:"updated"`
	Skipped      int      `json:"skipped"`
}

// BackfillHistory rebuilds the usage ledger from media incubations and the
// equipment references recorded on parameters. It is an idempotent upsert
// keyed by equipment, parameter, usage type and start, so re-running it only
// fills in incubation ends that appeared since. An empty equipmentID covers
// every referenced equipment.
func (s *Service) BackfillHistory(ctx context.Context, actor domain.Actor, equipmentID string) (BackfillReport, domain.Result, error) {
	op := newOperation(OpBackfillHistory, actor)
	var report BackfillReport
	res, err := s.run(ctx, op, func(tx domain.Transaction) error {
		report = BackfillReport{}
		b := backfill{tx: tx, clock: s.LabClock(), report: &report, only: strings.TrimSpace(equipmentID)}
		for _, m := range tx.ListMedia() {
			if err := b.media(m); err != nil {
				return err
			}
		}
		for _, p := range tx.ListParameters() {
			for _, use := range p.EquipmentUsed {
				if err := b.equipmentUse(p, use); err != nil {
					return err
				}
			}
		}
		report.EquipmentIDs = b.equipmentIDs()
		op.entityID = equipmentID
		op.detail("created", report.Created)
		op.detail("updated", report.Updated)
		op.detail("skipped", report.Skipped)
		return nil
	})
	return report, res, err
}

type backfill struct {
	tx     domain.Transaction
	clock  timewindow.Clock
	report *BackfillReport
	only   string
	seen   map[string]struct{}
}

func (b *backfill) wants(equipmentID string) bool {
	if equipmentID == "" || (b.only != "" && equipmentID != b.only) {
		return false
	}
	if b.seen == nil {
		b.seen = make(map[string]struct{})
	}
	b.seen[equipmentID] = struct{}{}
	return true
}

func (b *backfill) equipmentIDs() []string {
	out := make([]string, 0, len(b.seen))
	for id := range b.seen {
		out = append(out, id)
	}
	slices.Sort(out)
	return out
}

// existingFor finds the ledger row already recording a media incubation,
// first by the media link and then by the usage key.
func (b *backfill) existingFor(m domain.AnalysisMedia, key domain.UsageKey) (domain.EquipmentUsageLog, bool) {
	for _, l := range b.tx.UsageLogsFor(m.EquipmentID) {
		if l.MediaID == m.ID {
			return l, true
		}
	}
	return b.tx.FindUsageLogByKey(key)
}

func (b *backfill) media(m domain.AnalysisMedia) error {
	if !m.RequiresIncubation || m.Start == nil || !b.wants(m.EquipmentID) {
		return nil
	}
	log := domain.EquipmentUsageLog{
		EquipmentID:    m.EquipmentID,
		UsageType:      domain.UsageIncubation,
		ProcessContext: string(m.Stage),
		AnalysisID:     m.AnalysisID,
		ParameterID:    m.ParameterID,
		MediaID:        m.ID,
		Start:          *m.Start,
		PlannedEnd:     m.PlannedEnd,
		End:            m.RealEnd,
		UsedBy:         historicalUser,
		Notes:          "Historical sync - " + orDefault(m.MediaName, "Media"),
		Historical:     true,
	}
	if log.End != nil && log.End.Before(log.Start) {
		log.End = nil
	}
	existing, ok := b.existingFor(m, log.Key())
	if !ok {
		if _, err := b.tx.CreateUsageLog(log); err != nil {
			return err
		}
		b.report.Created++
		return nil
	}
	if existing.End != nil || m.RealEnd == nil || m.RealEnd.Before(existing.Start) {
		b.report.Skipped++
		return nil
	}
	end := *m.RealEnd
	if _, err := b.tx.UpdateUsageLog(existing.ID, func(l *domain.EquipmentUsageLog) error {
		l.End = &end
		return nil
	}); err != nil {
		return err
	}
	b.report.Updated++
	return nil
}

func (b *backfill) equipmentUse(p domain.ParameterAnalysis, use domain.EquipmentUse) error {
	if use.UsedOn.IsZero() || !b.wants(use.EquipmentID) {
		return nil
	}
	start, err := b.clock.Combine(use.UsedOn, use.UsedAt, defaultEquipmentUse)
	if err != nil {
		// An unreadable time falls back to noon of the usage date.
		start, _ = b.clock.Combine(use.UsedOn, defaultEquipmentUse, defaultEquipmentUse)
	}
	log := domain.EquipmentUsageLog{
		EquipmentID: use.EquipmentID,
		UsageType:   domain.UsageOther,
		AnalysisID:  p.AnalysisID,
		ParameterID: p.ID,
		Start:       start.UTC(),
		UsedBy:      orDefault(p.Analyst, historicalUser),
		Notes:       "Usage: " + p.Name,
		Historical:  true,
	}
	if _, ok := b.tx.FindUsageLogByKey(log.Key()); ok {
		b.report.Skipped++
		return nil
	}
	if _, err := b.tx.CreateUsageLog(log); err != nil {
		return err
	}
	b.report.Created++
	return nil
}

func orDefault(value, fallback string) string {
	if v := strings.TrimSpace(value); v != "" {
		return v
	}
	return fallback
}
