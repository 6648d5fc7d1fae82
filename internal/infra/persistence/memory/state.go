package memory

import (
	"fmt"
	"time"

	"labcore/pkg/domain"
)

type memoryState struct {
	analyses   map[string]Analysis
	parameters map[string]ParameterAnalysis
	media      map[string]AnalysisMedia
	qc         map[string]ExecutedQC
	usageLogs  map[string]EquipmentUsageLog
	// usageKeys enforces one ledger row per (equipment, parameter, usage type, start).
	usageKeys map[string]string
}

// Snapshot captures a point-in-time clone of the store state.
type Snapshot struct {
	Analyses   map[string]Analysis          `json:"analyses"`
	Parameters map[string]ParameterAnalysis `json:"parameters"`
	Media      map[string]AnalysisMedia     `json:"media"`
	ExecutedQC map[string]ExecutedQC        `json:"executed_qc"`
	UsageLogs  map[string]EquipmentUsageLog `json:"usage_logs"`
}

func newMemoryState() memoryState {
	return memoryState{
		analyses:   make(map[string]Analysis),
		parameters: make(map[string]ParameterAnalysis),
		media:      make(map[string]AnalysisMedia),
		qc:         make(map[string]ExecutedQC),
		usageLogs:  make(map[string]EquipmentUsageLog),
		usageKeys:  make(map[string]string),
	}
}

func usageIndexKey(key domain.UsageKey) string {
	key = key.Normalize()
	return fmt.Sprintf("%s|%s|%s|%s", key.EquipmentID, key.ParameterID, key.UsageType, key.Start.Format(time.RFC3339))
}

func snapshotFromMemoryState(state memoryState) Snapshot {
	s := Snapshot{
		Analyses:   make(map[string]Analysis, len(state.analyses)),
		Parameters: make(map[string]ParameterAnalysis, len(state.parameters)),
		Media:      make(map[string]AnalysisMedia, len(state.media)),
		ExecutedQC: make(map[string]ExecutedQC, len(state.qc)),
		UsageLogs:  make(map[string]EquipmentUsageLog, len(state.usageLogs)),
	}
	for k, v := range state.analyses {
		s.Analyses[k] = cloneAnalysis(v)
	}
	for k, v := range state.parameters {
		s.Parameters[k] = cloneParameter(v)
	}
	for k, v := range state.media {
		s.Media[k] = cloneMedia(v)
	}
	for k, v := range state.qc {
		s.ExecutedQC[k] = v
	}
	for k, v := range state.usageLogs {
		s.UsageLogs[k] = cloneUsageLog(v)
	}
	return s
}

func memoryStateFromSnapshot(s Snapshot) memoryState {
	state := newMemoryState()
	for k, v := range s.Analyses {
		state.analyses[k] = cloneAnalysis(v)
	}
	for k, v := range s.Parameters {
		state.parameters[k] = cloneParameter(v)
	}
	for k, v := range s.Media {
		state.media[k] = cloneMedia(v)
	}
	for k, v := range s.ExecutedQC {
		state.qc[k] = v
	}
	for k, v := range s.UsageLogs {
		state.usageLogs[k] = cloneUsageLog(v)
		state.usageKeys[usageIndexKey(v.Key())] = k
	}
	return state
}

// migrateSnapshot fills defaults for records written by older builds and
// drops owned records whose owner no longer exists. Weak references are kept.
func migrateSnapshot(snapshot Snapshot) Snapshot {
	if snapshot.Analyses == nil {
		snapshot.Analyses = map[string]Analysis{}
	}
	if snapshot.Parameters == nil {
		snapshot.Parameters = map[string]ParameterAnalysis{}
	}
	if snapshot.Media == nil {
		snapshot.Media = map[string]AnalysisMedia{}
	}
	if snapshot.ExecutedQC == nil {
		snapshot.ExecutedQC = map[string]ExecutedQC{}
	}
	if snapshot.UsageLogs == nil {
		snapshot.UsageLogs = map[string]EquipmentUsageLog{}
	}

	for id, analysis := range snapshot.Analyses {
		if analysis.SignatureState == "" {
			analysis.SignatureState = domain.SignatureNotSigned
		}
		snapshot.Analyses[id] = analysis
	}
	for id, param := range snapshot.Parameters {
		if _, ok := snapshot.Analyses[param.AnalysisID]; !ok {
			delete(snapshot.Parameters, id)
			continue
		}
		snapshot.Parameters[id] = applyParameterDefaults(param)
	}
	for id, media := range snapshot.Media {
		param, ok := snapshot.Parameters[media.ParameterID]
		if !ok {
			delete(snapshot.Media, id)
			continue
		}
		media.AnalysisID = param.AnalysisID
		snapshot.Media[id] = applyMediaDefaults(media)
	}
	for id, qc := range snapshot.ExecutedQC {
		if _, ok := snapshot.Analyses[qc.AnalysisID]; !ok {
			delete(snapshot.ExecutedQC, id)
			continue
		}
		if qc.Status == "" {
			qc.Status = domain.ControlPending
		}
		snapshot.ExecutedQC[id] = qc
	}
	for id, analysis := range snapshot.Analyses {
		var owned []ParameterAnalysis
		for _, p := range snapshot.Parameters {
			if p.AnalysisID == id {
				owned = append(owned, p)
			}
		}
		analysis.Readiness = domain.ComputeReadiness(owned)
		snapshot.Analyses[id] = analysis
	}
	return snapshot
}

func applyParameterDefaults(p ParameterAnalysis) ParameterAnalysis {
	if p.Category == "" {
		p.Category = domain.CategoryOther
	}
	if p.ResultKind == "" {
		p.ResultKind = domain.ResultQuantitative
	}
	if p.Progress == "" {
		p.Progress = domain.ProgressUnprocessed
	}
	if p.ReportStatus == "" {
		p.ReportStatus = domain.DeriveReportStatus(p)
	}
	return p
}

func applyMediaDefaults(m AnalysisMedia) AnalysisMedia {
	if m.Usage == "" {
		m.Usage = m.Stage.DefaultUsage()
	}
	if m.Source == "" {
		m.Source = domain.SourceInternal
	}
	return m
}

func (s memoryState) clone() memoryState {
	cloned := newMemoryState()
	for k, v := range s.analyses {
		cloned.analyses[k] = cloneAnalysis(v)
	}
	for k, v := range s.parameters {
		cloned.parameters[k] = cloneParameter(v)
	}
	for k, v := range s.media {
		cloned.media[k] = cloneMedia(v)
	}
	for k, v := range s.qc {
		cloned.qc[k] = v
	}
	for k, v := range s.usageLogs {
		cloned.usageLogs[k] = cloneUsageLog(v)
	}
	for k, v := range s.usageKeys {
		cloned.usageKeys[k] = v
	}
	return cloned
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	cp := *t
	return &cp
}

func cloneAnalysis(a Analysis) Analysis {
	cp := a
	cp.Signature.SignedAt = cloneTime(a.Signature.SignedAt)
	cp.Cancellation.CancelledAt = cloneTime(a.Cancellation.CancelledAt)
	cp.Revision.RequestedAt = cloneTime(a.Revision.RequestedAt)
	cp.StartedOn = cloneTime(a.StartedOn)
	cp.EndedOn = cloneTime(a.EndedOn)
	return cp
}

func cloneParameter(p ParameterAnalysis) ParameterAnalysis {
	cp := p
	cp.ReportedAt = cloneTime(p.ReportedAt)
	if len(p.EquipmentUsed) != 0 {
		cp.EquipmentUsed = append([]domain.EquipmentUse(nil), p.EquipmentUsed...)
	}
	return cp
}

func cloneMedia(m AnalysisMedia) AnalysisMedia {
	cp := m
	cp.Start = cloneTime(m.Start)
	cp.PlannedEnd = cloneTime(m.PlannedEnd)
	cp.RealEnd = cloneTime(m.RealEnd)
	return cp
}

func cloneUsageLog(l EquipmentUsageLog) EquipmentUsageLog {
	cp := l
	cp.PlannedEnd = cloneTime(l.PlannedEnd)
	cp.End = cloneTime(l.End)
	return cp
}
