package memory

import (
	"sort"

	"labcore/pkg/domain"
)

// transactionView exposes a read-only snapshot of the transactional state to rules.
type transactionView struct {
	state *memoryState
}

func newTransactionView(state *memoryState) TransactionView {
	return transactionView{state: state}
}

func sortAnalyses(out []Analysis) {
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
}

func sortParameters(out []ParameterAnalysis) {
	sort.Slice(out, func(i, j int) bool {
		if out[i].Sequence != out[j].Sequence {
			return out[i].Sequence < out[j].Sequence
		}
		return out[i].ID < out[j].ID
	})
}

func sortUsageLogs(out []EquipmentUsageLog) {
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Start.Equal(out[j].Start) {
			return out[i].Start.After(out[j].Start)
		}
		return out[i].ID < out[j].ID
	})
}

// ListAnalyses returns every analysis ordered by creation.
func (v transactionView) ListAnalyses() []Analysis {
	out := make([]Analysis, 0, len(v.state.analyses))
	for _, a := range v.state.analyses {
		out = append(out, cloneAnalysis(a))
	}
	sortAnalyses(out)
	return out
}

// FindAnalysis retrieves an analysis by ID.
func (v transactionView) FindAnalysis(id string) (Analysis, bool) {
	a, ok := v.state.analyses[id]
	if !ok {
		return Analysis{}, false
	}
	return cloneAnalysis(a), true
}

// RevisionsOf returns the direct revisions of an analysis.
func (v transactionView) RevisionsOf(id string) []Analysis {
	var out []Analysis
	for _, a := range v.state.analyses {
		if a.OriginalAnalysisID == id {
			out = append(out, cloneAnalysis(a))
		}
	}
	sortAnalyses(out)
	return out
}

// ListParameters returns every parameter analysis.
func (v transactionView) ListParameters() []ParameterAnalysis {
	out := make([]ParameterAnalysis, 0, len(v.state.parameters))
	for _, p := range v.state.parameters {
		out = append(out, cloneParameter(p))
	}
	sortParameters(out)
	return out
}

// FindParameter retrieves a parameter analysis by ID.
func (v transactionView) FindParameter(id string) (ParameterAnalysis, bool) {
	p, ok := v.state.parameters[id]
	if !ok {
		return ParameterAnalysis{}, false
	}
	return cloneParameter(p), true
}

// ParametersOf returns the parameters owned by an analysis.
func (v transactionView) ParametersOf(analysisID string) []ParameterAnalysis {
	var out []ParameterAnalysis
	for _, p := range v.state.parameters {
		if p.AnalysisID == analysisID {
			out = append(out, cloneParameter(p))
		}
	}
	sortParameters(out)
	return out
}

// ListMedia returns every media record.
func (v transactionView) ListMedia() []AnalysisMedia {
	out := make([]AnalysisMedia, 0, len(v.state.media))
	for _, m := range v.state.media {
		out = append(out, cloneMedia(m))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// FindMedia retrieves a media record by ID.
func (v transactionView) FindMedia(id string) (AnalysisMedia, bool) {
	m, ok := v.state.media[id]
	if !ok {
		return AnalysisMedia{}, false
	}
	return cloneMedia(m), true
}

// MediaOf returns the media owned by a parameter.
func (v transactionView) MediaOf(parameterID string) []AnalysisMedia {
	var out []AnalysisMedia
	for _, m := range v.state.media {
		if m.ParameterID == parameterID {
			out = append(out, cloneMedia(m))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// QCOf returns the executed QC owned by an analysis.
func (v transactionView) QCOf(analysisID string) []ExecutedQC {
	var out []ExecutedQC
	for _, qc := range v.state.qc {
		if qc.AnalysisID == analysisID {
			out = append(out, qc)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Sequence != out[j].Sequence {
			return out[i].Sequence < out[j].Sequence
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// ListUsageLogs returns the whole ledger, newest first.
func (v transactionView) ListUsageLogs() []EquipmentUsageLog {
	out := make([]EquipmentUsageLog, 0, len(v.state.usageLogs))
	for _, l := range v.state.usageLogs {
		out = append(out, cloneUsageLog(l))
	}
	sortUsageLogs(out)
	return out
}

// FindUsageLog retrieves a ledger row by ID.
func (v transactionView) FindUsageLog(id string) (EquipmentUsageLog, bool) {
	l, ok := v.state.usageLogs[id]
	if !ok {
		return EquipmentUsageLog{}, false
	}
	return cloneUsageLog(l), true
}

// FindUsageLogByKey retrieves a ledger row through the uniqueness index.
func (v transactionView) FindUsageLogByKey(key domain.UsageKey) (EquipmentUsageLog, bool) {
	id, ok := v.state.usageKeys[usageIndexKey(key)]
	if !ok {
		return EquipmentUsageLog{}, false
	}
	return v.FindUsageLog(id)
}

// UsageLogsFor returns an equipment's ledger, newest first.
func (v transactionView) UsageLogsFor(equipmentID string) []EquipmentUsageLog {
	var out []EquipmentUsageLog
	for _, l := range v.state.usageLogs {
		if l.EquipmentID == equipmentID {
			out = append(out, cloneUsageLog(l))
		}
	}
	sortUsageLogs(out)
	return out
}
