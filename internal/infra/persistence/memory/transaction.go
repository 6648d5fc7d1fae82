package memory

import (
	"strings"
	"time"

	"labcore/pkg/domain"
)

// transaction represents a mutation set applied to a cloned store state.
type transaction struct {
	transactionView
	store   *Store
	state   memoryState
	changes []Change
	now     time.Time
}

func (tx *transaction) bind() *transaction {
	tx.transactionView = transactionView{state: &tx.state}
	return tx
}

// Now returns the instant stamped on records written by the transaction.
func (tx *transaction) Now() time.Time { return tx.now }

func (tx *transaction) record(entity domain.EntityType, id string, action domain.Action, before, after any) {
	change := Change{Entity: entity, EntityID: id, Action: action}
	if before != nil {
		change.Before = domain.MustPayload(before)
	}
	if after != nil {
		change.After = domain.MustPayload(after)
	}
	tx.changes = append(tx.changes, change)
}

func (tx *transaction) stamp(base *domain.Base) {
	if base.ID == "" {
		base.ID = tx.store.newID()
	}
	base.CreatedAt = tx.now
	base.UpdatedAt = tx.now
	base.Version = 1
}

func (tx *transaction) touch(base *domain.Base, id string) {
	base.ID = id
	base.UpdatedAt = tx.now
	base.Version++
}

// CreateAnalysis stores a new analysis within the transaction.
func (tx *transaction) CreateAnalysis(a Analysis) (Analysis, error) {
	tx.stamp(&a.Base)
	if _, exists := tx.state.analyses[a.ID]; exists {
		return Analysis{}, domain.Invalid("create_analysis", "analysis %q already exists", a.ID)
	}
	if strings.TrimSpace(a.SampleID) == "" {
		return Analysis{}, domain.Invalid("create_analysis", "analysis requires a sample reference")
	}
	if a.SignatureState == "" {
		a.SignatureState = domain.SignatureNotSigned
	}
	a.Readiness = domain.Readiness{}
	tx.state.analyses[a.ID] = cloneAnalysis(a)
	tx.record(domain.EntityAnalysis, a.ID, domain.ActionCreate, nil, a)
	return cloneAnalysis(a), nil
}

// UpdateAnalysis mutates an analysis using the provided mutator function.
func (tx *transaction) UpdateAnalysis(id string, mutator func(*Analysis) error) (Analysis, error) {
	current, ok := tx.state.analyses[id]
	if !ok {
		return Analysis{}, domain.NotFound("update_analysis", domain.EntityAnalysis, id)
	}
	before := cloneAnalysis(current)
	if err := mutator(&current); err != nil {
		return Analysis{}, err
	}
	current.CreatedAt = before.CreatedAt
	tx.touch(&current.Base, id)
	tx.state.analyses[id] = cloneAnalysis(current)
	tx.record(domain.EntityAnalysis, id, domain.ActionUpdate, before, current)
	return cloneAnalysis(current), nil
}

// DeleteAnalysis removes an analysis and everything it owns.
func (tx *transaction) DeleteAnalysis(id string) error {
	current, ok := tx.state.analyses[id]
	if !ok {
		return domain.NotFound("delete_analysis", domain.EntityAnalysis, id)
	}
	for pid, p := range tx.state.parameters {
		if p.AnalysisID != id {
			continue
		}
		if err := tx.DeleteParameter(pid); err != nil {
			return err
		}
	}
	for qid, qc := range tx.state.qc {
		if qc.AnalysisID != id {
			continue
		}
		delete(tx.state.qc, qid)
		tx.record(domain.EntityExecutedQC, qid, domain.ActionDelete, qc, nil)
	}
	delete(tx.state.analyses, id)
	tx.record(domain.EntityAnalysis, id, domain.ActionDelete, current, nil)
	return nil
}

// CreateParameter stores a parameter under an existing analysis.
func (tx *transaction) CreateParameter(p ParameterAnalysis) (ParameterAnalysis, error) {
	if _, ok := tx.state.analyses[p.AnalysisID]; !ok {
		return ParameterAnalysis{}, domain.ReferentialGap("create_parameter", domain.EntityParameter, p.ID,
			"parameter references missing analysis %q", p.AnalysisID)
	}
	if strings.TrimSpace(p.Name) == "" {
		return ParameterAnalysis{}, domain.Invalid("create_parameter", "parameter name is required")
	}
	tx.stamp(&p.Base)
	if _, exists := tx.state.parameters[p.ID]; exists {
		return ParameterAnalysis{}, domain.Invalid("create_parameter", "parameter %q already exists", p.ID)
	}
	p = applyParameterDefaults(p)
	tx.state.parameters[p.ID] = cloneParameter(p)
	tx.record(domain.EntityParameter, p.ID, domain.ActionCreate, nil, p)
	return cloneParameter(p), nil
}

// UpdateParameter mutates a parameter analysis. Ownership cannot move.
func (tx *transaction) UpdateParameter(id string, mutator func(*ParameterAnalysis) error) (ParameterAnalysis, error) {
	current, ok := tx.state.parameters[id]
	if !ok {
		return ParameterAnalysis{}, domain.NotFound("update_parameter", domain.EntityParameter, id)
	}
	before := cloneParameter(current)
	if err := mutator(&current); err != nil {
		return ParameterAnalysis{}, err
	}
	current.AnalysisID = before.AnalysisID
	current.CreatedAt = before.CreatedAt
	tx.touch(&current.Base, id)
	tx.state.parameters[id] = cloneParameter(current)
	tx.record(domain.EntityParameter, id, domain.ActionUpdate, before, current)
	return cloneParameter(current), nil
}

// DeleteParameter removes a parameter and its media. Usage logs that point at
// the parameter are weak references and stay in the ledger.
func (tx *transaction) DeleteParameter(id string) error {
	current, ok := tx.state.parameters[id]
	if !ok {
		return domain.NotFound("delete_parameter", domain.EntityParameter, id)
	}
	for mid, m := range tx.state.media {
		if m.ParameterID != id {
			continue
		}
		delete(tx.state.media, mid)
		tx.record(domain.EntityMedia, mid, domain.ActionDelete, m, nil)
	}
	delete(tx.state.parameters, id)
	tx.record(domain.EntityParameter, id, domain.ActionDelete, current, nil)
	return nil
}

// CreateMedia stores a media record under an existing parameter.
func (tx *transaction) CreateMedia(m AnalysisMedia) (AnalysisMedia, error) {
	param, ok := tx.state.parameters[m.ParameterID]
	if !ok {
		return AnalysisMedia{}, domain.ReferentialGap("create_media", domain.EntityMedia, m.ID,
			"media references missing parameter %q", m.ParameterID)
	}
	if !m.Stage.Valid() {
		return AnalysisMedia{}, domain.Invalid("create_media", "process stage %q is not valid", m.Stage)
	}
	tx.stamp(&m.Base)
	if _, exists := tx.state.media[m.ID]; exists {
		return AnalysisMedia{}, domain.Invalid("create_media", "media %q already exists", m.ID)
	}
	m.AnalysisID = param.AnalysisID
	m = applyMediaDefaults(m)
	tx.state.media[m.ID] = cloneMedia(m)
	tx.record(domain.EntityMedia, m.ID, domain.ActionCreate, nil, m)
	return cloneMedia(m), nil
}

// UpdateMedia mutates a media record.
func (tx *transaction) UpdateMedia(id string, mutator func(*AnalysisMedia) error) (AnalysisMedia, error) {
	current, ok := tx.state.media[id]
	if !ok {
		return AnalysisMedia{}, domain.NotFound("update_media", domain.EntityMedia, id)
	}
	before := cloneMedia(current)
	if err := mutator(&current); err != nil {
		return AnalysisMedia{}, err
	}
	current.ParameterID = before.ParameterID
	current.AnalysisID = before.AnalysisID
	current.CreatedAt = before.CreatedAt
	tx.touch(&current.Base, id)
	tx.state.media[id] = cloneMedia(current)
	tx.record(domain.EntityMedia, id, domain.ActionUpdate, before, current)
	return cloneMedia(current), nil
}

// DeleteMedia removes a media record.
func (tx *transaction) DeleteMedia(id string) error {
	current, ok := tx.state.media[id]
	if !ok {
		return domain.NotFound("delete_media", domain.EntityMedia, id)
	}
	delete(tx.state.media, id)
	tx.record(domain.EntityMedia, id, domain.ActionDelete, current, nil)
	return nil
}

// CreateExecutedQC stores a QC snapshot under an existing analysis.
func (tx *transaction) CreateExecutedQC(qc ExecutedQC) (ExecutedQC, error) {
	if _, ok := tx.state.analyses[qc.AnalysisID]; !ok {
		return ExecutedQC{}, domain.ReferentialGap("create_executed_qc", domain.EntityExecutedQC, qc.ID,
			"executed QC references missing analysis %q", qc.AnalysisID)
	}
	tx.stamp(&qc.Base)
	if _, exists := tx.state.qc[qc.ID]; exists {
		return ExecutedQC{}, domain.Invalid("create_executed_qc", "executed QC %q already exists", qc.ID)
	}
	if qc.Status == "" {
		qc.Status = domain.ControlPending
	}
	tx.state.qc[qc.ID] = qc
	tx.record(domain.EntityExecutedQC, qc.ID, domain.ActionCreate, nil, qc)
	return qc, nil
}

// UpdateExecutedQC mutates a QC snapshot.
func (tx *transaction) UpdateExecutedQC(id string, mutator func(*ExecutedQC) error) (ExecutedQC, error) {
	current, ok := tx.state.qc[id]
	if !ok {
		return ExecutedQC{}, domain.NotFound("update_executed_qc", domain.EntityExecutedQC, id)
	}
	before := current
	if err := mutator(&current); err != nil {
		return ExecutedQC{}, err
	}
	current.AnalysisID = before.AnalysisID
	current.CreatedAt = before.CreatedAt
	tx.touch(&current.Base, id)
	tx.state.qc[id] = current
	tx.record(domain.EntityExecutedQC, id, domain.ActionUpdate, before, current)
	return current, nil
}

// CreateUsageLog appends a ledger row. A second row with the same usage key
// is rejected as a retryable conflict.
func (tx *transaction) CreateUsageLog(l EquipmentUsageLog) (EquipmentUsageLog, error) {
	if err := validateUsageLog(l); err != nil {
		return EquipmentUsageLog{}, err
	}
	tx.stamp(&l.Base)
	if _, exists := tx.state.usageLogs[l.ID]; exists {
		return EquipmentUsageLog{}, domain.Invalid("create_usage_log", "usage log %q already exists", l.ID)
	}
	key := usageIndexKey(l.Key())
	if existing, dup := tx.state.usageKeys[key]; dup {
		return EquipmentUsageLog{}, domain.ConcurrencyConflict("create_usage_log", domain.EntityUsageLog, existing, domain.ErrDuplicateUsage,
			"equipment %s already has a %s log starting %s", l.EquipmentID, l.UsageType, l.Start.UTC().Format(time.RFC3339))
	}
	tx.state.usageLogs[l.ID] = cloneUsageLog(l)
	tx.state.usageKeys[key] = l.ID
	tx.record(domain.EntityUsageLog, l.ID, domain.ActionCreate, nil, l)
	return cloneUsageLog(l), nil
}

// UpdateUsageLog mutates a ledger row and keeps the key index in sync.
func (tx *transaction) UpdateUsageLog(id string, mutator func(*EquipmentUsageLog) error) (EquipmentUsageLog, error) {
	current, ok := tx.state.usageLogs[id]
	if !ok {
		return EquipmentUsageLog{}, domain.NotFound("update_usage_log", domain.EntityUsageLog, id)
	}
	before := cloneUsageLog(current)
	if err := mutator(&current); err != nil {
		return EquipmentUsageLog{}, err
	}
	if err := validateUsageLog(current); err != nil {
		return EquipmentUsageLog{}, err
	}
	oldKey, newKey := usageIndexKey(before.Key()), usageIndexKey(current.Key())
	if oldKey != newKey {
		if other, dup := tx.state.usageKeys[newKey]; dup && other != id {
			return EquipmentUsageLog{}, domain.ConcurrencyConflict("update_usage_log", domain.EntityUsageLog, id, domain.ErrDuplicateUsage,
				"usage key already taken by log %s", other)
		}
		delete(tx.state.usageKeys, oldKey)
		tx.state.usageKeys[newKey] = id
	}
	current.CreatedAt = before.CreatedAt
	tx.touch(&current.Base, id)
	tx.state.usageLogs[id] = cloneUsageLog(current)
	tx.record(domain.EntityUsageLog, id, domain.ActionUpdate, before, current)
	return cloneUsageLog(current), nil
}

// DeleteUsageLog removes a ledger row.
func (tx *transaction) DeleteUsageLog(id string) error {
	current, ok := tx.state.usageLogs[id]
	if !ok {
		return domain.NotFound("delete_usage_log", domain.EntityUsageLog, id)
	}
	delete(tx.state.usageKeys, usageIndexKey(current.Key()))
	delete(tx.state.usageLogs, id)
	tx.record(domain.EntityUsageLog, id, domain.ActionDelete, current, nil)
	return nil
}

func validateUsageLog(l EquipmentUsageLog) error {
	if strings.TrimSpace(l.EquipmentID) == "" {
		return domain.Invalid("usage_log", "equipment is required")
	}
	if l.Start.IsZero() {
		return domain.Invalid("usage_log", "usage start is required")
	}
	if !l.UsageType.Valid() {
		return domain.Invalid("usage_log", "usage type %q is not valid", l.UsageType)
	}
	if l.End != nil && l.End.Before(l.Start) {
		return domain.Invalid("usage_log", "usage end precedes its start")
	}
	return nil
}
