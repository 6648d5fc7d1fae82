// Package domain defines the persistent LIMS entities, their closed value
// sets, the pure lifecycle transitions and the rule evaluation primitives
// shared by the service and the persistence adapters.
package domain

import (
	"math"
	"strings"
	"time"

	"labcore/pkg/timewindow"
)

// EntityType identifies the type of record stored in the domain.
type EntityType string

// Entity type identifiers used in Change records and persistence buckets.
const (
	// EntityAnalysis identifies the per-sample analysis container.
	EntityAnalysis EntityType = "analysis"
	// EntityParameter identifies a parameter analysis owned by an analysis.
	EntityParameter EntityType = "parameter_analysis"
	// EntityMedia identifies an incubation-bearing media record owned by a parameter.
	EntityMedia EntityType = "analysis_media"
	// EntityExecutedQC identifies a quality-control snapshot owned by an analysis.
	EntityExecutedQC EntityType = "executed_qc"
	// EntityUsageLog identifies an equipment usage ledger entry.
	EntityUsageLog EntityType = "equipment_usage_log"
	// EntityReport identifies an archived report manifest. It is never stored
	// in persistence buckets.
	EntityReport EntityType = "report"
)

// Base contains common fields for all domain records.
type Base struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	// Version increments on every committed update.
	Version int64 `json:"version"`
}

// Actor is the verified identity attached to every mutating call.
type Actor struct {
	ID       string `json:"id,omitempty"`
	Name     string `json:"name"`
	Position string `json:"position,omitempty"`
	Verified bool   `json:"verified"`
}

// Label returns the display name recorded in audit fields.
func (a Actor) Label() string {
	return strings.TrimSpace(a.Name)
}

// SystemActor returns the actor used by scheduled maintenance jobs.
func SystemActor(name string) Actor {
	return Actor{ID: "system", Name: name, Verified: true}
}

// Signature records who signed an analysis and when.
type Signature struct {
	SignedBy string     `json:"signed_by,omitempty"`
	Position string     `json:"position,omitempty"`
	SignedAt *time.Time `json:"signed_at,omitempty"`
}

// Cancellation records who cancelled a signature, when and why.
type Cancellation struct {
	CancelledBy string     `json:"cancelled_by,omitempty"`
	CancelledAt *time.Time `json:"cancelled_at,omitempty"`
	Reason      string     `json:"reason,omitempty"`
}

// RevisionRequest records why a revision generation was opened.
type RevisionRequest struct {
	Reason      string     `json:"reason,omitempty"`
	RequestedBy string     `json:"requested_by,omitempty"`
	RequestedAt *time.Time `json:"requested_at,omitempty"`
}

// Readiness is the report-eligibility aggregate over an analysis' parameters.
type Readiness struct {
	ReadyCount int  `json:"ready_count"`
	TotalCount int  `json:"total_count"`
	HasReady   bool `json:"has_ready"`
	AllReady   bool `json:"all_ready"`
}

// Analysis is one received sample's battery of parameter analyses.
type Analysis struct {
	Base
	SampleID           string          `json:"sample_id"`
	SampleCode         string          `json:"sample_code,omitempty"`
	SignatureState     SignatureState  `json:"signature_state"`
	Signature          Signature       `json:"signature"`
	Cancellation       Cancellation    `json:"cancellation"`
	RevisionNumber     int             `json:"revision_number"`
	IsRevision         bool            `json:"is_revision"`
	OriginalAnalysisID string          `json:"original_analysis_id,omitempty"`
	Revision           RevisionRequest `json:"revision"`
	StartedOn          *time.Time      `json:"started_on,omitempty"`
	EndedOn            *time.Time      `json:"ended_on,omitempty"`
	Readiness          Readiness       `json:"readiness"`
	CreatedBy          string          `json:"created_by,omitempty"`
}

// EquipmentUse is an equipment reference recorded on a parameter by the
// analyst, later folded into the usage ledger by the historical backfill.
type EquipmentUse struct {
	EquipmentID string    `json:"equipment_id"`
	UsedOn      time.Time `json:"used_on"`
	// UsedAt is an optional "HH:MM" civil time; noon is assumed when empty.
	UsedAt string `json:"used_at,omitempty"`
}

// ParameterAnalysis is one testable characteristic of one sample.
type ParameterAnalysis struct {
	Base
	AnalysisID    string            `json:"analysis_id"`
	Sequence      int               `json:"sequence"`
	Name          string            `json:"name"`
	Method        string            `json:"method,omitempty"`
	Unit          string            `json:"unit,omitempty"`
	Microorganism string            `json:"microorganism,omitempty"`
	Category      ParameterCategory `json:"category"`
	ResultKind    ResultKind        `json:"result_kind"`
	ResultValue   string            `json:"result_value"`
	Progress      AnalysisProgress  `json:"analysis_progress"`
	ReportStatus  ReportStatus      `json:"report_status"`
	Analyst       string            `json:"analyst,omitempty"`
	ReportedBy    string            `json:"reported_by,omitempty"`
	ReportedAt    *time.Time        `json:"reported_at,omitempty"`
	EquipmentUsed []EquipmentUse    `json:"equipment_used,omitempty"`
}

// HasResult reports whether the result value is non-empty after trimming.
func (p ParameterAnalysis) HasResult() bool {
	return strings.TrimSpace(p.ResultValue) != ""
}

// ExecutedQC is a one-time snapshot of an expected quality-control check.
type ExecutedQC struct {
	Base
	AnalysisID     string        `json:"analysis_id"`
	Sequence       int           `json:"sequence"`
	QCType         string        `json:"qc_type"`
	ExpectedResult string        `json:"expected_result,omitempty"`
	Status         ControlStatus `json:"control_status"`
	Notes          string        `json:"notes,omitempty"`
}

// AnalysisMedia is a culture-media step of a parameter, optionally incubated.
type AnalysisMedia struct {
	Base
	ParameterID        string       `json:"parameter_id"`
	AnalysisID         string       `json:"analysis_id"`
	Stage              ProcessStage `json:"process_stage"`
	Usage              MediaUsage   `json:"media_usage"`
	Source             MediaSource  `json:"media_source"`
	MediaName          string       `json:"media_name,omitempty"`
	BatchCode          string       `json:"batch_code,omitempty"`
	ExternalCode       string       `json:"external_code,omitempty"`
	RequiresIncubation bool         `json:"requires_incubation"`
	EquipmentID        string       `json:"equipment_id,omitempty"`
	Start              *time.Time   `json:"start,omitempty"`
	PlannedEnd         *time.Time   `json:"planned_end,omitempty"`
	RealEnd            *time.Time   `json:"real_end,omitempty"`
}

// Window exposes the incubation instants to the time-window engine.
func (m AnalysisMedia) Window() timewindow.Window {
	return timewindow.Window{Start: m.Start, PlannedEnd: m.PlannedEnd, RealEnd: m.RealEnd}
}

// IncubationStatus derives the incubation state at now. Media that does not
// require incubation is never started.
func (m AnalysisMedia) IncubationStatus(now time.Time) timewindow.Status {
	if !m.RequiresIncubation {
		return timewindow.StatusNotStarted
	}
	return m.Window().Status(now)
}

// UsageKey identifies a ledger row for idempotent upserts.
type UsageKey struct {
	EquipmentID string    `json:"equipment_id"`
	ParameterID string    `json:"parameter_id"`
	UsageType   UsageType `json:"usage_type"`
	Start       time.Time `json:"start"`
}

// Normalize makes keys comparable regardless of the instant's location.
func (k UsageKey) Normalize() UsageKey {
	k.Start = k.Start.UTC().Truncate(time.Second)
	return k
}

// EquipmentUsageLog is one reservation or usage of a shared equipment item.
type EquipmentUsageLog struct {
	Base
	EquipmentID    string     `json:"equipment_id"`
	UsageType      UsageType  `json:"usage_type"`
	ProcessContext string     `json:"process_context,omitempty"`
	AnalysisID     string     `json:"analysis_id,omitempty"`
	ParameterID    string     `json:"parameter_id,omitempty"`
	MediaID        string     `json:"media_id,omitempty"`
	Start          time.Time  `json:"start"`
	PlannedEnd     *time.Time `json:"planned_end,omitempty"`
	End            *time.Time `json:"end,omitempty"`
	UsedBy         string     `json:"used_by,omitempty"`
	Notes          string     `json:"notes,omitempty"`
	Historical     bool       `json:"is_historical"`
}

// Key returns the normalized uniqueness key of the log.
func (l EquipmentUsageLog) Key() UsageKey {
	return UsageKey{EquipmentID: l.EquipmentID, ParameterID: l.ParameterID, UsageType: l.UsageType, Start: l.Start}.Normalize()
}

// IsActive reports whether the equipment is still in use under this log.
func (l EquipmentUsageLog) IsActive() bool {
	return !l.Start.IsZero() && l.End == nil
}

// Window exposes the usage instants to the time-window engine.
func (l EquipmentUsageLog) Window() timewindow.Window {
	var start *time.Time
	if !l.Start.IsZero() {
		s := l.Start
		start = &s
	}
	return timewindow.Window{Start: start, PlannedEnd: l.PlannedEnd, RealEnd: l.End}
}

// Status derives the usage status at now.
func (l EquipmentUsageLog) Status(now time.Time) timewindow.Status {
	return l.Window().Status(now)
}

// DurationHours returns the closed usage duration rounded to two decimals.
// Open logs report zero.
func (l EquipmentUsageLog) DurationHours() float64 {
	if l.End == nil || l.Start.IsZero() {
		return 0
	}
	hours := l.End.Sub(l.Start).Hours()
	if hours < 0 {
		return 0
	}
	return math.Round(hours*100) / 100
}
