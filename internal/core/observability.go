package core

import (
	"context"
	"time"

	"labcore/pkg/domain"
)

// Logger is the structured logging surface the service writes to. Arguments
// after msg are alternating key/value pairs.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Clock supplies the current instant.
type Clock interface {
	Now() time.Time
}

// ClockFunc adapts a function to Clock.
type ClockFunc func() time.Time

// Now implements Clock.
func (f ClockFunc) Now() time.Time { return f() }

// AuditStatus is the outcome recorded on an audit entry.
type AuditStatus string

// Audit outcomes.
const (
	AuditStatusSuccess AuditStatus = "success"
	AuditStatusError   AuditStatus = "error"
)

// AuditEntry describes one mutating service call.
type AuditEntry struct {
	Operation string            `json:"operation"`
	Entity    domain.EntityType `json:"entity"`
	Action    domain.Action     `json:"action"`
	EntityID  string            `json:"entity_id,omitempty"`
	Actor     domain.Actor      `json:"actor"`
	Status    AuditStatus       `json:"status"`
	ErrorKind domain.ErrorKind  `json:"error_kind,omitempty"`
	Error     string            `json:"error,omitempty"`
	Details   map[string]any    `json:"details,omitempty"`
	Duration  time.Duration     `json:"duration"`
	Timestamp time.Time         `json:"timestamp"`
}

// AuditRecorder receives audit entries. Implementations must not block.
type AuditRecorder interface {
	Record(ctx context.Context, entry AuditEntry)
}

// MetricsRecorder observes service operation outcomes.
type MetricsRecorder interface {
	Observe(ctx context.Context, operation string, success bool, duration time.Duration)
}

// Tracer starts spans around service operations.
type Tracer interface {
	Start(ctx context.Context, operation string) (context.Context, TraceSpan)
}

// TraceSpan ends a span with the operation error, if any.
type TraceSpan interface {
	End(err error)
}

type noopTracer struct{}

func (noopTracer) Start(ctx context.Context, _ string) (context.Context, TraceSpan) {
	return ctx, noopSpan{}
}

type noopSpan struct{}

func (noopSpan) End(error) {}

type operationMeta struct {
	entity domain.EntityType
	action domain.Action
}

// Operation names used for audit, metrics and tracing.
const (
	OpCreateAnalysis         = "create_analysis"
	OpDeleteAnalysis         = "delete_analysis"
	OpAddParameter           = "add_parameter"
	OpUpdateParameter        = "update_parameter"
	OpDeleteParameter        = "delete_parameter"
	OpRecordQC               = "record_qc"
	OpSign                   = "sign_analysis"
	OpCancelSignature        = "cancel_signature"
	OpUndoCancellation       = "undo_cancellation"
	OpMarkAsReported         = "mark_as_reported"
	OpMarkAnalysesAsReported = "mark_analyses_as_reported"
	OpIssueReport            = "issue_report"
	OpCreateRevision         = "create_revision"
	OpAddMedia               = "add_media"
	OpCompleteIncubation     = "complete_incubation"
	OpStartUsage             = "start_usage"
	OpFinishUsage            = "finish_usage"
	OpBackfillHistory        = "backfill_history"
	OpCleanupOrphans         = "cleanup_orphans"
)

var auditOperations = map[string]operationMeta{
	OpCreateAnalysis:         {entity: domain.EntityAnalysis, action: domain.ActionCreate},
	OpDeleteAnalysis:         {entity: domain.EntityAnalysis, action: domain.ActionDelete},
	OpAddParameter:           {entity: domain.EntityParameter, action: domain.ActionCreate},
	OpUpdateParameter:        {entity: domain.EntityParameter, action: domain.ActionUpdate},
	OpDeleteParameter:        {entity: domain.EntityParameter, action: domain.ActionDelete},
	OpRecordQC:               {entity: domain.EntityExecutedQC, action: domain.ActionUpdate},
	OpSign:                   {entity: domain.EntityAnalysis, action: domain.ActionUpdate},
	OpCancelSignature:        {entity: domain.EntityAnalysis, action: domain.ActionUpdate},
	OpUndoCancellation:       {entity: domain.EntityAnalysis, action: domain.ActionUpdate},
	OpMarkAsReported:         {entity: domain.EntityParameter, action: domain.ActionUpdate},
	OpMarkAnalysesAsReported: {entity: domain.EntityParameter, action: domain.ActionUpdate},
	OpIssueReport:            {entity: domain.EntityReport, action: domain.ActionCreate},
	OpCreateRevision:         {entity: domain.EntityAnalysis, action: domain.ActionCreate},
	OpAddMedia:               {entity: domain.EntityMedia, action: domain.ActionCreate},
	OpCompleteIncubation:     {entity: domain.EntityMedia, action: domain.ActionUpdate},
	OpStartUsage:             {entity: domain.EntityUsageLog, action: domain.ActionCreate},
	OpFinishUsage:            {entity: domain.EntityUsageLog, action: domain.ActionUpdate},
	OpBackfillHistory:        {entity: domain.EntityUsageLog, action: domain.ActionCreate},
	OpCleanupOrphans:         {entity: domain.EntityAnalysis, action: domain.ActionDelete},
}

// operation carries per-call audit context. The transaction body fills in
// entityID and details as it learns them.
type operation struct {
	name     string
	actor    domain.Actor
	entityID string
	details  map[string]any
}

func newOperation(name string, actor domain.Actor) *operation {
	return &operation{name: name, actor: actor}
}

func (op *operation) detail(key string, value any) {
	if op.details == nil {
		op.details = make(map[string]any)
	}
	op.details[key] = value
}

func (op *operation) reset() {
	op.entityID = ""
	op.details = nil
}

func (s *Service) recordAudit(ctx context.Context, op *operation, duration time.Duration, err error) {
	meta, ok := auditOperations[op.name]
	if !ok || s.audit == nil {
		return
	}
	entry := AuditEntry{
		Operation: op.name,
		Entity:    meta.entity,
		Action:    meta.action,
		EntityID:  op.entityID,
		Actor:     op.actor,
		Status:    AuditStatusSuccess,
		Details:   op.details,
		Duration:  duration,
		Timestamp: s.now(),
	}
	if err != nil {
		entry.Status = AuditStatusError
		entry.ErrorKind = domain.KindOf(err)
		entry.Error = err.Error()
	}
	s.audit.Record(ctx, entry)
}
