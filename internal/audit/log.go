package audit

import (
	"context"

	"go.uber.org/zap"

	"labcore/internal/core"
)

// LogRecorder writes each audit entry as one structured log line.
type LogRecorder struct {
	logger *zap.Logger
}

// NewLogRecorder logs under the "audit" component of base.
func NewLogRecorder(base *zap.Logger) *LogRecorder {
	if base == nil {
		base = zap.NewNop()
	}
	return &LogRecorder{logger: base.Named("audit")}
}

// Record implements core.AuditRecorder.
func (r *LogRecorder) Record(_ context.Context, entry core.AuditEntry) {
	fields := []zap.Field{
		zap.String("operation", entry.Operation),
		zap.String("entity", string(entry.Entity)),
		zap.String("action", string(entry.Action)),
		zap.String("entity_id", entry.EntityID),
		zap.String("actor", entry.Actor.Label()),
		zap.String("status", string(entry.Status)),
		zap.Duration("duration", entry.Duration),
		zap.Time("timestamp", entry.Timestamp),
	}
	if len(entry.Details) > 0 {
		fields = append(fields, zap.Any("details", entry.Details))
	}
	if entry.Status == core.AuditStatusError {
		fields = append(fields, zap.String("error_kind", string(entry.ErrorKind)), zap.String("error", entry.Error))
	}
	r.logger.Info("audit", fields...)
}

// Fanout forwards each entry to every recorder in order.
type Fanout []core.AuditRecorder

// Record implements core.AuditRecorder.
func (f Fanout) Record(ctx context.Context, entry core.AuditEntry) {
	for _, r := range f {
		if r != nil {
			r.Record(ctx, entry)
		}
	}
}
