package core

import (
	"time"
)

// ServiceOption configures optional collaborators on the Service.
type ServiceOption func(*Service)

// WithClock overrides the clock used for business timestamps.
func WithClock(clock Clock) ServiceOption {
	return func(s *Service) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// WithLocation sets the lab timezone used for civil date and time input.
func WithLocation(loc *time.Location) ServiceOption {
	return func(s *Service) {
		if loc != nil {
			s.location = loc
		}
	}
}

// WithLogger attaches a structured logger.
func WithLogger(logger Logger) ServiceOption {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithAuditRecorder attaches an audit sink.
func WithAuditRecorder(recorder AuditRecorder) ServiceOption {
	return func(s *Service) {
		s.audit = recorder
	}
}

// WithMetricsRecorder attaches an operation metrics sink.
func WithMetricsRecorder(recorder MetricsRecorder) ServiceOption {
	return func(s *Service) {
		s.metrics = recorder
	}
}

// WithTracer attaches a tracer.
func WithTracer(tracer Tracer) ServiceOption {
	return func(s *Service) {
		if tracer != nil {
			s.tracer = tracer
		}
	}
}

// WithSampleIntake sets the collaborator supplying sample sheets.
func WithSampleIntake(intake SampleIntake) ServiceOption {
	return func(s *Service) {
		s.intake = intake
	}
}

// WithReportArchive sets where issued report manifests are written.
func WithReportArchive(archive ReportArchive) ServiceOption {
	return func(s *Service) {
		s.archive = archive
	}
}

// WithMaxRetries bounds how often a retryable failure is retried.
func WithMaxRetries(n int) ServiceOption {
	return func(s *Service) {
		if n >= 0 {
			s.maxRetries = n
		}
	}
}
