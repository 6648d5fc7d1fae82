// Package core implements the laboratory workflow service: analyses and their
// parameters, the signature and revision lifecycle, report eligibility and
// the equipment usage ledger, all executed through a transactional store.
package core

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"

	"labcore/internal/infra/persistence/memory"
	"labcore/pkg/domain"
	"labcore/pkg/timewindow"
)

const defaultMaxRetries = 2

// Service exposes the transactional workflow operations.
type Service struct {
	store      domain.PersistentStore
	clock      Clock
	location   *time.Location
	logger     Logger
	audit      AuditRecorder
	metrics    MetricsRecorder
	tracer     Tracer
	intake     SampleIntake
	archive    ReportArchive
	maxRetries int
}

// NewService constructs a service backed by the supplied store.
func NewService(store domain.PersistentStore, opts ...ServiceOption) *Service {
	s := &Service{
		store:      store,
		clock:      ClockFunc(func() time.Time { return time.Now().UTC() }),
		location:   time.UTC,
		logger:     noopLogger{},
		tracer:     noopTracer{},
		maxRetries: defaultMaxRetries,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NewInMemoryService creates a service over a fresh in-memory store whose
// record stamps follow the service clock.
func NewInMemoryService(engine *domain.RulesEngine, opts ...ServiceOption) *Service {
	s := NewService(nil, opts...)
	if engine == nil {
		engine = NewDefaultRulesEngine(s.clock.Now)
	}
	s.store = memory.NewStore(engine, memory.WithNow(s.clock.Now))
	return s
}

// Store returns the underlying storage implementation.
func (s *Service) Store() domain.PersistentStore {
	return s.store
}

// LabClock returns the clock bound to the lab timezone.
func (s *Service) LabClock() timewindow.Clock {
	return timewindow.NewClock(s.location).WithNow(s.clock.Now)
}

func (s *Service) now() time.Time {
	return s.clock.Now()
}

func requireActor(op string, actor domain.Actor) error {
	if actor.Label() == "" {
		return domain.Invalid(op, "an acting user is required")
	}
	if !actor.Verified {
		return domain.Invalid(op, "actor %s is not verified", actor.Label())
	}
	return nil
}

// run executes fn in one store transaction with tracing, metrics, logging and
// audit around it. Retryable failures re-run fn up to maxRetries times, so fn
// must reset anything it accumulates outside the transaction.
func (s *Service) run(ctx context.Context, op *operation, fn func(tx domain.Transaction) error) (domain.Result, error) {
	ctx, span := s.tracer.Start(ctx, op.name)
	started := time.Now()

	var (
		res domain.Result
		err error
	)
	if err = requireActor(op.name, op.actor); err == nil {
		for attempt := 0; ; attempt++ {
			op.reset()
			res, err = s.store.RunInTransaction(ctx, fn)
			if err == nil || !domain.IsRetryable(err) || attempt >= s.maxRetries || ctx.Err() != nil {
				break
			}
			s.logger.Warn("retrying operation", "operation", op.name, "attempt", attempt+1, "error", err)
		}
	}
	duration := time.Since(started)

	span.End(err)
	if s.metrics != nil {
		s.metrics.Observe(ctx, op.name, err == nil, duration)
	}
	s.recordAudit(ctx, op, duration, err)

	if err != nil {
		if domain.IsUserFacing(err) {
			s.logger.Info("operation rejected", "operation", op.name, "actor", op.actor.Label(), "kind", domain.KindOf(err), "reason", domain.ReasonOf(err))
		} else {
			s.logger.Error("operation failed", "operation", op.name, "actor", op.actor.Label(), "error", err)
		}
		return res, err
	}
	for _, warning := range res.Warnings() {
		s.logger.Warn("rule warning", "operation", op.name, "rule", warning.Rule, "entity", warning.Entity, "id", warning.EntityID, "message", warning.Message)
	}
	s.logger.Debug("operation committed", "operation", op.name, "entity_id", op.entityID, "duration", duration)
	return res, nil
}

// view runs fn against a read-only snapshot.
func (s *Service) view(ctx context.Context, fn func(domain.TransactionView) error) error {
	return s.store.View(ctx, fn)
}

func findAnalysis(op string, view domain.RuleView, id string) (domain.Analysis, error) {
	a, ok := view.FindAnalysis(id)
	if !ok {
		return domain.Analysis{}, domain.NotFound(op, domain.EntityAnalysis, id)
	}
	return a, nil
}

func findParameter(op string, view domain.RuleView, id string) (domain.ParameterAnalysis, error) {
	p, ok := view.FindParameter(id)
	if !ok {
		return domain.ParameterAnalysis{}, domain.NotFound(op, domain.EntityParameter, id)
	}
	return p, nil
}

// recomputeReadiness rewrites an analysis' stored aggregate from its owned
// parameter set as it stands inside tx.
func recomputeReadiness(tx domain.Transaction, analysisID string) (domain.Analysis, error) {
	readiness := domain.ComputeReadiness(tx.ParametersOf(analysisID))
	current, ok := tx.FindAnalysis(analysisID)
	if !ok {
		return domain.Analysis{}, domain.ReferentialGap("recompute_readiness", domain.EntityAnalysis, analysisID, "analysis no longer exists")
	}
	if current.Readiness == readiness {
		return current, nil
	}
	return tx.UpdateAnalysis(analysisID, func(a *domain.Analysis) error {
		a.Readiness = readiness
		return nil
	})
}

func checkVersion(op string, entity domain.EntityType, id string, expected, actual int64) error {
	if expected != 0 && expected != actual {
		return domain.ConcurrencyConflict(op, entity, id, domain.ErrVersionMismatch,
			"expected version %d, found %d", expected, actual)
	}
	return nil
}

func trimmedLen(value string) int {
	return utf8.RuneCountInString(strings.TrimSpace(value))
}
