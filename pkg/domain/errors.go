package domain

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorKind classifies domain failures for callers and transport layers.
type ErrorKind string

// Error kinds.
const (
	// KindInvalidTransition means the entity is not in a state that permits the operation.
	KindInvalidTransition ErrorKind = "invalid_transition"
	// KindPreconditionUnmet means the state is right but a data precondition fails.
	KindPreconditionUnmet ErrorKind = "precondition_unmet"
	// KindReferentialGap means a child references a parent that no longer exists.
	KindReferentialGap ErrorKind = "referential_gap"
	// KindConcurrencyConflict means the data changed underneath the operation. Retryable.
	KindConcurrencyConflict ErrorKind = "concurrency_conflict"
	// KindNotFound means the addressed record does not exist.
	KindNotFound ErrorKind = "not_found"
	// KindValidation means boundary input is malformed.
	KindValidation ErrorKind = "validation"
)

// Sentinel errors matched with errors.Is.
var (
	ErrNotSigned             = errors.New("analysis is not signed")
	ErrNotCancelled          = errors.New("analysis is not cancelled")
	ErrAlreadySigned         = errors.New("analysis is already signed")
	ErrNoFinalizedParameters = errors.New("no finalized parameters to sign")
	ErrNoReadyParameters     = errors.New("no ready parameters to report")
	ErrReportedLocked        = errors.New("parameter is already reported")
	ErrAnalysisRetained      = errors.New("analysis is retained for audit")
	ErrVersionMismatch       = errors.New("record was modified concurrently")
	ErrOrphanedAnalysis      = errors.New("analysis references a missing sample")
	ErrDuplicateUsage        = errors.New("equipment usage already recorded")
	ErrNotFound              = errors.New("record not found")
	ErrInvalidValue          = errors.New("invalid value")
)

// Error is the typed failure returned by domain and service operations. Reason
// is a human-readable explanation sourced from the rule that failed.
type Error struct {
	Kind   ErrorKind
	Op     string
	Entity EntityType
	ID     string
	Reason string
	Err    error
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	if e.Entity != "" {
		b.WriteString(string(e.Entity))
		if e.ID != "" {
			b.WriteString(" ")
			b.WriteString(e.ID)
		}
		b.WriteString(": ")
	}
	switch {
	case e.Reason != "":
		b.WriteString(e.Reason)
	case e.Err != nil:
		b.WriteString(e.Err.Error())
	default:
		b.WriteString(string(e.Kind))
	}
	return b.String()
}

// Unwrap exposes the sentinel for errors.Is.
func (e *Error) Unwrap() error { return e.Err }

// Retryable reports whether re-running the operation may succeed.
func (e *Error) Retryable() bool { return e.Kind == KindConcurrencyConflict }

// InvalidTransition builds a KindInvalidTransition error.
func InvalidTransition(op string, entity EntityType, id string, sentinel error, format string, args ...any) *Error {
	return &Error{Kind: KindInvalidTransition, Op: op, Entity: entity, ID: id, Err: sentinel, Reason: fmt.Sprintf(format, args...)}
}

// PreconditionUnmet builds a KindPreconditionUnmet error.
func PreconditionUnmet(op string, entity EntityType, id string, sentinel error, format string, args ...any) *Error {
	return &Error{Kind: KindPreconditionUnmet, Op: op, Entity: entity, ID: id, Err: sentinel, Reason: fmt.Sprintf(format, args...)}
}

// ReferentialGap builds a KindReferentialGap error.
func ReferentialGap(op string, entity EntityType, id string, format string, args ...any) *Error {
	return &Error{Kind: KindReferentialGap, Op: op, Entity: entity, ID: id, Err: ErrOrphanedAnalysis, Reason: fmt.Sprintf(format, args...)}
}

// ConcurrencyConflict builds a retryable KindConcurrencyConflict error.
func ConcurrencyConflict(op string, entity EntityType, id string, sentinel error, format string, args ...any) *Error {
	if sentinel == nil {
		sentinel = ErrVersionMismatch
	}
	return &Error{Kind: KindConcurrencyConflict, Op: op, Entity: entity, ID: id, Err: sentinel, Reason: fmt.Sprintf(format, args...)}
}

// NotFound builds a KindNotFound error.
func NotFound(op string, entity EntityType, id string) *Error {
	return &Error{Kind: KindNotFound, Op: op, Entity: entity, ID: id, Err: ErrNotFound, Reason: fmt.Sprintf("%s %s not found", entity, id)}
}

// Invalid builds a KindValidation error.
func Invalid(op string, format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Op: op, Err: ErrInvalidValue, Reason: fmt.Sprintf(format, args...)}
}

// KindOf returns the kind carried by err. Blocking rule violations report the
// kind declared on their first blocking violation.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var domainErr *Error
	if errors.As(err, &domainErr) {
		return domainErr.Kind
	}
	var ruleErr RuleViolationError
	if errors.As(err, &ruleErr) {
		for _, v := range ruleErr.Result.Violations {
			if v.Severity != SeverityBlock {
				continue
			}
			if v.Kind != "" {
				return v.Kind
			}
			return KindPreconditionUnmet
		}
	}
	return ""
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind ErrorKind) bool {
	return err != nil && KindOf(err) == kind
}

// IsRetryable reports whether err is a transient conflict worth retrying.
func IsRetryable(err error) bool {
	return IsKind(err, KindConcurrencyConflict)
}

// IsUserFacing reports whether err carries a reason safe to show to users.
func IsUserFacing(err error) bool {
	return KindOf(err) != ""
}

// ReasonOf returns the human-readable reason of a domain failure, falling
// back to the error text.
func ReasonOf(err error) string {
	if err == nil {
		return ""
	}
	var domainErr *Error
	if errors.As(err, &domainErr) && domainErr.Reason != "" {
		return domainErr.Reason
	}
	var ruleErr RuleViolationError
	if errors.As(err, &ruleErr) {
		for _, v := range ruleErr.Result.Violations {
			if v.Severity == SeverityBlock {
				return v.Message
			}
		}
	}
	return err.Error()
}
