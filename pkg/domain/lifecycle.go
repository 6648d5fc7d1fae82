package domain

import (
	"strings"
	"time"
)

const minSignerLength = 3

// DeriveReportStatus applies the report-eligibility rule to a parameter.
// Reported is sticky and is never produced or reverted here.
func DeriveReportStatus(p ParameterAnalysis) ReportStatus {
	if p.ReportStatus == ReportReported {
		return ReportReported
	}
	if p.Progress == ProgressFinalized && p.HasResult() {
		return ReportReady
	}
	return ReportDraft
}

// ComputeReadiness aggregates report eligibility over an owned parameter set.
// Reported parameters count toward neither ready nor the all-ready flag
// beyond being part of the total.
func ComputeReadiness(params []ParameterAnalysis) Readiness {
	r := Readiness{TotalCount: len(params)}
	for _, p := range params {
		if p.ReportStatus == ReportReady {
			r.ReadyCount++
		}
	}
	r.HasReady = r.ReadyCount > 0
	r.AllReady = r.TotalCount > 0 && r.ReadyCount == r.TotalCount
	return r
}

// signatureEdges lists the legal signature transitions.
var signatureEdges = map[SignatureState][]SignatureState{
	SignatureNotSigned: {SignatureSigned},
	SignatureSigned:    {SignatureCancelled},
	SignatureCancelled: {SignatureNotSigned},
}

// CanTransitionSignature reports whether from → to is a legal edge. Staying
// in the same state is always allowed.
func CanTransitionSignature(from, to SignatureState) bool {
	if from == to {
		return true
	}
	for _, next := range signatureEdges[from] {
		if next == to {
			return true
		}
	}
	return false
}

// ValidateSigner checks the identity recorded on a signature.
func ValidateSigner(actor Actor) error {
	if len([]rune(strings.TrimSpace(actor.Name))) < minSignerLength {
		return Invalid("sign", "signer name must have at least %d characters", minSignerLength)
	}
	if len([]rune(strings.TrimSpace(actor.Position))) < minSignerLength {
		return Invalid("sign", "signer position must have at least %d characters", minSignerLength)
	}
	return nil
}

// Sign moves the analysis to signed when at least one parameter is
// finalized. promote holds the finalized parameters with a result, which
// become ready; unresulted holds finalized parameters left in draft because
// ready requires a result value.
func Sign(a *Analysis, params []ParameterAnalysis, actor Actor, at time.Time) (promote, unresulted []string, err error) {
	if a.SignatureState != SignatureNotSigned {
		return nil, nil, InvalidTransition("sign", EntityAnalysis, a.ID, ErrAlreadySigned,
			"analysis is %s; only not_signed analyses can be signed", a.SignatureState)
	}
	finalized := 0
	for _, p := range params {
		if p.Progress != ProgressFinalized {
			continue
		}
		finalized++
		if p.ReportStatus != ReportReported && !p.HasResult() {
			unresulted = append(unresulted, p.ID)
			continue
		}
		promote = append(promote, p.ID)
	}
	if finalized == 0 {
		return nil, nil, PreconditionUnmet("sign", EntityAnalysis, a.ID, ErrNoFinalizedParameters, "no finalized parameters to sign")
	}
	signedAt := at
	a.SignatureState = SignatureSigned
	a.Signature = Signature{SignedBy: actor.Label(), Position: strings.TrimSpace(actor.Position), SignedAt: &signedAt}
	a.Cancellation = Cancellation{}
	return promote, unresulted, nil
}

// CancelSignature moves a signed analysis to cancelled and records who did it.
func CancelSignature(a *Analysis, actor Actor, reason string, at time.Time) error {
	if a.SignatureState != SignatureSigned {
		return InvalidTransition("cancel_signature", EntityAnalysis, a.ID, ErrNotSigned,
			"analysis is %s; only signed analyses can be cancelled", a.SignatureState)
	}
	cancelledAt := at
	a.SignatureState = SignatureCancelled
	a.Cancellation = Cancellation{CancelledBy: actor.Label(), CancelledAt: &cancelledAt, Reason: strings.TrimSpace(reason)}
	return nil
}

// UndoCancellation returns a cancelled analysis to not_signed. Cancellation
// and signer metadata are erased; the erased values are returned so callers
// can record them elsewhere.
func UndoCancellation(a *Analysis) (Cancellation, Signature, error) {
	if a.SignatureState != SignatureCancelled {
		return Cancellation{}, Signature{}, InvalidTransition("undo_cancellation", EntityAnalysis, a.ID, ErrNotCancelled,
			"analysis is %s; only cancelled analyses can be reopened", a.SignatureState)
	}
	erased, signer := a.Cancellation, a.Signature
	a.SignatureState = SignatureNotSigned
	a.Cancellation = Cancellation{}
	a.Signature = Signature{}
	return erased, signer, nil
}

// CheckDeletable fails unless the analysis is unsigned work that never
// reached a report and never seeded a revision. Signed, cancelled, revised
// and revision analyses are kept for audit.
func CheckDeletable(a Analysis, params []ParameterAnalysis, revisions []Analysis) error {
	if a.SignatureState != SignatureNotSigned {
		return InvalidTransition("delete_analysis", EntityAnalysis, a.ID, ErrAnalysisRetained,
			"analysis is %s; only not_signed analyses can be deleted", a.SignatureState)
	}
	if a.IsRevision {
		return InvalidTransition("delete_analysis", EntityAnalysis, a.ID, ErrAnalysisRetained,
			"analysis is revision %d of %s", a.RevisionNumber, a.OriginalAnalysisID)
	}
	if len(revisions) > 0 {
		return InvalidTransition("delete_analysis", EntityAnalysis, a.ID, ErrAnalysisRetained,
			"analysis has %d revision(s)", len(revisions))
	}
	for _, p := range params {
		if p.ReportStatus == ReportReported {
			return InvalidTransition("delete_analysis", EntityAnalysis, a.ID, ErrAnalysisRetained,
				"parameter %q was already delivered in a report", p.Name)
		}
	}
	return nil
}

// PromoteReady marks a finalized parameter ready during signing.
func PromoteReady(p *ParameterAnalysis) {
	if p.ReportStatus == ReportReported {
		return
	}
	p.ReportStatus = ReportReady
}

// RevertReady sends a ready parameter back to draft. Reported and draft
// parameters are untouched; the return value reports whether p changed.
func RevertReady(p *ParameterAnalysis) bool {
	if p.ReportStatus != ReportReady {
		return false
	}
	p.ReportStatus = ReportDraft
	return true
}

// MarkReported freezes a ready parameter. Already reported parameters are
// skipped and report false with no error.
func MarkReported(p *ParameterAnalysis, actor Actor, at time.Time) (bool, error) {
	switch p.ReportStatus {
	case ReportReported:
		return false, nil
	case ReportReady:
		reportedAt := at
		p.ReportStatus = ReportReported
		p.ReportedBy = actor.Label()
		p.ReportedAt = &reportedAt
		return true, nil
	default:
		return false, nil
	}
}

// CloneForRevision deep-copies a parameter into a new generation. The copy
// keeps progress and result data and always starts as draft.
func CloneForRevision(src ParameterAnalysis, analysisID string) ParameterAnalysis {
	out := src
	out.Base = Base{}
	out.AnalysisID = analysisID
	out.ReportStatus = ReportDraft
	out.ReportedBy = ""
	out.ReportedAt = nil
	if len(src.EquipmentUsed) > 0 {
		out.EquipmentUsed = append([]EquipmentUse(nil), src.EquipmentUsed...)
	}
	return out
}

// NewRevision builds the next generation of a cancelled source analysis.
func NewRevision(source Analysis, actor Actor, reason string, at time.Time) Analysis {
	requestedAt := at
	return Analysis{
		SampleID:           source.SampleID,
		SampleCode:         source.SampleCode,
		SignatureState:     SignatureNotSigned,
		RevisionNumber:     source.RevisionNumber + 1,
		IsRevision:         true,
		OriginalAnalysisID: source.ID,
		Revision:           RevisionRequest{Reason: strings.TrimSpace(reason), RequestedBy: actor.Label(), RequestedAt: &requestedAt},
		StartedOn:          source.StartedOn,
		CreatedBy:          actor.Label(),
	}
}
