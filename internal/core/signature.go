package core

import (
	"context"
	"strings"
	"time"

	"labcore/pkg/domain"
)

// Sign moves a not_signed analysis to signed and promotes its finalized
// parameters that carry a result to ready in the same transaction. The signer identity is the
// acting user.
func (s *Service) Sign(ctx context.Context, actor domain.Actor, analysisID string) (domain.Analysis, domain.Result, error) {
	op := newOperation(OpSign, actor)
	var signed domain.Analysis
	res, err := s.run(ctx, op, func(tx domain.Transaction) error {
		op.entityID = analysisID
		if err := domain.ValidateSigner(actor); err != nil {
			return err
		}
		current, err := findAnalysis(OpSign, tx, analysisID)
		if err != nil {
			return err
		}
		promote, unresulted, err := domain.Sign(&current, tx.ParametersOf(analysisID), actor, s.now())
		if err != nil {
			return err
		}
		for _, id := range promote {
			if _, err := tx.UpdateParameter(id, func(p *domain.ParameterAnalysis) error {
				domain.PromoteReady(p)
				return nil
			}); err != nil {
				return err
			}
		}
		if _, err := tx.UpdateAnalysis(analysisID, func(a *domain.Analysis) error {
			a.SignatureState = current.SignatureState
			a.Signature = current.Signature
			a.Cancellation = current.Cancellation
			return nil
		}); err != nil {
			return err
		}
		op.detail("promoted", len(promote))
		if len(unresulted) > 0 {
			op.detail("finalized_without_result", unresulted)
		}
		signed, err = recomputeReadiness(tx, analysisID)
		return err
	})
	return signed, res, err
}

// CancelSignature moves a signed analysis to cancelled and sends its ready
// parameters back to draft. Reported parameters are left as they are.
func (s *Service) CancelSignature(ctx context.Context, actor domain.Actor, analysisID, reason string) (domain.Analysis, domain.Result, error) {
	op := newOperation(OpCancelSignature, actor)
	var cancelled domain.Analysis
	res, err := s.run(ctx, op, func(tx domain.Transaction) error {
		op.entityID = analysisID
		current, err := findAnalysis(OpCancelSignature, tx, analysisID)
		if err != nil {
			return err
		}
		if err := cancelAnalysis(tx, &current, actor, reason, s.now()); err != nil {
			return err
		}
		op.detail("reason", strings.TrimSpace(reason))
		cancelled, err = recomputeReadiness(tx, analysisID)
		return err
	})
	return cancelled, res, err
}

// cancelAnalysis applies the signed → cancelled edge to a and reverts its
// ready parameters inside tx. It is shared by revision creation.
func cancelAnalysis(tx domain.Transaction, a *domain.Analysis, actor domain.Actor, reason string, at time.Time) error {
	if err := domain.CancelSignature(a, actor, reason, at); err != nil {
		return err
	}
	for _, p := range tx.ParametersOf(a.ID) {
		if p.ReportStatus != domain.ReportReady {
			continue
		}
		if _, err := tx.UpdateParameter(p.ID, func(p *domain.ParameterAnalysis) error {
			domain.RevertReady(p)
			return nil
		}); err != nil {
			return err
		}
	}
	_, err := tx.UpdateAnalysis(a.ID, func(stored *domain.Analysis) error {
		stored.SignatureState = a.SignatureState
		stored.Cancellation = a.Cancellation
		return nil
	})
	return err
}

// UndoCancellation reopens a cancelled analysis as not_signed. The erased
// cancellation and signer metadata travel in the audit entry.
func (s *Service) UndoCancellation(ctx context.Context, actor domain.Actor, analysisID string) (domain.Analysis, domain.Result, error) {
	op := newOperation(OpUndoCancellation, actor)
	var reopened domain.Analysis
	res, err := s.run(ctx, op, func(tx domain.Transaction) error {
		op.entityID = analysisID
		current, err := findAnalysis(OpUndoCancellation, tx, analysisID)
		if err != nil {
			return err
		}
		erased, signer, err := domain.UndoCancellation(&current)
		if err != nil {
			return err
		}
		reopened, err = tx.UpdateAnalysis(analysisID, func(a *domain.Analysis) error {
			a.SignatureState = current.SignatureState
			a.Cancellation = current.Cancellation
			a.Signature = current.Signature
			return nil
		})
		if err != nil {
			return err
		}
		op.detail("erased_cancellation", erased)
		op.detail("erased_signature", signer)
		return nil
	})
	return reopened, res, err
}
