package core

import (
	"context"

	"labcore/pkg/domain"
)

const minRevisionReasonLength = 10

// RevisionOutcome pairs the cancelled source with the generation that
// replaces it.
type RevisionOutcome struct {
	Source   domain.Analysis `json:"source"`
	Revision domain.Analysis `json:"revision"`
}

// CreateRevision reopens a signed analysis as a new generation. The source is
// cancelled with reason, and its parameters, their media and its executed QC
// are deep-copied into the new analysis as draft work.
func (s *Service) CreateRevision(ctx context.Context, actor domain.Actor, analysisID, reason string) (RevisionOutcome, domain.Result, error) {
	op := newOperation(OpCreateRevision, actor)
	var out RevisionOutcome
	res, err := s.run(ctx, op, func(tx domain.Transaction) error {
		if trimmedLen(reason) < minRevisionReasonLength {
			return domain.Invalid(OpCreateRevision, "revision reason must have at least %d characters", minRevisionReasonLength)
		}
		source, err := findAnalysis(OpCreateRevision, tx, analysisID)
		if err != nil {
			return err
		}
		if source.SignatureState != domain.SignatureSigned {
			return domain.InvalidTransition(OpCreateRevision, domain.EntityAnalysis, analysisID, domain.ErrNotSigned,
				"analysis is %s; only signed analyses can be revised", source.SignatureState)
		}
		at := s.now()
		if err := cancelAnalysis(tx, &source, actor, reason, at); err != nil {
			return err
		}

		revision, err := tx.CreateAnalysis(domain.NewRevision(source, actor, reason, at))
		if err != nil {
			return err
		}
		op.entityID = revision.ID
		if err := copyOwnedRecords(tx, source.ID, revision.ID); err != nil {
			return err
		}
		if out.Source, err = recomputeReadiness(tx, source.ID); err != nil {
			return err
		}
		if out.Revision, err = recomputeReadiness(tx, revision.ID); err != nil {
			return err
		}
		op.detail("source_id", source.ID)
		op.detail("revision_number", revision.RevisionNumber)
		return nil
	})
	return out, res, err
}

func copyOwnedRecords(tx domain.Transaction, sourceID, revisionID string) error {
	for _, p := range tx.ParametersOf(sourceID) {
		clone, err := tx.CreateParameter(domain.CloneForRevision(p, revisionID))
		if err != nil {
			return err
		}
		for _, m := range tx.MediaOf(p.ID) {
			m.Base = domain.Base{}
			m.ParameterID = clone.ID
			m.AnalysisID = revisionID
			if _, err := tx.CreateMedia(m); err != nil {
				return err
			}
		}
	}
	for _, qc := range tx.QCOf(sourceID) {
		qc.Base = domain.Base{}
		qc.AnalysisID = revisionID
		if _, err := tx.CreateExecutedQC(qc); err != nil {
			return err
		}
	}
	return nil
}

// RevisionCount returns how many revisions name id as their original.
func (s *Service) RevisionCount(ctx context.Context, id string) (int, error) {
	var n int
	err := s.view(ctx, func(view domain.TransactionView) error {
		if _, err := findAnalysis("revision_count", view, id); err != nil {
			return err
		}
		n = len(view.RevisionsOf(id))
		return nil
	})
	return n, err
}

// Lineage walks original_analysis_id back to the first generation and returns
// the chain oldest first. A dangling original ends the walk.
func (s *Service) Lineage(ctx context.Context, id string) ([]domain.Analysis, error) {
	var chain []domain.Analysis
	err := s.view(ctx, func(view domain.TransactionView) error {
		current, err := findAnalysis("lineage", view, id)
		if err != nil {
			return err
		}
		seen := map[string]struct{}{}
		for {
			if _, loop := seen[current.ID]; loop {
				break
			}
			seen[current.ID] = struct{}{}
			chain = append(chain, current)
			if current.OriginalAnalysisID == "" {
				break
			}
			next, ok := view.FindAnalysis(current.OriginalAnalysisID)
			if !ok {
				break
			}
			current = next
		}
		return nil
	})
	for i, j := 0, len(chain)-1; i < j; i, j = i+1, j-1 {
		chain[i], chain[j] = chain[j], chain[i]
	}
	return chain, err
}
