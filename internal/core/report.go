package core

import (
	"context"
	"errors"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"

	"labcore/pkg/domain"
)

// ReportRequest asks for a report over a set of analyses.
type ReportRequest struct {
	Kind        string   `json:"kind"`
	Category    string   `json:"category,omitempty"`
	Language    string   `json:"language,omitempty"`
	AnalysisIDs []string `json:"analysis_ids"`
}

// ReportSection is one analysis included in a report together with the
// parameters the renderer should print.
type ReportSection struct {
	Analysis   domain.Analysis            `json:"analysis"`
	Parameters []domain.ParameterAnalysis `json:"parameters"`
	QC         []domain.ExecutedQC        `json:"executed_qc,omitempty"`
}

// ReportSkip explains why a requested analysis was left out.
type ReportSkip struct {
	AnalysisID string `json:"analysis_id"`
	Reason     string `json:"reason"`
}

// ReportSelection is the outcome of SelectForReport.
type ReportSelection struct {
	Kind     domain.ReportKind     `json:"kind"`
	Category domain.ReportCategory `json:"category"`
	Language domain.ReportLanguage `json:"language"`
	Sections []ReportSection       `json:"sections"`
	Skipped  []ReportSkip          `json:"skipped,omitempty"`
}

// AnalysisIDs lists the selected analyses in selection order.
func (s ReportSelection) AnalysisIDs() []string {
	ids := make([]string, 0, len(s.Sections))
	for _, section := range s.Sections {
		ids = append(ids, section.Analysis.ID)
	}
	return ids
}

// ReportManifest is the document handed to the external renderer.
type ReportManifest struct {
	ID       string    `json:"id"`
	IssuedBy string    `json:"issued_by"`
	IssuedAt time.Time `json:"issued_at"`
	ReportSelection
	Marked int `json:"marked"`
}

// Key is the archive location of the manifest.
func (m ReportManifest) Key() string {
	return path.Join("reports", string(m.Kind), m.ID+".json")
}

// ReportArchive stores issued manifests for the renderer.
type ReportArchive interface {
	Archive(ctx context.Context, manifest ReportManifest) (string, error)
	// Discard removes a manifest whose marking never committed.
	Discard(ctx context.Context, key string) error
}

// Readiness returns the stored eligibility aggregate of an analysis.
func (s *Service) Readiness(ctx context.Context, analysisID string) (domain.Readiness, error) {
	var out domain.Readiness
	err := s.view(ctx, func(view domain.TransactionView) error {
		a, err := findAnalysis("readiness", view, analysisID)
		if err != nil {
			return err
		}
		out = a.Readiness
		return nil
	})
	return out, err
}

// PreliminaryEligible filters ids down to analyses with at least one ready
// parameter. Unknown ids are dropped.
func (s *Service) PreliminaryEligible(ctx context.Context, ids []string) ([]string, error) {
	return s.eligible(ctx, ids, func(a domain.Analysis) bool { return a.Readiness.HasReady })
}

// FinalEligible filters ids down to analyses whose parameters are all ready.
func (s *Service) FinalEligible(ctx context.Context, ids []string) ([]string, error) {
	return s.eligible(ctx, ids, func(a domain.Analysis) bool { return a.Readiness.AllReady })
}

func (s *Service) eligible(ctx context.Context, ids []string, keep func(domain.Analysis) bool) ([]string, error) {
	var out []string
	err := s.view(ctx, func(view domain.TransactionView) error {
		for _, id := range dedupe(ids) {
			if a, ok := view.FindAnalysis(id); ok && keep(a) {
				out = append(out, id)
			}
		}
		return nil
	})
	return out, err
}

// SelectForReport validates req at the boundary and picks the analyses that
// qualify for its kind: preliminary needs a ready parameter, final needs all
// parameters ready and signing needs a signed analysis.
func (s *Service) SelectForReport(ctx context.Context, req ReportRequest) (ReportSelection, error) {
	var sel ReportSelection
	err := s.view(ctx, func(view domain.TransactionView) error {
		var err error
		sel, err = selectForReport(view, req)
		return err
	})
	return sel, err
}

func selectForReport(view domain.RuleView, req ReportRequest) (ReportSelection, error) {
	const op = "select_for_report"
	kind, err := domain.ParseReportKind(req.Kind)
	if err != nil {
		return ReportSelection{}, err
	}
	category, err := domain.ParseReportCategory(req.Category)
	if err != nil {
		return ReportSelection{}, err
	}
	language, err := domain.ParseReportLanguage(req.Language)
	if err != nil {
		return ReportSelection{}, err
	}
	ids := dedupe(req.AnalysisIDs)
	if len(ids) == 0 {
		return ReportSelection{}, domain.Invalid(op, "at least one analysis is required")
	}

	sel := ReportSelection{Kind: kind, Category: category, Language: language}
	for _, id := range ids {
		a, ok := view.FindAnalysis(id)
		if !ok {
			sel.Skipped = append(sel.Skipped, ReportSkip{AnalysisID: id, Reason: "analysis not found"})
			continue
		}
		if reason := reportBlocker(kind, a); reason != "" {
			sel.Skipped = append(sel.Skipped, ReportSkip{AnalysisID: id, Reason: reason})
			continue
		}
		section := ReportSection{Analysis: a, QC: view.QCOf(id)}
		for _, p := range view.ParametersOf(id) {
			if kind == domain.ReportPreliminary && p.ReportStatus != domain.ReportReady {
				continue
			}
			section.Parameters = append(section.Parameters, p)
		}
		sel.Sections = append(sel.Sections, section)
	}
	if len(sel.Sections) == 0 {
		return sel, domain.PreconditionUnmet(op, domain.EntityAnalysis, "", domain.ErrNoReadyParameters,
			"none of the %d requested analyses qualify for a %s report", len(ids), kind)
	}
	return sel, nil
}

func reportBlocker(kind domain.ReportKind, a domain.Analysis) string {
	switch kind {
	case domain.ReportPreliminary:
		if !a.Readiness.HasReady {
			return "no ready parameters"
		}
	case domain.ReportFinal:
		if !a.Readiness.AllReady {
			return "not every parameter is ready"
		}
	case domain.ReportSigning:
		if a.SignatureState != domain.SignatureSigned {
			return "analysis is " + string(a.SignatureState)
		}
	}
	return ""
}

// MarkAsReported freezes the ready parameters among ids and returns how many
// were newly marked. Parameters already reported are skipped.
func (s *Service) MarkAsReported(ctx context.Context, actor domain.Actor, parameterIDs []string) (int, domain.Result, error) {
	op := newOperation(OpMarkAsReported, actor)
	var marked int
	res, err := s.run(ctx, op, func(tx domain.Transaction) error {
		marked = 0
		ids := dedupe(parameterIDs)
		if len(ids) == 0 {
			return domain.Invalid(OpMarkAsReported, "at least one parameter is required")
		}
		params := make([]domain.ParameterAnalysis, 0, len(ids))
		for _, id := range ids {
			p, err := findParameter(OpMarkAsReported, tx, id)
			if err != nil {
				return err
			}
			params = append(params, p)
		}
		var err error
		marked, err = s.markReported(tx, OpMarkAsReported, actor, params)
		op.detail("parameters", ids)
		op.detail("marked", marked)
		return err
	})
	return marked, res, err
}

// MarkAnalysesAsReported marks every ready parameter of the given analyses
// and returns the total newly marked.
func (s *Service) MarkAnalysesAsReported(ctx context.Context, actor domain.Actor, analysisIDs []string) (int, domain.Result, error) {
	op := newOperation(OpMarkAnalysesAsReported, actor)
	var marked int
	res, err := s.run(ctx, op, func(tx domain.Transaction) error {
		var err error
		marked, err = s.markAnalyses(tx, OpMarkAnalysesAsReported, actor, analysisIDs)
		op.detail("analyses", analysisIDs)
		op.detail("marked", marked)
		return err
	})
	return marked, res, err
}

func (s *Service) markAnalyses(tx domain.Transaction, op string, actor domain.Actor, analysisIDs []string) (int, error) {
	ids := dedupe(analysisIDs)
	if len(ids) == 0 {
		return 0, domain.Invalid(op, "at least one analysis is required")
	}
	var params []domain.ParameterAnalysis
	for _, id := range ids {
		if _, err := findAnalysis(op, tx, id); err != nil {
			return 0, err
		}
		params = append(params, tx.ParametersOf(id)...)
	}
	return s.markReported(tx, op, actor, params)
}

// markReported applies ready → reported to params. Every owning analysis must
// be signed, and at least one parameter must be ready or already reported.
func (s *Service) markReported(tx domain.Transaction, op string, actor domain.Actor, params []domain.ParameterAnalysis) (int, error) {
	var ready, reported int
	owners := make(map[string]struct{})
	for _, p := range params {
		a, ok := tx.FindAnalysis(p.AnalysisID)
		if !ok {
			return 0, domain.ReferentialGap(op, domain.EntityParameter, p.ID, "parameter belongs to missing analysis %s", p.AnalysisID)
		}
		if a.SignatureState != domain.SignatureSigned {
			return 0, domain.InvalidTransition(op, domain.EntityAnalysis, a.ID, domain.ErrNotSigned,
				"analysis is %s; only signed analyses can be reported", a.SignatureState)
		}
		switch p.ReportStatus {
		case domain.ReportReady:
			ready++
		case domain.ReportReported:
			reported++
		}
		owners[p.AnalysisID] = struct{}{}
	}
	if ready == 0 && reported == 0 {
		return 0, domain.PreconditionUnmet(op, domain.EntityParameter, "", domain.ErrNoReadyParameters, "no ready parameters to report")
	}

	at := s.now()
	marked := 0
	for _, p := range params {
		if p.ReportStatus != domain.ReportReady {
			continue
		}
		var changed bool
		if _, err := tx.UpdateParameter(p.ID, func(stored *domain.ParameterAnalysis) error {
			var err error
			changed, err = domain.MarkReported(stored, actor, at)
			return err
		}); err != nil {
			return 0, err
		}
		if changed {
			marked++
		}
	}
	for id := range owners {
		if _, err := recomputeReadiness(tx, id); err != nil {
			return 0, err
		}
	}
	return marked, nil
}

// IssueReport selects the analyses for req and archives a manifest for the
// renderer. A final report also marks its ready parameters as reported in
// the same transaction. An archive failure rolls the marking back, and a
// manifest written by a transaction that then fails to commit is discarded.
func (s *Service) IssueReport(ctx context.Context, actor domain.Actor, req ReportRequest) (ReportManifest, domain.Result, error) {
	op := newOperation(OpIssueReport, actor)
	reportID := uuid.NewString()
	var (
		manifest ReportManifest
		archived string
	)
	res, err := s.run(ctx, op, func(tx domain.Transaction) error {
		if s.archive == nil {
			return domain.Invalid(OpIssueReport, "no report archive configured")
		}
		sel, err := selectForReport(tx, req)
		if err != nil {
			return err
		}
		manifest = ReportManifest{ID: reportID, IssuedBy: actor.Label(), IssuedAt: s.now(), ReportSelection: sel}
		if sel.Kind == domain.ReportFinal {
			if manifest.Marked, err = s.markAnalyses(tx, OpIssueReport, actor, sel.AnalysisIDs()); err != nil {
				return err
			}
			for i, section := range manifest.Sections {
				id := section.Analysis.ID
				manifest.Sections[i].Analysis, _ = tx.FindAnalysis(id)
				manifest.Sections[i].Parameters = tx.ParametersOf(id)
			}
		}
		// Written last so only the commit itself can still fail.
		key, err := s.archive.Archive(ctx, manifest)
		if err != nil {
			return err
		}
		archived = key
		op.entityID = reportID
		op.detail("key", key)
		op.detail("kind", string(sel.Kind))
		op.detail("analyses", sel.AnalysisIDs())
		return nil
	})
	if err != nil && archived != "" {
		if derr := s.archive.Discard(context.WithoutCancel(ctx), archived); derr != nil {
			s.logger.Error("report manifest left without marking", "operation", OpIssueReport, "key", archived, "error", derr)
			err = errors.Join(err, derr)
		}
	}
	return manifest, res, err
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
