package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"labcore/internal/core"
	"labcore/pkg/domain"
)

type eligibleRequest struct {
	Kind        string   `json:"kind"`
	AnalysisIDs []string `json:"analysis_ids"`
}

type markRequest struct {
	ParameterIDs []string `json:"parameter_ids,omitempty"`
	AnalysisIDs  []string `json:"analysis_ids,omitempty"`
}

type markResponse struct {
	Marked int `json:"marked"`
}

func (h *Handler) eligible(w http.ResponseWriter, r *http.Request) {
	var req eligibleRequest
	if err := decode(r, &req); err != nil {
		writeDomainError(w, err)
		return
	}
	kind, err := domain.ParseReportKind(req.Kind)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	var ids []string
	if kind == domain.ReportPreliminary {
		ids, err = h.svc.PreliminaryEligible(r.Context(), req.AnalysisIDs)
	} else {
		ids, err = h.svc.FinalEligible(r.Context(), req.AnalysisIDs)
	}
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if ids == nil {
		ids = []string{}
	}
	writeJSON(w, http.StatusOK, envelope{Data: ids})
}

func (h *Handler) selectForReport(w http.ResponseWriter, r *http.Request) {
	var req core.ReportRequest
	if err := decode(r, &req); err != nil {
		writeDomainError(w, err)
		return
	}
	sel, err := h.svc.SelectForReport(r.Context(), req)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{Data: sel})
}

func (h *Handler) issueReport(w http.ResponseWriter, r *http.Request) {
	actor, err := actorFrom(r)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	var req core.ReportRequest
	if err := decode(r, &req); err != nil {
		writeDomainError(w, err)
		return
	}
	manifest, res, err := h.svc.IssueReport(r.Context(), actor, req)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeData(w, http.StatusCreated, manifest, res)
}

// markReported accepts parameter ids, analysis ids, or both; each list is
// marked in its own transaction.
func (h *Handler) markReported(w http.ResponseWriter, r *http.Request) {
	actor, err := actorFrom(r)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	var req markRequest
	if err := decode(r, &req); err != nil {
		writeDomainError(w, err)
		return
	}
	if len(req.ParameterIDs) == 0 && len(req.AnalysisIDs) == 0 {
		writeDomainError(w, domain.Invalid("mark_reported", "parameter_ids or analysis_ids required"))
		return
	}
	var (
		total int
		res   domain.Result
	)
	if len(req.ParameterIDs) > 0 {
		n, r1, err := h.svc.MarkAsReported(r.Context(), actor, req.ParameterIDs)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		total += n
		res.Merge(r1)
	}
	if len(req.AnalysisIDs) > 0 {
		n, r2, err := h.svc.MarkAnalysesAsReported(r.Context(), actor, req.AnalysisIDs)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		total += n
		res.Merge(r2)
	}
	writeData(w, http.StatusOK, markResponse{Marked: total}, res)
}

func (h *Handler) listManifests(w http.ResponseWriter, r *http.Request) {
	if h.archive == nil {
		writeError(w, http.StatusNotFound, "report archive not configured")
		return
	}
	infos, err := h.archive.Manifests(r.Context(), r.URL.Query().Get("kind"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{Data: infos})
}

func (h *Handler) getManifest(w http.ResponseWriter, r *http.Request) {
	if h.archive == nil {
		writeError(w, http.StatusNotFound, "report archive not configured")
		return
	}
	kind, err := domain.ParseReportKind(chi.URLParam(r, "kind"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	key := core.ReportManifest{ID: chi.URLParam(r, "id"), ReportSelection: core.ReportSelection{Kind: kind}}.Key()
	m, err := h.archive.Manifest(r.Context(), key)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{Data: m})
}
