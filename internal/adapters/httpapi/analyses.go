package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"labcore/internal/core"
	"labcore/pkg/domain"
)

type intakeRequest struct {
	SampleID string `json:"sample_id"`
}

type reasonRequest struct {
	Reason string `json:"reason"`
}

type qcRequest struct {
	Status string `json:"status"`
	Notes  string `json:"notes,omitempty"`
}

type lineageResponse struct {
	Count   int               `json:"revision_count"`
	Lineage []domain.Analysis `json:"lineage"`
}

func (h *Handler) listAnalyses(w http.ResponseWriter, r *http.Request) {
	list, err := h.svc.ListAnalyses(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{Data: list})
}

func (h *Handler) createAnalysis(w http.ResponseWriter, r *http.Request) {
	actor, err := actorFrom(r)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	var sheet core.SampleSheet
	if err := decode(r, &sheet); err != nil {
		writeDomainError(w, err)
		return
	}
	a, res, err := h.svc.CreateAnalysis(r.Context(), actor, sheet)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeData(w, http.StatusCreated, a, res)
}

func (h *Handler) createFromIntake(w http.ResponseWriter, r *http.Request) {
	actor, err := actorFrom(r)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	var req intakeRequest
	if err := decode(r, &req); err != nil {
		writeDomainError(w, err)
		return
	}
	a, res, err := h.svc.CreateAnalysisFromIntake(r.Context(), actor, req.SampleID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeData(w, http.StatusCreated, a, res)
}

func (h *Handler) getAnalysis(w http.ResponseWriter, r *http.Request) {
	detail, err := h.svc.GetAnalysis(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{Data: detail})
}

func (h *Handler) deleteAnalysis(w http.ResponseWriter, r *http.Request) {
	actor, err := actorFrom(r)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if _, err := h.svc.DeleteAnalysis(r.Context(), actor, chi.URLParam(r, "id")); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) addParameter(w http.ResponseWriter, r *http.Request) {
	actor, err := actorFrom(r)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	var tpl core.ParameterTemplate
	if err := decode(r, &tpl); err != nil {
		writeDomainError(w, err)
		return
	}
	p, res, err := h.svc.AddParameter(r.Context(), actor, chi.URLParam(r, "id"), tpl)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeData(w, http.StatusCreated, p, res)
}

func (h *Handler) updateParameter(w http.ResponseWriter, r *http.Request) {
	actor, err := actorFrom(r)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	var upd core.ParameterUpdate
	if err := decode(r, &upd); err != nil {
		writeDomainError(w, err)
		return
	}
	p, res, err := h.svc.UpdateParameter(r.Context(), actor, chi.URLParam(r, "id"), upd)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeData(w, http.StatusOK, p, res)
}

func (h *Handler) deleteParameter(w http.ResponseWriter, r *http.Request) {
	actor, err := actorFrom(r)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if _, err := h.svc.DeleteParameter(r.Context(), actor, chi.URLParam(r, "id")); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) recordQC(w http.ResponseWriter, r *http.Request) {
	actor, err := actorFrom(r)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	var req qcRequest
	if err := decode(r, &req); err != nil {
		writeDomainError(w, err)
		return
	}
	qc, res, err := h.svc.RecordQC(r.Context(), actor, chi.URLParam(r, "id"), req.Status, req.Notes)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeData(w, http.StatusOK, qc, res)
}

func (h *Handler) readiness(w http.ResponseWriter, r *http.Request) {
	rd, err := h.svc.Readiness(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{Data: rd})
}

func (h *Handler) sign(w http.ResponseWriter, r *http.Request) {
	actor, err := actorFrom(r)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	a, res, err := h.svc.Sign(r.Context(), actor, chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeData(w, http.StatusOK, a, res)
}

func (h *Handler) cancelSignature(w http.ResponseWriter, r *http.Request) {
	actor, err := actorFrom(r)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	var req reasonRequest
	if err := decode(r, &req); err != nil {
		writeDomainError(w, err)
		return
	}
	a, res, err := h.svc.CancelSignature(r.Context(), actor, chi.URLParam(r, "id"), req.Reason)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeData(w, http.StatusOK, a, res)
}

func (h *Handler) undoCancellation(w http.ResponseWriter, r *http.Request) {
	actor, err := actorFrom(r)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	a, res, err := h.svc.UndoCancellation(r.Context(), actor, chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeData(w, http.StatusOK, a, res)
}

func (h *Handler) createRevision(w http.ResponseWriter, r *http.Request) {
	actor, err := actorFrom(r)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	var req reasonRequest
	if err := decode(r, &req); err != nil {
		writeDomainError(w, err)
		return
	}
	out, res, err := h.svc.CreateRevision(r.Context(), actor, chi.URLParam(r, "id"), req.Reason)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeData(w, http.StatusCreated, out, res)
}

func (h *Handler) lineage(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	chain, err := h.svc.Lineage(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	count, err := h.svc.RevisionCount(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{Data: lineageResponse{Count: count, Lineage: chain}})
}
