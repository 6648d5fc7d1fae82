package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"labcore/internal/core"
)

type completeRequest struct {
	End *time.Time `json:"end,omitempty"`
}

func (h *Handler) addMedia(w http.ResponseWriter, r *http.Request) {
	actor, err := actorFrom(r)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	var in core.MediaInput
	if err := decode(r, &in); err != nil {
		writeDomainError(w, err)
		return
	}
	m, res, err := h.svc.AddMedia(r.Context(), actor, in)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeData(w, http.StatusCreated, m, res)
}

func (h *Handler) completeIncubation(w http.ResponseWriter, r *http.Request) {
	actor, err := actorFrom(r)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	var req completeRequest
	if err := decode(r, &req); err != nil {
		writeDomainError(w, err)
		return
	}
	m, res, err := h.svc.CompleteIncubation(r.Context(), actor, chi.URLParam(r, "id"), req.End)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeData(w, http.StatusOK, m, res)
}

func (h *Handler) mediaStatus(w http.ResponseWriter, r *http.Request) {
	st, err := h.svc.MediaStatus(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{Data: st})
}

func (h *Handler) overdueIncubations(w http.ResponseWriter, r *http.Request) {
	list, err := h.svc.OverdueIncubations(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if list == nil {
		list = []core.MediaStatus{}
	}
	writeJSON(w, http.StatusOK, envelope{Data: list})
}

func (h *Handler) startUsage(w http.ResponseWriter, r *http.Request) {
	actor, err := actorFrom(r)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	var in core.UsageInput
	if err := decode(r, &in); err != nil {
		writeDomainError(w, err)
		return
	}
	log, res, err := h.svc.StartUsage(r.Context(), actor, in)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeData(w, http.StatusCreated, log, res)
}

func (h *Handler) finishUsage(w http.ResponseWriter, r *http.Request) {
	actor, err := actorFrom(r)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	var in core.FinishInput
	if err := decode(r, &in); err != nil {
		writeDomainError(w, err)
		return
	}
	logs, res, err := h.svc.FinishUsage(r.Context(), actor, in)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeData(w, http.StatusOK, logs, res)
}

func (h *Handler) usageStatus(w http.ResponseWriter, r *http.Request) {
	st, err := h.svc.UsageStatus(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{Data: st})
}

func (h *Handler) ledger(w http.ResponseWriter, r *http.Request) {
	entries, err := h.svc.EquipmentLedger(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{Data: entries})
}

func (h *Handler) equipmentSummary(w http.ResponseWriter, r *http.Request) {
	sum, err := h.svc.EquipmentSummary(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{Data: sum})
}

// backfill serves both the per-equipment route and the global one, where
// the id parameter is empty.
func (h *Handler) backfill(w http.ResponseWriter, r *http.Request) {
	actor, err := actorFrom(r)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	report, res, err := h.svc.BackfillHistory(r.Context(), actor, chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeData(w, http.StatusOK, report, res)
}
