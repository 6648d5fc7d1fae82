// Package httpapi serves the labcore service over JSON/HTTP.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"labcore/internal/audit"
	"labcore/internal/core"
)

const requestTimeout = 30 * time.Second

// AuditFeed returns the most recent audit entries, newest first.
type AuditFeed interface {
	Recent(ctx context.Context, n int64) ([]audit.StoredEntry, error)
}

// Handler routes requests to the service and its optional collaborators.
type Handler struct {
	svc     *core.Service
	archive *core.BlobArchive
	feed    AuditFeed
	metrics http.Handler
	mpath   string
	log     *zap.Logger
	timeout time.Duration
}

// Option configures a Handler.
type Option func(*Handler)

// WithArchive enables the manifest listing routes.
func WithArchive(a *core.BlobArchive) Option { return func(h *Handler) { h.archive = a } }

// WithAuditFeed enables GET /api/v1/audit.
func WithAuditFeed(f AuditFeed) Option { return func(h *Handler) { h.feed = f } }

// WithMetrics mounts a Prometheus handler on path, /metrics when empty.
func WithMetrics(path string, m http.Handler) Option {
	return func(h *Handler) {
		if path == "" {
			path = "/metrics"
		}
		h.mpath, h.metrics = path, m
	}
}

// WithLogger sets the request logger.
func WithLogger(l *zap.Logger) Option { return func(h *Handler) { h.log = l } }

// WithTimeout bounds each API request.
func WithTimeout(d time.Duration) Option { return func(h *Handler) { h.timeout = d } }

// New builds a Handler for svc.
func New(svc *core.Service, opts ...Option) *Handler {
	h := &Handler{svc: svc, log: zap.NewNop(), timeout: requestTimeout}
	for _, opt := range opts {
		opt(h)
	}
	if h.log == nil {
		h.log = zap.NewNop()
	}
	return h
}

// Routes returns the chi router with every labcore endpoint registered.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(h.log))
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if h.metrics != nil {
		r.Handle(h.mpath, h.metrics)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Timeout(h.timeout))
		r.Use(middleware.AllowContentType("application/json"))

		r.Get("/dashboard", h.dashboard)

		r.Route("/analyses", func(r chi.Router) {
			r.Get("/", h.listAnalyses)
			r.Post("/", h.createAnalysis)
			r.Post("/intake", h.createFromIntake)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", h.getAnalysis)
				r.Delete("/", h.deleteAnalysis)
				r.Post("/parameters", h.addParameter)
				r.Get("/readiness", h.readiness)
				r.Post("/sign", h.sign)
				r.Post("/cancel-signature", h.cancelSignature)
				r.Post("/undo-cancellation", h.undoCancellation)
				r.Post("/revisions", h.createRevision)
				r.Get("/revisions", h.lineage)
			})
		})

		r.Patch("/parameters/{id}", h.updateParameter)
		r.Delete("/parameters/{id}", h.deleteParameter)
		r.Post("/qc/{id}", h.recordQC)

		r.Route("/reports", func(r chi.Router) {
			r.Post("/", h.issueReport)
			r.Post("/eligible", h.eligible)
			r.Post("/select", h.selectForReport)
			r.Post("/mark", h.markReported)
			r.Get("/manifests", h.listManifests)
			r.Get("/manifests/{kind}/{id}", h.getManifest)
		})

		r.Route("/media", func(r chi.Router) {
			r.Post("/", h.addMedia)
			r.Get("/overdue", h.overdueIncubations)
			r.Get("/{id}", h.mediaStatus)
			r.Post("/{id}/complete", h.completeIncubation)
		})

		r.Route("/equipment", func(r chi.Router) {
			r.Post("/usage", h.startUsage)
			r.Post("/usage/finish", h.finishUsage)
			r.Get("/usage/{id}", h.usageStatus)
			r.Post("/backfill", h.backfill)
			r.Get("/{id}/ledger", h.ledger)
			r.Get("/{id}/summary", h.equipmentSummary)
			r.Post("/{id}/backfill", h.backfill)
		})

		r.Get("/orphans", h.detectOrphans)
		r.Post("/orphans/cleanup", h.cleanupOrphans)
		r.Get("/audit", h.recentAudit)
	})
	return r
}

func (h *Handler) dashboard(w http.ResponseWriter, r *http.Request) {
	d, err := h.svc.Dashboard(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{Data: d})
}

func (h *Handler) detectOrphans(w http.ResponseWriter, r *http.Request) {
	findings, err := h.svc.DetectOrphans(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{Data: findings})
}

func (h *Handler) cleanupOrphans(w http.ResponseWriter, r *http.Request) {
	actor, err := actorFrom(r)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	out, res, err := h.svc.CleanupOrphans(r.Context(), actor)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeData(w, http.StatusOK, out, res)
}

func (h *Handler) recentAudit(w http.ResponseWriter, r *http.Request) {
	if h.feed == nil {
		writeError(w, http.StatusNotFound, "audit stream not configured")
		return
	}
	n, err := queryInt(r, "limit", 50)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	entries, err := h.feed.Recent(r.Context(), int64(n))
	if err != nil {
		h.log.Error("read audit stream", zap.Error(err))
		writeError(w, http.StatusBadGateway, "audit stream unavailable")
		return
	}
	writeJSON(w, http.StatusOK, envelope{Data: entries})
}
