// Package httpapi is the HTTP boundary of the service. Handlers decode and
// validate transport concerns, then delegate to the domain services; all
// policy lives below this layer.
package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	householdservice "hearth/internal/household/service"
	identityservice "hearth/internal/identity/service"
	"hearth/internal/ledger"
	"hearth/internal/platform/middleware"
	registrationservice "hearth/internal/registration/service"
)

// HealthChecker reports backing-store health for the readiness endpoint.
type HealthChecker func(ctx context.Context) error

// Handler bundles the domain services behind the HTTP surface.
type Handler struct {
	identities *identityservice.Service
	pipeline   *registrationservice.Pipeline
	clusterer  *householdservice.Clusterer
	entries    *ledger.Service
	logger     *slog.Logger
	health     HealthChecker
}

type Option func(h *Handler)

func WithHealthChecker(check HealthChecker) Option {
	return func(h *Handler) { h.health = check }
}

func NewHandler(identities *identityservice.Service, pipeline *registrationservice.Pipeline,
	clusterer *householdservice.Clusterer, entries *ledger.Service, logger *slog.Logger, opts ...Option) *Handler {
	h := &Handler{
		identities: identities,
		pipeline:   pipeline,
		clusterer:  clusterer,
		entries:    entries,
		logger:     logger,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Router builds the full route table. Operator routes sit behind the admin
// token; ingestion and reads do not.
func (h *Handler) Router(adminToken string) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Recovery(h.logger))
	r.Use(middleware.Logger(h.logger))
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/healthz", h.handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		r.Use(middleware.ContentTypeJSON)

		r.Post("/ingest", h.handleIngest)
		r.Post("/orders/{orderID}/refund", h.handleRefundOrder)
		r.Get("/people/{personID}", h.handleGetPerson)
		r.Get("/people/{personID}/ledger", h.handleLedgerHistory)

		r.Group(func(r chi.Router) {
			r.Use(middleware.AdminToken(adminToken))

			r.Post("/import/row", h.handleImportRow)
			r.Post("/households/run", h.handleHouseholdingRun)
			r.Post("/participants/{participantID}/resolve", h.handleResolveParticipant)
			r.Post("/people/{personID}/flag", h.handleFlag)
			r.Post("/people/{personID}/merge", h.handleMerge)
			r.Post("/ledger/{entryID}/undo", h.handleUndo)
			r.Post("/ledger/{entryID}/finalize", h.handleFinalize)
		})
	})

	return r
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if h.health != nil {
		if err := h.health(r.Context()); err != nil {
			h.logger.WarnContext(r.Context(), "health check failed", "error", err.Error())
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
