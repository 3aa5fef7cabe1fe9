// Package api exposes the HTTP surface: run creation, live event streaming,
// run inspection and provider status.
package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/lexforge/lexforge/internal/orchestrator"
	"github.com/lexforge/lexforge/internal/provider"
	"github.com/lexforge/lexforge/internal/stream"
)

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	svc    *orchestrator.Service
	router *provider.Router
	relay  *stream.RedisRelay // optional, enables the event history endpoint
	logger *zap.Logger
}

// NewHandler creates a new API handler. relay may be nil.
func NewHandler(svc *orchestrator.Service, router *provider.Router, relay *stream.RedisRelay, logger *zap.Logger) *Handler {
	return &Handler{svc: svc, router: router, relay: relay, logger: logger}
}

// Router builds the chi router with all routes.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.healthCheck)
		r.Get("/providers", h.listProviders)
		r.Post("/runs", h.createRun)
		r.Get("/runs/{id}", h.getRun)
		r.Get("/runs/{id}/events", h.streamEvents)
		r.Get("/runs/{id}/history", h.eventHistory)
		r.Post("/runs/{id}/cancel", h.cancelRun)
	})

	return r
}

func (h *Handler) healthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "service": "lexforge"})
}

func (h *Handler) listProviders(w http.ResponseWriter, r *http.Request) {
	type providerStatus struct {
		ID      string `json:"id"`
		Name    string `json:"name"`
		Healthy bool   `json:"healthy"`
	}
	health := h.router.HealthCheckAll(r.Context())
	out := make([]providerStatus, 0)
	for _, p := range h.router.ListProviders() {
		out = append(out, providerStatus{
			ID:      p.ID(),
			Name:    p.Name(),
			Healthy: health[p.ID()] == nil,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) createRun(w http.ResponseWriter, r *http.Request) {
	var req orchestrator.GenerationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if req.EffortLevel == 0 {
		req.EffortLevel = 3
	}

	id, err := h.svc.StartRun(req)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, orchestrator.ErrInvalidRequest) {
			status = http.StatusBadRequest
		}
		writeJSON(w, status, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"run_id": id})
}

func (h *Handler) getRun(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	st, err := h.svc.Snapshot(id)
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "run not found"})
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (h *Handler) streamEvents(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	ch, err := h.svc.Subscribe(id)
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "run not found"})
		return
	}
	if err := stream.ServeSSE(r.Context(), w, ch); err != nil {
		h.logger.Warn("sse stream ended with error",
			zap.String("run_id", id),
			zap.Error(err))
	}
}

func (h *Handler) eventHistory(w http.ResponseWriter, r *http.Request) {
	if h.relay == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "event history not enabled"})
		return
	}
	id := chi.URLParam(r, "id")
	events, err := h.relay.Tail(r.Context(), id, 1000)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, events)
}

func (h *Handler) cancelRun(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.svc.Cancel(id); err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "run not found"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cancelling"})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
