// Package web exposes the read-only operations surface: queue health,
// per-status counts, and job inspection. It never mutates jobs; operators
// act through the producer and the stores, not through HTTP.
package web

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/outreachiq/jobengine/internal/state"
	"github.com/outreachiq/jobengine/internal/store"
)

const pageSize = 15

type RouteHandler struct {
	jobStore store.JobStore
	log      *zap.Logger
}

func NewRouteHandler(jobStore store.JobStore, log *zap.Logger) *RouteHandler {
	return &RouteHandler{jobStore: jobStore, log: log}
}

func (h *RouteHandler) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", h.handleHealth)
	r.Get("/jobs", h.handleListJobs)
	r.Get("/jobs/{id}", h.handleGetJob)
	r.Get("/stats", h.handleStats)
	return r
}

func (h *RouteHandler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if _, err := h.jobStore.CountByStatus(r.Context()); err != nil {
		h.renderError(w, http.StatusServiceUnavailable, "database unavailable")
		return
	}
	h.renderJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *RouteHandler) handleListJobs(w http.ResponseWriter, r *http.Request) {
	var statuses []state.JobStatus
	if statusParam := strings.TrimSpace(r.URL.Query().Get("status")); statusParam != "" {
		status := state.JobStatus(statusParam)
		if !status.Valid() {
			h.renderError(w, http.StatusBadRequest, "unknown status "+statusParam)
			return
		}
		statuses = append(statuses, status)
	}

	jobs, err := h.jobStore.FetchJobs(r.Context(), pageNumber(r), pageSize, statuses)
	if err != nil {
		h.log.Error("fetch jobs failed", zap.Error(err))
		h.renderError(w, http.StatusInternalServerError, "failed to fetch jobs")
		return
	}
	h.renderJSON(w, http.StatusOK, jobs)
}

func (h *RouteHandler) handleGetJob(w http.ResponseWriter, r *http.Request) {
	jobID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		h.renderError(w, http.StatusBadRequest, "invalid job id")
		return
	}

	job, err := h.jobStore.FindByID(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, store.ErrJobNotFound) {
			h.renderError(w, http.StatusNotFound, "job not found")
			return
		}
		h.log.Error("find job failed", zap.String("job_id", jobID.String()), zap.Error(err))
		h.renderError(w, http.StatusInternalServerError, "failed to fetch job")
		return
	}
	h.renderJSON(w, http.StatusOK, job)
}

func (h *RouteHandler) handleStats(w http.ResponseWriter, r *http.Request) {
	counts, err := h.jobStore.CountByStatus(r.Context())
	if err != nil {
		h.log.Error("count by status failed", zap.Error(err))
		h.renderError(w, http.StatusInternalServerError, "failed to compute stats")
		return
	}

	// Every status appears in the response, zero or not, so dashboards
	// get a stable shape.
	stats := make(map[state.JobStatus]int, len(state.AllStatuses))
	for _, status := range state.AllStatuses {
		stats[status] = counts[status]
	}
	h.renderJSON(w, http.StatusOK, stats)
}

func (h *RouteHandler) renderJSON(w http.ResponseWriter, code int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.log.Error("encode response failed", zap.Error(err))
	}
}

func (h *RouteHandler) renderError(w http.ResponseWriter, code int, message string) {
	h.renderJSON(w, code, map[string]string{"error": message})
}

func pageNumber(r *http.Request) int {
	page, err := strconv.Atoi(r.URL.Query().Get("page"))
	if err != nil || page < 1 {
		return 1
	}
	return page
}
