package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/dvloznov/dre-reports/internal/api/middleware"
	"github.com/dvloznov/dre-reports/internal/jobs"
	"github.com/dvloznov/dre-reports/internal/logger"
	"github.com/dvloznov/dre-reports/internal/storage"
)

// JobsHandler handles job-related endpoints.
type JobsHandler struct {
	store      jobs.JobStore
	publisher  jobs.Publisher
	defaultURL string
}

// NewJobsHandler creates a new jobs handler.
func NewJobsHandler(store jobs.JobStore, publisher jobs.Publisher, defaultURL string) *JobsHandler {
	return &JobsHandler{store: store, publisher: publisher, defaultURL: defaultURL}
}

// EnqueueIngest handles POST /api/jobs/ingest with {"url"|"uri", "batch_id"}.
func (h *JobsHandler) EnqueueIngest(w http.ResponseWriter, r *http.Request) {
	var req struct {
		URL     string `json:"url"`
		URI     string `json:"uri"`
		BatchID string `json:"batch_id"`
	}
	if err := decodeJSON(r, &req); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	job := &jobs.IngestJob{
		URL:     strings.TrimSpace(req.URL),
		URI:     strings.TrimSpace(req.URI),
		BatchID: strings.TrimSpace(req.BatchID),
	}
	switch {
	case job.URL != "" && job.URI != "":
		middleware.WriteError(w, http.StatusBadRequest, "url and uri are mutually exclusive")
		return
	case job.URI != "":
		if _, _, err := storage.ParseURI(job.URI); err != nil {
			middleware.WriteError(w, http.StatusBadRequest, err.Error())
			return
		}
	default:
		if job.URL == "" {
			job.URL = h.defaultURL
		}
		if job.URL == "" {
			middleware.WriteError(w, http.StatusBadRequest, "url or uri is required")
			return
		}
		if err := validateURL(job.URL); err != nil {
			middleware.WriteError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	ctx := r.Context()
	log := logger.FromContext(ctx)
	if err := h.publisher.PublishIngest(ctx, job); err != nil {
		log.Error().Err(err).Msg("Failed to enqueue ingest job")
		middleware.WriteError(w, http.StatusServiceUnavailable, "Failed to enqueue ingest job")
		return
	}

	log.Info().Str("job_id", job.JobID).Msg("Ingest job enqueued")

	middleware.WriteJSON(w, http.StatusAccepted, map[string]interface{}{
		"success": true,
		"job_id":  job.JobID,
		"status":  job.Status,
	})
}

// GetJob handles GET /api/jobs/{id}.
func (h *JobsHandler) GetJob(w http.ResponseWriter, r *http.Request, jobID string) {
	job, err := h.store.GetJob(r.Context(), jobID)
	if errors.Is(err, jobs.ErrJobNotFound) {
		middleware.WriteError(w, http.StatusNotFound, "Job not found")
		return
	}
	if err != nil {
		log := logger.FromContext(r.Context())
		log.Error().Err(err).Str("job_id", jobID).Msg("Failed to get job")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to get job")
		return
	}

	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{"success": true, "data": job})
}

// ListJobs handles GET /api/jobs.
func (h *JobsHandler) ListJobs(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	filter := jobs.JobFilter{
		Status: jobs.JobStatus(query.Get("status")),
	}

	if limitStr := query.Get("limit"); limitStr != "" {
		if limit, err := strconv.Atoi(limitStr); err == nil {
			filter.Limit = limit
		}
	}
	if offsetStr := query.Get("offset"); offsetStr != "" {
		if offset, err := strconv.Atoi(offsetStr); err == nil {
			filter.Offset = offset
		}
	}

	jobsList, err := h.store.ListJobs(r.Context(), filter)
	if err != nil {
		log := logger.FromContext(r.Context())
		log.Error().Err(err).Msg("Failed to list jobs")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to list jobs")
		return
	}

	middleware.WriteJSON(w, http.StatusOK, listResponse{Success: true, Data: jobsList, Count: len(jobsList)})
}
