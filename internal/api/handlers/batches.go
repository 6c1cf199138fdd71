package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/dvloznov/dre-reports/internal/api/middleware"
	"github.com/dvloznov/dre-reports/internal/dimensions"
	"github.com/dvloznov/dre-reports/internal/domain"
	"github.com/dvloznov/dre-reports/internal/logger"
	"github.com/dvloznov/dre-reports/internal/store"
)

// BatchesHandler serves batches, runs and dimensions.
type BatchesHandler struct {
	store store.Store
}

// NewBatchesHandler creates a new batches handler.
func NewBatchesHandler(s store.Store) *BatchesHandler {
	return &BatchesHandler{store: s}
}

type batchDTO struct {
	BatchID       string    `json:"batch_id"`
	SourceName    string    `json:"source_name"`
	ExecutionID   string    `json:"execution_id"`
	ContentHash   string    `json:"content_hash"`
	CreatedAt     time.Time `json:"created_at"`
	Items         int       `json:"items"`
	ActivePeriods int       `json:"active_periods"`
}

type runDTO struct {
	RunID      string     `json:"run_id"`
	BatchID    string     `json:"batch_id"`
	Source     string     `json:"source"`
	Status     string     `json:"status"`
	Loaded     int        `json:"loaded"`
	Rejected   int        `json:"rejected"`
	Error      string     `json:"error,omitempty"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// ListBatches handles GET /api/batches.
func (h *BatchesHandler) ListBatches(w http.ResponseWriter, r *http.Request) {
	limit, err := queryLimit(r)
	if err != nil {
		middleware.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	batches, err := h.store.ListBatches(r.Context(), limit)
	if err != nil {
		log := logger.FromContext(r.Context())
		log.Error().Err(err).Msg("Failed to list batches")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to list batches")
		return
	}

	out := make([]batchDTO, 0, len(batches))
	for _, b := range batches {
		out = append(out, batchDTO{
			BatchID:       b.ID,
			SourceName:    b.SourceName,
			ExecutionID:   b.ExecutionID,
			ContentHash:   b.ContentHash,
			CreatedAt:     b.CreatedAt,
			Items:         b.Items,
			ActivePeriods: b.ActivePeriods,
		})
	}
	middleware.WriteJSON(w, http.StatusOK, listResponse{Success: true, Data: out, Count: len(out)})
}

// GetBatch handles GET /api/batches/{id}.
func (h *BatchesHandler) GetBatch(w http.ResponseWriter, r *http.Request, id string) {
	b, err := h.store.GetBatch(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		middleware.WriteError(w, http.StatusNotFound, "Batch not found")
		return
	}
	if err != nil {
		log := logger.FromContext(r.Context())
		log.Error().Err(err).Str("batch_id", id).Msg("Failed to get batch")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to get batch")
		return
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"data": batchDTO{
			BatchID:     b.ID,
			SourceName:  b.SourceName,
			ExecutionID: b.ExecutionID,
			ContentHash: b.ContentHash,
			CreatedAt:   b.CreatedAt,
		},
	})
}

// ListRuns handles GET /api/runs.
func (h *BatchesHandler) ListRuns(w http.ResponseWriter, r *http.Request) {
	limit, err := queryLimit(r)
	if err != nil {
		middleware.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	runs, err := h.store.ListRuns(r.Context(), limit)
	if err != nil {
		log := logger.FromContext(r.Context())
		log.Error().Err(err).Msg("Failed to list runs")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to list runs")
		return
	}

	out := make([]runDTO, 0, len(runs))
	for _, run := range runs {
		out = append(out, toRunDTO(run))
	}
	middleware.WriteJSON(w, http.StatusOK, listResponse{Success: true, Data: out, Count: len(out)})
}

func toRunDTO(run domain.IngestionRun) runDTO {
	return runDTO{
		RunID:      run.ID,
		BatchID:    run.BatchID,
		Source:     run.Source,
		Status:     string(run.Status),
		Loaded:     run.Loaded,
		Rejected:   run.Rejected,
		Error:      run.Error,
		StartedAt:  run.StartedAt,
		FinishedAt: run.FinishedAt,
	}
}

// RefreshDimensions handles POST /api/dimensions/refresh.
func (h *BatchesHandler) RefreshDimensions(w http.ResponseWriter, r *http.Request) {
	res, err := dimensions.Refresh(r.Context(), h.store)
	if err != nil {
		log := logger.FromContext(r.Context())
		log.Error().Err(err).Msg("Failed to refresh dimensions")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to refresh dimensions")
		return
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"success":  true,
		"projects": res.Projects,
		"periods":  res.Periods,
	})
}

type projectDimDTO struct {
	Code string `json:"code"`
	Name string `json:"name"`
}

type periodDimDTO struct {
	Code  string `json:"code"`
	Name  string `json:"name"`
	Year  int    `json:"ano"`
	Month int    `json:"mes"`
}

// ListProjectDimensions handles GET /api/dimensions/projects.
func (h *BatchesHandler) ListProjectDimensions(w http.ResponseWriter, r *http.Request) {
	dims, err := h.store.ListProjectDimensions(r.Context())
	if err != nil {
		log := logger.FromContext(r.Context())
		log.Error().Err(err).Msg("Failed to list project dimensions")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to list project dimensions")
		return
	}
	out := make([]projectDimDTO, 0, len(dims))
	for _, d := range dims {
		out = append(out, projectDimDTO{Code: d.Code, Name: d.Name})
	}
	middleware.WriteJSON(w, http.StatusOK, listResponse{Success: true, Data: out, Count: len(out)})
}

// ListPeriodDimensions handles GET /api/dimensions/periods.
func (h *BatchesHandler) ListPeriodDimensions(w http.ResponseWriter, r *http.Request) {
	dims, err := h.store.ListPeriodDimensions(r.Context())
	if err != nil {
		log := logger.FromContext(r.Context())
		log.Error().Err(err).Msg("Failed to list period dimensions")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to list period dimensions")
		return
	}
	out := make([]periodDimDTO, 0, len(dims))
	for _, d := range dims {
		out = append(out, periodDimDTO{Code: d.Code, Name: d.Name, Year: d.Year, Month: d.Month})
	}
	middleware.WriteJSON(w, http.StatusOK, listResponse{Success: true, Data: out, Count: len(out)})
}
