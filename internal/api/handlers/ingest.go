package handlers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"

	"github.com/dvloznov/dre-reports/internal/api/middleware"
	"github.com/dvloznov/dre-reports/internal/domain"
	"github.com/dvloznov/dre-reports/internal/fetcher"
	"github.com/dvloznov/dre-reports/internal/logger"
	"github.com/dvloznov/dre-reports/internal/parser"
	"github.com/dvloznov/dre-reports/internal/pipeline"
	"github.com/dvloznov/dre-reports/internal/storage"
)

// Ingester runs one ingestion.
type Ingester interface {
	Ingest(ctx context.Context, req pipeline.Request) (*pipeline.Result, error)
}

// IngestHandler handles synchronous ingestion endpoints.
type IngestHandler struct {
	ingester   Ingester
	defaultURL string
	prefix     string
	maxUpload  int64
}

// NewIngestHandler creates an ingest handler. defaultURL is used for JSON
// requests without a url; prefix is the blob prefix storage events must match.
func NewIngestHandler(ingester Ingester, defaultURL, prefix string, maxUpload int64) *IngestHandler {
	return &IngestHandler{ingester: ingester, defaultURL: defaultURL, prefix: prefix, maxUpload: maxUpload}
}

// IngestResponse is the body of ingestion endpoints. On failure Success is
// false, Error is set and counts are filled when the run got that far.
type IngestResponse struct {
	Success     bool               `json:"success"`
	Error       string             `json:"error,omitempty"`
	Records     int                `json:"records"`
	Loaded      int                `json:"loaded"`
	Skipped     int                `json:"skipped"`
	Rejected    int                `json:"rejected"`
	BatchID     string             `json:"batch_id,omitempty"`
	ExecutionID string             `json:"execution_id,omitempty"`
	ArchiveURI  string             `json:"archive_uri,omitempty"`
	Rejections  []domain.Rejection `json:"rejections"`
}

// Ingest handles POST /api/ingest: a multipart upload (field "file") or a
// JSON body {"url": ..., "batch_id": ...}.
func (h *IngestHandler) Ingest(w http.ResponseWriter, r *http.Request) {
	req, err := h.parseRequest(w, r)
	if err != nil {
		middleware.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	h.run(w, r, req)
}

func (h *IngestHandler) parseRequest(w http.ResponseWriter, r *http.Request) (pipeline.Request, error) {
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload)
		if err := r.ParseMultipartForm(h.maxUpload); err != nil {
			return pipeline.Request{}, fmt.Errorf("invalid multipart body: %v", err)
		}
		file, header, err := r.FormFile("file")
		if err != nil {
			return pipeline.Request{}, errors.New("file is required")
		}
		defer file.Close()

		data, err := io.ReadAll(file)
		if err != nil {
			return pipeline.Request{}, fmt.Errorf("read upload: %v", err)
		}
		if len(data) == 0 {
			return pipeline.Request{}, errors.New("uploaded file is empty")
		}
		return pipeline.Request{
			Source:  fetcher.Upload(header.Filename, data),
			BatchID: strings.TrimSpace(r.FormValue("batch_id")),
		}, nil
	}

	var body struct {
		URL     string `json:"url"`
		BatchID string `json:"batch_id"`
	}
	if err := decodeJSON(r, &body); err != nil {
		return pipeline.Request{}, fmt.Errorf("invalid request body: %v", err)
	}
	rawURL := strings.TrimSpace(body.URL)
	if rawURL == "" {
		rawURL = h.defaultURL
	}
	if rawURL == "" {
		return pipeline.Request{}, errors.New("url is required (no default download url configured)")
	}
	if err := validateURL(rawURL); err != nil {
		return pipeline.Request{}, err
	}
	return pipeline.Request{Source: fetcher.URL(rawURL), BatchID: strings.TrimSpace(body.BatchID)}, nil
}

func validateURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return errors.New("url must be an absolute http(s) url")
	}
	return nil
}

// StorageEvent is the notification sent when an object lands in the bucket.
// Both {"record":{"bucket_id","name"}} and flat {"bucket","name"} are accepted.
type StorageEvent struct {
	Record *struct {
		BucketID string `json:"bucket_id"`
		Name     string `json:"name"`
	} `json:"record,omitempty"`
	Bucket string `json:"bucket,omitempty"`
	Name   string `json:"name,omitempty"`
}

func (e StorageEvent) object() (bucket, name string) {
	if e.Record != nil {
		return e.Record.BucketID, e.Record.Name
	}
	return e.Bucket, e.Name
}

// StorageEvent handles POST /api/ingest/storage-event. Objects outside the
// upload prefix or with an unsupported extension are acknowledged with 202
// and ignored.
func (h *IngestHandler) StorageEvent(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())

	var ev StorageEvent
	if err := decodeJSON(r, &ev); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	bucket, name := ev.object()
	if bucket == "" || name == "" {
		middleware.WriteError(w, http.StatusBadRequest, "bucket and object name are required")
		return
	}

	if reason := h.ignoreReason(name); reason != "" {
		log.Info().Str("bucket", bucket).Str("object", name).Str("reason", reason).Msg("Storage event ignored")
		middleware.WriteJSON(w, http.StatusAccepted, map[string]interface{}{
			"success": true,
			"ignored": true,
			"reason":  reason,
		})
		return
	}

	src := fetcher.Blob(storage.URI(bucket, name))
	src.Name = path.Base(name)
	h.run(w, r, pipeline.Request{Source: src})
}

func (h *IngestHandler) ignoreReason(name string) string {
	if h.prefix != "" && !strings.HasPrefix(name, h.prefix) {
		return fmt.Sprintf("object is outside %q", h.prefix)
	}
	if _, err := parser.DetectFormat(name, nil); err != nil {
		return "unsupported file extension"
	}
	return ""
}

func (h *IngestHandler) run(w http.ResponseWriter, r *http.Request, req pipeline.Request) {
	res, err := h.ingester.Ingest(r.Context(), req)

	resp := IngestResponse{Success: err == nil, Rejections: []domain.Rejection{}}
	if res != nil {
		resp.Records = res.Records
		resp.Loaded = res.Loaded
		resp.Skipped = res.Skipped
		resp.Rejected = res.Rejected
		resp.BatchID = res.BatchID
		resp.ExecutionID = res.ExecutionID
		resp.ArchiveURI = res.ArchiveURI
		resp.Rejections = res.Rejections
	}
	if err != nil {
		resp.Error = err.Error()
		middleware.WriteJSON(w, http.StatusInternalServerError, resp)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, resp)
}
