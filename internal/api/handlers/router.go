package handlers

import (
	"net/http"

	"github.com/dvloznov/dre-reports/internal/api/middleware"
	"github.com/dvloznov/dre-reports/internal/jobs"
	"github.com/dvloznov/dre-reports/internal/store"
	"github.com/rs/zerolog"
)

// RouterDeps are the collaborators of the HTTP API. Jobs and Publisher may
// be nil, which disables the job endpoints.
type RouterDeps struct {
	Store      store.Store
	Ingester   Ingester
	Jobs       jobs.JobStore
	Publisher  jobs.Publisher
	DefaultURL string
	Prefix     string
	MaxUpload  int64
	JWTSecret  string
	Log        zerolog.Logger
}

// NewRouter registers every route and wraps them in the middleware chain.
func NewRouter(d RouterDeps) http.Handler {
	ingest := NewIngestHandler(d.Ingester, d.DefaultURL, d.Prefix, d.MaxUpload)
	dre := NewDREHandler(d.Store)
	batches := NewBatchesHandler(d.Store)

	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", Health)

	mux.HandleFunc("POST /api/ingest", ingest.Ingest)
	mux.HandleFunc("POST /api/ingest/storage-event", ingest.StorageEvent)

	mux.HandleFunc("POST /api/dre", dre.Query)

	mux.HandleFunc("GET /api/batches", batches.ListBatches)
	mux.HandleFunc("GET /api/batches/{id}", func(w http.ResponseWriter, r *http.Request) {
		batches.GetBatch(w, r, r.PathValue("id"))
	})
	mux.HandleFunc("GET /api/runs", batches.ListRuns)

	mux.HandleFunc("POST /api/dimensions/refresh", batches.RefreshDimensions)
	mux.HandleFunc("GET /api/dimensions/projects", batches.ListProjectDimensions)
	mux.HandleFunc("GET /api/dimensions/periods", batches.ListPeriodDimensions)

	if d.Jobs != nil && d.Publisher != nil {
		jobsHandler := NewJobsHandler(d.Jobs, d.Publisher, d.DefaultURL)
		mux.HandleFunc("POST /api/jobs/ingest", jobsHandler.EnqueueIngest)
		mux.HandleFunc("GET /api/jobs", jobsHandler.ListJobs)
		mux.HandleFunc("GET /api/jobs/{id}", func(w http.ResponseWriter, r *http.Request) {
			jobsHandler.GetJob(w, r, r.PathValue("id"))
		})
	}

	return middleware.Chain(mux,
		middleware.Recovery(d.Log),
		middleware.RequestID,
		middleware.Logger(d.Log),
		middleware.CORS,
		middleware.Auth(d.JWTSecret),
	)
}
