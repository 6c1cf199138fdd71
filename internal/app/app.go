// Package app wires configuration into the store, fetcher, parser and
// ingestion pipeline shared by the binaries.
package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/dvloznov/dre-reports/internal/config"
	"github.com/dvloznov/dre-reports/internal/domain"
	"github.com/dvloznov/dre-reports/internal/fetcher"
	"github.com/dvloznov/dre-reports/internal/infra"
	"github.com/dvloznov/dre-reports/internal/jobs"
	"github.com/dvloznov/dre-reports/internal/logger"
	"github.com/dvloznov/dre-reports/internal/parser"
	"github.com/dvloznov/dre-reports/internal/pipeline"
	"github.com/dvloznov/dre-reports/internal/storage"
	"github.com/dvloznov/dre-reports/internal/store"
)

// App holds the long-lived dependencies of a process.
type App struct {
	Config   *config.Config
	Store    store.Store
	Blobs    storage.BlobStore // nil without storage.bucket
	Parser   *parser.Parser
	Ingestor *pipeline.Ingestor

	gcs *storage.GCSBlobStore
}

// New opens the store and blob storage and builds the ingestion pipeline.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	log := logger.FromContext(ctx)

	p, err := NewParser(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("New: %w", err)
	}

	st, err := infra.OpenStore(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("New: %w", err)
	}
	a := &App{Config: cfg, Store: st, Parser: p}

	if cfg.Storage.Bucket != "" {
		gcs, err := storage.NewGCSBlobStore(ctx, cfg.Storage.Bucket)
		if err != nil {
			st.Close()
			return nil, fmt.Errorf("New: %w", err)
		}
		a.gcs, a.Blobs = gcs, gcs
	} else {
		log.Warn().Msg("No storage bucket configured, uploads will not be archived")
	}

	a.Ingestor = pipeline.NewIngestor(pipeline.Deps{
		Fetcher: fetcher.New(nil, a.Blobs, FetchOptions(cfg)),
		Parser:  p,
		Loader:  st,
		Runs:    st,
		Blobs:   a.Blobs,
		Prefix:  cfg.Storage.Prefix,
	})
	return a, nil
}

// Close releases the store and storage clients.
func (a *App) Close() error {
	var errs []error
	if a.gcs != nil {
		errs = append(errs, a.gcs.Close())
	}
	errs = append(errs, a.Store.Close())
	return errors.Join(errs...)
}

// FetchOptions converts the fetch section of cfg.
func FetchOptions(cfg *config.Config) fetcher.Options {
	opts := fetcher.DefaultOptions()
	opts.Timeout = cfg.Fetch.Timeout
	opts.MaxAttempts = cfg.Fetch.MaxAttempts
	opts.BaseDelay = cfg.Fetch.BaseDelay
	opts.MaxDelay = cfg.Fetch.MaxDelay
	if limit := cfg.MaxUploadBytes(); limit > 0 {
		opts.MaxBytes = limit
	}
	return opts
}

// NewParser loads the header mapping and enables the configured fallbacks.
func NewParser(ctx context.Context, cfg *config.Config) (*parser.Parser, error) {
	table, err := LoadMapping(cfg)
	if err != nil {
		return nil, err
	}

	opts := []parser.Option{parser.WithFuzzy(cfg.Mapping.Fuzzy)}
	if cfg.AI.Enabled {
		resolver, err := parser.NewGeminiResolver(ctx, cfg.AI.APIKey, cfg.AI.Model)
		if err != nil {
			return nil, fmt.Errorf("NewParser: %w", err)
		}
		opts = append(opts, parser.WithResolver(resolver))
		log := logger.FromContext(ctx)
		log.Info().Str("model", cfg.AI.Model).Msg("AI header resolution enabled")
	}
	return parser.New(table, opts...), nil
}

// LoadMapping returns the mapping file named in cfg, or the built-in table.
func LoadMapping(cfg *config.Config) (*parser.MappingTable, error) {
	if cfg.Mapping.File == "" {
		return parser.DefaultMapping()
	}
	table, err := parser.LoadMapping(cfg.Mapping.File)
	if err != nil {
		return nil, fmt.Errorf("LoadMapping: %w", err)
	}
	return table, nil
}

// Ingester runs one ingestion.
type Ingester interface {
	Ingest(ctx context.Context, req pipeline.Request) (*pipeline.Result, error)
}

// JobHandler runs queued ingest jobs through ingestor. Failures that another
// attempt cannot fix are marked permanent.
func JobHandler(ingestor Ingester) jobs.JobHandler {
	return func(ctx context.Context, job jobs.Job) error {
		ingestJob, ok := job.(*jobs.IngestJob)
		if !ok {
			return jobs.Permanent(fmt.Errorf("unexpected job type: %T", job))
		}

		src := fetcher.URL(ingestJob.URL)
		if ingestJob.URI != "" {
			src = fetcher.Blob(ingestJob.URI)
		}

		log := logger.FromContext(ctx)
		log.Info().Str("source", src.String()).Msg("Processing ingest job")

		res, err := ingestor.Ingest(ctx, pipeline.Request{Source: src, BatchID: ingestJob.BatchID})
		if res != nil {
			ingestJob.ExecutionID = res.ExecutionID
			ingestJob.Loaded = res.Loaded
			ingestJob.Rejected = res.Rejected
		}
		if err != nil {
			if !Retryable(err) {
				return jobs.Permanent(err)
			}
			return err
		}

		log.Info().
			Str("execution_id", res.ExecutionID).
			Int("loaded", res.Loaded).
			Int("rejected", res.Rejected).
			Msg("Ingest job completed")
		return nil
	}
}

// Retryable reports whether an ingestion failure may succeed on another
// attempt. Content problems and client-side download errors will not.
func Retryable(err error) bool {
	var (
		empty   *domain.EmptySheetError
		mapping *domain.HeaderMappingError
		fetch   *domain.FetchError
	)
	switch {
	case errors.Is(err, domain.ErrNoValidRows),
		errors.Is(err, parser.ErrUnsupportedFormat),
		errors.As(err, &empty),
		errors.As(err, &mapping):
		return false
	case errors.As(err, &fetch):
		return fetch.StatusCode == 0 || fetch.StatusCode == 429 || fetch.StatusCode >= 500
	}
	return true
}
