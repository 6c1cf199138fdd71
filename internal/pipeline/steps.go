package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/dvloznov/dre-reports/internal/domain"
	"github.com/dvloznov/dre-reports/internal/fetcher"
	"github.com/dvloznov/dre-reports/internal/logger"
	"github.com/dvloznov/dre-reports/internal/normalize"
	"github.com/dvloznov/dre-reports/internal/parser"
	"github.com/dvloznov/dre-reports/internal/storage"
	"github.com/dvloznov/dre-reports/internal/store"
)

// PipelineStep represents a single step in the ingestion pipeline.
type PipelineStep interface {
	Name() string
	Execute(ctx context.Context, state *PipelineState) error
}

// PipelineState holds the shared state across all pipeline steps.
type PipelineState struct {
	Source      fetcher.Source
	BatchID     string
	ExecutionID string

	Payload    *fetcher.Payload
	ArchiveURI string

	Records    int
	Items      []domain.LineItem
	Rejections []domain.Rejection

	Load store.LoadResult
}

// FetchStep retrieves the file and fixes the batch id.
type FetchStep struct {
	Fetcher Fetcher
}

func (s *FetchStep) Name() string { return "fetch" }

func (s *FetchStep) Execute(ctx context.Context, state *PipelineState) error {
	payload, err := s.Fetcher.Fetch(ctx, state.Source)
	if err != nil {
		return err
	}
	state.Payload = payload
	if state.BatchID == "" {
		state.BatchID = BatchIDFor(payload.SHA256)
	}
	return nil
}

// ArchiveStep copies the raw file to blob storage before it is parsed.
// It does nothing without a blob store or when the file already lives there.
type ArchiveStep struct {
	Blobs  storage.BlobStore
	Prefix string
	Now    func() time.Time
}

func (s *ArchiveStep) Name() string { return "archive" }

func (s *ArchiveStep) Execute(ctx context.Context, state *PipelineState) error {
	if s.Blobs == nil {
		return nil
	}
	if state.Source.Kind == fetcher.SourceBlob {
		state.ArchiveURI = state.Source.URI
		return nil
	}

	now := time.Now
	if s.Now != nil {
		now = s.Now
	}
	object := storage.UploadObjectName(s.Prefix, state.Payload.Name, now())

	uri, err := s.Blobs.Put(ctx, object, state.Payload.Data, state.Payload.ContentType)
	if err != nil {
		return fmt.Errorf("ArchiveStep: %w", err)
	}
	state.ArchiveURI = uri

	log := logger.FromContext(ctx)
	log.Info().Str("uri", uri).Msg("Archived source file")
	return nil
}

// ParseStep reads the sheet and normalizes every row. Rows that fail
// normalization are collected as rejections; the step fails only when
// no row survives.
type ParseStep struct {
	Parser     *parser.Parser
	Normalizer *normalize.Normalizer
}

func (s *ParseStep) Name() string { return "parse" }

func (s *ParseStep) Execute(ctx context.Context, state *PipelineState) error {
	sheet, err := s.Parser.Open(ctx, state.Payload.Name, state.Payload.Data)
	if err != nil {
		return err
	}
	defer sheet.Close()

	for rec, err := range sheet.Records() {
		if err != nil {
			return fmt.Errorf("ParseStep: read row %d: %w", state.Records+1, err)
		}
		state.Records++

		res := s.Normalizer.Apply(state.BatchID, rec.Row, rec.Fields, rec.Raw)
		if !res.OK() {
			state.Rejections = append(state.Rejections, *res.Rejection)
			continue
		}
		state.Items = append(state.Items, res.Item)
	}

	log := logger.FromContext(ctx)
	log.Info().
		Int("records", state.Records).
		Int("valid", len(state.Items)).
		Int("rejected", len(state.Rejections)).
		Msg("Sheet normalized")

	if len(state.Items) == 0 {
		return fmt.Errorf("ParseStep: %d of %d rows rejected: %w", len(state.Rejections), state.Records, domain.ErrNoValidRows)
	}
	return nil
}

// LoadStep writes the batch in one transaction.
type LoadStep struct {
	Loader Loader
}

func (s *LoadStep) Name() string { return "load" }

func (s *LoadStep) Execute(ctx context.Context, state *PipelineState) error {
	batch := domain.UploadBatch{
		ID:          state.BatchID,
		SourceName:  state.Payload.Name,
		ExecutionID: state.ExecutionID,
		ContentHash: state.Payload.SHA256,
	}
	res, err := s.Loader.LoadBatch(ctx, batch, state.Items)
	if err != nil {
		return err
	}
	state.Load = res
	return nil
}
