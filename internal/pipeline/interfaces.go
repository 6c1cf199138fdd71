package pipeline

import (
	"context"

	"github.com/dvloznov/dre-reports/internal/domain"
	"github.com/dvloznov/dre-reports/internal/fetcher"
	"github.com/dvloznov/dre-reports/internal/store"
)

// Fetcher retrieves the source spreadsheet.
type Fetcher interface {
	Fetch(ctx context.Context, src fetcher.Source) (*fetcher.Payload, error)
}

// Loader persists one batch of line items.
type Loader interface {
	LoadBatch(ctx context.Context, batch domain.UploadBatch, items []domain.LineItem) (store.LoadResult, error)
}

// RunTracker records the lifecycle of ingestion runs.
type RunTracker interface {
	StartRun(ctx context.Context, run *domain.IngestionRun) error
	FinishRun(ctx context.Context, run *domain.IngestionRun) error
}
