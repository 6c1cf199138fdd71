package pipeline_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/dvloznov/dre-reports/internal/domain"
	"github.com/dvloznov/dre-reports/internal/fetcher"
	"github.com/dvloznov/dre-reports/internal/infra/sqlite"
	"github.com/dvloznov/dre-reports/internal/parser"
	"github.com/dvloznov/dre-reports/internal/pipeline"
	"github.com/dvloznov/dre-reports/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleCSV = "Projeto;Período;Natureza;Conta Resumo;Valor\n" +
	"P1 - Alfa;1/2024;RECEITA;RECEITA;1.000,00\n" +
	"P1 - Alfa;1/2024;CUSTO;CLT;-500\n" +
	"P1 - Alfa;13/2024;CUSTO;CLT;-1\n" +
	"P1 - Alfa;2/2024;CUSTO;CLT;abc\n"

// MockRunTracker records run transitions.
type MockRunTracker struct {
	StartRunFunc  func(ctx context.Context, run *domain.IngestionRun) error
	FinishRunFunc func(ctx context.Context, run *domain.IngestionRun) error
	finished      []domain.IngestionRun
}

func (m *MockRunTracker) StartRun(ctx context.Context, run *domain.IngestionRun) error {
	if m.StartRunFunc != nil {
		return m.StartRunFunc(ctx, run)
	}
	return nil
}

func (m *MockRunTracker) FinishRun(ctx context.Context, run *domain.IngestionRun) error {
	m.finished = append(m.finished, *run)
	if m.FinishRunFunc != nil {
		return m.FinishRunFunc(ctx, run)
	}
	return nil
}

// MockLoader implements pipeline.Loader.
type MockLoader struct {
	LoadBatchFunc func(ctx context.Context, batch domain.UploadBatch, items []domain.LineItem) (store.LoadResult, error)
}

func (m *MockLoader) LoadBatch(ctx context.Context, batch domain.UploadBatch, items []domain.LineItem) (store.LoadResult, error) {
	if m.LoadBatchFunc != nil {
		return m.LoadBatchFunc(ctx, batch, items)
	}
	return store.LoadResult{Inserted: len(items)}, nil
}

// MockBlobStore implements storage.BlobStore.
type MockBlobStore struct {
	puts []string
}

func (m *MockBlobStore) Put(ctx context.Context, object string, data []byte, contentType string) (string, error) {
	m.puts = append(m.puts, object)
	return "gs://test-bucket/" + object, nil
}

func (m *MockBlobStore) Get(ctx context.Context, bucket, object string) ([]byte, error) {
	return nil, errors.New("not implemented")
}

func (m *MockBlobStore) Bucket() string { return "test-bucket" }

func newParser(t *testing.T) *parser.Parser {
	t.Helper()
	table, err := parser.DefaultMapping()
	require.NoError(t, err)
	return parser.New(table)
}

func newFetcher() *fetcher.Fetcher {
	return fetcher.New(nil, nil, fetcher.DefaultOptions())
}

func TestIngest_CollectsRejectionsAndLoads(t *testing.T) {
	runs := &MockRunTracker{}
	var loaded []domain.LineItem
	loader := &MockLoader{
		LoadBatchFunc: func(ctx context.Context, batch domain.UploadBatch, items []domain.LineItem) (store.LoadResult, error) {
			assert.Equal(t, "dre.csv", batch.SourceName)
			assert.NotEmpty(t, batch.ContentHash)
			loaded = items
			return store.LoadResult{Inserted: len(items)}, nil
		},
	}
	blobs := &MockBlobStore{}

	ing := pipeline.NewIngestor(pipeline.Deps{
		Fetcher: newFetcher(),
		Parser:  newParser(t),
		Loader:  loader,
		Runs:    runs,
		Blobs:   blobs,
		Prefix:  "uploads/",
	})

	res, err := ing.Ingest(context.Background(), pipeline.Request{
		Source: fetcher.Upload("dre.csv", []byte(sampleCSV)),
	})
	require.NoError(t, err)

	assert.Equal(t, 4, res.Records)
	assert.Equal(t, 2, res.Loaded)
	assert.Equal(t, 2, res.Rejected)
	require.Len(t, res.Rejections, 2)
	assert.Equal(t, domain.FieldPeriod, res.Rejections[0].Field)
	assert.Equal(t, 4, res.Rejections[0].Row)
	assert.Equal(t, domain.FieldAmount, res.Rejections[1].Field)

	require.Len(t, loaded, 2)
	assert.Equal(t, res.BatchID, loaded[0].BatchID)

	require.Len(t, blobs.puts, 1)
	assert.True(t, strings.HasPrefix(blobs.puts[0], "uploads/dre_"))
	assert.Equal(t, "gs://test-bucket/"+blobs.puts[0], res.ArchiveURI)

	require.Len(t, runs.finished, 1)
	assert.Equal(t, domain.RunStatusSuccess, runs.finished[0].Status)
	assert.Equal(t, res.ExecutionID, runs.finished[0].ID)
	assert.Equal(t, 2, runs.finished[0].Rejected)
}

func TestIngest_BatchIDIsStableForSameContent(t *testing.T) {
	ing := pipeline.NewIngestor(pipeline.Deps{
		Fetcher: newFetcher(),
		Parser:  newParser(t),
		Loader:  &MockLoader{},
		Runs:    &MockRunTracker{},
	})

	first, err := ing.Ingest(context.Background(), pipeline.Request{Source: fetcher.Upload("a.csv", []byte(sampleCSV))})
	require.NoError(t, err)
	second, err := ing.Ingest(context.Background(), pipeline.Request{Source: fetcher.Upload("b.csv", []byte(sampleCSV))})
	require.NoError(t, err)

	assert.Equal(t, first.BatchID, second.BatchID)
	assert.NotEqual(t, first.ExecutionID, second.ExecutionID)

	explicit, err := ing.Ingest(context.Background(), pipeline.Request{
		Source:  fetcher.Upload("a.csv", []byte(sampleCSV)),
		BatchID: "manual-1",
	})
	require.NoError(t, err)
	assert.Equal(t, "manual-1", explicit.BatchID)
}

func TestIngest_AllRowsRejected(t *testing.T) {
	runs := &MockRunTracker{}
	loader := &MockLoader{
		LoadBatchFunc: func(ctx context.Context, batch domain.UploadBatch, items []domain.LineItem) (store.LoadResult, error) {
			t.Fatal("loader must not be called")
			return store.LoadResult{}, nil
		},
	}
	ing := pipeline.NewIngestor(pipeline.Deps{Fetcher: newFetcher(), Parser: newParser(t), Loader: loader, Runs: runs})

	data := "Projeto,Periodo,Conta Resumo,Valor\nP1,1/2024,CLT,\nP1,0/2024,CLT,10\n"
	res, err := ing.Ingest(context.Background(), pipeline.Request{Source: fetcher.Upload("bad.csv", []byte(data))})
	require.ErrorIs(t, err, domain.ErrNoValidRows)
	require.NotNil(t, res)
	assert.Equal(t, 2, res.Records)
	assert.Equal(t, 2, res.Rejected)

	require.Len(t, runs.finished, 1)
	assert.Equal(t, domain.RunStatusFailed, runs.finished[0].Status)
	assert.Contains(t, runs.finished[0].Error, "no valid rows")
}

func TestIngest_HeaderOnlySheet(t *testing.T) {
	runs := &MockRunTracker{}
	ing := pipeline.NewIngestor(pipeline.Deps{Fetcher: newFetcher(), Parser: newParser(t), Loader: &MockLoader{}, Runs: runs})

	_, err := ing.Ingest(context.Background(), pipeline.Request{
		Source: fetcher.Upload("empty.csv", []byte("Projeto,Periodo,Conta Resumo,Valor\n")),
	})
	var empty *domain.EmptySheetError
	assert.ErrorAs(t, err, &empty)
	assert.Equal(t, domain.RunStatusFailed, runs.finished[0].Status)
}

func TestIngest_LoaderFailureFailsRun(t *testing.T) {
	runs := &MockRunTracker{}
	loader := &MockLoader{
		LoadBatchFunc: func(ctx context.Context, batch domain.UploadBatch, items []domain.LineItem) (store.LoadResult, error) {
			return store.LoadResult{}, &domain.PersistenceError{Op: "load batch", Err: errors.New("deadlock")}
		},
	}
	ing := pipeline.NewIngestor(pipeline.Deps{Fetcher: newFetcher(), Parser: newParser(t), Loader: loader, Runs: runs})

	res, err := ing.Ingest(context.Background(), pipeline.Request{Source: fetcher.Upload("dre.csv", []byte(sampleCSV))})
	var pe *domain.PersistenceError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, 0, res.Loaded)
	assert.Equal(t, domain.RunStatusFailed, runs.finished[0].Status)
}

func TestIngest_StartRunFailure(t *testing.T) {
	runs := &MockRunTracker{
		StartRunFunc: func(ctx context.Context, run *domain.IngestionRun) error {
			return errors.New("db down")
		},
	}
	ing := pipeline.NewIngestor(pipeline.Deps{Fetcher: newFetcher(), Parser: newParser(t), Loader: &MockLoader{}, Runs: runs})

	res, err := ing.Ingest(context.Background(), pipeline.Request{Source: fetcher.Upload("dre.csv", []byte(sampleCSV))})
	assert.Error(t, err)
	assert.Nil(t, res)
	assert.Empty(t, runs.finished)
}

func TestIngest_SQLiteEndToEnd(t *testing.T) {
	ctx := context.Background()
	s, err := sqlite.Open(ctx, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	_, err = s.Migrate(ctx, "test")
	require.NoError(t, err)

	ing := pipeline.NewIngestor(pipeline.Deps{Fetcher: newFetcher(), Parser: newParser(t), Loader: s, Runs: s})
	req := pipeline.Request{Source: fetcher.Upload("dre.csv", []byte(sampleCSV))}

	first, err := ing.Ingest(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, 2, first.Loaded)

	second, err := ing.Ingest(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, 0, second.Loaded)
	assert.Equal(t, 2, second.Skipped)

	items, err := s.QueryLineItems(ctx, store.Filter{Project: "P1 - Alfa"})
	require.NoError(t, err)
	assert.Len(t, items, 2)

	runs, err := s.ListRuns(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	for _, r := range runs {
		assert.Equal(t, domain.RunStatusSuccess, r.Status)
		assert.Equal(t, first.BatchID, r.BatchID)
		require.NotNil(t, r.FinishedAt)
		assert.False(t, r.FinishedAt.Before(r.StartedAt.Add(-time.Second)))
	}
}
