package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/dvloznov/dre-reports/internal/config"
	"github.com/dvloznov/dre-reports/internal/domain"
	"github.com/dvloznov/dre-reports/internal/fetcher"
	"github.com/dvloznov/dre-reports/internal/jobs"
	"github.com/dvloznov/dre-reports/internal/parser"
	"github.com/dvloznov/dre-reports/internal/pipeline"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockIngester implements Ingester for testing.
type mockIngester struct {
	res *pipeline.Result
	err error
	req pipeline.Request
}

func (m *mockIngester) Ingest(ctx context.Context, req pipeline.Request) (*pipeline.Result, error) {
	m.req = req
	return m.res, m.err
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := &config.Config{}
	cfg.Database.Driver = config.DriverSQLite
	cfg.Database.SQLitePath = filepath.Join(t.TempDir(), "dre.db")
	cfg.HTTP.Port = 8080
	cfg.HTTP.MaxUploadMB = 8
	cfg.Fetch.MaxAttempts = 2
	cfg.Jobs.Workers = 1
	cfg.Mapping.Fuzzy = true
	require.NoError(t, cfg.Validate())
	return cfg
}

func TestNew_SQLite(t *testing.T) {
	ctx := context.Background()
	a, err := New(ctx, testConfig(t))
	require.NoError(t, err)
	defer a.Close()

	_, err = a.Store.Migrate(ctx, "test")
	require.NoError(t, err)

	csv := "Projeto;Período;Conta Resumo;Valor\nP1;1/2024;RECEITA;100\n"
	res, err := a.Ingestor.Ingest(ctx, pipeline.Request{Source: fetcher.Upload("dre.csv", []byte(csv))})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Loaded)
	assert.Empty(t, res.ArchiveURI)
}

func TestFetchOptions(t *testing.T) {
	cfg := testConfig(t)
	opts := FetchOptions(cfg)
	assert.Equal(t, 2, opts.MaxAttempts)
	assert.Equal(t, int64(8<<20), opts.MaxBytes)
}

func TestLoadMapping(t *testing.T) {
	cfg := testConfig(t)
	table, err := LoadMapping(cfg)
	require.NoError(t, err)
	assert.NotEmpty(t, table.Fields)

	cfg.Mapping.File = filepath.Join(t.TempDir(), "missing.yaml")
	_, err = LoadMapping(cfg)
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "mapping.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
fields:
  - {field: project, required: true, patterns: [obra]}
  - {field: category, required: true, patterns: [rubrica]}
  - {field: amount, required: true, patterns: [quantia]}
`), 0o600))
	cfg.Mapping.File = path
	table, err = LoadMapping(cfg)
	require.NoError(t, err)
	assert.Len(t, table.Fields, 3)
}

func TestRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"no valid rows", fmt.Errorf("step: %w", domain.ErrNoValidRows), false},
		{"unsupported format", fmt.Errorf("open: %w", parser.ErrUnsupportedFormat), false},
		{"empty sheet", &domain.EmptySheetError{}, false},
		{"header mapping", &domain.HeaderMappingError{Missing: []string{"amount"}}, false},
		{"not found", &domain.FetchError{StatusCode: 404, Err: errors.New("x")}, false},
		{"server error", &domain.FetchError{StatusCode: 503, Err: errors.New("x")}, true},
		{"transport", &domain.FetchError{Err: errors.New("reset")}, true},
		{"persistence", &domain.PersistenceError{Op: "load", Err: errors.New("locked")}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Retryable(tt.err))
		})
	}
}

func TestJobHandler(t *testing.T) {
	ingester := &mockIngester{res: &pipeline.Result{ExecutionID: "exec-1", Loaded: 4, Rejected: 1}}
	handler := JobHandler(ingester)

	job := &jobs.IngestJob{JobID: "j1", URI: "gs://b/uploads/a.xlsx", BatchID: "b1"}
	require.NoError(t, handler(context.Background(), job))
	assert.Equal(t, fetcher.SourceBlob, ingester.req.Source.Kind)
	assert.Equal(t, "b1", ingester.req.BatchID)
	assert.Equal(t, "exec-1", job.ExecutionID)
	assert.Equal(t, 4, job.Loaded)
	assert.Equal(t, 1, job.Rejected)

	ingester.err = fmt.Errorf("pipeline: %w", domain.ErrNoValidRows)
	err := handler(context.Background(), &jobs.IngestJob{URL: "https://example.com/a.xlsx"})
	assert.True(t, jobs.IsPermanent(err))
	assert.Equal(t, fetcher.SourceURL, ingester.req.Source.Kind)

	ingester.err = &domain.FetchError{StatusCode: 502, Err: errors.New("bad gateway")}
	err = handler(context.Background(), &jobs.IngestJob{URL: "https://example.com/a.xlsx"})
	require.Error(t, err)
	assert.False(t, jobs.IsPermanent(err))
}
