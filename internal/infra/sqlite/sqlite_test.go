package sqlite

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/dvloznov/dre-reports/internal/domain"
	"github.com/dvloznov/dre-reports/internal/store"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	ctx := context.Background()

	s, err := Open(ctx, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	n, err := s.Migrate(ctx, "test")
	require.NoError(t, err)
	require.Equal(t, 1, n)
	return s
}

func item(batch string, row int, project string, month, year int, nature domain.Nature, category, amount string) domain.LineItem {
	return domain.LineItem{
		BatchID:  batch,
		Row:      row,
		Project:  project,
		Period:   domain.Period{Month: month, Year: year},
		Nature:   nature,
		Category: category,
		Amount:   decimal.RequireFromString(amount),
	}
}

func sampleItems(batch string) []domain.LineItem {
	return []domain.LineItem{
		item(batch, 2, "P1", 1, 2024, domain.NatureRevenue, "RECEITA", "1000"),
		item(batch, 3, "P1", 1, 2024, domain.NatureCost, "CLT", "-500"),
		item(batch, 4, "P1", 1, 2024, domain.NatureCost, "CLT", "-0.01"),
		item(batch, 5, "P2", 2, 2024, domain.NatureCost, "Subcontratados", "-123.45"),
	}
}

func TestMigrate_Idempotent(t *testing.T) {
	s := newTestStore(t)
	n, err := s.Migrate(context.Background(), "test")
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestLoadBatch_Idempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	batch := domain.UploadBatch{ID: "b1", SourceName: "dre.xlsx", ExecutionID: "run-1", ContentHash: "abc"}

	res, err := s.LoadBatch(ctx, batch, sampleItems("b1"))
	require.NoError(t, err)
	assert.Equal(t, store.LoadResult{Inserted: 4}, res)

	res, err = s.LoadBatch(ctx, batch, sampleItems("b1"))
	require.NoError(t, err)
	assert.Equal(t, store.LoadResult{Inserted: 0, Skipped: 4}, res)

	items, err := s.QueryLineItems(ctx, store.Filter{})
	require.NoError(t, err)
	require.Len(t, items, 4)
	assert.True(t, decimal.RequireFromString("-0.01").Equal(items[2].Amount), "amounts keep exact scale")
	assert.Equal(t, domain.Period{Month: 1, Year: 2024}, items[0].Period)

	batches, err := s.ListBatches(ctx, 0)
	require.NoError(t, err)
	require.Len(t, batches, 1)
	assert.Equal(t, 4, batches[0].Items)
	assert.Equal(t, 2, batches[0].ActivePeriods)
	assert.Equal(t, "run-1", batches[0].ExecutionID)
}

func TestLoadBatch_NewBatchSupersedesPeriod(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.LoadBatch(ctx, domain.UploadBatch{ID: "b1"}, sampleItems("b1"))
	require.NoError(t, err)

	corrected := []domain.LineItem{
		item("b2", 2, "P1", 1, 2024, domain.NatureRevenue, "RECEITA", "2000"),
	}
	_, err = s.LoadBatch(ctx, domain.UploadBatch{ID: "b2"}, corrected)
	require.NoError(t, err)

	p1, err := s.QueryLineItems(ctx, store.Filter{Project: "P1"})
	require.NoError(t, err)
	require.Len(t, p1, 1, "older batch rows for 1/2024 are hidden")
	assert.Equal(t, "b2", p1[0].BatchID)

	p2, err := s.QueryLineItems(ctx, store.Filter{Project: "P2"})
	require.NoError(t, err)
	require.Len(t, p2, 1, "periods not covered by the new batch stay on the old one")
	assert.Equal(t, "b1", p2[0].BatchID)
}

func TestLoadBatch_RollsBackOnError(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	items := sampleItems("b1")
	items[3].BatchID = "other"

	_, err := s.LoadBatch(ctx, domain.UploadBatch{ID: "b1"}, items)
	var pe *domain.PersistenceError
	require.ErrorAs(t, err, &pe)

	got, err := s.QueryLineItems(ctx, store.Filter{})
	require.NoError(t, err)
	assert.Empty(t, got)

	_, err = s.GetBatch(ctx, "b1")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestQueryLineItems_Filter(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	_, err := s.LoadBatch(ctx, domain.UploadBatch{ID: "b1"}, sampleItems("b1"))
	require.NoError(t, err)

	tests := []struct {
		name   string
		filter store.Filter
		want   int
	}{
		{"all", store.Filter{}, 4},
		{"project", store.Filter{Project: "P1"}, 3},
		{"year", store.Filter{Year: 2024}, 4},
		{"month", store.Filter{Year: 2024, Month: 2}, 1},
		{"no match", store.Filter{Year: 2023}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.QueryLineItems(ctx, tt.filter)
			require.NoError(t, err)
			assert.Len(t, got, tt.want)
		})
	}

	projects, err := s.ListProjects(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"P1", "P2"}, projects)

	years, err := s.ListYears(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int{2024}, years)
}

func TestRuns(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	s.now = func() time.Time { return time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC) }

	run := &domain.IngestionRun{ID: "r1", Source: "upload:dre.xlsx"}
	require.NoError(t, s.StartRun(ctx, run))
	assert.Equal(t, domain.RunStatusRunning, run.Status)

	run.Status = domain.RunStatusFailed
	run.Error = strings.Repeat("x", 3000)
	run.Rejected = 3
	require.NoError(t, s.FinishRun(ctx, run))

	runs, err := s.ListRuns(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, domain.RunStatusFailed, runs[0].Status)
	assert.Len(t, runs[0].Error, domain.MaxRunErrorLength)
	assert.Equal(t, 3, runs[0].Rejected)
	require.NotNil(t, runs[0].FinishedAt)
	assert.True(t, runs[0].StartedAt.Equal(s.now()))

	err = s.FinishRun(ctx, &domain.IngestionRun{ID: "missing", Status: domain.RunStatusSuccess})
	assert.True(t, errors.Is(err, store.ErrNotFound))
}

func TestReplaceDimensions(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	projects := []domain.ProjectDimension{{Code: "P1", Name: "Projeto Um"}}
	periods := []domain.PeriodDimension{
		{Code: "2024-02", Name: "2/2024", Year: 2024, Month: 2},
		{Code: "2024-01", Name: "1/2024", Year: 2024, Month: 1},
	}
	require.NoError(t, s.ReplaceDimensions(ctx, projects, periods))
	require.NoError(t, s.ReplaceDimensions(ctx, projects, periods))

	gotProjects, err := s.ListProjectDimensions(ctx)
	require.NoError(t, err)
	assert.Equal(t, projects, gotProjects)

	gotPeriods, err := s.ListPeriodDimensions(ctx)
	require.NoError(t, err)
	require.Len(t, gotPeriods, 2)
	assert.Equal(t, "2024-01", gotPeriods[0].Code)
}
