package dimensions

import (
	"context"
	"errors"
	"testing"

	"github.com/dvloznov/dre-reports/internal/domain"
	"github.com/dvloznov/dre-reports/internal/infra/sqlite"
	"github.com/dvloznov/dre-reports/internal/store"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func lineItem(row int, project string, month, year int) domain.LineItem {
	return domain.LineItem{
		BatchID:  "b1",
		Row:      row,
		Project:  project,
		Period:   domain.Period{Month: month, Year: year},
		Nature:   domain.NatureRevenue,
		Category: "RECEITA",
		Amount:   decimal.NewFromInt(10),
	}
}

func TestProjectOf(t *testing.T) {
	tests := []struct {
		label string
		want  domain.ProjectDimension
	}{
		{"1234 - Projeto Alfa", domain.ProjectDimension{Code: "1234", Name: "Projeto Alfa"}},
		{"  ABC-9  -   Migração  Core ", domain.ProjectDimension{Code: "ABC-9", Name: "Migração Core"}},
		{"Projeto Sem Código", domain.ProjectDimension{Code: "projeto-sem-codigo", Name: "Projeto Sem Código"}},
		{" - sem código", domain.ProjectDimension{Code: "sem-codigo", Name: "- sem código"}},
	}
	for _, tt := range tests {
		t.Run(tt.label, func(t *testing.T) {
			assert.Equal(t, tt.want, ProjectOf(tt.label))
		})
	}
}

func TestSlug(t *testing.T) {
	assert.Equal(t, "acao-social-2024", Slug("  Ação  Social / 2024 "))
	assert.Equal(t, "", Slug("---"))
}

func TestProjectsAndPeriods(t *testing.T) {
	items := []domain.LineItem{
		lineItem(2, "20 - Beta", 2, 2024),
		lineItem(3, "10 - Alfa", 12, 2023),
		lineItem(4, "10 - Alfa", 1, 2024),
		lineItem(5, "20 - Beta", 2, 2024),
	}

	projects := Projects(items)
	assert.Equal(t, []domain.ProjectDimension{
		{Code: "10", Name: "Alfa"},
		{Code: "20", Name: "Beta"},
	}, projects)

	periods := Periods(items)
	assert.Equal(t, []domain.PeriodDimension{
		{Code: "2023-12", Name: "12/2023", Year: 2023, Month: 12},
		{Code: "2024-01", Name: "1/2024", Year: 2024, Month: 1},
		{Code: "2024-02", Name: "2/2024", Year: 2024, Month: 2},
	}, periods)
}

// mockSource implements Source for testing.
type mockSource struct {
	QueryFunc   func(ctx context.Context, f store.Filter) ([]domain.LineItem, error)
	ReplaceFunc func(ctx context.Context, projects []domain.ProjectDimension, periods []domain.PeriodDimension) error
}

func (m *mockSource) QueryLineItems(ctx context.Context, f store.Filter) ([]domain.LineItem, error) {
	return m.QueryFunc(ctx, f)
}

func (m *mockSource) ReplaceDimensions(ctx context.Context, projects []domain.ProjectDimension, periods []domain.PeriodDimension) error {
	if m.ReplaceFunc != nil {
		return m.ReplaceFunc(ctx, projects, periods)
	}
	return nil
}

func TestRefresh_QueryErrorSkipsReplace(t *testing.T) {
	replaced := false
	src := &mockSource{
		QueryFunc: func(ctx context.Context, f store.Filter) ([]domain.LineItem, error) {
			return nil, errors.New("connection reset")
		},
		ReplaceFunc: func(ctx context.Context, p []domain.ProjectDimension, q []domain.PeriodDimension) error {
			replaced = true
			return nil
		},
	}

	_, err := Refresh(context.Background(), src)
	require.Error(t, err)
	assert.False(t, replaced)
}

func TestRefresh_SQLiteIdempotent(t *testing.T) {
	ctx := context.Background()
	s, err := sqlite.Open(ctx, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	_, err = s.Migrate(ctx, "test")
	require.NoError(t, err)

	items := []domain.LineItem{
		lineItem(2, "10 - Alfa", 1, 2024),
		lineItem(3, "Projeto Livre", 2, 2024),
	}
	_, err = s.LoadBatch(ctx, domain.UploadBatch{ID: "b1", SourceName: "dre.xlsx"}, items)
	require.NoError(t, err)

	first, err := Refresh(ctx, s)
	require.NoError(t, err)
	assert.Equal(t, Result{Projects: 2, Periods: 2}, first)

	second, err := Refresh(ctx, s)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	projects, err := s.ListProjectDimensions(ctx)
	require.NoError(t, err)
	assert.Equal(t, []domain.ProjectDimension{
		{Code: "10", Name: "Alfa"},
		{Code: "projeto-livre", Name: "Projeto Livre"},
	}, projects)

	periods, err := s.ListPeriodDimensions(ctx)
	require.NoError(t, err)
	require.Len(t, periods, 2)
	assert.Equal(t, "2024-01", periods[0].Code)
}
