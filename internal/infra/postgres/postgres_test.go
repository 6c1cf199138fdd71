package postgres

import (
	"context"
	"os"
	"testing"

	"github.com/dvloznov/dre-reports/internal/domain"
	"github.com/dvloznov/dre-reports/internal/store"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLockKey(t *testing.T) {
	pp := store.ProjectPeriod{Project: "P1 - Projeto", Period: domain.Period{Month: 3, Year: 2024}}
	assert.Equal(t, "P1 - Projeto|3/2024", LockKey(pp))
}

func TestNumeric(t *testing.T) {
	n := numeric(decimal.RequireFromString("-1234.56"))
	require.True(t, n.Valid)
	assert.Equal(t, int64(-123456), n.Int.Int64())
	assert.Equal(t, int32(-2), n.Exp)
}

// TestStore_Integration runs against a real database when
// DRE_TEST_DATABASE_URL is set.
func TestStore_Integration(t *testing.T) {
	url := os.Getenv("DRE_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("DRE_TEST_DATABASE_URL not set")
	}
	ctx := context.Background()

	s, err := Open(ctx, url)
	require.NoError(t, err)
	defer s.Close()

	_, err = s.Migrate(ctx, "test")
	require.NoError(t, err)

	batchID := uuid.NewString()
	project := "TEST-" + batchID[:8]
	items := []domain.LineItem{
		{BatchID: batchID, Row: 2, Project: project, Period: domain.Period{Month: 1, Year: 2024}, Nature: domain.NatureRevenue, Category: "RECEITA", Amount: decimal.RequireFromString("1000.00")},
		{BatchID: batchID, Row: 3, Project: project, Period: domain.Period{Month: 1, Year: 2024}, Nature: domain.NatureCost, Category: "CLT", Amount: decimal.RequireFromString("-500.25")},
	}
	batch := domain.UploadBatch{ID: batchID, SourceName: "it.xlsx", ExecutionID: uuid.NewString()}

	res, err := s.LoadBatch(ctx, batch, items)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Inserted)

	res, err = s.LoadBatch(ctx, batch, items)
	require.NoError(t, err)
	assert.Equal(t, store.LoadResult{Skipped: 2}, res)

	got, err := s.QueryLineItems(ctx, store.Filter{Project: project})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.True(t, items[1].Amount.Equal(got[1].Amount))
}
