package bigquery

import (
	"bufio"
	"bytes"
	"encoding/json"
	"math/big"
	"regexp"
	"testing"
	"time"

	"cloud.google.com/go/bigquery"
	"cloud.google.com/go/civil"
	"github.com/dvloznov/dre-reports/internal/domain"
	"github.com/dvloznov/dre-reports/internal/store"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToStagingRow(t *testing.T) {
	now := time.Date(2024, 2, 1, 9, 0, 0, 0, time.UTC)
	li := domain.LineItem{
		BatchID:  "b1",
		Row:      7,
		Project:  "P1",
		Period:   domain.Period{Month: 3, Year: 2024},
		Nature:   domain.NatureCost,
		Category: "CLT",
		Amount:   decimal.RequireFromString("-1234.56"),
	}

	row := toStagingRow(li, now)
	assert.Equal(t, "3/2024", row.Periodo)
	assert.Equal(t, civil.Date{Year: 2024, Month: time.March, Day: 1}, row.Competencia)
	assert.Equal(t, "-1234.56", row.Valor)
	assert.Equal(t, now, row.CreatedAt)

	data, err := encodeNDJSON([]stagingRow{row, row})
	require.NoError(t, err)

	lines := 0
	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		var decoded map[string]any
		require.NoError(t, json.Unmarshal(sc.Bytes(), &decoded))
		assert.Equal(t, "2024-03-01", decoded["competencia"])
		assert.Equal(t, "-1234.56", decoded["valor"])
		lines++
	}
	assert.Equal(t, 2, lines)
}

func TestStagingSchemaMatchesRow(t *testing.T) {
	var decoded map[string]any
	data, err := json.Marshal(stagingRow{})
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &decoded))

	assert.Len(t, decoded, len(stagingSchema))
	for _, f := range stagingSchema {
		_, ok := decoded[f.Name]
		assert.True(t, ok, "schema column %s missing from staging row", f.Name)
	}
}

func TestLineItemRow_ToLineItem(t *testing.T) {
	row := LineItemRow{
		BatchID:     "b1",
		Linha:       3,
		Projeto:     "P1",
		Cliente:     bigquery.NullString{StringVal: "ACME", Valid: true},
		Periodo:     "1/2024",
		Ano:         2024,
		Mes:         1,
		Natureza:    "RECEITA",
		ContaResumo: "RECEITA",
		Valor:       big.NewRat(100050, 100),
	}

	li := row.ToLineItem()
	assert.Equal(t, domain.Period{Month: 1, Year: 2024}, li.Period)
	assert.Equal(t, "ACME", li.Client)
	assert.True(t, decimal.RequireFromString("1000.5").Equal(li.Amount))
	assert.NoError(t, li.Validate())
}

func TestRunRow_ToRun(t *testing.T) {
	finished := time.Date(2024, 1, 1, 0, 0, 5, 0, time.UTC)
	row := RunRow{
		RunID:      "r1",
		Status:     "SUCCESS",
		Loaded:     bigquery.NullInt64{Int64: 10, Valid: true},
		FinishedAt: bigquery.NullTimestamp{Timestamp: finished, Valid: true},
	}
	run := row.ToRun()
	assert.Equal(t, domain.RunStatusSuccess, run.Status)
	assert.Equal(t, 10, run.Loaded)
	require.NotNil(t, run.FinishedAt)
	assert.Equal(t, finished, *run.FinishedAt)

	row.FinishedAt = bigquery.NullTimestamp{}
	assert.Nil(t, row.ToRun().FinishedAt)
}

func TestStagingTableName(t *testing.T) {
	name := stagingTableName("4f1c-ab/../x")
	assert.Regexp(t, regexp.MustCompile(`^staging_line_items_[A-Za-z0-9_]+_[0-9a-f]{8}$`), name)
	assert.NotEqual(t, name, stagingTableName("4f1c-ab/../x"), "names are unique per load")
}

func TestBuildFilter(t *testing.T) {
	where, params := buildFilter("li", store.Filter{})
	assert.Empty(t, where)
	assert.Empty(t, params)

	where, params = buildFilter("li", store.Filter{Project: "P1", Month: 2})
	assert.Equal(t, "WHERE li.projeto = @projeto AND li.mes = @mes", where)
	require.Len(t, params, 2)
	assert.Equal(t, "projeto", params[0].Name)
}

func TestQualified(t *testing.T) {
	assert.Equal(t, "`proj.dre.dre_line_items`", qualified("proj", "dre", lineItemsTable))
}
