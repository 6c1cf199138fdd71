package bigquery

import (
	"math/big"
	"time"

	"cloud.google.com/go/bigquery"
	"cloud.google.com/go/civil"
	"github.com/dvloznov/dre-reports/internal/domain"
	"github.com/shopspring/decimal"
)

// NUMERIC has nine fractional digits.
const numericScale = 9

// LineItemRow is a dre_line_items row as read back from BigQuery.
type LineItemRow struct {
	BatchID     string              `bigquery:"batch_id"`     // REQUIRED
	Linha       int64               `bigquery:"linha"`        // REQUIRED
	Projeto     string              `bigquery:"projeto"`      // REQUIRED
	Cliente     bigquery.NullString `bigquery:"cliente"`      // NULLABLE
	Periodo     string              `bigquery:"periodo"`      // REQUIRED, M/YYYY
	Competencia civil.Date          `bigquery:"competencia"`  // REQUIRED, first day of the month
	Ano         int64               `bigquery:"ano"`          // REQUIRED
	Mes         int64               `bigquery:"mes"`          // REQUIRED
	Natureza    string              `bigquery:"natureza"`     // REQUIRED
	ContaResumo string              `bigquery:"conta_resumo"` // REQUIRED
	Valor       *big.Rat            `bigquery:"valor"`        // REQUIRED NUMERIC
	Descricao   bigquery.NullString `bigquery:"descricao"`    // NULLABLE
	CreatedAt   time.Time           `bigquery:"created_at"`   // REQUIRED
}

// stagingRow is the newline-delimited JSON form loaded into the staging table.
// Column order matches dre_line_items so MERGE can INSERT ROW.
type stagingRow struct {
	BatchID     string     `json:"batch_id"`
	Linha       int        `json:"linha"`
	Projeto     string     `json:"projeto"`
	Cliente     string     `json:"cliente"`
	Periodo     string     `json:"periodo"`
	Competencia civil.Date `json:"competencia"`
	Ano         int        `json:"ano"`
	Mes         int        `json:"mes"`
	Natureza    string     `json:"natureza"`
	ContaResumo string     `json:"conta_resumo"`
	Valor       string     `json:"valor"`
	Descricao   string     `json:"descricao"`
	CreatedAt   time.Time  `json:"created_at"`
}

// stagingSchema mirrors dre_line_items.
var stagingSchema = bigquery.Schema{
	{Name: "batch_id", Type: bigquery.StringFieldType, Required: true},
	{Name: "linha", Type: bigquery.IntegerFieldType, Required: true},
	{Name: "projeto", Type: bigquery.StringFieldType, Required: true},
	{Name: "cliente", Type: bigquery.StringFieldType},
	{Name: "periodo", Type: bigquery.StringFieldType, Required: true},
	{Name: "competencia", Type: bigquery.DateFieldType, Required: true},
	{Name: "ano", Type: bigquery.IntegerFieldType, Required: true},
	{Name: "mes", Type: bigquery.IntegerFieldType, Required: true},
	{Name: "natureza", Type: bigquery.StringFieldType, Required: true},
	{Name: "conta_resumo", Type: bigquery.StringFieldType, Required: true},
	{Name: "valor", Type: bigquery.NumericFieldType, Required: true},
	{Name: "descricao", Type: bigquery.StringFieldType},
	{Name: "created_at", Type: bigquery.TimestampFieldType, Required: true},
}

func toStagingRow(li domain.LineItem, now time.Time) stagingRow {
	created := li.CreatedAt
	if created.IsZero() {
		created = now
	}
	return stagingRow{
		BatchID:     li.BatchID,
		Linha:       li.Row,
		Projeto:     li.Project,
		Cliente:     li.Client,
		Periodo:     li.Period.String(),
		Competencia: civil.Date{Year: li.Period.Year, Month: time.Month(li.Period.Month), Day: 1},
		Ano:         li.Period.Year,
		Mes:         li.Period.Month,
		Natureza:    string(li.Nature),
		ContaResumo: li.Category,
		Valor:       li.Amount.String(),
		Descricao:   li.Description,
		CreatedAt:   created.UTC(),
	}
}

// ToLineItem converts a stored row back into a domain item.
func (r *LineItemRow) ToLineItem() domain.LineItem {
	amount := decimal.Zero
	if r.Valor != nil {
		amount = decimal.NewFromBigRat(r.Valor, numericScale)
	}
	return domain.LineItem{
		BatchID:     r.BatchID,
		Row:         int(r.Linha),
		Project:     r.Projeto,
		Client:      r.Cliente.StringVal,
		Period:      domain.Period{Month: int(r.Mes), Year: int(r.Ano)},
		Nature:      domain.Nature(r.Natureza),
		Category:    r.ContaResumo,
		Amount:      amount,
		Description: r.Descricao.StringVal,
		CreatedAt:   r.CreatedAt,
	}
}

// BatchRow is an upload_batches row with its summary counts.
type BatchRow struct {
	BatchID       string    `bigquery:"batch_id"`
	SourceName    string    `bigquery:"source_name"`
	ExecutionID   string    `bigquery:"execution_id"`
	ContentHash   string    `bigquery:"content_hash"`
	CreatedAt     time.Time `bigquery:"created_at"`
	Items         int64     `bigquery:"items"`
	ActivePeriods int64     `bigquery:"active_periods"`
}

// RunRow is an ingestion_runs row.
type RunRow struct {
	RunID        string                 `bigquery:"run_id"`        // REQUIRED
	BatchID      bigquery.NullString    `bigquery:"batch_id"`      // NULLABLE
	Source       bigquery.NullString    `bigquery:"source"`        // NULLABLE
	Status       string                 `bigquery:"status"`        // REQUIRED
	Loaded       bigquery.NullInt64     `bigquery:"loaded"`        // NULLABLE
	Rejected     bigquery.NullInt64     `bigquery:"rejected"`      // NULLABLE
	ErrorMessage bigquery.NullString    `bigquery:"error_message"` // NULLABLE
	StartedAt    time.Time              `bigquery:"started_at"`    // REQUIRED
	FinishedAt   bigquery.NullTimestamp `bigquery:"finished_at"`   // NULLABLE
}

// ToRun converts the row into a domain run.
func (r *RunRow) ToRun() domain.IngestionRun {
	run := domain.IngestionRun{
		ID:        r.RunID,
		BatchID:   r.BatchID.StringVal,
		Source:    r.Source.StringVal,
		Status:    domain.RunStatus(r.Status),
		Loaded:    int(r.Loaded.Int64),
		Rejected:  int(r.Rejected.Int64),
		Error:     r.ErrorMessage.StringVal,
		StartedAt: r.StartedAt,
	}
	if r.FinishedAt.Valid {
		t := r.FinishedAt.Timestamp
		run.FinishedAt = &t
	}
	return run
}

type projectParam struct {
	Code string `bigquery:"code"`
	Name string `bigquery:"name"`
}

type periodParam struct {
	Code string `bigquery:"code"`
	Name string `bigquery:"name"`
	Ano  int64  `bigquery:"ano"`
	Mes  int64  `bigquery:"mes"`
}
