package domain

import (
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/shopspring/decimal"
)

// Nature classifies a line item as revenue, cost or neither.
type Nature string

const (
	NatureRevenue Nature = "RECEITA"
	NatureCost    Nature = "CUSTO"
	NatureOther   Nature = "OUTRO"
)

// Valid reports whether n is one of the known natures.
func (n Nature) Valid() bool {
	switch n {
	case NatureRevenue, NatureCost, NatureOther:
		return true
	}
	return false
}

// LineItem is one normalized financial record produced by ingestion.
// Amounts are stored signed, exactly as they appear in the source sheet.
type LineItem struct {
	BatchID     string
	Row         int // 1-based row number in the source sheet
	Project     string
	Client      string
	Period      Period
	Nature      Nature
	Category    string // conta_resumo as written in the sheet
	Amount      decimal.Decimal
	Description string
	CreatedAt   time.Time
}

// NaturalKey identifies a line item for idempotent loads.
type NaturalKey struct {
	BatchID  string
	Project  string
	Period   string
	Category string
	Row      int
}

// Key returns the natural key of the item.
func (li LineItem) Key() NaturalKey {
	return NaturalKey{
		BatchID:  li.BatchID,
		Project:  li.Project,
		Period:   li.Period.String(),
		Category: li.Category,
		Row:      li.Row,
	}
}

// Validate checks the invariants every persisted line item must hold.
func (li LineItem) Validate() error {
	if strings.TrimSpace(li.Project) == "" {
		return &FieldCoercionError{Field: FieldProject, Err: errors.New("project is empty")}
	}
	if strings.TrimSpace(li.Category) == "" {
		return &FieldCoercionError{Field: FieldCategory, Err: errors.New("category is empty")}
	}
	if err := li.Period.Validate(); err != nil {
		return err
	}
	if !li.Nature.Valid() {
		return &FieldCoercionError{Field: FieldNature, Value: string(li.Nature), Err: errors.New("unknown nature")}
	}
	return nil
}

// UploadBatch groups the line items produced from one source file.
// A batch is created once and never mutated.
type UploadBatch struct {
	ID          string
	SourceName  string
	ExecutionID string // run that first created the batch
	ContentHash string // hex SHA-256 of the raw file
	CreatedAt   time.Time
}

// RunStatus is the lifecycle state of an ingestion run.
type RunStatus string

const (
	RunStatusRunning RunStatus = "RUNNING"
	RunStatusSuccess RunStatus = "SUCCESS"
	RunStatusFailed  RunStatus = "FAILED"
)

// MaxRunErrorLength caps the error message stored on a failed run.
const MaxRunErrorLength = 2000

// IngestionRun records one attempt to ingest a source.
type IngestionRun struct {
	ID         string
	BatchID    string
	Source     string
	Status     RunStatus
	Loaded     int
	Rejected   int
	Error      string
	StartedAt  time.Time
	FinishedAt *time.Time
}

// TruncateRunError shortens msg to MaxRunErrorLength.
func TruncateRunError(msg string) string {
	if len(msg) <= MaxRunErrorLength {
		return msg
	}
	cut := MaxRunErrorLength
	for cut > 0 && !utf8.RuneStart(msg[cut]) {
		cut--
	}
	return msg[:cut]
}

// ProjectDimension is a project lookup entry derived from line items.
type ProjectDimension struct {
	Code string
	Name string
}

// PeriodDimension is a period lookup entry derived from line items.
type PeriodDimension struct {
	Code  string // YYYY-MM
	Name  string // M/YYYY
	Year  int
	Month int
}

// Rejection explains why a source row did not become a line item.
type Rejection struct {
	Row    int               `json:"row"`
	Field  string            `json:"field"`
	Value  string            `json:"value,omitempty"`
	Reason string            `json:"reason"`
	Raw    map[string]string `json:"raw,omitempty"`
}
