package normalize

import (
	"errors"
	"strings"
	"time"

	"github.com/dvloznov/dre-reports/internal/domain"
)

// Result is the outcome of normalizing one row: either Item is set and
// Rejection is nil, or Rejection explains why the row was dropped.
type Result struct {
	Item      domain.LineItem
	Rejection *domain.Rejection
}

// OK reports whether the row produced a line item.
func (r Result) OK() bool {
	return r.Rejection == nil
}

// Normalizer turns canonical-field rows into line items.
type Normalizer struct {
	now func() time.Time
}

// New creates a Normalizer stamping items with the current time.
func New() *Normalizer {
	return &Normalizer{now: time.Now}
}

// Apply normalizes one row. fields is keyed by canonical field name
// (domain.Field*); raw is kept on the rejection for the caller to inspect.
func (n *Normalizer) Apply(batchID string, row int, fields, raw map[string]string) Result {
	item, err := n.Normalize(batchID, row, fields)
	if err != nil {
		rej := domain.RejectionFromError(row, raw, err)
		return Result{Rejection: &rej}
	}
	return Result{Item: item}
}

// Normalize coerces one row into a validated line item. The first failing
// field is returned as a FieldCoercionError or PeriodParseError.
func (n *Normalizer) Normalize(batchID string, row int, fields map[string]string) (domain.LineItem, error) {
	project := CleanText(fields[domain.FieldProject])
	if project == "" {
		return domain.LineItem{}, &domain.FieldCoercionError{
			Field: domain.FieldProject,
			Value: fields[domain.FieldProject],
			Err:   errors.New("project is empty"),
		}
	}

	category := CleanText(fields[domain.FieldCategory])
	if category == "" {
		return domain.LineItem{}, &domain.FieldCoercionError{
			Field: domain.FieldCategory,
			Value: fields[domain.FieldCategory],
			Err:   errors.New("category is empty"),
		}
	}

	period, err := n.period(fields)
	if err != nil {
		return domain.LineItem{}, err
	}

	amount, err := ParseAmount(fields[domain.FieldAmount])
	if err != nil {
		return domain.LineItem{}, err
	}

	nature, err := ParseNature(fields[domain.FieldNature], category)
	if err != nil {
		return domain.LineItem{}, err
	}

	item := domain.LineItem{
		BatchID:     batchID,
		Row:         row,
		Project:     project,
		Client:      CleanText(fields[domain.FieldClient]),
		Period:      period,
		Nature:      nature,
		Category:    category,
		Amount:      amount,
		Description: CleanText(fields[domain.FieldDescription]),
		CreatedAt:   n.now().UTC(),
	}
	if err := item.Validate(); err != nil {
		return domain.LineItem{}, err
	}
	return item, nil
}

// period prefers the period column and falls back to year + month columns.
func (n *Normalizer) period(fields map[string]string) (domain.Period, error) {
	if raw, ok := fields[domain.FieldPeriod]; ok && strings.TrimSpace(raw) != "" {
		return ParsePeriod(raw)
	}
	year, month := fields[domain.FieldYear], fields[domain.FieldMonth]
	if strings.TrimSpace(year) != "" && strings.TrimSpace(month) != "" {
		return ParseYearMonth(year, month)
	}
	return domain.Period{}, &domain.PeriodParseError{Value: fields[domain.FieldPeriod], Reason: "period is empty"}
}
