package domain

import (
	"errors"
	"fmt"
	"strings"
)

// Canonical field names shared by the parser, normalizer and rejection reports.
const (
	FieldProject     = "project"
	FieldClient      = "client"
	FieldPeriod      = "period"
	FieldYear        = "year"
	FieldMonth       = "month"
	FieldNature      = "nature"
	FieldCategory    = "category"
	FieldAmount      = "amount"
	FieldDescription = "description"
)

// ErrNoValidRows is returned when every data row of a sheet was rejected.
var ErrNoValidRows = errors.New("no valid rows to load")

// FetchError reports a failure to retrieve the source file.
type FetchError struct {
	URL        string
	StatusCode int // 0 when no HTTP response was received
	Attempts   int
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch %s: HTTP %d after %d attempt(s): %v", e.URL, e.StatusCode, e.Attempts, e.Err)
	}
	return fmt.Sprintf("fetch %s: failed after %d attempt(s): %v", e.URL, e.Attempts, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// EmptySheetError reports a sheet with no data rows below the header.
type EmptySheetError struct {
	Sheet string
}

func (e *EmptySheetError) Error() string {
	if e.Sheet == "" {
		return "sheet has no data rows"
	}
	return fmt.Sprintf("sheet %q has no data rows", e.Sheet)
}

// HeaderMappingError reports required fields that no header column matched.
type HeaderMappingError struct {
	Missing []string
	Headers []string
}

func (e *HeaderMappingError) Error() string {
	return fmt.Sprintf("required fields not found in header row: %s (headers: %s)",
		strings.Join(e.Missing, ", "), strings.Join(e.Headers, " | "))
}

// FieldCoercionError reports a cell that could not be coerced to its canonical type.
type FieldCoercionError struct {
	Field string
	Value string
	Err   error
}

func (e *FieldCoercionError) Error() string {
	return fmt.Sprintf("cannot coerce %s=%q: %v", e.Field, e.Value, e.Err)
}

func (e *FieldCoercionError) Unwrap() error {
	return e.Err
}

// PeriodParseError reports an unrecognized or out-of-range period.
type PeriodParseError struct {
	Value  string
	Reason string
}

func (e *PeriodParseError) Error() string {
	return fmt.Sprintf("invalid period %q: %s", e.Value, e.Reason)
}

// PersistenceError reports a failure while writing to or reading from the store.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// RejectionFromError converts a normalization error into a rejection for row.
// The field is taken from the error when it carries one.
func RejectionFromError(row int, raw map[string]string, err error) Rejection {
	r := Rejection{Row: row, Raw: raw, Reason: err.Error()}

	var fce *FieldCoercionError
	var ppe *PeriodParseError
	switch {
	case errors.As(err, &fce):
		r.Field = fce.Field
		r.Value = fce.Value
	case errors.As(err, &ppe):
		r.Field = FieldPeriod
		r.Value = ppe.Value
	}
	return r
}
