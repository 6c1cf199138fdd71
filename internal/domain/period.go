package domain

import (
	"fmt"
	"strconv"
	"strings"
)

// MinPeriodYear is the earliest year accepted for a reporting period.
const MinPeriodYear = 2000

// Period is a reporting month. Its canonical text form is "M/YYYY".
type Period struct {
	Month int
	Year  int
}

// NewPeriod builds a validated period.
func NewPeriod(month, year int) (Period, error) {
	p := Period{Month: month, Year: year}
	if err := p.Validate(); err != nil {
		return Period{}, err
	}
	return p, nil
}

// Validate checks month 1-12 and year >= MinPeriodYear.
func (p Period) Validate() error {
	if p.Month < 1 || p.Month > 12 {
		return &PeriodParseError{Value: p.String(), Reason: fmt.Sprintf("month %d out of range 1-12", p.Month)}
	}
	if p.Year < MinPeriodYear {
		return &PeriodParseError{Value: p.String(), Reason: fmt.Sprintf("year %d before %d", p.Year, MinPeriodYear)}
	}
	return nil
}

// String returns the canonical "M/YYYY" form.
func (p Period) String() string {
	return strconv.Itoa(p.Month) + "/" + strconv.Itoa(p.Year)
}

// Code returns the sortable "YYYY-MM" form used for dimension keys.
func (p Period) Code() string {
	return fmt.Sprintf("%04d-%02d", p.Year, p.Month)
}

// Before reports whether p is earlier than o.
func (p Period) Before(o Period) bool {
	if p.Year != o.Year {
		return p.Year < o.Year
	}
	return p.Month < o.Month
}

// IsZero reports whether the period is unset.
func (p Period) IsZero() bool {
	return p.Month == 0 && p.Year == 0
}

// ParsePeriod parses the canonical "M/YYYY" form (a leading zero on the month
// is accepted). Other input formats are handled by the normalizer.
func ParsePeriod(s string) (Period, error) {
	s = strings.TrimSpace(s)
	m, y, ok := strings.Cut(s, "/")
	if !ok {
		return Period{}, &PeriodParseError{Value: s, Reason: "expected M/YYYY"}
	}
	month, err := strconv.Atoi(m)
	if err != nil {
		return Period{}, &PeriodParseError{Value: s, Reason: "month is not a number"}
	}
	if len(y) != 4 {
		return Period{}, &PeriodParseError{Value: s, Reason: "year must have four digits"}
	}
	year, err := strconv.Atoi(y)
	if err != nil {
		return Period{}, &PeriodParseError{Value: s, Reason: "year is not a number"}
	}
	p := Period{Month: month, Year: year}
	if err := p.Validate(); err != nil {
		return Period{}, &PeriodParseError{Value: s, Reason: err.(*PeriodParseError).Reason}
	}
	return p, nil
}
