package normalize

import (
	"errors"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/dvloznov/dre-reports/internal/domain"
	"github.com/xuri/excelize/v2"
)

// Spreadsheet serial range accepted as a date: 2000-01-01 up to 9999-12-31.
const (
	minDateSerial = 36526
	maxDateSerial = 2958465
)

var (
	monthYearRe = regexp.MustCompile(`^(\d{1,2})\s*/\s*(\d{4})$`)
	yearMonthRe = regexp.MustCompile(`^(\d{4})-(\d{1,2})$`)
	isoDateRe   = regexp.MustCompile(`^(\d{4}-\d{2}-\d{2})(?:[T ].*)?$`)
	brDateRe    = regexp.MustCompile(`^(\d{1,2})/(\d{1,2})/(\d{4})$`)
	namedRe     = regexp.MustCompile(`^([a-z]{3,9})\.?\s*[/\-. ]\s*(\d{4})$`)
	serialRe    = regexp.MustCompile(`^\d+(\.\d+)?$`)
)

var monthNames = map[string]int{
	"jan": 1, "janeiro": 1, "january": 1,
	"fev": 2, "fevereiro": 2, "feb": 2, "february": 2,
	"mar": 3, "marco": 3, "march": 3,
	"abr": 4, "abril": 4, "apr": 4, "april": 4,
	"mai": 5, "maio": 5, "may": 5,
	"jun": 6, "junho": 6, "june": 6,
	"jul": 7, "julho": 7, "july": 7,
	"ago": 8, "agosto": 8, "aug": 8, "august": 8,
	"set": 9, "setembro": 9, "sep": 9, "sept": 9, "september": 9,
	"out": 10, "outubro": 10, "oct": 10, "october": 10,
	"nov": 11, "novembro": 11, "november": 11,
	"dez": 12, "dezembro": 12, "dec": 12, "december": 12,
}

// ParsePeriod resolves a period cell to a (month, year) pair.
//
// Accepted forms: "M/YYYY", "MM/YYYY", "YYYY-MM", ISO dates ("2024-01-31",
// RFC 3339 timestamps), "DD/MM/YYYY", month names ("jan/2024",
// "Março 2024") and spreadsheet date serials ("45292"). Anything else, or a
// result outside month 1-12 / year >= 2000, is a PeriodParseError.
func ParsePeriod(raw string) (domain.Period, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return domain.Period{}, &domain.PeriodParseError{Value: raw, Reason: "period is empty"}
	}

	if monthYearRe.MatchString(s) {
		p, err := domain.ParsePeriod(strings.Join(strings.Fields(s), ""))
		var ppe *domain.PeriodParseError
		if errors.As(err, &ppe) {
			ppe.Value = raw
		}
		return p, err
	}
	if m := yearMonthRe.FindStringSubmatch(s); m != nil {
		return periodOf(raw, atoi(m[2]), atoi(m[1]))
	}
	if m := isoDateRe.FindStringSubmatch(s); m != nil {
		t, err := time.Parse("2006-01-02", m[1])
		if err != nil {
			return domain.Period{}, &domain.PeriodParseError{Value: raw, Reason: "invalid ISO date"}
		}
		return periodOf(raw, int(t.Month()), t.Year())
	}
	if m := brDateRe.FindStringSubmatch(s); m != nil {
		t, err := time.Parse("2/1/2006", m[1]+"/"+m[2]+"/"+m[3])
		if err != nil {
			return domain.Period{}, &domain.PeriodParseError{Value: raw, Reason: "invalid DD/MM/YYYY date"}
		}
		return periodOf(raw, int(t.Month()), t.Year())
	}
	if m := namedRe.FindStringSubmatch(Fold(s)); m != nil {
		month, ok := monthNames[m[1]]
		if !ok {
			return domain.Period{}, &domain.PeriodParseError{Value: raw, Reason: "unknown month name " + strconv.Quote(m[1])}
		}
		return periodOf(raw, month, atoi(m[2]))
	}
	if serialRe.MatchString(s) {
		return periodFromSerial(raw, s)
	}

	return domain.Period{}, &domain.PeriodParseError{Value: raw, Reason: "unrecognized period format"}
}

// ParseYearMonth builds a period from separate year and month cells.
// The month may be a number or a month name.
func ParseYearMonth(yearRaw, monthRaw string) (domain.Period, error) {
	value := strings.TrimSpace(monthRaw) + "/" + strings.TrimSpace(yearRaw)

	year, err := wholeNumber(yearRaw)
	if err != nil {
		return domain.Period{}, &domain.PeriodParseError{Value: value, Reason: "year is not a number"}
	}

	month, err := wholeNumber(monthRaw)
	if err != nil {
		named, ok := monthNames[strings.TrimSuffix(Fold(monthRaw), ".")]
		if !ok {
			return domain.Period{}, &domain.PeriodParseError{Value: value, Reason: "month is not a number or month name"}
		}
		month = named
	}
	return periodOf(value, month, year)
}

func periodFromSerial(raw, s string) (domain.Period, error) {
	serial, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return domain.Period{}, &domain.PeriodParseError{Value: raw, Reason: "invalid date serial"}
	}
	if serial < minDateSerial || serial > maxDateSerial {
		return domain.Period{}, &domain.PeriodParseError{Value: raw, Reason: "date serial out of range"}
	}
	t, err := excelize.ExcelDateToTime(serial, false)
	if err != nil {
		return domain.Period{}, &domain.PeriodParseError{Value: raw, Reason: err.Error()}
	}
	return periodOf(raw, int(t.Month()), t.Year())
}

func periodOf(raw string, month, year int) (domain.Period, error) {
	p, err := domain.NewPeriod(month, year)
	if err != nil {
		return domain.Period{}, &domain.PeriodParseError{Value: raw, Reason: err.(*domain.PeriodParseError).Reason}
	}
	return p, nil
}

// wholeNumber accepts "2024" and the "2024.0" form numeric cells sometimes take.
func wholeNumber(s string) (int, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, ".0")
	return strconv.Atoi(s)
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}
