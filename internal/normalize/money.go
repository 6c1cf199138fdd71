package normalize

import (
	"errors"
	"regexp"
	"strings"

	"github.com/dvloznov/dre-reports/internal/domain"
	"github.com/shopspring/decimal"
)

var (
	errEmptyAmount = errors.New("amount is empty")
	errNoDigits    = errors.New("amount has no digits")

	// Cell text as written by the spreadsheet engine for numeric cells.
	machineNumber = regexp.MustCompile(`^[+-]?(\d+\.?\d*|\.\d+)([eE][+-]?\d+)?$`)
	hasDigit      = regexp.MustCompile(`\d`)
)

// ParseAmount coerces a monetary cell to a decimal.
//
// Numeric cells (plain machine notation such as "1234.56" or "-5e2") are used
// as-is. Any other text follows one pt-BR rule:
//   - surrounding parentheses or a trailing "-" mark a negative amount;
//   - if a "," is present it is the decimal separator and every "." is a
//     thousands separator;
//   - with no "," and more than one ".", every "." is a thousands separator;
//   - every remaining character outside [0-9.-] is stripped and the rest is
//     parsed as a decimal.
//
// So "R$ 1.234,56" is 1234.56, "(1.000,00)" is -1000 and "2.500-" is -2500.
// Text that still does not parse is an error, never zero.
func ParseAmount(raw string) (decimal.Decimal, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return decimal.Zero, &domain.FieldCoercionError{Field: domain.FieldAmount, Value: raw, Err: errEmptyAmount}
	}

	if machineNumber.MatchString(s) {
		d, err := decimal.NewFromString(s)
		if err != nil {
			return decimal.Zero, &domain.FieldCoercionError{Field: domain.FieldAmount, Value: raw, Err: err}
		}
		return d, nil
	}

	d, err := parseLocalized(s)
	if err != nil {
		return decimal.Zero, &domain.FieldCoercionError{Field: domain.FieldAmount, Value: raw, Err: err}
	}
	return d, nil
}

func parseLocalized(s string) (decimal.Decimal, error) {
	s = strings.ReplaceAll(s, "−", "-")

	negative := false
	if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		negative = true
		s = strings.TrimSpace(s[1 : len(s)-1])
	}
	if strings.HasSuffix(s, "-") {
		negative = true
		s = strings.TrimSpace(strings.TrimSuffix(s, "-"))
	}

	switch {
	case strings.Contains(s, ","):
		s = strings.ReplaceAll(s, ".", "")
		s = strings.ReplaceAll(s, ",", ".")
	case strings.Count(s, ".") > 1:
		s = strings.ReplaceAll(s, ".", "")
	}

	s = StripNonNumeric(s)
	if !hasDigit.MatchString(s) {
		return decimal.Zero, errNoDigits
	}

	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, err
	}
	if negative && d.IsPositive() {
		d = d.Neg()
	}
	return d, nil
}

// StripNonNumeric removes every character outside [0-9.-].
func StripNonNumeric(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if (r >= '0' && r <= '9') || r == '.' || r == '-' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
