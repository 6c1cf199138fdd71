package normalize

import (
	"errors"
	"fmt"
	"testing"

	"github.com/dvloznov/dre-reports/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePeriod_Formats(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"1/2024", "1/2024"},
		{"01/2024", "1/2024"},
		{" 12 / 2023 ", "12/2023"},
		{"2024-03", "3/2024"},
		{"2024-03-31", "3/2024"},
		{"2024-03-01T00:00:00Z", "3/2024"},
		{"2024-03-01 10:00:00", "3/2024"},
		{"15/07/2024", "7/2024"},
		{"jan/2024", "1/2024"},
		{"Fev-2024", "2/2024"},
		{"Março 2024", "3/2024"},
		{"dez.2025", "12/2025"},
		{"45292", "1/2024"},   // 2024-01-01
		{"45322.5", "1/2024"}, // 2024-01-31 noon
		{"36526", "1/2000"},   // 2000-01-01
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			p, err := ParsePeriod(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.want, p.String())
		})
	}
}

func TestParsePeriod_Rejects(t *testing.T) {
	inputs := []string{
		"",
		"13/2024",
		"0/2024",
		"1/1999",
		"2024-13",
		"2024-02-30",
		"31/13/2024",
		"xyz/2024",
		"12345",   // serial before 2000
		"janeiro", // no year
		"Q1 2024",
	}
	for _, in := range inputs {
		t.Run(in, func(t *testing.T) {
			_, err := ParsePeriod(in)
			var ppe *domain.PeriodParseError
			assert.True(t, errors.As(err, &ppe), "expected PeriodParseError for %q, got %v", in, err)
		})
	}
}

func TestParsePeriod_ErrorKeepsCellText(t *testing.T) {
	_, err := ParsePeriod(" 13 / 2024 ")
	var ppe *domain.PeriodParseError
	require.True(t, errors.As(err, &ppe))
	assert.Equal(t, " 13 / 2024 ", ppe.Value)
}

func TestParsePeriod_CanonicalRoundTrip(t *testing.T) {
	for year := 2000; year <= 2040; year += 5 {
		for month := 1; month <= 12; month++ {
			in := fmt.Sprintf("%d/%d", month, year)
			p, err := ParsePeriod(in)
			require.NoError(t, err)
			assert.Equal(t, month, p.Month)
			assert.Equal(t, year, p.Year)
			assert.Equal(t, in, p.String())
		}
	}
}

func TestParseYearMonth(t *testing.T) {
	p, err := ParseYearMonth("2024", "3")
	require.NoError(t, err)
	assert.Equal(t, "3/2024", p.String())

	p, err = ParseYearMonth("2024.0", "Abril")
	require.NoError(t, err)
	assert.Equal(t, "4/2024", p.String())

	_, err = ParseYearMonth("2024", "13")
	assert.Error(t, err)

	_, err = ParseYearMonth("vinte", "1")
	assert.Error(t, err)
}
