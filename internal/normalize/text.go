// Package normalize coerces raw spreadsheet cells into line item values.
package normalize

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Fold decomposes s, strips diacritics, lowercases, collapses runs of
// whitespace and trims. "  Desoneração  da Folha " folds to "desoneracao da folha".
func Fold(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		out = s
	}
	return strings.Join(strings.Fields(strings.ToLower(out)), " ")
}

// Key folds s and keeps only ASCII letters and digits.
// "Código_Projeto" and "codigo projeto" both yield "codigoprojeto".
func Key(s string) string {
	folded := Fold(s)
	var b strings.Builder
	b.Grow(len(folded))
	for _, r := range folded {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// CleanText trims s and collapses internal whitespace without changing case.
func CleanText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
