// Package dimensions rebuilds the project and period lookup tables from the
// currently active line items.
package dimensions

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/dvloznov/dre-reports/internal/domain"
	"github.com/dvloznov/dre-reports/internal/logger"
	"github.com/dvloznov/dre-reports/internal/normalize"
	"github.com/dvloznov/dre-reports/internal/store"
)

// Source is the subset of the store a refresh needs.
type Source interface {
	QueryLineItems(ctx context.Context, f store.Filter) ([]domain.LineItem, error)
	ReplaceDimensions(ctx context.Context, projects []domain.ProjectDimension, periods []domain.PeriodDimension) error
}

// Result summarizes a refresh.
type Result struct {
	Projects int
	Periods  int
}

// Refresh recomputes both dimension tables and replaces them atomically.
// Running it twice over the same data yields the same tables.
func Refresh(ctx context.Context, src Source) (Result, error) {
	log := logger.FromContext(ctx)

	items, err := src.QueryLineItems(ctx, store.Filter{})
	if err != nil {
		return Result{}, fmt.Errorf("Refresh: query line items: %w", err)
	}

	projects := Projects(items)
	periods := Periods(items)

	if err := src.ReplaceDimensions(ctx, projects, periods); err != nil {
		return Result{}, fmt.Errorf("Refresh: replace dimensions: %w", err)
	}

	log.Info().
		Int("line_items", len(items)).
		Int("projects", len(projects)).
		Int("periods", len(periods)).
		Msg("Dimensions refreshed")

	return Result{Projects: len(projects), Periods: len(periods)}, nil
}

// Projects derives one dimension per distinct project code, ordered by code.
// When two labels share a code the first label in sort order names it.
func Projects(items []domain.LineItem) []domain.ProjectDimension {
	labels := make(map[string]bool)
	for _, li := range items {
		labels[li.Project] = true
	}
	sorted := make([]string, 0, len(labels))
	for l := range labels {
		sorted = append(sorted, l)
	}
	sort.Strings(sorted)

	byCode := make(map[string]domain.ProjectDimension)
	for _, label := range sorted {
		dim := ProjectOf(label)
		if dim.Code == "" {
			continue
		}
		if _, ok := byCode[dim.Code]; !ok {
			byCode[dim.Code] = dim
		}
	}

	out := make([]domain.ProjectDimension, 0, len(byCode))
	for _, dim := range byCode {
		out = append(out, dim)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out
}

// ProjectOf splits a "code - description" label. Labels without a code get
// a slug of the whole label as code and keep the label as name.
func ProjectOf(label string) domain.ProjectDimension {
	label = normalize.CleanText(label)
	if code, name, ok := strings.Cut(label, " - "); ok {
		code, name = strings.TrimSpace(code), strings.TrimSpace(name)
		if code != "" && name != "" {
			return domain.ProjectDimension{Code: code, Name: name}
		}
	}
	return domain.ProjectDimension{Code: Slug(label), Name: label}
}

// Slug folds s to lowercase ASCII words joined by '-'.
func Slug(s string) string {
	folded := normalize.Fold(s)
	var b strings.Builder
	dash := false
	for _, r := range folded {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			if dash && b.Len() > 0 {
				b.WriteByte('-')
			}
			b.WriteRune(r)
			dash = false
			continue
		}
		dash = true
	}
	return b.String()
}

// Periods derives one dimension per distinct period in calendar order.
func Periods(items []domain.LineItem) []domain.PeriodDimension {
	seen := make(map[domain.Period]bool)
	var periods []domain.Period
	for _, li := range items {
		if seen[li.Period] {
			continue
		}
		seen[li.Period] = true
		periods = append(periods, li.Period)
	}
	sort.Slice(periods, func(i, j int) bool { return periods[i].Before(periods[j]) })

	out := make([]domain.PeriodDimension, 0, len(periods))
	for _, p := range periods {
		out = append(out, domain.PeriodDimension{
			Code:  p.Code(),
			Name:  p.String(),
			Year:  p.Year,
			Month: p.Month,
		})
	}
	return out
}
