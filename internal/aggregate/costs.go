package aggregate

import (
	"sort"

	"github.com/dvloznov/dre-reports/internal/domain"
	"github.com/dvloznov/dre-reports/internal/normalize"
	"github.com/shopspring/decimal"
)

// CostShare is the cost of one category and its share of the total.
type CostShare struct {
	Category normalize.CostCategory
	Total    decimal.Decimal
	Percent  decimal.Decimal
}

// CostBreakdown splits cost by workforce category.
type CostBreakdown struct {
	Shares []CostShare
	Total  decimal.Decimal
}

// Costs groups the cost items of items by normalize.ClassifyCost. Shares are
// ordered by total, largest first.
func Costs(items []domain.LineItem) CostBreakdown {
	byCategory := make(map[normalize.CostCategory]decimal.Decimal)
	total := decimal.Zero
	for _, li := range items {
		if normalize.BucketOf(li) != normalize.BucketCost {
			continue
		}
		category, _ := normalize.ClassifyCost(li.Category)
		amount := li.Amount.Abs()
		byCategory[category] = byCategory[category].Add(amount)
		total = total.Add(amount)
	}

	out := CostBreakdown{Total: total, Shares: make([]CostShare, 0, len(byCategory))}
	for category, sum := range byCategory {
		pct := decimal.Zero
		if total.IsPositive() {
			pct = sum.Div(total).Mul(hundred)
		}
		out.Shares = append(out.Shares, CostShare{Category: category, Total: sum, Percent: pct})
	}
	sort.Slice(out.Shares, func(i, j int) bool {
		if !out.Shares[i].Total.Equal(out.Shares[j].Total) {
			return out.Shares[i].Total.GreaterThan(out.Shares[j].Total)
		}
		return out.Shares[i].Category < out.Shares[j].Category
	})
	return out
}

// CostRow is the cost of one project in one category, next to the category
// total and the overall total of the selection.
type CostRow struct {
	Project         string
	Category        normalize.CostCategory
	Value           decimal.Decimal
	CategoryTotal   decimal.Decimal
	CategoryPercent decimal.Decimal // category share of GrandTotal
	GrandTotal      decimal.Decimal
}

// CostRows breaks cost down by category and project, ordered like Costs
// and then by project.
func CostRows(items []domain.LineItem) []CostRow {
	breakdown := Costs(items)

	perProject := make(map[normalize.CostCategory]map[string]decimal.Decimal)
	for _, li := range items {
		if normalize.BucketOf(li) != normalize.BucketCost {
			continue
		}
		category, _ := normalize.ClassifyCost(li.Category)
		if perProject[category] == nil {
			perProject[category] = make(map[string]decimal.Decimal)
		}
		perProject[category][li.Project] = perProject[category][li.Project].Add(li.Amount.Abs())
	}

	var out []CostRow
	for _, share := range breakdown.Shares {
		projects := make([]string, 0, len(perProject[share.Category]))
		for p := range perProject[share.Category] {
			projects = append(projects, p)
		}
		sort.Strings(projects)
		for _, p := range projects {
			out = append(out, CostRow{
				Project:         p,
				Category:        share.Category,
				Value:           perProject[share.Category][p],
				CategoryTotal:   share.Total,
				CategoryPercent: share.Percent,
				GrandTotal:      breakdown.Total,
			})
		}
	}
	return out
}
