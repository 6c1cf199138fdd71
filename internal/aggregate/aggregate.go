// Package aggregate computes P&L figures from normalized line items at query
// time. It is the only place where cost amounts are turned positive.
package aggregate

import (
	"sort"

	"github.com/dvloznov/dre-reports/internal/domain"
	"github.com/dvloznov/dre-reports/internal/normalize"
	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// Totals are the P&L figures of a set of line items.
type Totals struct {
	Revenue   decimal.Decimal
	Cost      decimal.Decimal // positive
	Margin    decimal.Decimal
	MarginPct decimal.Decimal // 0 when there is no revenue
	TaxRelief decimal.Decimal // payroll tax relief, outside revenue and cost
}

// PeriodTotals are the totals of one reporting month.
type PeriodTotals struct {
	Period domain.Period
	Totals
}

// Report is a per-period breakdown ordered by year and month.
type Report struct {
	Periods []PeriodTotals
	Totals  Totals
}

// accumulator sums revenue, cost and tax relief.
type accumulator struct {
	revenue, cost, taxRelief decimal.Decimal
}

func (a *accumulator) add(li domain.LineItem) {
	switch normalize.BucketOf(li) {
	case normalize.BucketRevenue:
		a.revenue = a.revenue.Add(li.Amount)
	case normalize.BucketCost:
		a.cost = a.cost.Add(li.Amount.Abs())
	case normalize.BucketTaxRelief:
		a.taxRelief = a.taxRelief.Add(li.Amount)
	}
}

func (a *accumulator) totals() Totals {
	return newTotals(a.revenue, a.cost, a.taxRelief)
}

func newTotals(revenue, cost, taxRelief decimal.Decimal) Totals {
	margin := revenue.Sub(cost)
	return Totals{
		Revenue:   revenue,
		Cost:      cost,
		Margin:    margin,
		MarginPct: MarginPct(margin, revenue),
		TaxRelief: taxRelief,
	}
}

// MarginPct returns margin / revenue * 100, or 0 when revenue is not positive.
func MarginPct(margin, revenue decimal.Decimal) decimal.Decimal {
	if !revenue.IsPositive() {
		return decimal.Zero
	}
	return margin.Div(revenue).Mul(hundred)
}

// Summarize totals items.
//
// Revenue is the sum of RECEITA items and Cost the sum of |amount| of CUSTO
// items, both excluding "Desoneração da Folha", which is summed into TaxRelief.
func Summarize(items []domain.LineItem) Totals {
	var acc accumulator
	for _, li := range items {
		acc.add(li)
	}
	return acc.totals()
}

// ByPeriod totals items per month.
func ByPeriod(items []domain.LineItem) Report {
	perPeriod := make(map[domain.Period]*accumulator)
	var all accumulator
	for _, li := range items {
		acc, ok := perPeriod[li.Period]
		if !ok {
			acc = &accumulator{}
			perPeriod[li.Period] = acc
		}
		acc.add(li)
		all.add(li)
	}

	report := Report{Totals: all.totals(), Periods: make([]PeriodTotals, 0, len(perPeriod))}
	for p, acc := range perPeriod {
		report.Periods = append(report.Periods, PeriodTotals{Period: p, Totals: acc.totals()})
	}
	sort.Slice(report.Periods, func(i, j int) bool {
		return report.Periods[i].Period.Before(report.Periods[j].Period)
	})
	return report
}

// ProjectTotals are the totals of one project.
type ProjectTotals struct {
	Project string
	Totals
}

// ByProject totals items per project, ordered by project.
func ByProject(items []domain.LineItem) []ProjectTotals {
	perProject := make(map[string]*accumulator)
	for _, li := range items {
		acc, ok := perProject[li.Project]
		if !ok {
			acc = &accumulator{}
			perProject[li.Project] = acc
		}
		acc.add(li)
	}

	out := make([]ProjectTotals, 0, len(perProject))
	for project, acc := range perProject {
		out = append(out, ProjectTotals{Project: project, Totals: acc.totals()})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Project < out[j].Project })
	return out
}

// ProjectPeriodTotals are the totals of one project in one month.
type ProjectPeriodTotals struct {
	Project string
	PeriodTotals
}

// ByProjectPeriod totals items per project and month, ordered by project,
// year and month.
func ByProjectPeriod(items []domain.LineItem) []ProjectPeriodTotals {
	var out []ProjectPeriodTotals
	for _, group := range splitByProject(items) {
		for _, pt := range ByPeriod(group.items).Periods {
			out = append(out, ProjectPeriodTotals{Project: group.project, PeriodTotals: pt})
		}
	}
	return out
}

type projectItems struct {
	project string
	items   []domain.LineItem
}

// splitByProject groups items by project, ordered by project.
func splitByProject(items []domain.LineItem) []projectItems {
	index := make(map[string]int)
	var groups []projectItems
	for _, li := range items {
		i, ok := index[li.Project]
		if !ok {
			i = len(groups)
			index[li.Project] = i
			groups = append(groups, projectItems{project: li.Project})
		}
		groups[i].items = append(groups[i].items, li)
	}
	sort.Slice(groups, func(i, j int) bool { return groups[i].project < groups[j].project })
	return groups
}
