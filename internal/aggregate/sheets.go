package aggregate

import (
	"github.com/dvloznov/dre-reports/internal/domain"
	"github.com/shopspring/decimal"
)

// SheetRow is one month of the spreadsheet view: monthly figures and the
// year-to-date accumulation up to and including that month.
type SheetRow struct {
	Period domain.Period

	Revenue   decimal.Decimal
	TaxRelief decimal.Decimal
	Cost      decimal.Decimal
	Margin    decimal.Decimal

	RevenueYTD   decimal.Decimal
	TaxReliefYTD decimal.Decimal
	CostYTD      decimal.Decimal
	MarginYTD    decimal.Decimal
}

// Sheets builds the monthly and accumulated view. Accumulation restarts
// every January.
func Sheets(items []domain.LineItem) []SheetRow {
	report := ByPeriod(items)

	rows := make([]SheetRow, 0, len(report.Periods))
	var (
		year                           int
		revenueYTD, reliefYTD, costYTD decimal.Decimal
	)
	for _, pt := range report.Periods {
		if pt.Period.Year != year {
			year = pt.Period.Year
			revenueYTD, reliefYTD, costYTD = decimal.Zero, decimal.Zero, decimal.Zero
		}
		revenueYTD = revenueYTD.Add(pt.Revenue)
		reliefYTD = reliefYTD.Add(pt.TaxRelief)
		costYTD = costYTD.Add(pt.Cost)

		rows = append(rows, SheetRow{
			Period:       pt.Period,
			Revenue:      pt.Revenue,
			TaxRelief:    pt.TaxRelief,
			Cost:         pt.Cost,
			Margin:       pt.Margin,
			RevenueYTD:   revenueYTD,
			TaxReliefYTD: reliefYTD,
			CostYTD:      costYTD,
			MarginYTD:    revenueYTD.Sub(costYTD),
		})
	}
	return rows
}

// ProjectSheetRow is a SheetRow of one project.
type ProjectSheetRow struct {
	Project string
	SheetRow
}

// SheetsByProject builds the spreadsheet view of each project separately,
// ordered by project, year and month.
func SheetsByProject(items []domain.LineItem) []ProjectSheetRow {
	var out []ProjectSheetRow
	for _, group := range splitByProject(items) {
		for _, row := range Sheets(group.items) {
			out = append(out, ProjectSheetRow{Project: group.project, SheetRow: row})
		}
	}
	return out
}
