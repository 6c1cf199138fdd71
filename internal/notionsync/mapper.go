package notionsync

import (
	"fmt"

	"github.com/dvloznov/dre-reports/internal/aggregate"
	"github.com/dvloznov/dre-reports/internal/domain"
	"github.com/jomei/notionapi"
	"github.com/shopspring/decimal"
)

// Property names of the DRE Notion database.
const (
	PropName      = "Name"
	PropProject   = "Projeto"
	PropPeriod    = "Período"
	PropYear      = "Ano"
	PropMonth     = "Mês"
	PropRevenue   = "Receita"
	PropCost      = "Custo"
	PropMargin    = "Margem"
	PropMarginPct = "Margem %"
	PropTaxRelief = "Desoneração"
	PropSummary   = "Resumo"
)

// PageTitle is the key of a (project, period) page, e.g. "2024-01 | P1 - Alfa".
func PageTitle(project string, period domain.Period) string {
	return period.Code() + " | " + project
}

// RowToNotionProperties converts one project-month of totals to page properties.
func RowToNotionProperties(row aggregate.ProjectPeriodTotals) notionapi.Properties {
	return notionapi.Properties{
		PropName: notionapi.TitleProperty{
			Title: richText(PageTitle(row.Project, row.Period)),
		},
		PropProject: notionapi.SelectProperty{
			Select: notionapi.Option{Name: row.Project},
		},
		PropPeriod: notionapi.RichTextProperty{
			RichText: richText(row.Period.String()),
		},
		PropYear:      notionapi.NumberProperty{Number: float64(row.Period.Year)},
		PropMonth:     notionapi.NumberProperty{Number: float64(row.Period.Month)},
		PropRevenue:   notionapi.NumberProperty{Number: number(row.Revenue)},
		PropCost:      notionapi.NumberProperty{Number: number(row.Cost)},
		PropMargin:    notionapi.NumberProperty{Number: number(row.Margin)},
		PropMarginPct: notionapi.NumberProperty{Number: number(row.MarginPct)},
		PropTaxRelief: notionapi.NumberProperty{Number: number(row.TaxRelief)},
		PropSummary: notionapi.RichTextProperty{
			RichText: richText(SummaryText(row.Totals)),
		},
	}
}

// SummaryText renders totals as one line of text in reais.
func SummaryText(t aggregate.Totals) string {
	return fmt.Sprintf("Receita %s | Custo %s | Margem %s (%s) | Desoneração %s",
		aggregate.FormatMoney(t.Revenue),
		aggregate.FormatMoney(t.Cost),
		aggregate.FormatMoney(t.Margin),
		aggregate.FormatPercent(t.MarginPct),
		aggregate.FormatMoney(t.TaxRelief),
	)
}

func richText(s string) []notionapi.RichText {
	return []notionapi.RichText{
		{
			Type: notionapi.ObjectTypeText,
			Text: &notionapi.Text{Content: s},
		},
	}
}

func number(d decimal.Decimal) float64 {
	return d.Round(2).InexactFloat64()
}

// extractTitle returns the plain text of a page's title property, or "".
func extractTitle(page notionapi.Page) string {
	switch prop := page.Properties[PropName].(type) {
	case *notionapi.TitleProperty:
		return plainText(prop.Title)
	case notionapi.TitleProperty:
		return plainText(prop.Title)
	}
	return ""
}

func plainText(rt []notionapi.RichText) string {
	if len(rt) == 0 {
		return ""
	}
	if rt[0].PlainText != "" {
		return rt[0].PlainText
	}
	if rt[0].Text != nil {
		return rt[0].Text.Content
	}
	return ""
}
