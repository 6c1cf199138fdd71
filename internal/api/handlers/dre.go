package handlers

import (
	"fmt"
	"net/http"
	"sort"

	"github.com/dvloznov/dre-reports/internal/aggregate"
	"github.com/dvloznov/dre-reports/internal/api/middleware"
	"github.com/dvloznov/dre-reports/internal/logger"
	"github.com/dvloznov/dre-reports/internal/normalize"
	"github.com/dvloznov/dre-reports/internal/store"
)

// Read types served by POST /api/dre.
const (
	TypeProjects  = "projetos"
	TypeYears     = "anos"
	TypeDashboard = "dashboard"
	TypeSheets    = "planilhas"
	TypeCosts     = "profissionais"
)

// DREHandler serves aggregated P&L reads.
type DREHandler struct {
	repo store.LineItemRepository
}

// NewDREHandler creates a new DRE handler.
func NewDREHandler(repo store.LineItemRepository) *DREHandler {
	return &DREHandler{repo: repo}
}

// DREFilters narrow a read. ano and mes accept numbers or numeric strings.
type DREFilters struct {
	Projeto string  `json:"projeto,omitempty"`
	Ano     flexInt `json:"ano,omitempty"`
	Mes     flexInt `json:"mes,omitempty"`
}

// DRERequest is the body of POST /api/dre.
type DRERequest struct {
	Type    string     `json:"type"`
	Filters DREFilters `json:"filters"`
}

// DREResponse is the envelope of POST /api/dre.
type DREResponse struct {
	Success bool        `json:"success"`
	Type    string      `json:"type"`
	Data    interface{} `json:"data"`
	Count   int         `json:"count"`
	Totals  *DRETotals  `json:"totals,omitempty"`
	Filters DREFilters  `json:"filters"`
}

// DRETotals sums every dashboard row of a response.
type DRETotals struct {
	ReceitaTotal     float64 `json:"receita_total"`
	CustoTotal       float64 `json:"custo_total"`
	MargemBruta      float64 `json:"margem_bruta"`
	MargemPercentual float64 `json:"margem_percentual"`
	Desoneracao      float64 `json:"desoneracao"`
}

// DashboardRow is one project-month of the dashboard.
type DashboardRow struct {
	Projeto          string  `json:"projeto"`
	Ano              int     `json:"ano"`
	Mes              int     `json:"mes"`
	Periodo          string  `json:"periodo"`
	ReceitaTotal     float64 `json:"receita_total"`
	CustoTotal       float64 `json:"custo_total"`
	MargemBruta      float64 `json:"margem_bruta"`
	MargemPercentual float64 `json:"margem_percentual"`
	Desoneracao      float64 `json:"desoneracao"`
}

// SheetRow is one project-month of the spreadsheet view.
type SheetRow struct {
	Projeto              string  `json:"projeto"`
	Ano                  int     `json:"ano"`
	Mes                  int     `json:"mes"`
	ReceitaMensal        float64 `json:"receita_mensal"`
	ReceitaAcumulada     float64 `json:"receita_acumulada"`
	DesoneracaoMensal    float64 `json:"desoneracao_mensal"`
	DesoneracaoAcumulada float64 `json:"desoneracao_acumulada"`
	CustoMensal          float64 `json:"custo_mensal"`
	CustoAcumulado       float64 `json:"custo_acumulado"`
	MargemMensal         float64 `json:"margem_mensal"`
	MargemAcumulada      float64 `json:"margem_acumulada"`
}

// CostRow is the cost of one project in one workforce category.
type CostRow struct {
	Projeto        string  `json:"projeto"`
	TipoCusto      string  `json:"tipo_custo"`
	Descricao      string  `json:"descricao"`
	Valor          float64 `json:"valor"`
	TotalTipo      float64 `json:"total_tipo"`
	PercentualTipo float64 `json:"percentual_tipo"`
	TotalGeral     float64 `json:"total_geral"`
}

var costLabels = map[normalize.CostCategory]string{
	normalize.CostCLT:           "Profissionais CLT",
	normalize.CostSubcontracted: "Subcontratados",
	normalize.CostOther:         "Outros custos",
	normalize.CostUnclassified:  "Não classificado",
}

// Query handles POST /api/dre.
func (h *DREHandler) Query(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logger.FromContext(ctx)

	var req DRERequest
	if err := decodeJSON(r, &req); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Filters.Mes < 0 || req.Filters.Mes > 12 {
		middleware.WriteError(w, http.StatusBadRequest, fmt.Sprintf("mes out of range: %d", req.Filters.Mes))
		return
	}
	if req.Filters.Ano < 0 {
		middleware.WriteError(w, http.StatusBadRequest, fmt.Sprintf("ano out of range: %d", req.Filters.Ano))
		return
	}

	var (
		data   interface{}
		count  int
		totals *DRETotals
		err    error
	)
	switch req.Type {
	case TypeProjects:
		var projects []string
		projects, err = h.repo.ListProjects(ctx)
		data, count = nonNil(projects), len(projects)
	case TypeYears:
		var years []int
		years, err = h.repo.ListYears(ctx)
		sort.Sort(sort.Reverse(sort.IntSlice(years)))
		data, count = nonNil(years), len(years)
	case TypeDashboard, TypeSheets, TypeCosts:
		data, count, totals, err = h.aggregate(r, req)
	default:
		middleware.WriteError(w, http.StatusBadRequest, fmt.Sprintf("unsupported type %q", req.Type))
		return
	}
	if err != nil {
		log.Error().Err(err).Str("type", req.Type).Msg("Failed to read DRE data")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to read DRE data")
		return
	}

	middleware.WriteJSON(w, http.StatusOK, DREResponse{
		Success: true,
		Type:    req.Type,
		Data:    data,
		Count:   count,
		Totals:  totals,
		Filters: req.Filters,
	})
}

// aggregate builds the rows of a computed read type. Totals are only set for
// the dashboard.
func (h *DREHandler) aggregate(r *http.Request, req DRERequest) (interface{}, int, *DRETotals, error) {
	items, err := h.repo.QueryLineItems(r.Context(), store.Filter{
		Project: req.Filters.Projeto,
		Year:    int(req.Filters.Ano),
		Month:   int(req.Filters.Mes),
	})
	if err != nil {
		return nil, 0, nil, err
	}

	switch req.Type {
	case TypeDashboard:
		totals := aggregate.ByProjectPeriod(items)
		rows := make([]DashboardRow, 0, len(totals))
		for _, t := range totals {
			rows = append(rows, DashboardRow{
				Projeto:          t.Project,
				Ano:              t.Period.Year,
				Mes:              t.Period.Month,
				Periodo:          t.Period.String(),
				ReceitaTotal:     money(t.Revenue),
				CustoTotal:       money(t.Cost),
				MargemBruta:      money(t.Margin),
				MargemPercentual: percent(t.MarginPct),
				Desoneracao:      money(t.TaxRelief),
			})
		}
		sum := aggregate.Summarize(items)
		return rows, len(rows), &DRETotals{
			ReceitaTotal:     money(sum.Revenue),
			CustoTotal:       money(sum.Cost),
			MargemBruta:      money(sum.Margin),
			MargemPercentual: percent(sum.MarginPct),
			Desoneracao:      money(sum.TaxRelief),
		}, nil

	case TypeSheets:
		sheet := aggregate.SheetsByProject(items)
		rows := make([]SheetRow, 0, len(sheet))
		for _, s := range sheet {
			rows = append(rows, SheetRow{
				Projeto:              s.Project,
				Ano:                  s.Period.Year,
				Mes:                  s.Period.Month,
				ReceitaMensal:        money(s.Revenue),
				ReceitaAcumulada:     money(s.RevenueYTD),
				DesoneracaoMensal:    money(s.TaxRelief),
				DesoneracaoAcumulada: money(s.TaxReliefYTD),
				CustoMensal:          money(s.Cost),
				CustoAcumulado:       money(s.CostYTD),
				MargemMensal:         money(s.Margin),
				MargemAcumulada:      money(s.MarginYTD),
			})
		}
		return rows, len(rows), nil, nil

	default:
		costs := aggregate.CostRows(items)
		rows := make([]CostRow, 0, len(costs))
		for _, c := range costs {
			rows = append(rows, CostRow{
				Projeto:        c.Project,
				TipoCusto:      string(c.Category),
				Descricao:      costLabels[c.Category],
				Valor:          money(c.Value),
				TotalTipo:      money(c.CategoryTotal),
				PercentualTipo: percent(c.CategoryPercent),
				TotalGeral:     money(c.GrandTotal),
			})
		}
		return rows, len(rows), nil, nil
	}
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
