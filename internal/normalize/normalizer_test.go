package normalize

import (
	"testing"
	"time"

	"github.com/dvloznov/dre-reports/internal/domain"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFoldAndKey(t *testing.T) {
	assert.Equal(t, "desoneracao da folha", Fold("  Desoneração   da FOLHA "))
	assert.Equal(t, "codigoprojeto", Key("Código_Projeto"))
	assert.Equal(t, "contaresumo", Key("Conta Resumo"))
	assert.Equal(t, "", Key("  --  "))
}

func TestIsTaxRelief(t *testing.T) {
	for _, label := range []string{"Desoneração da Folha", "DESONERACAO DA FOLHA", " desoneração  da folha"} {
		assert.True(t, IsTaxRelief(label), label)
	}
	assert.False(t, IsTaxRelief("Desoneração"))
	assert.False(t, IsTaxRelief("Desoneração da Folha 2024"))
}

func TestClassifyCost(t *testing.T) {
	tests := []struct {
		label string
		want  CostCategory
		ok    bool
	}{
		{"CLT", CostCLT, true},
		{"Custo CLT", CostCLT, true},
		{"Salários", CostCLT, true},
		{"Subcontratados", CostSubcontracted, true},
		{"Terceiros", CostSubcontracted, true},
		{"Outros Custos", CostOther, true},
		{"Desoneração da Folha", CostUnclassified, false},
		{"Receita Bruta", CostUnclassified, false},
	}
	for _, tt := range tests {
		t.Run(tt.label, func(t *testing.T) {
			got, ok := ClassifyCost(tt.label)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.ok, ok)
		})
	}
}

func TestParseNature(t *testing.T) {
	n, err := ParseNature("Receita", "whatever")
	require.NoError(t, err)
	assert.Equal(t, domain.NatureRevenue, n)

	n, err = ParseNature("CUSTO", "whatever")
	require.NoError(t, err)
	assert.Equal(t, domain.NatureCost, n)

	n, err = ParseNature("", "CLT")
	require.NoError(t, err)
	assert.Equal(t, domain.NatureCost, n)

	n, err = ParseNature("", "RECEITA")
	require.NoError(t, err)
	assert.Equal(t, domain.NatureRevenue, n)

	n, err = ParseNature("", "Desoneração da Folha")
	require.NoError(t, err)
	assert.Equal(t, domain.NatureOther, n)

	_, err = ParseNature("lucro", "CLT")
	var fce *domain.FieldCoercionError
	require.ErrorAs(t, err, &fce)
	assert.Equal(t, domain.FieldNature, fce.Field)
}

func TestBucketOf(t *testing.T) {
	assert.Equal(t, BucketRevenue, BucketOf(domain.LineItem{Nature: domain.NatureRevenue, Category: "RECEITA"}))
	assert.Equal(t, BucketCost, BucketOf(domain.LineItem{Nature: domain.NatureCost, Category: "CLT"}))
	assert.Equal(t, BucketTaxRelief, BucketOf(domain.LineItem{Nature: domain.NatureRevenue, Category: "Desoneração da Folha"}))
	assert.Equal(t, BucketOther, BucketOf(domain.LineItem{Nature: domain.NatureOther, Category: "Ajuste"}))
}

func fixedNormalizer() *Normalizer {
	return &Normalizer{now: func() time.Time { return time.Date(2024, 2, 1, 12, 0, 0, 0, time.UTC) }}
}

func TestNormalizer_Apply_OK(t *testing.T) {
	n := fixedNormalizer()
	fields := map[string]string{
		domain.FieldProject:     "  P1 -  Projeto Um ",
		domain.FieldPeriod:      "1/2024",
		domain.FieldNature:      "CUSTO",
		domain.FieldCategory:    "CLT",
		domain.FieldAmount:      "-500",
		domain.FieldDescription: "Folha de pagamento",
		domain.FieldClient:      "ACME",
	}

	res := n.Apply("batch-1", 2, fields, nil)
	require.True(t, res.OK(), "unexpected rejection: %+v", res.Rejection)

	item := res.Item
	assert.Equal(t, "batch-1", item.BatchID)
	assert.Equal(t, 2, item.Row)
	assert.Equal(t, "P1 - Projeto Um", item.Project)
	assert.Equal(t, domain.Period{Month: 1, Year: 2024}, item.Period)
	assert.Equal(t, domain.NatureCost, item.Nature)
	assert.True(t, item.Amount.Equal(decimal.NewFromInt(-500)), "amount stays signed")
	assert.Equal(t, "ACME", item.Client)
	assert.Equal(t, time.Date(2024, 2, 1, 12, 0, 0, 0, time.UTC), item.CreatedAt)
}

func TestNormalizer_YearMonthColumns(t *testing.T) {
	n := fixedNormalizer()
	item, err := n.Normalize("b", 3, map[string]string{
		domain.FieldProject:  "P2",
		domain.FieldYear:     "2025",
		domain.FieldMonth:    "11",
		domain.FieldCategory: "RECEITA",
		domain.FieldAmount:   "R$ 1.000,00",
	})
	require.NoError(t, err)
	assert.Equal(t, "11/2025", item.Period.String())
	assert.Equal(t, domain.NatureRevenue, item.Nature)
}

func TestNormalizer_Rejections(t *testing.T) {
	base := map[string]string{
		domain.FieldProject:  "P1",
		domain.FieldPeriod:   "1/2024",
		domain.FieldCategory: "CLT",
		domain.FieldAmount:   "10",
	}
	with := func(field, value string) map[string]string {
		m := make(map[string]string, len(base))
		for k, v := range base {
			m[k] = v
		}
		m[field] = value
		return m
	}

	tests := []struct {
		name      string
		fields    map[string]string
		wantField string
	}{
		{"empty project", with(domain.FieldProject, "  "), domain.FieldProject},
		{"empty category", with(domain.FieldCategory, ""), domain.FieldCategory},
		{"bad period", with(domain.FieldPeriod, "13/2024"), domain.FieldPeriod},
		{"missing period", with(domain.FieldPeriod, ""), domain.FieldPeriod},
		{"bad amount", with(domain.FieldAmount, "n/a"), domain.FieldAmount},
		{"empty amount", with(domain.FieldAmount, ""), domain.FieldAmount},
		{"bad nature", with(domain.FieldNature, "lucro"), domain.FieldNature},
	}

	n := fixedNormalizer()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw := map[string]string{"Projeto": tt.fields[domain.FieldProject]}
			res := n.Apply("b", 9, tt.fields, raw)
			require.False(t, res.OK())
			assert.Equal(t, 9, res.Rejection.Row)
			assert.Equal(t, tt.wantField, res.Rejection.Field)
			assert.Equal(t, raw, res.Rejection.Raw)
			assert.NotEmpty(t, res.Rejection.Reason)
		})
	}
}
