package normalize

import (
	"errors"
	"strings"

	"github.com/dvloznov/dre-reports/internal/domain"
)

// Bucket is where a line item lands in the P&L.
type Bucket string

const (
	BucketRevenue   Bucket = "revenue"
	BucketCost      Bucket = "cost"
	BucketTaxRelief Bucket = "tax_relief"
	BucketOther     Bucket = "other"
)

// CostCategory groups cost lines for the cost breakdown.
type CostCategory string

const (
	CostCLT           CostCategory = "CLT"
	CostSubcontracted CostCategory = "SUBCONTRATADOS"
	CostOther         CostCategory = "OUTROS"
	CostUnclassified  CostCategory = "NAO CLASSIFICADO"
)

const taxReliefCategory = "desoneracao da folha"

// cost vocabulary, checked in order against the folded category label
var costVocabulary = []struct {
	needle   string
	category CostCategory
}{
	{"clt", CostCLT},
	{"salario", CostCLT},
	{"subcontratad", CostSubcontracted},
	{"terceir", CostSubcontracted},
	{"outros", CostOther},
}

var errUnknownNature = errors.New("unknown nature, expected RECEITA, CUSTO or OUTRO")

// IsTaxRelief reports whether the category is the payroll tax relief line
// ("Desoneração da Folha" in any case or accentuation).
func IsTaxRelief(category string) bool {
	return Fold(category) == taxReliefCategory
}

// ClassifyCost maps a category label onto the cost vocabulary.
// The boolean is false when the label matches none of it.
func ClassifyCost(category string) (CostCategory, bool) {
	folded := Fold(category)
	if folded == taxReliefCategory {
		return CostUnclassified, false
	}
	for _, v := range costVocabulary {
		if strings.Contains(folded, v.needle) {
			return v.category, true
		}
	}
	return CostUnclassified, false
}

// ParseNature reads the natureza cell. A blank cell is inferred from the category.
func ParseNature(raw, category string) (domain.Nature, error) {
	switch Fold(raw) {
	case "":
		return InferNature(category), nil
	case "receita", "receitas", "revenue":
		return domain.NatureRevenue, nil
	case "custo", "custos", "despesa", "despesas", "cost":
		return domain.NatureCost, nil
	case "outro", "outros", "other":
		return domain.NatureOther, nil
	}
	return "", &domain.FieldCoercionError{Field: domain.FieldNature, Value: raw, Err: errUnknownNature}
}

// InferNature guesses the nature of a line from its category label alone.
func InferNature(category string) domain.Nature {
	if IsTaxRelief(category) {
		return domain.NatureOther
	}
	if strings.Contains(Fold(category), "receita") {
		return domain.NatureRevenue
	}
	if _, ok := ClassifyCost(category); ok {
		return domain.NatureCost
	}
	return domain.NatureOther
}

// BucketOf places an item in the P&L. Tax relief wins over the stated nature.
func BucketOf(item domain.LineItem) Bucket {
	if IsTaxRelief(item.Category) {
		return BucketTaxRelief
	}
	switch item.Nature {
	case domain.NatureRevenue:
		return BucketRevenue
	case domain.NatureCost:
		return BucketCost
	}
	return BucketOther
}
