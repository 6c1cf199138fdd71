package aggregate

import (
	"fmt"

	"github.com/Rhymond/go-money"
	"github.com/shopspring/decimal"
)

// Currency of every amount in a DRE export.
const Currency = money.BRL

// FormatMoney renders an amount in reais, e.g. "R$1.234,56".
func FormatMoney(d decimal.Decimal) string {
	cur := money.New(0, Currency).Currency()
	minor := d.Shift(int32(cur.Fraction)).Round(0)
	return cur.Formatter().Format(minor.IntPart())
}

// FormatPercent renders a percentage with two decimals, e.g. "50.00%".
func FormatPercent(d decimal.Decimal) string {
	return fmt.Sprintf("%s%%", d.StringFixed(2))
}
