package recurring

import (
	"github.com/shopspring/decimal"
)

const (
	moneyPlaces    = 2
	quantityPlaces = 4
	ratePlaces     = 4
)

var hundred = decimal.NewFromInt(100)

// Totals are the header amounts of a template or invoice.
type Totals struct {
	Subtotal       decimal.Decimal
	TaxAmount      decimal.Decimal
	DiscountAmount decimal.Decimal
	Total          decimal.Decimal
}

// LineAmounts computes a line's net amount, tax and gross total. Tax is charged on
// quantity x unit price at rate percent; each figure is rounded to cents.
func LineAmounts(quantity, unitPrice, taxRate decimal.Decimal) (net, tax, total decimal.Decimal) {
	net = quantity.Mul(unitPrice).Round(moneyPlaces)
	tax = net.Mul(taxRate).Div(hundred).Round(moneyPlaces)
	return net, tax, net.Add(tax)
}

// ComputeTotals derives header totals from the lines and discount policy. The discount
// applies to the subtotal before tax and never exceeds it.
func ComputeTotals(lines []TemplateLine, discountType DiscountType, discountValue decimal.Decimal) Totals {
	var t Totals
	for _, line := range lines {
		net, tax, _ := LineAmounts(line.Quantity, line.UnitPrice, line.TaxRate)
		t.Subtotal = t.Subtotal.Add(net)
		t.TaxAmount = t.TaxAmount.Add(tax)
	}

	switch discountType {
	case DiscountFixed:
		t.DiscountAmount = decimal.Min(discountValue, t.Subtotal).Round(moneyPlaces)
	case DiscountPercent:
		t.DiscountAmount = t.Subtotal.Mul(discountValue).Div(hundred).Round(moneyPlaces)
	}
	if t.DiscountAmount.IsNegative() {
		t.DiscountAmount = decimal.Zero
	}

	t.Total = t.Subtotal.Add(t.TaxAmount).Sub(t.DiscountAmount)
	return t
}

func (t *Template) applyTotals() {
	totals := ComputeTotals(t.Lines, t.DiscountType, t.DiscountValue)
	t.Subtotal = totals.Subtotal
	t.TaxAmount = totals.TaxAmount
	t.DiscountAmount = totals.DiscountAmount
	t.Total = totals.Total
}

// fitsNumeric reports whether d can be stored in a NUMERIC(precision, scale) column
// without rounding.
func fitsNumeric(d decimal.Decimal, precision, scale int32) bool {
	if !d.Round(scale).Equal(d) {
		return false
	}
	limit := decimal.New(1, precision-scale)
	return d.Abs().LessThan(limit)
}
