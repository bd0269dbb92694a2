// Package pricing holds the shared totals arithmetic used by service
// billing and the proforma workflow. Everything here is pure: totals are
// always recomputed from the full line set, never patched incrementally.
package pricing

import "github.com/shopspring/decimal"

var hundred = decimal.NewFromInt(100)

type Totals struct {
	Subtotal   decimal.Decimal
	TaxAmount  decimal.Decimal
	GrandTotal decimal.Decimal
}

// Line is anything carrying a precomputed quantity x unit-price total.
type Line interface {
	LineTotal() decimal.Decimal
}

// Compute sums the line totals, applies the tax rate (a percentage, e.g.
// 15 for 15%) and subtracts the discount. A discount larger than
// subtotal+tax yields a negative grand total; no clamping is applied.
func Compute(lines []Line, taxRate decimal.Decimal, discount decimal.Decimal) Totals {
	subtotal := decimal.Zero
	for _, line := range lines {
		subtotal = subtotal.Add(line.LineTotal())
	}
	return fromSubtotal(subtotal, taxRate, discount)
}

// ComputeAmounts is Compute for callers that already hold raw amounts
// (e.g. labor cost + parts cost) instead of line structs.
func ComputeAmounts(amounts []decimal.Decimal, taxRate decimal.Decimal, discount decimal.Decimal) Totals {
	subtotal := decimal.Zero
	for _, amount := range amounts {
		subtotal = subtotal.Add(amount)
	}
	return fromSubtotal(subtotal, taxRate, discount)
}

func fromSubtotal(subtotal decimal.Decimal, taxRate decimal.Decimal, discount decimal.Decimal) Totals {
	tax := subtotal.Mul(taxRate.Div(hundred))
	return Totals{
		Subtotal:   subtotal,
		TaxAmount:  tax,
		GrandTotal: subtotal.Add(tax).Sub(discount),
	}
}

// LineTotal computes quantity x unit price for a single line.
func LineTotal(quantity int, unitPrice decimal.Decimal) decimal.Decimal {
	return unitPrice.Mul(decimal.NewFromInt(int64(quantity)))
}
