package pricing

import (
	"testing"

	"github.com/shopspring/decimal"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func TestComputeAmountsStandardBill(t *testing.T) {
	totals := ComputeAmounts(
		[]decimal.Decimal{dec("1000.00"), dec("500.00")},
		dec("15"),
		decimal.Zero,
	)

	if !totals.Subtotal.Equal(dec("1500.00")) {
		t.Fatalf("expected subtotal 1500.00, got %s", totals.Subtotal)
	}
	if !totals.TaxAmount.Equal(dec("225.00")) {
		t.Fatalf("expected tax 225.00, got %s", totals.TaxAmount)
	}
	if !totals.GrandTotal.Equal(dec("1725.00")) {
		t.Fatalf("expected grand total 1725.00, got %s", totals.GrandTotal)
	}
}

func TestComputeGrandTotalIdentity(t *testing.T) {
	cases := []struct {
		amounts  []string
		taxRate  string
		discount string
	}{
		{[]string{"0"}, "0", "0"},
		{[]string{"100.50", "249.50"}, "15", "50"},
		{[]string{"19.99", "0.01", "5000"}, "7.5", "0"},
		{[]string{"3.33"}, "15", "1000"},
	}

	for _, tc := range cases {
		amounts := make([]decimal.Decimal, 0, len(tc.amounts))
		for _, a := range tc.amounts {
			amounts = append(amounts, dec(a))
		}
		totals := ComputeAmounts(amounts, dec(tc.taxRate), dec(tc.discount))

		want := totals.Subtotal.Add(totals.TaxAmount).Sub(dec(tc.discount))
		if !totals.GrandTotal.Equal(want) {
			t.Fatalf("grand total %s != subtotal+tax-discount %s for %v", totals.GrandTotal, want, tc)
		}
	}
}

func TestComputeDoesNotClampNegativeGrandTotal(t *testing.T) {
	totals := ComputeAmounts([]decimal.Decimal{dec("10.00")}, decimal.Zero, dec("25.00"))
	if !totals.GrandTotal.Equal(dec("-15.00")) {
		t.Fatalf("expected -15.00 grand total, got %s", totals.GrandTotal)
	}
}

type fakeLine struct{ total decimal.Decimal }

func (l fakeLine) LineTotal() decimal.Decimal { return l.total }

func TestComputeOverLines(t *testing.T) {
	totals := Compute([]Line{fakeLine{dec("120.00")}, fakeLine{dec("80.00")}}, dec("10"), dec("20"))
	if !totals.Subtotal.Equal(dec("200.00")) {
		t.Fatalf("expected subtotal 200.00, got %s", totals.Subtotal)
	}
	if !totals.GrandTotal.Equal(dec("200.00")) {
		t.Fatalf("expected grand total 200.00, got %s", totals.GrandTotal)
	}
}

func TestLineTotal(t *testing.T) {
	if got := LineTotal(3, dec("19.99")); !got.Equal(dec("59.97")) {
		t.Fatalf("expected 59.97, got %s", got)
	}
	if got := LineTotal(0, dec("19.99")); !got.Equal(decimal.Zero) {
		t.Fatalf("expected zero for zero quantity, got %s", got)
	}
}

func TestComputeDecimalExactness(t *testing.T) {
	// 0.1 + 0.2 style sums must be exact under decimal arithmetic.
	amounts := []decimal.Decimal{dec("0.10"), dec("0.20")}
	totals := ComputeAmounts(amounts, decimal.Zero, decimal.Zero)
	if !totals.GrandTotal.Equal(dec("0.30")) {
		t.Fatalf("expected exact 0.30, got %s", totals.GrandTotal)
	}
}
