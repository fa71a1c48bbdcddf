package checkout

import "github.com/shopspring/decimal"

type Line struct {
	Price decimal.Decimal
	Qty   int
}

type Policy struct {
	TaxRate               decimal.Decimal
	FreeShippingThreshold decimal.Decimal
	ShippingFlatFee       decimal.Decimal
}

type Totals struct {
	Subtotal decimal.Decimal `json:"subtotal"`
	Tax      decimal.Decimal `json:"tax"`
	Shipping decimal.Decimal `json:"shipping"`
	Total    decimal.Decimal `json:"total"`
}

// ComputeTotals prices a cart. It is called identically at quote time (to
// size the payment capture) and at confirmation time (to size the persisted
// order), so both agree given an unchanged cart.
//
// Tax is rounded to the nearest cent, half up. Shipping is free only when the
// subtotal is strictly greater than the threshold.
func ComputeTotals(lines []Line, p Policy) Totals {
	subtotal := decimal.Zero
	for _, l := range lines {
		subtotal = subtotal.Add(l.Price.Mul(decimal.NewFromInt(int64(l.Qty))))
	}
	tax := subtotal.Mul(p.TaxRate).Round(2)
	shipping := p.ShippingFlatFee
	if subtotal.GreaterThan(p.FreeShippingThreshold) {
		shipping = decimal.Zero
	}
	return Totals{
		Subtotal: subtotal,
		Tax:      tax,
		Shipping: shipping,
		Total:    subtotal.Add(tax).Add(shipping),
	}
}

// TotalCents is the gateway-facing amount.
func (t Totals) TotalCents() int64 {
	return t.Total.Shift(2).Round(0).IntPart()
}
