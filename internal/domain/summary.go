package domain

import (
	"github.com/shopspring/decimal"
)

// moneyPlaces is the number of decimal places every amount is rounded to.
const moneyPlaces = 2

// RoundMoney rounds d half away from zero to two places.
func RoundMoney(d decimal.Decimal) decimal.Decimal {
	return d.Round(moneyPlaces)
}

// SummaryLine is the priced view of one checkout item.
type SummaryLine struct {
	ProductID string          `json:"product_id"`
	Name      string          `json:"name"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	LineTotal decimal.Decimal `json:"line_total"`
}

// Summary holds the canonical totals of a checkout or order.
type Summary struct {
	Subtotal       decimal.Decimal `json:"subtotal"`
	TaxAmount      decimal.Decimal `json:"tax_amount"`
	ShippingAmount decimal.Decimal `json:"shipping_amount"`
	DiscountAmount decimal.Decimal `json:"discount_amount"`
	TotalAmount    decimal.Decimal `json:"total_amount"`
	ItemCount      int             `json:"item_count"`
	Items          []SummaryLine   `json:"items"`
}

// CalculateSummary is the single totals formula used by every checkout step:
// total = subtotal + tax + shipping - discount. Components are rounded before
// the total is formed, so the identity holds exactly on the rounded values.
func CalculateSummary(items []CheckoutItem, discount, shipping, tax decimal.Decimal) Summary {
	subtotal := decimal.Zero
	count := 0
	lines := make([]SummaryLine, 0, len(items))
	for _, it := range items {
		lineTotal := it.LineTotal()
		subtotal = subtotal.Add(lineTotal)
		count += it.Quantity
		lines = append(lines, SummaryLine{
			ProductID: it.ProductID,
			Name:      it.Name,
			Quantity:  it.Quantity,
			UnitPrice: RoundMoney(it.UnitPrice),
			LineTotal: RoundMoney(lineTotal),
		})
	}

	s := Summary{
		Subtotal:       RoundMoney(subtotal),
		TaxAmount:      RoundMoney(tax),
		ShippingAmount: RoundMoney(shipping),
		DiscountAmount: RoundMoney(discount),
		ItemCount:      count,
		Items:          lines,
	}
	s.TotalAmount = s.Subtotal.Add(s.TaxAmount).Add(s.ShippingAmount).Sub(s.DiscountAmount)
	return s
}
