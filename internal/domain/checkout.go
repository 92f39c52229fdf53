package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// PaymentMethod is how a customer pays for an order.
type PaymentMethod string

const (
	PaymentMethodCard           PaymentMethod = "card"
	PaymentMethodWallet         PaymentMethod = "wallet"
	PaymentMethodCashOnDelivery PaymentMethod = "cash_on_delivery"
)

// RequiresShipment reports whether a carrier shipment is booked right after
// confirmation. Cash-on-delivery orders are dispatched manually.
func (m PaymentMethod) RequiresShipment() bool {
	switch m {
	case PaymentMethodCard, PaymentMethodWallet:
		return true
	case PaymentMethodCashOnDelivery:
		return false
	}
	return false
}

// CheckoutItem is a cart line validated against live product data.
type CheckoutItem struct {
	ProductID        string           `json:"product_id"`
	Name             string           `json:"name"`
	SKU              string           `json:"sku"`
	Quantity         int              `json:"quantity"`
	UnitPrice        decimal.Decimal  `json:"unit_price"`
	CategoryIDs      []string         `json:"category_ids"`
	SelectedVariants []AttributeValue `json:"selected_variants,omitempty"`
}

// LineTotal returns unit price times quantity.
func (i *CheckoutItem) LineTotal() decimal.Decimal {
	return i.UnitPrice.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

// ShippingMethod is a carrier option quoted for a destination.
type ShippingMethod struct {
	ID            string          `json:"id"`
	Name          string          `json:"name"`
	Cost          decimal.Decimal `json:"cost"`
	EstimatedDays int             `json:"estimated_days"`
}

// AppliedCoupon is the coupon state carried by a checkout session.
type AppliedCoupon struct {
	ID   string     `json:"id"`
	Code string     `json:"code"`
	Type CouponType `json:"type"`
}

// CheckoutSession is the in-progress, TTL-bound state of one checkout.
type CheckoutSession struct {
	ID       string         `json:"id"`
	Identity Identity       `json:"identity"`
	Items    []CheckoutItem `json:"items"`
	Summary  Summary        `json:"summary"`

	ShippingAddress   *Address `json:"shipping_address,omitempty"`
	BillingAddress    *Address `json:"billing_address,omitempty"`
	ShippingAddressID string   `json:"shipping_address_id,omitempty"`
	BillingAddressID  string   `json:"billing_address_id,omitempty"`

	ShippingMethod           *ShippingMethod  `json:"shipping_method,omitempty"`
	ShippingAmount           decimal.Decimal  `json:"shipping_amount"`
	AvailableShippingMethods []ShippingMethod `json:"available_shipping_methods"`
	TaxAmount                decimal.Decimal  `json:"tax_amount"`

	Coupon         *AppliedCoupon  `json:"coupon,omitempty"`
	DiscountAmount decimal.Decimal `json:"discount_amount"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// CategoryIDs returns the distinct category IDs across all items.
func (s *CheckoutSession) CategoryIDs() []string {
	seen := make(map[string]struct{})
	var ids []string
	for _, it := range s.Items {
		for _, c := range it.CategoryIDs {
			if _, ok := seen[c]; ok {
				continue
			}
			seen[c] = struct{}{}
			ids = append(ids, c)
		}
	}
	return ids
}

// Reprice recomputes the summary from the session's current amounts. A
// free-shipping coupon waives the shipping amount.
func (s *CheckoutSession) Reprice() {
	shipping := s.ShippingAmount
	if s.Coupon != nil && s.Coupon.Type == CouponTypeFreeShipping {
		shipping = decimal.Zero
	}
	s.Summary = CalculateSummary(s.Items, s.DiscountAmount, shipping, s.TaxAmount)
}

// SelectShipping records the chosen method (nil clears the selection).
func (s *CheckoutSession) SelectShipping(m *ShippingMethod) {
	s.ShippingMethod = m
	if m == nil {
		s.ShippingAmount = decimal.Zero
		return
	}
	s.ShippingAmount = m.Cost
}
