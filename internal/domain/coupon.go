package domain

import (
	"fmt"
	"slices"
	"time"

	"github.com/shopspring/decimal"
)

// CouponType is the kind of discount a coupon grants.
type CouponType string

const (
	CouponTypePercentage   CouponType = "percentage"
	CouponTypeFixedAmount  CouponType = "fixed_amount"
	CouponTypeFreeShipping CouponType = "free_shipping"
)

// Valid reports whether t is a known coupon type.
func (t CouponType) Valid() bool {
	switch t {
	case CouponTypePercentage, CouponTypeFixedAmount, CouponTypeFreeShipping:
		return true
	}
	return false
}

var hundred = decimal.NewFromInt(100)

// Coupon is an externally managed discount code.
type Coupon struct {
	ID                   string              `json:"id"`
	Code                 string              `json:"code"`
	Type                 CouponType          `json:"type"`
	Value                decimal.Decimal     `json:"value"`
	Active               bool                `json:"active"`
	StartDate            *time.Time          `json:"start_date,omitempty"`
	EndDate              *time.Time          `json:"end_date,omitempty"`
	UsageCount           int                 `json:"usage_count"`
	UsageLimit           *int                `json:"usage_limit,omitempty"`
	MinimumAmount        decimal.NullDecimal `json:"minimum_amount"`
	MaximumDiscount      decimal.NullDecimal `json:"maximum_discount"`
	ApplicableProducts   []string            `json:"applicable_products,omitempty"`
	ApplicableCategories []string            `json:"applicable_categories,omitempty"`
}

// Restricted reports whether the coupon carries a product or category
// allow-list.
func (c *Coupon) Restricted() bool {
	return len(c.ApplicableProducts) > 0 || len(c.ApplicableCategories) > 0
}

func (c *Coupon) applies(it CheckoutItem) bool {
	if !c.Restricted() {
		return true
	}
	if slices.Contains(c.ApplicableProducts, it.ProductID) {
		return true
	}
	for _, cat := range it.CategoryIDs {
		if slices.Contains(c.ApplicableCategories, cat) {
			return true
		}
	}
	return false
}

// ApplicableAmount sums the line totals of items the coupon applies to.
func (c *Coupon) ApplicableAmount(items []CheckoutItem) decimal.Decimal {
	total := decimal.Zero
	for _, it := range items {
		if c.applies(it) {
			total = total.Add(it.LineTotal())
		}
	}
	return total
}

// Check runs the validity rules in order and returns the first failure:
// active flag, validity window, usage limit, minimum subtotal, applicability.
func (c *Coupon) Check(now time.Time, items []CheckoutItem) error {
	if !c.Active {
		return InvalidCouponError(c.Code, "is not active")
	}
	if c.StartDate != nil && now.Before(*c.StartDate) {
		return InvalidCouponError(c.Code, fmt.Sprintf("is not valid until %s", c.StartDate.Format(time.DateOnly)))
	}
	if c.EndDate != nil && now.After(*c.EndDate) {
		return CouponExpiredError(c.Code)
	}
	if c.UsageLimit != nil && c.UsageCount >= *c.UsageLimit {
		return CouponUsageExceededError(c.Code, *c.UsageLimit)
	}

	subtotal := decimal.Zero
	for _, it := range items {
		subtotal = subtotal.Add(it.LineTotal())
	}
	if c.MinimumAmount.Valid && subtotal.LessThan(c.MinimumAmount.Decimal) {
		return CouponNotApplicableError(c.Code, fmt.Sprintf("minimum order amount is %s, cart subtotal is %s",
			c.MinimumAmount.Decimal.StringFixed(2), subtotal.StringFixed(2)))
	}

	if c.Restricted() && slices.IndexFunc(items, c.applies) < 0 {
		return CouponNotApplicableError(c.Code, "no items in the cart are eligible")
	}
	return nil
}

// Discount computes the discount for items. It never exceeds the applicable
// amount nor the maximum discount, and is zero for free-shipping coupons
// (shipping is waived separately).
func (c *Coupon) Discount(items []CheckoutItem) decimal.Decimal {
	applicable := c.ApplicableAmount(items)

	var discount decimal.Decimal
	switch c.Type {
	case CouponTypePercentage:
		discount = applicable.Mul(c.Value).Div(hundred)
	case CouponTypeFixedAmount:
		discount = decimal.Min(c.Value, applicable)
	case CouponTypeFreeShipping:
		discount = decimal.Zero
	}

	if c.MaximumDiscount.Valid && discount.GreaterThan(c.MaximumDiscount.Decimal) {
		discount = c.MaximumDiscount.Decimal
	}
	if discount.IsNegative() {
		discount = decimal.Zero
	}
	return decimal.Min(RoundMoney(discount), RoundMoney(applicable))
}
