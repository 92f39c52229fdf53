package domain

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	apperrors "github.com/utafrali/storefront/pkg/errors"
)

// Checkout failure kinds. Every returned error wraps exactly one of these in
// an *apperrors.AppError whose message names the offending entity.
var (
	ErrCartEmpty               = errors.New("cart is empty")
	ErrProductUnavailable      = errors.New("product unavailable")
	ErrInsufficientStock       = errors.New("insufficient stock")
	ErrShippingRestricted      = errors.New("shipping restricted")
	ErrInvalidCoupon           = errors.New("invalid coupon")
	ErrCouponExpired           = errors.New("coupon expired")
	ErrCouponUsageExceeded     = errors.New("coupon usage exceeded")
	ErrCouponNotApplicable     = errors.New("coupon not applicable")
	ErrSessionExpired          = errors.New("checkout session expired")
	ErrAddressRequired         = errors.New("address required")
	ErrPaymentFailed           = errors.New("payment failed")
	ErrOrderConfirmationFailed = errors.New("order confirmation failed")
)

// CartEmptyError reports that the identity has no active cart lines.
func CartEmptyError(id Identity) error {
	return apperrors.New("CART_EMPTY", http.StatusUnprocessableEntity,
		fmt.Sprintf("cart for %s is empty", id), ErrCartEmpty)
}

// ProductUnavailableError reports a missing, unpublished or unapproved product.
func ProductUnavailableError(productID, name string) error {
	label := productID
	if name != "" {
		label = fmt.Sprintf("%q (%s)", name, productID)
	}
	return apperrors.New("PRODUCT_UNAVAILABLE", http.StatusUnprocessableEntity,
		fmt.Sprintf("product %s is not available for purchase", label), ErrProductUnavailable)
}

// InsufficientStockError reports a line asking for more than is in stock.
func InsufficientStockError(productID, name string, requested, available int) error {
	return apperrors.New("INSUFFICIENT_STOCK", http.StatusConflict,
		fmt.Sprintf("insufficient stock for product %q (%s): requested %d, available %d",
			name, productID, requested, available),
		ErrInsufficientStock)
}

// ShippingRestrictedError names the products that cannot ship to state.
func ShippingRestrictedError(state string, productNames []string, reasons []string) error {
	msg := fmt.Sprintf("the following products cannot be shipped to %s: %s",
		state, strings.Join(productNames, ", "))
	if len(reasons) > 0 {
		msg += " (" + strings.Join(reasons, "; ") + ")"
	}
	return apperrors.New("SHIPPING_RESTRICTED", http.StatusUnprocessableEntity, msg, ErrShippingRestricted)
}

// InvalidCouponError reports an unknown, inactive or mismatched coupon.
func InvalidCouponError(code, reason string) error {
	return apperrors.New("INVALID_COUPON", http.StatusUnprocessableEntity,
		fmt.Sprintf("coupon %s %s", code, reason), ErrInvalidCoupon)
}

// CouponExpiredError reports a coupon outside its validity window.
func CouponExpiredError(code string) error {
	return apperrors.New("COUPON_EXPIRED", http.StatusUnprocessableEntity,
		fmt.Sprintf("coupon %s has expired", code), ErrCouponExpired)
}

// CouponUsageExceededError reports a coupon whose usage limit is reached.
func CouponUsageExceededError(code string, limit int) error {
	return apperrors.New("COUPON_USAGE_EXCEEDED", http.StatusUnprocessableEntity,
		fmt.Sprintf("coupon %s has reached its usage limit of %d", code, limit), ErrCouponUsageExceeded)
}

// CouponNotApplicableError reports a coupon whose conditions the cart fails.
func CouponNotApplicableError(code, reason string) error {
	return apperrors.New("COUPON_NOT_APPLICABLE", http.StatusUnprocessableEntity,
		fmt.Sprintf("coupon %s is not applicable: %s", code, reason), ErrCouponNotApplicable)
}

// SessionExpiredError is the single failure for unknown, expired or consumed
// checkout IDs.
func SessionExpiredError(checkoutID string) error {
	return apperrors.New("SESSION_EXPIRED", http.StatusGone,
		fmt.Sprintf("checkout session %s has expired or does not exist", checkoutID), ErrSessionExpired)
}

// AddressRequiredError names the missing address field.
func AddressRequiredError(field string) error {
	return apperrors.New("ADDRESS_REQUIRED", http.StatusUnprocessableEntity,
		fmt.Sprintf("%s is required to confirm the order", field), ErrAddressRequired)
}

// PaymentFailedError carries the gateway's error text.
func PaymentFailedError(method PaymentMethod, gatewayMessage string) error {
	if gatewayMessage == "" {
		gatewayMessage = "payment was declined"
	}
	return apperrors.New("PAYMENT_FAILED", http.StatusPaymentRequired,
		fmt.Sprintf("%s payment failed: %s", method, gatewayMessage), ErrPaymentFailed)
}

// OrderConfirmationFailedError wraps unexpected persistence failures.
func OrderConfirmationFailedError(checkoutID string, cause error) error {
	return apperrors.New("ORDER_CONFIRMATION_FAILED", http.StatusInternalServerError,
		fmt.Sprintf("order for checkout %s could not be confirmed", checkoutID),
		fmt.Errorf("%w: %w", ErrOrderConfirmationFailed, cause))
}
