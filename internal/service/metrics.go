package service

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/utafrali/storefront/internal/domain"
)

var (
	checkoutsInitiated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "checkout_sessions_initiated_total",
			Help: "Checkout sessions created",
		},
	)

	checkoutConfirmations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "checkout_confirmations_total",
			Help: "Order confirmation attempts by result",
		},
		[]string{"result"},
	)

	shippingDegraded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "checkout_shipping_degraded_total",
			Help: "Checkout steps that continued without shipping rates",
		},
	)

	compensatingRefunds = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "checkout_compensating_refunds_total",
			Help: "Refunds issued for payments whose order could not be saved, by result",
		},
		[]string{"result"},
	)
)

// confirmationResult labels a confirmation outcome for checkoutConfirmations.
func confirmationResult(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, domain.ErrSessionExpired):
		return "session_expired"
	case errors.Is(err, domain.ErrPaymentFailed):
		return "payment_failed"
	case errors.Is(err, domain.ErrInsufficientStock):
		return "insufficient_stock"
	case errors.Is(err, domain.ErrShippingRestricted):
		return "shipping_restricted"
	case errors.Is(err, domain.ErrAddressRequired):
		return "address_required"
	default:
		return "error"
	}
}
