package service

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/utafrali/storefront/internal/domain"
	"github.com/utafrali/storefront/internal/event"
	"github.com/utafrali/storefront/internal/gateway"
	"github.com/utafrali/storefront/internal/repository"
	apperrors "github.com/utafrali/storefront/pkg/errors"
)

const (
	// orderNumberAttempts bounds retries on an order number collision.
	orderNumberAttempts = 3

	// systemActor is recorded on history rows written by the service itself.
	systemActor = "system"
)

// ConfirmOrderInput holds the parameters for confirming a checkout.
type ConfirmOrderInput struct {
	PaymentMethod domain.PaymentMethod
	PaymentData   map[string]string
	CouponCode    string
	Notes         string
	Email         string
}

// ConfirmOrder charges the session total and turns the session into an
// order. The session is consumed in the same unit of work that writes the
// order, so a retried confirmation fails with SessionExpired instead of
// creating a second order. Shipment booking and the confirmation email run
// after commit and never fail the order.
func (s *CheckoutService) ConfirmOrder(ctx context.Context, checkoutID string, input *ConfirmOrderInput) (_ *domain.OrderConfirmation, err error) {
	defer func() {
		checkoutConfirmations.WithLabelValues(confirmationResult(err)).Inc()
	}()

	if input == nil {
		return nil, apperrors.InvalidInput("confirmation input is required")
	}
	if !s.paymentMethodAllowed(input.PaymentMethod) {
		return nil, apperrors.InvalidInput(fmt.Sprintf("payment method %q is not available", input.PaymentMethod))
	}

	session, err := s.repos.Sessions.Get(ctx, checkoutID)
	if err != nil {
		return nil, fmt.Errorf("get checkout for confirmation: %w", err)
	}

	shipping, billing, err := s.finalAddresses(ctx, session)
	if err != nil {
		return nil, err
	}
	if err := s.restrictions.EnsureShippable(ctx, session.Items, shipping); err != nil {
		return nil, err
	}

	couponID, err := s.confirmCoupon(ctx, session, input.CouponCode)
	if err != nil {
		return nil, err
	}

	payment, err := s.charge(ctx, session, input)
	if err != nil {
		return nil, err
	}

	order := s.newOrder(session, shipping, billing, input, payment)
	confirmation := &domain.OrderConfirmation{
		Order:   order,
		Summary: session.Summary,
		Payment: domain.PaymentReceipt{
			TransactionID: payment.TransactionID,
			Status:        order.PaymentStatus,
			Method:        order.PaymentMethod,
			Amount:        order.TotalAmount,
		},
	}

	err = s.persistOrder(ctx, session, order, couponID, func(ctx context.Context) {
		confirmation.EmailSent = s.afterConfirm(ctx, order, input.Email)
	})
	if err != nil {
		if payment.TransactionID != "" {
			s.refundUnsavedPayment(ctx, session, payment, err)
		}
		var appErr *apperrors.AppError
		if errors.As(err, &appErr) {
			return nil, err
		}
		s.logger.ErrorContext(ctx, "order confirmation failed",
			slog.String("checkout_id", session.ID),
			slog.String("error", err.Error()),
		)
		return nil, domain.OrderConfirmationFailedError(session.ID, err)
	}

	s.logger.InfoContext(ctx, "order confirmed",
		slog.String("checkout_id", session.ID),
		slog.String("order_id", order.ID),
		slog.String("order_number", order.OrderNumber),
		slog.String("payment_status", string(order.PaymentStatus)),
		slog.String("total_amount", order.TotalAmount.StringFixed(2)),
	)

	return confirmation, nil
}

// finalAddresses returns the addresses the order ships and bills to. Saved
// address IDs without a stored copy are resolved again.
func (s *CheckoutService) finalAddresses(ctx context.Context, session *domain.CheckoutSession) (*domain.Address, *domain.Address, error) {
	shipping, err := s.sessionAddress(ctx, session, session.ShippingAddress, session.ShippingAddressID)
	if err != nil {
		return nil, nil, fmt.Errorf("resolve shipping address: %w", err)
	}
	if shipping == nil {
		return nil, nil, domain.AddressRequiredError("shipping address")
	}

	billing, err := s.sessionAddress(ctx, session, session.BillingAddress, session.BillingAddressID)
	if err != nil {
		return nil, nil, fmt.Errorf("resolve billing address: %w", err)
	}
	if billing == nil {
		return nil, nil, domain.AddressRequiredError("billing address")
	}
	return shipping, billing, nil
}

func (s *CheckoutService) sessionAddress(ctx context.Context, session *domain.CheckoutSession, stored *domain.Address, savedID string) (*domain.Address, error) {
	if stored != nil {
		return copyAddress(stored), nil
	}
	if savedID == "" {
		return nil, nil
	}
	addr, _, err := s.resolveAddress(ctx, session.Identity, &domain.AddressInput{SavedAddressID: savedID})
	return addr, err
}

// confirmCoupon settles the coupon the order is placed with and returns its
// ID, or "" when there is none. A code given at confirmation is applied when
// the session has no coupon and must match the session's coupon otherwise.
// An applied coupon is checked again since it may have expired or run out.
func (s *CheckoutService) confirmCoupon(ctx context.Context, session *domain.CheckoutSession, code string) (string, error) {
	code = strings.TrimSpace(code)

	if session.Coupon == nil {
		if code == "" {
			return "", nil
		}
		if err := s.applyCoupon(ctx, session, code); err != nil {
			return "", err
		}
		return session.Coupon.ID, nil
	}

	if code != "" && !strings.EqualFold(code, session.Coupon.Code) {
		return "", domain.InvalidCouponError(strings.ToUpper(code),
			fmt.Sprintf("does not match coupon %s applied to this checkout", session.Coupon.Code))
	}
	coupon, err := s.coupons.Validate(ctx, session.Coupon.Code, session.Items)
	if err != nil {
		return "", err
	}
	return coupon.ID, nil
}

// charge submits the session total to the payment service. Payment is a
// single attempt; only success and pending outcomes let the order proceed.
func (s *CheckoutService) charge(ctx context.Context, session *domain.CheckoutSession, input *ConfirmOrderInput) (*gateway.PaymentResult, error) {
	result, err := s.gateways.Payment.ProcessPayment(ctx, gateway.PaymentRequest{
		CheckoutID:  session.ID,
		Customer:    session.Identity,
		Amount:      session.Summary.TotalAmount,
		Currency:    s.opts.Currency,
		Method:      input.PaymentMethod,
		PaymentData: input.PaymentData,
	})
	if err != nil {
		// A decline reported through an error status keeps the gateway's text.
		var appErr *apperrors.AppError
		if errors.Is(err, apperrors.ErrPaymentFailed) && errors.As(err, &appErr) {
			s.logger.InfoContext(ctx, "payment declined",
				slog.String("checkout_id", session.ID),
				slog.String("payment_method", string(input.PaymentMethod)),
				slog.String("message", appErr.Message),
			)
			return nil, domain.PaymentFailedError(input.PaymentMethod, strings.TrimPrefix(appErr.Message, "payment: "))
		}
		s.logger.ErrorContext(ctx, "payment request failed",
			slog.String("checkout_id", session.ID),
			slog.String("payment_method", string(input.PaymentMethod)),
			slog.String("error", err.Error()),
		)
		return nil, domain.PaymentFailedError(input.PaymentMethod, "payment service is unavailable")
	}
	if !result.Accepted() {
		s.logger.InfoContext(ctx, "payment declined",
			slog.String("checkout_id", session.ID),
			slog.String("payment_method", string(input.PaymentMethod)),
			slog.String("payment_status", result.PaymentStatus),
			slog.String("message", result.Error),
		)
		return nil, domain.PaymentFailedError(input.PaymentMethod, result.Error)
	}
	return result, nil
}

// newOrder builds the order for a charged session.
func (s *CheckoutService) newOrder(session *domain.CheckoutSession, shipping, billing *domain.Address, input *ConfirmOrderInput, payment *gateway.PaymentResult) *domain.Order {
	now := s.now()
	orderID := uuid.New().String()

	items := make([]domain.OrderItem, 0, len(session.Items))
	for _, it := range session.Items {
		items = append(items, domain.OrderItem{
			ID:               uuid.New().String(),
			OrderID:          orderID,
			ProductID:        it.ProductID,
			Name:             it.Name,
			SKU:              it.SKU,
			Quantity:         it.Quantity,
			UnitPrice:        domain.RoundMoney(it.UnitPrice),
			TotalPrice:       domain.RoundMoney(it.LineTotal()),
			SelectedVariants: it.SelectedVariants,
		})
	}

	raw := payment.Raw
	if len(raw) == 0 {
		raw, _ = json.Marshal(payment)
	}

	order := &domain.Order{
		ID:                     orderID,
		Identity:               session.Identity,
		CheckoutID:             session.ID,
		Status:                 domain.OrderStatusPending,
		PaymentStatus:          paymentStatus(input.PaymentMethod, payment),
		PaymentMethod:          input.PaymentMethod,
		Subtotal:               session.Summary.Subtotal,
		TaxAmount:              session.Summary.TaxAmount,
		ShippingAmount:         session.Summary.ShippingAmount,
		DiscountAmount:         session.Summary.DiscountAmount,
		TotalAmount:            session.Summary.TotalAmount,
		Currency:               s.opts.Currency,
		ShippingAddress:        *shipping,
		BillingAddress:         *billing,
		PaymentTransactionID:   payment.TransactionID,
		PaymentGatewayResponse: raw,
		Notes:                  input.Notes,
		Items:                  items,
		History: []domain.StatusHistory{{
			ID:        uuid.New().String(),
			OrderID:   orderID,
			NewStatus: domain.OrderStatusPending,
			Actor:     systemActor,
			Notes:     "order created from checkout " + session.ID,
			CreatedAt: now,
		}},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if session.ShippingMethod != nil {
		order.ShippingMethod = session.ShippingMethod.ID
	}
	if session.Coupon != nil {
		order.CouponCode = session.Coupon.Code
	}
	return order
}

// persistOrder writes the order and its side effects in one unit of work,
// retrying with a fresh order number when the generated one is taken.
func (s *CheckoutService) persistOrder(ctx context.Context, session *domain.CheckoutSession, order *domain.Order, couponID string, afterCommit func(context.Context)) error {
	var err error
	for attempt := 0; attempt < orderNumberAttempts; attempt++ {
		order.OrderNumber, err = generateOrderNumber(order.CreatedAt)
		if err != nil {
			return err
		}

		err = s.repos.Transactor.WithTransaction(ctx, func(ctx context.Context, tx repository.Tx) error {
			if err := tx.SaveOrder(ctx, order); err != nil {
				return err
			}
			if err := tx.DecrementStock(ctx, order.Items); err != nil {
				return err
			}
			if couponID != "" {
				if err := tx.IncrementCouponUsage(ctx, couponID); err != nil {
					return fmt.Errorf("increment coupon usage: %w", err)
				}
			}
			if err := tx.ClearCart(ctx, session.Identity); err != nil {
				return fmt.Errorf("clear cart: %w", err)
			}

			removed, err := s.repos.Sessions.Delete(ctx, session.ID)
			if err != nil {
				return fmt.Errorf("delete checkout session: %w", err)
			}
			if !removed {
				return domain.SessionExpiredError(session.ID)
			}

			tx.AfterCommit(afterCommit)
			return nil
		})
		if !errors.Is(err, apperrors.ErrConflict) {
			return err
		}
		s.logger.WarnContext(ctx, "order number collision, retrying",
			slog.String("checkout_id", session.ID),
			slog.String("order_number", order.OrderNumber),
		)
	}
	return err
}

// afterConfirm books the shipment and sends the confirmation email. It
// reports whether the email was sent. Failures are logged and swallowed.
func (s *CheckoutService) afterConfirm(ctx context.Context, order *domain.Order, recipient string) bool {
	if order.PaymentMethod.RequiresShipment() {
		s.bookShipment(ctx, order)
	}

	emailSent := true
	if err := s.gateways.Email.SendOrderConfirmation(ctx, gateway.NewOrderEmail(order, recipient)); err != nil {
		emailSent = false
		s.logger.ErrorContext(ctx, "failed to send order confirmation email",
			slog.String("order_id", order.ID),
			slog.String("error", err.Error()),
		)
	}

	// Publish event; log but do not fail on error.
	if err := s.producer.PublishOrderConfirmed(ctx, order); err != nil {
		s.logger.ErrorContext(ctx, "failed to publish order.confirmed event",
			slog.String("order_id", order.ID),
			slog.String("error", err.Error()),
		)
	}
	return emailSent
}

func (s *CheckoutService) bookShipment(ctx context.Context, order *domain.Order) {
	items := make([]gateway.ShippingItem, 0, len(order.Items))
	for _, it := range order.Items {
		items = append(items, gateway.ShippingItem{ProductID: it.ProductID, SKU: it.SKU, Quantity: it.Quantity})
	}

	shipment, err := s.gateways.Shipping.CreateShipment(ctx, gateway.ShipmentRequest{
		OrderID:     order.ID,
		OrderNumber: order.OrderNumber,
		Method:      order.ShippingMethod,
		Destination: order.ShippingAddress,
		Items:       items,
	})
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to create shipment",
			slog.String("order_id", order.ID),
			slog.String("error", err.Error()),
		)
		return
	}

	if err := s.repos.Orders.SetTrackingNumber(ctx, order.ID, shipment.TrackingNumber); err != nil {
		s.logger.ErrorContext(ctx, "failed to save tracking number",
			slog.String("order_id", order.ID),
			slog.String("tracking_number", shipment.TrackingNumber),
			slog.String("error", err.Error()),
		)
		return
	}
	order.TrackingNumber = shipment.TrackingNumber

	s.logger.InfoContext(ctx, "shipment created",
		slog.String("order_id", order.ID),
		slog.String("tracking_number", shipment.TrackingNumber),
		slog.String("carrier", shipment.Carrier),
	)
}

// refundUnsavedPayment releases a charge whose order could not be written.
// It is best effort: the outcome is logged and counted, never returned.
func (s *CheckoutService) refundUnsavedPayment(ctx context.Context, session *domain.CheckoutSession, payment *gateway.PaymentResult, cause error) {
	ctx = context.WithoutCancel(ctx)
	reason := "order could not be saved: " + cause.Error()

	result, err := s.gateways.Payment.RefundPayment(ctx, gateway.RefundRequest{
		TransactionID: payment.TransactionID,
		Amount:        session.Summary.TotalAmount,
		Reason:        reason,
	})
	if err != nil {
		compensatingRefunds.WithLabelValues("failed").Inc()
		s.logger.ErrorContext(ctx, "compensating refund failed, manual reconciliation required",
			slog.String("checkout_id", session.ID),
			slog.String("transaction_id", payment.TransactionID),
			slog.String("amount", session.Summary.TotalAmount.StringFixed(2)),
			slog.String("error", err.Error()),
		)
		return
	}
	compensatingRefunds.WithLabelValues("success").Inc()

	s.logger.WarnContext(ctx, "payment refunded after failed confirmation",
		slog.String("checkout_id", session.ID),
		slog.String("transaction_id", payment.TransactionID),
		slog.String("refund_id", result.RefundID),
	)

	if err := s.producer.PublishPaymentRefunded(ctx, event.PaymentRefundedData{
		CheckoutID:    session.ID,
		TransactionID: payment.TransactionID,
		Amount:        session.Summary.TotalAmount,
		Reason:        reason,
	}); err != nil {
		s.logger.ErrorContext(ctx, "failed to publish payment.refunded event",
			slog.String("checkout_id", session.ID),
			slog.String("error", err.Error()),
		)
	}
}

// paymentStatus maps an accepted gateway result onto the order's payment
// status. Cash on delivery is collected later; a pending card or wallet
// charge is an authorization.
func paymentStatus(method domain.PaymentMethod, result *gateway.PaymentResult) domain.PaymentStatus {
	switch {
	case method == domain.PaymentMethodCashOnDelivery:
		return domain.PaymentStatusPending
	case result.Success && !result.Pending():
		return domain.PaymentStatusPaid
	default:
		return domain.PaymentStatusAuthorized
	}
}

var orderNumberSpace = big.NewInt(1_000_000)

// generateOrderNumber returns ORD-<year>-<6 random digits>.
func generateOrderNumber(now time.Time) (string, error) {
	n, err := rand.Int(rand.Reader, orderNumberSpace)
	if err != nil {
		return "", fmt.Errorf("generate order number: %w", err)
	}
	return fmt.Sprintf("ORD-%d-%06d", now.Year(), n.Int64()), nil
}
