package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/utafrali/storefront/internal/domain"
	"github.com/utafrali/storefront/internal/event"
	"github.com/utafrali/storefront/internal/gateway"
	"github.com/utafrali/storefront/internal/repository"
	apperrors "github.com/utafrali/storefront/pkg/errors"
)

// OrderService implements reads and status changes of confirmed orders.
type OrderService struct {
	repo       repository.OrderRepository
	transactor repository.Transactor
	payments   gateway.PaymentService
	producer   *event.Producer
	logger     *slog.Logger
	now        func() time.Time
}

// NewOrderService creates a new order service.
func NewOrderService(
	repo repository.OrderRepository,
	transactor repository.Transactor,
	payments gateway.PaymentService,
	producer *event.Producer,
	logger *slog.Logger,
) *OrderService {
	return &OrderService{
		repo:       repo,
		transactor: transactor,
		payments:   payments,
		producer:   producer,
		logger:     logger,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// GetOrder retrieves an order with its items and status history.
func (s *OrderService) GetOrder(ctx context.Context, id string) (*domain.Order, error) {
	order, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get order by id: %w", err)
	}
	return order, nil
}

// UpdateOrderStatus moves an order to status under a row lock and records
// the transition. Cancelling or refunding an order with a captured payment
// refunds it once the transition has committed.
func (s *OrderService) UpdateOrderStatus(ctx context.Context, orderID string, status domain.OrderStatus, actor, notes string) (*domain.Order, error) {
	if !status.Valid() {
		return nil, apperrors.InvalidInput(fmt.Sprintf("invalid order status %q", status))
	}
	actor = strings.TrimSpace(actor)
	if actor == "" {
		actor = systemActor
	}

	var history *domain.StatusHistory
	err := s.transactor.WithTransaction(ctx, func(ctx context.Context, tx repository.Tx) error {
		current, err := tx.LockOrder(ctx, orderID)
		if err != nil {
			return err
		}
		if !current.Status.CanTransitionTo(status) {
			return apperrors.InvalidInput(fmt.Sprintf("cannot transition order %s from %q to %q",
				current.OrderNumber, current.Status, status))
		}

		previous := current.Status
		history = &domain.StatusHistory{
			ID:             uuid.New().String(),
			OrderID:        current.ID,
			PreviousStatus: &previous,
			NewStatus:      status,
			Actor:          actor,
			Notes:          notes,
			CreatedAt:      s.now(),
		}
		if err := tx.UpdateOrderStatus(ctx, current.ID, history); err != nil {
			return fmt.Errorf("update order status: %w", err)
		}

		tx.AfterCommit(func(ctx context.Context) {
			if status.ReleasesPayment() && current.PaymentStatus.Captured() && current.PaymentTransactionID != "" {
				s.releasePayment(ctx, current, status)
			}
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	// Publish event; log but do not fail on error.
	if err := s.producer.PublishOrderStatusChanged(ctx, history); err != nil {
		s.logger.ErrorContext(ctx, "failed to publish order.status_changed event",
			slog.String("order_id", orderID),
			slog.String("error", err.Error()),
		)
	}

	s.logger.InfoContext(ctx, "order status updated",
		slog.String("order_id", orderID),
		slog.String("old_status", string(*history.PreviousStatus)),
		slog.String("new_status", string(status)),
		slog.String("actor", actor),
	)

	return s.GetOrder(ctx, orderID)
}

// releasePayment refunds a captured payment and marks the order refunded.
func (s *OrderService) releasePayment(ctx context.Context, order *domain.Order, status domain.OrderStatus) {
	reason := "order " + string(status)
	result, err := s.payments.RefundPayment(ctx, gateway.RefundRequest{
		TransactionID: order.PaymentTransactionID,
		Amount:        order.TotalAmount,
		Reason:        reason,
	})
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to refund payment",
			slog.String("order_id", order.ID),
			slog.String("transaction_id", order.PaymentTransactionID),
			slog.String("error", err.Error()),
		)
		return
	}

	if err := s.repo.UpdatePaymentStatus(ctx, order.ID, domain.PaymentStatusRefunded); err != nil {
		s.logger.ErrorContext(ctx, "payment refunded but status not saved",
			slog.String("order_id", order.ID),
			slog.String("refund_id", result.RefundID),
			slog.String("error", err.Error()),
		)
		return
	}

	if err := s.producer.PublishPaymentRefunded(ctx, event.PaymentRefundedData{
		OrderID:       order.ID,
		TransactionID: order.PaymentTransactionID,
		Amount:        order.TotalAmount,
		Reason:        reason,
	}); err != nil {
		s.logger.ErrorContext(ctx, "failed to publish payment.refunded event",
			slog.String("order_id", order.ID),
			slog.String("error", err.Error()),
		)
	}

	s.logger.InfoContext(ctx, "payment refunded",
		slog.String("order_id", order.ID),
		slog.String("refund_id", result.RefundID),
	)
}
