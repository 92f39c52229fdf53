package event

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/utafrali/storefront/internal/domain"
	pkgkafka "github.com/utafrali/storefront/pkg/kafka"
	"github.com/utafrali/storefront/pkg/logger"
)

// Kafka topic constants for checkout and order events.
const (
	TopicCheckoutInitiated  = "storefront.checkout.initiated"
	TopicOrderConfirmed     = "storefront.order.confirmed"
	TopicOrderStatusChanged = "storefront.order.status_changed"
	TopicPaymentRefunded    = "storefront.payment.refunded"
)

// Aggregate type constants.
const (
	AggregateTypeCheckout = "checkout"
	AggregateTypeOrder    = "order"
)

// SourceStorefront identifies events published by this service.
const SourceStorefront = "storefront"

// Publisher is the subset of the Kafka producer used here.
type Publisher interface {
	Publish(ctx context.Context, topic string, event *pkgkafka.Event) error
}

// CheckoutInitiatedData is the payload for a checkout.initiated event.
type CheckoutInitiatedData struct {
	CheckoutID  string          `json:"checkout_id"`
	UserID      string          `json:"user_id,omitempty"`
	GuestID     string          `json:"guest_id,omitempty"`
	ItemCount   int             `json:"item_count"`
	TotalAmount decimal.Decimal `json:"total_amount"`
}

// OrderConfirmedData is the payload for an order.confirmed event.
type OrderConfirmedData struct {
	OrderID       string               `json:"order_id"`
	OrderNumber   string               `json:"order_number"`
	CheckoutID    string               `json:"checkout_id"`
	UserID        string               `json:"user_id,omitempty"`
	GuestID       string               `json:"guest_id,omitempty"`
	PaymentMethod domain.PaymentMethod `json:"payment_method"`
	PaymentStatus domain.PaymentStatus `json:"payment_status"`
	TotalAmount   decimal.Decimal      `json:"total_amount"`
	Currency      string               `json:"currency"`
	CouponCode    string               `json:"coupon_code,omitempty"`
}

// OrderStatusChangedData is the payload for an order.status_changed event.
type OrderStatusChangedData struct {
	OrderID        string             `json:"order_id"`
	PreviousStatus domain.OrderStatus `json:"previous_status"`
	NewStatus      domain.OrderStatus `json:"new_status"`
	Actor          string             `json:"actor"`
}

// PaymentRefundedData is the payload for a payment.refunded event.
type PaymentRefundedData struct {
	OrderID       string          `json:"order_id,omitempty"`
	CheckoutID    string          `json:"checkout_id,omitempty"`
	TransactionID string          `json:"transaction_id"`
	Amount        decimal.Decimal `json:"amount"`
	Reason        string          `json:"reason"`
}

// Producer publishes storefront domain events to Kafka.
type Producer struct {
	kafka  Publisher
	logger *slog.Logger
}

// NewProducer creates a new event producer.
func NewProducer(kafka Publisher, logger *slog.Logger) *Producer {
	return &Producer{
		kafka:  kafka,
		logger: logger,
	}
}

func (p *Producer) publish(ctx context.Context, topic, aggregateID, aggregateType string, data any) error {
	event, err := pkgkafka.NewEvent(topic, aggregateID, aggregateType, SourceStorefront, data)
	if err != nil {
		return fmt.Errorf("create %s event: %w", topic, err)
	}
	if id := logger.CorrelationIDFromContext(ctx); id != "" {
		event.WithCorrelationID(id)
	}

	if err := p.kafka.Publish(ctx, topic, event); err != nil {
		return fmt.Errorf("publish %s event: %w", topic, err)
	}

	p.logger.DebugContext(ctx, "published event",
		slog.String("topic", topic),
		slog.String("aggregate_id", aggregateID),
	)
	return nil
}

// PublishCheckoutInitiated publishes a checkout.initiated event.
func (p *Producer) PublishCheckoutInitiated(ctx context.Context, session *domain.CheckoutSession) error {
	return p.publish(ctx, TopicCheckoutInitiated, session.ID, AggregateTypeCheckout, CheckoutInitiatedData{
		CheckoutID:  session.ID,
		UserID:      session.Identity.UserID,
		GuestID:     session.Identity.GuestID,
		ItemCount:   session.Summary.ItemCount,
		TotalAmount: session.Summary.TotalAmount,
	})
}

// PublishOrderConfirmed publishes an order.confirmed event.
func (p *Producer) PublishOrderConfirmed(ctx context.Context, order *domain.Order) error {
	return p.publish(ctx, TopicOrderConfirmed, order.ID, AggregateTypeOrder, OrderConfirmedData{
		OrderID:       order.ID,
		OrderNumber:   order.OrderNumber,
		CheckoutID:    order.CheckoutID,
		UserID:        order.Identity.UserID,
		GuestID:       order.Identity.GuestID,
		PaymentMethod: order.PaymentMethod,
		PaymentStatus: order.PaymentStatus,
		TotalAmount:   order.TotalAmount,
		Currency:      order.Currency,
		CouponCode:    order.CouponCode,
	})
}

// PublishOrderStatusChanged publishes an order.status_changed event.
func (p *Producer) PublishOrderStatusChanged(ctx context.Context, h *domain.StatusHistory) error {
	data := OrderStatusChangedData{
		OrderID:   h.OrderID,
		NewStatus: h.NewStatus,
		Actor:     h.Actor,
	}
	if h.PreviousStatus != nil {
		data.PreviousStatus = *h.PreviousStatus
	}
	return p.publish(ctx, TopicOrderStatusChanged, h.OrderID, AggregateTypeOrder, data)
}

// PublishPaymentRefunded publishes a payment.refunded event. Refunds issued
// before an order exists are keyed by checkout ID.
func (p *Producer) PublishPaymentRefunded(ctx context.Context, data PaymentRefundedData) error {
	aggregateID, aggregateType := data.OrderID, AggregateTypeOrder
	if aggregateID == "" {
		aggregateID, aggregateType = data.CheckoutID, AggregateTypeCheckout
	}
	return p.publish(ctx, TopicPaymentRefunded, aggregateID, aggregateType, data)
}
