package gateway

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/utafrali/storefront/internal/domain"
	pkgkafka "github.com/utafrali/storefront/pkg/kafka"
)

// OrderEmail is the data a confirmation email is rendered from.
type OrderEmail struct {
	Recipient   string          `json:"recipient,omitempty"`
	Customer    domain.Identity `json:"customer"`
	OrderID     string          `json:"order_id"`
	OrderNumber string          `json:"order_number"`
	TotalAmount decimal.Decimal `json:"total_amount"`
	Currency    string          `json:"currency"`
	ItemCount   int             `json:"item_count"`
	Tracking    string          `json:"tracking_number,omitempty"`
}

// NewOrderEmail builds the email payload for a confirmed order.
func NewOrderEmail(order *domain.Order, recipient string) OrderEmail {
	count := 0
	for _, it := range order.Items {
		count += it.Quantity
	}
	return OrderEmail{
		Recipient:   recipient,
		Customer:    order.Identity,
		OrderID:     order.ID,
		OrderNumber: order.OrderNumber,
		TotalAmount: order.TotalAmount,
		Currency:    order.Currency,
		ItemCount:   count,
		Tracking:    order.TrackingNumber,
	}
}

// EmailService delivers order confirmation emails.
type EmailService interface {
	SendOrderConfirmation(ctx context.Context, email OrderEmail) error
}

// Publisher is the subset of the Kafka producer the email sender needs.
type Publisher interface {
	Publish(ctx context.Context, topic string, event *pkgkafka.Event) error
}

// KafkaEmailService hands confirmation emails to the notification pipeline as
// Kafka events. Rendering and delivery happen downstream.
type KafkaEmailService struct {
	publisher Publisher
	topic     string
	source    string
}

// NewKafkaEmailService creates an email sender publishing to topic.
func NewKafkaEmailService(publisher Publisher, topic, source string) *KafkaEmailService {
	return &KafkaEmailService{publisher: publisher, topic: topic, source: source}
}

// SendOrderConfirmation publishes an email request event keyed by order ID.
func (s *KafkaEmailService) SendOrderConfirmation(ctx context.Context, email OrderEmail) error {
	event, err := pkgkafka.NewEvent("notification.email.order_confirmation", email.OrderID, "order", s.source, email)
	if err != nil {
		return fmt.Errorf("create email event: %w", err)
	}
	event.WithMetadata("template", "order_confirmation")

	if err := s.publisher.Publish(ctx, s.topic, event); err != nil {
		return fmt.Errorf("publish email event: %w", err)
	}
	return nil
}

// LogEmailService writes confirmation emails to the log. Used in development.
type LogEmailService struct {
	logger *slog.Logger
}

// NewLogEmailService creates a log-only email sender.
func NewLogEmailService(logger *slog.Logger) *LogEmailService {
	return &LogEmailService{logger: logger}
}

func (s *LogEmailService) SendOrderConfirmation(ctx context.Context, email OrderEmail) error {
	s.logger.InfoContext(ctx, "order confirmation email",
		slog.String("order_number", email.OrderNumber),
		slog.String("recipient", email.Recipient),
		slog.String("customer", email.Customer.String()),
		slog.String("total", email.TotalAmount.StringFixed(2)),
	)
	return nil
}
