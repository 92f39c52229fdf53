package domain

import (
	"encoding/json"
	"slices"
	"time"

	"github.com/shopspring/decimal"
)

// OrderStatus is the fulfilment lifecycle of an order.
type OrderStatus string

const (
	OrderStatusPending    OrderStatus = "pending"
	OrderStatusConfirmed  OrderStatus = "confirmed"
	OrderStatusProcessing OrderStatus = "processing"
	OrderStatusShipped    OrderStatus = "shipped"
	OrderStatusDelivered  OrderStatus = "delivered"
	OrderStatusCancelled  OrderStatus = "cancelled"
	OrderStatusRefunded   OrderStatus = "refunded"
)

// allowedTransitions lists every legal next status. Cancelled and refunded
// are terminal.
var allowedTransitions = map[OrderStatus][]OrderStatus{
	OrderStatusPending:    {OrderStatusConfirmed, OrderStatusCancelled},
	OrderStatusConfirmed:  {OrderStatusProcessing, OrderStatusCancelled},
	OrderStatusProcessing: {OrderStatusShipped, OrderStatusCancelled},
	OrderStatusShipped:    {OrderStatusDelivered},
	OrderStatusDelivered:  {OrderStatusRefunded},
	OrderStatusCancelled:  nil,
	OrderStatusRefunded:   nil,
}

// Valid reports whether s is a known order status.
func (s OrderStatus) Valid() bool {
	_, ok := allowedTransitions[s]
	return ok
}

// CanTransitionTo reports whether moving from s to target is allowed.
func (s OrderStatus) CanTransitionTo(target OrderStatus) bool {
	return slices.Contains(allowedTransitions[s], target)
}

// ReleasesPayment reports whether entering s should refund a captured payment.
func (s OrderStatus) ReleasesPayment() bool {
	switch s {
	case OrderStatusCancelled, OrderStatusRefunded:
		return true
	case OrderStatusPending, OrderStatusConfirmed, OrderStatusProcessing,
		OrderStatusShipped, OrderStatusDelivered:
		return false
	}
	return false
}

// PaymentStatus is the payment lifecycle of an order.
type PaymentStatus string

const (
	PaymentStatusPending    PaymentStatus = "pending"
	PaymentStatusAuthorized PaymentStatus = "authorized"
	PaymentStatusPaid       PaymentStatus = "paid"
	PaymentStatusFailed     PaymentStatus = "failed"
	PaymentStatusRefunded   PaymentStatus = "refunded"
)

// Captured reports whether money has been taken or reserved.
func (s PaymentStatus) Captured() bool {
	switch s {
	case PaymentStatusAuthorized, PaymentStatusPaid:
		return true
	case PaymentStatusPending, PaymentStatusFailed, PaymentStatusRefunded:
		return false
	}
	return false
}

// Order is a confirmed purchase. It is created once per successful
// confirmation and afterwards changes only through status updates.
type Order struct {
	ID                     string          `json:"id"`
	OrderNumber            string          `json:"order_number"`
	Identity               Identity        `json:"identity"`
	CheckoutID             string          `json:"checkout_id"`
	Status                 OrderStatus     `json:"status"`
	PaymentStatus          PaymentStatus   `json:"payment_status"`
	PaymentMethod          PaymentMethod   `json:"payment_method"`
	Subtotal               decimal.Decimal `json:"subtotal"`
	TaxAmount              decimal.Decimal `json:"tax_amount"`
	ShippingAmount         decimal.Decimal `json:"shipping_amount"`
	DiscountAmount         decimal.Decimal `json:"discount_amount"`
	TotalAmount            decimal.Decimal `json:"total_amount"`
	Currency               string          `json:"currency"`
	ShippingAddress        Address         `json:"shipping_address"`
	BillingAddress         Address         `json:"billing_address"`
	ShippingMethod         string          `json:"shipping_method,omitempty"`
	CouponCode             string          `json:"coupon_code,omitempty"`
	PaymentTransactionID   string          `json:"payment_transaction_id,omitempty"`
	PaymentGatewayResponse json.RawMessage `json:"payment_gateway_response,omitempty"`
	TrackingNumber         string          `json:"tracking_number,omitempty"`
	Notes                  string          `json:"notes,omitempty"`
	Items                  []OrderItem     `json:"items"`
	History                []StatusHistory `json:"history,omitempty"`
	CreatedAt              time.Time       `json:"created_at"`
	UpdatedAt              time.Time       `json:"updated_at"`
}

// OrderItem is a point-in-time receipt line.
type OrderItem struct {
	ID               string           `json:"id"`
	OrderID          string           `json:"order_id"`
	ProductID        string           `json:"product_id"`
	Name             string           `json:"name"`
	SKU              string           `json:"sku"`
	Quantity         int              `json:"quantity"`
	UnitPrice        decimal.Decimal  `json:"unit_price"`
	TotalPrice       decimal.Decimal  `json:"total_price"`
	SelectedVariants []AttributeValue `json:"selected_variants,omitempty"`
}

// StatusHistory is one append-only audit row of a status transition.
type StatusHistory struct {
	ID             string       `json:"id"`
	OrderID        string       `json:"order_id"`
	PreviousStatus *OrderStatus `json:"previous_status,omitempty"`
	NewStatus      OrderStatus  `json:"new_status"`
	Actor          string       `json:"actor"`
	Notes          string       `json:"notes,omitempty"`
	CreatedAt      time.Time    `json:"created_at"`
}

// OrderConfirmation is returned by a successful order confirmation.
type OrderConfirmation struct {
	Order     *Order         `json:"order"`
	Summary   Summary        `json:"summary"`
	Payment   PaymentReceipt `json:"payment"`
	EmailSent bool           `json:"email_sent"`
}

// PaymentReceipt is the customer-facing view of the payment result.
type PaymentReceipt struct {
	TransactionID string          `json:"transaction_id,omitempty"`
	Status        PaymentStatus   `json:"status"`
	Method        PaymentMethod   `json:"method"`
	Amount        decimal.Decimal `json:"amount"`
}
