package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/utafrali/storefront/internal/domain"
	"github.com/utafrali/storefront/pkg/httpclient"
	"github.com/utafrali/storefront/pkg/tracing"
)

// Payment statuses reported by the gateway. They are compared
// case-insensitively.
const (
	PaymentStatusSucceeded = "SUCCEEDED"
	PaymentStatusPending   = "PENDING"
	PaymentStatusFailed    = "FAILED"
)

// ErrRefundRejected is returned when the gateway answers a refund with
// success=false.
var ErrRefundRejected = errors.New("refund rejected")

// PaymentRequest is a charge for the server-side session total.
type PaymentRequest struct {
	CheckoutID  string               `json:"checkout_id"`
	Customer    domain.Identity      `json:"customer"`
	Amount      decimal.Decimal      `json:"amount"`
	Currency    string               `json:"currency"`
	Method      domain.PaymentMethod `json:"method"`
	PaymentData map[string]string    `json:"payment_data,omitempty"`
}

// PaymentResult is the gateway response. Raw keeps the full body for audit.
type PaymentResult struct {
	Success       bool            `json:"success"`
	TransactionID string          `json:"transactionId,omitempty"`
	PaymentStatus string          `json:"paymentStatus"`
	Error         string          `json:"error,omitempty"`
	Raw           json.RawMessage `json:"-"`
}

// Pending reports whether the charge awaits settlement.
func (r *PaymentResult) Pending() bool {
	return strings.EqualFold(r.PaymentStatus, PaymentStatusPending)
}

// Accepted reports whether an order may be created for the result.
func (r *PaymentResult) Accepted() bool {
	return r.Success || r.Pending()
}

// RefundRequest releases a previous charge.
type RefundRequest struct {
	TransactionID string          `json:"transaction_id"`
	Amount        decimal.Decimal `json:"amount"`
	Reason        string          `json:"reason"`
}

// RefundResult is the gateway response to a refund.
type RefundResult struct {
	Success  bool   `json:"success"`
	RefundID string `json:"refundId,omitempty"`
	Error    string `json:"error,omitempty"`
}

// PaymentService charges and refunds payments.
type PaymentService interface {
	ProcessPayment(ctx context.Context, req PaymentRequest) (*PaymentResult, error)
	RefundPayment(ctx context.Context, req RefundRequest) (*RefundResult, error)
}

// HTTPPaymentService calls a payment provider over HTTP. Charges are never
// retried, so the doer must not retry either.
type HTTPPaymentService struct {
	doer    httpclient.Doer
	baseURL string
}

// NewHTTPPaymentService creates a payment gateway client.
func NewHTTPPaymentService(doer httpclient.Doer, baseURL string) *HTTPPaymentService {
	return &HTTPPaymentService{doer: doer, baseURL: baseURL}
}

// ProcessPayment submits one charge attempt.
func (s *HTTPPaymentService) ProcessPayment(ctx context.Context, req PaymentRequest) (_ *PaymentResult, err error) {
	ctx, span := tracing.Start(ctx, "payment.ProcessPayment")
	defer func() { tracing.End(span, err) }()

	var raw json.RawMessage
	if err := httpclient.DoJSON(ctx, s.doer, http.MethodPost, s.baseURL+"/api/v1/payments", "payment", req, &raw); err != nil {
		return nil, err
	}

	var result PaymentResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("decode payment result: %w", err)
	}
	result.Raw = raw
	return &result, nil
}

// RefundPayment refunds a previous charge.
func (s *HTTPPaymentService) RefundPayment(ctx context.Context, req RefundRequest) (_ *RefundResult, err error) {
	ctx, span := tracing.Start(ctx, "payment.RefundPayment")
	defer func() { tracing.End(span, err) }()

	endpoint := fmt.Sprintf("%s/api/v1/payments/%s/refunds", s.baseURL, url.PathEscape(req.TransactionID))
	var result RefundResult
	if err := httpclient.DoJSON(ctx, s.doer, http.MethodPost, endpoint, "payment", req, &result); err != nil {
		return nil, err
	}
	if !result.Success {
		msg := result.Error
		if msg == "" {
			msg = "no reason given"
		}
		return nil, fmt.Errorf("payment: %w: %s", ErrRefundRejected, msg)
	}
	return &result, nil
}

// DeclineToken makes MockPaymentService decline a charge when passed as the
// "token" payment data field.
const DeclineToken = "tok_decline"

// MockPaymentService approves card and wallet payments and leaves
// cash-on-delivery pending.
type MockPaymentService struct {
	logger *slog.Logger
}

// NewMockPaymentService creates the in-process payment gateway.
func NewMockPaymentService(logger *slog.Logger) *MockPaymentService {
	return &MockPaymentService{logger: logger}
}

func (s *MockPaymentService) ProcessPayment(ctx context.Context, req PaymentRequest) (*PaymentResult, error) {
	result := &PaymentResult{
		Success:       true,
		TransactionID: "mock_txn_" + uuid.NewString(),
		PaymentStatus: PaymentStatusSucceeded,
	}
	switch {
	case req.PaymentData["token"] == DeclineToken:
		result = &PaymentResult{PaymentStatus: PaymentStatusFailed, Error: "card was declined"}
	case req.Method == domain.PaymentMethodCashOnDelivery:
		result = &PaymentResult{Success: true, PaymentStatus: PaymentStatusPending}
	}

	raw, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("encode mock payment result: %w", err)
	}
	result.Raw = raw

	s.logger.InfoContext(ctx, "mock payment processed",
		slog.String("checkout_id", req.CheckoutID),
		slog.String("status", result.PaymentStatus),
		slog.String("amount", req.Amount.StringFixed(2)),
	)
	return result, nil
}

func (s *MockPaymentService) RefundPayment(ctx context.Context, req RefundRequest) (*RefundResult, error) {
	s.logger.InfoContext(ctx, "mock payment refunded",
		slog.String("transaction_id", req.TransactionID),
		slog.String("reason", req.Reason),
	)
	return &RefundResult{Success: true, RefundID: "mock_ref_" + uuid.NewString()}, nil
}
