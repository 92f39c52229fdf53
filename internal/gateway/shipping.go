package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/utafrali/storefront/internal/domain"
	"github.com/utafrali/storefront/pkg/httpclient"
	"github.com/utafrali/storefront/pkg/tracing"
)

// ShippingItem is the per-line input carriers quote on.
type ShippingItem struct {
	ProductID string `json:"product_id"`
	SKU       string `json:"sku"`
	Quantity  int    `json:"quantity"`
}

// RateRequest asks for the methods available to a destination.
type RateRequest struct {
	Destination domain.Address  `json:"destination"`
	Items       []ShippingItem  `json:"items"`
	Subtotal    decimal.Decimal `json:"subtotal"`
}

// ShipmentRequest books a carrier for a confirmed order.
type ShipmentRequest struct {
	OrderID     string         `json:"order_id"`
	OrderNumber string         `json:"order_number"`
	Method      string         `json:"method"`
	Destination domain.Address `json:"destination"`
	Items       []ShippingItem `json:"items"`
}

// Shipment is a booked carrier shipment.
type Shipment struct {
	TrackingNumber string `json:"tracking_number"`
	Carrier        string `json:"carrier"`
}

// ShippingService quotes rates and books shipments.
type ShippingService interface {
	CalculateOptions(ctx context.Context, req RateRequest) ([]domain.ShippingMethod, error)
	CreateShipment(ctx context.Context, req ShipmentRequest) (*Shipment, error)
}

// HTTPShippingService calls a shipping provider over HTTP. Rate quotes are
// safe to retry; bookings go through their own doer, which must not retry,
// since a repeated POST can book a second shipment.
type HTTPShippingService struct {
	rates    httpclient.Doer
	bookings httpclient.Doer
	baseURL  string
}

// NewHTTPShippingService creates a shipping gateway client.
func NewHTTPShippingService(rates, bookings httpclient.Doer, baseURL string) *HTTPShippingService {
	return &HTTPShippingService{rates: rates, bookings: bookings, baseURL: baseURL}
}

// CalculateOptions fetches the available methods for a destination.
func (s *HTTPShippingService) CalculateOptions(ctx context.Context, req RateRequest) (_ []domain.ShippingMethod, err error) {
	ctx, span := tracing.Start(ctx, "shipping.CalculateOptions")
	defer func() { tracing.End(span, err) }()

	var resp struct {
		Methods []domain.ShippingMethod `json:"methods"`
	}
	if err := httpclient.DoJSON(ctx, s.rates, http.MethodPost, s.baseURL+"/api/v1/shipping/rates", "shipping", req, &resp); err != nil {
		return nil, err
	}
	return resp.Methods, nil
}

// CreateShipment books a shipment and returns its tracking number.
func (s *HTTPShippingService) CreateShipment(ctx context.Context, req ShipmentRequest) (_ *Shipment, err error) {
	ctx, span := tracing.Start(ctx, "shipping.CreateShipment")
	defer func() { tracing.End(span, err) }()

	var shipment Shipment
	if err := httpclient.DoJSON(ctx, s.bookings, http.MethodPost, s.baseURL+"/api/v1/shipments", "shipping", req, &shipment); err != nil {
		return nil, err
	}
	if shipment.TrackingNumber == "" {
		return nil, fmt.Errorf("shipping returned no tracking number for order %s", req.OrderNumber)
	}
	return &shipment, nil
}

// MockShippingService quotes two flat-rate methods to any destination.
type MockShippingService struct {
	logger  *slog.Logger
	methods []domain.ShippingMethod
}

// NewMockShippingService creates the in-process shipping gateway.
func NewMockShippingService(logger *slog.Logger) *MockShippingService {
	return &MockShippingService{
		logger: logger,
		methods: []domain.ShippingMethod{
			{ID: "standard", Name: "Standard Shipping", Cost: decimal.RequireFromString("9.99"), EstimatedDays: 5},
			{ID: "express", Name: "Express Shipping", Cost: decimal.RequireFromString("19.99"), EstimatedDays: 2},
		},
	}
}

func (s *MockShippingService) CalculateOptions(_ context.Context, _ RateRequest) ([]domain.ShippingMethod, error) {
	out := make([]domain.ShippingMethod, len(s.methods))
	copy(out, s.methods)
	return out, nil
}

func (s *MockShippingService) CreateShipment(ctx context.Context, req ShipmentRequest) (*Shipment, error) {
	tracking := "MOCK" + strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:12])
	s.logger.InfoContext(ctx, "mock shipment created",
		slog.String("order_number", req.OrderNumber),
		slog.String("tracking_number", tracking),
	)
	return &Shipment{TrackingNumber: tracking, Carrier: "mock"}, nil
}
