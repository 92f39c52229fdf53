package http

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/utafrali/storefront/internal/domain"
	"github.com/utafrali/storefront/internal/event"
	"github.com/utafrali/storefront/internal/gateway"
	"github.com/utafrali/storefront/internal/repository"
	redisrepo "github.com/utafrali/storefront/internal/repository/redis"
	"github.com/utafrali/storefront/internal/service"
	apperrors "github.com/utafrali/storefront/pkg/errors"
	"github.com/utafrali/storefront/pkg/health"
	pkgkafka "github.com/utafrali/storefront/pkg/kafka"
)

// --- Mocks ---

type mockCartRepository struct{ mock.Mock }

func (m *mockCartRepository) ActiveLines(ctx context.Context, id domain.Identity) ([]domain.CartLine, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.CartLine), args.Error(1)
}

type mockProductRepository struct{ mock.Mock }

func (m *mockProductRepository) GetByID(ctx context.Context, id string) (*domain.Product, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Product), args.Error(1)
}

func (m *mockProductRepository) GetByIDs(ctx context.Context, ids []string) (map[string]*domain.Product, error) {
	args := m.Called(ctx, ids)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(map[string]*domain.Product), args.Error(1)
}

type mockAddressRepository struct{ mock.Mock }

func (m *mockAddressRepository) GetByID(ctx context.Context, userID, id string) (*domain.SavedAddress, error) {
	args := m.Called(ctx, userID, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.SavedAddress), args.Error(1)
}

type mockCouponRepository struct{ mock.Mock }

func (m *mockCouponRepository) GetByCode(ctx context.Context, code string) (*domain.Coupon, error) {
	args := m.Called(ctx, code)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Coupon), args.Error(1)
}

type mockRestrictionRepository struct{ mock.Mock }

func (m *mockRestrictionRepository) ListForCategories(ctx context.Context, categoryIDs []string, state string) ([]domain.Restriction, error) {
	args := m.Called(ctx, categoryIDs, state)
	return args.Get(0).([]domain.Restriction), args.Error(1)
}

type mockOrderRepository struct{ mock.Mock }

func (m *mockOrderRepository) GetByID(ctx context.Context, id string) (*domain.Order, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Order), args.Error(1)
}

func (m *mockOrderRepository) SetTrackingNumber(ctx context.Context, id, trackingNumber string) error {
	return m.Called(ctx, id, trackingNumber).Error(0)
}

func (m *mockOrderRepository) UpdatePaymentStatus(ctx context.Context, id string, status domain.PaymentStatus) error {
	return m.Called(ctx, id, status).Error(0)
}

type mockTransactor struct{ mock.Mock }

func (m *mockTransactor) WithTransaction(ctx context.Context, fn func(ctx context.Context, tx repository.Tx) error) error {
	return m.Called(ctx, fn).Error(0)
}

type discardPublisher struct{}

func (discardPublisher) Publish(context.Context, string, *pkgkafka.Event) error { return nil }

// --- Test Helpers ---

const lampID = "prod-lamp"

type testEnv struct {
	router       http.Handler
	carts        *mockCartRepository
	products     *mockProductRepository
	coupons      *mockCouponRepository
	restrictions *mockRestrictionRepository
	orders       *mockOrderRepository
	transactor   *mockTransactor
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	env := &testEnv{
		carts:        new(mockCartRepository),
		products:     new(mockProductRepository),
		coupons:      new(mockCouponRepository),
		restrictions: new(mockRestrictionRepository),
		orders:       new(mockOrderRepository),
		transactor:   new(mockTransactor),
	}
	env.restrictions.On("ListForCategories", mock.Anything, mock.Anything, mock.Anything).
		Return([]domain.Restriction{}, nil).Maybe()

	logger := testLogger()
	producer := event.NewProducer(discardPublisher{}, logger)
	payments := gateway.NewMockPaymentService(logger)

	checkout := service.NewCheckoutService(
		service.CheckoutRepositories{
			Carts:      env.carts,
			Products:   env.products,
			Addresses:  new(mockAddressRepository),
			Orders:     env.orders,
			Sessions:   redisrepo.NewSessionStore(client, 30*time.Minute),
			Transactor: env.transactor,
		},
		service.CheckoutGateways{
			Payment:  payments,
			Shipping: gateway.NewMockShippingService(logger),
			Tax:      gateway.NewMockTaxService(map[string]decimal.Decimal{}),
			Email:    gateway.NewLogEmailService(logger),
		},
		service.NewCouponService(env.coupons, logger),
		service.NewRestrictionService(env.restrictions, logger),
		service.NewShippingRateResolver(gateway.NewMockShippingService(logger), logger),
		producer,
		logger,
		service.CheckoutOptions{
			Currency:       "USD",
			PaymentMethods: []domain.PaymentMethod{domain.PaymentMethodCard, domain.PaymentMethodCashOnDelivery},
		},
	)
	orders := service.NewOrderService(env.orders, env.transactor, payments, producer, logger)

	env.router = NewRouter(RouterConfig{ServiceName: "storefront-test", ConfirmRPS: 0.001, ConfirmBurst: 3}, checkout, orders, health.NewHandler(), logger)
	return env
}

func (e *testEnv) withLampCart(quantity int) {
	e.carts.On("ActiveLines", mock.Anything, mock.Anything).
		Return([]domain.CartLine{{ProductID: lampID, Quantity: quantity}}, nil)
	e.products.On("GetByIDs", mock.Anything, mock.Anything).Return(map[string]*domain.Product{
		lampID: {
			ID:           lampID,
			Name:         "Desk Lamp",
			SKU:          "LAMP-1",
			Published:    true,
			Approved:     true,
			Stock:        10,
			RegularPrice: decimal.RequireFromString("25.00"),
			CategoryIDs:  []string{"cat-lighting"},
		},
	}, nil)
}

type envelope struct {
	Data  map[string]any `json:"data"`
	Error *struct {
		Code    string            `json:"code"`
		Message string            `json:"message"`
		Fields  map[string]string `json:"fields"`
	} `json:"error"`
}

func (e *testEnv) do(t *testing.T, method, path string, body any, headers map[string]string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)

	var env envelope
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	}
	return rec, env
}

var asUser = map[string]string{"X-User-ID": "user-1"}

func shippingTo(state string) map[string]any {
	return map[string]any{
		"shipping_address": map[string]any{
			"address": map[string]any{
				"full_name":   "Ada Lovelace",
				"line1":       "1 Main St",
				"city":        "Springfield",
				"state":       state,
				"postal_code": "12345",
				"country":     "US",
			},
		},
	}
}

func (e *testEnv) initiate(t *testing.T) string {
	t.Helper()
	rec, body := e.do(t, http.MethodPost, "/api/v1/checkout", shippingTo("CA"), asUser)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return body.Data["id"].(string)
}

// --- Tests ---

func TestInitiateCheckout(t *testing.T) {
	env := newTestEnv(t)
	env.withLampCart(2)

	rec, body := env.do(t, http.MethodPost, "/api/v1/checkout", shippingTo("CA"), asUser)

	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.NotEmpty(t, body.Data["id"])
	summary := body.Data["summary"].(map[string]any)
	assert.Equal(t, "50", summary["subtotal"])
	assert.Equal(t, "59.99", summary["total_amount"])
	assert.Len(t, body.Data["available_shipping_methods"], 2)
	assert.ElementsMatch(t, []any{"card", "cash_on_delivery"}, body.Data["available_payment_methods"])
	env.carts.AssertCalled(t, "ActiveLines", mock.Anything, domain.Identity{UserID: "user-1"})
}

func TestInitiateCheckout_EmptyBodyAndGuest(t *testing.T) {
	env := newTestEnv(t)
	env.withLampCart(1)

	rec, body := env.do(t, http.MethodPost, "/api/v1/checkout", nil, map[string]string{"X-Guest-ID": "guest-9"})

	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Nil(t, body.Data["shipping_address"])
	env.carts.AssertCalled(t, "ActiveLines", mock.Anything, domain.Identity{GuestID: "guest-9"})
}

func TestInitiateCheckout_Errors(t *testing.T) {
	t.Run("missing identity", func(t *testing.T) {
		env := newTestEnv(t)
		rec, body := env.do(t, http.MethodPost, "/api/v1/checkout", nil, nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Equal(t, "UNAUTHORIZED", body.Error.Code)
	})

	t.Run("empty cart", func(t *testing.T) {
		env := newTestEnv(t)
		env.carts.On("ActiveLines", mock.Anything, mock.Anything).Return([]domain.CartLine{}, nil)
		rec, body := env.do(t, http.MethodPost, "/api/v1/checkout", nil, asUser)
		assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
		assert.Equal(t, "CART_EMPTY", body.Error.Code)
	})

	t.Run("invalid address", func(t *testing.T) {
		env := newTestEnv(t)
		req := shippingTo("CA")
		req["shipping_address"].(map[string]any)["address"].(map[string]any)["country"] = "USA"
		rec, body := env.do(t, http.MethodPost, "/api/v1/checkout", req, asUser)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "VALIDATION_ERROR", body.Error.Code)
		assert.Contains(t, body.Error.Fields, "shipping_address.address.country")
	})

	t.Run("unknown field", func(t *testing.T) {
		env := newTestEnv(t)
		rec, body := env.do(t, http.MethodPost, "/api/v1/checkout", map[string]any{"items": []string{"x"}}, asUser)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "INVALID_INPUT", body.Error.Code)
	})

	t.Run("wrong content type", func(t *testing.T) {
		env := newTestEnv(t)
		req := httptest.NewRequest(http.MethodPost, "/api/v1/checkout", bytes.NewReader([]byte("a=b")))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		req.Header.Set("X-User-ID", "user-1")
		rec := httptest.NewRecorder()
		env.router.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnsupportedMediaType, rec.Code)
	})
}

func TestGetCheckout(t *testing.T) {
	env := newTestEnv(t)
	env.withLampCart(1)
	id := env.initiate(t)

	rec, body := env.do(t, http.MethodGet, "/api/v1/checkout/"+id, nil, asUser)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, id, body.Data["id"])

	rec, body = env.do(t, http.MethodGet, "/api/v1/checkout/"+uuid.NewString(), nil, asUser)
	assert.Equal(t, http.StatusGone, rec.Code)
	assert.Equal(t, "SESSION_EXPIRED", body.Error.Code)

	rec, body = env.do(t, http.MethodGet, "/api/v1/checkout/not-a-uuid", nil, asUser)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "INVALID_PARAMETER", body.Error.Code)
}

func TestUpdateCheckoutAddress(t *testing.T) {
	env := newTestEnv(t)
	env.withLampCart(1)
	id := env.initiate(t)

	req := shippingTo("OR")
	req["billing_same_as_shipping"] = true
	req["shipping_method_id"] = "express"
	rec, body := env.do(t, http.MethodPut, "/api/v1/checkout/"+id+"/address", req, asUser)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "OR", body.Data["shipping_address"].(map[string]any)["state"])
	assert.Equal(t, "express", body.Data["shipping_method"].(map[string]any)["id"])
	assert.Equal(t, "44.99", body.Data["summary"].(map[string]any)["total_amount"])

	rec, body = env.do(t, http.MethodPut, "/api/v1/checkout/"+id+"/address", map[string]any{}, asUser)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "ADDRESS_REQUIRED", body.Error.Code)
}

func TestApplyCoupon(t *testing.T) {
	env := newTestEnv(t)
	env.withLampCart(2)
	env.coupons.On("GetByCode", mock.Anything, "NOPE").Return(nil, apperrors.NotFound("coupon", "NOPE"))
	id := env.initiate(t)

	rec, body := env.do(t, http.MethodPost, "/api/v1/checkout/"+id+"/coupon", map[string]any{"code": "nope"}, asUser)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "INVALID_COUPON", body.Error.Code)
	assert.Contains(t, body.Error.Message, "NOPE")

	rec, body = env.do(t, http.MethodPost, "/api/v1/checkout/"+id+"/coupon", map[string]any{}, asUser)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "is required", body.Error.Fields["code"])
}

func TestConfirmOrder_Errors(t *testing.T) {
	env := newTestEnv(t)
	env.withLampCart(1)
	id := env.initiate(t)
	path := "/api/v1/checkout/" + id + "/confirm"

	rec, body := env.do(t, http.MethodPost, path, map[string]any{}, asUser)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "is required", body.Error.Fields["payment_method"])

	rec, body = env.do(t, http.MethodPost, path, map[string]any{"payment_method": "wallet"}, asUser)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, body.Error.Message, "wallet")

	rec, body = env.do(t, http.MethodPost, path, map[string]any{
		"payment_method": "card",
		"payment_data":   map[string]string{"token": gateway.DeclineToken},
	}, asUser)
	assert.Equal(t, http.StatusPaymentRequired, rec.Code)
	assert.Equal(t, "PAYMENT_FAILED", body.Error.Code)
	assert.Contains(t, body.Error.Message, "card was declined")

	// A declined payment leaves the session usable.
	rec, _ = env.do(t, http.MethodGet, "/api/v1/checkout/"+id, nil, asUser)
	assert.Equal(t, http.StatusOK, rec.Code)
	env.transactor.AssertNotCalled(t, "WithTransaction", mock.Anything, mock.Anything)

	// The burst for this caller is spent.
	rec, body = env.do(t, http.MethodPost, path, map[string]any{"payment_method": "card"}, asUser)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "RATE_LIMITED", body.Error.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
}

func TestGetOrder(t *testing.T) {
	env := newTestEnv(t)
	orderID := uuid.NewString()
	env.orders.On("GetByID", mock.Anything, orderID).Return(&domain.Order{
		ID:          orderID,
		OrderNumber: "ORD-2026-000042",
		Status:      domain.OrderStatusPending,
		TotalAmount: decimal.RequireFromString("59.99"),
	}, nil)
	missing := uuid.NewString()
	env.orders.On("GetByID", mock.Anything, missing).Return(nil, apperrors.NotFound("order", missing))

	rec, body := env.do(t, http.MethodGet, "/api/v1/orders/"+orderID, nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ORD-2026-000042", body.Data["order_number"])

	rec, body = env.do(t, http.MethodGet, "/api/v1/orders/"+missing, nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "NOT_FOUND", body.Error.Code)
}

func TestUpdateOrderStatus(t *testing.T) {
	t.Run("invalid status", func(t *testing.T) {
		env := newTestEnv(t)
		rec, body := env.do(t, http.MethodPatch, "/api/v1/orders/"+uuid.NewString()+"/status",
			map[string]any{"status": "lost"}, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, body.Error.Fields["status"], "must be one of")
	})

	t.Run("illegal transition", func(t *testing.T) {
		env := newTestEnv(t)
		env.transactor.On("WithTransaction", mock.Anything, mock.Anything).
			Return(apperrors.InvalidInput(`cannot transition order ORD-1 from "pending" to "shipped"`))
		rec, body := env.do(t, http.MethodPatch, "/api/v1/orders/"+uuid.NewString()+"/status",
			map[string]any{"status": "shipped"}, asUser)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "INVALID_INPUT", body.Error.Code)
		assert.Contains(t, body.Error.Message, "shipped")
	})
}

func TestHealthAndCORS(t *testing.T) {
	env := newTestEnv(t)

	rec, _ := env.do(t, http.MethodGet, "/health/live", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/checkout", nil)
	rec = httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Headers"), "X-Guest-ID")
}
