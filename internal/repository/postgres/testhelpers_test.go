package postgres

import (
	"io"
	"log/slog"
	"testing"
	"time"

	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/utafrali/storefront/internal/domain"
	"github.com/utafrali/storefront/pkg/database"
)

func newMock(t *testing.T) pgxmock.PgxPoolIface {
	t.Helper()
	mock, err := database.NewMockPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return mock
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func ptr[T any](v T) *T { return &v }

func sampleAddress() domain.Address {
	return domain.Address{
		FullName:   "Jane Doe",
		Line1:      "1 Main St",
		City:       "Boise",
		State:      "ID",
		PostalCode: "83702",
		Country:    "US",
	}
}

func sampleOrder() *domain.Order {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	return &domain.Order{
		ID:              "order-1",
		OrderNumber:     "ORD-2026-123456",
		Identity:        domain.Identity{UserID: "user-1"},
		CheckoutID:      "chk-1",
		Status:          domain.OrderStatusPending,
		PaymentStatus:   domain.PaymentStatusPaid,
		PaymentMethod:   domain.PaymentMethodCard,
		Subtotal:        dec("50.00"),
		TaxAmount:       dec("0"),
		ShippingAmount:  dec("9.99"),
		DiscountAmount:  dec("0"),
		TotalAmount:     dec("59.99"),
		Currency:        "USD",
		ShippingAddress: sampleAddress(),
		BillingAddress:  sampleAddress(),
		ShippingMethod:  "standard",
		CreatedAt:       now,
		UpdatedAt:       now,
		Items: []domain.OrderItem{{
			ID:         "item-1",
			OrderID:    "order-1",
			ProductID:  "prod-1",
			Name:       "Mug",
			SKU:        "MUG-1",
			Quantity:   2,
			UnitPrice:  dec("25.00"),
			TotalPrice: dec("50.00"),
		}},
		History: []domain.StatusHistory{{
			ID:        "hist-1",
			OrderID:   "order-1",
			NewStatus: domain.OrderStatusPending,
			Actor:     "system",
			CreatedAt: now,
		}},
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
