package service

import (
	"context"
	"log/slog"
	"slices"

	"github.com/shopspring/decimal"

	"github.com/utafrali/storefront/internal/domain"
	"github.com/utafrali/storefront/internal/gateway"
)

// ShippingQuote is the outcome of resolving shipping for a destination.
type ShippingQuote struct {
	Methods  []domain.ShippingMethod
	Selected *domain.ShippingMethod
	Degraded bool
}

// ShippingRateResolver asks the shipping service for rates and picks a method.
// Failures degrade to an empty quote so a checkout can proceed and resolve
// shipping later.
type ShippingRateResolver struct {
	shipping gateway.ShippingService
	logger   *slog.Logger
}

// NewShippingRateResolver creates a new shipping rate resolver.
func NewShippingRateResolver(shipping gateway.ShippingService, logger *slog.Logger) *ShippingRateResolver {
	return &ShippingRateResolver{
		shipping: shipping,
		logger:   logger,
	}
}

// Resolve quotes items to destination. With selectedID set, that method is
// chosen and an unknown ID yields an empty quote; otherwise the cheapest
// method is chosen.
func (r *ShippingRateResolver) Resolve(ctx context.Context, items []domain.CheckoutItem, destination *domain.Address, selectedID string) ShippingQuote {
	if destination == nil {
		return ShippingQuote{Methods: []domain.ShippingMethod{}}
	}

	req := gateway.RateRequest{
		Destination: *destination,
		Items:       shippingItems(items),
		Subtotal:    domain.CalculateSummary(items, decimal.Zero, decimal.Zero, decimal.Zero).Subtotal,
	}

	methods, err := r.shipping.CalculateOptions(ctx, req)
	if err != nil {
		r.logger.WarnContext(ctx, "shipping rates unavailable, continuing without shipping methods",
			slog.String("state", destination.StateCode()),
			slog.String("error", err.Error()),
		)
		shippingDegraded.Inc()
		return ShippingQuote{Methods: []domain.ShippingMethod{}, Degraded: true}
	}
	if len(methods) == 0 {
		return ShippingQuote{Methods: []domain.ShippingMethod{}}
	}

	if selectedID != "" {
		i := slices.IndexFunc(methods, func(m domain.ShippingMethod) bool { return m.ID == selectedID })
		if i < 0 {
			r.logger.WarnContext(ctx, "selected shipping method not offered for destination",
				slog.String("shipping_method", selectedID),
				slog.String("state", destination.StateCode()),
			)
			shippingDegraded.Inc()
			return ShippingQuote{Methods: []domain.ShippingMethod{}, Degraded: true}
		}
		selected := methods[i]
		return ShippingQuote{Methods: methods, Selected: &selected}
	}

	cheapest := slices.MinFunc(methods, func(a, b domain.ShippingMethod) int {
		return a.Cost.Cmp(b.Cost)
	})
	return ShippingQuote{Methods: methods, Selected: &cheapest}
}

func shippingItems(items []domain.CheckoutItem) []gateway.ShippingItem {
	out := make([]gateway.ShippingItem, 0, len(items))
	for _, it := range items {
		out = append(out, gateway.ShippingItem{
			ProductID: it.ProductID,
			SKU:       it.SKU,
			Quantity:  it.Quantity,
		})
	}
	return out
}
