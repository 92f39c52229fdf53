package service

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/utafrali/storefront/internal/domain"
	"github.com/utafrali/storefront/internal/event"
	"github.com/utafrali/storefront/internal/gateway"
	"github.com/utafrali/storefront/internal/repository"
	apperrors "github.com/utafrali/storefront/pkg/errors"
)

// CheckoutRepositories groups the stores the checkout orchestrator reads and
// writes.
type CheckoutRepositories struct {
	Carts      repository.CartRepository
	Products   repository.ProductRepository
	Addresses  repository.AddressRepository
	Orders     repository.OrderRepository
	Sessions   repository.SessionStore
	Transactor repository.Transactor
}

// CheckoutGateways groups the external services the orchestrator calls.
type CheckoutGateways struct {
	Payment  gateway.PaymentService
	Shipping gateway.ShippingService
	Tax      gateway.TaxService
	Email    gateway.EmailService
}

// CheckoutOptions holds store-wide checkout settings.
type CheckoutOptions struct {
	Currency       string
	PaymentMethods []domain.PaymentMethod
}

// CheckoutService drives a checkout from cart snapshot to confirmed order.
type CheckoutService struct {
	repos        CheckoutRepositories
	gateways     CheckoutGateways
	coupons      *CouponService
	restrictions *RestrictionService
	rates        *ShippingRateResolver
	producer     *event.Producer
	logger       *slog.Logger
	opts         CheckoutOptions
	now          func() time.Time
}

// NewCheckoutService creates a new checkout service.
func NewCheckoutService(
	repos CheckoutRepositories,
	gateways CheckoutGateways,
	coupons *CouponService,
	restrictions *RestrictionService,
	rates *ShippingRateResolver,
	producer *event.Producer,
	logger *slog.Logger,
	opts CheckoutOptions,
) *CheckoutService {
	return &CheckoutService{
		repos:        repos,
		gateways:     gateways,
		coupons:      coupons,
		restrictions: restrictions,
		rates:        rates,
		producer:     producer,
		logger:       logger,
		opts:         opts,
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// CheckoutView is a checkout session plus the choices offered to the caller.
type CheckoutView struct {
	*domain.CheckoutSession
	AvailablePaymentMethods []domain.PaymentMethod `json:"available_payment_methods"`
}

// InitiateCheckoutInput holds the parameters for initiating a checkout.
type InitiateCheckoutInput struct {
	Identity         domain.Identity
	ShippingAddress  *domain.AddressInput
	BillingAddress   *domain.AddressInput
	ShippingMethodID string
}

// UpdateAddressInput holds the parameters for changing checkout addresses.
type UpdateAddressInput struct {
	ShippingAddress       domain.AddressInput
	BillingAddress        *domain.AddressInput
	BillingSameAsShipping bool
	ShippingMethodID      string
}

// InitiateCheckout snapshots the identity's cart into a new checkout session.
func (s *CheckoutService) InitiateCheckout(ctx context.Context, input *InitiateCheckoutInput) (*CheckoutView, error) {
	if input == nil {
		return nil, apperrors.InvalidInput("checkout input is required")
	}
	if err := input.Identity.Validate(); err != nil {
		return nil, err
	}

	lines, err := s.repos.Carts.ActiveLines(ctx, input.Identity)
	if err != nil {
		return nil, fmt.Errorf("get active cart lines: %w", err)
	}
	if len(lines) == 0 {
		return nil, domain.CartEmptyError(input.Identity)
	}

	items, err := s.buildItems(ctx, lines)
	if err != nil {
		return nil, err
	}

	shipping, shippingID, err := s.resolveAddress(ctx, input.Identity, input.ShippingAddress)
	if err != nil {
		return nil, fmt.Errorf("resolve shipping address: %w", err)
	}
	billing, billingID, err := s.resolveAddress(ctx, input.Identity, input.BillingAddress)
	if err != nil {
		return nil, fmt.Errorf("resolve billing address: %w", err)
	}
	if billing == nil && shipping != nil {
		billing, billingID = copyAddress(shipping), shippingID
	}

	if err := s.restrictions.EnsureShippable(ctx, items, shipping); err != nil {
		return nil, err
	}

	now := s.now()
	session := &domain.CheckoutSession{
		ID:                uuid.New().String(),
		Identity:          input.Identity,
		Items:             items,
		ShippingAddress:   shipping,
		BillingAddress:    billing,
		ShippingAddressID: shippingID,
		BillingAddressID:  billingID,
		CreatedAt:         now,
		UpdatedAt:         now,
		ExpiresAt:         now.Add(s.repos.Sessions.TTL()),
	}

	quote := s.rates.Resolve(ctx, items, shipping, input.ShippingMethodID)
	session.AvailableShippingMethods = quote.Methods
	session.SelectShipping(quote.Selected)

	if err := s.reprice(ctx, session); err != nil {
		return nil, err
	}

	if err := s.repos.Sessions.Create(ctx, session); err != nil {
		return nil, fmt.Errorf("create checkout session: %w", err)
	}
	checkoutsInitiated.Inc()

	// Publish event; log but do not fail on error.
	if err := s.producer.PublishCheckoutInitiated(ctx, session); err != nil {
		s.logger.ErrorContext(ctx, "failed to publish checkout.initiated event",
			slog.String("checkout_id", session.ID),
			slog.String("error", err.Error()),
		)
	}

	s.logger.InfoContext(ctx, "checkout session initiated",
		slog.String("checkout_id", session.ID),
		slog.String("identity", input.Identity.String()),
		slog.Int("item_count", session.Summary.ItemCount),
		slog.String("total_amount", session.Summary.TotalAmount.StringFixed(2)),
	)

	return s.view(session), nil
}

// GetCheckout returns a live checkout session.
func (s *CheckoutService) GetCheckout(ctx context.Context, checkoutID string) (*CheckoutView, error) {
	session, err := s.repos.Sessions.Get(ctx, checkoutID)
	if err != nil {
		return nil, fmt.Errorf("get checkout session: %w", err)
	}
	return s.view(session), nil
}

// UpdateCheckoutAddress replaces the session's addresses, re-checking
// restrictions and re-quoting shipping and tax for the new destination.
func (s *CheckoutService) UpdateCheckoutAddress(ctx context.Context, checkoutID string, input *UpdateAddressInput) (*CheckoutView, error) {
	if input == nil || input.ShippingAddress.IsZero() {
		return nil, domain.AddressRequiredError("shipping address")
	}

	session, err := s.repos.Sessions.Get(ctx, checkoutID)
	if err != nil {
		return nil, fmt.Errorf("get checkout for address update: %w", err)
	}

	shipping, shippingID, err := s.resolveAddress(ctx, session.Identity, &input.ShippingAddress)
	if err != nil {
		return nil, fmt.Errorf("resolve shipping address: %w", err)
	}

	billing, billingID := copyAddress(shipping), shippingID
	if !input.BillingSameAsShipping && !input.BillingAddress.IsZero() {
		billing, billingID, err = s.resolveAddress(ctx, session.Identity, input.BillingAddress)
		if err != nil {
			return nil, fmt.Errorf("resolve billing address: %w", err)
		}
	}

	if err := s.restrictions.EnsureShippable(ctx, session.Items, shipping); err != nil {
		return nil, err
	}

	session.ShippingAddress, session.ShippingAddressID = shipping, shippingID
	session.BillingAddress, session.BillingAddressID = billing, billingID

	quote := s.rates.Resolve(ctx, session.Items, shipping, input.ShippingMethodID)
	session.AvailableShippingMethods = quote.Methods
	session.SelectShipping(quote.Selected)

	if err := s.reprice(ctx, session); err != nil {
		return nil, err
	}
	s.touch(session)

	if err := s.repos.Sessions.Set(ctx, session); err != nil {
		return nil, fmt.Errorf("update checkout session: %w", err)
	}

	s.logger.InfoContext(ctx, "checkout address updated",
		slog.String("checkout_id", session.ID),
		slog.String("state", shipping.StateCode()),
		slog.Int("shipping_methods", len(quote.Methods)),
	)

	return s.view(session), nil
}

// ApplyCoupon validates code against the session's items and applies its
// discount. Usage is only counted when the order is confirmed.
func (s *CheckoutService) ApplyCoupon(ctx context.Context, checkoutID, code string) (*CheckoutView, error) {
	session, err := s.repos.Sessions.Get(ctx, checkoutID)
	if err != nil {
		return nil, fmt.Errorf("get checkout for coupon: %w", err)
	}

	if err := s.applyCoupon(ctx, session, code); err != nil {
		return nil, err
	}
	s.touch(session)

	if err := s.repos.Sessions.Set(ctx, session); err != nil {
		return nil, fmt.Errorf("update checkout session: %w", err)
	}

	s.logger.InfoContext(ctx, "coupon applied to checkout",
		slog.String("checkout_id", session.ID),
		slog.String("code", session.Coupon.Code),
		slog.String("discount_amount", session.Summary.DiscountAmount.StringFixed(2)),
	)

	return s.view(session), nil
}

// applyCoupon validates code and reprices session with its discount.
func (s *CheckoutService) applyCoupon(ctx context.Context, session *domain.CheckoutSession, code string) error {
	coupon, err := s.coupons.Validate(ctx, code, session.Items)
	if err != nil {
		return err
	}

	session.Coupon = &domain.AppliedCoupon{ID: coupon.ID, Code: coupon.Code, Type: coupon.Type}
	session.DiscountAmount = s.coupons.Discount(coupon, session.Items)
	return s.reprice(ctx, session)
}

// buildItems validates cart lines against live product data and prices them.
func (s *CheckoutService) buildItems(ctx context.Context, lines []domain.CartLine) ([]domain.CheckoutItem, error) {
	ids := make([]string, 0, len(lines))
	demand := make(map[string]int, len(lines))
	for _, l := range lines {
		if _, ok := demand[l.ProductID]; !ok {
			ids = append(ids, l.ProductID)
		}
		demand[l.ProductID] += l.Quantity
	}

	products, err := s.repos.Products.GetByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("get cart products: %w", err)
	}

	items := make([]domain.CheckoutItem, 0, len(lines))
	for _, l := range lines {
		p, ok := products[l.ProductID]
		if !ok {
			return nil, domain.ProductUnavailableError(l.ProductID, "")
		}
		if !p.Purchasable() {
			return nil, domain.ProductUnavailableError(p.ID, p.Name)
		}
		if want := demand[p.ID]; want > p.Stock {
			return nil, domain.InsufficientStockError(p.ID, p.Name, want, p.Stock)
		}

		items = append(items, domain.CheckoutItem{
			ProductID:        p.ID,
			Name:             p.Name,
			SKU:              p.SKU,
			Quantity:         l.Quantity,
			UnitPrice:        p.UnitPrice(l.SelectedVariants),
			CategoryIDs:      slices.Clone(p.CategoryIDs),
			SelectedVariants: p.SelectedAttributes(l.SelectedVariants),
		})
	}
	return items, nil
}

// resolveAddress turns an address input into an address copy. An inline
// address wins over a saved one; saved addresses need a signed-in user.
func (s *CheckoutService) resolveAddress(ctx context.Context, id domain.Identity, in *domain.AddressInput) (*domain.Address, string, error) {
	if in.IsZero() {
		return nil, "", nil
	}
	if in.Address != nil {
		return copyAddress(in.Address), "", nil
	}
	if id.IsGuest() {
		return nil, "", apperrors.InvalidInput("saved addresses are only available to signed-in users")
	}

	saved, err := s.repos.Addresses.GetByID(ctx, id.UserID, in.SavedAddressID)
	if err != nil {
		return nil, "", err
	}
	return copyAddress(&saved.Address), saved.ID, nil
}

// reprice recomputes tax for the current destination and then the summary.
// Tax failures are fatal, unlike shipping rate failures.
func (s *CheckoutService) reprice(ctx context.Context, session *domain.CheckoutSession) error {
	session.TaxAmount = decimal.Zero
	if session.ShippingAddress != nil {
		session.Reprice()
		tax, err := s.gateways.Tax.CalculateTax(ctx, gateway.TaxRequest{
			Destination: *session.ShippingAddress,
			Subtotal:    session.Summary.Subtotal,
			Shipping:    session.Summary.ShippingAmount,
			Discount:    session.Summary.DiscountAmount,
		})
		if err != nil {
			s.logger.ErrorContext(ctx, "tax calculation failed",
				slog.String("checkout_id", session.ID),
				slog.String("state", session.ShippingAddress.StateCode()),
				slog.String("error", err.Error()),
			)
			return apperrors.ServiceUnavailable(
				fmt.Sprintf("tax for %s could not be calculated, please retry", session.ShippingAddress.StateCode()))
		}
		session.TaxAmount = tax
	}
	session.Reprice()
	return nil
}

func (s *CheckoutService) view(session *domain.CheckoutSession) *CheckoutView {
	return &CheckoutView{
		CheckoutSession:         session,
		AvailablePaymentMethods: slices.Clone(s.opts.PaymentMethods),
	}
}

func (s *CheckoutService) paymentMethodAllowed(m domain.PaymentMethod) bool {
	return slices.Contains(s.opts.PaymentMethods, m)
}

// touch marks a session write. Set restarts the store TTL, so the reported
// expiry moves with it.
func (s *CheckoutService) touch(session *domain.CheckoutSession) {
	now := s.now()
	session.UpdatedAt = now
	session.ExpiresAt = now.Add(s.repos.Sessions.TTL())
}

func copyAddress(a *domain.Address) *domain.Address {
	if a == nil {
		return nil
	}
	c := *a
	c.State = strings.TrimSpace(c.State)
	return &c
}
