package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"

	"github.com/utafrali/storefront/internal/domain"
	"github.com/utafrali/storefront/internal/event"
	"github.com/utafrali/storefront/internal/gateway"
	"github.com/utafrali/storefront/internal/repository"
	redisrepo "github.com/utafrali/storefront/internal/repository/redis"
	apperrors "github.com/utafrali/storefront/pkg/errors"
	pkgkafka "github.com/utafrali/storefront/pkg/kafka"
)

// --- Mock Repositories ---

type mockCartRepository struct {
	mock.Mock
}

func (m *mockCartRepository) ActiveLines(ctx context.Context, id domain.Identity) ([]domain.CartLine, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.CartLine), args.Error(1)
}

type mockProductRepository struct {
	mock.Mock
}

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

type mockAddressRepository struct {
	mock.Mock
}

func (m *mockAddressRepository) GetByID(ctx context.Context, userID, id string) (*domain.SavedAddress, error) {
	args := m.Called(ctx, userID, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.SavedAddress), args.Error(1)
}

type mockCouponRepository struct {
	mock.Mock
}

func (m *mockCouponRepository) GetByCode(ctx context.Context, code string) (*domain.Coupon, error) {
	args := m.Called(ctx, code)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Coupon), args.Error(1)
}

type mockRestrictionRepository struct {
	mock.Mock
}

func (m *mockRestrictionRepository) ListForCategories(ctx context.Context, categoryIDs []string, state string) ([]domain.Restriction, error) {
	args := m.Called(ctx, categoryIDs, state)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.Restriction), args.Error(1)
}

// --- In-memory unit of work ---

// memoryStore is a serialized, all-or-nothing stand-in for the Postgres unit
// of work. It also serves the order reads.
type memoryStore struct {
	mu          sync.Mutex
	stock       map[string]int
	orders      map[string]*domain.Order
	couponUsage map[string]int
	couponLimit map[string]int
	clearedFor  []domain.Identity
	commitErr   error
}

var _ repository.Transactor = (*memoryStore)(nil)
var _ repository.OrderRepository = (*memoryStore)(nil)

func newMemoryStore(stock map[string]int) *memoryStore {
	return &memoryStore{
		stock:       stock,
		orders:      make(map[string]*domain.Order),
		couponUsage: make(map[string]int),
		couponLimit: make(map[string]int),
	}
}

func (s *memoryStore) WithTransaction(ctx context.Context, fn func(ctx context.Context, tx repository.Tx) error) error {
	s.mu.Lock()
	tx := &memoryTx{
		stock:       maps.Clone(s.stock),
		orders:      make(map[string]*domain.Order),
		couponUsage: make(map[string]int),
		store:       s,
	}
	if err := fn(ctx, tx); err != nil {
		s.mu.Unlock()
		return err
	}
	if s.commitErr != nil {
		s.mu.Unlock()
		return s.commitErr
	}
	s.stock = tx.stock
	maps.Copy(s.orders, tx.orders)
	for id, n := range tx.couponUsage {
		s.couponUsage[id] += n
	}
	s.clearedFor = append(s.clearedFor, tx.cleared...)
	s.mu.Unlock()

	for _, hook := range tx.hooks {
		hook(context.WithoutCancel(ctx))
	}
	return nil
}

func (s *memoryStore) GetByID(_ context.Context, id string) (*domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return nil, apperrors.NotFound("order", id)
	}
	c := *o
	c.History = slices.Clone(o.History)
	return &c, nil
}

func (s *memoryStore) SetTrackingNumber(_ context.Context, id, trackingNumber string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return apperrors.NotFound("order", id)
	}
	o.TrackingNumber = trackingNumber
	return nil
}

func (s *memoryStore) UpdatePaymentStatus(_ context.Context, id string, status domain.PaymentStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return apperrors.NotFound("order", id)
	}
	o.PaymentStatus = status
	return nil
}

func (s *memoryStore) orderCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.orders)
}

func (s *memoryStore) stockOf(productID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stock[productID]
}

func (s *memoryStore) put(order *domain.Order) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orders[order.ID] = order
}

type memoryTx struct {
	stock       map[string]int
	orders      map[string]*domain.Order
	couponUsage map[string]int
	cleared     []domain.Identity
	hooks       []func(context.Context)
	store       *memoryStore
}

func (t *memoryTx) SaveOrder(_ context.Context, order *domain.Order) error {
	for _, o := range t.store.orders {
		if o.OrderNumber == order.OrderNumber {
			return apperrors.Conflict("order number " + order.OrderNumber + " already exists")
		}
	}
	c := *order
	c.History = slices.Clone(order.History)
	t.orders[order.ID] = &c
	return nil
}

func (t *memoryTx) DecrementStock(_ context.Context, items []domain.OrderItem) error {
	for _, it := range items {
		have, ok := t.stock[it.ProductID]
		if !ok {
			return domain.ProductUnavailableError(it.ProductID, it.Name)
		}
		if have < it.Quantity {
			return domain.InsufficientStockError(it.ProductID, it.Name, it.Quantity, have)
		}
		t.stock[it.ProductID] = have - it.Quantity
	}
	return nil
}

func (t *memoryTx) IncrementCouponUsage(_ context.Context, couponID string) error {
	limit, ok := t.store.couponLimit[couponID]
	if ok && t.store.couponUsage[couponID]+t.couponUsage[couponID] >= limit {
		return domain.CouponUsageExceededError(couponID, limit)
	}
	t.couponUsage[couponID]++
	return nil
}

func (t *memoryTx) ClearCart(_ context.Context, id domain.Identity) error {
	t.cleared = append(t.cleared, id)
	return nil
}

func (t *memoryTx) LockOrder(_ context.Context, id string) (*domain.Order, error) {
	o, ok := t.store.orders[id]
	if !ok {
		return nil, apperrors.NotFound("order", id)
	}
	c := *o
	return &c, nil
}

func (t *memoryTx) UpdateOrderStatus(_ context.Context, orderID string, h *domain.StatusHistory) error {
	o, ok := t.store.orders[orderID]
	if !ok {
		return apperrors.NotFound("order", orderID)
	}
	c := *o
	c.Status = h.NewStatus
	c.History = append(slices.Clone(o.History), *h)
	t.orders[orderID] = &c
	return nil
}

func (t *memoryTx) AfterCommit(fn func(ctx context.Context)) {
	t.hooks = append(t.hooks, fn)
}

// --- Gateway fakes ---

type fakePayment struct {
	mu        sync.Mutex
	status    string // gateway paymentStatus; empty means SUCCEEDED, or PENDING for COD
	message   string
	err       error
	refundErr error
	delegate  gateway.PaymentService
	charges   []gateway.PaymentRequest
	refunds   []gateway.RefundRequest
	seq       int
}

func (p *fakePayment) ProcessPayment(ctx context.Context, req gateway.PaymentRequest) (*gateway.PaymentResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.charges = append(p.charges, req)
	if p.delegate != nil {
		return p.delegate.ProcessPayment(ctx, req)
	}
	if p.err != nil {
		return nil, p.err
	}
	status := p.status
	switch {
	case status != "":
	case req.Method == domain.PaymentMethodCashOnDelivery:
		status = gateway.PaymentStatusPending
	default:
		status = gateway.PaymentStatusSucceeded
	}
	p.seq++
	res := &gateway.PaymentResult{
		Success:       status != gateway.PaymentStatusFailed,
		PaymentStatus: status,
		Error:         p.message,
	}
	if res.Accepted() && req.Method != domain.PaymentMethodCashOnDelivery {
		res.TransactionID = fmt.Sprintf("txn-%d", p.seq)
	}
	return res, nil
}

func (p *fakePayment) RefundPayment(ctx context.Context, req gateway.RefundRequest) (*gateway.RefundResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.refunds = append(p.refunds, req)
	if p.delegate != nil {
		return p.delegate.RefundPayment(ctx, req)
	}
	if p.refundErr != nil {
		return nil, p.refundErr
	}
	return &gateway.RefundResult{Success: true, RefundID: "ref-1"}, nil
}

func (p *fakePayment) chargeCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.charges)
}

func (p *fakePayment) refundCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.refunds)
}

type fakeShipping struct {
	mu          sync.Mutex
	methods     []domain.ShippingMethod
	err         error
	shipmentErr error
	shipments   []gateway.ShipmentRequest
}

func (f *fakeShipping) CalculateOptions(_ context.Context, _ gateway.RateRequest) ([]domain.ShippingMethod, error) {
	if f.err != nil {
		return nil, f.err
	}
	return slices.Clone(f.methods), nil
}

func (f *fakeShipping) CreateShipment(_ context.Context, req gateway.ShipmentRequest) (*gateway.Shipment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.shipments = append(f.shipments, req)
	if f.shipmentErr != nil {
		return nil, f.shipmentErr
	}
	return &gateway.Shipment{TrackingNumber: "TRK-" + req.OrderNumber, Carrier: "fake"}, nil
}

type taxFunc func(ctx context.Context, req gateway.TaxRequest) (decimal.Decimal, error)

func (f taxFunc) CalculateTax(ctx context.Context, req gateway.TaxRequest) (decimal.Decimal, error) {
	return f(ctx, req)
}

type fakeEmail struct {
	mu   sync.Mutex
	err  error
	sent []gateway.OrderEmail
}

func (f *fakeEmail) SendOrderConfirmation(_ context.Context, email gateway.OrderEmail) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, email)
	return nil
}

type fakePublisher struct {
	mu     sync.Mutex
	topics []string
	events []*pkgkafka.Event
}

func (f *fakePublisher) Publish(_ context.Context, topic string, e *pkgkafka.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.topics = append(f.topics, topic)
	f.events = append(f.events, e)
	return nil
}

func (f *fakePublisher) count(topic string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, t := range f.topics {
		if t == topic {
			n++
		}
	}
	return n
}

// --- Fixture ---

const (
	lampID      = "prod-lamp"
	lampCat     = "cat-lighting"
	knifeID     = "prod-knife"
	knifeCat    = "cat-knives"
	testUserID  = "user-1"
	testGuestID = "guest-1"
)

var errBoom = errors.New("boom")

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func lampProduct(stock int) *domain.Product {
	return &domain.Product{
		ID:           lampID,
		Name:         "Desk Lamp",
		SKU:          "LAMP-1",
		Published:    true,
		Approved:     true,
		Stock:        stock,
		RegularPrice: dec("25.00"),
		CategoryIDs:  []string{lampCat},
	}
}

func knifeProduct(stock int) *domain.Product {
	return &domain.Product{
		ID:           knifeID,
		Name:         "Hunting Knife",
		SKU:          "KNIFE-1",
		Published:    true,
		Approved:     true,
		Stock:        stock,
		RegularPrice: dec("40.00"),
		CategoryIDs:  []string{knifeCat},
	}
}

func testAddress(state string) *domain.Address {
	return &domain.Address{
		FullName:   "Ada Lovelace",
		Line1:      "1 Main St",
		City:       "Springfield",
		State:      state,
		PostalCode: "12345",
		Country:    "US",
	}
}

func defaultMethods() []domain.ShippingMethod {
	return []domain.ShippingMethod{
		{ID: "express", Name: "Express", Cost: dec("19.99"), EstimatedDays: 2},
		{ID: "standard", Name: "Standard", Cost: dec("9.99"), EstimatedDays: 5},
	}
}

type fixture struct {
	svc          *CheckoutService
	orders       *OrderService
	carts        *mockCartRepository
	products     *mockProductRepository
	addresses    *mockAddressRepository
	coupons      *mockCouponRepository
	restrictions *mockRestrictionRepository
	store        *memoryStore
	sessions     *redisrepo.SessionStore
	redis        *miniredis.Miniredis
	payment      *fakePayment
	shipping     *fakeShipping
	email        *fakeEmail
	publisher    *fakePublisher
	taxRates     map[string]decimal.Decimal
	taxErr       error
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	f := &fixture{
		carts:        new(mockCartRepository),
		products:     new(mockProductRepository),
		addresses:    new(mockAddressRepository),
		coupons:      new(mockCouponRepository),
		restrictions: new(mockRestrictionRepository),
		store:        newMemoryStore(map[string]int{lampID: 10, knifeID: 10}),
		sessions:     redisrepo.NewSessionStore(client, 30*time.Minute),
		redis:        mr,
		payment:      &fakePayment{},
		shipping:     &fakeShipping{methods: defaultMethods()},
		email:        &fakeEmail{},
		publisher:    &fakePublisher{},
		taxRates:     map[string]decimal.Decimal{"NY": dec("0.10")},
	}

	logger := newTestLogger()
	producer := event.NewProducer(f.publisher, logger)
	mockTax := gateway.NewMockTaxService(f.taxRates)
	tax := taxFunc(func(ctx context.Context, req gateway.TaxRequest) (decimal.Decimal, error) {
		if f.taxErr != nil {
			return decimal.Zero, f.taxErr
		}
		return mockTax.CalculateTax(ctx, req)
	})

	f.svc = NewCheckoutService(
		CheckoutRepositories{
			Carts:      f.carts,
			Products:   f.products,
			Addresses:  f.addresses,
			Orders:     f.store,
			Sessions:   f.sessions,
			Transactor: f.store,
		},
		CheckoutGateways{
			Payment:  f.payment,
			Shipping: f.shipping,
			Tax:      tax,
			Email:    f.email,
		},
		NewCouponService(f.coupons, logger),
		NewRestrictionService(f.restrictions, logger),
		NewShippingRateResolver(f.shipping, logger),
		producer,
		logger,
		CheckoutOptions{
			Currency: "USD",
			PaymentMethods: []domain.PaymentMethod{
				domain.PaymentMethodCard, domain.PaymentMethodWallet, domain.PaymentMethodCashOnDelivery,
			},
		},
	)
	f.orders = NewOrderService(f.store, f.store, f.payment, producer, logger)
	return f
}

// restrict makes category restricted in state. Call it before withCart so it
// takes precedence over the catch-all expectation.
func (f *fixture) restrict(categoryIDs []string, state string, rs ...domain.Restriction) {
	f.restrictions.On("ListForCategories", mock.Anything, categoryIDs, state).Return(rs, nil)
}

// withCart stubs the cart and catalog for every identity and allows shipping
// everywhere not restricted earlier.
func (f *fixture) withCart(lines []domain.CartLine, products ...*domain.Product) {
	byID := make(map[string]*domain.Product, len(products))
	for _, p := range products {
		byID[p.ID] = p
	}
	f.carts.On("ActiveLines", mock.Anything, mock.Anything).Return(lines, nil)
	f.products.On("GetByIDs", mock.Anything, mock.Anything).Return(byID, nil)
	f.restrictions.On("ListForCategories", mock.Anything, mock.Anything, mock.Anything).
		Return([]domain.Restriction{}, nil).Maybe()
}

// initiate starts a checkout for identity shipping to state.
func (f *fixture) initiate(t *testing.T, id domain.Identity, state string) *CheckoutView {
	t.Helper()
	view, err := f.svc.InitiateCheckout(context.Background(), &InitiateCheckoutInput{
		Identity:        id,
		ShippingAddress: &domain.AddressInput{Address: testAddress(state)},
	})
	if err != nil {
		t.Fatalf("initiate checkout: %v", err)
	}
	return view
}
