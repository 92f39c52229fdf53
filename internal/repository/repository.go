package repository

import (
	"context"
	"time"

	"github.com/utafrali/storefront/internal/domain"
)

// ProductRepository reads the catalog data checkout prices against.
type ProductRepository interface {
	// GetByID retrieves a product with its category IDs and attribute values.
	GetByID(ctx context.Context, id string) (*domain.Product, error)

	// GetByIDs retrieves several products keyed by ID. Unknown IDs are absent
	// from the result rather than an error.
	GetByIDs(ctx context.Context, ids []string) (map[string]*domain.Product, error)
}

// CartRepository reads the active cart of an identity.
type CartRepository interface {
	// ActiveLines returns the identity's cart lines in insertion order.
	ActiveLines(ctx context.Context, id domain.Identity) ([]domain.CartLine, error)
}

// AddressRepository reads a user's saved addresses.
type AddressRepository interface {
	// GetByID retrieves a saved address owned by userID.
	GetByID(ctx context.Context, userID, id string) (*domain.SavedAddress, error)
}

// CouponRepository reads coupons.
type CouponRepository interface {
	// GetByCode retrieves a coupon by its case-insensitive code.
	GetByCode(ctx context.Context, code string) (*domain.Coupon, error)
}

// RestrictionRepository reads category/state shipping restrictions.
type RestrictionRepository interface {
	// ListForCategories returns every restriction of the given categories in
	// state. State comparison is case-insensitive.
	ListForCategories(ctx context.Context, categoryIDs []string, state string) ([]domain.Restriction, error)
}

// OrderRepository reads orders and applies the updates made outside a
// confirmation transaction.
type OrderRepository interface {
	// GetByID retrieves an order with its items and status history.
	GetByID(ctx context.Context, id string) (*domain.Order, error)

	// SetTrackingNumber records the carrier tracking number of an order.
	SetTrackingNumber(ctx context.Context, id, trackingNumber string) error

	// UpdatePaymentStatus changes the payment status of an order.
	UpdatePaymentStatus(ctx context.Context, id string, status domain.PaymentStatus) error
}

// Tx is the set of writes that must commit atomically. It is only valid
// inside the function passed to Transactor.WithTransaction.
type Tx interface {
	// SaveOrder inserts the order, its items and the initial history row.
	SaveOrder(ctx context.Context, order *domain.Order) error

	// DecrementStock row-locks each product, fails with InsufficientStock
	// when a quantity exceeds the remaining stock, and otherwise decrements
	// stock and increments the sales counter.
	DecrementStock(ctx context.Context, items []domain.OrderItem) error

	// IncrementCouponUsage bumps the usage counter of a coupon.
	IncrementCouponUsage(ctx context.Context, couponID string) error

	// ClearCart removes every cart row of the identity.
	ClearCart(ctx context.Context, id domain.Identity) error

	// LockOrder reads an order row under FOR UPDATE.
	LockOrder(ctx context.Context, id string) (*domain.Order, error)

	// UpdateOrderStatus writes a new status and appends its history row.
	UpdateOrderStatus(ctx context.Context, orderID string, history *domain.StatusHistory) error

	// AfterCommit registers fn to run once the transaction has committed.
	// Hooks never run when the transaction rolls back.
	AfterCommit(fn func(ctx context.Context))
}

// Transactor runs units of work.
type Transactor interface {
	// WithTransaction runs fn inside a database transaction. The transaction
	// commits when fn returns nil and rolls back otherwise; AfterCommit hooks
	// run in registration order after a successful commit.
	WithTransaction(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

// SessionStore holds checkout sessions for a fixed time to live. Reads never
// extend the lifetime; only Set does.
type SessionStore interface {
	// Create stores a new session. It never overwrites an existing key.
	Create(ctx context.Context, session *domain.CheckoutSession) error

	// Get returns the live session or an ErrSessionExpired error.
	Get(ctx context.Context, id string) (*domain.CheckoutSession, error)

	// Set replaces a live session and refreshes its lifetime. It fails with
	// ErrSessionExpired when the session is gone.
	Set(ctx context.Context, session *domain.CheckoutSession) error

	// Delete removes the session and reports whether this call removed it.
	Delete(ctx context.Context, id string) (bool, error)

	// TTL is the lifetime granted by Create and Set.
	TTL() time.Duration
}
