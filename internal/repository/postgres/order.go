package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/utafrali/storefront/internal/domain"
	"github.com/utafrali/storefront/pkg/database"
	apperrors "github.com/utafrali/storefront/pkg/errors"
)

const pgUniqueViolation = "23505"

// OrderRepository implements repository.OrderRepository using PostgreSQL.
type OrderRepository struct {
	pool database.DBTX
}

// NewOrderRepository creates a new PostgreSQL-backed order repository.
func NewOrderRepository(pool database.DBTX) *OrderRepository {
	return &OrderRepository{pool: pool}
}

// nullableText maps an empty string to SQL NULL.
func nullableText(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// insertOrder writes the order, its items and its history rows.
func insertOrder(ctx context.Context, db database.DBTX, o *domain.Order) (err error) {
	ctx, end := database.TraceQuery(ctx, "SaveOrder", "INSERT INTO orders")
	defer func() { end(err) }()

	shippingJSON, err := json.Marshal(o.ShippingAddress)
	if err != nil {
		return fmt.Errorf("marshal shipping address: %w", err)
	}
	billingJSON, err := json.Marshal(o.BillingAddress)
	if err != nil {
		return fmt.Errorf("marshal billing address: %w", err)
	}
	var gatewayJSON []byte
	if len(o.PaymentGatewayResponse) > 0 {
		gatewayJSON = o.PaymentGatewayResponse
	}

	orderQuery := `
		INSERT INTO orders (id, order_number, user_id, guest_id, checkout_id, status, payment_status, payment_method,
			subtotal, tax_amount, shipping_amount, discount_amount, total_amount, currency,
			shipping_address, billing_address, shipping_method, coupon_code,
			payment_transaction_id, payment_gateway_response, tracking_number, notes, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22, $23, $24)`

	_, err = db.Exec(ctx, orderQuery,
		o.ID,
		o.OrderNumber,
		nullableText(o.Identity.UserID),
		nullableText(o.Identity.GuestID),
		o.CheckoutID,
		o.Status,
		o.PaymentStatus,
		o.PaymentMethod,
		o.Subtotal,
		o.TaxAmount,
		o.ShippingAmount,
		o.DiscountAmount,
		o.TotalAmount,
		o.Currency,
		shippingJSON,
		billingJSON,
		o.ShippingMethod,
		o.CouponCode,
		o.PaymentTransactionID,
		gatewayJSON,
		o.TrackingNumber,
		o.Notes,
		o.CreatedAt,
		o.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return apperrors.Conflict(fmt.Sprintf("order number %s is already taken", o.OrderNumber))
		}
		return fmt.Errorf("insert order: %w", err)
	}

	itemQuery := `
		INSERT INTO order_items (id, order_id, product_id, name, sku, quantity, unit_price, total_price, selected_variants)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	for _, item := range o.Items {
		variants := item.SelectedVariants
		if variants == nil {
			variants = []domain.AttributeValue{}
		}
		variantsJSON, err := json.Marshal(variants)
		if err != nil {
			return fmt.Errorf("marshal selected variants: %w", err)
		}
		if _, err := db.Exec(ctx, itemQuery,
			item.ID,
			item.OrderID,
			item.ProductID,
			item.Name,
			item.SKU,
			item.Quantity,
			item.UnitPrice,
			item.TotalPrice,
			variantsJSON,
		); err != nil {
			return fmt.Errorf("insert order item: %w", err)
		}
	}

	for i := range o.History {
		if err := insertHistory(ctx, db, &o.History[i]); err != nil {
			return err
		}
	}
	return nil
}

func insertHistory(ctx context.Context, db database.DBTX, h *domain.StatusHistory) error {
	var previous *string
	if h.PreviousStatus != nil {
		s := string(*h.PreviousStatus)
		previous = &s
	}

	query := `
		INSERT INTO order_status_history (id, order_id, previous_status, new_status, actor, notes, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	if _, err := db.Exec(ctx, query, h.ID, h.OrderID, previous, h.NewStatus, h.Actor, h.Notes, h.CreatedAt); err != nil {
		return fmt.Errorf("insert order status history: %w", err)
	}
	return nil
}

// GetByID retrieves an order with its items and status history.
func (r *OrderRepository) GetByID(ctx context.Context, id string) (*domain.Order, error) {
	query := `
		SELECT id, order_number, user_id, guest_id, checkout_id, status, payment_status, payment_method,
			subtotal, tax_amount, shipping_amount, discount_amount, total_amount, currency,
			shipping_address, billing_address, shipping_method, coupon_code,
			payment_transaction_id, payment_gateway_response, tracking_number, notes, created_at, updated_at
		FROM orders
		WHERE id = $1`

	var (
		o            domain.Order
		userID       *string
		guestID      *string
		shippingJSON []byte
		billingJSON  []byte
		gatewayJSON  []byte
	)

	err := r.pool.QueryRow(ctx, query, id).Scan(
		&o.ID,
		&o.OrderNumber,
		&userID,
		&guestID,
		&o.CheckoutID,
		&o.Status,
		&o.PaymentStatus,
		&o.PaymentMethod,
		&o.Subtotal,
		&o.TaxAmount,
		&o.ShippingAmount,
		&o.DiscountAmount,
		&o.TotalAmount,
		&o.Currency,
		&shippingJSON,
		&billingJSON,
		&o.ShippingMethod,
		&o.CouponCode,
		&o.PaymentTransactionID,
		&gatewayJSON,
		&o.TrackingNumber,
		&o.Notes,
		&o.CreatedAt,
		&o.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NotFound("order", id)
		}
		return nil, fmt.Errorf("scan order: %w", err)
	}

	if userID != nil {
		o.Identity.UserID = *userID
	}
	if guestID != nil {
		o.Identity.GuestID = *guestID
	}
	if err := json.Unmarshal(shippingJSON, &o.ShippingAddress); err != nil {
		return nil, fmt.Errorf("unmarshal shipping address: %w", err)
	}
	if err := json.Unmarshal(billingJSON, &o.BillingAddress); err != nil {
		return nil, fmt.Errorf("unmarshal billing address: %w", err)
	}
	if len(gatewayJSON) > 0 {
		o.PaymentGatewayResponse = json.RawMessage(gatewayJSON)
	}

	if o.Items, err = r.loadItems(ctx, id); err != nil {
		return nil, err
	}
	if o.History, err = r.loadHistory(ctx, id); err != nil {
		return nil, err
	}
	return &o, nil
}

func (r *OrderRepository) loadItems(ctx context.Context, orderID string) ([]domain.OrderItem, error) {
	query := `
		SELECT id, order_id, product_id, name, sku, quantity, unit_price, total_price, selected_variants
		FROM order_items
		WHERE order_id = $1
		ORDER BY id`

	rows, err := r.pool.Query(ctx, query, orderID)
	if err != nil {
		return nil, fmt.Errorf("query order items: %w", err)
	}
	defer rows.Close()

	items := make([]domain.OrderItem, 0)
	for rows.Next() {
		var (
			item         domain.OrderItem
			variantsJSON []byte
		)
		if err := rows.Scan(
			&item.ID,
			&item.OrderID,
			&item.ProductID,
			&item.Name,
			&item.SKU,
			&item.Quantity,
			&item.UnitPrice,
			&item.TotalPrice,
			&variantsJSON,
		); err != nil {
			return nil, fmt.Errorf("scan order item: %w", err)
		}
		if len(variantsJSON) > 0 {
			if err := json.Unmarshal(variantsJSON, &item.SelectedVariants); err != nil {
				return nil, fmt.Errorf("unmarshal selected variants: %w", err)
			}
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate order item rows: %w", err)
	}
	return items, nil
}

func (r *OrderRepository) loadHistory(ctx context.Context, orderID string) ([]domain.StatusHistory, error) {
	query := `
		SELECT id, order_id, previous_status, new_status, actor, notes, created_at
		FROM order_status_history
		WHERE order_id = $1
		ORDER BY created_at, id`

	rows, err := r.pool.Query(ctx, query, orderID)
	if err != nil {
		return nil, fmt.Errorf("query order status history: %w", err)
	}
	defer rows.Close()

	history := make([]domain.StatusHistory, 0)
	for rows.Next() {
		var (
			h        domain.StatusHistory
			previous *string
		)
		if err := rows.Scan(&h.ID, &h.OrderID, &previous, &h.NewStatus, &h.Actor, &h.Notes, &h.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan order status history: %w", err)
		}
		if previous != nil {
			s := domain.OrderStatus(*previous)
			h.PreviousStatus = &s
		}
		history = append(history, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate order status history rows: %w", err)
	}
	return history, nil
}

// SetTrackingNumber records the carrier tracking number of an order.
func (r *OrderRepository) SetTrackingNumber(ctx context.Context, id, trackingNumber string) error {
	ct, err := r.pool.Exec(ctx,
		`UPDATE orders SET tracking_number = $1, updated_at = $2 WHERE id = $3`,
		trackingNumber, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("set tracking number: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return apperrors.NotFound("order", id)
	}
	return nil
}

// UpdatePaymentStatus changes the payment status of an order.
func (r *OrderRepository) UpdatePaymentStatus(ctx context.Context, id string, status domain.PaymentStatus) error {
	ct, err := r.pool.Exec(ctx,
		`UPDATE orders SET payment_status = $1, updated_at = $2 WHERE id = $3`,
		status, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("update payment status: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return apperrors.NotFound("order", id)
	}
	return nil
}

// lockOrder reads the mutable columns of an order under a row lock.
func lockOrder(ctx context.Context, db database.DBTX, id string) (*domain.Order, error) {
	query := `
		SELECT id, order_number, status, payment_status, payment_method, payment_transaction_id, total_amount
		FROM orders
		WHERE id = $1
		FOR UPDATE`

	var o domain.Order
	err := db.QueryRow(ctx, query, id).Scan(
		&o.ID,
		&o.OrderNumber,
		&o.Status,
		&o.PaymentStatus,
		&o.PaymentMethod,
		&o.PaymentTransactionID,
		&o.TotalAmount,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NotFound("order", id)
		}
		return nil, fmt.Errorf("lock order: %w", err)
	}
	return &o, nil
}

func updateOrderStatus(ctx context.Context, db database.DBTX, orderID string, h *domain.StatusHistory) error {
	ct, err := db.Exec(ctx,
		`UPDATE orders SET status = $1, updated_at = $2 WHERE id = $3`,
		h.NewStatus, h.CreatedAt, orderID)
	if err != nil {
		return fmt.Errorf("update order status: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return apperrors.NotFound("order", orderID)
	}
	return insertHistory(ctx, db, h)
}
