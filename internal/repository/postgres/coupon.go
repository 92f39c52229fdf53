package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/utafrali/storefront/internal/domain"
	"github.com/utafrali/storefront/pkg/database"
	apperrors "github.com/utafrali/storefront/pkg/errors"
)

// CouponRepository implements repository.CouponRepository using PostgreSQL.
type CouponRepository struct {
	pool database.DBTX
}

// NewCouponRepository creates a new PostgreSQL-backed coupon repository.
func NewCouponRepository(pool database.DBTX) *CouponRepository {
	return &CouponRepository{pool: pool}
}

// GetByCode retrieves a coupon by code, ignoring case.
func (r *CouponRepository) GetByCode(ctx context.Context, code string) (*domain.Coupon, error) {
	query := `
		SELECT id, code, type, value, active, start_date, end_date, usage_count, usage_limit,
			minimum_amount, maximum_discount, applicable_products, applicable_categories
		FROM coupons
		WHERE UPPER(code) = UPPER($1)`

	var c domain.Coupon
	err := r.pool.QueryRow(ctx, query, code).Scan(
		&c.ID,
		&c.Code,
		&c.Type,
		&c.Value,
		&c.Active,
		&c.StartDate,
		&c.EndDate,
		&c.UsageCount,
		&c.UsageLimit,
		&c.MinimumAmount,
		&c.MaximumDiscount,
		&c.ApplicableProducts,
		&c.ApplicableCategories,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NotFound("coupon", code)
		}
		return nil, fmt.Errorf("scan coupon: %w", err)
	}
	return &c, nil
}

// incrementCouponUsage counts one use of a coupon. The update only matches
// while the coupon is under its limit, so concurrent confirmations cannot
// push usage past it.
func incrementCouponUsage(ctx context.Context, db database.DBTX, couponID string) error {
	query := `
		UPDATE coupons SET usage_count = usage_count + 1, updated_at = NOW()
		WHERE id = $1 AND (usage_limit IS NULL OR usage_count < usage_limit)`

	ct, err := db.Exec(ctx, query, couponID)
	if err != nil {
		return fmt.Errorf("increment coupon usage: %w", err)
	}
	if ct.RowsAffected() > 0 {
		return nil
	}

	var code string
	var limit *int
	err = db.QueryRow(ctx, `SELECT code, usage_limit FROM coupons WHERE id = $1`, couponID).Scan(&code, &limit)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return apperrors.NotFound("coupon", couponID)
		}
		return fmt.Errorf("load coupon usage limit: %w", err)
	}
	if limit == nil {
		return fmt.Errorf("coupon %s usage was not incremented", couponID)
	}
	return domain.CouponUsageExceededError(code, *limit)
}
