package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/utafrali/storefront/internal/domain"
	"github.com/utafrali/storefront/internal/repository"
	apperrors "github.com/utafrali/storefront/pkg/errors"
)

// CouponService validates coupons against checkout items and computes their
// discounts. Usage counters are only touched by order confirmation.
type CouponService struct {
	repo   repository.CouponRepository
	logger *slog.Logger
	now    func() time.Time
}

// NewCouponService creates a new coupon service.
func NewCouponService(repo repository.CouponRepository, logger *slog.Logger) *CouponService {
	return &CouponService{
		repo:   repo,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Validate looks up code and runs the validity rules against items. An
// unknown code fails InvalidCoupon.
func (s *CouponService) Validate(ctx context.Context, code string, items []domain.CheckoutItem) (*domain.Coupon, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		return nil, apperrors.InvalidInput("coupon code is required")
	}

	coupon, err := s.repo.GetByCode(ctx, code)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil, domain.InvalidCouponError(code, "does not exist")
		}
		return nil, fmt.Errorf("get coupon %s: %w", code, err)
	}

	if err := coupon.Check(s.now(), items); err != nil {
		s.logger.InfoContext(ctx, "coupon rejected",
			slog.String("code", coupon.Code),
			slog.String("reason", err.Error()),
		)
		return nil, err
	}
	return coupon, nil
}

// Discount computes the discount coupon grants on items.
func (s *CouponService) Discount(coupon *domain.Coupon, items []domain.CheckoutItem) decimal.Decimal {
	return coupon.Discount(items)
}
