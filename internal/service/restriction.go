package service

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/utafrali/storefront/internal/domain"
	"github.com/utafrali/storefront/internal/repository"
)

// RestrictionService answers whether product categories may ship to a state.
type RestrictionService struct {
	repo   repository.RestrictionRepository
	logger *slog.Logger
}

// NewRestrictionService creates a new restriction service.
func NewRestrictionService(repo repository.RestrictionRepository, logger *slog.Logger) *RestrictionService {
	return &RestrictionService{
		repo:   repo,
		logger: logger,
	}
}

// IsRestrictedInState reports whether any of categoryIDs is restricted in
// state and lists the restrictions that matched.
func (s *RestrictionService) IsRestrictedInState(ctx context.Context, categoryIDs []string, state string) (*domain.RestrictionResult, error) {
	state = strings.ToUpper(strings.TrimSpace(state))
	if len(categoryIDs) == 0 || state == "" {
		return &domain.RestrictionResult{}, nil
	}

	restrictions, err := s.repo.ListForCategories(ctx, categoryIDs, state)
	if err != nil {
		return nil, fmt.Errorf("list restrictions for state %s: %w", state, err)
	}

	return &domain.RestrictionResult{
		IsRestricted:         len(restrictions) > 0,
		RestrictedCategories: restrictions,
	}, nil
}

// EnsureShippable fails with ShippingRestricted naming every item whose
// categories are restricted at the destination. A nil destination or one
// without a state passes.
func (s *RestrictionService) EnsureShippable(ctx context.Context, items []domain.CheckoutItem, destination *domain.Address) error {
	state := destination.StateCode()
	if state == "" {
		return nil
	}

	categories := categoryIDs(items)
	result, err := s.IsRestrictedInState(ctx, categories, state)
	if err != nil {
		return err
	}
	if !result.IsRestricted {
		return nil
	}

	restricted := make(map[string]struct{}, len(result.RestrictedCategories))
	var reasons []string
	for _, r := range result.RestrictedCategories {
		restricted[r.CategoryID] = struct{}{}
		if r.Message != "" && !slices.Contains(reasons, r.Message) {
			reasons = append(reasons, r.Message)
		}
	}

	var names []string
	for _, it := range items {
		if slices.ContainsFunc(it.CategoryIDs, func(c string) bool {
			_, ok := restricted[c]
			return ok
		}) {
			names = append(names, it.Name)
		}
	}

	s.logger.InfoContext(ctx, "shipping restricted",
		slog.String("state", state),
		slog.String("products", strings.Join(names, ", ")),
	)

	return domain.ShippingRestrictedError(state, names, reasons)
}

// categoryIDs returns the distinct category IDs of items in first-seen order.
func categoryIDs(items []domain.CheckoutItem) []string {
	session := domain.CheckoutSession{Items: items}
	return session.CategoryIDs()
}
