package postgres

import (
	"context"
	"fmt"

	"github.com/utafrali/storefront/internal/domain"
	"github.com/utafrali/storefront/pkg/database"
)

// RestrictionRepository implements repository.RestrictionRepository using
// PostgreSQL.
type RestrictionRepository struct {
	pool database.DBTX
}

// NewRestrictionRepository creates a new PostgreSQL-backed restriction repository.
func NewRestrictionRepository(pool database.DBTX) *RestrictionRepository {
	return &RestrictionRepository{pool: pool}
}

// ListForCategories returns the restrictions of categoryIDs in state.
func (r *RestrictionRepository) ListForCategories(ctx context.Context, categoryIDs []string, state string) ([]domain.Restriction, error) {
	restrictions := make([]domain.Restriction, 0)
	if len(categoryIDs) == 0 || state == "" {
		return restrictions, nil
	}

	query := `
		SELECT category_id, state, message
		FROM category_state_restrictions
		WHERE category_id = ANY($1) AND UPPER(state) = UPPER($2)
		ORDER BY category_id`

	rows, err := r.pool.Query(ctx, query, categoryIDs, state)
	if err != nil {
		return nil, fmt.Errorf("query restrictions: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var res domain.Restriction
		if err := rows.Scan(&res.CategoryID, &res.State, &res.Message); err != nil {
			return nil, fmt.Errorf("scan restriction: %w", err)
		}
		restrictions = append(restrictions, res)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate restriction rows: %w", err)
	}
	return restrictions, nil
}
