package postgres

import (
	"context"
	"fmt"

	"github.com/utafrali/storefront/internal/domain"
	"github.com/utafrali/storefront/pkg/database"
)

// CartRepository implements repository.CartRepository using PostgreSQL.
type CartRepository struct {
	pool database.DBTX
}

// NewCartRepository creates a new PostgreSQL-backed cart repository.
func NewCartRepository(pool database.DBTX) *CartRepository {
	return &CartRepository{pool: pool}
}

// identityClause returns the WHERE fragment and argument selecting the
// identity's cart rows.
func identityClause(id domain.Identity) (string, string) {
	if id.IsGuest() {
		return "guest_id = $1", id.GuestID
	}
	return "user_id = $1", id.UserID
}

// ActiveLines returns the identity's cart lines, oldest first.
func (r *CartRepository) ActiveLines(ctx context.Context, id domain.Identity) ([]domain.CartLine, error) {
	where, arg := identityClause(id)
	query := `
		SELECT product_id, quantity, selected_variants
		FROM cart_items
		WHERE ` + where + `
		ORDER BY created_at, id`

	rows, err := r.pool.Query(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("query cart items: %w", err)
	}
	defer rows.Close()

	lines := make([]domain.CartLine, 0)
	for rows.Next() {
		var l domain.CartLine
		if err := rows.Scan(&l.ProductID, &l.Quantity, &l.SelectedVariants); err != nil {
			return nil, fmt.Errorf("scan cart item: %w", err)
		}
		lines = append(lines, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate cart item rows: %w", err)
	}
	return lines, nil
}

func clearCart(ctx context.Context, db database.DBTX, id domain.Identity) error {
	where, arg := identityClause(id)
	if _, err := db.Exec(ctx, `DELETE FROM cart_items WHERE `+where, arg); err != nil {
		return fmt.Errorf("clear cart: %w", err)
	}
	return nil
}
