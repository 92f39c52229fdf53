package postgres

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/jackc/pgx/v5"

	"github.com/utafrali/storefront/internal/domain"
	"github.com/utafrali/storefront/pkg/database"
)

type stockDemand struct {
	productID string
	name      string
	quantity  int
}

// aggregateDemand sums quantities per product and orders the result by
// product ID so concurrent transactions lock rows in the same order.
func aggregateDemand(items []domain.OrderItem) []stockDemand {
	byID := make(map[string]*stockDemand, len(items))
	for _, it := range items {
		d, ok := byID[it.ProductID]
		if !ok {
			d = &stockDemand{productID: it.ProductID, name: it.Name}
			byID[it.ProductID] = d
		}
		d.quantity += it.Quantity
	}

	demand := make([]stockDemand, 0, len(byID))
	for _, d := range byID {
		demand = append(demand, *d)
	}
	slices.SortFunc(demand, func(a, b stockDemand) int {
		switch {
		case a.productID < b.productID:
			return -1
		case a.productID > b.productID:
			return 1
		}
		return 0
	})
	return demand
}

func decrementStock(ctx context.Context, db database.DBTX, items []domain.OrderItem) (err error) {
	ctx, end := database.TraceQuery(ctx, "DecrementStock", "SELECT stock FROM products FOR UPDATE")
	defer func() { end(err) }()

	for _, d := range aggregateDemand(items) {
		var stock int
		err := db.QueryRow(ctx, `SELECT stock FROM products WHERE id = $1 FOR UPDATE`, d.productID).Scan(&stock)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return domain.ProductUnavailableError(d.productID, d.name)
			}
			return fmt.Errorf("lock product %s: %w", d.productID, err)
		}
		if stock < d.quantity {
			return domain.InsufficientStockError(d.productID, d.name, d.quantity, stock)
		}

		if _, err := db.Exec(ctx, `
			UPDATE products
			SET stock = stock - $1, num_of_sales = num_of_sales + $1, updated_at = NOW()
			WHERE id = $2`,
			d.quantity, d.productID,
		); err != nil {
			return fmt.Errorf("decrement stock of %s: %w", d.productID, err)
		}
	}
	return nil
}
