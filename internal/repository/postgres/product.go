package postgres

import (
	"context"
	"fmt"
	"slices"

	"github.com/utafrali/storefront/internal/domain"
	"github.com/utafrali/storefront/pkg/database"
	apperrors "github.com/utafrali/storefront/pkg/errors"
)

// ProductRepository implements repository.ProductRepository using PostgreSQL.
type ProductRepository struct {
	pool database.DBTX
}

// NewProductRepository creates a new PostgreSQL-backed product repository.
func NewProductRepository(pool database.DBTX) *ProductRepository {
	return &ProductRepository{pool: pool}
}

// GetByID retrieves a single product with its categories and attribute values.
func (r *ProductRepository) GetByID(ctx context.Context, id string) (*domain.Product, error) {
	products, err := r.GetByIDs(ctx, []string{id})
	if err != nil {
		return nil, err
	}
	p, ok := products[id]
	if !ok {
		return nil, apperrors.NotFound("product", id)
	}
	return p, nil
}

// GetByIDs loads products, then batch-loads categories and attribute values
// for all of them in one query each.
func (r *ProductRepository) GetByIDs(ctx context.Context, ids []string) (map[string]*domain.Product, error) {
	products := make(map[string]*domain.Product, len(ids))
	if len(ids) == 0 {
		return products, nil
	}

	query := `
		SELECT id, name, sku, published, approved, stock, regular_price, sale_price
		FROM products
		WHERE id = ANY($1)`

	rows, err := r.pool.Query(ctx, query, ids)
	if err != nil {
		return nil, fmt.Errorf("query products: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var p domain.Product
		if err := rows.Scan(
			&p.ID,
			&p.Name,
			&p.SKU,
			&p.Published,
			&p.Approved,
			&p.Stock,
			&p.RegularPrice,
			&p.SalePrice,
		); err != nil {
			return nil, fmt.Errorf("scan product row: %w", err)
		}
		p.CategoryIDs = []string{}
		products[p.ID] = &p
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate product rows: %w", err)
	}

	if len(products) == 0 {
		return products, nil
	}

	found := make([]string, 0, len(products))
	for id := range products {
		found = append(found, id)
	}
	slices.Sort(found)

	if err := r.loadCategories(ctx, found, products); err != nil {
		return nil, err
	}
	if err := r.loadAttributes(ctx, found, products); err != nil {
		return nil, err
	}
	return products, nil
}

func (r *ProductRepository) loadCategories(ctx context.Context, ids []string, products map[string]*domain.Product) error {
	query := `
		SELECT product_id, category_id
		FROM product_categories
		WHERE product_id = ANY($1)
		ORDER BY product_id, category_id`

	rows, err := r.pool.Query(ctx, query, ids)
	if err != nil {
		return fmt.Errorf("query product categories: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var productID, categoryID string
		if err := rows.Scan(&productID, &categoryID); err != nil {
			return fmt.Errorf("scan product category: %w", err)
		}
		if p, ok := products[productID]; ok {
			p.CategoryIDs = append(p.CategoryIDs, categoryID)
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate product category rows: %w", err)
	}
	return nil
}

func (r *ProductRepository) loadAttributes(ctx context.Context, ids []string, products map[string]*domain.Product) error {
	query := `
		SELECT id, product_id, attribute_id, name, value, price
		FROM product_attribute_values
		WHERE product_id = ANY($1)
		ORDER BY product_id, name, value`

	rows, err := r.pool.Query(ctx, query, ids)
	if err != nil {
		return fmt.Errorf("query product attribute values: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			av        domain.AttributeValue
			productID string
		)
		if err := rows.Scan(&av.ID, &productID, &av.AttributeID, &av.Name, &av.Value, &av.Price); err != nil {
			return fmt.Errorf("scan product attribute value: %w", err)
		}
		if p, ok := products[productID]; ok {
			p.Attributes = append(p.Attributes, av)
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate product attribute value rows: %w", err)
	}
	return nil
}
